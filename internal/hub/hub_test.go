package hub

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bustracker.campus.org/internal/clock"
	"bustracker.campus.org/internal/metrics"
)

var errUnknownBus = errors.New("bus not found")

type fakeObserver struct {
	id   string
	fail bool

	mu     sync.Mutex
	events []Event
}

func (f *fakeObserver) ID() string { return f.id }

func (f *fakeObserver) Send(ev Event) error {
	if f.fail {
		return errors.New("connection closed")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeObserver) received() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, len(f.events))
	copy(out, f.events)
	return out
}

type fakeSource struct {
	views map[string]any
}

func (s fakeSource) SnapshotTo(_ context.Context, busID string, deliver func(any)) error {
	v, ok := s.views[busID]
	if !ok {
		return errUnknownBus
	}
	deliver(v)
	return nil
}

type fakeRelay struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *fakeRelay) Name() string { return "fake" }

func (r *fakeRelay) Relay(ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

var testNow = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func newTestHub(t *testing.T) (*Hub, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	h := New(clock.NewMockClock(testNow), m, nil)
	h.SetStatusSource(fakeSource{views: map[string]any{
		"B1": map[string]any{"busId": "B1", "isSharing": true},
		"B2": map[string]any{"busId": "B2", "isSharing": false},
	}})
	return h, m
}

func TestSubscribe_SendsSnapshot(t *testing.T) {
	h, _ := newTestHub(t)
	o := &fakeObserver{id: "o1"}
	h.Register(o, Identity{Key: "k1", Role: "passenger"})

	require.NoError(t, h.Subscribe(context.Background(), o, "B2"))

	events := o.received()
	require.Len(t, events, 1)
	assert.Equal(t, EventLocationSnapshot, events[0].Name)
	assert.Equal(t, "B2", events[0].BusID)
	assert.Equal(t, false, events[0].Data.(map[string]any)["isSharing"])
	assert.Equal(t, testNow, events[0].Timestamp)
	assert.Equal(t, 1, h.SubscriberCount("B2"))

	id, ok := h.IdentityOf("o1")
	require.True(t, ok)
	assert.Equal(t, "passenger", id.Role)
}

func TestSubscribe_UnknownBus(t *testing.T) {
	h, _ := newTestHub(t)
	o := &fakeObserver{id: "o1"}

	err := h.Subscribe(context.Background(), o, "B404")
	require.ErrorIs(t, err, errUnknownBus)
	assert.Empty(t, o.received())
	assert.Equal(t, 0, h.SubscriberCount("B404"))
	assert.Empty(t, h.InterestSets())
}

func TestSubscribe_WithoutSource(t *testing.T) {
	h := New(clock.NewMockClock(testNow), metrics.New(), nil)
	err := h.Subscribe(context.Background(), &fakeObserver{id: "o1"}, "B1")
	assert.ErrorIs(t, err, ErrNoStatusSource)
}

func TestPublish_BusScope(t *testing.T) {
	h, m := newTestHub(t)
	ctx := context.Background()
	follower := &fakeObserver{id: "follower"}
	other := &fakeObserver{id: "other"}
	require.NoError(t, h.Subscribe(ctx, follower, "B1"))
	require.NoError(t, h.Subscribe(ctx, other, "B2"))

	h.Publish(Event{Name: EventLocationUpdate, BusID: "B1", Scope: ScopeBus("B1")})

	assert.Len(t, follower.received(), 2)
	assert.Equal(t, EventLocationUpdate, follower.received()[1].Name)
	assert.Len(t, other.received(), 1, "only the snapshot")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HubEventsTotal.WithLabelValues(EventLocationUpdate)))
}

func TestPublish_AllScopeReachesUnsubscribedObservers(t *testing.T) {
	h, _ := newTestHub(t)
	a := &fakeObserver{id: "a"}
	b := &fakeObserver{id: "b"}
	h.Register(a, Identity{})
	h.Register(b, Identity{})

	h.Publish(Event{Name: EventAnnouncement, Data: Announcement{Message: "Service ends early"}, Scope: ScopeAll()})

	require.Len(t, a.received(), 1)
	require.Len(t, b.received(), 1)
	assert.Equal(t, "Service ends early", a.received()[0].Data.(Announcement).Message)
}

func TestPublish_DropsFailingObserver(t *testing.T) {
	h, m := newTestHub(t)
	ctx := context.Background()
	good := &fakeObserver{id: "good"}
	bad := &fakeObserver{id: "bad"}
	require.NoError(t, h.Subscribe(ctx, good, "B1"))
	require.NoError(t, h.Subscribe(ctx, bad, "B1"))
	bad.fail = true

	assert.NotPanics(t, func() {
		h.Publish(Event{Name: EventLocationUpdate, BusID: "B1", Scope: ScopeBus("B1")})
	})

	assert.Equal(t, 1, h.SubscriberCount("B1"))
	assert.Equal(t, 1, h.ObserverCount())
	assert.Equal(t, float64(1), testutil.ToFloat64(m.DeliveryFailuresTotal))
	assert.Len(t, good.received(), 2)
}

func TestUnsubscribe_PrunesEmptySets(t *testing.T) {
	h, _ := newTestHub(t)
	o := &fakeObserver{id: "o1"}
	require.NoError(t, h.Subscribe(context.Background(), o, "B1"))

	h.Unsubscribe(o, "B1")

	assert.Empty(t, h.InterestSets())
	assert.Empty(t, h.Subscriptions("o1"))
	assert.Equal(t, 1, h.ObserverCount(), "unsubscribe keeps the registration")
}

func TestDisconnect_CleansAllInterestSets(t *testing.T) {
	h, m := newTestHub(t)
	ctx := context.Background()
	o := &fakeObserver{id: "o1"}
	keep := &fakeObserver{id: "o2"}
	h.Register(o, Identity{Key: "k"})
	require.NoError(t, h.Subscribe(ctx, o, "B1"))
	require.NoError(t, h.Subscribe(ctx, o, "B2"))
	require.NoError(t, h.Subscribe(ctx, keep, "B2"))

	h.Disconnect(o)

	assert.Equal(t, map[string]int{"B2": 1}, h.InterestSets())
	_, ok := h.IdentityOf("o1")
	assert.False(t, ok)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Observers))

	h.Disconnect(o)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Observers), "second disconnect is a no-op")
}

func TestPublish_Relays(t *testing.T) {
	h, m := newTestHub(t)
	ok := &fakeRelay{}
	broken := &fakeRelay{err: errors.New("nats down")}
	h.AddRelay(ok)
	h.AddRelay(broken)

	h.Publish(Event{Name: EventEmergencyAlert, Scope: ScopeAll()})

	require.Len(t, ok.events, 1)
	assert.Equal(t, testNow, ok.events[0].Timestamp)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RelayFailuresTotal.WithLabelValues("fake")))
}

func TestReply_SingleObserver(t *testing.T) {
	h, _ := newTestHub(t)
	a := &fakeObserver{id: "a"}
	b := &fakeObserver{id: "b"}
	h.Register(a, Identity{})
	h.Register(b, Identity{})

	h.Reply(a, Event{Name: EventLocationSharingStatus, BusID: "B1", RequestID: "r1"})

	require.Len(t, a.received(), 1)
	assert.Equal(t, "r1", a.received()[0].RequestID)
	assert.Empty(t, b.received())
}

func TestConcurrentPublishAndSubscribe(t *testing.T) {
	h, _ := newTestHub(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		o := &fakeObserver{id: string(rune('a' + i))}
		go func() {
			defer wg.Done()
			_ = h.Subscribe(ctx, o, "B1")
			h.Disconnect(o)
		}()
		go func() {
			defer wg.Done()
			h.Publish(Event{Name: EventLocationUpdate, BusID: "B1", Scope: ScopeBus("B1")})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.ObserverCount())
	assert.Empty(t, h.InterestSets())
}
