// Package hub fans tracker events out to connected observers.
//
// Observers register once, then subscribe to the buses they care about.
// Publishing is best-effort: an observer whose Send fails is disconnected and
// forgotten, and the publisher never sees the failure.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"bustracker.campus.org/internal/clock"
	"bustracker.campus.org/internal/logging"
	"bustracker.campus.org/internal/metrics"
)

// Observer is a connection that can receive events.
type Observer interface {
	ID() string
	Send(Event) error
}

// Identity is what the transport learned about an observer when it connected.
type Identity struct {
	Key  string
	Role string
}

// StatusSource provides the current view of a bus for subscription snapshots.
// SnapshotTo calls deliver with the view while no update for busID can be
// published.
type StatusSource interface {
	SnapshotTo(ctx context.Context, busID string, deliver func(any)) error
}

// Relay forwards every published event to another system.
type Relay interface {
	Name() string
	Relay(Event) error
}

var ErrNoStatusSource = errors.New("hub has no status source")

type registration struct {
	observer Observer
	identity Identity
	buses    map[string]struct{}
}

type Hub struct {
	mu        sync.RWMutex
	observers map[string]*registration
	interest  map[string]map[string]Observer

	source  StatusSource
	relays  []Relay
	clock   clock.Clock
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(c clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		observers: make(map[string]*registration),
		interest:  make(map[string]map[string]Observer),
		clock:     c,
		metrics:   m,
		logger:    logger.With(slog.String("component", "hub")),
	}
}

// SetStatusSource wires the snapshot provider. The tracker publishes into the
// hub and serves its snapshots, so one of the two is attached after construction.
func (h *Hub) SetStatusSource(src StatusSource) {
	h.mu.Lock()
	h.source = src
	h.mu.Unlock()
}

// AddRelay attaches a relay that receives every published event.
func (h *Hub) AddRelay(r Relay) {
	h.mu.Lock()
	h.relays = append(h.relays, r)
	h.mu.Unlock()
}

// Register records an observer and its identity. Registering again replaces
// the identity and keeps existing subscriptions.
func (h *Hub) Register(o Observer, identity Identity) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.registerLocked(o, identity)
}

func (h *Hub) registerLocked(o Observer, identity Identity) *registration {
	reg, ok := h.observers[o.ID()]
	if ok {
		reg.identity = identity
		reg.observer = o
		return reg
	}
	reg = &registration{observer: o, identity: identity, buses: make(map[string]struct{})}
	h.observers[o.ID()] = reg
	h.metrics.Observers.Inc()
	return reg
}

// IdentityOf returns the identity an observer registered with.
func (h *Hub) IdentityOf(observerID string) (Identity, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	reg, ok := h.observers[observerID]
	if !ok {
		return Identity{}, false
	}
	return reg.identity, true
}

// Subscribe adds busID to the observer's interest set and sends it a
// locationSnapshot of the bus. An unknown bus leaves the interest set unchanged
// and returns the source's error. Every update the observer receives after the
// snapshot is newer than it.
func (h *Hub) Subscribe(ctx context.Context, o Observer, busID string) error {
	h.mu.Lock()
	src := h.source
	if src == nil {
		h.mu.Unlock()
		return ErrNoStatusSource
	}
	reg := h.registerLocked(o, h.identityLocked(o.ID()))
	_, already := reg.buses[busID]
	reg.buses[busID] = struct{}{}
	set, ok := h.interest[busID]
	if !ok {
		set = make(map[string]Observer)
		h.interest[busID] = set
	}
	set[o.ID()] = o
	h.mu.Unlock()

	var sendErr error
	err := src.SnapshotTo(ctx, busID, func(snapshot any) {
		sendErr = o.Send(Event{
			Name:      EventLocationSnapshot,
			BusID:     busID,
			Data:      snapshot,
			Timestamp: h.clock.Now(),
		})
	})
	if err != nil {
		if !already {
			h.Unsubscribe(o, busID)
		}
		return fmt.Errorf("subscribe to bus %s: %w", busID, err)
	}
	if sendErr != nil {
		h.dropObserver(o, sendErr)
		return fmt.Errorf("subscribe to bus %s: %w", busID, sendErr)
	}
	return nil
}

func (h *Hub) identityLocked(id string) Identity {
	if reg, ok := h.observers[id]; ok {
		return reg.identity
	}
	return Identity{}
}

// Unsubscribe removes busID from the observer's interest set.
func (h *Hub) Unsubscribe(o Observer, busID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if reg, ok := h.observers[o.ID()]; ok {
		delete(reg.buses, busID)
	}
	h.removeInterestLocked(o.ID(), busID)
}

func (h *Hub) removeInterestLocked(observerID, busID string) {
	set, ok := h.interest[busID]
	if !ok {
		return
	}
	delete(set, observerID)
	if len(set) == 0 {
		delete(h.interest, busID)
	}
}

// Disconnect forgets the observer entirely.
func (h *Hub) Disconnect(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.observers[o.ID()]
	if !ok {
		return
	}
	for busID := range reg.buses {
		h.removeInterestLocked(o.ID(), busID)
	}
	delete(h.observers, o.ID())
	h.metrics.Observers.Dec()
}

// Publish delivers ev to the observers in its scope and hands it to every
// relay. A zero Timestamp is filled from the hub clock.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
	}

	h.mu.RLock()
	var targets []Observer
	if ev.Scope.All {
		targets = make([]Observer, 0, len(h.observers))
		for _, reg := range h.observers {
			targets = append(targets, reg.observer)
		}
	} else if set, ok := h.interest[ev.Scope.BusID]; ok {
		targets = make([]Observer, 0, len(set))
		for _, o := range set {
			targets = append(targets, o)
		}
	}
	relays := h.relays
	h.mu.RUnlock()

	h.metrics.HubEventsTotal.WithLabelValues(ev.Name).Inc()

	for _, o := range targets {
		if err := o.Send(ev); err != nil {
			h.dropObserver(o, err)
		}
	}

	for _, r := range relays {
		if err := r.Relay(ev); err != nil {
			h.metrics.RelayFailuresTotal.WithLabelValues(r.Name()).Inc()
			logging.LogError(h.logger, "relay failed", err,
				slog.String("relay", r.Name()),
				slog.String("event", ev.Name))
		}
	}
}

// Reply sends ev to a single observer, dropping it if the send fails.
func (h *Hub) Reply(o Observer, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
	}
	if err := o.Send(ev); err != nil {
		h.dropObserver(o, err)
	}
}

func (h *Hub) dropObserver(o Observer, err error) {
	h.metrics.DeliveryFailuresTotal.Inc()
	h.logger.Debug("dropping observer after failed send",
		slog.String("observer", o.ID()),
		slog.String("error", err.Error()))
	h.Disconnect(o)
}

// SubscriberCount reports how many observers follow busID.
func (h *Hub) SubscriberCount(busID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.interest[busID])
}

// ObserverCount reports how many observers are registered.
func (h *Hub) ObserverCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Subscriptions returns the buses an observer follows.
func (h *Hub) Subscriptions(observerID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	reg, ok := h.observers[observerID]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(reg.buses))
	for busID := range reg.buses {
		out = append(out, busID)
	}
	return out
}

// InterestSets returns a copy of the bus to observer-count map.
func (h *Hub) InterestSets() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]int, len(h.interest))
	for busID, set := range h.interest {
		out[busID] = len(set)
	}
	return out
}
