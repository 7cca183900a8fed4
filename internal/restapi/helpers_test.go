package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"bustracker.campus.org/internal/app"
	"bustracker.campus.org/internal/appconf"
	"bustracker.campus.org/internal/clock"
	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/metrics"
	"bustracker.campus.org/internal/models"
	"bustracker.campus.org/internal/tracking"
	"bustracker.campus.org/trackdb"
)

var testStart = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

type testOptions struct {
	clock     clock.Clock
	rateLimit int
}

func createTestApi(t *testing.T) *RestAPI {
	return createTestApiWithOptions(t, testOptions{})
}

func createTestApiWithClock(t *testing.T, c clock.Clock) *RestAPI {
	return createTestApiWithOptions(t, testOptions{clock: c})
}

// createTestApiWithOptions seeds route R1 with stops S1 (0,0) and S2 (0,0.01),
// buses B1/D1 and B2/D2 on R1, and inactive bus B3.
func createTestApiWithOptions(t *testing.T, opts testOptions) *RestAPI {
	t.Helper()

	db, err := trackdb.NewClient(trackdb.NewConfig(":memory:", appconf.Test, false))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	_, err = db.Queries.CreateRoute(ctx, trackdb.CreateRouteParams{ID: "R1", Name: "Campus Loop", Color: "0033A0"})
	require.NoError(t, err)
	for _, s := range []trackdb.CreateStopParams{
		{ID: "S1", RouteID: "R1", Name: "Main Gate", Lat: 0, Lng: 0, StopOrder: 1},
		{ID: "S2", RouteID: "R1", Name: "Library", Lat: 0, Lng: 0.01, StopOrder: 2},
	} {
		_, err := db.Queries.CreateStop(ctx, s)
		require.NoError(t, err)
	}
	for _, b := range []trackdb.CreateBusParams{
		{ID: "B1", Label: "Loop 1", Capacity: 40, Active: 1, DriverID: trackdb.ToNullString("D1"), RouteID: trackdb.ToNullString("R1")},
		{ID: "B2", Label: "Loop 2", Capacity: 40, Active: 1, DriverID: trackdb.ToNullString("D2"), RouteID: trackdb.ToNullString("R1")},
		{ID: "B3", Label: "Spare", Capacity: 20, Active: 0, DriverID: trackdb.ToNullString("D3")},
	} {
		_, err := db.Queries.CreateBus(ctx, b)
		require.NoError(t, err)
	}

	c := opts.clock
	if c == nil {
		c = clock.NewMockClock(testStart)
	}
	rateLimit := opts.rateLimit
	if rateLimit == 0 {
		rateLimit = 100
	}

	m := metrics.New()
	h := hub.New(c, m, nil)
	tr := tracking.New(db, h, c, m, nil, tracking.Config{
		StaleAfter:       5 * time.Minute,
		AutoStopAfter:    30 * time.Minute,
		SpeedHistorySize: 10,
	})
	h.SetStatusSource(tr)

	api := NewRestAPI(&app.Application{
		Config: appconf.Config{
			Env:              appconf.Test,
			ApiKeys:          []string{"TEST"},
			AdminKeys:        []string{"ADMIN"},
			RateLimit:        rateLimit,
			StaleAfter:       5 * time.Minute,
			AutoStopAfter:    30 * time.Minute,
			SpeedHistorySize: 10,
		},
		DB:      db,
		Tracker: tr,
		Hub:     h,
		Clock:   c,
		Metrics: m,
	})
	t.Cleanup(api.Shutdown)
	return api
}

func serveApi(t *testing.T, api *RestAPI) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	api.SetRoutes(mux)
	server := httptest.NewServer(RequestIDMiddleware(mux))
	t.Cleanup(server.Close)
	return server
}

// serveApiAndRetrieveEndpoint performs a request and decodes the envelope.
func serveApiAndRetrieveEndpoint(t *testing.T, server *httptest.Server, method, path string, body any) (*http.Response, models.ResponseModel) {
	t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, server.URL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	var model models.ResponseModel
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&model))
	return resp, model
}

func entryOf(t *testing.T, model models.ResponseModel) map[string]any {
	t.Helper()
	data, ok := model.Data.(map[string]any)
	require.True(t, ok, "data is not an object: %T", model.Data)
	entry, ok := data["entry"].(map[string]any)
	require.True(t, ok, "entry is not an object: %T", data["entry"])
	return entry
}

func listOf(t *testing.T, model models.ResponseModel) []any {
	t.Helper()
	data, ok := model.Data.(map[string]any)
	require.True(t, ok, "data is not an object: %T", model.Data)
	list, ok := data["list"].([]any)
	require.True(t, ok, "list is not an array: %T", data["list"])
	return list
}

func fieldErrorsOf(t *testing.T, model models.ResponseModel) map[string]any {
	t.Helper()
	data, ok := model.Data.(map[string]any)
	require.True(t, ok)
	fields, ok := data["fieldErrors"].(map[string]any)
	require.True(t, ok)
	return fields
}

type position struct {
	BusID     string   `json:"busId"`
	DriverID  string   `json:"driverId"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	SpeedKmh  *float64 `json:"speedKmh,omitempty"`
}

func ptr(f float64) *float64 { return &f }

// captureObserver records what the hub delivers to it.
type captureObserver struct {
	id     string
	mu     sync.Mutex
	events []hub.Event
}

func (o *captureObserver) ID() string { return o.id }

func (o *captureObserver) Send(ev hub.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, ev)
	return nil
}

func (o *captureObserver) received() []hub.Event {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]hub.Event(nil), o.events...)
}
