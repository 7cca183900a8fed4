// Package tracking owns the live state of every bus: sharing sessions, the
// latest position, and the next stop and ETA derived from it.
//
// All writes for one bus happen under that bus's lock, so a report always
// derives its next stop and ETA from the coordinate it just wrote, and events
// reach the hub in the same order the store applied them. Different buses
// proceed concurrently.
package tracking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"bustracker.campus.org/internal/clock"
	"bustracker.campus.org/internal/eta"
	"bustracker.campus.org/internal/geo"
	"bustracker.campus.org/internal/hub"
	"bustracker.campus.org/internal/logging"
	"bustracker.campus.org/internal/metrics"
	"bustracker.campus.org/trackdb"
)

// Publisher receives the events produced by state changes.
type Publisher interface {
	Publish(hub.Event)
}

type Config struct {
	// StaleAfter flags a sharing session with no report for this long.
	StaleAfter time.Duration
	// AutoStopAfter ends a session with no report for this long. Zero disables.
	AutoStopAfter    time.Duration
	SpeedHistorySize int
}

type StartRequest struct {
	BusID    string `json:"busId" validate:"required,max=64"`
	DriverID string `json:"driverId" validate:"required,max=64"`
	RouteID  string `json:"routeId,omitempty" validate:"max=64"`
}

type PositionReport struct {
	BusID          string   `json:"busId" validate:"required,max=64"`
	DriverID       string   `json:"driverId" validate:"required,max=64"`
	Latitude       *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude      *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
	SpeedKmh       *float64 `json:"speedKmh,omitempty" validate:"omitempty,gte=0"`
	Heading        *float64 `json:"heading,omitempty" validate:"omitempty,gte=0,lte=360"`
	AccuracyMeters *float64 `json:"accuracyMeters,omitempty" validate:"omitempty,gte=0"`
}

type StopRequest struct {
	BusID    string `json:"busId" validate:"required,max=64"`
	DriverID string `json:"driverId" validate:"required,max=64"`
}

// busState is the in-memory part of a bus, guarded by mu.
type busState struct {
	mu     sync.Mutex
	speeds *eta.SpeedHistory
	trip   string
	primed bool
}

type Tracker struct {
	db        *trackdb.Client
	publisher Publisher
	clock     clock.Clock
	metrics   *metrics.Metrics
	logger    *slog.Logger
	cfg       Config
	validate  *validator.Validate

	statesMu sync.Mutex
	states   map[string]*busState

	index *busIndex
}

func New(db *trackdb.Client, publisher Publisher, c clock.Clock, m *metrics.Metrics, logger *slog.Logger, cfg Config) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpeedHistorySize <= 0 {
		cfg.SpeedHistorySize = 10
	}

	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &Tracker{
		db:        db,
		publisher: publisher,
		clock:     c,
		metrics:   m,
		logger:    logger.With(slog.String("component", "tracker")),
		cfg:       cfg,
		validate:  v,
		states:    make(map[string]*busState),
		index:     newBusIndex(),
	}
}

// lockBus returns the state of busID with its lock held. Callers make sure
// the bus exists first, so unknown ids never grow the state map.
func (t *Tracker) lockBus(busID string) *busState {
	t.statesMu.Lock()
	st, ok := t.states[busID]
	if !ok {
		st = &busState{speeds: eta.NewSpeedHistory(t.cfg.SpeedHistorySize)}
		t.states[busID] = st
	}
	t.statesMu.Unlock()

	st.mu.Lock()
	return st
}

// lockKnownBus loads busID and, when it exists, returns its state locked.
func (t *Tracker) lockKnownBus(ctx context.Context, busID string) (*busState, trackdb.Bus, error) {
	bus, err := t.getBus(ctx, busID)
	if err != nil {
		return nil, bus, err
	}
	return t.lockBus(busID), bus, nil
}

func (t *Tracker) getBus(ctx context.Context, busID string) (trackdb.Bus, error) {
	bus, err := t.db.Queries.GetBus(ctx, busID)
	if errors.Is(err, sql.ErrNoRows) {
		return bus, fmt.Errorf("bus %s: %w", busID, ErrNotFound)
	}
	if err != nil {
		return bus, fmt.Errorf("error loading bus %s: %w", busID, err)
	}
	return bus, nil
}

// getLive returns the live row of busID, or ok=false when none exists.
func (t *Tracker) getLive(ctx context.Context, busID string) (trackdb.LiveLocation, bool, error) {
	live, err := t.db.Queries.GetLiveLocation(ctx, busID)
	if errors.Is(err, sql.ErrNoRows) {
		return live, false, nil
	}
	if err != nil {
		return live, false, fmt.Errorf("error loading live location of bus %s: %w", busID, err)
	}
	return live, true, nil
}

// StartSharing opens a sharing session and a trip for a bus.
func (t *Tracker) StartSharing(ctx context.Context, req StartRequest) (View, error) {
	if err := t.validate.Struct(req); err != nil {
		return View{}, newValidationError(err)
	}

	st, bus, err := t.lockKnownBus(ctx, req.BusID)
	if err != nil {
		return View{}, err
	}
	defer st.mu.Unlock()

	if bus.Active != 1 {
		return View{}, ErrBusInactive
	}
	if !bus.DriverID.Valid || bus.DriverID.String != req.DriverID {
		return View{}, ErrNotAssigned
	}

	live, exists, err := t.getLive(ctx, req.BusID)
	if err != nil {
		return View{}, err
	}
	if exists && live.IsSharing == 1 {
		return View{}, ErrAlreadySharing
	}

	routeID := req.RouteID
	if routeID == "" {
		routeID = bus.RouteID.String
	}
	if routeID != "" {
		if _, err := t.db.Queries.GetRoute(ctx, routeID); errors.Is(err, sql.ErrNoRows) {
			return View{}, fmt.Errorf("route %s: %w", routeID, ErrNotFound)
		} else if err != nil {
			return View{}, fmt.Errorf("error loading route %s: %w", routeID, err)
		}
	}

	now := t.clock.Now()
	tripID := uuid.NewString()

	err = t.db.InTx(ctx, "start_sharing", func(q *trackdb.Queries) error {
		// A trip left open by an unclean shutdown is closed before the new one.
		if open, err := q.GetOpenTripForBus(ctx, req.BusID); err == nil {
			if _, err := closeTrip(ctx, q, open, now); err != nil {
				return err
			}
		} else if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("error checking open trip: %w", err)
		}

		if err := q.CreateTrip(ctx, trackdb.CreateTripParams{
			ID:        tripID,
			BusID:     req.BusID,
			DriverID:  req.DriverID,
			RouteID:   trackdb.ToNullString(routeID),
			StartedAt: now.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("error creating trip: %w", err)
		}

		var err error
		live, err = q.StartLiveSession(ctx, trackdb.StartLiveSessionParams{
			BusID:         req.BusID,
			DriverID:      req.DriverID,
			RouteID:       trackdb.ToNullString(routeID),
			TripStartedAt: sql.NullInt64{Int64: now.UnixMilli(), Valid: true},
			TripID:        trackdb.ToNullString(tripID),
			UpdatedAt:     now.UnixMilli(),
		})
		if err != nil {
			return fmt.Errorf("error starting live session: %w", err)
		}
		return nil
	})
	if err != nil {
		logging.LogError(t.logger, "failed to start sharing", err, slog.String("bus_id", req.BusID))
		return View{}, err
	}

	st.speeds.Reset()
	st.trip = tripID
	st.primed = true

	t.metrics.ActiveSessions.Inc()
	t.metrics.SharingSessionsTotal.WithLabelValues("start").Inc()
	logging.LogOperation(t.logger, "location_sharing_started",
		slog.String("bus_id", req.BusID),
		slog.String("driver_id", req.DriverID),
		slog.String("trip_id", tripID))

	view := buildView(live, nil, now, t.cfg.StaleAfter)
	t.publish(hub.Event{
		Name:  hub.EventLocationSharingStarted,
		BusID: req.BusID,
		Data:  view,
		Scope: hub.ScopeAll(),
	}, now)
	return view, nil
}

// ReportPosition records a fix for a sharing bus and recomputes its next stop
// and ETA from it. Invalid reports are rejected before storage is touched.
func (t *Tracker) ReportPosition(ctx context.Context, rep PositionReport) (View, error) {
	if err := t.validate.Struct(rep); err != nil {
		t.metrics.PositionReportsTotal.WithLabelValues("invalid").Inc()
		return View{}, newValidationError(err)
	}

	st, _, err := t.lockKnownBus(ctx, rep.BusID)
	if err != nil {
		t.metrics.PositionReportsTotal.WithLabelValues(resultLabel(err)).Inc()
		return View{}, err
	}
	defer st.mu.Unlock()

	view, err := t.reportLocked(ctx, st, rep)
	if err != nil {
		t.metrics.PositionReportsTotal.WithLabelValues(resultLabel(err)).Inc()
		return View{}, err
	}
	t.metrics.PositionReportsTotal.WithLabelValues("accepted").Inc()
	return view, nil
}

func (t *Tracker) reportLocked(ctx context.Context, st *busState, rep PositionReport) (View, error) {
	live, exists, err := t.getLive(ctx, rep.BusID)
	if err != nil {
		return View{}, err
	}
	if !exists || live.IsSharing != 1 {
		return View{}, ErrNotSharing
	}
	if live.DriverID != rep.DriverID {
		return View{}, ErrNotAssigned
	}

	t.primeSpeeds(ctx, st, live.TripID.String)

	now := t.clock.Now()
	pos := geo.Point{Lat: *rep.Latitude, Lng: *rep.Longitude}
	speed := trackdb.ToNullFloat64(rep.SpeedKmh)

	// The fix and everything derived from it land in one UPDATE, so readers
	// never see a coordinate paired with another fix's next stop or ETA.
	params := trackdb.UpdateLivePositionParams{
		Lat:       pos.Lat,
		Lng:       pos.Lng,
		SpeedKmh:  speed,
		Heading:   trackdb.ToNullFloat64(rep.Heading),
		AccuracyM: trackdb.ToNullFloat64(rep.AccuracyMeters),
		UpdatedAt: now.UnixMilli(),
		BusID:     rep.BusID,
	}
	next := t.derive(ctx, st, &params, live.RouteID.String, pos, rep.SpeedKmh, now)

	err = t.db.InTx(ctx, "report_position", func(q *trackdb.Queries) error {
		if _, err := q.UpdateLivePosition(ctx, params); err != nil {
			return fmt.Errorf("error writing position: %w", err)
		}
		if err := q.InsertLocationHistory(ctx, trackdb.InsertLocationHistoryParams{
			BusID:      rep.BusID,
			TripID:     live.TripID.String,
			Lat:        pos.Lat,
			Lng:        pos.Lng,
			SpeedKmh:   speed,
			Heading:    trackdb.ToNullFloat64(rep.Heading),
			AccuracyM:  trackdb.ToNullFloat64(rep.AccuracyMeters),
			RecordedAt: now.UnixMilli(),
		}); err != nil {
			return fmt.Errorf("error appending history: %w", err)
		}
		var err error
		live, err = q.GetLiveLocation(ctx, rep.BusID)
		if err != nil {
			return fmt.Errorf("error reloading live location: %w", err)
		}
		return nil
	})
	if err != nil {
		logging.LogError(t.logger, "failed to record position", err, slog.String("bus_id", rep.BusID))
		return View{}, err
	}

	if rep.SpeedKmh != nil {
		st.speeds.Push(*rep.SpeedKmh)
	}
	t.index.put(rep.BusID, pos)

	view := buildView(live, next, now, t.cfg.StaleAfter)
	t.publish(hub.Event{
		Name:  hub.EventLocationUpdate,
		BusID: rep.BusID,
		Data:  view,
		Scope: hub.ScopeBus(rep.BusID),
	}, now)
	return view, nil
}

// derive fills the next stop and ETA of params for pos. Failures are logged
// and leave the derived fields null so the position is still stored.
func (t *Tracker) derive(ctx context.Context, st *busState, params *trackdb.UpdateLivePositionParams, routeID string, pos geo.Point, speed *float64, now time.Time) *trackdb.Stop {
	start := time.Now()
	defer func() { t.metrics.ETAComputeDuration.Observe(time.Since(start).Seconds()) }()

	if routeID == "" {
		return nil
	}
	stops, err := t.db.Queries.GetStopsForRoute(ctx, routeID)
	if err != nil {
		logging.LogError(t.logger, "failed to load route stops", err,
			slog.String("bus_id", params.BusID),
			slog.String("route_id", routeID))
		return nil
	}

	stop, distanceKm, ok := NextStop(stops, pos)
	if !ok {
		return nil
	}
	params.NextStopID = trackdb.ToNullString(stop.ID)
	params.DistanceToNextKm = sql.NullFloat64{Float64: distanceKm, Valid: true}

	// No ETA without a current, non-zero speed reading.
	if speed == nil || *speed <= 0 {
		return stop
	}
	res := eta.Estimate(distanceKm, t.samplesWith(st, *speed), now)
	if res.ETA != nil {
		params.EtaAt = sql.NullInt64{Int64: res.ETA.UnixMilli(), Valid: true}
		params.EtaDurationMin = sql.NullFloat64{Float64: res.DurationMinutes, Valid: true}
		params.EtaSpeedKmh = sql.NullFloat64{Float64: res.SpeedKmh, Valid: true}
		params.EtaConfidence = trackdb.ToNullString(string(res.Confidence))
		params.EtaRealtime = boolToInt(res.IsRealtime)
		params.EtaStatus = trackdb.ToNullString(res.Status)
		t.metrics.ETAConfidenceTotal.WithLabelValues(string(res.Confidence)).Inc()
	}
	return stop
}

// samplesWith returns the bus's speed history as it will be once speed is
// recorded, without recording it.
func (t *Tracker) samplesWith(st *busState, speed float64) []float64 {
	samples := append(st.speeds.Samples(), speed)
	if extra := len(samples) - t.cfg.SpeedHistorySize; extra > 0 {
		samples = samples[extra:]
	}
	return samples
}

// primeSpeeds reloads the speed history of a running trip the first time this
// process sees it, so ETAs stay smooth across restarts.
func (t *Tracker) primeSpeeds(ctx context.Context, st *busState, tripID string) {
	if st.primed && st.trip == tripID {
		return
	}
	st.speeds.Reset()
	st.trip = tripID
	st.primed = true

	speeds, err := t.db.Queries.RecentSpeedsForTrip(ctx, trackdb.RecentSpeedsForTripParams{
		TripID: tripID,
		Limit:  int64(t.cfg.SpeedHistorySize),
	})
	if err != nil {
		logging.LogError(t.logger, "failed to reload speed history", err, slog.String("trip_id", tripID))
		return
	}
	for i := len(speeds) - 1; i >= 0; i-- {
		st.speeds.Push(speeds[i])
	}
}

// StopSharing ends the driver's session and closes its trip.
func (t *Tracker) StopSharing(ctx context.Context, req StopRequest) (View, error) {
	if err := t.validate.Struct(req); err != nil {
		return View{}, newValidationError(err)
	}

	st, _, err := t.lockKnownBus(ctx, req.BusID)
	if err != nil {
		return View{}, err
	}
	defer st.mu.Unlock()

	live, exists, err := t.getLive(ctx, req.BusID)
	if err != nil {
		return View{}, err
	}
	if !exists || live.IsSharing != 1 {
		return View{}, ErrNotSharing
	}
	if live.DriverID != req.DriverID {
		return View{}, ErrNotAssigned
	}

	return t.stopLocked(ctx, st, live, StopReasonDriver)
}

func (t *Tracker) stopLocked(ctx context.Context, st *busState, live trackdb.LiveLocation, reason string) (View, error) {
	now := t.clock.Now()
	busID := live.BusID

	var closed *trackdb.Trip
	err := t.db.InTx(ctx, "stop_sharing", func(q *trackdb.Queries) error {
		if err := q.EndLiveSession(ctx, trackdb.EndLiveSessionParams{UpdatedAt: now.UnixMilli(), BusID: busID}); err != nil {
			return fmt.Errorf("error ending live session: %w", err)
		}
		open, err := q.GetOpenTripForBus(ctx, busID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("error loading open trip: %w", err)
		}
		trip, err := closeTrip(ctx, q, open, now)
		if err != nil {
			return err
		}
		closed = &trip
		return nil
	})
	if err != nil {
		logging.LogError(t.logger, "failed to stop sharing", err, slog.String("bus_id", busID))
		return View{}, err
	}

	st.speeds.Reset()
	st.primed = false
	st.trip = ""
	t.index.remove(busID)

	t.metrics.ActiveSessions.Dec()
	t.metrics.SharingSessionsTotal.WithLabelValues("stop_" + reason).Inc()

	attrs := []slog.Attr{slog.String("bus_id", busID), slog.String("reason", reason)}
	if closed != nil {
		attrs = append(attrs,
			slog.String("trip_id", closed.ID),
			slog.Float64("distance_km", closed.DistanceKm),
			slog.Int64("duration_s", closed.DurationS))
	}
	logging.LogOperation(t.logger, "location_sharing_stopped", attrs...)

	live, _, err = t.getLive(ctx, busID)
	if err != nil {
		return View{}, err
	}
	view := buildView(live, nil, now, t.cfg.StaleAfter)

	payload := SharingStopped{Location: view, Reason: reason}
	if closed != nil {
		tv := buildTripView(*closed)
		payload.Trip = &tv
	}
	t.publish(hub.Event{
		Name:  hub.EventLocationSharingStopped,
		BusID: busID,
		Data:  payload,
		Scope: hub.ScopeAll(),
	}, now)
	return view, nil
}

// closeTrip computes trip totals from its history and marks it ended.
func closeTrip(ctx context.Context, q *trackdb.Queries, trip trackdb.Trip, now time.Time) (trackdb.Trip, error) {
	history, err := q.ListHistoryForTrip(ctx, trip.ID)
	if err != nil {
		return trip, fmt.Errorf("error loading trip history: %w", err)
	}
	points := make([]geo.Point, len(history))
	for i, h := range history {
		points[i] = geo.Point{Lat: h.Lat, Lng: h.Lng}
	}

	distance := geo.PathLengthKm(points)
	elapsed := now.Sub(time.UnixMilli(trip.StartedAt))
	if elapsed < 0 {
		elapsed = 0
	}
	avg := 0.0
	if hours := elapsed.Hours(); hours > 0 {
		avg = distance / hours
	}

	trip.EndedAt = sql.NullInt64{Int64: now.UnixMilli(), Valid: true}
	trip.DistanceKm = distance
	trip.DurationS = int64(elapsed / time.Second)
	trip.AvgSpeedKmh = avg

	if _, err := q.CloseTrip(ctx, trackdb.CloseTripParams{
		EndedAt:     trip.EndedAt,
		DistanceKm:  trip.DistanceKm,
		DurationS:   trip.DurationS,
		AvgSpeedKmh: trip.AvgSpeedKmh,
		ID:          trip.ID,
	}); err != nil {
		return trip, fmt.Errorf("error closing trip %s: %w", trip.ID, err)
	}
	return trip, nil
}

// Status returns the current view of a bus. A bus with no session gets a
// not-sharing view; only an unknown bus is an error.
func (t *Tracker) Status(ctx context.Context, busID string) (View, error) {
	if _, err := t.getBus(ctx, busID); err != nil {
		return View{}, err
	}
	return t.currentView(ctx, busID)
}

// SnapshotTo serves hub subscriptions. deliver runs under the bus lock, so a
// snapshot can never overtake an update published after it was read.
func (t *Tracker) SnapshotTo(ctx context.Context, busID string, deliver func(any)) error {
	st, _, err := t.lockKnownBus(ctx, busID)
	if err != nil {
		return err
	}
	defer st.mu.Unlock()

	view, err := t.currentView(ctx, busID)
	if err != nil {
		return err
	}
	deliver(view)
	return nil
}

func (t *Tracker) currentView(ctx context.Context, busID string) (View, error) {
	live, exists, err := t.getLive(ctx, busID)
	if err != nil {
		return View{}, err
	}
	if !exists {
		return notSharingView(busID), nil
	}
	return t.viewOf(ctx, live), nil
}

// ActiveLocations returns a view of every sharing bus.
func (t *Tracker) ActiveLocations(ctx context.Context) ([]View, error) {
	rows, err := t.db.Queries.ListSharingLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing sharing buses: %w", err)
	}
	views := make([]View, 0, len(rows))
	for _, live := range rows {
		views = append(views, t.viewOf(ctx, live))
	}
	return views, nil
}

// NearbyBuses returns sharing buses within radiusMeters of center, nearest first.
func (t *Tracker) NearbyBuses(center geo.Point, radiusMeters float64) []Nearby {
	if radiusMeters <= 0 || !geo.ValidLatLng(center.Lat, center.Lng) {
		return nil
	}
	return t.index.within(center, radiusMeters)
}

// Trips lists recent trips of a bus, newest first.
func (t *Tracker) Trips(ctx context.Context, busID string, limit int) ([]TripView, error) {
	if _, err := t.getBus(ctx, busID); err != nil {
		return nil, err
	}
	trips, err := t.db.ListTripsForBus(ctx, busID, limit)
	if err != nil {
		return nil, fmt.Errorf("error listing trips: %w", err)
	}
	out := make([]TripView, 0, len(trips))
	for _, trip := range trips {
		out = append(out, buildTripView(trip))
	}
	return out, nil
}

func (t *Tracker) viewOf(ctx context.Context, live trackdb.LiveLocation) View {
	var next *trackdb.Stop
	if live.NextStopID.Valid {
		stop, err := t.db.Queries.GetStop(ctx, live.NextStopID.String)
		if err == nil {
			next = &stop
		} else if !errors.Is(err, sql.ErrNoRows) {
			logging.LogError(t.logger, "failed to load next stop", err, slog.String("bus_id", live.BusID))
		}
	}
	return buildView(live, next, t.clock.Now(), t.cfg.StaleAfter)
}

// Restore rebuilds in-memory state from storage after a restart: the spatial
// index and the active session gauge.
func (t *Tracker) Restore(ctx context.Context) error {
	rows, err := t.db.Queries.ListSharingLocations(ctx)
	if err != nil {
		return fmt.Errorf("error restoring sharing sessions: %w", err)
	}
	for _, live := range rows {
		if live.HasFix == 1 {
			t.index.put(live.BusID, geo.Point{Lat: live.Lat, Lng: live.Lng})
		}
	}
	t.metrics.ActiveSessions.Set(float64(len(rows)))
	logging.LogOperation(t.logger, "sharing_sessions_restored", slog.Int("count", len(rows)))
	return nil
}

func (t *Tracker) publish(ev hub.Event, now time.Time) {
	if t.publisher == nil {
		return
	}
	ev.Timestamp = now
	t.publisher.Publish(ev)
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrNotSharing):
		return "not_sharing"
	case errors.Is(err, ErrNotAssigned):
		return "not_assigned"
	default:
		return "error"
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
