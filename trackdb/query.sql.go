package trackdb

import (
	"context"
	"database/sql"
)

const createBus = `
INSERT INTO buses (id, label, capacity, active, driver_id, route_id)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    label = excluded.label,
    capacity = excluded.capacity,
    active = excluded.active,
    driver_id = excluded.driver_id,
    route_id = excluded.route_id
RETURNING id, label, capacity, active, driver_id, route_id
`

type CreateBusParams struct {
	ID       string
	Label    string
	Capacity int64
	Active   int64
	DriverID sql.NullString
	RouteID  sql.NullString
}

func (q *Queries) CreateBus(ctx context.Context, arg CreateBusParams) (Bus, error) {
	row := q.db.QueryRowContext(ctx, createBus,
		arg.ID,
		arg.Label,
		arg.Capacity,
		arg.Active,
		arg.DriverID,
		arg.RouteID,
	)
	var i Bus
	err := row.Scan(
		&i.ID,
		&i.Label,
		&i.Capacity,
		&i.Active,
		&i.DriverID,
		&i.RouteID,
	)
	return i, err
}

const getBus = `
SELECT id, label, capacity, active, driver_id, route_id
FROM buses
WHERE id = ?
`

func (q *Queries) GetBus(ctx context.Context, id string) (Bus, error) {
	row := q.db.QueryRowContext(ctx, getBus, id)
	var i Bus
	err := row.Scan(
		&i.ID,
		&i.Label,
		&i.Capacity,
		&i.Active,
		&i.DriverID,
		&i.RouteID,
	)
	return i, err
}

const listBuses = `
SELECT id, label, capacity, active, driver_id, route_id
FROM buses
ORDER BY id
`

func (q *Queries) ListBuses(ctx context.Context) ([]Bus, error) {
	rows, err := q.db.QueryContext(ctx, listBuses)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []Bus
	for rows.Next() {
		var i Bus
		if err := rows.Scan(
			&i.ID,
			&i.Label,
			&i.Capacity,
			&i.Active,
			&i.DriverID,
			&i.RouteID,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const assignBus = `
UPDATE buses
SET driver_id = ?, route_id = ?
WHERE id = ?
`

type AssignBusParams struct {
	DriverID sql.NullString
	RouteID  sql.NullString
	ID       string
}

func (q *Queries) AssignBus(ctx context.Context, arg AssignBusParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, assignBus, arg.DriverID, arg.RouteID, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const setBusActive = `
UPDATE buses
SET active = ?
WHERE id = ?
`

type SetBusActiveParams struct {
	Active int64
	ID     string
}

func (q *Queries) SetBusActive(ctx context.Context, arg SetBusActiveParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, setBusActive, arg.Active, arg.ID)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const createRoute = `
INSERT INTO routes (id, name, color, path_polyline)
VALUES (?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    name = excluded.name,
    color = excluded.color,
    path_polyline = excluded.path_polyline
RETURNING id, name, color, path_polyline
`

type CreateRouteParams struct {
	ID           string
	Name         string
	Color        string
	PathPolyline sql.NullString
}

func (q *Queries) CreateRoute(ctx context.Context, arg CreateRouteParams) (Route, error) {
	row := q.db.QueryRowContext(ctx, createRoute,
		arg.ID,
		arg.Name,
		arg.Color,
		arg.PathPolyline,
	)
	var i Route
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Color,
		&i.PathPolyline,
	)
	return i, err
}

const getRoute = `
SELECT id, name, color, path_polyline
FROM routes
WHERE id = ?
`

func (q *Queries) GetRoute(ctx context.Context, id string) (Route, error) {
	row := q.db.QueryRowContext(ctx, getRoute, id)
	var i Route
	err := row.Scan(
		&i.ID,
		&i.Name,
		&i.Color,
		&i.PathPolyline,
	)
	return i, err
}

const listRoutes = `
SELECT id, name, color, path_polyline
FROM routes
ORDER BY id
`

func (q *Queries) ListRoutes(ctx context.Context) ([]Route, error) {
	rows, err := q.db.QueryContext(ctx, listRoutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []Route
	for rows.Next() {
		var i Route
		if err := rows.Scan(
			&i.ID,
			&i.Name,
			&i.Color,
			&i.PathPolyline,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createStop = `
INSERT INTO stops (id, route_id, name, lat, lng, stop_order)
VALUES (?, ?, ?, ?, ?, ?)
RETURNING id, route_id, name, lat, lng, stop_order
`

type CreateStopParams struct {
	ID        string
	RouteID   string
	Name      string
	Lat       float64
	Lng       float64
	StopOrder int64
}

func (q *Queries) CreateStop(ctx context.Context, arg CreateStopParams) (Stop, error) {
	row := q.db.QueryRowContext(ctx, createStop,
		arg.ID,
		arg.RouteID,
		arg.Name,
		arg.Lat,
		arg.Lng,
		arg.StopOrder,
	)
	var i Stop
	err := row.Scan(
		&i.ID,
		&i.RouteID,
		&i.Name,
		&i.Lat,
		&i.Lng,
		&i.StopOrder,
	)
	return i, err
}

const getStop = `
SELECT id, route_id, name, lat, lng, stop_order
FROM stops
WHERE id = ?
`

func (q *Queries) GetStop(ctx context.Context, id string) (Stop, error) {
	row := q.db.QueryRowContext(ctx, getStop, id)
	var i Stop
	err := row.Scan(
		&i.ID,
		&i.RouteID,
		&i.Name,
		&i.Lat,
		&i.Lng,
		&i.StopOrder,
	)
	return i, err
}

const getStopsForRoute = `
SELECT id, route_id, name, lat, lng, stop_order
FROM stops
WHERE route_id = ?
ORDER BY stop_order
`

func (q *Queries) GetStopsForRoute(ctx context.Context, routeID string) ([]Stop, error) {
	rows, err := q.db.QueryContext(ctx, getStopsForRoute, routeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []Stop
	for rows.Next() {
		var i Stop
		if err := rows.Scan(
			&i.ID,
			&i.RouteID,
			&i.Name,
			&i.Lat,
			&i.Lng,
			&i.StopOrder,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const deleteStopRow = `
DELETE FROM stops
WHERE id = ?
`

func (q *Queries) DeleteStopRow(ctx context.Context, id string) (int64, error) {
	result, err := q.db.ExecContext(ctx, deleteStopRow, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Two passes keep UNIQUE(route_id, stop_order) satisfied while shifting.
const negateStopOrdersAfter = `
UPDATE stops
SET stop_order = -stop_order
WHERE route_id = ? AND stop_order > ?
`

type ShiftStopOrdersParams struct {
	RouteID   string
	StopOrder int64
}

func (q *Queries) NegateStopOrdersAfter(ctx context.Context, arg ShiftStopOrdersParams) error {
	_, err := q.db.ExecContext(ctx, negateStopOrdersAfter, arg.RouteID, arg.StopOrder)
	return err
}

const restoreShiftedStopOrders = `
UPDATE stops
SET stop_order = -stop_order - 1
WHERE route_id = ? AND stop_order < 0
`

func (q *Queries) RestoreShiftedStopOrders(ctx context.Context, routeID string) error {
	_, err := q.db.ExecContext(ctx, restoreShiftedStopOrders, routeID)
	return err
}

const clearStopsForRoute = `
DELETE FROM stops
WHERE route_id = ?
`

func (q *Queries) ClearStopsForRoute(ctx context.Context, routeID string) error {
	_, err := q.db.ExecContext(ctx, clearStopsForRoute, routeID)
	return err
}

const liveLocationColumns = `bus_id, driver_id, lat, lng, speed_kmh, heading, accuracy_m, is_sharing,
    route_id, next_stop_id, distance_to_next_km, eta_at, eta_duration_min, eta_speed_kmh, eta_confidence,
    eta_realtime, eta_status, trip_started_at, trip_id, has_fix, updated_at`

func scanLiveLocation(row interface{ Scan(...interface{}) error }) (LiveLocation, error) {
	var i LiveLocation
	err := row.Scan(
		&i.BusID,
		&i.DriverID,
		&i.Lat,
		&i.Lng,
		&i.SpeedKmh,
		&i.Heading,
		&i.AccuracyM,
		&i.IsSharing,
		&i.RouteID,
		&i.NextStopID,
		&i.DistanceToNextKm,
		&i.EtaAt,
		&i.EtaDurationMin,
		&i.EtaSpeedKmh,
		&i.EtaConfidence,
		&i.EtaRealtime,
		&i.EtaStatus,
		&i.TripStartedAt,
		&i.TripID,
		&i.HasFix,
		&i.UpdatedAt,
	)
	return i, err
}

// A new session clears the derived fields of the previous one but keeps the
// last known coordinate.
const startLiveSession = `
INSERT INTO live_locations (bus_id, driver_id, is_sharing, route_id, trip_started_at, trip_id, updated_at)
VALUES (?, ?, 1, ?, ?, ?, ?)
ON CONFLICT (bus_id) DO UPDATE SET
    driver_id = excluded.driver_id,
    is_sharing = 1,
    route_id = excluded.route_id,
    next_stop_id = NULL,
    distance_to_next_km = NULL,
    eta_at = NULL,
    eta_duration_min = NULL,
    eta_speed_kmh = NULL,
    eta_confidence = NULL,
    eta_realtime = 0,
    eta_status = NULL,
    speed_kmh = NULL,
    trip_started_at = excluded.trip_started_at,
    trip_id = excluded.trip_id,
    updated_at = excluded.updated_at
RETURNING ` + liveLocationColumns

type StartLiveSessionParams struct {
	BusID         string
	DriverID      string
	RouteID       sql.NullString
	TripStartedAt sql.NullInt64
	TripID        sql.NullString
	UpdatedAt     int64
}

func (q *Queries) StartLiveSession(ctx context.Context, arg StartLiveSessionParams) (LiveLocation, error) {
	row := q.db.QueryRowContext(ctx, startLiveSession,
		arg.BusID,
		arg.DriverID,
		arg.RouteID,
		arg.TripStartedAt,
		arg.TripID,
		arg.UpdatedAt,
	)
	return scanLiveLocation(row)
}

const updateLivePosition = `
UPDATE live_locations
SET lat = ?, lng = ?, speed_kmh = ?, heading = ?, accuracy_m = ?, has_fix = 1, updated_at = ?,
    next_stop_id = ?, distance_to_next_km = ?, eta_at = ?, eta_duration_min = ?, eta_speed_kmh = ?,
    eta_confidence = ?, eta_realtime = ?, eta_status = ?
WHERE bus_id = ?
`

// UpdateLivePositionParams carries a fix together with the next stop and ETA
// derived from it. Null derived fields clear the previous values.
type UpdateLivePositionParams struct {
	Lat              float64
	Lng              float64
	SpeedKmh         sql.NullFloat64
	Heading          sql.NullFloat64
	AccuracyM        sql.NullFloat64
	UpdatedAt        int64
	NextStopID       sql.NullString
	DistanceToNextKm sql.NullFloat64
	EtaAt            sql.NullInt64
	EtaDurationMin   sql.NullFloat64
	EtaSpeedKmh      sql.NullFloat64
	EtaConfidence    sql.NullString
	EtaRealtime      int64
	EtaStatus        sql.NullString
	BusID            string
}

func (q *Queries) UpdateLivePosition(ctx context.Context, arg UpdateLivePositionParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, updateLivePosition,
		arg.Lat,
		arg.Lng,
		arg.SpeedKmh,
		arg.Heading,
		arg.AccuracyM,
		arg.UpdatedAt,
		arg.NextStopID,
		arg.DistanceToNextKm,
		arg.EtaAt,
		arg.EtaDurationMin,
		arg.EtaSpeedKmh,
		arg.EtaConfidence,
		arg.EtaRealtime,
		arg.EtaStatus,
		arg.BusID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const endLiveSession = `
UPDATE live_locations
SET is_sharing = 0, next_stop_id = NULL, distance_to_next_km = NULL, eta_at = NULL,
    eta_duration_min = NULL, eta_speed_kmh = NULL, eta_confidence = NULL, eta_realtime = 0, eta_status = NULL,
    updated_at = ?
WHERE bus_id = ?
`

type EndLiveSessionParams struct {
	UpdatedAt int64
	BusID     string
}

func (q *Queries) EndLiveSession(ctx context.Context, arg EndLiveSessionParams) error {
	_, err := q.db.ExecContext(ctx, endLiveSession, arg.UpdatedAt, arg.BusID)
	return err
}

const getLiveLocation = `
SELECT ` + liveLocationColumns + `
FROM live_locations
WHERE bus_id = ?
`

func (q *Queries) GetLiveLocation(ctx context.Context, busID string) (LiveLocation, error) {
	row := q.db.QueryRowContext(ctx, getLiveLocation, busID)
	return scanLiveLocation(row)
}

const listSharingLocations = `
SELECT ` + liveLocationColumns + `
FROM live_locations
WHERE is_sharing = 1
ORDER BY bus_id
`

func (q *Queries) ListSharingLocations(ctx context.Context) ([]LiveLocation, error) {
	rows, err := q.db.QueryContext(ctx, listSharingLocations)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []LiveLocation
	for rows.Next() {
		i, err := scanLiveLocation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertLocationHistory = `
INSERT INTO location_history (bus_id, trip_id, lat, lng, speed_kmh, heading, accuracy_m, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`

type InsertLocationHistoryParams struct {
	BusID      string
	TripID     string
	Lat        float64
	Lng        float64
	SpeedKmh   sql.NullFloat64
	Heading    sql.NullFloat64
	AccuracyM  sql.NullFloat64
	RecordedAt int64
}

func (q *Queries) InsertLocationHistory(ctx context.Context, arg InsertLocationHistoryParams) error {
	_, err := q.db.ExecContext(ctx, insertLocationHistory,
		arg.BusID,
		arg.TripID,
		arg.Lat,
		arg.Lng,
		arg.SpeedKmh,
		arg.Heading,
		arg.AccuracyM,
		arg.RecordedAt,
	)
	return err
}

const listHistoryForTrip = `
SELECT id, bus_id, trip_id, lat, lng, speed_kmh, heading, accuracy_m, recorded_at
FROM location_history
WHERE trip_id = ?
ORDER BY recorded_at, id
`

func (q *Queries) ListHistoryForTrip(ctx context.Context, tripID string) ([]LocationHistory, error) {
	rows, err := q.db.QueryContext(ctx, listHistoryForTrip, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []LocationHistory
	for rows.Next() {
		var i LocationHistory
		if err := rows.Scan(
			&i.ID,
			&i.BusID,
			&i.TripID,
			&i.Lat,
			&i.Lng,
			&i.SpeedKmh,
			&i.Heading,
			&i.AccuracyM,
			&i.RecordedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// Newest first; callers reverse into oldest-first order.
const recentSpeedsForTrip = `
SELECT speed_kmh
FROM location_history
WHERE trip_id = ? AND speed_kmh IS NOT NULL
ORDER BY recorded_at DESC, id DESC
LIMIT ?
`

type RecentSpeedsForTripParams struct {
	TripID string
	Limit  int64
}

func (q *Queries) RecentSpeedsForTrip(ctx context.Context, arg RecentSpeedsForTripParams) ([]float64, error) {
	rows, err := q.db.QueryContext(ctx, recentSpeedsForTrip, arg.TripID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []float64
	for rows.Next() {
		var speed float64
		if err := rows.Scan(&speed); err != nil {
			return nil, err
		}
		items = append(items, speed)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const createTrip = `
INSERT INTO trips (id, bus_id, driver_id, route_id, started_at)
VALUES (?, ?, ?, ?, ?)
`

type CreateTripParams struct {
	ID        string
	BusID     string
	DriverID  string
	RouteID   sql.NullString
	StartedAt int64
}

func (q *Queries) CreateTrip(ctx context.Context, arg CreateTripParams) error {
	_, err := q.db.ExecContext(ctx, createTrip,
		arg.ID,
		arg.BusID,
		arg.DriverID,
		arg.RouteID,
		arg.StartedAt,
	)
	return err
}

const closeTrip = `
UPDATE trips
SET ended_at = ?, distance_km = ?, duration_s = ?, avg_speed_kmh = ?
WHERE id = ? AND ended_at IS NULL
`

type CloseTripParams struct {
	EndedAt     sql.NullInt64
	DistanceKm  float64
	DurationS   int64
	AvgSpeedKmh float64
	ID          string
}

func (q *Queries) CloseTrip(ctx context.Context, arg CloseTripParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, closeTrip,
		arg.EndedAt,
		arg.DistanceKm,
		arg.DurationS,
		arg.AvgSpeedKmh,
		arg.ID,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const tripColumns = `id, bus_id, driver_id, route_id, started_at, ended_at, distance_km, duration_s, avg_speed_kmh`

func scanTrip(row interface{ Scan(...interface{}) error }) (Trip, error) {
	var i Trip
	err := row.Scan(
		&i.ID,
		&i.BusID,
		&i.DriverID,
		&i.RouteID,
		&i.StartedAt,
		&i.EndedAt,
		&i.DistanceKm,
		&i.DurationS,
		&i.AvgSpeedKmh,
	)
	return i, err
}

const getTrip = `
SELECT ` + tripColumns + `
FROM trips
WHERE id = ?
`

func (q *Queries) GetTrip(ctx context.Context, id string) (Trip, error) {
	row := q.db.QueryRowContext(ctx, getTrip, id)
	return scanTrip(row)
}

const getOpenTripForBus = `
SELECT ` + tripColumns + `
FROM trips
WHERE bus_id = ? AND ended_at IS NULL
`

func (q *Queries) GetOpenTripForBus(ctx context.Context, busID string) (Trip, error) {
	row := q.db.QueryRowContext(ctx, getOpenTripForBus, busID)
	return scanTrip(row)
}

const listTripsForBus = `
SELECT ` + tripColumns + `
FROM trips
WHERE bus_id = ?
ORDER BY started_at DESC
LIMIT ?
`

type ListTripsForBusParams struct {
	BusID string
	Limit int64
}

func (q *Queries) ListTripsForBus(ctx context.Context, arg ListTripsForBusParams) ([]Trip, error) {
	rows, err := q.db.QueryContext(ctx, listTripsForBus, arg.BusID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // closing is also checked explicitly below
	var items []Trip
	for rows.Next() {
		i, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getImportMetadata = `
SELECT id, file_hash, file_source, import_time
FROM import_metadata
WHERE id = 1
`

func (q *Queries) GetImportMetadata(ctx context.Context) (ImportMetadatum, error) {
	row := q.db.QueryRowContext(ctx, getImportMetadata)
	var i ImportMetadatum
	err := row.Scan(
		&i.ID,
		&i.FileHash,
		&i.FileSource,
		&i.ImportTime,
	)
	return i, err
}

const upsertImportMetadata = `
INSERT INTO import_metadata (id, file_hash, file_source, import_time)
VALUES (1, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    file_hash = excluded.file_hash,
    file_source = excluded.file_source,
    import_time = excluded.import_time
`

type UpsertImportMetadataParams struct {
	FileHash   string
	FileSource string
	ImportTime int64
}

func (q *Queries) UpsertImportMetadata(ctx context.Context, arg UpsertImportMetadataParams) error {
	_, err := q.db.ExecContext(ctx, upsertImportMetadata, arg.FileHash, arg.FileSource, arg.ImportTime)
	return err
}
