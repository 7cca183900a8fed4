package tracking

import (
	"database/sql"
	"time"

	"bustracker.campus.org/internal/eta"
	"bustracker.campus.org/trackdb"
)

// View is the derived location of one bus as served to dashboards.
type View struct {
	BusID          string     `json:"busId"`
	DriverID       string     `json:"driverId,omitempty"`
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	SpeedKmh       *float64   `json:"speedKmh"`
	Heading        *float64   `json:"heading"`
	AccuracyMeters *float64   `json:"accuracyMeters"`
	IsSharing      bool       `json:"isSharing"`
	Stale          bool       `json:"stale"`
	RouteID        string     `json:"routeId,omitempty"`
	TripID         string     `json:"tripId,omitempty"`
	LastUpdated    *time.Time `json:"lastUpdated"`
	TripStartedAt  *time.Time `json:"tripStartedAt"`
	NextStop       *StopView  `json:"nextStop"`
	ETAToNextStop  *ETAView   `json:"etaToNextStop"`
}

type StopView struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
	Order int64   `json:"order"`
}

type ETAView struct {
	ETA             *time.Time     `json:"eta"`
	DurationMinutes float64        `json:"durationMinutes"`
	DistanceKm      float64        `json:"distanceKm"`
	SpeedKmh        float64        `json:"speedKmh"`
	Confidence      eta.Confidence `json:"confidence"`
	IsRealtime      bool           `json:"isRealtime"`
	Status          string         `json:"status"`
	Formatted       string         `json:"formatted"`
}

// TripView summarizes a closed or running trip.
type TripView struct {
	ID          string     `json:"id"`
	BusID       string     `json:"busId"`
	DriverID    string     `json:"driverId"`
	RouteID     string     `json:"routeId,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt"`
	DistanceKm  float64    `json:"distanceKm"`
	DurationS   int64      `json:"durationSeconds"`
	AvgSpeedKmh float64    `json:"avgSpeedKmh"`
}

// SharingStopped is the payload of a locationSharingStopped event.
type SharingStopped struct {
	Location View      `json:"location"`
	Reason   string    `json:"reason"`
	Trip     *TripView `json:"trip,omitempty"`
}

const (
	StopReasonDriver  = "driver"
	StopReasonTimeout = "timeout"
)

func notSharingView(busID string) View {
	return View{BusID: busID}
}

func buildView(live trackdb.LiveLocation, next *trackdb.Stop, now time.Time, staleAfter time.Duration) View {
	v := View{
		BusID:     live.BusID,
		DriverID:  live.DriverID,
		IsSharing: live.IsSharing == 1,
		RouteID:   live.RouteID.String,
		TripID:    live.TripID.String,
	}

	if live.HasFix == 1 {
		lat, lng := live.Lat, live.Lng
		v.Latitude, v.Longitude = &lat, &lng
		v.SpeedKmh = nullFloat(live.SpeedKmh)
		v.Heading = nullFloat(live.Heading)
		v.AccuracyMeters = nullFloat(live.AccuracyM)
	}

	updated := time.UnixMilli(live.UpdatedAt).UTC()
	v.LastUpdated = &updated
	if live.TripStartedAt.Valid {
		started := time.UnixMilli(live.TripStartedAt.Int64).UTC()
		v.TripStartedAt = &started
	}

	if v.IsSharing && staleAfter > 0 && now.Sub(updated) > staleAfter {
		v.Stale = true
	}

	if next != nil {
		v.NextStop = &StopView{ID: next.ID, Name: next.Name, Lat: next.Lat, Lng: next.Lng, Order: next.StopOrder}
	}

	if live.EtaAt.Valid && next != nil {
		at := time.UnixMilli(live.EtaAt.Int64).UTC()
		v.ETAToNextStop = &ETAView{
			ETA:             &at,
			DurationMinutes: live.EtaDurationMin.Float64,
			DistanceKm:      live.DistanceToNextKm.Float64,
			SpeedKmh:        live.EtaSpeedKmh.Float64,
			Confidence:      eta.Confidence(live.EtaConfidence.String),
			IsRealtime:      live.EtaRealtime == 1,
			Status:          live.EtaStatus.String,
			Formatted:       eta.FormatDuration(live.EtaDurationMin.Float64),
		}
	}
	return v
}

func buildTripView(t trackdb.Trip) TripView {
	v := TripView{
		ID:          t.ID,
		BusID:       t.BusID,
		DriverID:    t.DriverID,
		RouteID:     t.RouteID.String,
		StartedAt:   time.UnixMilli(t.StartedAt).UTC(),
		DistanceKm:  t.DistanceKm,
		DurationS:   t.DurationS,
		AvgSpeedKmh: t.AvgSpeedKmh,
	}
	if t.EndedAt.Valid {
		ended := time.UnixMilli(t.EndedAt.Int64).UTC()
		v.EndedAt = &ended
	}
	return v
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	x := f.Float64
	return &x
}
