package trackdb

import (
	"database/sql"
)

type Bus struct {
	ID       string
	Label    string
	Capacity int64
	Active   int64
	DriverID sql.NullString
	RouteID  sql.NullString
}

type Route struct {
	ID           string
	Name         string
	Color        string
	PathPolyline sql.NullString
}

type Stop struct {
	ID        string
	RouteID   string
	Name      string
	Lat       float64
	Lng       float64
	StopOrder int64
}

type LiveLocation struct {
	BusID            string
	DriverID         string
	Lat              float64
	Lng              float64
	SpeedKmh         sql.NullFloat64
	Heading          sql.NullFloat64
	AccuracyM        sql.NullFloat64
	IsSharing        int64
	RouteID          sql.NullString
	NextStopID       sql.NullString
	DistanceToNextKm sql.NullFloat64
	EtaAt            sql.NullInt64
	EtaDurationMin   sql.NullFloat64
	EtaSpeedKmh      sql.NullFloat64
	EtaConfidence    sql.NullString
	EtaRealtime      int64
	EtaStatus        sql.NullString
	TripStartedAt    sql.NullInt64
	TripID           sql.NullString
	HasFix           int64
	UpdatedAt        int64
}

type LocationHistory struct {
	ID         int64
	BusID      string
	TripID     string
	Lat        float64
	Lng        float64
	SpeedKmh   sql.NullFloat64
	Heading    sql.NullFloat64
	AccuracyM  sql.NullFloat64
	RecordedAt int64
}

type Trip struct {
	ID          string
	BusID       string
	DriverID    string
	RouteID     sql.NullString
	StartedAt   int64
	EndedAt     sql.NullInt64
	DistanceKm  float64
	DurationS   int64
	AvgSpeedKmh float64
}

type ImportMetadatum struct {
	ID         int64
	FileHash   string
	FileSource string
	ImportTime int64
}
