package tracking

import (
	"bustracker.campus.org/internal/geo"
	"bustracker.campus.org/trackdb"
)

// ArrivalFloorMeters is the radius within which a bus counts as at a stop.
// A stop that close is not a candidate for "next".
const ArrivalFloorMeters = 100.0

// NextStop returns the nearest stop of a route that is farther than
// ArrivalFloorMeters from pos, and its distance in kilometres. Exact ties go
// to the stop with the lowest stop_order. ok is false for an empty route or
// when every stop is within the floor.
func NextStop(stops []trackdb.Stop, pos geo.Point) (next *trackdb.Stop, distanceKm float64, ok bool) {
	for i := range stops {
		s := &stops[i]
		d := geo.DistanceKm(pos, geo.Point{Lat: s.Lat, Lng: s.Lng})
		if d*1000 <= ArrivalFloorMeters {
			continue
		}
		if next == nil || d < distanceKm || (d == distanceKm && s.StopOrder < next.StopOrder) {
			next, distanceKm = s, d
		}
	}
	if next == nil {
		return nil, 0, false
	}
	return next, distanceKm, true
}
