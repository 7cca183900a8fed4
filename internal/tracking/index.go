package tracking

import (
	"sort"
	"sync"

	"github.com/tidwall/rtree"

	"bustracker.campus.org/internal/geo"
)

// Nearby is a sharing bus found by a radius query.
type Nearby struct {
	BusID          string  `json:"busId"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// busIndex is an R-tree of the last known position of every sharing bus.
// Points are stored as [lng, lat].
type busIndex struct {
	mu     sync.RWMutex
	tree   rtree.RTreeG[string]
	points map[string]geo.Point
}

func newBusIndex() *busIndex {
	return &busIndex{points: make(map[string]geo.Point)}
}

func (x *busIndex) put(busID string, p geo.Point) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if old, ok := x.points[busID]; ok {
		pt := [2]float64{old.Lng, old.Lat}
		x.tree.Delete(pt, pt, busID)
	}
	pt := [2]float64{p.Lng, p.Lat}
	x.tree.Insert(pt, pt, busID)
	x.points[busID] = p
}

func (x *busIndex) remove(busID string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	old, ok := x.points[busID]
	if !ok {
		return
	}
	pt := [2]float64{old.Lng, old.Lat}
	x.tree.Delete(pt, pt, busID)
	delete(x.points, busID)
}

func (x *busIndex) len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.points)
}

// within returns buses inside radiusMeters of center, nearest first.
func (x *busIndex) within(center geo.Point, radiusMeters float64) []Nearby {
	b := geo.CalculateBounds(center, radiusMeters)

	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []Nearby
	x.tree.Search([2]float64{b.MinLng, b.MinLat}, [2]float64{b.MaxLng, b.MaxLat},
		func(min, _ [2]float64, busID string) bool {
			d := geo.DistanceMeters(center, geo.Point{Lat: min[1], Lng: min[0]})
			if d <= radiusMeters {
				out = append(out, Nearby{BusID: busID, DistanceMeters: d})
			}
			return true
		})

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters == out[j].DistanceMeters {
			return out[i].BusID < out[j].BusID
		}
		return out[i].DistanceMeters < out[j].DistanceMeters
	})
	return out
}
