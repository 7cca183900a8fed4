// Package geo holds the great-circle math shared by the stop locator, the ETA
// estimator and trip accounting.
package geo

import (
	"fmt"
	"math"

	"github.com/twpayne/go-polyline"
)

// EarthRadiusKm is the mean Earth radius used by the haversine formula.
const EarthRadiusKm = 6371.0

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Bounds is a latitude/longitude bounding box.
type Bounds struct {
	MinLat float64
	MaxLat float64
	MinLng float64
	MaxLng float64
}

func ToRadians(deg float64) float64 {
	return deg * math.Pi / 180
}

// DistanceKm returns the haversine great-circle distance between a and b.
// Inputs must already be valid coordinates.
func DistanceKm(a, b Point) float64 {
	dLat := ToRadians(b.Lat - a.Lat)
	dLng := ToRadians(b.Lng - a.Lng)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(ToRadians(a.Lat))*math.Cos(ToRadians(b.Lat))*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusKm * c
}

func DistanceMeters(a, b Point) float64 {
	return DistanceKm(a, b) * 1000
}

// ValidLatLng reports whether lat and lng are finite and within range.
func ValidLatLng(lat, lng float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lng) || math.IsInf(lat, 0) || math.IsInf(lng, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// CalculateBounds returns the box enclosing a circle of radiusMeters around center.
func CalculateBounds(center Point, radiusMeters float64) Bounds {
	latRad := ToRadians(center.Lat)
	radius := EarthRadiusKm * 1000

	latOffset := radiusMeters / radius
	lngOffset := radiusMeters / (math.Cos(latRad) * radius)

	return Bounds{
		MinLat: center.Lat - latOffset*180/math.Pi,
		MaxLat: center.Lat + latOffset*180/math.Pi,
		MinLng: center.Lng - lngOffset*180/math.Pi,
		MaxLng: center.Lng + lngOffset*180/math.Pi,
	}
}

// Contains reports whether p lies inside b, edges included.
func (b Bounds) Contains(p Point) bool {
	return p.Lat >= b.MinLat && p.Lat <= b.MaxLat && p.Lng >= b.MinLng && p.Lng <= b.MaxLng
}

// PathLengthKm sums the haversine length of consecutive points.
func PathLengthKm(points []Point) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += DistanceKm(points[i-1], points[i])
	}
	return total
}

// EncodePath encodes a route path geometry as a Google polyline string.
func EncodePath(points []Point) string {
	if len(points) == 0 {
		return ""
	}
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p.Lat, p.Lng}
	}
	return string(polyline.EncodeCoords(coords))
}

// DecodePath is the inverse of EncodePath.
func DecodePath(encoded string) ([]Point, error) {
	if encoded == "" {
		return nil, nil
	}
	coords, rest, err := polyline.DecodeCoords([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("decode route path: %w", err)
	}
	if len(rest) != 0 {
		return nil, fmt.Errorf("decode route path: %d trailing bytes", len(rest))
	}
	points := make([]Point, len(coords))
	for i, c := range coords {
		points[i] = Point{Lat: c[0], Lng: c[1]}
	}
	return points, nil
}
