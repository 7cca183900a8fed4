// Package eta turns a distance and a history of speed readings into an
// arrival estimate.
//
// Speed readings outside (0, 120) km/h are treated as sensor noise. The
// remaining readings are combined with a linear recency weight: the i-th
// reading (1-indexed, oldest first) has weight i, so the newest reading counts
// the most without throwing away older ones. A fixed dwell buffer is added to
// every estimate, and a bus within ArrivingDistanceKm of its stop is reported
// as arriving in one minute regardless of speed.
package eta

import (
	"math"
	"time"
)

type Confidence string

const (
	High   Confidence = "high"
	Medium Confidence = "medium"
	Low    Confidence = "low"
)

const (
	StatusUnknown  = "unknown"
	StatusEnRoute  = "en_route"
	StatusArriving = "arriving"
)

const (
	MinPlausibleSpeedKmh = 0.0
	MaxPlausibleSpeedKmh = 120.0
	// FallbackSpeedKmh is assumed when no plausible reading is available.
	FallbackSpeedKmh   = 25.0
	MovingThresholdKmh = 5.0
	DwellBufferMinutes = 2.0
	ArrivingDistanceKm = 0.1
	ArrivingMinutes    = 1.0
)

// Result is a single arrival estimate. ETA is nil when no estimate can be made.
type Result struct {
	ETA             *time.Time
	DurationMinutes float64
	DistanceKm      float64
	SpeedKmh        float64
	Confidence      Confidence
	IsRealtime      bool
	Status          string
}

// Estimate computes the arrival estimate for a stop distanceKm away.
// samples are speed readings in km/h, oldest first.
func Estimate(distanceKm float64, samples []float64, now time.Time) Result {
	if math.IsNaN(distanceKm) || distanceKm <= 0 {
		return Result{
			DistanceKm: 0,
			Confidence: Low,
			Status:     StatusUnknown,
		}
	}

	valid := FilterPlausible(samples)

	if distanceKm < ArrivingDistanceKm {
		at := now.Add(minutes(ArrivingMinutes))
		speed := 0.0
		if len(valid) > 0 {
			speed = valid[len(valid)-1]
		}
		return Result{
			ETA:             &at,
			DurationMinutes: ArrivingMinutes,
			DistanceKm:      distanceKm,
			SpeedKmh:        speed,
			Confidence:      High,
			IsRealtime:      true,
			Status:          StatusArriving,
		}
	}

	speed, realtime := FallbackSpeedKmh, false
	if len(valid) > 0 {
		speed, realtime = WeightedAverage(valid), true
	}

	duration := distanceKm/speed*60 + DwellBufferMinutes
	at := now.Add(minutes(duration))

	return Result{
		ETA:             &at,
		DurationMinutes: duration,
		DistanceKm:      distanceKm,
		SpeedKmh:        speed,
		Confidence:      confidenceFor(distanceKm, speed, realtime),
		IsRealtime:      realtime,
		Status:          StatusEnRoute,
	}
}

// FilterPlausible drops readings outside the open interval (0, 120) km/h.
func FilterPlausible(samples []float64) []float64 {
	valid := make([]float64, 0, len(samples))
	for _, s := range samples {
		if math.IsNaN(s) {
			continue
		}
		if s > MinPlausibleSpeedKmh && s < MaxPlausibleSpeedKmh {
			valid = append(valid, s)
		}
	}
	return valid
}

// WeightedAverage returns Σ(s_i·i)/Σ(i) over samples ordered oldest first.
// It returns 0 for an empty slice.
func WeightedAverage(samples []float64) float64 {
	var sum, weights float64
	for i, s := range samples {
		w := float64(i + 1)
		sum += s * w
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return sum / weights
}

// DistanceConfidence is the confidence implied by distance alone.
func DistanceConfidence(distanceKm float64) Confidence {
	switch {
	case distanceKm < 1:
		return High
	case distanceKm < 5:
		return Medium
	default:
		return Low
	}
}

func confidenceFor(distanceKm, speed float64, realtime bool) Confidence {
	byDistance := DistanceConfidence(distanceKm)
	if !realtime {
		return downgrade(byDistance)
	}
	if speed > MovingThresholdKmh {
		return High
	}
	// Crawling or stationary: never better than medium.
	if byDistance == High {
		return Medium
	}
	return byDistance
}

func downgrade(c Confidence) Confidence {
	switch c {
	case High:
		return Medium
	default:
		return Low
	}
}

func minutes(m float64) time.Duration {
	return time.Duration(m * float64(time.Minute))
}
