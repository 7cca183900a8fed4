package eta

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC)

func TestEstimate_NoDistance(t *testing.T) {
	for _, d := range []float64{0, -1, math.NaN()} {
		r := Estimate(d, []float64{20, 30}, now)
		assert.Nil(t, r.ETA)
		assert.Equal(t, 0.0, r.DurationMinutes)
		assert.Equal(t, Low, r.Confidence)
		assert.Equal(t, StatusUnknown, r.Status)
	}
}

func TestEstimate_ArrivingShortCircuit(t *testing.T) {
	for _, samples := range [][]float64{nil, {0}, {200}, {3, 4}, {60, 70}} {
		r := Estimate(0.05, samples, now)
		require.NotNil(t, r.ETA)
		assert.Equal(t, now.Add(time.Minute), *r.ETA)
		assert.Equal(t, 1.0, r.DurationMinutes)
		assert.Equal(t, High, r.Confidence)
		assert.Equal(t, StatusArriving, r.Status)
		assert.True(t, r.IsRealtime)
	}
}

func TestEstimate_FallbackSpeed(t *testing.T) {
	r := Estimate(5, nil, now)

	require.NotNil(t, r.ETA)
	assert.Equal(t, FallbackSpeedKmh, r.SpeedKmh)
	assert.False(t, r.IsRealtime)
	assert.InDelta(t, 5.0/25.0*60+2, r.DurationMinutes, 1e-9)
	assert.Equal(t, Low, r.Confidence)
}

func TestEstimate_AllSamplesFilteredFallsBack(t *testing.T) {
	r := Estimate(2, []float64{0, -4, 120, 250}, now)

	assert.Equal(t, FallbackSpeedKmh, r.SpeedKmh)
	assert.False(t, r.IsRealtime)
	// Medium by distance, downgraded for missing samples.
	assert.Equal(t, Low, r.Confidence)

	r = Estimate(0.5, []float64{130}, now)
	assert.Equal(t, Medium, r.Confidence)
}

func TestEstimate_WeightedSpeed(t *testing.T) {
	r := Estimate(10, []float64{10, 20, 30}, now)

	assert.InDelta(t, 140.0/6.0, r.SpeedKmh, 1e-9)
	assert.InDelta(t, 10/(140.0/6.0)*60+2, r.DurationMinutes, 1e-9)
	assert.True(t, r.IsRealtime)
	assert.Equal(t, High, r.Confidence)
	assert.Equal(t, StatusEnRoute, r.Status)
}

func TestEstimate_SlowSpeedCapsConfidence(t *testing.T) {
	r := Estimate(0.5, []float64{3}, now)
	assert.Equal(t, Medium, r.Confidence)

	r = Estimate(3, []float64{4}, now)
	assert.Equal(t, Medium, r.Confidence)

	r = Estimate(8, []float64{4}, now)
	assert.Equal(t, Low, r.Confidence)
}

func TestEstimate_CampusLoopScenario(t *testing.T) {
	// S1 at (0,0), S2 at (0,0.01): about 1.11 km at 20 km/h.
	r := Estimate(1.11195, []float64{20}, now)

	require.NotNil(t, r.ETA)
	assert.InDelta(t, 5.34, r.DurationMinutes, 0.01)
	assert.WithinDuration(t, now.Add(time.Duration(5.336*float64(time.Minute))), *r.ETA, time.Second)
	assert.Equal(t, High, r.Confidence)
}

func TestWeightedAverage(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		expected float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 42},
		{"three", []float64{10, 20, 30}, 140.0 / 6.0},
		{"recent dominates", []float64{50, 10}, (50 + 20) / 3.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, WeightedAverage(tt.samples), 1e-9)
		})
	}
}

func TestFilterPlausible(t *testing.T) {
	got := FilterPlausible([]float64{-1, 0, 0.1, 60, 119.9, 120, math.NaN(), 300})
	assert.Equal(t, []float64{0.1, 60, 119.9}, got)
}

func TestDistanceConfidence(t *testing.T) {
	assert.Equal(t, High, DistanceConfidence(0.99))
	assert.Equal(t, Medium, DistanceConfidence(1))
	assert.Equal(t, Medium, DistanceConfidence(4.99))
	assert.Equal(t, Low, DistanceConfidence(5))
}
