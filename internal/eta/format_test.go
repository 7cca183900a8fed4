package eta

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		minutes  float64
		expected string
	}{
		{0, "Arriving now"},
		{0.99, "Arriving now"},
		{1, "1 minute"},
		{1.4, "1 minute"},
		{5.34, "5 minutes"},
		{59.4, "59 minutes"},
		{59.6, "1 hour"},
		{60, "1 hour"},
		{75, "1 hour 15 min"},
		{119.7, "2 hours"},
		{150, "2 hours 30 min"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatDuration(tt.minutes), "minutes=%v", tt.minutes)
	}
}

func TestSpeedHistory(t *testing.T) {
	h := NewSpeedHistory(3)
	assert.Empty(t, h.Samples())

	h.Push(10)
	h.Push(20)
	assert.Equal(t, []float64{10, 20}, h.Samples())

	h.Push(30)
	h.Push(40)
	assert.Equal(t, []float64{20, 30, 40}, h.Samples())
	assert.Equal(t, 3, h.Len())

	h.Reset()
	assert.Equal(t, 0, h.Len())
	h.Push(5)
	assert.Equal(t, []float64{5}, h.Samples())
}

func TestSpeedHistory_MinimumSize(t *testing.T) {
	h := NewSpeedHistory(0)
	h.Push(1)
	h.Push(2)
	assert.Equal(t, []float64{2}, h.Samples())
}
