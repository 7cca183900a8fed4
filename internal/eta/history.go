package eta

// SpeedHistory keeps the most recent speed readings of one bus, oldest first.
// It is not safe for concurrent use; callers hold the owning bus lock.
type SpeedHistory struct {
	buf   []float64
	start int
	n     int
}

func NewSpeedHistory(size int) *SpeedHistory {
	if size < 1 {
		size = 1
	}
	return &SpeedHistory{buf: make([]float64, size)}
}

// Push appends a reading, evicting the oldest when full.
func (h *SpeedHistory) Push(speedKmh float64) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = speedKmh
		h.n++
		return
	}
	h.buf[h.start] = speedKmh
	h.start = (h.start + 1) % len(h.buf)
}

// Samples returns a copy of the readings, oldest first.
func (h *SpeedHistory) Samples() []float64 {
	out := make([]float64, h.n)
	for i := 0; i < h.n; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

func (h *SpeedHistory) Len() int { return h.n }

func (h *SpeedHistory) Reset() {
	h.start = 0
	h.n = 0
}
