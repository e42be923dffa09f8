package proximity

import (
	"sync"
	"time"
)

// History is a fixed-capacity, insertion-ordered ring of samples.
// When full, the oldest sample is evicted. Safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	buf   []Sample
	start int // index of the oldest sample
	size  int
}

// NewHistory creates a ring with the given capacity.
// Non-positive capacities fall back to HistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = HistoryCapacity
	}
	return &History{buf: make([]Sample, capacity)}
}

// Append adds a sample, evicting the oldest one when full.
func (h *History) Append(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = s
		h.size++
		return
	}
	h.buf[h.start] = s
	h.start = (h.start + 1) % len(h.buf)
}

// Len returns the number of retained samples.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

// Cap returns the ring capacity.
func (h *History) Cap() int {
	return len(h.buf)
}

// Snapshot returns a copy of all samples, oldest first.
func (h *History) Snapshot() []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Sample, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Since returns the samples captured strictly after t, oldest first.
func (h *History) Since(t time.Time) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Sample
	for i := 0; i < h.size; i++ {
		s := h.buf[(h.start+i)%len(h.buf)]
		if s.CapturedAt.After(t) {
			out = append(out, s)
		}
	}
	return out
}

// Latest returns the most recent sample.
func (h *History) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.size == 0 {
		return Sample{}, false
	}
	return h.buf[(h.start+h.size-1)%len(h.buf)], true
}

// Clear drops every sample.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.start = 0
	h.size = 0
}
