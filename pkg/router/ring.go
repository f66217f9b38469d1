package router

import "sync"

const latencyWindow = 100

// latencyRing keeps the last N observed latencies for one model.
type latencyRing struct {
	mu      sync.Mutex
	samples [latencyWindow]int64
	next    int
	filled  int
}

func (r *latencyRing) record(ms int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples[r.next] = ms
	r.next = (r.next + 1) % latencyWindow
	if r.filled < latencyWindow {
		r.filled++
	}
}

// average returns the mean observed latency, or (0, false) when no
// samples exist.
func (r *latencyRing) average() (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.filled == 0 {
		return 0, false
	}
	var sum int64
	for i := 0; i < r.filled; i++ {
		sum += r.samples[i]
	}
	return sum / int64(r.filled), true
}
