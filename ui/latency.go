package ui

import (
	"sort"
	"sync"
	"time"
)

// latencyRing keeps the last N frame delays for the footer's p50/p99 readout.
type latencyRing struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	filled  bool
}

func newLatencyRing(size int) *latencyRing {
	if size <= 0 {
		size = 256
	}
	return &latencyRing{samples: make([]time.Duration, size)}
}

func (r *latencyRing) Observe(d time.Duration) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.samples[r.next] = d
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.filled = true
	}
	r.mu.Unlock()
}

// Percentiles returns p50, p99 and the sample count.
func (r *latencyRing) Percentiles() (p50, p99 time.Duration, n int) {
	if r == nil {
		return 0, 0, 0
	}
	r.mu.Lock()
	n = r.next
	if r.filled {
		n = len(r.samples)
	}
	values := make([]time.Duration, n)
	copy(values, r.samples[:n])
	r.mu.Unlock()
	if n == 0 {
		return 0, 0, 0
	}
	sort.Slice(values, func(i, j int) bool { return values[i] < values[j] })
	return values[n/2], values[int(float64(n-1)*0.99)], n
}
