package feed

import "time"

const (
	defaultReconnectBase = 2 * time.Second
	defaultReconnectMax  = 60 * time.Second
)

type backoff struct {
	base time.Duration
	cur  time.Duration
	max  time.Duration
}

// Purpose: Construct an exponential backoff timer.
// Key aspects: Normalizes base/max and starts at base delay.
// Upstream: Manager reconnect loop.
// Downstream: backoff.Next/Reset.
func newBackoff(base, max time.Duration) *backoff {
	if base <= 0 {
		base = defaultReconnectBase
	}
	if max < base {
		max = base
	}
	return &backoff{base: base, cur: base, max: max}
}

// Purpose: Return the next backoff delay and advance the window.
// Key aspects: Doubles up to the max cap.
// Upstream: Manager reconnect loop.
// Downstream: None.
func (b *backoff) Next() time.Duration {
	if b.cur >= b.max {
		return b.max
	}
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

// Purpose: Reset backoff to its initial state.
// Key aspects: Next restarts at the base delay.
// Upstream: Manager after a successful open.
// Downstream: None.
func (b *backoff) Reset() {
	b.cur = b.base
}
