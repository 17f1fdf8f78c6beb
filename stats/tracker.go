// Package stats derives session aggregates from accepted seismic events and
// keeps the breakdown counters (per authority, per magnitude type, frame
// outcomes) shown in the dashboard footer and the periodic console line.
package stats

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"seismicdash/event"

	"github.com/dustin/go-humanize"
)

// Tracker counts feed activity. All methods are safe for concurrent use.
type Tracker struct {
	// counters live in sync.Map + atomic.Uint64 so per-frame increments don't fight over a mutex
	authCounts    sync.Map // string -> *atomic.Uint64
	magTypeCounts sync.Map // string -> *atomic.Uint64
	start         atomic.Int64
	accepted      atomic.Uint64
	ignored       atomic.Uint64
	rejected      atomic.Uint64
	reconnects    atomic.Uint64
}

// NewTracker creates a new stats tracker
func NewTracker() *Tracker {
	t := &Tracker{}
	t.start.Store(time.Now().UnixNano())
	return t
}

// RecordAccepted counts an accepted event under its authority and magnitude type.
func (t *Tracker) RecordAccepted(e event.Event) {
	if t == nil {
		return
	}
	t.accepted.Add(1)
	incrementCounter(&t.authCounts, strings.ToUpper(strings.TrimSpace(e.Auth)))
	incrementCounter(&t.magTypeCounts, strings.ToLower(strings.TrimSpace(e.MagType)))
}

// RecordIgnored counts a well-formed frame with a non-create action.
func (t *Tracker) RecordIgnored() {
	if t == nil {
		return
	}
	t.ignored.Add(1)
}

// RecordRejected counts a frame dropped as unparseable or malformed.
func (t *Tracker) RecordRejected() {
	if t == nil {
		return
	}
	t.rejected.Add(1)
}

// RecordReconnect counts a transport reopen after the first connection.
func (t *Tracker) RecordReconnect() {
	if t == nil {
		return
	}
	t.reconnects.Add(1)
}

// Accepted returns the number of accepted events.
func (t *Tracker) Accepted() uint64 { return t.accepted.Load() }

// Ignored returns the number of ignored frames.
func (t *Tracker) Ignored() uint64 { return t.ignored.Load() }

// Rejected returns the number of rejected frames.
func (t *Tracker) Rejected() uint64 { return t.rejected.Load() }

// Reconnects returns the number of transport reopens.
func (t *Tracker) Reconnects() uint64 { return t.reconnects.Load() }

// AuthCounts returns a copy of per-authority counts.
func (t *Tracker) AuthCounts() map[string]uint64 {
	return snapshotCounts(&t.authCounts)
}

// MagTypeCounts returns a copy of per-magnitude-type counts.
func (t *Tracker) MagTypeCounts() map[string]uint64 {
	return snapshotCounts(&t.magTypeCounts)
}

// GetUptime returns how long the tracker has been running
func (t *Tracker) GetUptime() time.Duration {
	start := t.start.Load()
	return time.Since(time.Unix(0, start))
}

// Reset clears every counter and restarts the uptime clock.
func (t *Tracker) Reset() {
	for _, m := range []*sync.Map{&t.authCounts, &t.magTypeCounts} {
		m.Range(func(key, _ any) bool {
			m.Delete(key)
			return true
		})
	}
	t.accepted.Store(0)
	t.ignored.Store(0)
	t.rejected.Store(0)
	t.reconnects.Store(0)
	t.start.Store(time.Now().UnixNano())
}

// SnapshotLines returns human-readable stats ready for console display.
func (t *Tracker) SnapshotLines() []string {
	lines := make([]string, 0, 3)
	lines = append(lines, fmt.Sprintf("Frames: accepted=%s ignored=%s rejected=%s reconnects=%d",
		humanize.Comma(int64(t.accepted.Load())),
		humanize.Comma(int64(t.ignored.Load())),
		humanize.Comma(int64(t.rejected.Load())),
		t.reconnects.Load()))
	lines = append(lines, formatMapCounts("Events by authority", &t.authCounts))
	lines = append(lines, formatMapCounts("Events by magtype", &t.magTypeCounts))
	return lines
}

func snapshotCounts(m *sync.Map) map[string]uint64 {
	counts := make(map[string]uint64)
	m.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Uint64).Load()
		return true
	})
	return counts
}

func formatMapCounts(label string, counts *sync.Map) string {
	snap := snapshotCounts(counts)
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var builder strings.Builder
	builder.WriteString(label)
	builder.WriteString(": ")
	if len(keys) == 0 {
		builder.WriteString("(none)")
		return builder.String()
	}
	for i, k := range keys {
		if i > 0 {
			builder.WriteString(", ")
		}
		fmt.Fprintf(&builder, "%s=%d", k, snap[k])
	}
	return builder.String()
}

func incrementCounter(m *sync.Map, key string) {
	if key == "" {
		key = "?"
	}
	if value, ok := m.Load(key); ok {
		value.(*atomic.Uint64).Add(1)
		return
	}
	counter := &atomic.Uint64{}
	actual, loaded := m.LoadOrStore(key, counter)
	if loaded {
		actual.(*atomic.Uint64).Add(1)
		return
	}
	counter.Add(1)
}
