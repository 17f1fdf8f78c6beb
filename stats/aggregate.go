package stats

import (
	"time"

	"seismicdash/event"
)

// HumanTimeLayout is the clock format used for "last event" displays.
const HumanTimeLayout = "15:04:05"

// Aggregate holds running session counters derived from accepted events. It
// is never mutated in place; Update returns the next value.
type Aggregate struct {
	Total         uint64    // accepted events this session, not bounded by the window
	MaxMagnitude  float64   // largest magnitude seen this session
	LastEventTime string    // HumanTime of the most recent accepted event
	LastEventAt   time.Time // origin time of the most recent accepted event
}

// Update folds one accepted event into a. It must be called once per accepted
// event, in arrival order. The first event seeds MaxMagnitude so sessions
// with only negative magnitudes still report the true maximum.
func Update(a Aggregate, e event.Event) Aggregate {
	next := Aggregate{
		Total:         a.Total + 1,
		MaxMagnitude:  e.Mag,
		LastEventTime: HumanTime(e.Time),
		LastEventAt:   e.Time,
	}
	if a.Total > 0 && a.MaxMagnitude > e.Mag {
		next.MaxMagnitude = a.MaxMagnitude
	}
	return next
}

// HumanTime renders t as a local wall-clock time.
func HumanTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Local().Format(HumanTimeLayout)
}
