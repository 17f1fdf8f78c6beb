// Package event defines the canonical seismic event record and the normalizer
// that turns raw feed frames into it. Everything downstream of the feed
// (buffer, stats, views) only ever sees event.Event values.
package event

import "time"

// Event is one seismic reading in canonical form. Values are treated as
// immutable once returned by Normalize.
type Event struct {
	ID      string    // Upstream event identifier (opaque)
	Time    time.Time // Origin time, UTC
	RawTime string    // Origin time exactly as the feed sent it
	Lat     float64   // Degrees north
	Lon     float64   // Degrees east
	Depth   float64   // Kilometers; zero or negative is allowed
	Mag     float64   // Magnitude
	MagType string    // Magnitude type code (ml, mb, mw, ...)
	Region  string    // Flinn-Engdahl region name
	Auth    string    // Reporting authority code
}

// Severity buckets magnitudes for coloring tables and charts.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityModerate
	SeverityHigh
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityModerate:
		return "moderate"
	default:
		return "low"
	}
}

// SeverityOf classifies a magnitude: above 5 is high, above 3 moderate.
func SeverityOf(mag float64) Severity {
	switch {
	case mag > 5:
		return SeverityHigh
	case mag > 3:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

// Severity returns the severity band of the event's magnitude.
func (e Event) Severity() Severity {
	return SeverityOf(e.Mag)
}
