package view

import (
	"fmt"

	"seismicdash/buffer"
	"seismicdash/event"
	"seismicdash/stats"
)

// Series is one chart line: a label and value per event, in window order.
type Series struct {
	Name   string
	Labels []string
	Values []float64
}

// Len returns the number of points.
func (s Series) Len() int { return len(s.Values) }

// MagnitudeSeries plots each event's magnitude against its local time.
func MagnitudeSeries(w buffer.Window) Series {
	s := Series{Name: "Magnitude", Labels: make([]string, 0, w.Len()), Values: make([]float64, 0, w.Len())}
	w.Each(func(_ int, e event.Event) bool {
		s.Labels = append(s.Labels, stats.HumanTime(e.Time))
		s.Values = append(s.Values, e.Mag)
		return true
	})
	return s
}

// DepthSeries plots each event's depth in km against its local time.
func DepthSeries(w buffer.Window) Series {
	s := Series{Name: "Depth (km)", Labels: make([]string, 0, w.Len()), Values: make([]float64, 0, w.Len())}
	w.Each(func(_ int, e event.Event) bool {
		s.Labels = append(s.Labels, stats.HumanTime(e.Time))
		s.Values = append(s.Values, e.Depth)
		return true
	})
	return s
}

// Marker is one map pin.
type Marker struct {
	Lat, Lon float64
	Label    string
	Mag      float64
}

// Markers returns one pin per event in window order.
func Markers(w buffer.Window) []Marker {
	out := make([]Marker, 0, w.Len())
	w.Each(func(_ int, e event.Event) bool {
		out = append(out, Marker{Lat: e.Lat, Lon: e.Lon, Mag: e.Mag, Label: MarkerLabel(e.Mag, e.Region)})
		return true
	})
	return out
}

// MarkerLabel formats a pin label like "M6.2 AEGEAN SEA".
func MarkerLabel(mag float64, region string) string {
	return fmt.Sprintf("M%g %s", mag, region)
}
