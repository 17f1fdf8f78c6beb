package ui

import (
	"seismicdash/view"

	plot "github.com/chriskim06/drawille-go"
	"github.com/rivo/tview"
)

const (
	minChartWidth  = 20
	minChartHeight = 4
	chartWaiting   = "Waiting for events..."
)

// renderChart draws a series as a braille line chart sized to width x height
// cells. The series arrives newest-first; the chart reads left to right,
// oldest to newest. Output carries tview color tags.
func renderChart(s view.Series, width, height int, color plot.Color) string {
	if s.Len() < 2 {
		return chartWaiting
	}
	if width < minChartWidth {
		width = minChartWidth
	}
	if height < minChartHeight {
		height = minChartHeight
	}
	values := make([]float64, s.Len())
	for i, v := range s.Values {
		values[len(values)-1-i] = v
	}
	c := plot.NewCanvas(width, height)
	c.NumDataPoints = len(values)
	c.ShowAxis = true
	c.LineColors = []plot.Color{color}
	c.Fill([][]float64{values})
	return tview.TranslateANSI(c.String())
}

// chartSize returns the drawable area of a boxed text view, falling back to a
// sane default before the first draw has laid it out.
func chartSize(tv *tview.TextView) (int, int) {
	_, _, w, h := tv.GetInnerRect()
	if w < minChartWidth || h < minChartHeight {
		return 60, 8
	}
	return w, h
}
