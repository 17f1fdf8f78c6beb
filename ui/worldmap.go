package ui

import (
	"math"
	"strings"

	"seismicdash/event"
	"seismicdash/view"

	"github.com/rivo/tview"
)

const (
	mapBackground = '·'
	mapEquator    = '-'
	mapMeridian   = '|'
)

// markerGlyph picks the map symbol for a magnitude.
func markerGlyph(mag float64) rune {
	switch event.SeverityOf(mag) {
	case event.SeverityHigh:
		return '@'
	case event.SeverityModerate:
		return 'O'
	default:
		return 'o'
	}
}

// projectMarker places lat/lon on a width x height equirectangular grid.
// ok is false for coordinates that fall outside the grid.
func projectMarker(lat, lon float64, width, height int) (x, y int, ok bool) {
	if width < 1 || height < 1 || math.IsNaN(lat) || math.IsNaN(lon) {
		return 0, 0, false
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return 0, 0, false
	}
	x = int(math.Round((lon + 180) / 360 * float64(width-1)))
	y = int(math.Round((90 - lat) / 180 * float64(height-1)))
	return x, y, true
}

// renderWorldMap plots markers on a plain lat/lon grid with the equator and
// prime meridian drawn in. Newer markers are drawn over older ones.
func renderWorldMap(markers []view.Marker, width, height int) string {
	if width < 8 {
		width = 8
	}
	if height < 4 {
		height = 4
	}
	grid := make([][]rune, height)
	color := make([][]string, height)
	midY := (height - 1) / 2
	midX := (width - 1) / 2
	for y := range grid {
		grid[y] = make([]rune, width)
		color[y] = make([]string, width)
		for x := range grid[y] {
			switch {
			case y == midY:
				grid[y][x] = mapEquator
			case x == midX:
				grid[y][x] = mapMeridian
			default:
				grid[y][x] = mapBackground
			}
		}
	}
	for i := len(markers) - 1; i >= 0; i-- {
		m := markers[i]
		x, y, ok := projectMarker(m.Lat, m.Lon, width, height)
		if !ok {
			continue
		}
		grid[y][x] = markerGlyph(m.Mag)
		color[y][x] = severityColor(event.SeverityOf(m.Mag))
	}

	var b strings.Builder
	for y := range grid {
		if y > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("[gray]")
		for x, r := range grid[y] {
			if c := color[y][x]; c != "" {
				b.WriteString(c)
				b.WriteRune(r)
				b.WriteString("[gray]")
				continue
			}
			b.WriteRune(r)
		}
		b.WriteString("[-]")
	}
	return b.String()
}

// mapLegend lists the newest few marker labels under the map.
func mapLegend(markers []view.Marker, n int) string {
	if len(markers) == 0 {
		return "No events yet"
	}
	if n > len(markers) {
		n = len(markers)
	}
	parts := make([]string, 0, n)
	for _, m := range markers[:n] {
		parts = append(parts, severityColor(event.SeverityOf(m.Mag))+string(markerGlyph(m.Mag))+"[-] "+tview.Escape(m.Label))
	}
	return strings.Join(parts, "  ")
}
