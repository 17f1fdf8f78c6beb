package ui

import (
	"fmt"
	"strings"
	"time"

	"seismicdash/event"
	"seismicdash/feed"
	"seismicdash/stats"
	"seismicdash/view"

	"github.com/dustin/go-humanize"
	"github.com/rivo/tview"
)

const (
	accentTag   = "[#ff69b4]"
	accentReset = "[-]"

	tableTimeLayout = "2006-01-02 15:04:05"
	noLastEvent     = "None"
)

func accentText(text string) string {
	return accentTag + text + accentReset
}

// statusText renders the connection chip, e.g. "[green]Status: connected[-]".
func statusText(s feed.Status) string {
	return statusColor(s) + "Status: " + s.Label() + "[-]"
}

func statusColor(s feed.Status) string {
	switch s {
	case feed.Connected:
		return "[green]"
	case feed.Errored:
		return "[red]"
	default:
		return "[gray]"
	}
}

func severityColor(sev event.Severity) string {
	switch sev {
	case event.SeverityHigh:
		return "[red]"
	case event.SeverityModerate:
		return "[yellow]"
	default:
		return "[green]"
	}
}

// statCard is one of the summary boxes above the charts.
type statCard struct {
	Title string
	Value string
}

// statCards derives the Total Events / Max Magnitude / Last Event cards.
func statCards(agg stats.Aggregate) []statCard {
	last := agg.LastEventTime
	if last == "" {
		last = noLastEvent
	}
	return []statCard{
		{Title: "Total Events", Value: humanize.Comma(int64(agg.Total))},
		{Title: "Max Magnitude", Value: fmt.Sprintf("%.1f", agg.MaxMagnitude)},
		{Title: "Last Event", Value: last},
	}
}

// tableColumns are the event table headers in display order.
var tableColumns = []struct {
	Title string
	Key   view.SortKey
}{
	{"Time (UTC)", view.SortTime},
	{"Magnitude", view.SortMag},
	{"Depth (km)", view.SortDepth},
	{"Region", view.SortRegion},
	{"Source", -1},
}

// headerLabel decorates the active sort column with an arrow.
func headerLabel(title string, col, active view.SortKey, order view.Order) string {
	if col != active {
		return title
	}
	if order == view.Asc {
		return title + " ▲"
	}
	return title + " ▼"
}

// rowCells formats one event as table cell texts (with color tags on the
// magnitude). Feed-supplied text is escaped.
func rowCells(e event.Event) []string {
	ts := tview.Escape(e.RawTime)
	if !e.Time.IsZero() {
		ts = e.Time.UTC().Format(tableTimeLayout)
	}
	return []string{
		ts,
		severityColor(e.Severity()) + fmt.Sprintf("%.1f", e.Mag) + "[-]",
		fmt.Sprintf("%.1f", e.Depth),
		tview.Escape(e.Region),
		tview.Escape(e.Auth),
	}
}

// pageSummary renders the pager footer, e.g. "Rows per page: 10   11-20 of 57".
func pageSummary(page, rowsPerPage, total int) string {
	rowsPerPage = view.NormalizeRowsPerPage(rowsPerPage)
	if total == 0 {
		return fmt.Sprintf("Rows per page: %d   0-0 of 0", rowsPerPage)
	}
	start := page*rowsPerPage + 1
	end := start + rowsPerPage - 1
	if end > total {
		end = total
	}
	return fmt.Sprintf("Rows per page: %d   %d-%d of %s", rowsPerPage, start, end, humanize.Comma(int64(total)))
}

// connectionLines summarises the feed for the side panel.
func connectionLines(snap *feed.Snapshot, tracker *stats.Tracker, now time.Time) []string {
	if snap == nil {
		return []string{"Waiting for feed..."}
	}
	lines := []string{statusText(snap.Status)}
	if !snap.Stats.LastEventAt.IsZero() {
		lines = append(lines, "Last event "+humanize.RelTime(snap.Stats.LastEventAt, now, "ago", "from now"))
	}
	lines = append(lines, fmt.Sprintf("Window %d/%d (~%d KB)", snap.Window.Len(), snap.Window.Capacity(), snap.Window.SizeKB()))
	if snap.LastError != "" {
		lines = append(lines, "[red]"+tview.Escape(snap.LastError)+"[-]")
	}
	if tracker != nil {
		for _, line := range tracker.SnapshotLines() {
			lines = append(lines, tview.Escape(line))
		}
	}
	return lines
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n")
}
