package ui

import (
	"time"

	"seismicdash/feed"
	"seismicdash/stats"
	"seismicdash/view"

	plot "github.com/chriskim06/drawille-go"
	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

var (
	uiBorderColor = tcell.ColorGray
	uiTitleColor  = tcell.ColorHotPink
)

const (
	mapLegendEntries = 3
	systemPaneLines  = 200
	tableEmptyText   = "Waiting for events..."
)

// dashboardPage renders one feed snapshot: status chip, stat cards, map,
// charts and the sortable event table. All methods run on the UI goroutine.
type dashboardPage struct {
	root       *tview.Flex
	status     *tview.TextView
	cards      []*tview.TextView
	feedInfo   *tview.TextView
	worldMap   *tview.TextView
	magChart   *tview.TextView
	depthChart *tview.TextView
	table      *tview.Table
	pager      *tview.TextView
	system     *tview.TextView

	sorter      *view.Table
	page        int
	rowsPerPage int
	snap        *feed.Snapshot
	tracker     *stats.Tracker
	now         func() time.Time
}

func newDashboardPage(tracker *stats.Tracker) *dashboardPage {
	p := &dashboardPage{
		status:      tview.NewTextView().SetDynamicColors(true).SetTextAlign(tview.AlignRight),
		feedInfo:    newBoxedTextView("Feed"),
		worldMap:    newBoxedTextView("Earthquake Map"),
		magChart:    newBoxedTextView("Magnitude Distribution"),
		depthChart:  newBoxedTextView("Depth Analysis"),
		table:       tview.NewTable().SetFixed(1, 0).SetSelectable(false, false),
		pager:       tview.NewTextView().SetDynamicColors(true),
		system:      newBoxedTextView("System"),
		sorter:      view.NewTable(),
		rowsPerPage: view.DefaultRowsPerPage,
		tracker:     tracker,
		now:         time.Now,
	}
	p.system.SetMaxLines(systemPaneLines).SetScrollable(true)
	p.table.SetBorder(true).SetTitle(accentText("Recent Earthquakes")).SetTitleAlign(tview.AlignLeft)
	p.table.SetBorderColor(uiBorderColor)

	title := tview.NewTextView().SetDynamicColors(true).SetText(accentText("Seismic Activity Dashboard"))
	header := tview.NewFlex().
		AddItem(title, 0, 1, false).
		AddItem(p.status, 24, 0, false)

	cardRow := tview.NewFlex()
	for _, c := range statCards(stats.Aggregate{}) {
		tv := newBoxedTextView(c.Title)
		tv.SetTextAlign(tview.AlignCenter)
		p.cards = append(p.cards, tv)
		cardRow.AddItem(tv, 0, 1, false)
	}

	mapRow := tview.NewFlex().
		AddItem(p.worldMap, 0, 3, false).
		AddItem(p.feedInfo, 0, 1, false)
	chartRow := tview.NewFlex().
		AddItem(p.magChart, 0, 1, false).
		AddItem(p.depthChart, 0, 1, false)

	footer := tview.NewTextView().SetDynamicColors(true).SetText(
		accentText("t/m/d/r") + " Sort  " + accentText("←/→") + " Page  " + accentText("R") + " Rows  " + accentText("L") + " Logout  " + accentText("q") + " Quit",
	)

	p.root = tview.NewFlex().SetDirection(tview.FlexRow).
		AddItem(header, 1, 0, false).
		AddItem(cardRow, 3, 0, false).
		AddItem(mapRow, 0, 2, false).
		AddItem(chartRow, 12, 0, false).
		AddItem(p.table, 0, 2, false).
		AddItem(p.pager, 1, 0, false).
		AddItem(p.system, 6, 0, false).
		AddItem(footer, 1, 0, false)
	p.reset()
	return p
}

// reset returns the page to its freshly mounted state.
func (p *dashboardPage) reset() {
	p.snap = nil
	p.page = 0
	p.sorter = view.NewTable()
	p.status.SetText(statusText(feed.Disconnected))
	for i, c := range statCards(stats.Aggregate{}) {
		p.cards[i].SetText(c.Value)
	}
	p.feedInfo.SetText(joinLines(connectionLines(nil, p.tracker, p.now())))
	p.worldMap.SetText(renderWorldMap(nil, 72, 16) + "\n" + mapLegend(nil, mapLegendEntries))
	p.magChart.SetText(chartWaiting)
	p.depthChart.SetText(chartWaiting)
	p.renderTable()
}

func (p *dashboardPage) render(snap *feed.Snapshot) {
	if snap == nil {
		return
	}
	p.snap = snap
	p.status.SetText(statusText(snap.Status))
	for i, c := range statCards(snap.Stats) {
		p.cards[i].SetText(c.Value)
	}
	p.feedInfo.SetText(joinLines(connectionLines(snap, p.tracker, p.now())))

	markers := view.Markers(snap.Window)
	mw, mh := mapSize(p.worldMap)
	p.worldMap.SetText(renderWorldMap(markers, mw, mh-1) + "\n" + mapLegend(markers, mapLegendEntries))

	w, h := chartSize(p.magChart)
	p.magChart.SetText(renderChart(view.MagnitudeSeries(snap.Window), w, h, plot.Red))
	w, h = chartSize(p.depthChart)
	p.depthChart.SetText(renderChart(view.DepthSeries(snap.Window), w, h, plot.LightGray))

	p.renderTable()
}

func (p *dashboardPage) renderTable() {
	p.table.Clear()
	key, order := p.sorter.Sort()
	for col, c := range tableColumns {
		label := headerLabel(c.Title, c.Key, key, order)
		p.table.SetCell(0, col, tview.NewTableCell(accentText(label)).
			SetSelectable(false).
			SetExpansion(1))
	}

	var total int
	var rows [][]string
	if p.snap != nil {
		total = p.snap.Window.Len()
		events, page := p.sorter.Page(p.snap.Window, p.page, p.rowsPerPage)
		p.page = page
		for _, e := range events {
			rows = append(rows, rowCells(e))
		}
	}
	if len(rows) == 0 {
		p.table.SetCell(1, 0, tview.NewTableCell("[gray]"+tableEmptyText+"[-]"))
	}
	for i, cells := range rows {
		for col, text := range cells {
			p.table.SetCell(i+1, col, tview.NewTableCell(text).SetExpansion(1))
		}
	}
	p.pager.SetText(pageSummary(p.page, p.rowsPerPage, total))
}

// handleKey applies table sort/paging keys. It reports whether the key was
// consumed.
func (p *dashboardPage) handleKey(ev *tcell.EventKey) bool {
	switch ev.Key() {
	case tcell.KeyRight, tcell.KeyPgDn:
		p.page++
		p.renderTable()
		return true
	case tcell.KeyLeft, tcell.KeyPgUp:
		if p.page > 0 {
			p.page--
		}
		p.renderTable()
		return true
	}
	switch ev.Rune() {
	case 't':
		p.sortBy(view.SortTime)
	case 'm':
		p.sortBy(view.SortMag)
	case 'd':
		p.sortBy(view.SortDepth)
	case 'r':
		p.sortBy(view.SortRegion)
	case 'R':
		p.rowsPerPage = view.NextRowsPerPage(p.rowsPerPage)
		p.page = 0
		p.renderTable()
	default:
		return false
	}
	return true
}

func (p *dashboardPage) sortBy(key view.SortKey) {
	p.sorter.Toggle(key)
	p.page = 0
	p.renderTable()
}

func (p *dashboardPage) setSystemText(text string) {
	p.system.SetText(text)
	p.system.ScrollToEnd()
}

func mapSize(tv *tview.TextView) (int, int) {
	_, _, w, h := tv.GetInnerRect()
	if w < 16 || h < 6 {
		return 72, 17
	}
	return w, h
}

func newBoxedTextView(title string) *tview.TextView {
	tv := tview.NewTextView().SetDynamicColors(true).SetWrap(false)
	tv.SetBorder(true)
	if title != "" {
		tv.SetTitle(accentText(title)).SetTitleAlign(tview.AlignLeft)
	}
	tv.SetBorderColor(uiBorderColor)
	tv.SetTitleColor(uiTitleColor)
	return tv
}
