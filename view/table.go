// Package view derives presentation data from a feed snapshot: the sorted
// and paginated event table, the magnitude/depth chart series and the map
// markers. Everything here reads the window and never writes back.
package view

import (
	"sort"
	"strings"
	"sync"

	"seismicdash/buffer"
	"seismicdash/event"
)

// SortKey names a sortable table column.
type SortKey int

const (
	SortTime SortKey = iota
	SortMag
	SortDepth
	SortRegion
)

func (k SortKey) String() string {
	switch k {
	case SortMag:
		return "mag"
	case SortDepth:
		return "depth"
	case SortRegion:
		return "region"
	default:
		return "time"
	}
}

// Order is the sort direction.
type Order int

const (
	Desc Order = iota
	Asc
)

func (o Order) String() string {
	if o == Asc {
		return "asc"
	}
	return "desc"
}

// RowsPerPageOptions are the selectable page sizes.
var RowsPerPageOptions = []int{5, 10, 25}

// DefaultRowsPerPage is used when no valid page size is supplied.
const DefaultRowsPerPage = 10

// Table holds the table's sort state and a memoized sorted copy of the
// window. The sort is redone only when the window sequence, key or order
// changes.
type Table struct {
	mu    sync.Mutex
	key   SortKey
	order Order

	sorted    []event.Event
	sortedSeq uint64
	sortedKey SortKey
	sortedOrd Order
	valid     bool
	sorts     uint64
}

// NewTable returns a table sorted by time, newest first.
func NewTable() *Table {
	return &Table{key: SortTime, order: Desc}
}

// Sort reports the current key and order.
func (t *Table) Sort() (SortKey, Order) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.key, t.order
}

// setSort sets the key and order directly.
func (t *Table) setSort(key SortKey, order Order) {
	t.mu.Lock()
	t.key, t.order = key, order
	t.mu.Unlock()
}

// Toggle behaves like clicking a column header: the active column flips
// from ascending to descending, anything else sorts ascending.
func (t *Table) Toggle(key SortKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.key == key && t.order == Asc {
		t.order = Desc
	} else {
		t.order = Asc
	}
	t.key = key
}

// Rows returns the window sorted by the current key. The returned slice is
// shared with later calls until the inputs change; callers must not modify
// it.
func (t *Table) Rows(w buffer.Window) []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.valid && t.sortedSeq == w.Seq() && t.sortedKey == t.key && t.sortedOrd == t.order && len(t.sorted) == w.Len() {
		return t.sorted
	}
	rows := w.Events()
	less := lessFor(t.key)
	if t.order == Asc {
		sort.SliceStable(rows, func(i, j int) bool { return less(rows[i], rows[j]) })
	} else {
		sort.SliceStable(rows, func(i, j int) bool { return less(rows[j], rows[i]) })
	}
	t.sorted = rows
	t.sortedSeq = w.Seq()
	t.sortedKey = t.key
	t.sortedOrd = t.order
	t.valid = true
	t.sorts++
	return rows
}

// sortCount reports how many times the rows were actually re-sorted.
func (t *Table) sortCount() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sorts
}

// Page returns the rows for the zero-based page. Out-of-range pages clamp to
// the last page and unknown page sizes fall back to DefaultRowsPerPage.
func (t *Table) Page(w buffer.Window, page, rowsPerPage int) ([]event.Event, int) {
	rows := t.Rows(w)
	rowsPerPage = NormalizeRowsPerPage(rowsPerPage)
	page = ClampPage(page, len(rows), rowsPerPage)
	start := page * rowsPerPage
	end := start + rowsPerPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end], page
}

// PageCount is the number of pages for n rows; an empty table has one page.
func PageCount(n, rowsPerPage int) int {
	rowsPerPage = NormalizeRowsPerPage(rowsPerPage)
	if n <= 0 {
		return 1
	}
	return (n + rowsPerPage - 1) / rowsPerPage
}

// ClampPage pins page to [0, PageCount-1].
func ClampPage(page, n, rowsPerPage int) int {
	last := PageCount(n, rowsPerPage) - 1
	if page > last {
		page = last
	}
	if page < 0 {
		page = 0
	}
	return page
}

// NormalizeRowsPerPage maps anything outside RowsPerPageOptions to the default.
func NormalizeRowsPerPage(n int) int {
	for _, opt := range RowsPerPageOptions {
		if n == opt {
			return n
		}
	}
	return DefaultRowsPerPage
}

// NextRowsPerPage cycles through RowsPerPageOptions.
func NextRowsPerPage(n int) int {
	n = NormalizeRowsPerPage(n)
	for i, opt := range RowsPerPageOptions {
		if opt == n {
			return RowsPerPageOptions[(i+1)%len(RowsPerPageOptions)]
		}
	}
	return DefaultRowsPerPage
}

func lessFor(key SortKey) func(a, b event.Event) bool {
	switch key {
	case SortMag:
		return func(a, b event.Event) bool { return a.Mag < b.Mag }
	case SortDepth:
		return func(a, b event.Event) bool { return a.Depth < b.Depth }
	case SortRegion:
		return func(a, b event.Event) bool { return strings.Compare(a.Region, b.Region) < 0 }
	default:
		return func(a, b event.Event) bool { return a.Time.Before(b.Time) }
	}
}
