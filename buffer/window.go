// Package buffer holds the bounded, newest-first window of recent events that
// the dashboard renders. A Window is an immutable value: Push returns a new
// Window and never touches the one it was given, so a renderer holding an
// older Window keeps a consistent view while ingest moves on.
package buffer

import (
	"unsafe"

	"seismicdash/event"
)

// DefaultCapacity bounds the window when no capacity is configured.
const DefaultCapacity = 200

// Window is an ordered, capacity-limited sequence of events, newest first.
// The zero value is an empty window with DefaultCapacity.
type Window struct {
	events   []event.Event
	capacity int
	seq      uint64 // pushes that led to this value
}

// NewWindow returns an empty window. Non-positive capacities fall back to
// DefaultCapacity.
func NewWindow(capacity int) Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return Window{capacity: capacity}
}

// Push prepends e and truncates to capacity, dropping the oldest tail. The
// receiver is left untouched; relative order of surviving events is kept.
func Push(w Window, e event.Event) Window {
	capacity := w.Capacity()
	n := len(w.events) + 1
	if n > capacity {
		n = capacity
	}
	next := make([]event.Event, n)
	next[0] = e
	copy(next[1:], w.events)
	return Window{
		events:   next,
		capacity: capacity,
		seq:      w.seq + 1,
	}
}

// Push is the method form of Push.
func (w Window) Push(e event.Event) Window {
	return Push(w, e)
}

// Len returns the number of events currently held.
func (w Window) Len() int {
	return len(w.events)
}

// Capacity returns the maximum number of events the window retains.
func (w Window) Capacity() int {
	if w.capacity <= 0 {
		return DefaultCapacity
	}
	return w.capacity
}

// Seq counts the pushes that produced this value. Consumers use it as a cheap
// change token: equal Seq means equal contents.
func (w Window) Seq() uint64 {
	return w.seq
}

// At returns the i-th newest event.
func (w Window) At(i int) (event.Event, bool) {
	if i < 0 || i >= len(w.events) {
		return event.Event{}, false
	}
	return w.events[i], true
}

// Newest returns the most recently pushed event, if any.
func (w Window) Newest() (event.Event, bool) {
	return w.At(0)
}

// Events returns a copy of the window contents, newest first.
func (w Window) Events() []event.Event {
	out := make([]event.Event, len(w.events))
	copy(out, w.events)
	return out
}

// Recent returns up to n newest events (copy).
func (w Window) Recent(n int) []event.Event {
	if n <= 0 {
		return []event.Event{}
	}
	if n > len(w.events) {
		n = len(w.events)
	}
	out := make([]event.Event, n)
	copy(out, w.events[:n])
	return out
}

// Each calls fn for every event newest-first until fn returns false. It reads
// the backing slice directly and is the allocation-free path for renderers.
func (w Window) Each(fn func(i int, e event.Event) bool) {
	for i := range w.events {
		if !fn(i, w.events[i]) {
			return
		}
	}
}

// SizeKB returns an approximate memory footprint of the window in kilobytes.
// String payloads are estimated rather than measured.
func (w Window) SizeKB() int {
	const estimatePerEventStrings = 96
	perEvent := int(unsafe.Sizeof(event.Event{})) + estimatePerEventStrings
	return (len(w.events) * perEvent) / 1024
}
