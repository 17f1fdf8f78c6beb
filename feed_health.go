package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"seismicdash/feed"
)

const (
	feedHealthInterval  = 30 * time.Second
	feedIdleThreshold   = 30 * time.Minute
	feedHealthLogPrefix = "Feed Health: "
)

// activeFeed tracks the Manager of the current mount, if any.
type activeFeed struct {
	mgr atomic.Pointer[feed.Manager]
}

func (a *activeFeed) Set(m *feed.Manager) {
	a.mgr.Store(m)
}

// Clear forgets m only if it is still the current mount.
func (a *activeFeed) Clear(m *feed.Manager) {
	a.mgr.CompareAndSwap(m, nil)
}

func (a *activeFeed) Snapshot() *feed.Snapshot {
	m := a.mgr.Load()
	if m == nil {
		return nil
	}
	return m.Snapshot()
}

type feedHealthState struct {
	mounted     bool
	status      feed.Status
	idle        bool
	initialized bool
}

// Purpose: Periodically log feed health transitions with low noise.
// Key aspects: Reports only on mount/status/idle state changes.
// Upstream: main startup.
// Downstream: log.Printf.
func startFeedHealthMonitor(ctx context.Context, interval, idleAfter time.Duration, current func() *feed.Snapshot) {
	if current == nil {
		return
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		var state feedHealthState
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var line string
				state, line = nextFeedHealth(state, current(), time.Now().UTC(), idleAfter)
				if line != "" {
					log.Printf("%s%s", feedHealthLogPrefix, line)
				}
			}
		}
	}()
}

// nextFeedHealth returns the new state and the line to log, which is empty
// when nothing changed.
func nextFeedHealth(prev feedHealthState, snap *feed.Snapshot, now time.Time, idleAfter time.Duration) (feedHealthState, string) {
	if snap == nil {
		next := feedHealthState{initialized: true}
		if prev.initialized && !prev.mounted {
			return next, ""
		}
		return next, "not mounted"
	}
	idle := feedIsIdle(snap, now, idleAfter)
	next := feedHealthState{mounted: true, status: snap.Status, idle: idle, initialized: true}
	if prev == next {
		return next, ""
	}
	return next, formatFeedHealthLine(snap, idle, now)
}

func feedIsIdle(snap *feed.Snapshot, now time.Time, idleAfter time.Duration) bool {
	if snap == nil || snap.UpdatedAt.IsZero() {
		return true
	}
	return now.Sub(snap.UpdatedAt) > idleAfter
}

func formatFeedHealthLine(snap *feed.Snapshot, idle bool, now time.Time) string {
	state := "active"
	if idle {
		state = "idle"
	}
	var b strings.Builder
	b.WriteString(snap.Status.Label())
	b.WriteString(" ")
	b.WriteString(state)
	b.WriteString(" last_update=")
	b.WriteString(ageString(now, snap.UpdatedAt))
	b.WriteString(fmt.Sprintf(" events=%d window=%d/%d", snap.Stats.Total, snap.Window.Len(), snap.Window.Capacity()))
	if snap.LastError != "" {
		b.WriteString(" last_err=")
		b.WriteString(snap.LastError)
	}
	return b.String()
}

func ageString(now time.Time, at time.Time) string {
	if at.IsZero() {
		return "never"
	}
	age := now.Sub(at)
	if age < 0 {
		age = 0
	}
	if age < time.Second {
		return "0s"
	}
	return age.Truncate(time.Second).String()
}
