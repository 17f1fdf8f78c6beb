// Package feed owns the single push connection of a dashboard session. The
// Manager turns transport callbacks into state: connection status, the
// bounded event window and the session aggregate. Frames are processed one at
// a time in delivery order; window and aggregate are published together in a
// single immutable Snapshot so a renderer never sees one without the other.
//
// Reconnect: the Manager reopens with bounded exponential backoff when
// ReconnectPolicy.Enabled is set. Otherwise the connection stays closed once
// it ends.
package feed

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"seismicdash/buffer"
	"seismicdash/event"
	"seismicdash/stats"
)

var (
	// ErrAlreadyStarted is returned by Start on a manager that was started before.
	ErrAlreadyStarted = errors.New("feed: manager already started")
	// ErrTornDown is returned by Start after Teardown.
	ErrTornDown = errors.New("feed: manager torn down")
)

// Snapshot is the renderable state of a session. It is immutable once
// published; consumers must treat it as read-only.
type Snapshot struct {
	Status    Status
	Window    buffer.Window
	Stats     stats.Aggregate
	LastError string
	Version   uint64 // bumps on every published change
	UpdatedAt time.Time
}

// Observer receives ingest outcomes, typically for metrics export. Calls
// happen on the ingest goroutine and must not block.
type Observer interface {
	FrameAccepted(e event.Event, snap *Snapshot)
	FrameIgnored()
	FrameRejected(err error)
	StatusChanged(s Status)
}

// ReconnectPolicy bounds reopen attempts after the connection ends.
type ReconnectPolicy struct {
	Enabled     bool
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int // consecutive failed attempts before giving up; 0 means no limit
}

// Options configure a Manager.
type Options struct {
	Name      string // log prefix
	Capacity  int
	Reconnect ReconnectPolicy
	Tracker   *stats.Tracker
	Observer  Observer
	Now       func() time.Time
}

// Manager is the connection lifecycle manager for one dashboard mount.
type Manager struct {
	transport Transport
	opts      Options

	mu        sync.Mutex // serializes state transitions against Teardown
	window    buffer.Window
	agg       stats.Aggregate
	status    Status
	lastErr   string
	version   uint64
	tornDown  bool
	everOpen  bool
	snapshot  atomic.Pointer[Snapshot]
	updates   chan struct{}
	started   atomic.Bool
	stopOnce  sync.Once
	stop      chan struct{}
	doneOnce  sync.Once
	done      chan struct{}
	rejectLog rateLimitedLog
}

// NewManager builds a Manager around transport. Nothing is dialed until Start.
func NewManager(transport Transport, opts Options) *Manager {
	if opts.Name == "" {
		opts.Name = "Feed"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	m := &Manager{
		transport: transport,
		opts:      opts,
		window:    buffer.NewWindow(opts.Capacity),
		status:    Disconnected,
		updates:   make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		rejectLog: rateLimitedLog{every: 10 * time.Second},
	}
	m.publishLocked()
	return m
}

// Start runs the transport on its own goroutine. It returns immediately.
func (m *Manager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	select {
	case <-m.stop:
		// Teardown may have seen started already set and left done open.
		m.closeDone()
		return ErrTornDown
	default:
	}
	go m.run(ctx)
	return nil
}

// Snapshot returns the latest published state.
func (m *Manager) Snapshot() *Snapshot {
	return m.snapshot.Load()
}

// Updates signals that a new Snapshot was published. Signals coalesce; a
// reader should always fetch Snapshot after receiving one.
func (m *Manager) Updates() <-chan struct{} {
	return m.updates
}

// Done is closed once the ingest goroutine has exited.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Teardown closes the transport exactly once. State is frozen before the
// transport is closed, so callbacks still in flight after this point are
// discarded. Calling Teardown again is a no-op.
func (m *Manager) Teardown() error {
	var err error
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.tornDown = true
		m.mu.Unlock()
		close(m.stop)
		if m.transport != nil {
			err = m.transport.Close()
		}
		if !m.started.Load() {
			m.closeDone()
		}
		log.Printf("%s: torn down", m.opts.Name)
	})
	return err
}

// Wait blocks until the ingest goroutine exits or ctx is done.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) closeDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

func (m *Manager) run(ctx context.Context) {
	defer m.closeDone()
	policy := m.opts.Reconnect
	bo := newBackoff(policy.BaseDelay, policy.MaxDelay)
	failures := 0

	for {
		if m.stopped(ctx) {
			return
		}
		opened := false
		cb := Callbacks{
			OnOpen: func() {
				opened = true
				m.handleOpen()
			},
			OnMessage: m.handleMessage,
			OnError:   m.handleError,
			OnClose:   m.handleClose,
		}
		err := m.transport.Run(ctx, cb)
		if m.stopped(ctx) {
			return
		}
		if opened {
			bo.Reset()
			failures = 0
		} else {
			failures++
		}
		if !policy.Enabled {
			if err != nil {
				log.Printf("%s: connection ended: %v (reconnect disabled)", m.opts.Name, err)
			} else {
				log.Printf("%s: connection closed (reconnect disabled)", m.opts.Name)
			}
			return
		}
		if policy.MaxAttempts > 0 && failures >= policy.MaxAttempts {
			log.Printf("%s: giving up after %d failed attempts", m.opts.Name, failures)
			return
		}
		delay := bo.Next()
		if err != nil {
			log.Printf("%s: connection ended: %v (retry in %s)", m.opts.Name, err, delay)
		} else {
			log.Printf("%s: connection closed (retry in %s)", m.opts.Name, delay)
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-m.stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (m *Manager) stopped(ctx context.Context) bool {
	select {
	case <-m.stop:
		return true
	default:
	}
	return ctx.Err() != nil
}

func (m *Manager) handleOpen() {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	reopened := m.everOpen
	m.everOpen = true
	m.setStatusLocked(Connected, "")
	m.mu.Unlock()

	if reopened {
		m.opts.Tracker.RecordReconnect()
		log.Printf("%s: reconnected", m.opts.Name)
	} else {
		log.Printf("%s: connected", m.opts.Name)
	}
}

func (m *Manager) handleError(err error) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(Errored, msg)
	m.mu.Unlock()
	log.Printf("%s: transport error: %s", m.opts.Name, msg)
}

func (m *Manager) handleClose(err error) {
	m.mu.Lock()
	if m.tornDown {
		m.mu.Unlock()
		return
	}
	m.setStatusLocked(Disconnected, m.lastErr)
	m.mu.Unlock()
	log.Printf("%s: disconnected", m.opts.Name)
}

// handleMessage normalizes one frame and, when accepted, applies the window
// push and the aggregate update under one lock before publishing them
// together. Nothing is counted once teardown has begun.
func (m *Manager) handleMessage(raw []byte) {
	ev, err := event.Normalize(raw)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tornDown {
		return
	}
	if err != nil {
		if event.IsIgnored(err) {
			m.opts.Tracker.RecordIgnored()
			if m.opts.Observer != nil {
				m.opts.Observer.FrameIgnored()
			}
			return
		}
		m.opts.Tracker.RecordRejected()
		if m.opts.Observer != nil {
			m.opts.Observer.FrameRejected(err)
		}
		m.rejectLog.Printf(m.opts.Now(), "%s: dropping frame: %v", m.opts.Name, err)
		return
	}

	m.window = buffer.Push(m.window, ev)
	m.agg = stats.Update(m.agg, ev)
	snap := m.publishLocked()
	m.opts.Tracker.RecordAccepted(ev)
	if m.opts.Observer != nil {
		m.opts.Observer.FrameAccepted(ev, snap)
	}
}

func (m *Manager) setStatusLocked(s Status, lastErr string) {
	changed := m.status != s
	m.status = s
	m.lastErr = lastErr
	m.publishLocked()
	if changed && m.opts.Observer != nil {
		m.opts.Observer.StatusChanged(s)
	}
}

func (m *Manager) publishLocked() *Snapshot {
	m.version++
	snap := &Snapshot{
		Status:    m.status,
		Window:    m.window,
		Stats:     m.agg,
		LastError: m.lastErr,
		Version:   m.version,
		UpdatedAt: m.opts.Now(),
	}
	m.snapshot.Store(snap)
	select {
	case m.updates <- struct{}{}:
	default:
	}
	return snap
}

// rateLimitedLog emits at most one line per interval and reports how many
// were suppressed in between. Only the ingest goroutine uses it.
type rateLimitedLog struct {
	every      time.Duration
	last       time.Time
	suppressed int
}

func (r *rateLimitedLog) Printf(now time.Time, format string, args ...any) {
	if !r.last.IsZero() && now.Sub(r.last) < r.every {
		r.suppressed++
		return
	}
	if r.suppressed > 0 {
		log.Printf("(suppressed %d similar messages)", r.suppressed)
		r.suppressed = 0
	}
	r.last = now
	log.Printf(format, args...)
}
