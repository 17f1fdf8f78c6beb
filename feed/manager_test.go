package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"seismicdash/stats"
)

type runFunc func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error

// scriptTransport plays one runFunc per Run call and then blocks until Close.
type scriptTransport struct {
	mu         sync.Mutex
	runs       []runFunc
	calls      int
	closeCount atomic.Int32
	closeOnce  sync.Once
	closed     chan struct{}
}

func newScriptTransport(runs ...runFunc) *scriptTransport {
	return &scriptTransport{runs: runs, closed: make(chan struct{})}
}

func (s *scriptTransport) Run(ctx context.Context, cb Callbacks) error {
	s.mu.Lock()
	i := s.calls
	s.calls++
	s.mu.Unlock()
	if i >= len(s.runs) {
		select {
		case <-s.closed:
		case <-ctx.Done():
		}
		return ErrTransportClosed
	}
	return s.runs[i](ctx, cb, s.closed)
}

func (s *scriptTransport) Close() error {
	s.closeCount.Add(1)
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptTransport) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func createFrame(id string, mag float64, region string) []byte {
	return []byte(fmt.Sprintf(`{"action":"create","data":{"id":%q,"properties":{"time":"2024-01-02T03:04:05.6Z","lat":38.1,"lon":25.4,"depth":10,"mag":%g,"magtype":"mw","flynn_region":%q,"auth":"EMSC"}}}`, id, mag, region))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func blockUntilClosed(ctx context.Context, closed <-chan struct{}) {
	select {
	case <-closed:
	case <-ctx.Done():
	}
}

func TestManagerInitialSnapshot(t *testing.T) {
	m := NewManager(newScriptTransport(), Options{})
	snap := m.Snapshot()
	if snap.Status != Disconnected || snap.Window.Len() != 0 || snap.Stats.Total != 0 {
		t.Fatalf("unexpected initial snapshot: %+v", snap)
	}
	if snap.Window.Capacity() != 200 {
		t.Fatalf("expected default capacity 200, got %d", snap.Window.Capacity())
	}
}

func TestManagerAppliesOnlyAcceptedFrames(t *testing.T) {
	tracker := stats.NewTracker()
	tr := newScriptTransport(func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		cb.OnOpen()
		cb.OnMessage(createFrame("e1", 4.1, "Crete"))
		cb.OnMessage([]byte(`{"action":"update","data":{"id":"e1","properties":{}}}`))
		cb.OnMessage([]byte(`not json`))
		cb.OnMessage([]byte(`{"action":"create","data":{"id":"bad","properties":{"time":"2024-01-02T03:04:05Z"}}}`))
		cb.OnMessage(createFrame("e2", 6.2, "Aegean Sea"))
		blockUntilClosed(ctx, closed)
		return nil
	})
	m := NewManager(tr, Options{Tracker: tracker})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer m.Teardown()

	waitFor(t, "two accepted events", func() bool { return m.Snapshot().Stats.Total == 2 })
	snap := m.Snapshot()
	if snap.Status != Connected {
		t.Fatalf("expected connected, got %s", snap.Status)
	}
	front, _ := snap.Window.Newest()
	if front.ID != "e2" || front.Region != "Aegean Sea" {
		t.Fatalf("unexpected front event: %+v", front)
	}
	if snap.Stats.MaxMagnitude < 6.2 {
		t.Fatalf("expected max >= 6.2, got %.1f", snap.Stats.MaxMagnitude)
	}
	if snap.Window.Len() != 2 {
		t.Fatalf("expected 2 events, got %d", snap.Window.Len())
	}
	if tracker.Ignored() != 1 || tracker.Rejected() != 2 || tracker.Accepted() != 2 {
		t.Fatalf("unexpected tracker counts: accepted=%d ignored=%d rejected=%d",
			tracker.Accepted(), tracker.Ignored(), tracker.Rejected())
	}
}

func TestManagerWindowAndStatsStayConsistent(t *testing.T) {
	const n = 450
	tr := newScriptTransport(func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		cb.OnOpen()
		for i := 1; i <= n; i++ {
			cb.OnMessage(createFrame(fmt.Sprintf("e%d", i), float64(i%9), "X"))
		}
		blockUntilClosed(ctx, closed)
		return nil
	})
	m := NewManager(tr, Options{})
	_ = m.Start(context.Background())
	defer m.Teardown()

	// Every published snapshot must satisfy len == min(total, cap).
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap := m.Snapshot()
		want := int(snap.Stats.Total)
		if want > 200 {
			want = 200
		}
		if snap.Window.Len() != want {
			t.Fatalf("window len %d does not match total %d", snap.Window.Len(), snap.Stats.Total)
		}
		if snap.Stats.Total == n {
			break
		}
	}
	snap := m.Snapshot()
	if snap.Stats.Total != n || snap.Window.Len() != 200 {
		t.Fatalf("unexpected final state: total=%d len=%d", snap.Stats.Total, snap.Window.Len())
	}
	if snap.Stats.MaxMagnitude != 8 {
		t.Fatalf("expected max 8, got %.1f", snap.Stats.MaxMagnitude)
	}
}

func TestManagerErrorKeepsAccumulatedState(t *testing.T) {
	step := make(chan struct{})
	tr := newScriptTransport(func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		cb.OnOpen()
		cb.OnMessage(createFrame("e1", 3, "A"))
		cb.OnError(errors.New("boom"))
		<-step
		// Frames arriving while errored are still processed.
		cb.OnMessage(createFrame("e2", 2, "B"))
		<-step
		cb.OnClose(nil)
		return nil
	})
	m := NewManager(tr, Options{})
	_ = m.Start(context.Background())
	defer m.Teardown()

	waitFor(t, "errored status", func() bool { return m.Snapshot().Status == Errored })
	snap := m.Snapshot()
	if snap.Stats.Total != 1 || snap.Window.Len() != 1 || snap.LastError != "boom" {
		t.Fatalf("state lost on error: %+v", snap)
	}
	step <- struct{}{}
	waitFor(t, "second event", func() bool { return m.Snapshot().Stats.Total == 2 })
	if m.Snapshot().Status != Errored {
		t.Fatalf("message should not change status")
	}
	step <- struct{}{}
	waitFor(t, "disconnected status", func() bool { return m.Snapshot().Status == Disconnected })
	<-m.Done()
	if m.Snapshot().Window.Len() != 2 {
		t.Fatalf("close should keep window")
	}
}

func TestManagerTeardownIsIdempotentAndFreezesState(t *testing.T) {
	proceed := make(chan struct{})
	sent := make(chan struct{})
	tr := newScriptTransport(func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		cb.OnOpen()
		cb.OnMessage(createFrame("e1", 1, "A"))
		<-proceed
		// Simulate frames that were in flight when teardown began.
		cb.OnMessage(createFrame("e2", 9, "B"))
		cb.OnMessage([]byte(`{"action":"update","data":{"id":"e1"}}`))
		cb.OnMessage([]byte(`not json`))
		cb.OnError(errors.New("late"))
		cb.OnClose(nil)
		close(sent)
		return nil
	})
	tracker := stats.NewTracker()
	m := NewManager(tr, Options{Tracker: tracker})
	_ = m.Start(context.Background())

	waitFor(t, "first event", func() bool { return m.Snapshot().Stats.Total == 1 })
	before := m.Snapshot()

	if err := m.Teardown(); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	if err := m.Teardown(); err != nil {
		t.Fatalf("second teardown: %v", err)
	}
	close(proceed)
	<-sent
	<-m.Done()

	after := m.Snapshot()
	if after.Version != before.Version || after.Stats.Total != 1 || after.Status != Connected {
		t.Fatalf("state mutated after teardown: before=%+v after=%+v", before, after)
	}
	if got := tr.closeCount.Load(); got != 1 {
		t.Fatalf("expected transport closed once, got %d", got)
	}
	if tracker.Accepted() != 1 || tracker.Ignored() != 0 || tracker.Rejected() != 0 {
		t.Fatalf("counters moved after teardown: accepted=%d ignored=%d rejected=%d",
			tracker.Accepted(), tracker.Ignored(), tracker.Rejected())
	}
}

func TestManagerStartGuards(t *testing.T) {
	m := NewManager(newScriptTransport(), Options{})
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := m.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	_ = m.Teardown()
	<-m.Done()

	fresh := NewManager(newScriptTransport(), Options{})
	_ = fresh.Teardown()
	if err := fresh.Start(context.Background()); !errors.Is(err, ErrTornDown) {
		t.Fatalf("expected ErrTornDown, got %v", err)
	}
	<-fresh.Done()
}

func TestManagerStartRacingTeardownAlwaysClosesDone(t *testing.T) {
	for i := 0; i < 200; i++ {
		m := NewManager(newScriptTransport(), Options{})
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			_ = m.Teardown()
		}()
		wg.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := m.Wait(ctx)
		cancel()
		if err != nil {
			t.Fatalf("iteration %d: done never closed: %v", i, err)
		}
	}
}

func TestManagerReconnectsWithBackoff(t *testing.T) {
	tracker := stats.NewTracker()
	tr := newScriptTransport(
		func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
			cb.OnOpen()
			cb.OnMessage(createFrame("e1", 2, "A"))
			cb.OnClose(nil)
			return nil
		},
		func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
			err := errors.New("dial refused")
			cb.OnError(err)
			return err
		},
		func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
			cb.OnOpen()
			cb.OnMessage(createFrame("e2", 5, "B"))
			blockUntilClosed(ctx, closed)
			return nil
		},
	)
	m := NewManager(tr, Options{
		Tracker:   tracker,
		Reconnect: ReconnectPolicy{Enabled: true, BaseDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond},
	})
	_ = m.Start(context.Background())
	defer m.Teardown()

	waitFor(t, "reconnected session", func() bool {
		s := m.Snapshot()
		return s.Stats.Total == 2 && s.Status == Connected
	})
	if tracker.Reconnects() != 1 {
		t.Fatalf("expected 1 reconnect, got %d", tracker.Reconnects())
	}
	if m.Snapshot().Window.Len() != 2 {
		t.Fatalf("window should survive reconnects")
	}
}

func TestManagerWithoutReconnectStopsAfterClose(t *testing.T) {
	tr := newScriptTransport(func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		cb.OnOpen()
		cb.OnClose(nil)
		return nil
	})
	m := NewManager(tr, Options{})
	_ = m.Start(context.Background())
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("manager did not stop")
	}
	if tr.Calls() != 1 {
		t.Fatalf("expected a single connection attempt, got %d", tr.Calls())
	}
	if m.Snapshot().Status != Disconnected {
		t.Fatalf("expected disconnected, got %s", m.Snapshot().Status)
	}
	if err := m.Teardown(); err != nil {
		t.Fatalf("teardown after close: %v", err)
	}
}

func TestManagerGivesUpAfterMaxAttempts(t *testing.T) {
	fail := func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		err := errors.New("refused")
		cb.OnError(err)
		return err
	}
	tr := newScriptTransport(fail, fail, fail, fail, fail)
	m := NewManager(tr, Options{
		Reconnect: ReconnectPolicy{Enabled: true, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxAttempts: 3},
	})
	_ = m.Start(context.Background())
	select {
	case <-m.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("manager did not give up")
	}
	if tr.Calls() != 3 {
		t.Fatalf("expected 3 attempts, got %d", tr.Calls())
	}
	if m.Snapshot().Status != Errored {
		t.Fatalf("expected errored, got %s", m.Snapshot().Status)
	}
}

func TestManagerUpdatesSignal(t *testing.T) {
	tr := newScriptTransport(func(ctx context.Context, cb Callbacks, closed <-chan struct{}) error {
		cb.OnOpen()
		blockUntilClosed(ctx, closed)
		return nil
	})
	m := NewManager(tr, Options{})
	// Drain the signal from the initial publish.
	select {
	case <-m.Updates():
	default:
	}
	_ = m.Start(context.Background())
	defer m.Teardown()
	select {
	case <-m.Updates():
	case <-time.After(2 * time.Second):
		t.Fatalf("no update signal after open")
	}
}

func TestBackoffDoublesAndResets(t *testing.T) {
	b := newBackoff(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("step %d: expected %s, got %s", i, w, got)
		}
	}
	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Fatalf("expected reset to base, got %s", got)
	}
}

func TestStatusLabels(t *testing.T) {
	if Errored.Label() != "error" || Errored.String() != "errored" {
		t.Fatalf("unexpected errored labels")
	}
	if Connected.Label() != "connected" || Disconnected.Label() != "disconnected" {
		t.Fatalf("unexpected labels")
	}
}
