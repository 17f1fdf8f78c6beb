package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"seismicdash/buffer"
	"seismicdash/config"
	"seismicdash/event"
	"seismicdash/feed"
	"seismicdash/session"
	"seismicdash/stats"
)

func TestLoadDashboardConfigFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()
	t.Setenv(envConfigPath, filepath.Join(dir, "missing"))

	cfg, source, err := loadDashboardConfig()
	if err != nil {
		t.Fatalf("loadDashboardConfig: %v", err)
	}
	if source != "built-in defaults" {
		t.Fatalf("source=%q", source)
	}
	if cfg.Buffer.Capacity != config.Default().Buffer.Capacity {
		t.Fatalf("capacity=%d", cfg.Buffer.Capacity)
	}
}

func TestLoadDashboardConfigUsesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	body := "buffer:\n  capacity: 25\n"
	if err := os.WriteFile(filepath.Join(dir, "feed.yaml"), []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, dir)

	cfg, source, err := loadDashboardConfig()
	if err != nil {
		t.Fatalf("loadDashboardConfig: %v", err)
	}
	if cfg.Buffer.Capacity != 25 {
		t.Fatalf("capacity=%d", cfg.Buffer.Capacity)
	}
	if source != dir {
		t.Fatalf("source=%q want %q", source, dir)
	}
}

func TestLoadDashboardConfigReportsInvalidFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("buffer: [\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(envConfigPath, dir)
	if _, _, err := loadDashboardConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestBuildTransport(t *testing.T) {
	cfg := config.Default().Feed
	if _, ok := buildTransport(cfg).(*feed.WebSocketTransport); !ok {
		t.Fatalf("default transport should be websocket")
	}

	cfg.Transport = config.TransportMQTT
	cfg.MQTT.Broker = "tcp://localhost:1883"
	cfg.MQTT.QoS = 1
	cfg.MQTT.Username = "ops"
	tr, ok := buildTransport(cfg).(*feed.MQTTTransport)
	if !ok {
		t.Fatalf("expected mqtt transport")
	}
	if tr.Broker != "tcp://localhost:1883" || tr.QoS != 1 || tr.Username != "ops" {
		t.Fatalf("unexpected mqtt settings: %+v", tr)
	}
	if tr.Topic != cfg.MQTT.Topic {
		t.Fatalf("topic=%q", tr.Topic)
	}
}

func TestOpenSessionSQLiteDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session")
	sess, err := openSession(config.SessionConfig{Backend: session.BackendSQLite, Path: dir})
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	if err := sess.Login("admin", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "session.db")); err != nil {
		t.Fatalf("expected session.db: %v", err)
	}
}

func TestOpenSessionConfiguredUsers(t *testing.T) {
	sess, err := openSession(config.SessionConfig{
		Backend: session.BackendMemory,
		Users:   []config.User{{Username: "ops", Password: "s3cret"}},
	})
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer sess.Close()
	if err := sess.Login("admin", "admin123"); err == nil {
		t.Fatalf("default users should be replaced by configured users")
	}
	if err := sess.Login("ops", "s3cret"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestRunHeadlessRequiresLogin(t *testing.T) {
	t.Setenv(envUsername, "")
	sess := session.New(session.NewCredentials(nil), session.NewMemoryStore())
	mounted := false
	mount := func() (*feed.Manager, error) {
		mounted = true
		return nil, nil
	}
	err := runHeadless(context.Background(), sess, mount, stats.NewTracker(), &activeFeed{})
	if err == nil || !strings.Contains(err.Error(), envUsername) {
		t.Fatalf("expected missing credentials error, got %v", err)
	}
	if mounted {
		t.Fatalf("feed should not mount while logged out")
	}
}

func TestRunHeadlessRejectsBadCredentials(t *testing.T) {
	t.Setenv(envUsername, "admin")
	t.Setenv(envPassword, "nope")
	sess := session.New(session.NewCredentials(nil), session.NewMemoryStore())
	err := runHeadless(context.Background(), sess, func() (*feed.Manager, error) {
		t.Fatalf("mount should not be called")
		return nil, nil
	}, stats.NewTracker(), &activeFeed{})
	if err != session.ErrInvalidCredentials {
		t.Fatalf("err=%v", err)
	}
}

func TestDisplayStatsEmitsSummary(t *testing.T) {
	tracker := stats.NewTracker()
	tracker.RecordIgnored()
	lines := make(chan string, 64)
	stop := make(chan struct{})
	go displayStats(10*time.Millisecond, tracker, func(line string) {
		select {
		case lines <- line:
		default:
		}
	}, stop)
	defer close(stop)

	select {
	case line := <-lines:
		if !strings.HasPrefix(line, "Stats: ") {
			t.Fatalf("line=%q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no stats emitted")
	}
}

// syncBuffer collects log output written from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func captureLog(t *testing.T) *syncBuffer {
	t.Helper()
	out := &syncBuffer{}
	flags := log.Flags()
	log.SetOutput(out)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(os.Stderr)
		log.SetFlags(flags)
	})
	return out
}

// burstTransport delivers its frames back to back on open, then idles until
// closed.
type burstTransport struct {
	frames [][]byte
	once   sync.Once
	closed chan struct{}
}

func (b *burstTransport) Run(ctx context.Context, cb feed.Callbacks) error {
	cb.OnOpen()
	for _, f := range b.frames {
		cb.OnMessage(f)
	}
	select {
	case <-b.closed:
	case <-ctx.Done():
	}
	return nil
}

func (b *burstTransport) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}

func quakeFrame(i int) []byte {
	return []byte(fmt.Sprintf(`{"action":"create","data":{"id":"q%d","properties":{"time":"2024-01-02T03:04:0%dZ","lat":10,"lon":20,"depth":5,"mag":%d.5,"magtype":"ml","flynn_region":"REGION-%d","auth":"EMSC"}}}`, i, i, i, i))
}

func TestRunHeadlessLogsEveryEvent(t *testing.T) {
	out := captureLog(t)
	sess := session.New(session.NewCredentials(nil), session.NewMemoryStore())
	if err := sess.Login("admin", "admin123"); err != nil {
		t.Fatalf("login: %v", err)
	}
	tr := &burstTransport{closed: make(chan struct{})}
	for i := 1; i <= 5; i++ {
		tr.frames = append(tr.frames, quakeFrame(i))
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mount := func() (*feed.Manager, error) {
		mgr := feed.NewManager(tr, feed.Options{Capacity: 10})
		return mgr, mgr.Start(ctx)
	}

	result := make(chan error, 1)
	go func() { result <- runHeadless(ctx, sess, mount, stats.NewTracker(), &activeFeed{}) }()

	deadline := time.Now().Add(2 * time.Second)
	for strings.Count(out.String(), "Event: ") < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-result; err != nil {
		t.Fatalf("runHeadless: %v", err)
	}

	logged := out.String()
	if n := strings.Count(logged, "Event: "); n != 5 {
		t.Fatalf("expected 5 event lines, got %d:\n%s", n, logged)
	}
	prev := -1
	for i := 1; i <= 5; i++ {
		idx := strings.Index(logged, fmt.Sprintf("REGION-%d ", i))
		if idx < 0 || idx < prev {
			t.Fatalf("event %d missing or out of order:\n%s", i, logged)
		}
		prev = idx
	}
}

func TestLogNewEventsCoversCoalescedUpdates(t *testing.T) {
	out := captureLog(t)
	w := buffer.NewWindow(3)
	for i := 1; i <= 5; i++ {
		w = buffer.Push(w, event.Event{ID: fmt.Sprint(i), Region: fmt.Sprintf("R%d", i), Mag: float64(i)})
	}
	snap := &feed.Snapshot{Window: w, Stats: stats.Aggregate{Total: 5}}

	if got := logNewEvents(snap, 3); got != 5 {
		t.Fatalf("last=%d", got)
	}
	logged := out.String()
	if strings.Count(logged, "Event: M") != 2 || strings.Index(logged, "R4 ") > strings.Index(logged, "R5 ") {
		t.Fatalf("expected R4 then R5:\n%s", logged)
	}
	if strings.Contains(logged, "R3 ") {
		t.Fatalf("already logged event repeated:\n%s", logged)
	}

	if got := logNewEvents(snap, 5); got != 5 {
		t.Fatalf("unchanged total should keep last, got %d", got)
	}

	// Everything since the start is more than the window holds.
	out2 := captureLog(t)
	logNewEvents(snap, 0)
	if n := strings.Count(out2.String(), "Event: M"); n != 3 {
		t.Fatalf("expected the 3 windowed events, got %d:\n%s", n, out2.String())
	}
}
