package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"seismicdash/config"
	"seismicdash/feed"
	"seismicdash/metrics"
	"seismicdash/session"
	"seismicdash/stats"
	"seismicdash/ui"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	defaultConfigPath = "data/config"
	envConfigPath     = "SEISMICDASH_CONFIG_PATH"

	// Headless logins read credentials from the environment.
	envUsername = "SEISMICDASH_USERNAME"
	envPassword = "SEISMICDASH_PASSWORD"

	statsInterval   = 30 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Version will be set at build time
var Version = "dev"

// Purpose: Report whether stdout is a TTY for UI gating.
// Key aspects: Uses term.IsTerminal on stdout fd.
// Upstream: main UI selection.
// Downstream: term.IsTerminal.
func isStdoutTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Purpose: Load configuration from env/default locations.
// Key aspects: Tries the env override first, then the default config dir;
// when neither exists the built-in defaults are used.
// Upstream: main startup.
// Downstream: config.Load and os.IsNotExist.
func loadDashboardConfig() (*config.Config, string, error) {
	candidates := make([]string, 0, 2)
	if envPath := strings.TrimSpace(os.Getenv(envConfigPath)); envPath != "" {
		candidates = append(candidates, envPath)
	}
	candidates = append(candidates, defaultConfigPath)

	for _, path := range candidates {
		cfg, err := config.Load(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, path, err
		}
		return cfg, cfg.LoadedFrom, nil
	}
	return config.Default(), "built-in defaults", nil
}

// Purpose: Open the session flag store selected by config.
// Key aspects: A sqlite path without an extension is treated as a directory.
// Upstream: main startup.
// Downstream: session.Open, session.New.
func openSession(cfg config.SessionConfig) (*session.Session, error) {
	path := cfg.Path
	if cfg.Backend == session.BackendSQLite && filepath.Ext(path) == "" {
		path = filepath.Join(path, "session.db")
	}
	store, err := session.Open(cfg.Backend, path)
	if err != nil {
		return nil, err
	}
	users := make([]session.User, 0, len(cfg.Users))
	for _, u := range cfg.Users {
		users = append(users, session.User{Username: u.Username, Password: u.Password})
	}
	return session.New(session.NewCredentials(users), store), nil
}

// Purpose: Build the push transport for one mount.
// Key aspects: A transport is single-use once closed, so every mount gets a
// new one.
// Upstream: newMounter.
// Downstream: feed.NewWebSocketTransport, feed.NewMQTTTransport.
func buildTransport(cfg config.FeedConfig) feed.Transport {
	if cfg.Transport == config.TransportMQTT {
		t := feed.NewMQTTTransport(cfg.MQTT.Broker, cfg.MQTT.Topic)
		t.ClientID = cfg.MQTT.ClientID
		t.QoS = byte(cfg.MQTT.QoS)
		t.Username = cfg.MQTT.Username
		t.Password = cfg.MQTT.Password
		return t
	}
	return feed.NewWebSocketTransport(cfg.URL)
}

// Purpose: Return the mount function used by the dashboard lifecycle.
// Key aspects: Each call yields a fresh, started Manager with empty state.
// Upstream: ui.Options.Mount and runHeadless.
// Downstream: feed.NewManager, Manager.Start.
func newMounter(ctx context.Context, cfg *config.Config, tracker *stats.Tracker, collector *metrics.Collector, active *activeFeed) func() (*feed.Manager, error) {
	return func() (*feed.Manager, error) {
		// Counters describe the current mount, like the window and aggregate.
		tracker.Reset()
		mgr := feed.NewManager(buildTransport(cfg.Feed), feed.Options{
			Name:     "Feed",
			Capacity: cfg.Buffer.Capacity,
			Reconnect: feed.ReconnectPolicy{
				Enabled:     cfg.ReconnectEnabled(),
				BaseDelay:   cfg.BaseDelay(),
				MaxDelay:    cfg.MaxDelay(),
				MaxAttempts: cfg.Feed.Reconnect.MaxAttempts,
			},
			Tracker:  tracker,
			Observer: collector,
		})
		if err := mgr.Start(ctx); err != nil {
			return nil, err
		}
		active.Set(mgr)
		return mgr, nil
	}
}

func main() {
	cfg, configSource, err := loadDashboardConfig()
	if err != nil {
		log.Fatalf("Error loading config: %v", err)
	}

	router, logErr := setupLogging(cfg.Logging, os.Stderr)
	log.SetFlags(0)
	log.SetOutput(router)
	defer router.Close()
	if logErr != nil {
		log.Printf("Warning: file logging disabled: %v", logErr)
	}
	log.Printf("Seismic dashboard v%s starting...", Version)
	log.Printf("Loaded configuration from %s", configSource)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracker := stats.NewTracker()
	collector := metrics.NewCollector()
	router.SetRotateHook(func(prevDate time.Time, prevPath, newPath string) {
		log.Printf("Logging: rotated %s -> %s; %s accepted, %s rejected this mount",
			filepath.Base(prevPath), filepath.Base(newPath),
			humanize.Comma(int64(tracker.Accepted())), humanize.Comma(int64(tracker.Rejected())))
	})

	adminSrv, err := metrics.Start(collector, cfg.Admin.BindAddress, cfg.Admin.HTTPPort)
	if err != nil {
		log.Printf("Warning: admin server disabled: %v", err)
	}

	sess, err := openSession(cfg.Session)
	if err != nil {
		log.Fatalf("Error opening session store: %v", err)
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Printf("Session: close: %v", err)
		}
	}()

	active := &activeFeed{}
	mount := newMounter(ctx, cfg, tracker, collector, active)
	startFeedHealthMonitor(ctx, feedHealthInterval, feedIdleThreshold, active.Snapshot)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if cfg.UIEnabled() && isStdoutTTY() {
		runUI(cfg, sess, mount, tracker, collector, active, router, sigChan)
	} else {
		if cfg.UIEnabled() {
			log.Printf("UI disabled (tview requires an interactive console)")
		}
		cfg.Print()
		go func() {
			sig := <-sigChan
			log.Printf("Received %s", sig)
			cancel()
		}()
		if err := runHeadless(ctx, sess, mount, tracker, active); err != nil {
			log.Printf("Headless: %v", err)
		}
	}

	log.Println("Shutting down gracefully...")
	cancel()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := adminSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin server shutdown: %v", err)
	}
	log.Printf("Last mount processed %s events (%s ignored, %s rejected, %d reconnects) in %s",
		humanize.Comma(int64(tracker.Accepted())),
		humanize.Comma(int64(tracker.Ignored())),
		humanize.Comma(int64(tracker.Rejected())),
		tracker.Reconnects(),
		tracker.GetUptime().Round(time.Second))
}

// Purpose: Run the interactive dashboard until the user quits or a signal
// arrives.
// Key aspects: Console logs move into the system pane once the UI is up;
// periodic summaries go to the log file only.
// Upstream: main.
// Downstream: ui.New, displayStats.
func runUI(cfg *config.Config, sess *session.Session, mount func() (*feed.Manager, error), tracker *stats.Tracker, collector *metrics.Collector, active *activeFeed, router *logRouter, sigChan <-chan os.Signal) {
	app := ui.New(ui.Options{
		Session: sess,
		Mount:   mount,
		Unmount: func(m *feed.Manager) {
			active.Clear(m)
			collector.Reset()
		},
		Tracker: tracker,
		FPS:     cfg.UI.FPS,
	})
	var surface ui.Surface = app
	app.Start()
	surface.WaitReady()
	router.SetConsole(surface.SystemWriter(), false)
	defer router.SetConsole(os.Stderr, true)

	stopStats := make(chan struct{})
	go displayStats(statsInterval, tracker, func(line string) { router.WriteFileOnly(line, time.Now()) }, stopStats)
	defer close(stopStats)

	select {
	case <-surface.Done():
	case sig := <-sigChan:
		log.Printf("Received %s", sig)
	}
	surface.Stop()
	<-surface.Done()
}

// Purpose: Run the feed without a terminal UI.
// Key aspects: The session gate still applies; credentials come from the
// environment when no login is persisted.
// Upstream: main.
// Downstream: session.Session.Login, feed.Manager, displayStats.
func runHeadless(ctx context.Context, sess *session.Session, mount func() (*feed.Manager, error), tracker *stats.Tracker, active *activeFeed) error {
	if !sess.Authenticated() {
		user, pass := os.Getenv(envUsername), os.Getenv(envPassword)
		if user == "" {
			return fmt.Errorf("not logged in; set %s and %s", envUsername, envPassword)
		}
		if err := sess.Login(user, pass); err != nil {
			return err
		}
	}
	mgr, err := mount()
	if err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	defer func() {
		active.Clear(mgr)
		if err := mgr.Teardown(); err != nil {
			log.Printf("Feed: teardown: %v", err)
		}
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := mgr.Wait(waitCtx); err != nil {
			log.Printf("Feed: ingest did not stop: %v", err)
		}
	}()

	stopStats := make(chan struct{})
	defer close(stopStats)
	go displayStats(statsInterval, tracker, func(line string) { log.Print(line) }, stopStats)

	var last uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-mgr.Done():
			snap := mgr.Snapshot()
			last = logNewEvents(snap, last)
			return fmt.Errorf("feed ended (%s): %s", snap.Status, snap.LastError)
		case <-mgr.Updates():
			last = logNewEvents(mgr.Snapshot(), last)
		}
	}
}

// Purpose: Log every event accepted since the previous call.
// Key aspects: Update signals coalesce, so one wakeup may cover several
// events; they are logged oldest first, bounded by what the window holds.
// Upstream: runHeadless.
// Downstream: buffer.Window.Recent.
func logNewEvents(snap *feed.Snapshot, last uint64) uint64 {
	if snap == nil || snap.Stats.Total <= last {
		return last
	}
	n := snap.Stats.Total - last
	if n > uint64(snap.Window.Len()) {
		log.Printf("Event: %d events arrived faster than logged; showing newest %d", n, snap.Window.Len())
		n = uint64(snap.Window.Len())
	}
	events := snap.Window.Recent(int(n))
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		log.Printf("Event: M%.1f %s depth %.1f km at %s (%s)", e.Mag, e.Region, e.Depth, stats.HumanTime(e.Time), e.Auth)
	}
	return snap.Stats.Total
}

// Purpose: Emit the tracker summary on a fixed interval.
// Key aspects: emit decides where lines go (console or file only).
// Upstream: runUI, runHeadless.
// Downstream: stats.Tracker.SnapshotLines.
func displayStats(interval time.Duration, tracker *stats.Tracker, emit func(string), stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			emit(fmt.Sprintf("Stats: uptime %s", tracker.GetUptime().Round(time.Second)))
			for _, line := range tracker.SnapshotLines() {
				emit("Stats: " + line)
			}
		}
	}
}
