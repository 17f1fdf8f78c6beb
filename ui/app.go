// Package ui is the terminal front end: a login page gated by the session
// flag and a live dashboard page bound to one feed.Manager per mount.
package ui

import (
	"errors"
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
	"time"

	"seismicdash/feed"
	"seismicdash/session"
	"seismicdash/stats"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
)

const (
	pageLogin     = "login"
	pageDashboard = "dashboard"

	ageRefreshInterval = time.Second
)

// Options wire the UI to the session and to the feed it mounts.
type Options struct {
	Session *session.Session
	// Mount builds and starts a fresh manager each time the dashboard is
	// shown.
	Mount func() (*feed.Manager, error)
	// Unmount runs after the manager has been torn down.
	Unmount func(*feed.Manager)
	Tracker *stats.Tracker
	FPS     int
}

// App is the tview application hosting the login and dashboard pages.
type App struct {
	app       *tview.Application
	pages     *tview.Pages
	scheduler *frameScheduler
	latency   *latencyRing
	opts      Options

	login *loginPage
	dash  *dashboardPage
	route session.Route

	ready     chan struct{}
	done      chan struct{}
	doneOnce  sync.Once
	stopOnce  sync.Once
	readyOnce sync.Once

	mu        sync.Mutex
	mgr       *feed.Manager
	watchStop chan struct{}

	sysMu    sync.Mutex
	sysLines []string
}

var _ Surface = (*App)(nil)

// New constructs the terminal UI. Call Start to show it.
func New(opts Options) *App {
	return newApp(opts, tview.NewApplication())
}

func newApp(opts Options, app *tview.Application) *App {
	a := &App{
		app:     app,
		pages:   tview.NewPages(),
		latency: newLatencyRing(256),
		opts:    opts,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
	a.scheduler = newFrameScheduler(app, opts.FPS, 100*time.Millisecond, a.latency.Observe)
	a.login = newLoginPage(a.submitLogin)
	a.dash = newDashboardPage(opts.Tracker)
	a.pages.AddPage(pageLogin, a.login.root, true, false)
	a.pages.AddPage(pageDashboard, a.dash.root, true, false)

	if app != nil {
		app.SetBeforeDrawFunc(func(tcell.Screen) bool {
			a.readyOnce.Do(func() { close(a.ready) })
			return false
		})
		app.SetInputCapture(a.handleKey)
		app.SetRoot(a.pages, true)
	}
	return a
}

// Start resolves the initial route and runs the application in the
// background. Done is closed when the application exits.
func (a *App) Start() {
	a.Navigate("/")
	if a.app == nil {
		return
	}
	a.scheduler.Start()
	go func() {
		if err := a.app.Run(); err != nil {
			log.Printf("UI: tview error: %v", err)
		}
		a.Stop()
		a.doneOnce.Do(func() { close(a.done) })
	}()
}

func (a *App) WaitReady() {
	if a == nil || a.app == nil {
		return
	}
	<-a.ready
}

// Stop tears down any mounted feed and exits the application. It leaves the
// session flag alone so the next start resumes where this one ended.
func (a *App) Stop() {
	if a == nil {
		return
	}
	a.stopOnce.Do(func() {
		a.unmount(false)
		a.scheduler.Stop()
		if p50, p99, n := a.latency.Percentiles(); n > 0 {
			log.Printf("UI: frame delay p50=%s p99=%s over %d frames", p50, p99, n)
		}
		if a.app != nil {
			a.app.Stop()
			return
		}
		a.doneOnce.Do(func() { close(a.done) })
	})
}

func (a *App) Done() <-chan struct{} {
	return a.done
}

// Route reports the page currently shown.
func (a *App) Route() session.Route {
	return a.route
}

// Navigate shows the page the guard resolves path to, mounting or unmounting
// the feed as needed. Must run on the UI goroutine once the app is running.
func (a *App) Navigate(path string) session.Route {
	route := session.Resolve(path, a.opts.Session)
	if route == session.RouteDashboard {
		if err := a.mount(); err != nil {
			log.Printf("UI: mount dashboard: %v", err)
			a.login.showError(fmt.Sprintf("Unable to start feed: %v", err))
			route = session.RouteLogin
		}
	}
	switch route {
	case session.RouteDashboard:
		a.pages.SwitchToPage(pageDashboard)
	default:
		a.unmount(true)
		a.pages.SwitchToPage(pageLogin)
		if a.app != nil {
			a.app.SetFocus(a.login.form)
		}
	}
	a.route = route
	return route
}

func (a *App) submitLogin(username, password string) {
	if err := a.opts.Session.Login(username, password); err != nil {
		if errors.Is(err, session.ErrInvalidCredentials) {
			a.login.showError(invalidLoginText)
			return
		}
		log.Printf("UI: login: %v", err)
		a.login.showError(fmt.Sprintf("Login failed: %v", err))
		return
	}
	a.login.reset()
	a.Navigate(string(session.RouteDashboard))
}

func (a *App) logout() {
	if err := a.opts.Session.Logout(); err != nil {
		log.Printf("UI: logout: %v", err)
	}
	a.Navigate(string(session.RouteLogin))
}

func (a *App) handleKey(ev *tcell.EventKey) *tcell.EventKey {
	if ev.Key() == tcell.KeyCtrlC {
		a.Stop()
		return nil
	}
	if a.route != session.RouteDashboard {
		return ev
	}
	switch ev.Rune() {
	case 'q', 'Q':
		a.Stop()
		return nil
	case 'L':
		a.logout()
		return nil
	}
	if a.dash.handleKey(ev) {
		return nil
	}
	return ev
}

func (a *App) mount() error {
	a.mu.Lock()
	mounted := a.mgr != nil
	a.mu.Unlock()
	if mounted {
		return nil
	}
	if a.opts.Mount == nil {
		return errors.New("no feed configured")
	}
	mgr, err := a.opts.Mount()
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	a.mu.Lock()
	a.mgr = mgr
	a.watchStop = stop
	a.mu.Unlock()

	a.dash.reset()
	a.dash.render(mgr.Snapshot())
	go a.watch(mgr, stop)
	return nil
}

// unmount tears down the mounted manager. resetView clears the dashboard
// primitives and must only be set on the UI goroutine.
func (a *App) unmount(resetView bool) {
	a.mu.Lock()
	mgr, stop := a.mgr, a.watchStop
	a.mgr, a.watchStop = nil, nil
	a.mu.Unlock()
	if mgr == nil {
		return
	}
	close(stop)
	if err := mgr.Teardown(); err != nil {
		log.Printf("UI: feed teardown: %v", err)
	}
	if a.opts.Unmount != nil {
		a.opts.Unmount(mgr)
	}
	if resetView {
		a.dash.reset()
	}
}

// watch turns manager updates into coalesced dashboard renders. A slow tick
// keeps relative ages fresh while the feed is quiet.
func (a *App) watch(mgr *feed.Manager, stop <-chan struct{}) {
	ticker := time.NewTicker(ageRefreshInterval)
	defer ticker.Stop()
	done := mgr.Done()
	for {
		select {
		case <-stop:
			return
		case <-mgr.Updates():
			a.scheduleRender(mgr)
		case <-ticker.C:
			a.scheduleRender(mgr)
		case <-done:
			a.scheduleRender(mgr)
			done = nil
		}
	}
}

func (a *App) scheduleRender(mgr *feed.Manager) {
	snap := mgr.Snapshot()
	a.scheduler.Schedule("dashboard", func() {
		a.mu.Lock()
		current := a.mgr
		a.mu.Unlock()
		if current != mgr {
			return
		}
		a.dash.render(snap)
	})
}

// AppendSystem adds a log line to the dashboard's system pane.
func (a *App) AppendSystem(line string) {
	if a == nil {
		return
	}
	a.sysMu.Lock()
	a.sysLines = append(a.sysLines, tview.Escape(line))
	if over := len(a.sysLines) - systemPaneLines; over > 0 {
		a.sysLines = append(a.sysLines[:0], a.sysLines[over:]...)
	}
	text := strings.Join(a.sysLines, "\n")
	a.sysMu.Unlock()
	a.scheduler.Schedule("system", func() {
		a.dash.setSystemText(text)
	})
}

// SystemWriter returns an io.Writer that feeds the system pane line by line.
func (a *App) SystemWriter() io.Writer {
	if a == nil {
		return nil
	}
	return &paneWriter{sink: a}
}
