package main

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"seismicdash/config"
)

const (
	logTimestampLayout = "2006/01/02 15:04:05"
	logFileDateLayout  = "02-Jan-2006"
	maxPartialLogBytes = 16 * 1024
	logErrorInterval   = time.Minute
)

// logSink receives complete log lines.
type logSink interface {
	WriteLine(line string, now time.Time)
	Close() error
}

// writerSink prefixes lines with a timestamp (optionally) and writes them to
// an io.Writer such as stderr or the UI system pane.
type writerSink struct {
	w          io.Writer
	timestamps bool
}

// Purpose: Emit one log line to the wrapped writer.
// Key aspects: Timestamp prefix is optional; the UI pane shows its own layout.
// Upstream: logRouter.Write.
// Downstream: io.Writer.Write.
func (s *writerSink) WriteLine(line string, now time.Time) {
	if s == nil || s.w == nil {
		return
	}
	if s.timestamps {
		line = formatLogTimestamp(now) + " " + line
	}
	_, _ = io.WriteString(s.w, line+"\n")
}

func (s *writerSink) Close() error { return nil }

// rotateHook runs after the daily file switches to a new day.
type rotateHook func(prevDate time.Time, prevPath, newPath string)

// dailyFileSink appends to data/logs/DD-Mon-YYYY.log, switching files at UTC
// midnight and pruning files older than the retention window.
type dailyFileSink struct {
	mu            sync.Mutex
	dir           string
	retentionDays int
	day           string
	path          string
	file          *os.File
	lastErrAt     time.Time
	hook          rotateHook
}

// Purpose: Build the file sink and prune stale logs up front.
// Key aspects: Creates the directory; a cleanup failure is reported but not fatal.
// Upstream: setupLogging.
// Downstream: os.MkdirAll, cleanupOldLogs.
func newDailyFileSink(dir string, retentionDays int) (*dailyFileSink, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("log directory is empty")
	}
	if retentionDays <= 0 {
		retentionDays = config.DefaultLogRetentionDays
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", dir, err)
	}
	if err := cleanupOldLogs(dir, time.Now().UTC(), retentionDays); err != nil {
		fmt.Fprintf(os.Stderr, "Logging: cleanup failed for %s: %v\n", dir, err)
	}
	return &dailyFileSink{dir: dir, retentionDays: retentionDays}, nil
}

// Purpose: Append a timestamped line, opening the next day's file as needed.
// Key aspects: The rotate hook runs on its own goroutine so it may log freely.
// Upstream: logRouter.Write.
// Downstream: os.OpenFile, rotateHook.
func (s *dailyFileSink) WriteLine(line string, now time.Time) {
	if s == nil {
		return
	}
	now = now.UTC()
	day := now.Format(logFileDateLayout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil || s.day != day {
		prevDay, prevPath := s.day, s.path
		if !s.openLocked(day, now) {
			return
		}
		if s.hook != nil && prevDay != "" && prevDay != day {
			if prev, err := time.ParseInLocation(logFileDateLayout, prevDay, time.UTC); err == nil {
				go s.hook(prev, prevPath, s.path)
			}
		}
	}
	if _, err := s.file.WriteString(formatLogTimestamp(now) + " " + line + "\n"); err != nil {
		s.reportLocked(now, fmt.Errorf("write failed: %w", err))
	}
}

func (s *dailyFileSink) openLocked(day string, now time.Time) bool {
	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.reportLocked(now, fmt.Errorf("failed to create log directory %q: %w", s.dir, err))
		return false
	}
	path := filepath.Join(s.dir, logFileNameForDate(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		s.reportLocked(now, fmt.Errorf("open failed for %s: %w", path, err))
		return false
	}
	s.file, s.day, s.path = f, day, path
	if err := cleanupOldLogs(s.dir, now, s.retentionDays); err != nil {
		s.reportLocked(now, fmt.Errorf("cleanup failed: %w", err))
	}
	return true
}

// reportLocked writes sink failures to stderr at most once a minute.
func (s *dailyFileSink) reportLocked(now time.Time, err error) {
	if !s.lastErrAt.IsZero() && now.Sub(s.lastErrAt) < logErrorInterval {
		return
	}
	s.lastErrAt = now
	fmt.Fprintf(os.Stderr, "Logging: %v\n", err)
}

func (s *dailyFileSink) SetRotateHook(hook rotateHook) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.hook = hook
	s.mu.Unlock()
}

// Close is safe to call more than once.
func (s *dailyFileSink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file, s.day, s.path = nil, "", ""
	return err
}

// logRouter is the log.Logger output: it splits writes into lines and hands
// each to the console (stderr or UI pane) and the daily file.
type logRouter struct {
	mu      sync.Mutex
	partial []byte
	console logSink
	file    logSink
}

// Purpose: Wire logging from config without blocking startup.
// Key aspects: Always returns a usable router; a file sink error is returned
// alongside so main can report it.
// Upstream: main startup.
// Downstream: newDailyFileSink, log.SetOutput.
func setupLogging(cfg config.LoggingConfig, console io.Writer) (*logRouter, error) {
	r := &logRouter{console: &writerSink{w: console, timestamps: true}}
	if !cfg.Enabled {
		return r, nil
	}
	fileSink, err := newDailyFileSink(cfg.Dir, cfg.RetentionDays)
	if err != nil {
		return r, err
	}
	r.setFile(fileSink)
	return r, nil
}

// SetConsole redirects console output, e.g. into the UI once it is running.
func (r *logRouter) SetConsole(w io.Writer, timestamps bool) {
	if r == nil {
		return
	}
	var sink logSink
	if w != nil {
		sink = &writerSink{w: w, timestamps: timestamps}
	}
	r.mu.Lock()
	r.console = sink
	r.mu.Unlock()
}

func (r *logRouter) setFile(sink logSink) {
	r.mu.Lock()
	r.file = sink
	r.mu.Unlock()
}

// SetRotateHook installs hook on the file sink when file logging is on.
func (r *logRouter) SetRotateHook(hook rotateHook) {
	if r == nil {
		return
	}
	r.mu.Lock()
	file := r.file
	r.mu.Unlock()
	if ds, ok := file.(*dailyFileSink); ok {
		ds.SetRotateHook(hook)
	}
}

// Purpose: Split log output into lines and dispatch them.
// Key aspects: A partial line longer than maxPartialLogBytes is flushed as is.
// Upstream: log.Logger.
// Downstream: logSink.WriteLine.
func (r *logRouter) Write(p []byte) (int, error) {
	if r == nil {
		return len(p), nil
	}
	r.mu.Lock()
	r.partial = append(r.partial, p...)
	var lines []string
	for {
		idx := bytes.IndexByte(r.partial, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(r.partial[:idx], "\r")))
		r.partial = r.partial[idx+1:]
	}
	if len(r.partial) > maxPartialLogBytes {
		lines = append(lines, string(bytes.TrimRight(r.partial, "\r")))
		r.partial = nil
	}
	console, file := r.console, r.file
	r.mu.Unlock()

	now := time.Now().UTC()
	for _, line := range lines {
		if console != nil {
			console.WriteLine(line, now)
		}
		if file != nil {
			file.WriteLine(line, now)
		}
	}
	return len(p), nil
}

// WriteFileOnly records a line in the log file without echoing it to the
// console, for periodic summaries that would crowd the UI.
func (r *logRouter) WriteFileOnly(line string, now time.Time) {
	if r == nil {
		return
	}
	r.mu.Lock()
	file := r.file
	r.mu.Unlock()
	if file != nil {
		file.WriteLine(line, now)
	}
}

// Close closes the file sink; the console sink is not owned.
func (r *logRouter) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	file := r.file
	r.file = nil
	r.mu.Unlock()
	if file == nil {
		return nil
	}
	return file.Close()
}

func formatLogTimestamp(now time.Time) string {
	return now.UTC().Format(logTimestampLayout)
}

func logFileNameForDate(now time.Time) string {
	return now.UTC().Format(logFileDateLayout) + ".log"
}

func parseLogFileDate(name string) (time.Time, bool) {
	if filepath.Ext(name) != ".log" {
		return time.Time{}, false
	}
	parsed, err := time.ParseInLocation(logFileDateLayout, strings.TrimSuffix(name, ".log"), time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return parsed, true
}

// cleanupOldLogs removes dated log files older than retentionDays, counting
// today as day one. Other files are left alone.
func cleanupOldLogs(dir string, now time.Time, retentionDays int) error {
	if retentionDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	y, m, d := now.UTC().Date()
	cutoff := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(retentionDays - 1))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		date, ok := parseLogFileDate(entry.Name())
		if ok && date.Before(cutoff) {
			_ = os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
	return nil
}
