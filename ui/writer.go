package ui

import (
	"bytes"
	"fmt"
	"sync"
	"time"
)

const paneWriterMaxBytes = 64 * 1024

// lineSink receives complete log lines.
type lineSink interface {
	AppendSystem(line string)
}

// paneWriter adapts the log package's io.Writer output into per-line appends
// on the system pane.
type paneWriter struct {
	sink lineSink
	// buf holds any partial line; it is bounded so a writer that never emits a
	// newline cannot grow it without limit.
	buf          []byte
	mu           sync.Mutex
	droppedBytes uint64
	lastDropLog  time.Time
}

func (w *paneWriter) Write(p []byte) (int, error) {
	if w == nil || w.sink == nil {
		return len(p), nil
	}
	var logDrop bool
	var dropBytes, totalDropped uint64
	now := time.Now().UTC()

	w.mu.Lock()
	w.buf = append(w.buf, p...)
	if excess := len(w.buf) - paneWriterMaxBytes; excess > 0 {
		w.buf = w.buf[excess:]
		w.droppedBytes += uint64(excess)
		dropBytes = uint64(excess)
		totalDropped = w.droppedBytes
		if w.lastDropLog.IsZero() || now.Sub(w.lastDropLog) >= 30*time.Second {
			w.lastDropLog = now
			logDrop = true
		}
	}
	var lines []string
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx == -1 {
			break
		}
		lines = append(lines, string(bytes.TrimRight(w.buf[:idx], "\r")))
		w.buf = w.buf[idx+1:]
	}
	w.mu.Unlock()

	// Report straight to the sink: calling log here would re-enter the
	// logger that is currently writing to us.
	if logDrop {
		w.sink.AppendSystem(fmt.Sprintf("UI: system pane dropped %d bytes (total %d) due to missing newline", dropBytes, totalDropped))
	}
	for _, line := range lines {
		w.sink.AppendSystem(line)
	}
	return len(p), nil
}
