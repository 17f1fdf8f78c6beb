package ui

import (
	"bytes"
	"testing"
)

type recordingSink struct {
	lines []string
}

func (r *recordingSink) AppendSystem(line string) { r.lines = append(r.lines, line) }

func TestPaneWriterBounds(t *testing.T) {
	writer := &paneWriter{sink: &recordingSink{}}
	input := bytes.Repeat([]byte("a"), paneWriterMaxBytes*2)
	n, err := writer.Write(input)
	if err != nil {
		t.Fatalf("write error: %v", err)
	}
	if n != len(input) {
		t.Fatalf("expected write %d bytes, got %d", len(input), n)
	}
	if len(writer.buf) != paneWriterMaxBytes {
		t.Fatalf("expected buffer size %d, got %d", paneWriterMaxBytes, len(writer.buf))
	}
	if writer.droppedBytes == 0 {
		t.Fatalf("expected dropped bytes to be tracked")
	}
}

func TestPaneWriterSplitsLines(t *testing.T) {
	sink := &recordingSink{}
	writer := &paneWriter{sink: sink}
	_, _ = writer.Write([]byte("Feed: connected\r\nFeed: partial"))
	_, _ = writer.Write([]byte(" line\n"))
	if len(sink.lines) != 2 {
		t.Fatalf("expected 2 lines, got %v", sink.lines)
	}
	if sink.lines[0] != "Feed: connected" || sink.lines[1] != "Feed: partial line" {
		t.Fatalf("unexpected lines: %q", sink.lines)
	}
}
