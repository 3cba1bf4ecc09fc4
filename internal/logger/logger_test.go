package logger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func testSlog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memorySink collects written batches in memory.
type memorySink struct {
	mu      sync.Mutex
	entries []RequestLog
	fail    bool
}

func (s *memorySink) Write(_ context.Context, batch []RequestLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink down")
	}
	s.entries = append(s.entries, batch...)
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func entry(tool string) RequestLog {
	return RequestLog{
		ID:           uuid.New(),
		Tool:         tool,
		Model:        "claude-3-5-haiku-20241022",
		InputTokens:  10,
		OutputTokens: 5,
		LatencyMs:    120,
		Status:       200,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestLoggerFlushesOnClose(t *testing.T) {
	sink := &memorySink{}
	l, err := New(context.Background(), testSlog(), sink)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 7; i++ {
		l.Log(entry("translate"))
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	if got := sink.count(); got != 7 {
		t.Errorf("sink received %d entries, want 7", got)
	}
	if l.DroppedLogs() != 0 {
		t.Errorf("dropped = %d", l.DroppedLogs())
	}
}

func TestLoggerFlushesFullBatches(t *testing.T) {
	sink := &memorySink{}
	l, err := New(context.Background(), testSlog(), sink)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	for i := 0; i < batchSize*2; i++ {
		l.Log(entry("chat"))
	}

	// Full batches flush without waiting for the ticker.
	deadline := time.Now().Add(2 * time.Second)
	for sink.count() < batchSize && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := sink.count(); got < batchSize {
		t.Errorf("sink received %d entries before ticker, want ≥ %d", got, batchSize)
	}
}

func TestLoggerNilSink(t *testing.T) {
	l, err := New(context.Background(), testSlog(), nil)
	if err != nil {
		t.Fatal(err)
	}
	l.Log(entry("summarize"))
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestLoggerSinkFailureDoesNotBlock(t *testing.T) {
	sink := &memorySink{fail: true}
	l, err := New(context.Background(), testSlog(), sink)
	if err != nil {
		t.Fatal(err)
	}

	l.Log(entry("grammar-check"))
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	// Entries fell back to slog; nothing reached the sink and nothing hung.
	if got := sink.count(); got != 0 {
		t.Errorf("failing sink stored %d entries", got)
	}
}

func TestLoggerNilContext(t *testing.T) {
	if _, err := New(nil, testSlog(), nil); err == nil { //nolint:staticcheck
		t.Fatal("nil context must be rejected")
	}
}

func TestNormalizeTime(t *testing.T) {
	if normalizeTime(time.Time{}).IsZero() {
		t.Error("zero time must be replaced")
	}
	loc := time.FixedZone("PHT", 8*3600)
	in := time.Date(2025, 6, 1, 12, 0, 0, 0, loc)
	if got := normalizeTime(in); got.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", got.Location())
	}
}
