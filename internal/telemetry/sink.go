package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/taskmill/runtime/contracts"
)

// FileSink appends sanitized events as JSON lines to date-partitioned
// files (events-YYYYMMDD.jsonl) under a telemetry directory. Emission is
// fail-safe: every I/O error is logged and swallowed, never propagated,
// so telemetry can never affect a task outcome.
type FileSink struct {
	mu      sync.Mutex
	dir     string
	enabled bool
	logger  *slog.Logger
	now     func() time.Time
}

// FileSinkOption customizes a FileSink.
type FileSinkOption func(*FileSink)

// WithSinkClock overrides the wall clock, for tests.
func WithSinkClock(now func() time.Time) FileSinkOption {
	return func(s *FileSink) { s.now = now }
}

// WithSinkLogger overrides the diagnostic logger.
func WithSinkLogger(logger *slog.Logger) FileSinkOption {
	return func(s *FileSink) { s.logger = logger }
}

// NewFileSink creates a sink writing under dir. When enabled is false
// Emit is a no-op.
func NewFileSink(dir string, enabled bool, opts ...FileSinkOption) *FileSink {
	s := &FileSink{
		dir:     dir,
		enabled: enabled,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit sanitizes the event, stamps ts and appends one JSON line. It
// never panics and never returns an error to the caller.
func (s *FileSink) Emit(event contracts.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("telemetry emit recovered", "panic", r)
		}
	}()

	if !s.enabled || event == nil {
		return
	}

	now := s.now().UTC()
	sanitized := Redact(event)
	sanitized["ts"] = now.Format(TimestampLayout)

	line, err := json.Marshal(sanitized)
	if err != nil {
		s.logger.Warn("telemetry marshal failed", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.append(now, line); err != nil {
		s.logger.Warn("telemetry append failed", "error", err)
	}
}

func (s *FileSink) append(now time.Time, line []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create telemetry dir: %w", err)
	}
	path := filepath.Join(s.dir, fmt.Sprintf("events-%s.jsonl", now.Format("20060102")))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// NopSink discards every event.
type NopSink struct{}

// Emit implements contracts.EventSink.
func (NopSink) Emit(contracts.Event) {}

// CaptureSink records events in memory for tests and embedding callers.
type CaptureSink struct {
	mu     sync.Mutex
	events []contracts.Event
}

// Emit implements contracts.EventSink.
func (c *CaptureSink) Emit(event contracts.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

// Events returns a snapshot of everything emitted so far.
func (c *CaptureSink) Events() []contracts.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]contracts.Event(nil), c.events...)
}

// ByType returns the emitted events with the given type field, in order.
func (c *CaptureSink) ByType(eventType string) []contracts.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []contracts.Event
	for _, ev := range c.events {
		if ev["type"] == eventType {
			out = append(out, ev)
		}
	}
	return out
}
