package events

import (
	"log/slog"
	"sync"
	"time"
)

// Kind enumerates the event categories emitted by the control loop.
type Kind string

const (
	KindVerdict    Kind = "verdict"
	KindAdvisory   Kind = "advisory"
	KindResolution Kind = "resolution"
	KindOutcome    Kind = "outcome"
	KindRunSummary Kind = "run_summary"
)

// Event is one observable step of the pipeline. Events are purely
// informational: downstream observers consume them, the loop never reads
// them back.
type Event struct {
	Time    time.Time      `json:"time"`
	Kind    Kind           `json:"kind"`
	RunID   string         `json:"run_id,omitempty"`
	Sample  int            `json:"sample,omitempty"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Emitter fans events out to slog and retains a bounded history for the
// HTTP API. Safe for concurrent use.
type Emitter struct {
	logger *slog.Logger

	mu     sync.RWMutex
	buf    []Event
	next   int
	filled bool
}

// NewEmitter creates an emitter retaining up to size events.
func NewEmitter(logger *slog.Logger, size int) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	if size <= 0 {
		size = 256
	}
	return &Emitter{
		logger: logger,
		buf:    make([]Event, size),
	}
}

// Emit records one event.
func (e *Emitter) Emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}

	attrs := []any{
		slog.String("kind", string(ev.Kind)),
	}
	if ev.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ev.RunID))
	}
	if ev.Sample > 0 {
		attrs = append(attrs, slog.Int("sample", ev.Sample))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	e.logger.Info(ev.Message, attrs...)

	e.mu.Lock()
	e.buf[e.next] = ev
	e.next++
	if e.next == len(e.buf) {
		e.next = 0
		e.filled = true
	}
	e.mu.Unlock()
}

// Recent returns the retained events in emission order, oldest first.
func (e *Emitter) Recent() []Event {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if !e.filled {
		return append([]Event(nil), e.buf[:e.next]...)
	}
	out := make([]Event, 0, len(e.buf))
	out = append(out, e.buf[e.next:]...)
	out = append(out, e.buf[:e.next]...)
	return out
}
