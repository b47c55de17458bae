// Package trace records the semantic execution log of an AXON program:
// an append-only span tree answering why the runtime did what it did —
// which anchor fired, which validation failed, which retry ran.
package trace

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// #region event-types

// EventType tags a trace event.
type EventType string

const (
	// Flow lifecycle.
	EventFlowStart EventType = "flow_start"
	EventFlowEnd   EventType = "flow_end"

	// Step lifecycle.
	EventStepStart EventType = "step_start"
	EventStepEnd   EventType = "step_end"

	// Anchor enforcement.
	EventAnchorCheck  EventType = "anchor_check"
	EventAnchorPass   EventType = "anchor_pass"
	EventAnchorBreach EventType = "anchor_breach"

	// Tool invocation.
	EventToolCallStart EventType = "tool_call_start"
	EventToolCallEnd   EventType = "tool_call_end"

	// Semantic validation.
	EventValidationPass EventType = "validation_pass"
	EventValidationFail EventType = "validation_fail"

	// Retry / refine.
	EventRefineAttempt EventType = "refine_attempt"
	EventRetry         EventType = "retry"

	// Terminal failure.
	EventFatalError EventType = "fatal_error"

	// Memory operations.
	EventMemoryRead  EventType = "memory_read"
	EventMemoryWrite EventType = "memory_write"

	// Host cancellation observed at a step boundary.
	EventCancelled EventType = "cancelled"
)

// #endregion event-types

// #region event

// Event is one atomic observation. Timestamps are ISO-8601 in UTC;
// events within a span appear in strictly monotonic timestamp order.
type Event struct {
	Type       EventType              `json:"type"`
	Timestamp  string                 `json:"timestamp"`
	ParentSpan string                 `json:"parent_span,omitempty"`
	StepID     string                 `json:"step_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	DurationMS float64                `json:"duration_ms,omitempty"`
}

// #endregion event

// #region span

// Span is a named scope grouping events and nested sub-spans
// (flow → step → retry attempt → tool call).
type Span struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	StartedAt string                 `json:"started_at"`
	EndedAt   string                 `json:"ended_at,omitempty"`
	Events    []*Event               `json:"events,omitempty"`
	Children  []*Span                `json:"children,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// #endregion span

// #region trace

// Trace is the root record of one program execution.
type Trace struct {
	TraceID     string                 `json:"trace_id"`
	Program     string                 `json:"program"`
	Persona     string                 `json:"persona,omitempty"`
	StartedAt   string                 `json:"started_at"`
	CompletedAt string                 `json:"completed_at,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Spans       []*Span                `json:"spans"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// TotalEvents counts events across all spans recursively.
func (t *Trace) TotalEvents() int {
	return countEvents(t.Spans)
}

func countEvents(spans []*Span) int {
	n := 0
	for _, s := range spans {
		n += len(s.Events)
		n += countEvents(s.Children)
	}
	return n
}

// JSON serialises the finalised trace.
func (t *Trace) JSON() ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

// #endregion trace

// #region tracer

// Tracer appends events to an in-memory span tree. It is an observer:
// emitting never fails, and events outside any span are dropped.
type Tracer struct {
	trace *Trace
	stack []*Span
	clock func() time.Time
	last  time.Time
}

// NewTracer starts a trace for one program execution.
func NewTracer(program, persona string) *Tracer {
	tr := &Tracer{
		trace: &Trace{
			TraceID: uuid.New().String(),
			Program: program,
			Persona: persona,
		},
		clock: time.Now,
	}
	tr.trace.StartedAt = tr.stamp()
	return tr
}

// stampFormat is RFC3339 with a fixed-width fraction so timestamps
// order lexicographically.
const stampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// stamp returns a strictly monotonic ISO-8601 timestamp.
func (t *Tracer) stamp() string {
	now := t.clock().UTC()
	if !now.After(t.last) {
		now = t.last.Add(time.Nanosecond)
	}
	t.last = now
	return now.Format(stampFormat)
}

// StartSpan opens a new span nested under the current one.
func (t *Tracer) StartSpan(name string, metadata map[string]interface{}) *Span {
	span := &Span{
		ID:        uuid.New().String(),
		Name:      name,
		StartedAt: t.stamp(),
		Metadata:  metadata,
	}
	if len(t.stack) > 0 {
		parent := t.stack[len(t.stack)-1]
		parent.Children = append(parent.Children, span)
	} else {
		t.trace.Spans = append(t.trace.Spans, span)
	}
	t.stack = append(t.stack, span)
	return span
}

// EndSpan closes the innermost open span.
func (t *Tracer) EndSpan() *Span {
	if len(t.stack) == 0 {
		return nil
	}
	span := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	span.EndedAt = t.stamp()
	return span
}

// CurrentSpan returns the innermost open span, or nil.
func (t *Tracer) CurrentSpan() *Span {
	if len(t.stack) == 0 {
		return nil
	}
	return t.stack[len(t.stack)-1]
}

// Emit appends an event to the current span.
func (t *Tracer) Emit(eventType EventType, stepID string, payload map[string]interface{}) *Event {
	event := &Event{
		Type:      eventType,
		Timestamp: t.stamp(),
		StepID:    stepID,
		Payload:   payload,
	}
	if span := t.CurrentSpan(); span != nil {
		event.ParentSpan = span.ID
		span.Events = append(span.Events, event)
	}
	return event
}

// EmitTimed appends an event carrying a duration.
func (t *Tracer) EmitTimed(eventType EventType, stepID string, payload map[string]interface{}, duration time.Duration) *Event {
	event := t.Emit(eventType, stepID, payload)
	event.DurationMS = float64(duration.Microseconds()) / 1000.0
	return event
}

// Finalize closes any remaining spans, stamps the completion time and
// terminal status, and returns the trace.
func (t *Tracer) Finalize(status string) *Trace {
	for len(t.stack) > 0 {
		t.EndSpan()
	}
	t.trace.CompletedAt = t.stamp()
	t.trace.Status = status
	return t.trace
}

// Trace exposes the trace in progress.
func (t *Tracer) Trace() *Trace {
	return t.trace
}

// #endregion tracer
