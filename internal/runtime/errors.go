// Package runtime executes compiled AXON programs: it walks each flow's
// step DAG against an abstract model client, enforces anchors, validates
// outputs, retries refine-configured steps, and emits a structured trace.
package runtime

import "fmt"

// #region kinds

// ErrKind is one of the six user-visible runtime error kinds.
type ErrKind string

const (
	ValidationError   ErrKind = "ValidationError"
	ConfidenceError   ErrKind = "ConfidenceError"
	AnchorBreachError ErrKind = "AnchorBreachError"
	RefineExhausted   ErrKind = "RefineExhausted"
	RuntimeError      ErrKind = "RuntimeError"
	TimeoutError      ErrKind = "TimeoutError"
)

// codes maps each kind to its stable code string.
var codes = map[ErrKind]string{
	ValidationError:   "AXON_001",
	ConfidenceError:   "AXON_002",
	AnchorBreachError: "AXON_003",
	RefineExhausted:   "AXON_004",
	RuntimeError:      "AXON_005",
	TimeoutError:      "AXON_006",
}

// #endregion kinds

// #region error

// Error is a runtime failure with its stable code and the step that
// produced it. No other error type escapes the executor.
type Error struct {
	Kind     ErrKind
	Message  string
	StepID   string
	StepName string
	FlowName string
	Context  map[string]interface{}
	wrapped  error
}

// Code returns the stable error code (AXON_001 … AXON_006).
func (e *Error) Code() string {
	return codes[e.Kind]
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Code(), e.Kind, e.Message)
	if e.StepName != "" {
		msg += fmt.Sprintf(" (step %q)", e.StepName)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.wrapped
}

// Payload renders the context payload for trace events.
func (e *Error) Payload() map[string]interface{} {
	payload := map[string]interface{}{
		"code":    e.Code(),
		"kind":    string(e.Kind),
		"message": e.Message,
	}
	if e.StepID != "" {
		payload["step_id"] = e.StepID
	}
	if e.StepName != "" {
		payload["step_name"] = e.StepName
	}
	if e.FlowName != "" {
		payload["flow_name"] = e.FlowName
	}
	for k, v := range e.Context {
		payload[k] = v
	}
	return payload
}

// #endregion error

// #region constructors

func newError(kind ErrKind, stepID, stepName, flowName, format string, args ...interface{}) *Error {
	return &Error{
		Kind:     kind,
		Message:  fmt.Sprintf(format, args...),
		StepID:   stepID,
		StepName: stepName,
		FlowName: flowName,
	}
}

func wrapError(kind ErrKind, cause error, stepID, stepName, flowName, format string, args ...interface{}) *Error {
	e := newError(kind, stepID, stepName, flowName, format, args...)
	e.wrapped = cause
	return e
}

// #endregion constructors
