package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/axonlang/axon/internal/trace"
)

// #region config

// Backoff strategies for the refine primitive.
const (
	BackoffNone        = "none"
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

const (
	linearBaseDelay      = time.Second
	exponentialBaseDelay = 500 * time.Millisecond
	maxDelay             = 30 * time.Second
)

// RefineConfig is the runtime form of a refine block.
type RefineConfig struct {
	MaxAttempts        int
	PassFailureContext bool
	Backoff            string
	OnExhaustion       string
	OnExhaustionTarget string
}

// RefineFromConfig reads a refine configuration out of an IR step's
// config blob. Handles both in-process values and JSON-decoded ones.
func RefineFromConfig(raw interface{}) *RefineConfig {
	m, ok := raw.(map[string]interface{})
	if !ok {
		return nil
	}
	cfg := &RefineConfig{
		MaxAttempts:        1,
		PassFailureContext: true,
		Backoff:            BackoffNone,
	}
	if n, ok := toFloat(m["max_attempts"]); ok {
		cfg.MaxAttempts = int(n)
	}
	if b, ok := m["pass_failure_context"].(bool); ok {
		cfg.PassFailureContext = b
	}
	if s, ok := m["backoff"].(string); ok && s != "" {
		cfg.Backoff = s
	}
	if s, ok := m["on_exhaustion"].(string); ok {
		cfg.OnExhaustion = s
	}
	if s, ok := m["on_exhaustion_target"].(string); ok {
		cfg.OnExhaustionTarget = s
	}
	return cfg
}

// #endregion config

// #region state-machine

// RefineState is a step's position in the retry state machine.
type RefineState string

const (
	StateFresh      RefineState = "fresh"
	StateAttempting RefineState = "attempting"
	StatePassed     RefineState = "passed"
	StateFailed     RefineState = "failed"
	StateRefining   RefineState = "refining"
	StateExhausted  RefineState = "exhausted"
)

// Attempt records one execution attempt within a refine sequence.
type Attempt struct {
	Number  int    `json:"number"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// #endregion state-machine

// #region engine

// StepFunc executes one attempt of a step. On refinement attempts it
// receives the prior attempt's rejection as failureContext; the model
// client sees it as a structured previous_attempt + why_rejected block.
type StepFunc func(ctx context.Context, failureContext string) (Value, error)

// Engine drives the per-step retry state machine:
// Fresh → Attempting → (Passed | Failed) → Refining(n) → … → Exhausted.
type Engine struct {
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a retry engine using cooperative waiting.
func NewEngine() *Engine {
	return &Engine{sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs fn under the given refine config. Validation and
// confidence failures are retryable; anchors, timeouts, and model-call
// failures are not — refinement fixes outputs, not infrastructure.
func (e *Engine) Execute(
	ctx context.Context,
	tracer *trace.Tracer,
	cfg *RefineConfig,
	stepID, stepName, flowName string,
	fn StepFunc,
) (Value, error) {
	effective := cfg
	if effective == nil {
		effective = &RefineConfig{MaxAttempts: 1, Backoff: BackoffNone}
	}
	state := StateFresh
	var attempts []Attempt
	failureContext := ""

	if tracer != nil && effective.MaxAttempts > 1 {
		tracer.Emit(trace.EventRefineAttempt, stepID, map[string]interface{}{
			"max_attempts": effective.MaxAttempts,
			"backoff":      effective.Backoff,
		})
	}

	for attempt := 1; attempt <= effective.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Value{}, err
		}
		state = StateAttempting
		if attempt > 1 {
			state = StateRefining
		}

		// A plain single-attempt step emits no retry events.
		if tracer != nil && effective.MaxAttempts > 1 {
			tracer.Emit(trace.EventRetry, stepID, map[string]interface{}{
				"attempt": attempt,
				"state":   string(state),
			})
		}

		passCtx := ""
		if attempt > 1 && effective.PassFailureContext {
			passCtx = failureContext
		}

		value, err := fn(ctx, passCtx)
		if err == nil {
			state = StatePassed
			attempts = append(attempts, Attempt{Number: attempt, Success: true})
			return value, nil
		}

		state = StateFailed
		var runtimeErr *Error
		record := Attempt{Number: attempt, Error: err.Error()}
		if errors.As(err, &runtimeErr) {
			record.Kind = string(runtimeErr.Kind)
		}
		attempts = append(attempts, record)

		if !retryable(err) || attempt == effective.MaxAttempts {
			// Exhaustion is a refine outcome: a step with no refine
			// block surfaces its original error untouched.
			if attempt == effective.MaxAttempts && retryable(err) && effective.MaxAttempts > 1 {
				return e.exhaust(effective, attempts, err, stepID, stepName, flowName, tracer)
			}
			return Value{}, err
		}

		failureContext = err.Error()
		if runtimeErr != nil {
			failureContext = runtimeErr.Message
		}

		if delay := computeDelay(attempt, effective.Backoff); delay > 0 {
			if err := e.sleep(ctx, delay); err != nil {
				return Value{}, err
			}
		}
	}

	// Unreachable: the loop always returns.
	return Value{}, newError(RuntimeError, stepID, stepName, flowName, "retry loop ended without outcome")
}

// exhaust applies the on_exhaustion strategy after the final attempt.
func (e *Engine) exhaust(
	cfg *RefineConfig,
	attempts []Attempt,
	lastErr error,
	stepID, stepName, flowName string,
	tracer *trace.Tracer,
) (Value, error) {
	if cfg.OnExhaustion == "fallback" {
		if tracer != nil {
			tracer.Emit(trace.EventRetry, stepID, map[string]interface{}{
				"exhausted": true,
				"fallback":  cfg.OnExhaustionTarget,
			})
		}
		return Value{
			Content:          cfg.OnExhaustionTarget,
			Confidence:       0,
			ConfidenceSource: "fallback",
		}, nil
	}

	err := newError(RefineExhausted, stepID, stepName, flowName,
		"all %d refine attempts exhausted: %v", cfg.MaxAttempts, lastErr)
	err.wrapped = lastErr
	err.Context = map[string]interface{}{"attempts": attempts}
	if cfg.OnExhaustion == "escalate" {
		err.Context["escalated"] = true
	}
	return Value{}, err
}

// retryable reports whether refinement can help with this failure.
func retryable(err error) bool {
	var runtimeErr *Error
	if !errors.As(err, &runtimeErr) {
		return false
	}
	switch runtimeErr.Kind {
	case ValidationError, ConfidenceError:
		return true
	}
	return false
}

func computeDelay(attempt int, backoff string) time.Duration {
	var delay time.Duration
	switch backoff {
	case BackoffLinear:
		delay = linearBaseDelay * time.Duration(attempt)
	case BackoffExponential:
		delay = exponentialBaseDelay * time.Duration(1<<attempt)
	default:
		return 0
	}
	if delay > maxDelay {
		delay = maxDelay
	}
	return delay
}

// #endregion engine
