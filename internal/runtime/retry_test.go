package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/axonlang/axon/internal/trace"
)

func noSleep(e *Engine) {
	e.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
}

func TestEngineSingleAttemptPassesThroughError(t *testing.T) {
	engine := NewEngine()
	noSleep(engine)
	want := newError(ValidationError, "id", "S", "F", "bad shape")

	_, err := engine.Execute(context.Background(), nil, nil, "id", "S", "F",
		func(ctx context.Context, failureContext string) (Value, error) {
			return Value{}, want
		})
	var got *Error
	if !errors.As(err, &got) || got.Kind != ValidationError {
		t.Fatalf("want original ValidationError, got %v", err)
	}
}

func TestEngineRetriesValidationFailures(t *testing.T) {
	engine := NewEngine()
	noSleep(engine)
	cfg := &RefineConfig{MaxAttempts: 3, PassFailureContext: true, Backoff: BackoffNone}

	attempts := 0
	var contexts []string
	value, err := engine.Execute(context.Background(), nil, cfg, "id", "S", "F",
		func(ctx context.Context, failureContext string) (Value, error) {
			attempts++
			contexts = append(contexts, failureContext)
			if attempts < 3 {
				return Value{}, newError(ValidationError, "id", "S", "F", "attempt %d rejected", attempts)
			}
			return Value{Content: "ok"}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	if value.Content != "ok" || attempts != 3 {
		t.Errorf("value = %+v attempts = %d", value, attempts)
	}
	if contexts[0] != "" || contexts[1] == "" || contexts[2] == "" {
		t.Errorf("failure contexts = %q", contexts)
	}
}

func TestEngineDoesNotRetryInfrastructureErrors(t *testing.T) {
	engine := NewEngine()
	noSleep(engine)
	cfg := &RefineConfig{MaxAttempts: 3, Backoff: BackoffNone}

	attempts := 0
	_, err := engine.Execute(context.Background(), nil, cfg, "id", "S", "F",
		func(ctx context.Context, failureContext string) (Value, error) {
			attempts++
			return Value{}, newError(RuntimeError, "id", "S", "F", "api down")
		})
	var got *Error
	if !errors.As(err, &got) || got.Kind != RuntimeError {
		t.Fatalf("want RuntimeError, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("infrastructure error retried %d times", attempts)
	}
}

func TestEngineExhaustion(t *testing.T) {
	engine := NewEngine()
	noSleep(engine)
	cfg := &RefineConfig{MaxAttempts: 2, Backoff: BackoffNone}

	_, err := engine.Execute(context.Background(), nil, cfg, "id", "S", "F",
		func(ctx context.Context, failureContext string) (Value, error) {
			return Value{}, newError(ConfidenceError, "id", "S", "F", "too low")
		})
	var got *Error
	if !errors.As(err, &got) || got.Kind != RefineExhausted {
		t.Fatalf("want RefineExhausted, got %v", err)
	}
	attempts := got.Context["attempts"].([]Attempt)
	if len(attempts) != 2 {
		t.Errorf("attempt records = %d", len(attempts))
	}
}

func TestEngineEmitsRetryPerAttempt(t *testing.T) {
	engine := NewEngine()
	noSleep(engine)
	tracer := trace.NewTracer("p", "")
	tracer.StartSpan("step", nil)
	cfg := &RefineConfig{MaxAttempts: 2, PassFailureContext: true, Backoff: BackoffNone}

	attempts := 0
	_, err := engine.Execute(context.Background(), tracer, cfg, "id", "S", "F",
		func(ctx context.Context, failureContext string) (Value, error) {
			attempts++
			if attempts == 1 {
				return Value{}, newError(ValidationError, "id", "S", "F", "nope")
			}
			return Value{Content: "ok"}, nil
		})
	if err != nil {
		t.Fatal(err)
	}
	span := tracer.EndSpan()
	retries := 0
	for _, e := range span.Events {
		if e.Type == trace.EventRetry {
			retries++
		}
	}
	if retries != 2 {
		t.Errorf("retry events = %d, want 2", retries)
	}
}

func TestComputeDelay(t *testing.T) {
	if computeDelay(3, BackoffNone) != 0 {
		t.Error("none backoff must not wait")
	}
	if computeDelay(2, BackoffLinear) != 2*time.Second {
		t.Errorf("linear(2) = %v", computeDelay(2, BackoffLinear))
	}
	if computeDelay(2, BackoffExponential) != 2*time.Second {
		t.Errorf("exponential(2) = %v", computeDelay(2, BackoffExponential))
	}
	if computeDelay(20, BackoffExponential) != maxDelay {
		t.Error("delay must cap at maxDelay")
	}
}

func TestBackoffIsCancellable(t *testing.T) {
	engine := NewEngine()
	cfg := &RefineConfig{MaxAttempts: 2, Backoff: BackoffLinear}
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	start := time.Now()
	_, err := engine.Execute(ctx, nil, cfg, "id", "S", "F",
		func(ctx context.Context, failureContext string) (Value, error) {
			return Value{}, newError(ValidationError, "id", "S", "F", "nope")
		})
	if err == nil {
		t.Fatal("expected cancellation")
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Error("backoff did not observe cancellation")
	}
}

func TestRefineFromConfigShapes(t *testing.T) {
	// In-process shape.
	cfg := RefineFromConfig(map[string]interface{}{
		"max_attempts":         3,
		"pass_failure_context": false,
		"backoff":              "exponential",
		"on_exhaustion":        "fallback",
		"on_exhaustion_target": "safe",
	})
	if cfg.MaxAttempts != 3 || cfg.PassFailureContext || cfg.Backoff != "exponential" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.OnExhaustion != "fallback" || cfg.OnExhaustionTarget != "safe" {
		t.Errorf("cfg = %+v", cfg)
	}

	// JSON-decoded shape: numbers arrive as float64.
	cfg = RefineFromConfig(map[string]interface{}{"max_attempts": float64(4)})
	if cfg.MaxAttempts != 4 {
		t.Errorf("json shape max_attempts = %d", cfg.MaxAttempts)
	}

	if RefineFromConfig(nil) != nil {
		t.Error("nil config must yield nil")
	}
}
