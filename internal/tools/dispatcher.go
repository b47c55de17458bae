package tools

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrTimeout marks a tool invocation that exceeded its declared timeout.
// Callers detect it with errors.Is and map it to the runtime taxonomy.
var ErrTimeout = errors.New("tool invocation timed out")

// defaultTimeout applies when a tool declaration carries no timeout.
// Timeouts are mandatory: no invocation runs unbounded.
const defaultTimeout = 30 * time.Second

// #region spec

// Spec is the compile-time tool declaration the dispatcher binds to a
// runtime implementation.
type Spec struct {
	Name       string
	Provider   string
	MaxResults int
	Filter     string
	Timeout    string
	Runtime    string
	Sandbox    bool
}

// config snapshots the spec for registry caching.
func (s Spec) config() Config {
	cfg := Config{}
	if s.Provider != "" {
		cfg["provider"] = s.Provider
	}
	if s.MaxResults > 0 {
		cfg["max_results"] = fmt.Sprintf("%d", s.MaxResults)
	}
	if s.Filter != "" {
		cfg["filter"] = s.Filter
	}
	if s.Runtime != "" {
		cfg["runtime"] = s.Runtime
	}
	if s.Sandbox {
		cfg["sandbox"] = "true"
	}
	return cfg
}

// #endregion spec

// #region dispatcher

// Dispatcher resolves tool references to registered implementations and
// enforces their timeouts.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher wraps a (sealed) registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Registry exposes the underlying registry.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Dispatch resolves and invokes a tool. The declared timeout bounds the
// invocation; exceeding it returns ErrTimeout even if the implementation
// ignores its context.
func (d *Dispatcher) Dispatch(ctx context.Context, spec Spec, argument string) (Result, error) {
	tool, err := d.registry.Get(spec.Name, spec.config())
	if err != nil {
		return Result{}, err
	}
	if tool.Stub() {
		log.Printf("[TOOL] %q is a stub; results are simulated", spec.Name)
	}

	timeout := defaultTimeout
	if spec.Timeout != "" {
		parsed, err := ParseDuration(spec.Timeout)
		if err != nil {
			return Result{}, fmt.Errorf("tool %q: %w", spec.Name, err)
		}
		timeout = parsed
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := tool.Invoke(callCtx, argument, spec.config())
		done <- outcome{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if errors.Is(out.err, context.DeadlineExceeded) {
				return Result{}, fmt.Errorf("tool %q exceeded %s: %w", spec.Name, timeout, ErrTimeout)
			}
			return Result{}, fmt.Errorf("tool %q: %w", spec.Name, out.err)
		}
		result := out.result
		if result.Metadata == nil {
			result.Metadata = map[string]interface{}{}
		}
		result.Metadata["tool_name"] = spec.Name
		result.Metadata["is_stub"] = tool.Stub()
		return result, nil
	case <-callCtx.Done():
		if ctx.Err() != nil {
			// Host cancellation, not a timeout.
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("tool %q exceeded %s: %w", spec.Name, timeout, ErrTimeout)
	}
}

// #endregion dispatcher
