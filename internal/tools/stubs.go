package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// #region web-search

// WebSearchResult is a single canned search hit.
type WebSearchResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// WebSearchStub returns deterministic canned search results.
type WebSearchStub struct {
	maxResults int
}

// NewWebSearchStub builds the stub from a config snapshot.
func NewWebSearchStub(config Config) (Tool, error) {
	max := 5
	if raw, ok := config["max_results"]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			max = n
		}
	}
	return &WebSearchStub{maxResults: max}, nil
}

func (w *WebSearchStub) Name() string { return "WebSearch" }
func (w *WebSearchStub) Stub() bool   { return true }

func (w *WebSearchStub) Invoke(ctx context.Context, argument string, _ Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var results []WebSearchResult
	for i := 1; i <= w.maxResults; i++ {
		results = append(results, WebSearchResult{
			Title:   fmt.Sprintf("Result %d for %q", i, argument),
			Snippet: fmt.Sprintf("Simulated snippet %d about %s.", i, argument),
			URL:     fmt.Sprintf("https://example.org/%d", i),
		})
	}
	return Result{OK: true, Value: results}, nil
}

// #endregion web-search

// #region calculator

// CalculatorTool evaluates a single binary arithmetic expression. It is
// a real tool: the result is computed, not canned.
type CalculatorTool struct{}

// NewCalculatorTool builds the calculator; it has no requirements.
func NewCalculatorTool(Config) (Tool, error) {
	return &CalculatorTool{}, nil
}

func (c *CalculatorTool) Name() string { return "Calculator" }
func (c *CalculatorTool) Stub() bool   { return false }

func (c *CalculatorTool) Invoke(ctx context.Context, argument string, _ Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	value, err := evalBinary(argument)
	if err != nil {
		return Result{OK: false, Err: err.Error()}, nil
	}
	return Result{OK: true, Value: value}, nil
}

func evalBinary(expr string) (float64, error) {
	for _, op := range []string{"+", "-", "*", "/"} {
		idx := strings.LastIndex(expr, op)
		if idx <= 0 {
			continue
		}
		lhs, lerr := strconv.ParseFloat(strings.TrimSpace(expr[:idx]), 64)
		rhs, rerr := strconv.ParseFloat(strings.TrimSpace(expr[idx+1:]), 64)
		if lerr != nil || rerr != nil {
			continue
		}
		switch op {
		case "+":
			return lhs + rhs, nil
		case "-":
			return lhs - rhs, nil
		case "*":
			return lhs * rhs, nil
		case "/":
			if rhs == 0 {
				return 0, fmt.Errorf("division by zero")
			}
			return lhs / rhs, nil
		}
	}
	if v, err := strconv.ParseFloat(strings.TrimSpace(expr), 64); err == nil {
		return v, nil
	}
	return 0, fmt.Errorf("cannot evaluate %q", expr)
}

// #endregion calculator

// #region file-reader

// FileReaderStub returns canned file contents keyed by path.
type FileReaderStub struct{}

// NewFileReaderStub builds the stub.
func NewFileReaderStub(Config) (Tool, error) {
	return &FileReaderStub{}, nil
}

func (f *FileReaderStub) Name() string { return "FileReader" }
func (f *FileReaderStub) Stub() bool   { return true }

func (f *FileReaderStub) Invoke(ctx context.Context, argument string, _ Config) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	return Result{
		OK: true,
		Value: map[string]interface{}{
			"path":    argument,
			"content": fmt.Sprintf("Simulated contents of %s.", argument),
		},
	}, nil
}

// #endregion file-reader

// #region defaults

// RegisterDefaultStubs registers the built-in stub set under their
// conventional tool names.
func RegisterDefaultStubs(r *Registry) error {
	if err := r.RegisterStub("WebSearch", NewWebSearchStub); err != nil {
		return err
	}
	if err := r.RegisterStub("FileReader", NewFileReaderStub); err != nil {
		return err
	}
	// The calculator computes for real but is safe everywhere, so it
	// registers both ways.
	if err := r.RegisterStub("Calculator", NewCalculatorTool); err != nil {
		return err
	}
	return r.Register("Calculator", NewCalculatorTool)
}

// #endregion defaults
