// Command axon-run compiles and executes an AXON program against the
// stub model client and stub tool registry, then writes the execution
// trace. It is the zero-setup smoke path: no API keys, no network.
//
// Usage:
//
//	axon-run program.axon
//
// Env:
//
//	AXON_TRACE_OUT  trace JSON path (default: trace.json)
//	AXON_TRACE_DB   optional SQLite path to persist the trace
//	AXON_MEMORY_DB  optional SQLite path for persistent memory
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/axonlang/axon"
	"github.com/axonlang/axon/internal/memory"
	"github.com/axonlang/axon/internal/runtime"
	"github.com/axonlang/axon/internal/tools"
	"github.com/axonlang/axon/internal/trace"
)

// #region main
func main() {
	if len(os.Args) < 2 {
		log.Fatalf("usage: axon-run <program.axon>")
	}
	source, err := os.ReadFile(os.Args[1])
	if err != nil {
		log.Fatalf("read %s: %v", os.Args[1], err)
	}

	program, err := axon.Compile(string(source))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	registry := tools.NewRegistry(tools.ModeStub)
	if err := tools.RegisterDefaultStubs(registry); err != nil {
		log.Fatalf("register stubs: %v", err)
	}
	registry.Seal()

	var backend memory.Backend = memory.NewInMemory()
	if dbPath := os.Getenv("AXON_MEMORY_DB"); dbPath != "" {
		store, err := memory.NewSQLite(dbPath)
		if err != nil {
			log.Fatalf("open memory db: %v", err)
		}
		defer store.Close()
		backend = store
	}

	executor := runtime.NewExecutor(
		&runtime.StubClient{},
		runtime.WithTools(tools.NewDispatcher(registry)),
		runtime.WithMemory(backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	result, execErr := executor.Execute(ctx, program)
	if result != nil {
		writeTrace(result.Trace)
	}
	if execErr != nil {
		log.Fatalf("execution failed: %v", execErr)
	}

	fmt.Printf("flow %s completed\n", program.Entrypoint.FlowName)
	if result.Output.Content != "" {
		fmt.Println(result.Output.Content)
	}
	if out := program.Entrypoint.OutputTo; out != "" {
		if err := os.WriteFile(out, []byte(result.Output.Text()), 0o644); err != nil {
			log.Printf("[EXEC] write output %s: %v", out, err)
		} else {
			fmt.Printf("output written to %s\n", out)
		}
	}
}

// #endregion main

// #region trace-output
func writeTrace(t *trace.Trace) {
	data, err := t.JSON()
	if err != nil {
		log.Printf("[EXEC] marshal trace: %v", err)
		return
	}
	outPath := envOr("AXON_TRACE_OUT", "trace.json")
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		log.Printf("[EXEC] write trace %s: %v", outPath, err)
	}

	if dbPath := os.Getenv("AXON_TRACE_DB"); dbPath != "" {
		store, err := trace.NewStore(dbPath)
		if err != nil {
			log.Printf("[EXEC] open trace db: %v", err)
			return
		}
		defer store.Close()
		if err := store.Save(t); err != nil {
			log.Printf("[EXEC] persist trace: %v", err)
		}
	}
}

// #endregion trace-output

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion helpers
