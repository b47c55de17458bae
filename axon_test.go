package axon

import (
	"errors"
	"testing"

	"github.com/axonlang/axon/internal/typecheck"
)

func TestCompileMinimalProgram(t *testing.T) {
	program, err := Compile(`
persona P { domain: ["x"] tone: precise }
flow F() -> String {
  step S { ask: "hi" output: String }
}
run F() as P
`)
	if err != nil {
		t.Fatal(err)
	}
	if program.Entrypoint.Persona != "P" || len(program.Flows["F"].Steps) != 1 {
		t.Errorf("program = %+v", program)
	}
}

func TestCompileBatchesAllDiagnostics(t *testing.T) {
	_, err := Compile(`
persona P { tone: melodic }
context C { depth: bottomless }
flow F() -> Missing {
  step S { ask: "x" output: AlsoMissing }
}
run F() as Ghost
`)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) {
		t.Fatalf("want *CompileError, got %v", err)
	}
	if compileErr.Stage != "typecheck" {
		t.Fatalf("stage = %s", compileErr.Stage)
	}
	if len(compileErr.Diagnostics) < 5 {
		t.Errorf("diagnostics = %d, want all front-end issues at once:\n%v",
			len(compileErr.Diagnostics), compileErr)
	}
	for i := 1; i < len(compileErr.Diagnostics); i++ {
		if compileErr.Diagnostics[i].Line < compileErr.Diagnostics[i-1].Line {
			t.Error("diagnostics out of source order")
		}
	}
	if compileErr.Diagnostics[0].Kind != typecheck.InvalidValue {
		t.Errorf("first diagnostic = %+v", compileErr.Diagnostics[0])
	}
}

func TestParseErrorStopsEarly(t *testing.T) {
	_, err := Parse(`persona P { wingspan: 3 }`)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) || compileErr.Stage != "parse" {
		t.Fatalf("want parse-stage error, got %v", err)
	}
}

func TestLexErrorSurfaces(t *testing.T) {
	_, err := Parse(`persona @P {}`)
	var compileErr *CompileError
	if !errors.As(err, &compileErr) || compileErr.Stage != "lex" {
		t.Fatalf("want lex-stage error, got %v", err)
	}
}
