// Package axon compiles AXON source to its backend-agnostic IR and
// executes compiled programs. It is the front door over the pipeline:
// source → tokens → AST → validated AST → IR → executed trace.
package axon

import (
	"fmt"
	"strings"

	"github.com/axonlang/axon/internal/ast"
	"github.com/axonlang/axon/internal/ir"
	"github.com/axonlang/axon/internal/lexer"
	"github.com/axonlang/axon/internal/parser"
	"github.com/axonlang/axon/internal/typecheck"
)

// #region diagnostics

// CompileError carries the full front-end diagnostic batch: a user sees
// every issue at once, in source order.
type CompileError struct {
	Stage       string
	Diagnostics []typecheck.Diagnostic
	Err         error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	lines := make([]string, len(e.Diagnostics))
	for i, d := range e.Diagnostics {
		lines[i] = d.Error()
	}
	return fmt.Sprintf("%d type errors:\n%s", len(e.Diagnostics), strings.Join(lines, "\n"))
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// #endregion diagnostics

// #region compile

// Parse runs the lexer and parser only.
func Parse(source string) (*ast.Program, error) {
	tokens, err := lexer.New(source).Tokenize()
	if err != nil {
		return nil, &CompileError{Stage: "lex", Err: err}
	}
	program, err := parser.New(tokens).Parse()
	if err != nil {
		return nil, &CompileError{Stage: "parse", Err: err}
	}
	return program, nil
}

// Compile runs the full front end and lowers the program to IR.
func Compile(source string) (*ir.Program, error) {
	program, err := Parse(source)
	if err != nil {
		return nil, err
	}
	_, diags := typecheck.Check(program)
	if len(diags) > 0 {
		return nil, &CompileError{Stage: "typecheck", Diagnostics: diags}
	}
	compiled, err := ir.NewGenerator().Generate(program)
	if err != nil {
		return nil, &CompileError{Stage: "ir", Err: err}
	}
	return compiled, nil
}

// #endregion compile
