package ir

import (
	"bytes"
	"strings"
	"testing"

	"github.com/axonlang/axon/internal/ast"
	"github.com/axonlang/axon/internal/lexer"
	"github.com/axonlang/axon/internal/parser"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return prog
}

func generate(t *testing.T, src string) *Program {
	t.Helper()
	out, err := NewGenerator().Generate(parse(t, src))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return out
}

const minimalSrc = `
persona P { domain: ["x"] tone: precise }
flow F() -> String {
  step S { ask: "hi" output: String }
}
run F() as P
`

func TestMinimalCompile(t *testing.T) {
	prog := generate(t, minimalSrc)
	if len(prog.Flows) != 1 {
		t.Fatalf("flows = %d", len(prog.Flows))
	}
	flow := prog.Flows["F"]
	if len(flow.Steps) != 1 {
		t.Fatalf("steps = %d", len(flow.Steps))
	}
	step := flow.Steps[0]
	if step.Kind != KindStep || step.Name != "S" {
		t.Errorf("step = %+v", step)
	}
	if len(step.DependsOn) != 0 {
		t.Errorf("depends_on = %v", step.DependsOn)
	}
	if step.ID == "" {
		t.Error("step has no id")
	}
	if prog.Entrypoint == nil || prog.Entrypoint.Persona != "P" {
		t.Errorf("entrypoint = %+v", prog.Entrypoint)
	}
}

func TestNoEntrypoint(t *testing.T) {
	_, err := NewGenerator().Generate(parse(t, `flow F() { step S { ask: "x" output: String } }`))
	irErr, ok := err.(*Error)
	if !ok || irErr.Kind != NoEntrypoint {
		t.Fatalf("want NoEntrypoint, got %v", err)
	}
}

func TestDuplicateEntrypoint(t *testing.T) {
	_, err := NewGenerator().Generate(parse(t, `
flow F() { step S { ask: "x" output: String } }
run F()
run F()
`))
	irErr, ok := err.(*Error)
	if !ok || irErr.Kind != DuplicateEntrypoint {
		t.Fatalf("want DuplicateEntrypoint, got %v", err)
	}
}

func TestDependencyEdges(t *testing.T) {
	prog := generate(t, `
flow F(doc: Document) {
  step Extract { given: doc output: EntityMap }
  step Assess { given: Extract.output output: Summary }
  weave [Extract.output, Assess.output] into Final { format: StructuredReport }
}
run F("d")
`)
	steps := prog.Flows["F"].Steps
	if len(steps) != 3 {
		t.Fatalf("steps = %d", len(steps))
	}
	extract, assess, final := steps[0], steps[1], steps[2]
	if len(extract.DependsOn) != 0 {
		t.Errorf("extract deps = %v", extract.DependsOn)
	}
	if len(assess.DependsOn) != 1 || assess.DependsOn[0] != extract.ID {
		t.Errorf("assess deps = %v, extract id = %s", assess.DependsOn, extract.ID)
	}
	if len(final.DependsOn) != 2 {
		t.Errorf("final deps = %v", final.DependsOn)
	}
}

func TestCyclicDependency(t *testing.T) {
	_, err := NewGenerator().Generate(parse(t, `
flow F() {
  step A { given: B.output output: Summary }
  step B { given: A.output output: Summary }
}
run F()
`))
	irErr, ok := err.(*Error)
	if !ok || irErr.Kind != CyclicDependency {
		t.Fatalf("want CyclicDependency, got %v", err)
	}
	if !strings.Contains(irErr.Message, `"A"`) || !strings.Contains(irErr.Message, `"B"`) {
		t.Errorf("cycle message does not name both steps: %s", irErr.Message)
	}
}

func TestIdempotentIR(t *testing.T) {
	first, err := generate(t, minimalSrc).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	second, err := generate(t, minimalSrc).Marshal()
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("IR not byte-identical:\n%s\n%s", first, second)
	}
}

func TestRefineAttachesToPrecedingStep(t *testing.T) {
	prog := generate(t, `
flow F() {
  step S { ask: "try" output: Summary }
  refine {
    max_attempts: 2
    backoff: none
  }
}
run F()
`)
	steps := prog.Flows["F"].Steps
	if len(steps) != 1 {
		t.Fatalf("refine should not be its own step: %d steps", len(steps))
	}
	refine, ok := steps[0].Config["refine"].(map[string]interface{})
	if !ok {
		t.Fatalf("no refine config on step: %+v", steps[0].Config)
	}
	if refine["max_attempts"] != 2 {
		t.Errorf("max_attempts = %v", refine["max_attempts"])
	}
	if refine["pass_failure_context"] != true {
		t.Errorf("pass_failure_context = %v", refine["pass_failure_context"])
	}
}

func TestToolAndMemorySteps(t *testing.T) {
	prog := generate(t, `
tool WebSearch { provider: brave timeout: 10s }
memory Store { store: session }
flow F() {
  use WebSearch("query")
  remember(Findings) -> Store
  recall("topic") from Store
}
run F()
`)
	steps := prog.Flows["F"].Steps
	if steps[0].Kind != KindUseTool || steps[1].Kind != KindRemember || steps[2].Kind != KindRecall {
		t.Fatalf("kinds = %s %s %s", steps[0].Kind, steps[1].Kind, steps[2].Kind)
	}
	if prog.FindTool("WebSearch") == nil || prog.FindTool("WebSearch").Timeout != "10s" {
		t.Error("tool declaration not lowered")
	}
	if prog.FindMemory("Store") == nil {
		t.Error("memory declaration not lowered")
	}
}

func TestLoadRoundTrip(t *testing.T) {
	prog := generate(t, minimalSrc)
	data, err := prog.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ProgramID != prog.ProgramID || loaded.Entrypoint.FlowName != "F" {
		t.Errorf("loaded = %+v", loaded)
	}
}

func TestLoadVersionMismatch(t *testing.T) {
	_, err := Load([]byte(`{"axon_ir_version":"2.0","program_id":"x","flows":{}}`))
	irErr, ok := err.(*Error)
	if !ok || irErr.Kind != VersionMismatch {
		t.Fatalf("want VersionMismatch, got %v", err)
	}

	_, err = Load([]byte(`{"flows":{}}`))
	irErr, ok = err.(*Error)
	if !ok || irErr.Kind != VersionMismatch {
		t.Fatalf("want VersionMismatch for missing fields, got %v", err)
	}
}

func TestLoadIgnoresUnknownFields(t *testing.T) {
	prog := generate(t, minimalSrc)
	data, _ := prog.Marshal()
	patched := bytes.Replace(data,
		[]byte(`"axon_ir_version"`),
		[]byte(`"future_field":123,"axon_ir_version"`), 1)
	if _, err := Load(patched); err != nil {
		t.Fatalf("unknown field rejected: %v", err)
	}
}

func TestValidateStepConfig(t *testing.T) {
	prog := generate(t, `
flow F() {
  step S { ask: "score" output: ConfidenceScore }
  validate S.output against ConfidenceScore {
    if confidence < 0.8 -> refine(max_attempts: 2)
  }
}
run F()
`)
	steps := prog.Flows["F"].Steps
	if len(steps) != 2 {
		t.Fatalf("steps = %d", len(steps))
	}
	gate := steps[1]
	if gate.Kind != KindValidate {
		t.Fatalf("kind = %s", gate.Kind)
	}
	if gate.Config["schema"] != "ConfidenceScore" {
		t.Errorf("schema = %v", gate.Config["schema"])
	}
	if len(gate.DependsOn) != 1 || gate.DependsOn[0] != steps[0].ID {
		t.Errorf("gate deps = %v", gate.DependsOn)
	}
}
