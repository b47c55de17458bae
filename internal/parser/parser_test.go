package parser

import (
	"strings"
	"testing"

	"github.com/axonlang/axon/internal/ast"
	"github.com/axonlang/axon/internal/lexer"
)

func parse(t *testing.T, src string) *ast.Program {
	t.Helper()
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	prog, err := New(toks).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return prog
}

func parseErr(t *testing.T, src string) *Error {
	t.Helper()
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	_, err = New(toks).Parse()
	if err == nil {
		t.Fatalf("expected parse error for %q", src)
	}
	perr, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	return perr
}

func TestPersonaBlock(t *testing.T) {
	prog := parse(t, `
persona LegalExpert {
  domain: ["contract law", "IP"]
  tone: precise
  confidence_threshold: 0.85
  cite_sources: true
  refuse_if: [speculation, legal_advice]
  language: "en"
}
`)
	if len(prog.Declarations) != 1 {
		t.Fatalf("got %d declarations", len(prog.Declarations))
	}
	p, ok := prog.Declarations[0].(*ast.Persona)
	if !ok {
		t.Fatalf("not a persona: %T", prog.Declarations[0])
	}
	if p.Name != "LegalExpert" || p.Tone != "precise" {
		t.Errorf("persona = %q tone = %q", p.Name, p.Tone)
	}
	if len(p.Domain) != 2 || p.Domain[0] != "contract law" {
		t.Errorf("domain = %v", p.Domain)
	}
	if p.ConfidenceThreshold == nil || *p.ConfidenceThreshold != 0.85 {
		t.Errorf("confidence_threshold = %v", p.ConfidenceThreshold)
	}
	if len(p.RefuseIf) != 2 {
		t.Errorf("refuse_if = %v", p.RefuseIf)
	}
}

func TestUnknownFieldIsParseError(t *testing.T) {
	perr := parseErr(t, `persona P { wingspan: 3 }`)
	if !strings.Contains(perr.Message, "wingspan") {
		t.Errorf("message %q does not name the field", perr.Message)
	}
	if perr.Line != 1 {
		t.Errorf("line = %d", perr.Line)
	}
}

func TestImportNamedList(t *testing.T) {
	prog := parse(t, `import axon.anchors.{NoHallucination, NoBias}`)
	imp := prog.Declarations[0].(*ast.Import)
	if len(imp.ModulePath) != 2 || imp.ModulePath[0] != "axon" || imp.ModulePath[1] != "anchors" {
		t.Errorf("module path = %v", imp.ModulePath)
	}
	if len(imp.Names) != 2 || imp.Names[0] != "NoHallucination" {
		t.Errorf("names = %v", imp.Names)
	}
}

func TestImportBarePath(t *testing.T) {
	prog := parse(t, `import axon.stdlib.personas`)
	imp := prog.Declarations[0].(*ast.Import)
	if len(imp.ModulePath) != 3 || len(imp.Names) != 0 {
		t.Errorf("path = %v names = %v", imp.ModulePath, imp.Names)
	}
}

func TestTypeRangeAndBody(t *testing.T) {
	prog := parse(t, `
type RiskScore(0.0..1.0)
type Party {
  name: FactualClaim,
  role: FactualClaim
  standing: Opinion?
}
`)
	ranged := prog.Declarations[0].(*ast.TypeDef)
	if ranged.Range == nil || ranged.Range.Min != 0.0 || ranged.Range.Max != 1.0 {
		t.Fatalf("range = %+v", ranged.Range)
	}
	structured := prog.Declarations[1].(*ast.TypeDef)
	if len(structured.Fields) != 3 {
		t.Fatalf("fields = %d", len(structured.Fields))
	}
	if !structured.Fields[2].Type.Optional {
		t.Error("standing should be optional")
	}
}

func TestTypeWherePredicate(t *testing.T) {
	prog := parse(t, `type HighConfidence where confidence >= 0.85 and sources.length > 0`)
	def := prog.Declarations[0].(*ast.TypeDef)
	if def.Where == nil || def.Where.Kind != ast.PredAnd {
		t.Fatalf("where = %+v", def.Where)
	}
	left := def.Where.Left
	if left.Kind != ast.PredCompare || left.Field != "confidence" || left.Op != ">=" {
		t.Errorf("left = %+v", left)
	}
	right := def.Where.Right
	if right.Field != "sources.length" || right.Value != "0" {
		t.Errorf("right = %+v", right)
	}
}

func TestFlowStepsAndRun(t *testing.T) {
	prog := parse(t, `
flow AnalyzeContract(doc: Document) -> StructuredReport {
  step Extract {
    given: doc
    probe doc for [parties, dates, obligations]
    output: EntityMap
  }
  step Assess {
    given: Extract.output
    ask: "What clauses present risk?"
    output: RiskAnalysis
  }
  validate Assess.output against RiskAnalysis {
    if confidence < 0.80 -> refine(max_attempts: 2)
    if structural_mismatch -> raise ValidationError
  }
  weave [Extract.output, Assess.output] into FinalReport {
    format: StructuredReport
    priority: [risks, summary]
  }
}

run AnalyzeContract("contract.pdf")
  as LegalExpert
  within LegalReview
  constrained_by [NoHallucination, StrictFactual]
  on_failure: retry(backoff: exponential)
  output_to: "report.json"
  effort: high
`)
	flow := prog.Declarations[0].(*ast.Flow)
	if flow.Name != "AnalyzeContract" || len(flow.Parameters) != 1 {
		t.Fatalf("flow = %q params = %d", flow.Name, len(flow.Parameters))
	}
	if flow.ReturnType.Name != "StructuredReport" {
		t.Errorf("return = %q", flow.ReturnType.Name)
	}
	if len(flow.Body) != 4 {
		t.Fatalf("body = %d steps", len(flow.Body))
	}
	extract := flow.Body[0].(*ast.Step)
	if extract.Probe == nil || len(extract.Probe.Fields) != 3 {
		t.Errorf("probe = %+v", extract.Probe)
	}
	assess := flow.Body[1].(*ast.Step)
	if assess.Given != "Extract.output" {
		t.Errorf("given = %q", assess.Given)
	}
	gate := flow.Body[2].(*ast.ValidateGate)
	if gate.Target != "Assess.output" || len(gate.Rules) != 2 {
		t.Fatalf("gate = %+v", gate)
	}
	if gate.Rules[0].Action != "refine" || gate.Rules[0].ActionParams["max_attempts"] != "2" {
		t.Errorf("rule0 = %+v", gate.Rules[0])
	}
	if gate.Rules[1].Action != "raise" || gate.Rules[1].ActionTarget != "ValidationError" {
		t.Errorf("rule1 = %+v", gate.Rules[1])
	}

	run := prog.Declarations[1].(*ast.Run)
	if run.Persona != "LegalExpert" || run.Context != "LegalReview" {
		t.Errorf("run wiring = %+v", run)
	}
	if len(run.Anchors) != 2 || run.OnFailure != "retry" {
		t.Errorf("anchors = %v on_failure = %q", run.Anchors, run.OnFailure)
	}
	if run.OnFailureParams["backoff"] != "exponential" {
		t.Errorf("params = %v", run.OnFailureParams)
	}
	if run.Effort != "high" || run.OutputTo != "report.json" {
		t.Errorf("effort = %q output_to = %q", run.Effort, run.OutputTo)
	}
}

func TestRefineBlockDefaults(t *testing.T) {
	prog := parse(t, `
flow F() {
  refine {
    max_attempts: 2
    backoff: exponential
    on_exhaustion: escalate
  }
}
`)
	flow := prog.Declarations[0].(*ast.Flow)
	ref := flow.Body[0].(*ast.Refine)
	if ref.MaxAttempts != 2 || ref.Backoff != "exponential" || ref.OnExhaustion != "escalate" {
		t.Errorf("refine = %+v", ref)
	}
	if !ref.PassFailureContext {
		t.Error("pass_failure_context should default to true")
	}
}

func TestToolMemoryRememberRecall(t *testing.T) {
	prog := parse(t, `
tool WebSearch {
  provider: brave
  max_results: 5
  filter: recent(days: 30)
  timeout: 10s
}

memory ResearchKnowledge {
  store: persistent
  backend: vector_db
  retrieval: semantic
  decay: none
}

flow Research(topic: String) {
  use WebSearch("quantum computing 2025")
  remember(Findings) -> ResearchKnowledge
  recall("quantum") from ResearchKnowledge
}
`)
	tool := prog.Declarations[0].(*ast.Tool)
	if tool.Timeout != "10s" || *tool.MaxResults != 5 {
		t.Errorf("tool = %+v", tool)
	}
	if tool.FilterExpr != "recent(days: 30)" {
		t.Errorf("filter = %q", tool.FilterExpr)
	}
	mem := prog.Declarations[1].(*ast.Memory)
	if mem.Store != "persistent" || mem.Retrieval != "semantic" {
		t.Errorf("memory = %+v", mem)
	}
	flow := prog.Declarations[2].(*ast.Flow)
	use := flow.Body[0].(*ast.UseTool)
	if use.ToolName != "WebSearch" || use.Argument != "quantum computing 2025" {
		t.Errorf("use = %+v", use)
	}
	rem := flow.Body[1].(*ast.Remember)
	if rem.Expression != "Findings" || rem.MemoryTarget != "ResearchKnowledge" {
		t.Errorf("remember = %+v", rem)
	}
	rec := flow.Body[2].(*ast.Recall)
	if rec.Query != "quantum" || rec.MemorySource != "ResearchKnowledge" {
		t.Errorf("recall = %+v", rec)
	}
}

func TestConditionalBranches(t *testing.T) {
	prog := parse(t, `
flow F() {
  if confidence < 0.5 -> step Retry { ask: "try again" }
  else -> step Accept { ask: "done" }
}
`)
	flow := prog.Declarations[0].(*ast.Flow)
	cond := flow.Body[0].(*ast.Conditional)
	if cond.Condition != "confidence" || cond.ComparisonOp != "<" || cond.ComparisonValue != "0.5" {
		t.Errorf("cond = %+v", cond)
	}
	if cond.Then.(*ast.Step).Name != "Retry" || cond.Else.(*ast.Step).Name != "Accept" {
		t.Error("branch steps wrong")
	}
}

func TestAnchorViolationActions(t *testing.T) {
	prog := parse(t, `
anchor NoHallucination {
  require: source_citation
  confidence_floor: 0.75
  unknown_response: "I don't know."
  on_violation: raise AnchorBreachError
}
anchor Soft {
  on_violation: fallback("safe answer")
}
anchor Bounded {
  on_violation: retry(2)
}
`)
	a := prog.Declarations[0].(*ast.Anchor)
	if a.OnViolation != "raise" || a.OnViolationTarget != "AnchorBreachError" {
		t.Errorf("anchor = %+v", a)
	}
	b := prog.Declarations[1].(*ast.Anchor)
	if b.OnViolation != "fallback" || b.OnViolationTarget != "safe answer" {
		t.Errorf("fallback = %+v", b)
	}
	c := prog.Declarations[2].(*ast.Anchor)
	if c.OnViolation != "retry" || c.OnViolationTarget != "2" {
		t.Errorf("retry = %+v", c)
	}
}

func TestStopsAtFirstError(t *testing.T) {
	perr := parseErr(t, `flow F( { }`)
	if perr.Expected == "" || perr.Found == "" {
		t.Errorf("expected/found not populated: %+v", perr)
	}
}

func TestRoundTripPrint(t *testing.T) {
	src := `
persona P {
  domain: ["x"]
  tone: precise
}

context C {
  memory: session
  depth: deep
  max_tokens: 4096
  temperature: 0.3
}

anchor A {
  require: source_citation
  confidence_floor: 0.9
  on_violation: raise AnchorBreachError
}

type RiskScore(0.0..1.0)

flow F(doc: Document) -> String {
  step S {
    given: doc
    ask: "hi"
    output: String
  }
  weave [S.output, S.output] into Final {
    format: StructuredReport
  }
}

run F("a.txt") as P within C constrained_by [A] effort: high
`
	first := parse(t, src)
	printed := ast.Print(first)
	second := parse(t, printed)
	reprinted := ast.Print(second)
	if printed != reprinted {
		t.Errorf("print not stable:\n--- first ---\n%s\n--- second ---\n%s", printed, reprinted)
	}
	if len(first.Declarations) != len(second.Declarations) {
		t.Fatalf("declaration count changed: %d vs %d",
			len(first.Declarations), len(second.Declarations))
	}
}
