package typecheck

import (
	"testing"

	"github.com/axonlang/axon/internal/ast"
	"github.com/axonlang/axon/internal/lexer"
	"github.com/axonlang/axon/internal/parser"
)

func compile(t *testing.T, src string) (*Checked, []Diagnostic) {
	t.Helper()
	toks, err := lexer.New(src).Tokenize()
	if err != nil {
		t.Fatalf("lex: %v", err)
	}
	prog, err := parser.New(toks).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return Check(prog)
}

func mustClean(t *testing.T, src string) *Checked {
	t.Helper()
	checked, diags := compile(t, src)
	if len(diags) > 0 {
		t.Fatalf("unexpected diagnostics: %v", diags)
	}
	return checked
}

func findKind(diags []Diagnostic, kind DiagKind) *Diagnostic {
	for i := range diags {
		if diags[i].Kind == kind {
			return &diags[i]
		}
	}
	return nil
}

func TestMinimalProgramIsClean(t *testing.T) {
	mustClean(t, `
persona P { domain: ["x"] tone: precise }
flow F() -> String {
  step S { ask: "hi" output: String }
}
run F() as P
`)
}

func TestDuplicateDeclaration(t *testing.T) {
	_, diags := compile(t, `
persona P { tone: precise }
persona P { tone: formal }
`)
	d := findKind(diags, DuplicateDeclaration)
	if d == nil {
		t.Fatalf("no DuplicateDeclaration in %v", diags)
	}
	if d.Line != 3 {
		t.Errorf("diagnostic at line %d, want 3", d.Line)
	}
}

func TestEmptyDomainRejected(t *testing.T) {
	_, diags := compile(t, `persona P { domain: [] }`)
	if findKind(diags, InvalidValue) == nil {
		t.Fatalf("empty domain not rejected: %v", diags)
	}
}

func TestOpinionCannotReachFactualClaimField(t *testing.T) {
	_, diags := compile(t, `
type R { fact: FactualClaim }
flow F() -> R {
  step S { ask: "speculate" output: Opinion }
  validate S.output against R {
    if structural_mismatch -> raise ValidationError
  }
}
run F()
`)
	d := findKind(diags, IncompatibleAssignment)
	if d == nil {
		t.Fatalf("no IncompatibleAssignment in %v", diags)
	}
}

func TestSpeculationRejectedIntoCitedFact(t *testing.T) {
	_, diags := compile(t, `
flow F() -> CitedFact {
  step S { ask: "guess" output: Speculation }
}
run F()
`)
	if findKind(diags, IncompatibleAssignment) == nil {
		t.Fatalf("Speculation -> CitedFact not rejected: %v", diags)
	}
}

func TestFactualClaimWidensToString(t *testing.T) {
	mustClean(t, `
flow F() -> String {
  step S { ask: "state a fact" output: FactualClaim }
}
run F()
`)
}

func TestFloatCannotNarrowToRiskScore(t *testing.T) {
	if Compatible("Float", "RiskScore") {
		t.Error("Float must not substitute for RiskScore")
	}
	if !Compatible("RiskScore", "Float") {
		t.Error("RiskScore must substitute for Float")
	}
}

func TestNominalInequality(t *testing.T) {
	// Structurally identical, nominally distinct.
	_, diags := compile(t, `
type A { value: String }
type B { value: String }
flow F() -> B {
  step S { ask: "make an A" output: A }
}
run F()
`)
	if findKind(diags, IncompatibleAssignment) == nil {
		t.Fatalf("A assigned to B slot despite nominal typing: %v", diags)
	}
}

func TestUncertaintyPropagation(t *testing.T) {
	_, diags := compile(t, `
flow F() {
  step Source { ask: "anything" output: Uncertainty }
  step Consumer { given: Source.output output: FactualClaim }
}
run F()
`)
	d := findKind(diags, UncertaintyPropagationRequired)
	if d == nil {
		t.Fatalf("no UncertaintyPropagationRequired in %v", diags)
	}
}

func TestUncertaintyPropagationTransitive(t *testing.T) {
	// A widened step taints its own consumers even when declared widened.
	_, diags := compile(t, `
flow F() {
  step A { ask: "x" output: Uncertainty }
  step B { given: A.output output: Uncertainty }
  step C { given: B.output output: Summary }
}
run F()
`)
	if findKind(diags, UncertaintyPropagationRequired) == nil {
		t.Fatalf("transitive taint missed: %v", diags)
	}
}

func TestUncertaintyParamForbidden(t *testing.T) {
	_, diags := compile(t, `
flow F(x: Uncertainty) {
  step S { given: x output: Uncertainty }
}
run F("v")
`)
	if findKind(diags, InvalidValue) == nil {
		t.Fatalf("Uncertainty parameter accepted: %v", diags)
	}
}

func TestListOfUncertaintyTaintsWholeContainer(t *testing.T) {
	_, diags := compile(t, `
flow F(xs: List<Uncertainty>) {
  step S { given: xs output: Summary }
}
run F("v")
`)
	if findKind(diags, UncertaintyPropagationRequired) == nil {
		t.Fatalf("List<Uncertainty> did not taint: %v", diags)
	}
}

func TestForwardReferenceRejected(t *testing.T) {
	_, diags := compile(t, `
flow F() {
  step A { given: B.output output: Summary }
  step B { ask: "later" output: Summary }
}
run F()
`)
	if findKind(diags, ForwardReference) == nil {
		t.Fatalf("forward reference accepted: %v", diags)
	}
}

func TestRangeBounds(t *testing.T) {
	// lo == hi is legal; lo > hi is not.
	mustClean(t, `
type Exact(0.5..0.5)
flow F() { step S { ask: "x" output: String } }
run F()
`)
	_, diags := compile(t, `type Bad(1.0..0.0)`)
	if findKind(diags, RangeViolation) == nil {
		t.Fatalf("inverted range accepted: %v", diags)
	}
}

func TestRangedLiteralBoundaries(t *testing.T) {
	checked := mustClean(t, `
type Score(0.0..1.0)
flow F() { step S { ask: "x" output: String } }
run F()
`)
	if !checked.CheckLiteralInRange("Score", 0.0) || !checked.CheckLiteralInRange("Score", 1.0) {
		t.Error("boundary literals must be accepted")
	}
	if checked.CheckLiteralInRange("Score", -0.0001) || checked.CheckLiteralInRange("Score", 1.0001) {
		t.Error("out-of-range literals must be rejected")
	}
}

func TestValidateRuleLiteralOutsideSchemaRange(t *testing.T) {
	_, diags := compile(t, `
type Score(0.0..1.0)
flow F() {
  step S { ask: "score it" output: Score }
  validate S.output against Score {
    if confidence < 1.5 -> raise ValidationError
  }
}
run F()
`)
	if findKind(diags, RangeViolation) == nil {
		t.Fatalf("literal 1.5 accepted against (0.0..1.0): %v", diags)
	}
}

func TestUnknownTypeReference(t *testing.T) {
	_, diags := compile(t, `
flow F() -> Nonexistent {
  step S { ask: "x" output: AlsoMissing }
}
run F()
`)
	count := 0
	for _, d := range diags {
		if d.Kind == UnknownType {
			count++
		}
	}
	if count != 2 {
		t.Fatalf("want 2 UnknownType diagnostics, got %d (%v)", count, diags)
	}
}

func TestRunWiring(t *testing.T) {
	_, diags := compile(t, `
flow F() { step S { ask: "x" output: String } }
run F() as MissingPersona within MissingContext constrained_by [MissingAnchor]
`)
	count := 0
	for _, d := range diags {
		if d.Kind == UnknownSymbol {
			count++
		}
	}
	if count != 3 {
		t.Fatalf("want 3 UnknownSymbol diagnostics, got %d (%v)", count, diags)
	}
}

func TestCategoryMismatchNamed(t *testing.T) {
	_, diags := compile(t, `
persona P { tone: precise }
flow F() { step S { ask: "x" output: String } }
run P()
`)
	d := findKind(diags, UnknownSymbol)
	if d == nil {
		t.Fatalf("running a persona not rejected: %v", diags)
	}
}

func TestInferencePredicateRejected(t *testing.T) {
	_, diags := compile(t, `type Coherent where sounds_reasonable(text)`)
	if findKind(diags, InvalidPredicate) == nil {
		t.Fatalf("inference predicate accepted: %v", diags)
	}
}

func TestStructuralPredicatesAccepted(t *testing.T) {
	mustClean(t, `
type High where confidence >= 0.85 and sources.length > 0
type Toned where tone in [precise, formal]
flow F() { step S { ask: "x" output: String } }
run F()
`)
}

func TestTypeCycleFlagged(t *testing.T) {
	_, diags := compile(t, `
type A { next: B? }
type B { prev: A? }
`)
	if findKind(diags, SymbolCycle) == nil {
		t.Fatalf("type cycle accepted: %v", diags)
	}
}

func TestDiagnosticsInSourceOrder(t *testing.T) {
	_, diags := compile(t, `
persona P { tone: melodic }
context C { depth: bottomless }
`)
	if len(diags) < 2 {
		t.Fatalf("want 2+ diagnostics, got %v", diags)
	}
	for i := 1; i < len(diags); i++ {
		if diags[i].Line < diags[i-1].Line {
			t.Errorf("diagnostics out of order: %v", diags)
		}
	}
}

func TestUndeclaredToolAndMemory(t *testing.T) {
	_, diags := compile(t, `
flow F() {
  use Ghost("query")
  remember(Result) -> NoSuchStore
  recall("q") from NoSuchStore
}
run F()
`)
	count := 0
	for _, d := range diags {
		if d.Kind == UnknownSymbol {
			count++
		}
	}
	if count != 3 {
		t.Fatalf("want 3 UnknownSymbol diagnostics, got %d (%v)", count, diags)
	}
}

func TestSymbolTableCategories(t *testing.T) {
	checked := mustClean(t, `
persona Advisor { tone: formal }
flow F() { step S { ask: "x" output: String } }
run F() as Advisor
`)
	if checked.Symbols.Lookup("Advisor", SymPersona) == nil {
		t.Error("Advisor not registered as persona")
	}
	if checked.Symbols.Lookup("Advisor", SymFlow) != nil {
		t.Error("Advisor wrongly visible as flow")
	}
	var _ ast.Node = checked.Symbols.Lookup("F", SymFlow).Node
}
