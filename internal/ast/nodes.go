// Package ast defines the cognitive syntax tree of the AXON language.
//
// The tree has no mechanical nodes (no loops, no assignments). Every node
// is a cognitive primitive: a persona, an anchor, a reasoning chain, a
// probe. Each node carries the source position of its introducing token.
package ast

// #region node

// Node is implemented by every AST node.
type Node interface {
	Pos() (line, column int)
}

// Position is embedded in every node for diagnostics.
type Position struct {
	Line   int
	Column int
}

// Pos returns the node's source position.
func (p Position) Pos() (int, int) { return p.Line, p.Column }

// #endregion node

// #region program

// Program is the root node: an ordered list of top-level declarations.
type Program struct {
	Position
	Declarations []Node
}

// Import is a dotted module path with optional named imports:
// import axon.anchors.{NoHallucination, NoBias}
type Import struct {
	Position
	ModulePath []string
	Names      []string
}

// #endregion program

// #region declarations

// Persona is the cognitive identity executing a flow.
type Persona struct {
	Position
	Name                string
	Domain              []string
	Tone                string
	ConfidenceThreshold *float64
	CiteSources         *bool
	RefuseIf            []string
	Language            string
	Description         string
}

// Context is the working-memory and session configuration.
type Context struct {
	Position
	Name        string
	MemoryScope string // session | persistent | none
	Language    string
	Depth       string // shallow | standard | deep | exhaustive
	MaxTokens   *int
	Temperature *float64
	CiteSources *bool
}

// Anchor is a hard constraint bundle enforced at runtime.
type Anchor struct {
	Position
	Name              string
	Require           string
	Reject            []string
	Enforce           string
	ConfidenceFloor   *float64
	UnknownResponse   string
	OnViolation       string // raise | warn | log | escalate | fallback | retry
	OnViolationTarget string // error name, fallback string, or retry count
}

// Memory declares a semantic storage surface.
type Memory struct {
	Position
	Name      string
	Store     string // session | persistent | ephemeral
	Backend   string
	Retrieval string // semantic | exact | hybrid
	Decay     string // none | daily | weekly | <duration>
}

// Tool declares an external capability.
type Tool struct {
	Position
	Name       string
	Provider   string
	MaxResults *int
	FilterExpr string
	Timeout    string // duration literal
	Runtime    string
	Sandbox    *bool
}

// #endregion declarations

// #region types

// TypeExpr is a type reference: Document, List<Party>, FactualClaim?.
type TypeExpr struct {
	Position
	Name         string
	GenericParam string
	Optional     bool
}

// RangeConstraint is a numeric refinement range on a type: (0.0..1.0).
type RangeConstraint struct {
	Position
	Min float64
	Max float64
}

// PredicateKind tags a node in a where-clause predicate tree.
type PredicateKind string

const (
	PredAnd     PredicateKind = "and"     // conjunction of Left and Right
	PredCompare PredicateKind = "compare" // Field Op Value
	PredIn      PredicateKind = "in"      // Field in Members
	PredCall    PredicateKind = "call"    // Field(args...) — rejected by the checker
)

// Predicate is one node of a structural where-clause tree. Only forms the
// type checker can evaluate without inference are admitted downstream.
type Predicate struct {
	Position
	Kind    PredicateKind
	Field   string // dotted path, e.g. "sources.length"
	Op      string // one of < > <= >= == !=
	Value   string // literal lexeme
	Members []string
	Left    *Predicate
	Right   *Predicate
}

// TypeField is a single field of a structured type definition.
type TypeField struct {
	Position
	Name string
	Type *TypeExpr
}

// TypeDef declares a user semantic type: ranged, constrained, or structured.
type TypeDef struct {
	Position
	Name   string
	Fields []*TypeField
	Range  *RangeConstraint
	Where  *Predicate
}

// #endregion types

// #region flow

// Parameter is a typed flow parameter.
type Parameter struct {
	Position
	Name string
	Type *TypeExpr
}

// Flow is a named cognitive pipeline with typed inputs and an output.
type Flow struct {
	Position
	Name       string
	Parameters []*Parameter
	ReturnType *TypeExpr
	Body       []Node
}

// Step is a named cognitive step inside a flow.
type Step struct {
	Position
	Name            string
	Given           string
	Ask             string
	UseTool         *UseTool
	Probe           *Probe
	Reason          *Reason
	Weave           *Weave
	OutputType      string
	ConfidenceFloor *float64
	Body            []Node
}

// #endregion flow

// #region cognitive

// Intent is an atomic semantic instruction with typed I/O.
type Intent struct {
	Position
	Name            string
	Given           string
	Ask             string
	OutputType      *TypeExpr
	ConfidenceFloor *float64
}

// Probe is a targeted structured extraction: probe doc for [a, b].
type Probe struct {
	Position
	Target string
	Fields []string
}

// Reason is an explicit chain-of-thought directive.
type Reason struct {
	Position
	Name           string
	About          string
	Given          []string
	Depth          int
	ShowWork       bool
	ChainOfThought bool
	Ask            string
	OutputType     string
}

// ValidateRule is one rule inside a validate gate:
// if confidence < 0.80 -> refine(max_attempts: 2)
type ValidateRule struct {
	Position
	Condition       string
	ComparisonOp    string
	ComparisonValue string
	Action          string // refine | raise | warn | pass
	ActionTarget    string
	ActionParams    map[string]string
}

// ValidateGate is a semantic validation checkpoint.
type ValidateGate struct {
	Position
	Target string
	Schema string
	Rules  []*ValidateRule
}

// Refine configures adaptive retry with failure-context injection.
type Refine struct {
	Position
	MaxAttempts        int
	PassFailureContext bool
	Backoff            string // none | linear | exponential
	OnExhaustion       string // raise | escalate | fallback
	OnExhaustionTarget string
}

// Weave synthesises multiple sources into one result.
type Weave struct {
	Position
	Sources    []string
	Target     string
	FormatType string
	Priority   []string
	Style      string
}

// UseTool invokes an external tool: use WebSearch("query").
type UseTool struct {
	Position
	ToolName string
	Argument string
}

// Remember stores a value into semantic memory.
type Remember struct {
	Position
	Expression   string
	MemoryTarget string
}

// Recall retrieves from semantic memory.
type Recall struct {
	Position
	Query        string
	MemorySource string
}

// Conditional is cognitive branching on a comparison.
type Conditional struct {
	Position
	Condition       string
	ComparisonOp    string
	ComparisonValue string
	Then            Node
	Else            Node
}

// #endregion cognitive

// #region run

// Run is the entry point binding a flow to persona, context, anchors,
// failure strategy, output destination, and effort level.
type Run struct {
	Position
	FlowName        string
	Arguments       []string
	Persona         string
	Context         string
	Anchors         []string
	OnFailure       string // log | retry | escalate | raise
	OnFailureParams map[string]string
	OutputTo        string
	Effort          string // low | medium | high | max
}

// #endregion run
