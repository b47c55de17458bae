// Package typecheck implements AXON's epistemic type checker.
//
// The type system tracks the knowledge status of values, not their bit
// layout. Identity is nominal; compatibility comes from a fixed matrix;
// uncertainty is infectious. The checker is two-pass (declaration
// collection, then checking), accumulates every diagnostic, and always
// terminates.
package typecheck

import (
	"fmt"
	"sort"

	"github.com/axonlang/axon/internal/ast"
)

// #region diagnostic

// DiagKind classifies a type-checking diagnostic.
type DiagKind string

const (
	UnknownType                    DiagKind = "UnknownType"
	UnknownSymbol                  DiagKind = "UnknownSymbol"
	IncompatibleAssignment         DiagKind = "IncompatibleAssignment"
	RangeViolation                 DiagKind = "RangeViolation"
	DuplicateDeclaration           DiagKind = "DuplicateDeclaration"
	UncertaintyPropagationRequired DiagKind = "UncertaintyPropagationRequired"
	InvalidPredicate               DiagKind = "InvalidPredicate"
	InvalidValue                   DiagKind = "InvalidValue"
	ForwardReference               DiagKind = "ForwardReference"
	MissingField                   DiagKind = "MissingField"
	SymbolCycle                    DiagKind = "SymbolCycle"
)

// Diagnostic is a single type error with its source position.
type Diagnostic struct {
	Kind    DiagKind
	Message string
	Line    int
	Column  int
}

func (d Diagnostic) Error() string {
	return fmt.Sprintf("Type Error: %s [line %d, col %d]: %s", d.Kind, d.Line, d.Column, d.Message)
}

// #endregion diagnostic

// #region builtin-types

// Epistemic types — mutually exclusive knowledge statuses.
var EpistemicTypes = map[string]bool{
	"FactualClaim": true,
	"Opinion":      true,
	"Uncertainty":  true,
	"Speculation":  true,
	"CitedFact":    true,
}

// Content and analysis types.
var contentTypes = map[string]bool{
	"Document": true, "Chunk": true, "EntityMap": true,
	"Summary": true, "Translation": true,
}

var analysisTypes = map[string]bool{
	"RiskScore": true, "ConfidenceScore": true, "SentimentScore": true,
	"ReasoningChain": true, "Contradiction": true,
}

// BuiltinTypes is the full set of predeclared semantic type names.
var BuiltinTypes = func() map[string]bool {
	m := map[string]bool{
		"String": true, "Integer": true, "Float": true, "Boolean": true,
		"Duration": true, "List": true, "StructuredReport": true,
	}
	for k := range EpistemicTypes {
		m[k] = true
	}
	for k := range contentTypes {
		m[k] = true
	}
	for k := range analysisTypes {
		m[k] = true
	}
	return m
}()

// RangedBuiltins carry implicit numeric range constraints.
var RangedBuiltins = map[string][2]float64{
	"RiskScore":       {0.0, 1.0},
	"ConfidenceScore": {0.0, 1.0},
	"SentimentScore":  {-1.0, 1.0},
}

// #endregion builtin-types

// #region compatibility-matrix

// compatibility: source → targets it may substitute for.
var compatibility = map[string]map[string]bool{
	"FactualClaim":    {"String": true, "CitedFact": true},
	"RiskScore":       {"Float": true},
	"ConfidenceScore": {"Float": true},
	"SentimentScore":  {"Float": true},
}

// incompatibility: source → targets it may NEVER substitute for,
// regardless of anything else.
var incompatibility = map[string]map[string]bool{
	"Opinion":     {"FactualClaim": true, "CitedFact": true},
	"Speculation": {"FactualClaim": true, "CitedFact": true},
	"Float":       {"RiskScore": true, "ConfidenceScore": true, "SentimentScore": true},
}

// Compatible reports whether a value of type source may occupy a slot of
// type target. Nominal identity first, then the fixed matrix. Uncertainty
// is assignable anywhere (the consuming step's output is widened — see
// uncertainty propagation). User types match by name only.
func Compatible(source, target string) bool {
	if source == target {
		return true
	}
	if source == "Uncertainty" {
		return true
	}
	if incompatibility[source][target] {
		return false
	}
	if compatibility[source][target] {
		return true
	}
	// StructuredReport satisfies any output contract.
	if source == "StructuredReport" {
		return true
	}
	return false
}

// #endregion compatibility-matrix

// #region valid-values

var validTones = map[string]bool{
	"precise": true, "friendly": true, "technical": true,
	"conversational": true, "formal": true, "creative": true,
}

var validMemoryScopes = map[string]bool{
	"session": true, "persistent": true, "none": true, "ephemeral": true,
}

var validDepths = map[string]bool{
	"shallow": true, "standard": true, "deep": true, "exhaustive": true,
}

var validBackoffs = map[string]bool{
	"none": true, "linear": true, "exponential": true,
}

var validViolationActions = map[string]bool{
	"raise": true, "warn": true, "log": true, "escalate": true,
	"fallback": true, "retry": true,
}

var validEfforts = map[string]bool{
	"low": true, "medium": true, "high": true, "max": true,
}

var validRetrievals = map[string]bool{
	"semantic": true, "exact": true, "hybrid": true,
}

// #endregion valid-values

// #region symbol-table

// SymbolKind is a declaration category.
type SymbolKind string

const (
	SymPersona SymbolKind = "persona"
	SymContext SymbolKind = "context"
	SymAnchor  SymbolKind = "anchor"
	SymMemory  SymbolKind = "memory"
	SymTool    SymbolKind = "tool"
	SymType    SymbolKind = "type"
	SymFlow    SymbolKind = "flow"
	SymIntent  SymbolKind = "intent"
)

// Symbol is one declared name with its node.
type Symbol struct {
	Name string
	Kind SymbolKind
	Node ast.Node
}

// SymbolTable keeps one flat map per declaration category. All
// declarations live in program scope; only flow parameters nest below.
type SymbolTable struct {
	byKind map[SymbolKind]map[string]*Symbol
}

// NewSymbolTable creates an empty table.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{byKind: map[SymbolKind]map[string]*Symbol{}}
}

// Declare registers a name in its category. Returns the prior symbol when
// the name is already taken in that category.
func (st *SymbolTable) Declare(name string, kind SymbolKind, node ast.Node) *Symbol {
	table, ok := st.byKind[kind]
	if !ok {
		table = map[string]*Symbol{}
		st.byKind[kind] = table
	}
	if prior, exists := table[name]; exists {
		return prior
	}
	table[name] = &Symbol{Name: name, Kind: kind, Node: node}
	return nil
}

// Lookup finds a name within one category.
func (st *SymbolTable) Lookup(name string, kind SymbolKind) *Symbol {
	return st.byKind[kind][name]
}

// LookupAny finds a name in any category (for "is a X, not a Y" messages).
func (st *SymbolTable) LookupAny(name string) *Symbol {
	for _, table := range st.byKind {
		if sym, ok := table[name]; ok {
			return sym
		}
	}
	return nil
}

// #endregion symbol-table

// #region sorting

// sortDiagnostics orders diagnostics by source position.
func sortDiagnostics(diags []Diagnostic) {
	sort.SliceStable(diags, func(i, j int) bool {
		if diags[i].Line != diags[j].Line {
			return diags[i].Line < diags[j].Line
		}
		return diags[i].Column < diags[j].Column
	})
}

// #endregion sorting
