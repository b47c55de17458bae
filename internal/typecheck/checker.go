package typecheck

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/axonlang/axon/internal/ast"
)

// #region checker

// Checker walks a parsed program and accumulates all diagnostics.
type Checker struct {
	diags     []Diagnostic
	symbols   *SymbolTable
	userTypes map[string]*ast.TypeDef
}

// Checked bundles the program with its populated symbol table so later
// stages (IR generation) can reuse resolution.
type Checked struct {
	AST     *ast.Program
	Symbols *SymbolTable
}

// Check runs both passes over the program and returns the diagnostics in
// source order. An empty slice means the program is well-typed.
func Check(program *ast.Program) (*Checked, []Diagnostic) {
	c := &Checker{
		symbols:   NewSymbolTable(),
		userTypes: map[string]*ast.TypeDef{},
	}
	c.registerDeclarations(program)
	for _, decl := range program.Declarations {
		c.checkDeclaration(decl)
	}
	c.checkTypeCycles()
	sortDiagnostics(c.diags)
	return &Checked{AST: program, Symbols: c.symbols}, c.diags
}

func (c *Checker) emit(kind DiagKind, node ast.Node, format string, args ...interface{}) {
	line, col := node.Pos()
	c.diags = append(c.diags, Diagnostic{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Line:    line,
		Column:  col,
	})
}

// #endregion checker

// #region pass-one

func (c *Checker) registerDeclarations(program *ast.Program) {
	for _, decl := range program.Declarations {
		switch d := decl.(type) {
		case *ast.Persona:
			c.register(d.Name, SymPersona, d)
		case *ast.Context:
			c.register(d.Name, SymContext, d)
		case *ast.Anchor:
			c.register(d.Name, SymAnchor, d)
		case *ast.Memory:
			c.register(d.Name, SymMemory, d)
		case *ast.Tool:
			c.register(d.Name, SymTool, d)
		case *ast.TypeDef:
			c.register(d.Name, SymType, d)
			if _, dup := c.userTypes[d.Name]; !dup {
				c.userTypes[d.Name] = d
			}
		case *ast.Flow:
			c.register(d.Name, SymFlow, d)
		case *ast.Intent:
			c.register(d.Name, SymIntent, d)
		}
	}
}

func (c *Checker) register(name string, kind SymbolKind, node ast.Node) {
	if prior := c.symbols.Declare(name, kind, node); prior != nil {
		line, _ := prior.Node.Pos()
		c.emit(DuplicateDeclaration, node,
			"duplicate declaration: %q already defined as %s at line %d",
			name, prior.Kind, line)
	}
}

// #endregion pass-one

// #region pass-two

func (c *Checker) checkDeclaration(decl ast.Node) {
	switch d := decl.(type) {
	case *ast.Persona:
		c.checkPersona(d)
	case *ast.Context:
		c.checkContext(d)
	case *ast.Anchor:
		c.checkAnchor(d)
	case *ast.Memory:
		c.checkMemory(d)
	case *ast.Tool:
		c.checkTool(d)
	case *ast.TypeDef:
		c.checkTypeDef(d)
	case *ast.Flow:
		c.checkFlow(d)
	case *ast.Intent:
		c.checkIntent(d)
	case *ast.Run:
		c.checkRun(d)
	}
}

// #endregion pass-two

// #region declarations

func (c *Checker) checkPersona(d *ast.Persona) {
	if d.Domain != nil && len(d.Domain) == 0 {
		c.emit(InvalidValue, d, "persona %q declares an empty domain list", d.Name)
	}
	if d.Tone != "" && !validTones[d.Tone] {
		c.emit(InvalidValue, d, "unknown tone %q for persona %q (valid: %s)",
			d.Tone, d.Name, joinSorted(validTones))
	}
	if d.ConfidenceThreshold != nil {
		c.checkUnitRange(*d.ConfidenceThreshold, "confidence_threshold", d)
	}
}

func (c *Checker) checkContext(d *ast.Context) {
	if d.MemoryScope != "" && !validMemoryScopes[d.MemoryScope] {
		c.emit(InvalidValue, d, "unknown memory scope %q in context %q (valid: %s)",
			d.MemoryScope, d.Name, joinSorted(validMemoryScopes))
	}
	if d.Depth != "" && !validDepths[d.Depth] {
		c.emit(InvalidValue, d, "unknown depth %q in context %q (valid: %s)",
			d.Depth, d.Name, joinSorted(validDepths))
	}
	if d.Temperature != nil {
		c.checkUnitRange(*d.Temperature, "temperature", d)
	}
	if d.MaxTokens != nil && *d.MaxTokens <= 0 {
		c.emit(InvalidValue, d, "max_tokens must be positive, got %d in context %q",
			*d.MaxTokens, d.Name)
	}
}

func (c *Checker) checkAnchor(d *ast.Anchor) {
	if d.ConfidenceFloor != nil {
		c.checkUnitRange(*d.ConfidenceFloor, "confidence_floor", d)
	}
	if d.OnViolation != "" && !validViolationActions[d.OnViolation] {
		c.emit(InvalidValue, d, "unknown on_violation action %q in anchor %q (valid: %s)",
			d.OnViolation, d.Name, joinSorted(validViolationActions))
	}
	if d.OnViolation == "raise" && d.OnViolationTarget == "" {
		c.emit(MissingField, d, "anchor %q uses 'raise' but names no error type", d.Name)
	}
	if d.OnViolation == "retry" {
		if n, err := strconv.Atoi(d.OnViolationTarget); err != nil || n < 1 {
			c.emit(InvalidValue, d, "anchor %q retry count must be a positive integer", d.Name)
		}
	}
}

func (c *Checker) checkMemory(d *ast.Memory) {
	if d.Store != "" && !validMemoryScopes[d.Store] {
		c.emit(InvalidValue, d, "unknown store %q in memory %q (valid: %s)",
			d.Store, d.Name, joinSorted(validMemoryScopes))
	}
	if d.Retrieval != "" && !validRetrievals[d.Retrieval] {
		c.emit(InvalidValue, d, "unknown retrieval strategy %q in memory %q (valid: %s)",
			d.Retrieval, d.Name, joinSorted(validRetrievals))
	}
}

func (c *Checker) checkTool(d *ast.Tool) {
	if d.MaxResults != nil && *d.MaxResults <= 0 {
		c.emit(InvalidValue, d, "max_results must be positive, got %d in tool %q",
			*d.MaxResults, d.Name)
	}
}

func (c *Checker) checkTypeDef(d *ast.TypeDef) {
	if d.Range != nil && d.Range.Min > d.Range.Max {
		c.emit(RangeViolation, d.Range,
			"invalid range in type %q: lo (%v) must not exceed hi (%v)",
			d.Name, d.Range.Min, d.Range.Max)
	}
	if d.Where != nil {
		c.checkPredicate(d.Where, d.Name)
	}
	for _, f := range d.Fields {
		if f.Type != nil {
			c.checkTypeRef(f.Type.Name, f)
			if f.Type.GenericParam != "" {
				c.checkTypeRef(f.Type.GenericParam, f)
			}
		}
	}
}

// checkPredicate admits only structural predicates: conjunction, numeric
// or literal comparison, and set membership over a finite set. Anything
// that would need inference to evaluate is rejected at declaration time.
func (c *Checker) checkPredicate(p *ast.Predicate, typeName string) {
	switch p.Kind {
	case ast.PredAnd:
		c.checkPredicate(p.Left, typeName)
		c.checkPredicate(p.Right, typeName)
	case ast.PredCompare, ast.PredIn:
		// structural, fine
	case ast.PredCall:
		c.emit(InvalidPredicate, p,
			"predicate %q in type %q requires inference to evaluate; only structural predicates are allowed",
			p.Field, typeName)
	}
}

func (c *Checker) checkIntent(d *ast.Intent) {
	if d.Ask == "" {
		c.emit(MissingField, d, "intent %q is missing the required 'ask' field", d.Name)
	}
	if d.OutputType != nil {
		c.checkTypeExpr(d.OutputType, d)
	}
	if d.ConfidenceFloor != nil {
		c.checkUnitRange(*d.ConfidenceFloor, "confidence_floor", d)
	}
}

// #endregion declarations

// #region flow

// stepTypes tracks each named step's inferred output type while walking a
// flow body in order.
type stepTypes map[string]string

func (c *Checker) checkFlow(d *ast.Flow) {
	params := map[string]string{}
	for _, p := range d.Parameters {
		if p.Type == nil {
			continue
		}
		c.checkTypeExpr(p.Type, p)
		if typeWidensToUncertainty(p.Type) {
			c.emit(InvalidValue, p,
				"parameter %q of flow %q may not be declared Uncertainty; uncertainty is inferred, never declared",
				p.Name, d.Name)
		}
		params[p.Name] = effectiveTypeName(p.Type)
	}
	if d.ReturnType != nil {
		c.checkTypeExpr(d.ReturnType, d)
		if typeWidensToUncertainty(d.ReturnType) {
			c.emit(InvalidValue, d,
				"flow %q may not declare an Uncertainty return type", d.Name)
		}
	}

	seen := stepTypes{}
	names := map[string]bool{}
	var lastOutput string
	for _, step := range d.Body {
		out := c.checkFlowStep(step, d, params, seen, names)
		if out != "" {
			lastOutput = out
		}
	}

	// The flow's final value must satisfy the declared return type.
	if d.ReturnType != nil && lastOutput != "" {
		c.checkAssignment(lastOutput, d.ReturnType.Name, d,
			fmt.Sprintf("flow %q return", d.Name))
	}
}

// checkFlowStep dispatches on the step kind and returns the step's
// inferred output type ("" when the step produces no value).
func (c *Checker) checkFlowStep(
	step ast.Node,
	flow *ast.Flow,
	params map[string]string,
	seen stepTypes,
	names map[string]bool,
) string {
	switch s := step.(type) {
	case *ast.Step:
		return c.checkStep(s, flow, params, seen, names)
	case *ast.Probe:
		c.checkProbe(s, params, seen)
		return ""
	case *ast.Reason:
		return c.checkReason(s, params, seen)
	case *ast.ValidateGate:
		c.checkValidateGate(s, seen)
		return ""
	case *ast.Refine:
		if s.MaxAttempts < 1 {
			c.emit(InvalidValue, s, "refine max_attempts must be >= 1, got %d", s.MaxAttempts)
		}
		if s.Backoff != "" && !validBackoffs[s.Backoff] {
			c.emit(InvalidValue, s, "unknown backoff strategy %q (valid: %s)",
				s.Backoff, joinSorted(validBackoffs))
		}
		return ""
	case *ast.Weave:
		return c.checkWeave(s, seen, params)
	case *ast.UseTool:
		c.checkUseTool(s)
		return ""
	case *ast.Remember:
		c.checkMemoryRef(s.MemoryTarget, "remember", s)
		return ""
	case *ast.Recall:
		c.checkMemoryRef(s.MemorySource, "recall", s)
		return ""
	case *ast.Conditional:
		if s.Then != nil {
			c.checkFlowStep(s.Then, flow, params, seen, names)
		}
		if s.Else != nil {
			c.checkFlowStep(s.Else, flow, params, seen, names)
		}
		return ""
	}
	return ""
}

func (c *Checker) checkStep(
	s *ast.Step,
	flow *ast.Flow,
	params map[string]string,
	seen stepTypes,
	names map[string]bool,
) string {
	if names[s.Name] {
		c.emit(DuplicateDeclaration, s, "duplicate step name %q in flow %q", s.Name, flow.Name)
	}
	names[s.Name] = true

	if s.ConfidenceFloor != nil {
		c.checkUnitRange(*s.ConfidenceFloor, "confidence_floor", s)
	}

	uncertain := false
	for _, input := range inputRefs(s.Given) {
		t, ok := c.resolveInput(input, params, seen, s)
		if ok && t == "Uncertainty" {
			uncertain = true
		}
	}
	if s.Probe != nil {
		c.checkProbe(s.Probe, params, seen)
	}
	if s.UseTool != nil {
		c.checkUseTool(s.UseTool)
	}
	if s.Weave != nil {
		c.checkWeave(s.Weave, seen, params)
	}

	out := s.OutputType
	if out != "" {
		c.checkTypeRef(out, s)
	}

	// Uncertainty is infectious: a step consuming an uncertain input must
	// widen its declared output to Uncertainty.
	if uncertain {
		if out != "" && out != "Uncertainty" {
			c.emit(UncertaintyPropagationRequired, s,
				"step %q consumes an Uncertainty input; its output type %q must widen to Uncertainty",
				s.Name, out)
		}
		out = "Uncertainty"
	}
	if out != "" {
		seen[s.Name] = out
	}
	return out
}

func (c *Checker) checkProbe(p *ast.Probe, params map[string]string, seen stepTypes) {
	if len(p.Fields) == 0 {
		c.emit(MissingField, p, "probe directive has no extraction fields")
	}
	if p.Target != "" {
		c.resolveInput(p.Target, params, seen, p)
	}
}

func (c *Checker) checkReason(r *ast.Reason, params map[string]string, seen stepTypes) string {
	if r.Depth < 1 {
		c.emit(InvalidValue, r, "reasoning depth must be >= 1, got %d", r.Depth)
	}
	uncertain := false
	for _, g := range r.Given {
		t, ok := c.resolveInput(g, params, seen, r)
		if ok && t == "Uncertainty" {
			uncertain = true
		}
	}
	out := r.OutputType
	if out != "" {
		c.checkTypeRef(out, r)
	}
	if uncertain {
		if out != "" && out != "Uncertainty" {
			c.emit(UncertaintyPropagationRequired, r,
				"reason block consumes an Uncertainty input; its output type %q must widen to Uncertainty", out)
		}
		out = "Uncertainty"
	}
	if r.Name != "" && out != "" {
		seen[r.Name] = out
	}
	return out
}

func (c *Checker) checkValidateGate(g *ast.ValidateGate, seen stepTypes) {
	if g.Schema != "" {
		c.checkTypeRef(g.Schema, g)
	}
	if len(g.Rules) == 0 {
		c.emit(MissingField, g, "validate gate has no rules; at least one is required")
	}

	// The validated value must be able to occupy the schema slot.
	if src, ok := c.resolveStepOutput(g.Target, seen); ok && g.Schema != "" {
		c.checkAssignment(src, g.Schema, g, fmt.Sprintf("validate %s", g.Target))
	}

	// Literals compared against a ranged schema must lie in range.
	if bounds, ok := c.rangeOf(g.Schema); ok {
		for _, rule := range g.Rules {
			if rule.ComparisonValue == "" {
				continue
			}
			if v, err := strconv.ParseFloat(rule.ComparisonValue, 64); err == nil {
				if v < bounds[0] || v > bounds[1] {
					c.emit(RangeViolation, rule,
						"literal %v is outside the range (%v..%v) of type %q",
						v, bounds[0], bounds[1], g.Schema)
				}
			}
		}
	}
}

func (c *Checker) checkWeave(w *ast.Weave, seen stepTypes, params map[string]string) string {
	if len(w.Sources) < 2 {
		c.emit(InvalidValue, w, "weave requires at least 2 sources, got %d", len(w.Sources))
	}
	uncertain := false
	for _, src := range w.Sources {
		t, ok := c.resolveInput(src, params, seen, w)
		if !ok {
			continue
		}
		if t == "Uncertainty" {
			uncertain = true
		}
		if w.FormatType != "" {
			c.checkAssignment(t, w.FormatType, w, fmt.Sprintf("weave source %s", src))
		}
	}
	if w.FormatType != "" {
		c.checkTypeRef(w.FormatType, w)
	}
	out := w.FormatType
	if uncertain {
		out = "Uncertainty"
	}
	if w.Target != "" && out != "" {
		seen[w.Target] = out
	}
	return out
}

func (c *Checker) checkUseTool(u *ast.UseTool) {
	if u.ToolName == "" {
		return
	}
	if c.symbols.Lookup(u.ToolName, SymTool) != nil {
		return
	}
	if other := c.symbols.LookupAny(u.ToolName); other != nil {
		c.emit(UnknownSymbol, u, "%q is a %s, not a tool", u.ToolName, other.Kind)
	} else {
		c.emit(UnknownSymbol, u, "use of undeclared tool %q", u.ToolName)
	}
}

func (c *Checker) checkMemoryRef(name, op string, node ast.Node) {
	if name == "" {
		return
	}
	if c.symbols.Lookup(name, SymMemory) != nil {
		return
	}
	if other := c.symbols.LookupAny(name); other != nil {
		c.emit(UnknownSymbol, node, "%s target %q is a %s, not a memory store", op, name, other.Kind)
	} else {
		c.emit(UnknownSymbol, node, "%s references undeclared memory %q", op, name)
	}
}

// #endregion flow

// #region resolution

// inputRefs splits a step's given expression into individual references.
func inputRefs(given string) []string {
	if given == "" {
		return nil
	}
	trimmed := strings.TrimSpace(given)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
		parts := strings.Split(inner, ",")
		refs := make([]string, 0, len(parts))
		for _, p := range parts {
			if ref := strings.TrimSpace(p); ref != "" {
				refs = append(refs, ref)
			}
		}
		return refs
	}
	return []string{trimmed}
}

// resolveInput resolves a step input: a flow parameter or a prior step's
// "Name.output" reference. Forward references and unknown names are
// diagnostics; the bool result reports whether a type was found.
func (c *Checker) resolveInput(ref string, params map[string]string, seen stepTypes, node ast.Node) (string, bool) {
	if t, ok := params[ref]; ok {
		return t, true
	}
	if t, ok := c.resolveStepOutput(ref, seen); ok {
		return t, true
	}
	if base, isOutput := strings.CutSuffix(ref, ".output"); isOutput {
		c.emit(ForwardReference, node,
			"step input %q references %q before it has produced an output", ref, base)
		return "", false
	}
	c.emit(UnknownSymbol, node, "unresolved step input %q", ref)
	return "", false
}

// resolveStepOutput maps "Step.output" (or a bare woven target name) to
// the step's inferred output type.
func (c *Checker) resolveStepOutput(ref string, seen stepTypes) (string, bool) {
	if base, ok := strings.CutSuffix(ref, ".output"); ok {
		t, found := seen[base]
		return t, found
	}
	t, found := seen[ref]
	return t, found
}

// #endregion resolution

// #region assignment

// checkAssignment enforces the epistemic matrix for a value of type src
// flowing into a slot of type dst. For structured user targets, epistemic
// sources are additionally checked against every field slot — an Opinion
// can never reach a FactualClaim field through a structured wrapper.
func (c *Checker) checkAssignment(src, dst string, node ast.Node, site string) {
	if src == "" || dst == "" {
		return
	}
	if def, ok := c.userTypes[dst]; ok && len(def.Fields) > 0 {
		if EpistemicTypes[src] {
			for _, f := range def.Fields {
				if f.Type == nil {
					continue
				}
				if incompatibility[src][f.Type.Name] {
					c.emit(IncompatibleAssignment, node,
						"%s: %s cannot flow into field %q of type %q (expects %s)",
						site, src, f.Name, dst, f.Type.Name)
					return
				}
			}
			return
		}
		if src == dst || src == "Uncertainty" || src == "StructuredReport" {
			return
		}
		c.emit(IncompatibleAssignment, node,
			"%s: %s is not assignable to %s (nominal types match by name only)",
			site, src, dst)
		return
	}
	if !Compatible(src, dst) {
		c.emit(IncompatibleAssignment, node,
			"%s: %s is not assignable to %s", site, src, dst)
	}
}

// #endregion assignment

// #region run

func (c *Checker) checkRun(d *ast.Run) {
	c.checkWiring(d.FlowName, SymFlow, "flow", d)
	if d.Persona != "" {
		c.checkWiring(d.Persona, SymPersona, "persona", d)
	}
	if d.Context != "" {
		c.checkWiring(d.Context, SymContext, "context", d)
	}
	for _, anchor := range d.Anchors {
		c.checkWiring(anchor, SymAnchor, "anchor", d)
	}
	if d.Effort != "" && !validEfforts[d.Effort] {
		c.emit(InvalidValue, d, "unknown effort level %q (valid: %s)",
			d.Effort, joinSorted(validEfforts))
	}
	if d.OnFailure == "retry" {
		if backoff, ok := d.OnFailureParams["backoff"]; ok && !validBackoffs[backoff] {
			c.emit(InvalidValue, d, "unknown backoff strategy %q in on_failure", backoff)
		}
	}
}

func (c *Checker) checkWiring(name string, kind SymbolKind, label string, node ast.Node) {
	if name == "" {
		c.emit(MissingField, node, "run statement names no %s", label)
		return
	}
	if c.symbols.Lookup(name, kind) != nil {
		return
	}
	if other := c.symbols.LookupAny(name); other != nil {
		c.emit(UnknownSymbol, node, "%q is a %s, not a %s", name, other.Kind, label)
	} else {
		c.emit(UnknownSymbol, node, "undefined %s %q in run statement", label, name)
	}
}

// #endregion run

// #region type-refs

func (c *Checker) checkTypeExpr(t *ast.TypeExpr, node ast.Node) {
	c.checkTypeRef(t.Name, node)
	if t.GenericParam != "" {
		c.checkTypeRef(t.GenericParam, node)
	}
}

func (c *Checker) checkTypeRef(name string, node ast.Node) {
	if BuiltinTypes[name] {
		return
	}
	if _, ok := c.userTypes[name]; ok {
		return
	}
	c.emit(UnknownType, node, "unknown type %q", name)
}

// rangeOf returns the numeric bounds of a type name, built-in or
// user-declared.
func (c *Checker) rangeOf(name string) ([2]float64, bool) {
	if bounds, ok := RangedBuiltins[name]; ok {
		return bounds, true
	}
	if def, ok := c.userTypes[name]; ok && def.Range != nil {
		return [2]float64{def.Range.Min, def.Range.Max}, true
	}
	return [2]float64{}, false
}

// CheckLiteralInRange reports whether a numeric literal may occupy a slot
// of the given ranged type within this program.
func (c *Checked) CheckLiteralInRange(typeName string, value float64) bool {
	if bounds, ok := RangedBuiltins[typeName]; ok {
		return value >= bounds[0] && value <= bounds[1]
	}
	if sym := c.Symbols.Lookup(typeName, SymType); sym != nil {
		if def, ok := sym.Node.(*ast.TypeDef); ok && def.Range != nil {
			return value >= def.Range.Min && value <= def.Range.Max
		}
	}
	return true
}

// #endregion type-refs

// #region type-cycles

// checkTypeCycles flags user types that reference each other transitively
// (including through optional fields): such definitions would need
// inference to ground out.
func (c *Checker) checkTypeCycles() {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(name string) bool
	visit = func(name string) bool {
		switch color[name] {
		case grey:
			return true
		case black:
			return false
		}
		color[name] = grey
		def := c.userTypes[name]
		if def != nil {
			for _, f := range def.Fields {
				if f.Type == nil {
					continue
				}
				for _, ref := range []string{f.Type.Name, f.Type.GenericParam} {
					if _, isUser := c.userTypes[ref]; isUser && visit(ref) {
						color[name] = black
						return true
					}
				}
			}
		}
		color[name] = black
		return false
	}

	for _, name := range sortedTypeNames(c.userTypes) {
		if color[name] != white {
			continue
		}
		if visit(name) {
			c.emit(SymbolCycle, c.userTypes[name],
				"type %q participates in a reference cycle; recursive semantic types are not allowed", name)
		}
	}
}

// #endregion type-cycles

// #region helpers

func (c *Checker) checkUnitRange(v float64, field string, node ast.Node) {
	if v < 0.0 || v > 1.0 {
		c.emit(RangeViolation, node, "%s must be between 0.0 and 1.0, got %v", field, v)
	}
}

// typeWidensToUncertainty reports whether a type expression is
// Uncertainty or a container over it.
func typeWidensToUncertainty(t *ast.TypeExpr) bool {
	return t.Name == "Uncertainty" || t.GenericParam == "Uncertainty"
}

// effectiveTypeName flattens a type expression to the name used by the
// propagation rules: a container over Uncertainty IS Uncertainty.
func effectiveTypeName(t *ast.TypeExpr) string {
	if typeWidensToUncertainty(t) {
		return "Uncertainty"
	}
	return t.Name
}

func joinSorted(set map[string]bool) string {
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func sortedTypeNames(types map[string]*ast.TypeDef) []string {
	names := make([]string, 0, len(types))
	for k := range types {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// #endregion helpers
