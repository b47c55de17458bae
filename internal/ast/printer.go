package ast

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// #region printer

// Print renders a program back to canonical AXON source. The output
// re-parses to a structurally equivalent tree (comments are not retained).
func Print(p *Program) string {
	var w printer
	for i, decl := range p.Declarations {
		if i > 0 {
			w.nl()
		}
		w.decl(decl)
	}
	return w.sb.String()
}

type printer struct {
	sb     strings.Builder
	indent int
}

func (w *printer) line(format string, args ...interface{}) {
	w.sb.WriteString(strings.Repeat("  ", w.indent))
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteString("\n")
}

func (w *printer) nl() { w.sb.WriteString("\n") }

// #endregion printer

// #region declarations

func (w *printer) decl(n Node) {
	switch d := n.(type) {
	case *Import:
		w.importDecl(d)
	case *Persona:
		w.persona(d)
	case *Context:
		w.context(d)
	case *Anchor:
		w.anchor(d)
	case *Memory:
		w.memory(d)
	case *Tool:
		w.tool(d)
	case *TypeDef:
		w.typeDef(d)
	case *Intent:
		w.intent(d)
	case *Flow:
		w.flow(d)
	case *Run:
		w.run(d)
	}
}

func (w *printer) importDecl(d *Import) {
	path := strings.Join(d.ModulePath, ".")
	if len(d.Names) > 0 {
		w.line("import %s.{%s}", path, strings.Join(d.Names, ", "))
	} else {
		w.line("import %s", path)
	}
}

func (w *printer) persona(d *Persona) {
	w.line("persona %s {", d.Name)
	w.indent++
	if len(d.Domain) > 0 {
		w.line("domain: %s", stringList(d.Domain))
	}
	if d.Tone != "" {
		w.line("tone: %s", d.Tone)
	}
	if d.ConfidenceThreshold != nil {
		w.line("confidence_threshold: %s", floatLit(*d.ConfidenceThreshold))
	}
	if d.CiteSources != nil {
		w.line("cite_sources: %t", *d.CiteSources)
	}
	if len(d.RefuseIf) > 0 {
		w.line("refuse_if: [%s]", strings.Join(d.RefuseIf, ", "))
	}
	if d.Language != "" {
		w.line("language: %q", d.Language)
	}
	if d.Description != "" {
		w.line("description: %q", d.Description)
	}
	w.indent--
	w.line("}")
}

func (w *printer) context(d *Context) {
	w.line("context %s {", d.Name)
	w.indent++
	if d.MemoryScope != "" {
		w.line("memory: %s", d.MemoryScope)
	}
	if d.Language != "" {
		w.line("language: %q", d.Language)
	}
	if d.Depth != "" {
		w.line("depth: %s", d.Depth)
	}
	if d.MaxTokens != nil {
		w.line("max_tokens: %d", *d.MaxTokens)
	}
	if d.Temperature != nil {
		w.line("temperature: %s", floatLit(*d.Temperature))
	}
	if d.CiteSources != nil {
		w.line("cite_sources: %t", *d.CiteSources)
	}
	w.indent--
	w.line("}")
}

func (w *printer) anchor(d *Anchor) {
	w.line("anchor %s {", d.Name)
	w.indent++
	if d.Require != "" {
		w.line("require: %s", d.Require)
	}
	if len(d.Reject) > 0 {
		w.line("reject: [%s]", strings.Join(d.Reject, ", "))
	}
	if d.Enforce != "" {
		w.line("enforce: %s", d.Enforce)
	}
	if d.ConfidenceFloor != nil {
		w.line("confidence_floor: %s", floatLit(*d.ConfidenceFloor))
	}
	if d.UnknownResponse != "" {
		w.line("unknown_response: %q", d.UnknownResponse)
	}
	if d.OnViolation != "" {
		w.line("on_violation: %s", violationAction(d.OnViolation, d.OnViolationTarget))
	}
	w.indent--
	w.line("}")
}

func (w *printer) memory(d *Memory) {
	w.line("memory %s {", d.Name)
	w.indent++
	if d.Store != "" {
		w.line("store: %s", d.Store)
	}
	if d.Backend != "" {
		w.line("backend: %s", d.Backend)
	}
	if d.Retrieval != "" {
		w.line("retrieval: %s", d.Retrieval)
	}
	if d.Decay != "" {
		w.line("decay: %s", d.Decay)
	}
	w.indent--
	w.line("}")
}

func (w *printer) tool(d *Tool) {
	w.line("tool %s {", d.Name)
	w.indent++
	if d.Provider != "" {
		w.line("provider: %s", d.Provider)
	}
	if d.MaxResults != nil {
		w.line("max_results: %d", *d.MaxResults)
	}
	if d.FilterExpr != "" {
		w.line("filter: %s", d.FilterExpr)
	}
	if d.Timeout != "" {
		w.line("timeout: %s", d.Timeout)
	}
	if d.Runtime != "" {
		w.line("runtime: %s", d.Runtime)
	}
	if d.Sandbox != nil {
		w.line("sandbox: %t", *d.Sandbox)
	}
	w.indent--
	w.line("}")
}

func (w *printer) typeDef(d *TypeDef) {
	head := "type " + d.Name
	if d.Range != nil {
		head += fmt.Sprintf("(%s..%s)", floatLit(d.Range.Min), floatLit(d.Range.Max))
	}
	if d.Where != nil {
		head += " where " + predicateText(d.Where)
	}
	if len(d.Fields) == 0 {
		w.line("%s", head)
		return
	}
	w.line("%s {", head)
	w.indent++
	for _, f := range d.Fields {
		w.line("%s: %s", f.Name, typeExpr(f.Type))
	}
	w.indent--
	w.line("}")
}

func (w *printer) intent(d *Intent) {
	w.line("intent %s {", d.Name)
	w.indent++
	if d.Given != "" {
		w.line("given: %s", d.Given)
	}
	if d.Ask != "" {
		w.line("ask: %q", d.Ask)
	}
	if d.OutputType != nil {
		w.line("output: %s", typeExpr(d.OutputType))
	}
	if d.ConfidenceFloor != nil {
		w.line("confidence_floor: %s", floatLit(*d.ConfidenceFloor))
	}
	w.indent--
	w.line("}")
}

// #endregion declarations

// #region flow

func (w *printer) flow(d *Flow) {
	var params []string
	for _, p := range d.Parameters {
		params = append(params, p.Name+": "+typeExpr(p.Type))
	}
	head := fmt.Sprintf("flow %s(%s)", d.Name, strings.Join(params, ", "))
	if d.ReturnType != nil {
		head += " -> " + typeExpr(d.ReturnType)
	}
	w.line("%s {", head)
	w.indent++
	for _, step := range d.Body {
		w.step(step)
	}
	w.indent--
	w.line("}")
}

func (w *printer) step(n Node) {
	switch s := n.(type) {
	case *Step:
		w.namedStep(s)
	case *Probe:
		w.line("probe %s for [%s]", s.Target, strings.Join(s.Fields, ", "))
	case *Reason:
		w.reason(s)
	case *ValidateGate:
		w.validateGate(s)
	case *Refine:
		w.refine(s)
	case *Weave:
		w.weave(s)
	case *UseTool:
		w.line("use %s(%q)", s.ToolName, s.Argument)
	case *Remember:
		w.line("remember(%s) -> %s", s.Expression, s.MemoryTarget)
	case *Recall:
		w.line("recall(%q) from %s", s.Query, s.MemorySource)
	case *Conditional:
		w.conditional(s)
	}
}

func (w *printer) namedStep(s *Step) {
	w.line("step %s {", s.Name)
	w.indent++
	if s.Given != "" {
		w.line("given: %s", s.Given)
	}
	if s.Ask != "" {
		w.line("ask: %q", s.Ask)
	}
	if s.UseTool != nil {
		w.line("use %s(%q)", s.UseTool.ToolName, s.UseTool.Argument)
	}
	if s.Probe != nil {
		w.line("probe %s for [%s]", s.Probe.Target, strings.Join(s.Probe.Fields, ", "))
	}
	if s.Reason != nil {
		w.reason(s.Reason)
	}
	if s.Weave != nil {
		w.weave(s.Weave)
	}
	if s.OutputType != "" {
		w.line("output: %s", s.OutputType)
	}
	if s.ConfidenceFloor != nil {
		w.line("confidence_floor: %s", floatLit(*s.ConfidenceFloor))
	}
	w.indent--
	w.line("}")
}

func (w *printer) reason(s *Reason) {
	head := "reason"
	if s.Name != "" {
		head += " " + s.Name
	} else if s.About != "" {
		head += " about " + s.About
	}
	w.line("%s {", head)
	w.indent++
	if len(s.Given) == 1 {
		w.line("given: %s", s.Given[0])
	} else if len(s.Given) > 1 {
		w.line("given: [%s]", strings.Join(s.Given, ", "))
	}
	if s.Ask != "" {
		w.line("ask: %q", s.Ask)
	}
	if s.Depth > 1 {
		w.line("depth: %d", s.Depth)
	}
	if s.ShowWork {
		w.line("show_work: true")
	}
	if s.ChainOfThought {
		w.line("chain_of_thought: true")
	}
	if s.OutputType != "" {
		w.line("output: %s", s.OutputType)
	}
	w.indent--
	w.line("}")
}

func (w *printer) validateGate(s *ValidateGate) {
	w.line("validate %s against %s {", s.Target, s.Schema)
	w.indent++
	for _, r := range s.Rules {
		cond := r.Condition
		if r.ComparisonOp != "" {
			cond += " " + r.ComparisonOp + " " + r.ComparisonValue
		}
		w.line("if %s -> %s", cond, ruleAction(r))
	}
	w.indent--
	w.line("}")
}

func (w *printer) refine(s *Refine) {
	w.line("refine {")
	w.indent++
	w.line("max_attempts: %d", s.MaxAttempts)
	w.line("pass_failure_context: %t", s.PassFailureContext)
	if s.Backoff != "" {
		w.line("backoff: %s", s.Backoff)
	}
	if s.OnExhaustion != "" {
		w.line("on_exhaustion: %s", violationAction(s.OnExhaustion, s.OnExhaustionTarget))
	}
	w.indent--
	w.line("}")
}

func (w *printer) weave(s *Weave) {
	head := fmt.Sprintf("weave [%s] into %s", strings.Join(s.Sources, ", "), s.Target)
	if s.FormatType == "" && len(s.Priority) == 0 && s.Style == "" {
		w.line("%s {", head)
		w.line("}")
		return
	}
	w.line("%s {", head)
	w.indent++
	if s.FormatType != "" {
		w.line("format: %s", s.FormatType)
	}
	if len(s.Priority) > 0 {
		w.line("priority: [%s]", strings.Join(s.Priority, ", "))
	}
	if s.Style != "" {
		w.line("style: %q", s.Style)
	}
	w.indent--
	w.line("}")
}

func (w *printer) conditional(s *Conditional) {
	cond := s.Condition
	if s.ComparisonOp != "" {
		cond += " " + s.ComparisonOp + " " + s.ComparisonValue
	}
	w.line("if %s ->", cond)
	w.indent++
	w.step(s.Then)
	w.indent--
	if s.Else != nil {
		w.line("else ->")
		w.indent++
		w.step(s.Else)
		w.indent--
	}
}

// #endregion flow

// #region run

func (w *printer) run(d *Run) {
	w.line("run %s(%s)", d.FlowName, strings.Join(quoteArgs(d.Arguments), ", "))
	w.indent++
	if d.Persona != "" {
		w.line("as %s", d.Persona)
	}
	if d.Context != "" {
		w.line("within %s", d.Context)
	}
	if len(d.Anchors) > 0 {
		w.line("constrained_by [%s]", strings.Join(d.Anchors, ", "))
	}
	if d.OnFailure != "" {
		w.line("on_failure: %s", failureStrategy(d.OnFailure, d.OnFailureParams))
	}
	if d.OutputTo != "" {
		w.line("output_to: %q", d.OutputTo)
	}
	if d.Effort != "" {
		w.line("effort: %s", d.Effort)
	}
	w.indent--
}

// #endregion run

// #region helpers

func typeExpr(t *TypeExpr) string {
	if t == nil {
		return ""
	}
	s := t.Name
	if t.GenericParam != "" {
		s += "<" + t.GenericParam + ">"
	}
	if t.Optional {
		s += "?"
	}
	return s
}

func stringList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = strconv.Quote(s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

// floatLit always prints a decimal point so the literal re-lexes as FLOAT.
func floatLit(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func violationAction(action, target string) string {
	switch action {
	case "raise":
		return "raise " + target
	case "fallback":
		return fmt.Sprintf("fallback(%q)", target)
	case "retry":
		return fmt.Sprintf("retry(%s)", target)
	default:
		return action
	}
}

func ruleAction(r *ValidateRule) string {
	switch r.Action {
	case "refine":
		if len(r.ActionParams) == 0 {
			return "refine"
		}
		keys := make([]string, 0, len(r.ActionParams))
		for k := range r.ActionParams {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, k+": "+r.ActionParams[k])
		}
		return "refine(" + strings.Join(parts, ", ") + ")"
	case "raise":
		return "raise " + r.ActionTarget
	case "warn":
		return fmt.Sprintf("warn %q", r.ActionTarget)
	default:
		return r.Action
	}
}

func failureStrategy(action string, params map[string]string) string {
	switch action {
	case "retry":
		if len(params) == 0 {
			return "retry"
		}
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			parts = append(parts, k+": "+params[k])
		}
		return "retry(" + strings.Join(parts, ", ") + ")"
	case "raise":
		return "raise " + params["target"]
	default:
		return action
	}
}

// quoteArgs re-quotes run arguments that lexed as strings; bare
// identifiers and numbers print as-is.
func quoteArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if isBareArg(a) {
			out[i] = a
		} else {
			out[i] = strconv.Quote(a)
		}
	}
	return out
}

func isBareArg(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}

func predicateText(p *Predicate) string {
	switch p.Kind {
	case PredAnd:
		return predicateText(p.Left) + " and " + predicateText(p.Right)
	case PredCompare:
		return p.Field + " " + p.Op + " " + p.Value
	case PredIn:
		return p.Field + " in [" + strings.Join(p.Members, ", ") + "]"
	case PredCall:
		return p.Field + "(" + strings.Join(p.Members, ", ") + ")"
	}
	return ""
}

// #endregion helpers
