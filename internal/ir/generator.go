package ir

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/axonlang/axon/internal/ast"
)

// #region namespace

// irNamespace seeds the version-5 UUIDs used for program and step ids.
// Deriving ids from lexical position keeps compilation deterministic:
// identical source always yields byte-identical IR.
var irNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("axon:ir"))

func stepID(flowName string, index int, name string) string {
	key := fmt.Sprintf("%s/%d/%s", flowName, index, name)
	return uuid.NewSHA1(irNamespace, []byte(key)).String()
}

// #endregion namespace

// #region generator

// Generator lowers a parsed (and normally type-checked) AST to IR.
type Generator struct{}

// NewGenerator creates a generator. It carries no state between calls.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate lowers the program. Declarations are copied in source order;
// each flow's steps are dependency-resolved and topologically sorted;
// the sole run statement becomes the entrypoint.
func (g *Generator) Generate(program *ast.Program) (*Program, error) {
	out := &Program{
		AxonIRVersion: Version,
		ProgramID:     uuid.NewSHA1(irNamespace, []byte(ast.Print(program))).String(),
		Flows:         map[string]*Flow{},
	}

	var entry *Entrypoint
	for _, decl := range program.Declarations {
		switch d := decl.(type) {
		case *ast.Import:
			out.Declarations.Imports = append(out.Declarations.Imports, Import{
				ModulePath: d.ModulePath, Names: d.Names,
			})
		case *ast.Persona:
			out.Declarations.Personas = append(out.Declarations.Personas, lowerPersona(d))
		case *ast.Context:
			out.Declarations.Contexts = append(out.Declarations.Contexts, lowerContext(d))
		case *ast.Anchor:
			out.Declarations.Anchors = append(out.Declarations.Anchors, lowerAnchor(d))
		case *ast.Tool:
			out.Declarations.Tools = append(out.Declarations.Tools, lowerTool(d))
		case *ast.Memory:
			out.Declarations.Memories = append(out.Declarations.Memories, lowerMemory(d))
		case *ast.TypeDef:
			out.Declarations.Types = append(out.Declarations.Types, lowerType(d))
		case *ast.Intent:
			out.Declarations.Intents = append(out.Declarations.Intents, lowerIntent(d))
		case *ast.Flow:
			flow, err := g.lowerFlow(d)
			if err != nil {
				return nil, err
			}
			out.Flows[d.Name] = flow
		case *ast.Run:
			if entry != nil {
				line, col := d.Pos()
				return nil, &Error{
					Kind:    DuplicateEntrypoint,
					Message: fmt.Sprintf("program already has an entrypoint (flow %q)", entry.FlowName),
					Line:    line, Column: col,
				}
			}
			entry = lowerRun(d)
		}
	}

	if entry == nil {
		return nil, &Error{Kind: NoEntrypoint, Message: "program has no run statement"}
	}
	if _, ok := out.Flows[entry.FlowName]; !ok {
		return nil, &Error{
			Kind:    UnresolvedReference,
			Message: fmt.Sprintf("entrypoint references undefined flow %q", entry.FlowName),
		}
	}
	out.Entrypoint = entry
	return out, nil
}

// #endregion generator

// #region declaration-lowering

func lowerPersona(d *ast.Persona) Persona {
	return Persona{
		Name: d.Name, Domain: d.Domain, Tone: d.Tone,
		ConfidenceThreshold: d.ConfidenceThreshold,
		CiteSources:         d.CiteSources,
		RefuseIf:            d.RefuseIf,
		Language:            d.Language,
		Description:         d.Description,
	}
}

func lowerContext(d *ast.Context) Context {
	return Context{
		Name: d.Name, MemoryScope: d.MemoryScope, Language: d.Language,
		Depth: d.Depth, MaxTokens: d.MaxTokens, Temperature: d.Temperature,
		CiteSources: d.CiteSources,
	}
}

func lowerAnchor(d *ast.Anchor) Anchor {
	return Anchor{
		Name: d.Name, Require: d.Require, Reject: d.Reject, Enforce: d.Enforce,
		ConfidenceFloor: d.ConfidenceFloor, UnknownResponse: d.UnknownResponse,
		OnViolation: d.OnViolation, OnViolationTarget: d.OnViolationTarget,
	}
}

func lowerTool(d *ast.Tool) Tool {
	return Tool{
		Name: d.Name, Provider: d.Provider, MaxResults: d.MaxResults,
		FilterExpr: d.FilterExpr, Timeout: d.Timeout,
		Runtime: d.Runtime, Sandbox: d.Sandbox,
	}
}

func lowerMemory(d *ast.Memory) Memory {
	return Memory{
		Name: d.Name, Store: d.Store, Backend: d.Backend,
		Retrieval: d.Retrieval, Decay: d.Decay,
	}
}

func lowerType(d *ast.TypeDef) Type {
	t := Type{Name: d.Name}
	for _, f := range d.Fields {
		field := TypeField{Name: f.Name}
		if f.Type != nil {
			field.Type = f.Type.Name
			field.GenericParam = f.Type.GenericParam
			field.Optional = f.Type.Optional
		}
		t.Fields = append(t.Fields, field)
	}
	if d.Range != nil {
		min, max := d.Range.Min, d.Range.Max
		t.RangeMin, t.RangeMax = &min, &max
	}
	if d.Where != nil {
		t.Where = predicateString(d.Where)
	}
	return t
}

func lowerIntent(d *ast.Intent) Intent {
	out := Intent{
		Name: d.Name, Given: d.Given, Ask: d.Ask,
		ConfidenceFloor: d.ConfidenceFloor,
	}
	if d.OutputType != nil {
		out.OutputType = d.OutputType.Name
	}
	return out
}

func lowerRun(d *ast.Run) *Entrypoint {
	return &Entrypoint{
		FlowName: d.FlowName, Arguments: d.Arguments,
		Persona: d.Persona, Context: d.Context, Anchors: d.Anchors,
		OnFailure: d.OnFailure, OnFailureParams: nonEmptyMap(d.OnFailureParams),
		OutputTo: d.OutputTo, Effort: d.Effort,
	}
}

func nonEmptyMap(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}

func predicateString(p *ast.Predicate) string {
	switch p.Kind {
	case ast.PredAnd:
		return predicateString(p.Left) + " and " + predicateString(p.Right)
	case ast.PredCompare:
		return p.Field + " " + p.Op + " " + p.Value
	case ast.PredIn:
		return p.Field + " in [" + strings.Join(p.Members, ", ") + "]"
	case ast.PredCall:
		return p.Field + "(" + strings.Join(p.Members, ", ") + ")"
	}
	return ""
}

// #endregion declaration-lowering

// #region flow-lowering

func (g *Generator) lowerFlow(flow *ast.Flow) (*Flow, error) {
	out := &Flow{Name: flow.Name}
	paramNames := map[string]bool{}
	for _, p := range flow.Parameters {
		param := Param{Name: p.Name}
		if p.Type != nil {
			param.Type = p.Type.Name
			param.GenericParam = p.Type.GenericParam
			param.Optional = p.Type.Optional
		}
		out.Params = append(out.Params, param)
		paramNames[p.Name] = true
	}
	if flow.ReturnType != nil {
		out.ReturnType = flow.ReturnType.Name
	}

	steps, err := g.lowerSteps(flow, paramNames)
	if err != nil {
		return nil, err
	}
	out.Steps = steps
	return out, nil
}

// lowerSteps builds one IR step per body element (refine blocks attach to
// their preceding step instead), resolves name references into DAG edges,
// and returns the steps in topological order.
func (g *Generator) lowerSteps(flow *ast.Flow, params map[string]bool) ([]*Step, error) {
	var steps []*Step
	byName := map[string]*Step{}

	for _, node := range flow.Body {
		if refine, ok := node.(*ast.Refine); ok {
			if len(steps) == 0 {
				line, col := refine.Pos()
				return nil, &Error{
					Kind:    UnresolvedReference,
					Message: fmt.Sprintf("refine block in flow %q has no preceding step to attach to", flow.Name),
					Line:    line, Column: col,
				}
			}
			attachRefine(steps[len(steps)-1], refine)
			continue
		}
		step := lowerStep(node, flow.Name, len(steps))
		steps = append(steps, step)
		if step.Name != "" {
			byName[step.Name] = step
		}
	}

	// Resolve references into depends_on edges.
	index := map[string]int{}
	for i, s := range steps {
		index[s.ID] = i
	}
	edges := make([][]int, len(steps))
	for i, s := range steps {
		deps := map[string]bool{}
		for _, ref := range s.Inputs {
			base := strings.TrimSuffix(ref, ".output")
			if params[base] {
				continue
			}
			if target, ok := byName[base]; ok && target != s {
				deps[target.ID] = true
			}
		}
		ids := make([]string, 0, len(deps))
		for id := range deps {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		s.DependsOn = ids
		for _, id := range ids {
			edges[index[id]] = append(edges[index[id]], i)
		}
	}

	return topoSort(steps, edges, flow.Name)
}

// attachRefine folds a standalone refine block into the preceding step's
// configuration.
func attachRefine(step *Step, refine *ast.Refine) {
	if step.Config == nil {
		step.Config = map[string]interface{}{}
	}
	step.Config["refine"] = refineConfig(refine)
}

func refineConfig(r *ast.Refine) map[string]interface{} {
	cfg := map[string]interface{}{
		"max_attempts":         r.MaxAttempts,
		"pass_failure_context": r.PassFailureContext,
		"backoff":              r.Backoff,
	}
	if r.OnExhaustion != "" {
		cfg["on_exhaustion"] = r.OnExhaustion
	}
	if r.OnExhaustionTarget != "" {
		cfg["on_exhaustion_target"] = r.OnExhaustionTarget
	}
	return cfg
}

// lowerStep converts one flow body element into an IR step. The index is
// the lexical position used for deterministic ids of anonymous steps.
func lowerStep(node ast.Node, flowName string, index int) *Step {
	switch s := node.(type) {
	case *ast.Step:
		step := &Step{
			Kind: KindStep, Name: s.Name,
			OutputType: s.OutputType,
			Config:     map[string]interface{}{},
		}
		if s.Given != "" {
			step.Inputs = inputRefs(s.Given)
			step.Config["given"] = s.Given
		}
		if s.Ask != "" {
			step.Config["ask"] = s.Ask
		}
		if s.ConfidenceFloor != nil {
			step.Config["confidence_floor"] = *s.ConfidenceFloor
		}
		if s.UseTool != nil {
			step.Config["use_tool"] = map[string]interface{}{
				"tool_name": s.UseTool.ToolName,
				"argument":  s.UseTool.Argument,
			}
		}
		if s.Probe != nil {
			step.Config["probe"] = map[string]interface{}{
				"target": s.Probe.Target,
				"fields": s.Probe.Fields,
			}
			step.Inputs = append(step.Inputs, s.Probe.Target)
		}
		if s.Reason != nil {
			step.Config["reason"] = reasonConfig(s.Reason)
			step.Inputs = append(step.Inputs, s.Reason.Given...)
		}
		if s.Weave != nil {
			step.Config["weave"] = weaveConfig(s.Weave)
			step.Inputs = append(step.Inputs, s.Weave.Sources...)
		}
		step.ID = stepID(flowName, index, s.Name)
		return step

	case *ast.Probe:
		return &Step{
			ID:     stepID(flowName, index, "probe"),
			Kind:   KindProbe,
			Name:   fmt.Sprintf("probe_%d", index),
			Inputs: []string{s.Target},
			Config: map[string]interface{}{
				"target": s.Target,
				"fields": s.Fields,
			},
		}

	case *ast.Reason:
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("reason_%d", index)
		}
		return &Step{
			ID:         stepID(flowName, index, name),
			Kind:       KindReason,
			Name:       name,
			Inputs:     s.Given,
			OutputType: s.OutputType,
			Config:     reasonConfig(s),
		}

	case *ast.ValidateGate:
		step := &Step{
			ID:     stepID(flowName, index, "validate"),
			Kind:   KindValidate,
			Name:   fmt.Sprintf("validate_%d", index),
			Inputs: []string{s.Target},
			Config: map[string]interface{}{
				"target": s.Target,
				"schema": s.Schema,
				"rules":  lowerRules(s.Rules),
			},
		}
		return step

	case *ast.Weave:
		return &Step{
			ID:         stepID(flowName, index, s.Target),
			Kind:       KindWeave,
			Name:       s.Target,
			Inputs:     s.Sources,
			OutputType: s.FormatType,
			Config:     weaveConfig(s),
		}

	case *ast.UseTool:
		return &Step{
			ID:   stepID(flowName, index, s.ToolName),
			Kind: KindUseTool,
			Name: fmt.Sprintf("use_%s_%d", s.ToolName, index),
			Config: map[string]interface{}{
				"tool_name": s.ToolName,
				"argument":  s.Argument,
			},
		}

	case *ast.Remember:
		return &Step{
			ID:     stepID(flowName, index, "remember"),
			Kind:   KindRemember,
			Name:   fmt.Sprintf("remember_%d", index),
			Inputs: []string{s.Expression},
			Config: map[string]interface{}{
				"expression": s.Expression,
				"memory":     s.MemoryTarget,
			},
		}

	case *ast.Recall:
		return &Step{
			ID:   stepID(flowName, index, "recall"),
			Kind: KindRecall,
			Name: fmt.Sprintf("recall_%d", index),
			Config: map[string]interface{}{
				"query":  s.Query,
				"memory": s.MemorySource,
			},
		}

	case *ast.Conditional:
		cfg := map[string]interface{}{
			"condition": s.Condition,
		}
		if s.ComparisonOp != "" {
			cfg["op"] = s.ComparisonOp
			cfg["value"] = s.ComparisonValue
		}
		if s.Then != nil {
			cfg["then"] = lowerStep(s.Then, flowName, index*100+1)
		}
		if s.Else != nil {
			cfg["else"] = lowerStep(s.Else, flowName, index*100+2)
		}
		return &Step{
			ID:     stepID(flowName, index, "if"),
			Kind:   KindConditional,
			Name:   fmt.Sprintf("if_%d", index),
			Config: cfg,
		}
	}
	return &Step{ID: stepID(flowName, index, "unknown"), Kind: KindStep}
}

func reasonConfig(r *ast.Reason) map[string]interface{} {
	cfg := map[string]interface{}{}
	if r.About != "" {
		cfg["about"] = r.About
	}
	if r.Ask != "" {
		cfg["ask"] = r.Ask
	}
	if r.Depth > 0 {
		cfg["depth"] = r.Depth
	}
	if r.ShowWork {
		cfg["show_work"] = true
	}
	if r.ChainOfThought {
		cfg["chain_of_thought"] = true
	}
	return cfg
}

func weaveConfig(w *ast.Weave) map[string]interface{} {
	cfg := map[string]interface{}{
		"sources": w.Sources,
		"target":  w.Target,
	}
	if w.FormatType != "" {
		cfg["format"] = w.FormatType
	}
	if len(w.Priority) > 0 {
		cfg["priority"] = w.Priority
	}
	if w.Style != "" {
		cfg["style"] = w.Style
	}
	return cfg
}

func lowerRules(rules []*ast.ValidateRule) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rules))
	for _, r := range rules {
		rule := map[string]interface{}{
			"condition": r.Condition,
			"action":    r.Action,
		}
		if r.ComparisonOp != "" {
			rule["op"] = r.ComparisonOp
			rule["value"] = r.ComparisonValue
		}
		if r.ActionTarget != "" {
			rule["action_target"] = r.ActionTarget
		}
		if len(r.ActionParams) > 0 {
			params := map[string]interface{}{}
			for k, v := range r.ActionParams {
				params[k] = v
			}
			rule["action_params"] = params
		}
		out = append(out, rule)
	}
	return out
}

// inputRefs splits a given expression into individual references.
func inputRefs(given string) []string {
	trimmed := strings.TrimSpace(given)
	if strings.HasPrefix(trimmed, "[") && strings.HasSuffix(trimmed, "]") {
		inner := strings.TrimSuffix(strings.TrimPrefix(trimmed, "["), "]")
		var refs []string
		for _, part := range strings.Split(inner, ",") {
			if ref := strings.TrimSpace(part); ref != "" {
				refs = append(refs, ref)
			}
		}
		return refs
	}
	return []string{trimmed}
}

// #endregion flow-lowering

// #region topo-sort

// topoSort orders steps so every dependency precedes its dependents,
// preferring lexical order among ready steps. A cycle is a hard error
// naming the step ids involved.
func topoSort(steps []*Step, edges [][]int, flowName string) ([]*Step, error) {
	n := len(steps)
	indegree := make([]int, n)
	for _, targets := range edges {
		for _, t := range targets {
			indegree[t]++
		}
	}

	var ready []int
	for i := 0; i < n; i++ {
		if indegree[i] == 0 {
			ready = append(ready, i)
		}
	}

	var order []*Step
	for len(ready) > 0 {
		// Lowest lexical index first keeps the sort stable.
		sort.Ints(ready)
		i := ready[0]
		ready = ready[1:]
		order = append(order, steps[i])
		for _, t := range edges[i] {
			indegree[t]--
			if indegree[t] == 0 {
				ready = append(ready, t)
			}
		}
	}

	if len(order) != n {
		var stuck []string
		for i := 0; i < n; i++ {
			if indegree[i] > 0 {
				stuck = append(stuck, stepLabel(steps[i]))
			}
		}
		return nil, &Error{
			Kind: CyclicDependency,
			Message: fmt.Sprintf("flow %q has a dependency cycle involving %s",
				flowName, strings.Join(stuck, ", ")),
		}
	}
	return order, nil
}

func stepLabel(s *Step) string {
	if s.Name != "" {
		return strconv.Quote(s.Name) + " (" + s.ID + ")"
	}
	return s.ID
}

// #endregion topo-sort
