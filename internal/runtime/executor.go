package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/axonlang/axon/internal/ir"
	"github.com/axonlang/axon/internal/memory"
	"github.com/axonlang/axon/internal/tools"
	"github.com/axonlang/axon/internal/trace"
)

// #region executor

// Executor walks a compiled program's step DAG against the model client.
// It is single-threaded: steps run sequentially in topological order,
// and the model client, tool invocations, and retry backoffs are the
// only suspension points. Cancellation is observed at every step
// boundary.
type Executor struct {
	client         ModelClient
	engine         *Engine
	anchors        *AnchorEvaluator
	memory         memory.Backend
	tools          *tools.Dispatcher
	maxFlowRetries int
}

// Option configures an Executor.
type Option func(*Executor)

// WithMemory sets the memory backend (default: in-memory).
func WithMemory(backend memory.Backend) Option {
	return func(x *Executor) { x.memory = backend }
}

// WithTools sets the tool dispatcher.
func WithTools(dispatcher *tools.Dispatcher) Option {
	return func(x *Executor) { x.tools = dispatcher }
}

// WithJudge binds an external judge for semantic anchor requirements.
func WithJudge(judge Judge) Option {
	return func(x *Executor) { x.anchors = NewAnchorEvaluator(judge) }
}

// NewExecutor wires an executor around a model client.
func NewExecutor(client ModelClient, opts ...Option) *Executor {
	x := &Executor{
		client:         client,
		engine:         NewEngine(),
		anchors:        NewAnchorEvaluator(nil),
		memory:         memory.NewInMemory(),
		maxFlowRetries: 1,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Result is the outcome of one program execution: the final typed value
// (zero on failure), the finalised trace, and the terminal error if any.
type Result struct {
	Output Value
	Trace  *trace.Trace
	Err    *Error
}

// #endregion executor

// #region execute

// Execute runs the program's entrypoint. The returned error, when
// non-nil, is always a *Error from the six-kind taxonomy; the trace is
// returned in every case with a terminal status.
func (x *Executor) Execute(ctx context.Context, program *ir.Program) (*Result, error) {
	entry := program.Entrypoint
	if entry == nil {
		err := newError(RuntimeError, "", "", "", "program has no entrypoint")
		return &Result{Trace: trace.NewTracer("", "").Finalize("failure"), Err: err}, err
	}
	flow, ok := program.Flows[entry.FlowName]
	if !ok {
		err := newError(RuntimeError, "", "", entry.FlowName,
			"entrypoint flow %q not found", entry.FlowName)
		return &Result{Trace: trace.NewTracer(entry.FlowName, entry.Persona).Finalize("failure"), Err: err}, err
	}

	tracer := trace.NewTracer(entry.FlowName, entry.Persona)
	run := &flowRun{
		executor: x,
		program:  program,
		flow:     flow,
		entry:    entry,
		tracer:   tracer,
	}

	value, execErr := run.executeWithFailurePolicy(ctx)

	status := "success"
	if execErr != nil {
		status = "failure"
		if execErr.Context != nil && execErr.Context["cancelled"] == true {
			status = "cancelled"
		}
	}
	result := &Result{Output: value, Trace: tracer.Finalize(status), Err: execErr}
	if execErr != nil {
		return result, execErr
	}
	return result, nil
}

// #endregion execute

// #region flow-run

// flowRun is the state of one flow invocation.
type flowRun struct {
	executor *Executor
	program  *ir.Program
	flow     *ir.Flow
	entry    *ir.Entrypoint
	tracer   *trace.Tracer
	ectx     *ExecutionContext
}

// executeWithFailurePolicy applies the run statement's on_failure
// strategy around the flow body.
func (r *flowRun) executeWithFailurePolicy(ctx context.Context) (Value, *Error) {
	value, err := r.executeFlow(ctx)
	if err == nil {
		return value, nil
	}
	if err.Context != nil && err.Context["cancelled"] == true {
		return Value{}, err
	}

	switch r.entry.OnFailure {
	case "log":
		log.Printf("[EXEC] flow %q failed: %v", r.flow.Name, err)
		return Value{}, err
	case "retry":
		for attempt := 0; attempt < r.executor.maxFlowRetries; attempt++ {
			if delay := computeDelay(attempt+1, r.entry.OnFailureParams["backoff"]); delay > 0 {
				if sleepErr := r.executor.engine.sleep(ctx, delay); sleepErr != nil {
					return Value{}, r.cancelledError(sleepErr)
				}
			}
			r.tracer.Emit(trace.EventRetry, "", map[string]interface{}{
				"scope":   "flow",
				"attempt": attempt + 2,
			})
			value, err = r.executeFlow(ctx)
			if err == nil {
				return value, nil
			}
		}
		return Value{}, err
	default:
		// escalate, raise, or unset: surface to the caller.
		return Value{}, err
	}
}

// executeFlow binds inputs, walks the DAG, and produces the final value.
func (r *flowRun) executeFlow(ctx context.Context) (Value, *Error) {
	persona := r.program.FindPersona(r.entry.Persona)
	execContext := r.program.FindContext(r.entry.Context)
	var anchors []*ir.Anchor
	for _, name := range r.entry.Anchors {
		if anchor := r.program.FindAnchor(name); anchor != nil {
			anchors = append(anchors, anchor)
		}
	}
	r.ectx = NewExecutionContext(persona, execContext, anchors)

	for i, param := range r.flow.Params {
		if i >= len(r.entry.Arguments) {
			break
		}
		r.ectx.BindInput(param.Name, Value{
			Type:             param.Type,
			Content:          r.entry.Arguments[i],
			Confidence:       1.0,
			ConfidenceSource: "input",
		})
	}

	r.tracer.StartSpan("flow:"+r.flow.Name, map[string]interface{}{
		"persona": r.entry.Persona,
		"context": r.entry.Context,
		"effort":  r.entry.Effort,
	})
	r.tracer.Emit(trace.EventFlowStart, "", map[string]interface{}{
		"flow":    r.flow.Name,
		"anchors": r.entry.Anchors,
	})

	for _, step := range r.flow.Steps {
		if ctxErr := ctx.Err(); ctxErr != nil {
			r.tracer.Emit(trace.EventCancelled, step.ID, nil)
			r.tracer.EndSpan()
			return Value{}, r.cancelledError(ctxErr)
		}
		if err := r.executeStep(ctx, step); err != nil {
			r.tracer.Emit(trace.EventFatalError, step.ID, err.Payload())
			r.tracer.EndSpan()
			return Value{}, err
		}
	}

	value, _ := r.ectx.LastOutput()
	r.tracer.Emit(trace.EventFlowEnd, "", map[string]interface{}{
		"steps_completed": r.ectx.StepCount(),
		"output_type":     value.Type,
	})
	r.tracer.EndSpan()
	return value, nil
}

func (r *flowRun) cancelledError(cause error) *Error {
	err := wrapError(RuntimeError, cause, "", "", r.flow.Name, "execution cancelled by host")
	err.Context = map[string]interface{}{"cancelled": true}
	return err
}

// #endregion flow-run

// #region step-execution

func (r *flowRun) executeStep(ctx context.Context, step *ir.Step) *Error {
	r.tracer.StartSpan("step:"+step.Name, map[string]interface{}{"kind": string(step.Kind)})
	defer r.tracer.EndSpan()

	started := time.Now()
	r.tracer.Emit(trace.EventStepStart, step.ID, map[string]interface{}{
		"name":        step.Name,
		"kind":        string(step.Kind),
		"input_types": r.inputTypes(step),
	})

	// Pre-execution anchor gate.
	for _, anchor := range r.ectx.Anchors {
		if !r.executor.anchors.AllowStep(anchor, r.ectx.Snapshot()) {
			return r.breachError(step, Breach{
				Anchor: anchor.Name, Rule: "precondition",
				Reason: "anchor rejected step inputs",
			})
		}
	}

	var err *Error
	switch step.Kind {
	case ir.KindUseTool:
		err = r.executeToolStep(ctx, step)
	case ir.KindRemember:
		err = r.executeRemember(ctx, step)
	case ir.KindRecall:
		err = r.executeRecall(ctx, step)
	case ir.KindValidate:
		err = r.executeValidateGate(ctx, step)
	case ir.KindConditional:
		err = r.executeConditional(ctx, step)
	default:
		// step, probe, reason, weave: model-backed cognitive steps.
		err = r.executeModelStep(ctx, step)
	}
	if err != nil {
		return err
	}

	r.tracer.EmitTimed(trace.EventStepEnd, step.ID, map[string]interface{}{
		"name":   step.Name,
		"status": "success",
	}, time.Since(started))
	return nil
}

// inputTypes reports the resolved types of a step's inputs for tracing.
func (r *flowRun) inputTypes(step *ir.Step) []string {
	var types []string
	for _, ref := range step.Inputs {
		if v, ok := r.ectx.Resolve(ref); ok && v.Type != "" {
			types = append(types, v.Type)
		}
	}
	return types
}

// #endregion step-execution

// #region model-step

// executeModelStep runs a cognitive step through the model client with
// inline semantic validation, wrapped by the retry engine when a refine
// config is attached, then enforces the bound anchors on the result.
func (r *flowRun) executeModelStep(ctx context.Context, step *ir.Step) *Error {
	refineCfg := RefineFromConfig(step.Config["refine"])
	floor := r.effectiveFloor(step)

	var lastContent string
	fn := func(callCtx context.Context, failureContext string) (Value, error) {
		failure := ""
		if failureContext != "" {
			failure = fmt.Sprintf("previous_attempt: %s\nwhy_rejected: %s", lastContent, failureContext)
		}
		value, err := r.callModel(callCtx, step, failure)
		if err != nil {
			return Value{}, err
		}
		lastContent = value.Text()

		violations := NewValidator(r.program).Validate(value, step.OutputType, floor)
		if len(violations) > 0 {
			r.tracer.Emit(trace.EventValidationFail, step.ID, map[string]interface{}{
				"expected_type": step.OutputType,
				"violations":    violationMessages(violations),
			})
			return Value{}, classify(violations, step.ID, step.Name, r.flow.Name)
		}
		if step.OutputType != "" {
			r.tracer.Emit(trace.EventValidationPass, step.ID, map[string]interface{}{
				"expected_type": step.OutputType,
			})
		}
		return value, nil
	}

	value, err := r.executor.engine.Execute(ctx, r.tracer, refineCfg, step.ID, step.Name, r.flow.Name, fn)
	if err != nil {
		return r.asRuntimeError(err, step)
	}

	value, breachErr := r.enforceAnchors(ctx, step, value, fn)
	if breachErr != nil {
		return breachErr
	}

	r.ectx.Commit(step.Name, value)
	return nil
}

// callModel performs one model-client call with full tracing.
func (r *flowRun) callModel(ctx context.Context, step *ir.Step, failureContext string) (Value, error) {
	req := Request{
		System:         r.systemPrompt(),
		User:           r.userPrompt(step),
		FailureContext: failureContext,
		OutputSchema:   r.outputSchema(step.OutputType),
		Effort:         r.entry.Effort,
		StepID:         step.ID,
		StepName:       step.Name,
	}
	if c := r.ectx.Context; c != nil {
		if c.MaxTokens != nil {
			req.MaxTokens = *c.MaxTokens
		}
		if c.Temperature != nil {
			req.Temperature = *c.Temperature
		}
	}

	resp, err := r.executor.client.Complete(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			cancelled := r.cancelledError(ctx.Err())
			cancelled.StepID = step.ID
			return Value{}, cancelled
		}
		return Value{}, wrapError(RuntimeError, err, step.ID, step.Name, r.flow.Name,
			"model call failed: %v", err)
	}

	value := Value{
		Type:       step.OutputType,
		Content:    resp.Content,
		Structured: resp.Structured,
		TokensUsed: resp.TokensUsed,
	}
	if resp.Confidence != nil {
		value.Confidence = *resp.Confidence
		value.ConfidenceSource = "model"
	} else {
		// The backend surfaced no confidence: take the persona's
		// declared threshold, never an invented mid-range number.
		value.Confidence = 1.0
		value.ConfidenceSource = "default"
		if p := r.ectx.Persona; p != nil && p.ConfidenceThreshold != nil {
			value.Confidence = *p.ConfidenceThreshold
		}
	}
	return value, nil
}

// effectiveFloor is the most restrictive of the step's own floor and the
// persona threshold. Negative means no floor applies.
func (r *flowRun) effectiveFloor(step *ir.Step) float64 {
	floor := -1.0
	if raw, ok := step.Config["confidence_floor"]; ok {
		if f, ok := toFloat(raw); ok {
			floor = f
		}
	}
	if p := r.ectx.Persona; p != nil && p.ConfidenceThreshold != nil && *p.ConfidenceThreshold > floor {
		floor = *p.ConfidenceThreshold
	}
	return floor
}

// #endregion model-step

// #region anchors

// enforceAnchors runs the post-execution gate for every bound anchor and
// applies the breached anchor's violation strategy.
func (r *flowRun) enforceAnchors(ctx context.Context, step *ir.Step, value Value, fn StepFunc) (Value, *Error) {
	for _, anchor := range r.ectx.Anchors {
		r.tracer.Emit(trace.EventAnchorCheck, step.ID, map[string]interface{}{
			"anchor": anchor.Name,
		})
		breaches, delegated := r.executor.anchors.Check(ctx, []*ir.Anchor{anchor}, value)
		for _, d := range delegated {
			r.tracer.Emit(trace.EventAnchorCheck, step.ID, map[string]interface{}{
				"anchor":    anchor.Name,
				"delegated": d,
			})
		}
		if len(breaches) == 0 {
			r.tracer.Emit(trace.EventAnchorPass, step.ID, map[string]interface{}{
				"anchor": anchor.Name,
			})
			continue
		}

		breach := breaches[0]
		r.tracer.Emit(trace.EventAnchorBreach, step.ID, map[string]interface{}{
			"anchor": breach.Anchor,
			"rule":   breach.Rule,
			"reason": breach.Reason,
		})

		switch anchor.OnViolation {
		case "warn", "log":
			log.Printf("[ANCHOR] %s breached at step %q: %s", breach.Anchor, step.Name, breach.Reason)
		case "fallback":
			fallback := anchor.OnViolationTarget
			if fallback == "" {
				fallback = anchor.UnknownResponse
			}
			return Value{
				Type:             value.Type,
				Content:          fallback,
				Confidence:       0,
				ConfidenceSource: "fallback",
			}, nil
		case "retry":
			ceiling, _ := strconv.Atoi(anchor.OnViolationTarget)
			if ceiling < 1 {
				ceiling = 1
			}
			retried, err := r.retryForAnchor(ctx, step, anchor, breach, ceiling, fn)
			if err != nil {
				return Value{}, err
			}
			value = retried
		default:
			// raise and escalate both halt the flow.
			return Value{}, r.breachError(step, breach)
		}
	}
	return value, nil
}

// retryForAnchor re-runs the step with the breach as failure context,
// then re-checks the anchor. Still breached after the ceiling → raise.
func (r *flowRun) retryForAnchor(ctx context.Context, step *ir.Step, anchor *ir.Anchor, breach Breach, ceiling int, fn StepFunc) (Value, *Error) {
	reason := breach.Reason
	for attempt := 1; attempt <= ceiling; attempt++ {
		r.tracer.Emit(trace.EventRetry, step.ID, map[string]interface{}{
			"attempt": attempt,
			"anchor":  anchor.Name,
		})
		v, err := fn(ctx, reason)
		if err != nil {
			return Value{}, r.asRuntimeError(err, step)
		}
		breaches, _ := r.executor.anchors.Check(ctx, []*ir.Anchor{anchor}, v)
		if len(breaches) == 0 {
			return v, nil
		}
		reason = breaches[0].Reason
	}
	return Value{}, r.breachError(step, Breach{
		Anchor: anchor.Name, Rule: breach.Rule,
		Reason: reason + " (after retries)",
	})
}

func (r *flowRun) breachError(step *ir.Step, breach Breach) *Error {
	err := newError(AnchorBreachError, step.ID, step.Name, r.flow.Name,
		"anchor %q breached: %s", breach.Anchor, breach.Reason)
	err.Context = map[string]interface{}{"anchor": breach.Anchor, "rule": breach.Rule}
	return err
}

// #endregion anchors

// #region tool-step

func (r *flowRun) executeToolStep(ctx context.Context, step *ir.Step) *Error {
	toolName, _ := step.Config["tool_name"].(string)
	argument, _ := step.Config["argument"].(string)

	spec := tools.Spec{Name: toolName}
	if decl := r.program.FindTool(toolName); decl != nil {
		spec.Provider = decl.Provider
		spec.Filter = decl.FilterExpr
		spec.Timeout = decl.Timeout
		spec.Runtime = decl.Runtime
		if decl.MaxResults != nil {
			spec.MaxResults = *decl.MaxResults
		}
		if decl.Sandbox != nil {
			spec.Sandbox = *decl.Sandbox
		}
	}

	if r.executor.tools == nil {
		return newError(RuntimeError, step.ID, step.Name, r.flow.Name,
			"step requires tool %q but no dispatcher is bound", toolName)
	}

	r.tracer.Emit(trace.EventToolCallStart, step.ID, map[string]interface{}{
		"tool":     toolName,
		"argument": argument,
	})
	started := time.Now()
	result, err := r.executor.tools.Dispatch(ctx, spec, argument)
	if err != nil {
		if errors.Is(err, tools.ErrTimeout) {
			return wrapError(TimeoutError, err, step.ID, step.Name, r.flow.Name,
				"tool %q timed out after %s", toolName, spec.Timeout)
		}
		if ctx.Err() != nil {
			return r.cancelledError(ctx.Err())
		}
		return wrapError(RuntimeError, err, step.ID, step.Name, r.flow.Name,
			"tool %q failed: %v", toolName, err)
	}
	r.tracer.EmitTimed(trace.EventToolCallEnd, step.ID, map[string]interface{}{
		"tool":    toolName,
		"ok":      result.OK,
		"is_stub": result.Metadata["is_stub"],
	}, time.Since(started))

	if !result.OK {
		return newError(RuntimeError, step.ID, step.Name, r.flow.Name,
			"tool %q reported failure: %s", toolName, result.Err)
	}

	value := Value{Type: step.OutputType, Confidence: 1.0, ConfidenceSource: "tool"}
	switch payload := result.Value.(type) {
	case map[string]interface{}:
		value.Structured = payload
	case string:
		value.Content = payload
	default:
		data, marshalErr := json.Marshal(payload)
		if marshalErr == nil {
			value.Content = string(data)
		}
	}
	r.ectx.Commit(step.Name, value)
	return nil
}

// #endregion tool-step

// #region memory-steps

func (r *flowRun) executeRemember(ctx context.Context, step *ir.Step) *Error {
	expression, _ := step.Config["expression"].(string)
	memoryName, _ := step.Config["memory"].(string)

	value, ok := r.ectx.Resolve(expression)
	if !ok {
		value = Value{Content: expression}
	}
	var stored interface{} = value.Text()
	if value.Structured != nil {
		stored = value.Structured
	}

	_, err := r.executor.memory.Store(ctx, expression, stored, map[string]interface{}{
		"scope": memoryName,
		"type":  value.Type,
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelledError(ctx.Err())
		}
		return wrapError(RuntimeError, err, step.ID, step.Name, r.flow.Name,
			"remember into %q failed: %v", memoryName, err)
	}
	r.tracer.Emit(trace.EventMemoryWrite, step.ID, map[string]interface{}{
		"memory": memoryName,
		"key":    expression,
	})
	return nil
}

func (r *flowRun) executeRecall(ctx context.Context, step *ir.Step) *Error {
	query, _ := step.Config["query"].(string)
	memoryName, _ := step.Config["memory"].(string)

	entries, err := r.executor.memory.Retrieve(ctx, query, 5, memoryName)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancelledError(ctx.Err())
		}
		return wrapError(RuntimeError, err, step.ID, step.Name, r.flow.Name,
			"recall from %q failed: %v", memoryName, err)
	}
	r.tracer.Emit(trace.EventMemoryRead, step.ID, map[string]interface{}{
		"memory":  memoryName,
		"query":   query,
		"results": len(entries),
	})

	results := make([]interface{}, 0, len(entries))
	for _, e := range entries {
		results = append(results, map[string]interface{}{
			"key":   e.Key,
			"value": e.Value,
			"score": e.Score,
		})
	}
	r.ectx.Commit(step.Name, Value{
		Structured:       map[string]interface{}{"results": results},
		Confidence:       1.0,
		ConfidenceSource: "memory",
	})
	return nil
}

// #endregion memory-steps

// #region validate-gate

// executeValidateGate re-checks a prior step's output against a schema
// and applies the gate's rules.
func (r *flowRun) executeValidateGate(ctx context.Context, step *ir.Step) *Error {
	target, _ := step.Config["target"].(string)
	schema, _ := step.Config["schema"].(string)

	value, ok := r.ectx.Resolve(target)
	if !ok {
		return newError(RuntimeError, step.ID, step.Name, r.flow.Name,
			"validate gate target %q has no value", target)
	}

	structural := NewValidator(r.program).Validate(value, schema, -1)

	rules := rulesFromConfig(step.Config["rules"])
	for _, rule := range rules {
		if !r.ruleTriggers(rule, value, structural) {
			continue
		}
		switch rule.action {
		case "refine":
			refined, err := r.refineTarget(ctx, target, rule, schema)
			if err != nil {
				return err
			}
			value = refined
			structural = NewValidator(r.program).Validate(value, schema, -1)
		case "raise":
			r.tracer.Emit(trace.EventValidationFail, step.ID, map[string]interface{}{
				"schema": schema,
				"rule":   rule.condition,
			})
			kind := ValidationError
			if rule.actionTarget == "ConfidenceError" {
				kind = ConfidenceError
			}
			return newError(kind, step.ID, step.Name, r.flow.Name,
				"validate gate on %q: rule %q failed", target, rule.condition)
		case "warn":
			log.Printf("[EXEC] validate warning on %q: %s", target, rule.actionTarget)
			r.tracer.Emit(trace.EventValidationFail, step.ID, map[string]interface{}{
				"schema":   schema,
				"rule":     rule.condition,
				"severity": "warning",
			})
		case "pass":
			// explicit accept
		}
	}

	if len(structural) > 0 {
		r.tracer.Emit(trace.EventValidationFail, step.ID, map[string]interface{}{
			"schema":     schema,
			"violations": violationMessages(structural),
		})
		return classify(structural, step.ID, step.Name, r.flow.Name)
	}

	r.tracer.Emit(trace.EventValidationPass, step.ID, map[string]interface{}{
		"schema": schema,
		"target": target,
	})
	return nil
}

// refineTarget re-executes the gate's target step under the rule's
// refine parameters, threading the rejection as failure context.
func (r *flowRun) refineTarget(ctx context.Context, target string, rule gateRule, schema string) (Value, *Error) {
	base := strings.TrimSuffix(target, ".output")
	targetStep := r.findStep(base)
	if targetStep == nil {
		return Value{}, newError(RuntimeError, "", "", r.flow.Name,
			"validate gate cannot refine unknown step %q", base)
	}

	cfg := &RefineConfig{
		MaxAttempts:        2,
		PassFailureContext: true,
		Backoff:            BackoffNone,
	}
	if n, ok := rule.params["max_attempts"]; ok {
		if parsed, err := strconv.Atoi(n); err == nil && parsed > 0 {
			cfg.MaxAttempts = parsed
		}
	}
	if b, ok := rule.params["backoff"]; ok {
		cfg.Backoff = b
	}

	floor := r.effectiveFloor(targetStep)
	rejection := fmt.Sprintf("rule %q failed against schema %s", rule.condition, schema)

	fn := func(callCtx context.Context, failureContext string) (Value, error) {
		if failureContext == "" {
			failureContext = rejection
		}
		value, err := r.callModel(callCtx, targetStep, failureContext)
		if err != nil {
			return Value{}, err
		}
		violations := NewValidator(r.program).Validate(value, schema, floor)
		if rule.condition == "confidence" && rule.op != "" {
			if triggersComparison(value.Confidence, rule.op, rule.value) {
				violations = append(violations, Violation{
					Rule:    "confidence_floor",
					Message: fmt.Sprintf("confidence %.2f still fails %s %s", value.Confidence, rule.op, rule.value),
				})
			}
		}
		if len(violations) > 0 {
			return Value{}, classify(violations, targetStep.ID, targetStep.Name, r.flow.Name)
		}
		return value, nil
	}

	value, err := r.executor.engine.Execute(ctx, r.tracer, cfg, targetStep.ID, targetStep.Name, r.flow.Name, fn)
	if err != nil {
		return Value{}, r.asRuntimeError(err, targetStep)
	}
	r.ectx.Commit(targetStep.Name, value)
	return value, nil
}

func (r *flowRun) findStep(name string) *ir.Step {
	for _, s := range r.flow.Steps {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// gateRule is a decoded validate-gate rule.
type gateRule struct {
	condition    string
	op           string
	value        string
	action       string
	actionTarget string
	params       map[string]string
}

func rulesFromConfig(raw interface{}) []gateRule {
	var out []gateRule
	list, ok := raw.([]map[string]interface{})
	if !ok {
		// JSON round-trip shape.
		if anyList, ok := raw.([]interface{}); ok {
			for _, item := range anyList {
				if m, ok := item.(map[string]interface{}); ok {
					list = append(list, m)
				}
			}
		}
	}
	for _, m := range list {
		rule := gateRule{params: map[string]string{}}
		rule.condition, _ = m["condition"].(string)
		rule.op, _ = m["op"].(string)
		rule.value, _ = m["value"].(string)
		rule.action, _ = m["action"].(string)
		rule.actionTarget, _ = m["action_target"].(string)
		if params, ok := m["action_params"].(map[string]interface{}); ok {
			for k, v := range params {
				rule.params[k] = fmt.Sprintf("%v", v)
			}
		}
		out = append(out, rule)
	}
	return out
}

// ruleTriggers decides whether a gate rule's condition holds for the
// current value.
func (r *flowRun) ruleTriggers(rule gateRule, value Value, structural []Violation) bool {
	switch rule.condition {
	case "confidence":
		if rule.op == "" {
			return false
		}
		return triggersComparison(value.Confidence, rule.op, rule.value)
	case "structural_mismatch":
		return len(structural) > 0
	default:
		// A structured field compared against a literal.
		if value.Structured != nil {
			if raw, ok := value.Structured[rule.condition]; ok {
				if num, ok := toFloat(raw); ok && rule.op != "" {
					return triggersComparison(num, rule.op, rule.value)
				}
			}
		}
		return false
	}
}

func triggersComparison(actual float64, op, literal string) bool {
	expected, err := strconv.ParseFloat(literal, 64)
	if err != nil {
		return false
	}
	switch op {
	case "<":
		return actual < expected
	case ">":
		return actual > expected
	case "<=":
		return actual <= expected
	case ">=":
		return actual >= expected
	case "==":
		return actual == expected
	case "!=":
		return actual != expected
	}
	return false
}

// #endregion validate-gate

// #region conditional

func (r *flowRun) executeConditional(ctx context.Context, step *ir.Step) *Error {
	condition, _ := step.Config["condition"].(string)
	op, _ := step.Config["op"].(string)
	literal, _ := step.Config["value"].(string)

	holds := false
	switch condition {
	case "confidence":
		if last, ok := r.ectx.LastOutput(); ok && op != "" {
			holds = triggersComparison(last.Confidence, op, literal)
		}
	default:
		if v, ok := r.ectx.Resolve(condition); ok {
			if op == "" {
				holds = strings.TrimSpace(v.Text()) != ""
			} else if num, numOK := numericValue(v); numOK {
				holds = triggersComparison(num, op, literal)
			}
		}
	}

	branchKey := "then"
	if !holds {
		branchKey = "else"
	}
	branch := stepFromConfig(step.Config[branchKey])
	if branch == nil {
		return nil
	}
	return r.executeStep(ctx, branch)
}

// stepFromConfig recovers a nested step from a config blob, whether it
// is the in-process *ir.Step or a JSON-decoded map.
func stepFromConfig(raw interface{}) *ir.Step {
	switch s := raw.(type) {
	case *ir.Step:
		return s
	case map[string]interface{}:
		data, err := json.Marshal(s)
		if err != nil {
			return nil
		}
		var step ir.Step
		if err := json.Unmarshal(data, &step); err != nil {
			return nil
		}
		return &step
	}
	return nil
}

// #endregion conditional

// #region prompts

// systemPrompt derives system instructions from persona + context +
// anchors.
func (r *flowRun) systemPrompt() string {
	var sb strings.Builder
	if p := r.ectx.Persona; p != nil {
		fmt.Fprintf(&sb, "You are %s.", p.Name)
		if p.Description != "" {
			fmt.Fprintf(&sb, " %s", p.Description)
		}
		if len(p.Domain) > 0 {
			fmt.Fprintf(&sb, "\nDomains of expertise: %s.", strings.Join(p.Domain, ", "))
		}
		if p.Tone != "" {
			fmt.Fprintf(&sb, "\nTone: %s.", p.Tone)
		}
		if p.Language != "" {
			fmt.Fprintf(&sb, "\nRespond in language: %s.", p.Language)
		}
		if len(p.RefuseIf) > 0 {
			fmt.Fprintf(&sb, "\nRefuse if asked for: %s.", strings.Join(p.RefuseIf, ", "))
		}
	}
	if c := r.ectx.Context; c != nil {
		if c.Depth != "" {
			fmt.Fprintf(&sb, "\nAnalysis depth: %s.", c.Depth)
		}
		if c.CiteSources != nil && *c.CiteSources {
			sb.WriteString("\nCite sources for every claim.")
		}
	}
	for _, anchor := range r.ectx.Anchors {
		if anchor.UnknownResponse != "" {
			fmt.Fprintf(&sb, "\nIf you lack sufficient information, answer exactly: %q.", anchor.UnknownResponse)
		}
		if len(anchor.Reject) > 0 {
			fmt.Fprintf(&sb, "\nNever produce: %s.", strings.Join(anchor.Reject, ", "))
		}
	}
	return sb.String()
}

// userPrompt derives the user content from the step and its inputs.
func (r *flowRun) userPrompt(step *ir.Step) string {
	var sb strings.Builder

	switch step.Kind {
	case ir.KindProbe:
		target, _ := step.Config["target"].(string)
		fmt.Fprintf(&sb, "Extract the following fields from %s: %s.",
			target, strings.Join(stringsFromConfig(step.Config["fields"]), ", "))
	case ir.KindReason:
		if about, ok := step.Config["about"].(string); ok && about != "" {
			fmt.Fprintf(&sb, "Reason carefully about %s.", about)
		}
		if depth, ok := toFloat(step.Config["depth"]); ok && depth > 1 {
			fmt.Fprintf(&sb, " Use %d distinct reasoning passes.", int(depth))
		}
		if show, ok := step.Config["show_work"].(bool); ok && show {
			sb.WriteString(" Show your reasoning step by step.")
		}
	case ir.KindWeave:
		format, _ := step.Config["format"].(string)
		fmt.Fprintf(&sb, "Synthesize the sources below into a single coherent %s.", format)
		if priority := stringsFromConfig(step.Config["priority"]); len(priority) > 0 {
			fmt.Fprintf(&sb, " Order of priority: %s.", strings.Join(priority, ", "))
		}
	}

	if ask, ok := step.Config["ask"].(string); ok && ask != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(ask)
	}

	// Probe config nested inside a named step.
	if probe, ok := step.Config["probe"].(map[string]interface{}); ok {
		target, _ := probe["target"].(string)
		fmt.Fprintf(&sb, "\nExtract the following fields from %s: %s.",
			target, strings.Join(stringsFromConfig(probe["fields"]), ", "))
	}

	for _, ref := range step.Inputs {
		if value, ok := r.ectx.Resolve(ref); ok {
			fmt.Fprintf(&sb, "\n\n--- %s ---\n%s", ref, value.Text())
		}
	}
	if step.OutputType != "" {
		fmt.Fprintf(&sb, "\n\nRespond with a value of type %s.", step.OutputType)
	}
	return sb.String()
}

// outputSchema derives a JSON schema hint from the declared output type.
func (r *flowRun) outputSchema(outputType string) map[string]interface{} {
	if outputType == "" {
		return nil
	}
	schema := map[string]interface{}{"type_name": outputType}
	if def := r.program.FindType(outputType); def != nil {
		if len(def.Fields) > 0 {
			fields := map[string]interface{}{}
			for _, f := range def.Fields {
				fields[f.Name] = map[string]interface{}{
					"type":     f.Type,
					"optional": f.Optional,
				}
			}
			schema["fields"] = fields
		}
		if def.RangeMin != nil && def.RangeMax != nil {
			schema["range"] = []float64{*def.RangeMin, *def.RangeMax}
		}
	}
	return schema
}

func stringsFromConfig(raw interface{}) []string {
	switch list := raw.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// #endregion prompts

// #region error-mapping

// asRuntimeError coerces any error from the engine or client into the
// six-kind taxonomy.
func (r *flowRun) asRuntimeError(err error, step *ir.Step) *Error {
	var runtimeErr *Error
	if errors.As(err, &runtimeErr) {
		return runtimeErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return r.cancelledError(err)
	}
	return wrapError(RuntimeError, err, step.ID, step.Name, r.flow.Name, "%v", err)
}

func violationMessages(violations []Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = v.Message
	}
	return out
}

// #endregion error-mapping
