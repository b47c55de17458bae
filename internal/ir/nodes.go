// Package ir defines AXON's backend-agnostic intermediate representation
// and the generator that lowers a validated AST into it.
//
// The IR is JSON-stable: two compilations of identical source produce
// byte-identical output. Step identifiers are version-5 UUIDs derived
// from the lexical position of the step, declarations keep source order,
// and all map-shaped data serialises with sorted keys.
package ir

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Version is the current IR format version. Incompatible changes bump
// the major component.
const Version = "1.0"

// #region error

// ErrorKind classifies an IR generation or loading failure.
type ErrorKind string

const (
	CyclicDependency    ErrorKind = "CyclicDependency"
	NoEntrypoint        ErrorKind = "NoEntrypoint"
	DuplicateEntrypoint ErrorKind = "DuplicateEntrypoint"
	UnresolvedReference ErrorKind = "UnresolvedReference"
	VersionMismatch     ErrorKind = "VersionMismatch"
)

// Error is an IR-stage failure.
type Error struct {
	Kind    ErrorKind
	Message string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("IRError::%s [line %d, col %d]: %s", e.Kind, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("IRError::%s: %s", e.Kind, e.Message)
}

// #endregion error

// #region program

// Program is the complete compiled plan: declarations per category,
// flows with their step DAGs, and the single entrypoint.
type Program struct {
	AxonIRVersion string           `json:"axon_ir_version"`
	ProgramID     string           `json:"program_id"`
	Declarations  Declarations     `json:"declarations"`
	Flows         map[string]*Flow `json:"flows"`
	Entrypoint    *Entrypoint      `json:"entrypoint"`
}

// Declarations groups every non-flow declaration by category, in source
// order within each category.
type Declarations struct {
	Personas []Persona `json:"personas,omitempty"`
	Contexts []Context `json:"contexts,omitempty"`
	Anchors  []Anchor  `json:"anchors,omitempty"`
	Tools    []Tool    `json:"tools,omitempty"`
	Memories []Memory  `json:"memories,omitempty"`
	Types    []Type    `json:"types,omitempty"`
	Intents  []Intent  `json:"intents,omitempty"`
	Imports  []Import  `json:"imports,omitempty"`
}

// #endregion program

// #region declarations

type Import struct {
	ModulePath []string `json:"module_path"`
	Names      []string `json:"names,omitempty"`
}

type Persona struct {
	Name                string   `json:"name"`
	Domain              []string `json:"domain,omitempty"`
	Tone                string   `json:"tone,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	CiteSources         *bool    `json:"cite_sources,omitempty"`
	RefuseIf            []string `json:"refuse_if,omitempty"`
	Language            string   `json:"language,omitempty"`
	Description         string   `json:"description,omitempty"`
}

type Context struct {
	Name        string   `json:"name"`
	MemoryScope string   `json:"memory_scope,omitempty"`
	Language    string   `json:"language,omitempty"`
	Depth       string   `json:"depth,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	CiteSources *bool    `json:"cite_sources,omitempty"`
}

type Anchor struct {
	Name              string   `json:"name"`
	Require           string   `json:"require,omitempty"`
	Reject            []string `json:"reject,omitempty"`
	Enforce           string   `json:"enforce,omitempty"`
	ConfidenceFloor   *float64 `json:"confidence_floor,omitempty"`
	UnknownResponse   string   `json:"unknown_response,omitempty"`
	OnViolation       string   `json:"on_violation,omitempty"`
	OnViolationTarget string   `json:"on_violation_target,omitempty"`
}

type Tool struct {
	Name       string `json:"name"`
	Provider   string `json:"provider,omitempty"`
	MaxResults *int   `json:"max_results,omitempty"`
	FilterExpr string `json:"filter,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	Runtime    string `json:"runtime,omitempty"`
	Sandbox    *bool  `json:"sandbox,omitempty"`
}

type Memory struct {
	Name      string `json:"name"`
	Store     string `json:"store,omitempty"`
	Backend   string `json:"backend,omitempty"`
	Retrieval string `json:"retrieval,omitempty"`
	Decay     string `json:"decay,omitempty"`
}

type TypeField struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	GenericParam string `json:"generic_param,omitempty"`
	Optional     bool   `json:"optional,omitempty"`
}

type Type struct {
	Name     string      `json:"name"`
	Fields   []TypeField `json:"fields,omitempty"`
	RangeMin *float64    `json:"range_min,omitempty"`
	RangeMax *float64    `json:"range_max,omitempty"`
	Where    string      `json:"where,omitempty"`
}

type Intent struct {
	Name            string   `json:"name"`
	Given           string   `json:"given,omitempty"`
	Ask             string   `json:"ask,omitempty"`
	OutputType      string   `json:"output_type,omitempty"`
	ConfidenceFloor *float64 `json:"confidence_floor,omitempty"`
}

// #endregion declarations

// #region flow

// Param is a typed flow parameter.
type Param struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	GenericParam string `json:"generic_param,omitempty"`
	Optional     bool   `json:"optional,omitempty"`
}

// Flow is a compiled pipeline: its steps appear in topological order.
type Flow struct {
	Name       string  `json:"name"`
	Params     []Param `json:"params,omitempty"`
	ReturnType string  `json:"return_type,omitempty"`
	Steps      []*Step `json:"steps"`
}

// StepKind tags the cognitive operation a step performs.
type StepKind string

const (
	KindStep        StepKind = "step"
	KindProbe       StepKind = "probe"
	KindReason      StepKind = "reason"
	KindValidate    StepKind = "validate"
	KindWeave       StepKind = "weave"
	KindUseTool     StepKind = "use_tool"
	KindRemember    StepKind = "remember"
	KindRecall      StepKind = "recall"
	KindConditional StepKind = "conditional"
)

// Step is one node of a flow's execution DAG. Inputs hold the raw source
// references (flow parameters or "Step.output" forms); DependsOn is the
// resolved edge set of prior step ids and is always acyclic.
type Step struct {
	ID         string                 `json:"id"`
	Kind       StepKind               `json:"kind"`
	Name       string                 `json:"name,omitempty"`
	Inputs     []string               `json:"inputs,omitempty"`
	OutputType string                 `json:"output_type,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
	DependsOn  []string               `json:"depends_on,omitempty"`
}

// #endregion flow

// #region entrypoint

// Entrypoint captures the program's sole run statement.
type Entrypoint struct {
	FlowName        string            `json:"flow_name"`
	Arguments       []string          `json:"arguments,omitempty"`
	Persona         string            `json:"persona,omitempty"`
	Context         string            `json:"context,omitempty"`
	Anchors         []string          `json:"anchors,omitempty"`
	OnFailure       string            `json:"on_failure,omitempty"`
	OnFailureParams map[string]string `json:"on_failure_params,omitempty"`
	OutputTo        string            `json:"output_to,omitempty"`
	Effort          string            `json:"effort,omitempty"`
}

// #endregion entrypoint

// #region json

// Marshal is the stable serialisation used for the on-disk format.
func (p *Program) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

// MarshalIndent renders the IR for human inspection.
func (p *Program) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}

// Load parses IR JSON, ignoring unknown fields but rejecting missing
// required fields and incompatible versions.
func Load(data []byte) (*Program, error) {
	var p Program
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse ir json: %w", err)
	}
	if p.AxonIRVersion == "" || p.ProgramID == "" {
		return nil, &Error{
			Kind:    VersionMismatch,
			Message: "missing required fields axon_ir_version / program_id",
		}
	}
	if major(p.AxonIRVersion) != major(Version) {
		return nil, &Error{
			Kind: VersionMismatch,
			Message: fmt.Sprintf("ir version %s is incompatible with supported version %s",
				p.AxonIRVersion, Version),
		}
	}
	return &p, nil
}

func major(version string) string {
	if i := strings.IndexByte(version, '.'); i >= 0 {
		return version[:i]
	}
	return version
}

// #endregion json

// #region lookups

// FindTool returns the declared tool spec by name.
func (p *Program) FindTool(name string) *Tool {
	for i := range p.Declarations.Tools {
		if p.Declarations.Tools[i].Name == name {
			return &p.Declarations.Tools[i]
		}
	}
	return nil
}

// FindPersona returns the declared persona by name.
func (p *Program) FindPersona(name string) *Persona {
	for i := range p.Declarations.Personas {
		if p.Declarations.Personas[i].Name == name {
			return &p.Declarations.Personas[i]
		}
	}
	return nil
}

// FindContext returns the declared context by name.
func (p *Program) FindContext(name string) *Context {
	for i := range p.Declarations.Contexts {
		if p.Declarations.Contexts[i].Name == name {
			return &p.Declarations.Contexts[i]
		}
	}
	return nil
}

// FindAnchor returns the declared anchor by name.
func (p *Program) FindAnchor(name string) *Anchor {
	for i := range p.Declarations.Anchors {
		if p.Declarations.Anchors[i].Name == name {
			return &p.Declarations.Anchors[i]
		}
	}
	return nil
}

// FindMemory returns the declared memory by name.
func (p *Program) FindMemory(name string) *Memory {
	for i := range p.Declarations.Memories {
		if p.Declarations.Memories[i].Name == name {
			return &p.Declarations.Memories[i]
		}
	}
	return nil
}

// FindType returns the declared user type by name.
func (p *Program) FindType(name string) *Type {
	for i := range p.Declarations.Types {
		if p.Declarations.Types[i].Name == name {
			return &p.Declarations.Types[i]
		}
	}
	return nil
}

// #endregion lookups
