package runtime

import (
	"fmt"
	"strconv"

	"github.com/axonlang/axon/internal/ir"
	"github.com/axonlang/axon/internal/typecheck"
)

// #region violation

// Violation is one semantic validation failure.
type Violation struct {
	Rule     string `json:"rule"`
	Message  string `json:"message"`
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
}

// #endregion violation

// #region validator

// Validator checks step outputs against their declared semantic types:
// epistemic compatibility, range bounds, required structured fields, and
// the confidence floor. It never modifies a value, only judges it.
type Validator struct {
	program *ir.Program
}

// NewValidator builds a validator over the program's type declarations.
func NewValidator(program *ir.Program) *Validator {
	return &Validator{program: program}
}

// Validate runs every applicable check. floor is the effective
// confidence floor; the executor passes the more restrictive of the
// step's own floor and the persona threshold (anchor floors are checked
// separately by the anchor gate). Pass a negative floor to skip the check.
func (v *Validator) Validate(value Value, expectedType string, floor float64) []Violation {
	var violations []Violation

	if expectedType != "" {
		violations = append(violations, v.checkTypeCategory(value, expectedType)...)
		violations = append(violations, v.checkRange(value, expectedType)...)
		violations = append(violations, v.checkFields(value, expectedType)...)
	}
	if floor >= 0 && value.Confidence < floor {
		violations = append(violations, Violation{
			Rule: "confidence_floor",
			Message: fmt.Sprintf("confidence %.2f is below the floor of %.2f",
				value.Confidence, floor),
			Expected: fmt.Sprintf(">= %.2f", floor),
			Actual:   fmt.Sprintf("%.2f", value.Confidence),
		})
	}
	return violations
}

// checkTypeCategory compares the type the output self-declares (if any)
// against the expected type through the epistemic matrix.
func (v *Validator) checkTypeCategory(value Value, expectedType string) []Violation {
	declared := value.Type
	if value.Structured != nil {
		if t, ok := value.Structured["type"].(string); ok && t != "" {
			declared = t
		}
	}
	if declared == "" || declared == expectedType {
		return nil
	}
	if typecheck.Compatible(declared, expectedType) {
		return nil
	}
	rule := "type_mismatch"
	if typecheck.EpistemicTypes[declared] && typecheck.EpistemicTypes[expectedType] {
		rule = "epistemic_exclusion"
	}
	return []Violation{{
		Rule: rule,
		Message: fmt.Sprintf("expected %q but output declares %q",
			expectedType, declared),
		Expected: expectedType,
		Actual:   declared,
	}}
}

// checkRange enforces the numeric bounds of ranged types, built-in or
// user-declared.
func (v *Validator) checkRange(value Value, expectedType string) []Violation {
	lo, hi, ok := v.boundsOf(expectedType)
	if !ok {
		return nil
	}
	num, ok := numericValue(value)
	if !ok {
		return nil
	}
	var violations []Violation
	if num < lo {
		violations = append(violations, Violation{
			Rule:     "range_below_min",
			Message:  fmt.Sprintf("value %v is below minimum %v of %s", num, lo, expectedType),
			Expected: fmt.Sprintf(">= %v", lo),
			Actual:   fmt.Sprintf("%v", num),
		})
	}
	if num > hi {
		violations = append(violations, Violation{
			Rule:     "range_above_max",
			Message:  fmt.Sprintf("value %v exceeds maximum %v of %s", num, hi, expectedType),
			Expected: fmt.Sprintf("<= %v", hi),
			Actual:   fmt.Sprintf("%v", num),
		})
	}
	return violations
}

func (v *Validator) boundsOf(typeName string) (float64, float64, bool) {
	if bounds, ok := typecheck.RangedBuiltins[typeName]; ok {
		return bounds[0], bounds[1], true
	}
	if v.program != nil {
		if def := v.program.FindType(typeName); def != nil && def.RangeMin != nil && def.RangeMax != nil {
			return *def.RangeMin, *def.RangeMax, true
		}
	}
	return 0, 0, false
}

// checkFields requires every non-optional field of a structured user
// type to be present in the structured output.
func (v *Validator) checkFields(value Value, expectedType string) []Violation {
	if v.program == nil {
		return nil
	}
	def := v.program.FindType(expectedType)
	if def == nil || len(def.Fields) == 0 {
		return nil
	}
	if value.Structured == nil {
		return []Violation{{
			Rule: "structured_type",
			Message: fmt.Sprintf("type %q requires structured output with fields %v",
				expectedType, fieldNames(def.Fields)),
			Expected: "structured output",
			Actual:   "text",
		}}
	}
	var missing []string
	for _, f := range def.Fields {
		if f.Optional {
			continue
		}
		if _, ok := value.Structured[f.Name]; !ok {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) > 0 {
		return []Violation{{
			Rule:     "missing_fields",
			Message:  fmt.Sprintf("missing required fields %v of type %q", missing, expectedType),
			Expected: fmt.Sprintf("%v", fieldNames(def.Fields)),
			Actual:   fmt.Sprintf("%v", presentFields(value.Structured)),
		}}
	}
	return nil
}

// #endregion validator

// #region classify

// classify maps violations to the error taxonomy: confidence-floor
// failures are ConfidenceError (AXON_002), everything else is
// ValidationError (AXON_001).
func classify(violations []Violation, stepID, stepName, flowName string) *Error {
	if len(violations) == 0 {
		return nil
	}
	confidenceOnly := true
	messages := make([]string, 0, len(violations))
	for _, viol := range violations {
		messages = append(messages, viol.Message)
		if viol.Rule != "confidence_floor" {
			confidenceOnly = false
		}
	}
	kind := ValidationError
	if confidenceOnly {
		kind = ConfidenceError
	}
	err := newError(kind, stepID, stepName, flowName, "%s", joinMessages(messages))
	err.Context = map[string]interface{}{"violations": violations}
	return err
}

func joinMessages(messages []string) string {
	out := ""
	for i, m := range messages {
		if i > 0 {
			out += "; "
		}
		out += m
	}
	return out
}

// #endregion classify

// #region helpers

func numericValue(value Value) (float64, bool) {
	if value.Structured != nil {
		for _, key := range []string{"value", "score"} {
			if raw, ok := value.Structured[key]; ok {
				if num, ok := toFloat(raw); ok {
					return num, true
				}
			}
		}
	}
	if value.Content != "" {
		if num, err := strconv.ParseFloat(value.Content, 64); err == nil {
			return num, true
		}
	}
	return 0, false
}

func toFloat(raw interface{}) (float64, bool) {
	switch n := raw.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case string:
		if v, err := strconv.ParseFloat(n, 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func fieldNames(fields []ir.TypeField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

func presentFields(structured map[string]interface{}) []string {
	names := make([]string, 0, len(structured))
	for k := range structured {
		names = append(names, k)
	}
	return names
}

// #endregion helpers
