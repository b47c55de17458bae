package runtime

import (
	"testing"

	"github.com/axonlang/axon/internal/ir"
)

func rangedProgram() *ir.Program {
	min, max := 0.0, 1.0
	return &ir.Program{
		Declarations: ir.Declarations{
			Types: []ir.Type{
				{Name: "Score", RangeMin: &min, RangeMax: &max},
				{Name: "Report", Fields: []ir.TypeField{
					{Name: "summary", Type: "String"},
					{Name: "risk", Type: "RiskScore"},
					{Name: "notes", Type: "String", Optional: true},
				}},
			},
		},
	}
}

func TestValidateRangeBoundaries(t *testing.T) {
	v := NewValidator(rangedProgram())

	for _, ok := range []float64{0.0, 0.5, 1.0} {
		value := Value{Type: "Score", Structured: map[string]interface{}{"value": ok}, Confidence: 1}
		if violations := v.Validate(value, "Score", -1); len(violations) != 0 {
			t.Errorf("boundary %v rejected: %v", ok, violations)
		}
	}
	for _, bad := range []float64{-0.0001, 1.0001} {
		value := Value{Type: "Score", Structured: map[string]interface{}{"value": bad}, Confidence: 1}
		if violations := v.Validate(value, "Score", -1); len(violations) == 0 {
			t.Errorf("out-of-range %v accepted", bad)
		}
	}
}

func TestValidateBuiltinRangedTypes(t *testing.T) {
	v := NewValidator(nil)
	value := Value{Type: "SentimentScore", Content: "-0.5", Confidence: 1}
	if violations := v.Validate(value, "SentimentScore", -1); len(violations) != 0 {
		t.Errorf("SentimentScore -0.5 rejected: %v", violations)
	}
	value.Content = "-1.5"
	if violations := v.Validate(value, "SentimentScore", -1); len(violations) == 0 {
		t.Error("SentimentScore -1.5 accepted")
	}
}

func TestValidateEpistemicExclusion(t *testing.T) {
	v := NewValidator(nil)
	value := Value{
		Structured: map[string]interface{}{"type": "Opinion", "claim": "x"},
		Confidence: 1,
	}
	violations := v.Validate(value, "FactualClaim", -1)
	if len(violations) != 1 || violations[0].Rule != "epistemic_exclusion" {
		t.Fatalf("violations = %v", violations)
	}
}

func TestValidateCompatibleSubstitution(t *testing.T) {
	v := NewValidator(nil)
	value := Value{Type: "FactualClaim", Content: "the sky is blue", Confidence: 1}
	if violations := v.Validate(value, "String", -1); len(violations) != 0 {
		t.Errorf("FactualClaim -> String rejected: %v", violations)
	}
	value.Type = "RiskScore"
	value.Content = "0.4"
	if violations := v.Validate(value, "Float", -1); len(violations) != 0 {
		t.Errorf("RiskScore -> Float rejected: %v", violations)
	}
}

func TestValidateRequiredFields(t *testing.T) {
	v := NewValidator(rangedProgram())
	value := Value{
		Type:       "Report",
		Structured: map[string]interface{}{"summary": "fine"},
		Confidence: 1,
	}
	violations := v.Validate(value, "Report", -1)
	if len(violations) != 1 || violations[0].Rule != "missing_fields" {
		t.Fatalf("violations = %v", violations)
	}

	// Optional fields may be absent.
	value.Structured["risk"] = 0.2
	if violations := v.Validate(value, "Report", -1); len(violations) != 0 {
		t.Errorf("complete report rejected: %v", violations)
	}
}

func TestValidateConfidenceFloor(t *testing.T) {
	v := NewValidator(nil)
	value := Value{Content: "x", Confidence: 0.5}
	violations := v.Validate(value, "", 0.9)
	if len(violations) != 1 || violations[0].Rule != "confidence_floor" {
		t.Fatalf("violations = %v", violations)
	}
	err := classify(violations, "id", "S", "F")
	if err.Kind != ConfidenceError || err.Code() != "AXON_002" {
		t.Errorf("classified = %v", err)
	}
}

func TestClassifyMixedViolationsIsValidation(t *testing.T) {
	violations := []Violation{
		{Rule: "confidence_floor", Message: "low"},
		{Rule: "missing_fields", Message: "absent"},
	}
	err := classify(violations, "id", "S", "F")
	if err.Kind != ValidationError {
		t.Errorf("kind = %s", err.Kind)
	}
}
