package runtime

import (
	"context"
	"fmt"
	"strings"

	"github.com/axonlang/axon/internal/ir"
)

// #region breach

// Breach is one failed anchor condition.
type Breach struct {
	Anchor string `json:"anchor"`
	Rule   string `json:"rule"`
	Reason string `json:"reason"`
}

// #endregion breach

// #region judge

// Judge evaluates anchor requirements that need inference (semantic
// entailment, factuality). Implementations live outside the core; when
// none is bound, such requirements are recorded as delegated and pass
// structurally.
type Judge interface {
	Holds(ctx context.Context, anchorName, requirement, content string) (bool, error)
}

// #endregion judge

// #region evaluator

// AnchorEvaluator enforces a bound anchor set. Anchors compose by
// conjunction: one breach anywhere fails the step. Structural checks
// (confidence floor, reject-pattern matching, citation presence) run in
// process; requirements beyond them are delegated to the Judge.
type AnchorEvaluator struct {
	judge Judge
}

// NewAnchorEvaluator creates an evaluator with an optional judge.
func NewAnchorEvaluator(judge Judge) *AnchorEvaluator {
	return &AnchorEvaluator{judge: judge}
}

// structuralRequires are the require/enforce values this core can verify
// without inference.
var structuralRequires = map[string]bool{
	"source_citation": true,
	"structured":      true,
	"non_empty":       true,
}

// AllowStep is the pre-execution gate: anchors may restrict step inputs
// before any model call. The default is to allow; the hook exists for
// anchors that reject on context alone.
func (a *AnchorEvaluator) AllowStep(anchor *ir.Anchor, snapshot Snapshot) bool {
	return true
}

// Check evaluates the post-execution conditions of every bound anchor
// against a step output. Delegated holds the names of requirements that
// needed the external judge.
func (a *AnchorEvaluator) Check(ctx context.Context, anchors []*ir.Anchor, value Value) (breaches []Breach, delegated []string) {
	content := strings.ToLower(value.Text())

	for _, anchor := range anchors {
		// Confidence floor.
		if anchor.ConfidenceFloor != nil && value.Confidence < *anchor.ConfidenceFloor {
			breaches = append(breaches, Breach{
				Anchor: anchor.Name,
				Rule:   "confidence_floor",
				Reason: formatFloorBreach(value.Confidence, *anchor.ConfidenceFloor),
			})
		}

		// Reject patterns: a rejected token appearing in the output is a
		// breach. Underscored enum values match their spaced form too.
		for _, pattern := range anchor.Reject {
			if matchesPattern(content, pattern) {
				breaches = append(breaches, Breach{
					Anchor: anchor.Name,
					Rule:   "reject",
					Reason: "output matches rejected pattern " + pattern,
				})
			}
		}

		// Requirements.
		for _, requirement := range []string{anchor.Require, anchor.Enforce} {
			if requirement == "" {
				continue
			}
			if structuralRequires[requirement] {
				if reason, ok := checkStructuralRequire(requirement, value); !ok {
					breaches = append(breaches, Breach{
						Anchor: anchor.Name,
						Rule:   requirement,
						Reason: reason,
					})
				}
				continue
			}
			// Semantic requirement: delegate or record as delegated.
			if a.judge != nil {
				holds, err := a.judge.Holds(ctx, anchor.Name, requirement, value.Text())
				if err != nil || !holds {
					breaches = append(breaches, Breach{
						Anchor: anchor.Name,
						Rule:   requirement,
						Reason: "judge rejected requirement " + requirement,
					})
				}
			} else {
				delegated = append(delegated, anchor.Name+":"+requirement)
			}
		}
	}
	return breaches, delegated
}

// #endregion evaluator

// #region structural-checks

func checkStructuralRequire(requirement string, value Value) (string, bool) {
	switch requirement {
	case "source_citation":
		if hasCitation(value) {
			return "", true
		}
		return "output carries no source citation", false
	case "structured":
		if value.Structured != nil {
			return "", true
		}
		return "output is not structured", false
	case "non_empty":
		if strings.TrimSpace(value.Text()) != "" {
			return "", true
		}
		return "output is empty", false
	}
	return "", true
}

func hasCitation(value Value) bool {
	if value.Structured != nil {
		if sources, ok := value.Structured["sources"]; ok {
			if list, ok := sources.([]interface{}); ok {
				return len(list) > 0
			}
			return sources != nil
		}
	}
	content := strings.ToLower(value.Content)
	return strings.Contains(content, "http://") ||
		strings.Contains(content, "https://") ||
		strings.Contains(content, "source:")
}

func matchesPattern(content, pattern string) bool {
	p := strings.ToLower(pattern)
	if strings.Contains(content, p) {
		return true
	}
	spaced := strings.ReplaceAll(p, "_", " ")
	return spaced != p && strings.Contains(content, spaced)
}

func formatFloorBreach(confidence, floor float64) string {
	return fmt.Sprintf("confidence %.2f below anchor floor %.2f", confidence, floor)
}

// #endregion structural-checks
