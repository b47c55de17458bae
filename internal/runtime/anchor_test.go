package runtime

import (
	"context"
	"testing"

	"github.com/axonlang/axon/internal/ir"
)

func TestAnchorConfidenceFloorBreach(t *testing.T) {
	ev := NewAnchorEvaluator(nil)
	floor := 0.9
	anchors := []*ir.Anchor{{Name: "Strict", ConfidenceFloor: &floor}}

	breaches, _ := ev.Check(context.Background(), anchors, Value{Content: "x", Confidence: 0.5})
	if len(breaches) != 1 || breaches[0].Rule != "confidence_floor" {
		t.Fatalf("breaches = %v", breaches)
	}

	breaches, _ = ev.Check(context.Background(), anchors, Value{Content: "x", Confidence: 0.95})
	if len(breaches) != 0 {
		t.Errorf("high confidence breached: %v", breaches)
	}
}

func TestAnchorRejectPatterns(t *testing.T) {
	ev := NewAnchorEvaluator(nil)
	anchors := []*ir.Anchor{{Name: "NoGuess", Reject: []string{"wild_guess", "speculation"}}}

	// Underscored patterns match their spaced form.
	breaches, _ := ev.Check(context.Background(), anchors,
		Value{Content: "This is a wild guess at best.", Confidence: 1})
	if len(breaches) != 1 || breaches[0].Rule != "reject" {
		t.Fatalf("breaches = %v", breaches)
	}

	breaches, _ = ev.Check(context.Background(), anchors,
		Value{Content: "A sober, grounded statement.", Confidence: 1})
	if len(breaches) != 0 {
		t.Errorf("clean output breached: %v", breaches)
	}
}

func TestAnchorSourceCitationRequire(t *testing.T) {
	ev := NewAnchorEvaluator(nil)
	anchors := []*ir.Anchor{{Name: "Cited", Require: "source_citation"}}

	breaches, _ := ev.Check(context.Background(), anchors,
		Value{Content: "No references anywhere.", Confidence: 1})
	if len(breaches) != 1 {
		t.Fatalf("uncited output passed: %v", breaches)
	}

	breaches, _ = ev.Check(context.Background(), anchors,
		Value{Content: "Per https://example.org/study this holds.", Confidence: 1})
	if len(breaches) != 0 {
		t.Errorf("cited content breached: %v", breaches)
	}

	breaches, _ = ev.Check(context.Background(), anchors, Value{
		Structured: map[string]interface{}{"sources": []interface{}{"doi:1"}},
		Confidence: 1,
	})
	if len(breaches) != 0 {
		t.Errorf("structured sources breached: %v", breaches)
	}
}

func TestAnchorSemanticRequirementDelegates(t *testing.T) {
	ev := NewAnchorEvaluator(nil)
	anchors := []*ir.Anchor{{Name: "Factual", Require: "factual_only"}}

	breaches, delegated := ev.Check(context.Background(), anchors, Value{Content: "x", Confidence: 1})
	if len(breaches) != 0 {
		t.Errorf("delegated requirement breached structurally: %v", breaches)
	}
	if len(delegated) != 1 || delegated[0] != "Factual:factual_only" {
		t.Errorf("delegated = %v", delegated)
	}
}

type vetoJudge struct{}

func (vetoJudge) Holds(_ context.Context, _, _, _ string) (bool, error) {
	return false, nil
}

func TestAnchorJudgeVeto(t *testing.T) {
	ev := NewAnchorEvaluator(vetoJudge{})
	anchors := []*ir.Anchor{{Name: "Factual", Require: "factual_only"}}

	breaches, delegated := ev.Check(context.Background(), anchors, Value{Content: "x", Confidence: 1})
	if len(breaches) != 1 {
		t.Fatalf("judge veto ignored: %v", breaches)
	}
	if len(delegated) != 0 {
		t.Errorf("delegated despite bound judge: %v", delegated)
	}
}

func TestAnchorsComposeByConjunction(t *testing.T) {
	ev := NewAnchorEvaluator(nil)
	floor := 0.8
	anchors := []*ir.Anchor{
		{Name: "Floor", ConfidenceFloor: &floor},
		{Name: "NoSpec", Reject: []string{"speculation"}},
	}

	// Fails both: two breaches, one per anchor.
	breaches, _ := ev.Check(context.Background(), anchors,
		Value{Content: "mere speculation", Confidence: 0.4})
	if len(breaches) != 2 {
		t.Fatalf("breaches = %v", breaches)
	}
}
