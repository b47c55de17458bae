package trace

import (
	"encoding/json"
	"path/filepath"
	"testing"
)

func TestSpanNesting(t *testing.T) {
	tr := NewTracer("prog", "P")
	tr.StartSpan("flow:F", nil)
	tr.Emit(EventFlowStart, "", nil)
	tr.StartSpan("step:S", nil)
	tr.Emit(EventStepStart, "step-1", nil)
	tr.Emit(EventStepEnd, "step-1", map[string]interface{}{"success": true})
	tr.EndSpan()
	tr.Emit(EventFlowEnd, "", nil)
	trace := tr.Finalize("success")

	if len(trace.Spans) != 1 {
		t.Fatalf("top-level spans = %d", len(trace.Spans))
	}
	flow := trace.Spans[0]
	if len(flow.Children) != 1 || flow.Children[0].Name != "step:S" {
		t.Fatalf("children = %+v", flow.Children)
	}
	if len(flow.Events) != 2 {
		t.Errorf("flow events = %d", len(flow.Events))
	}
	step := flow.Children[0]
	if len(step.Events) != 2 {
		t.Errorf("step events = %d", len(step.Events))
	}
	if step.Events[0].ParentSpan != step.ID {
		t.Error("event parent span mismatch")
	}
	if trace.TotalEvents() != 4 {
		t.Errorf("total events = %d", trace.TotalEvents())
	}
	if trace.Status != "success" || trace.CompletedAt == "" {
		t.Errorf("trace = %+v", trace)
	}
}

func TestMonotonicTimestampsWithinSpan(t *testing.T) {
	tr := NewTracer("prog", "")
	tr.StartSpan("s", nil)
	for i := 0; i < 50; i++ {
		tr.Emit(EventStepStart, "x", nil)
	}
	span := tr.EndSpan()
	for i := 1; i < len(span.Events); i++ {
		if span.Events[i].Timestamp <= span.Events[i-1].Timestamp {
			t.Fatalf("timestamps not strictly monotonic at %d: %s vs %s",
				i, span.Events[i-1].Timestamp, span.Events[i].Timestamp)
		}
	}
}

func TestEmitOutsideSpanIsDropped(t *testing.T) {
	tr := NewTracer("prog", "")
	tr.Emit(EventStepStart, "x", nil)
	trace := tr.Finalize("success")
	if trace.TotalEvents() != 0 {
		t.Errorf("event outside span not dropped: %d", trace.TotalEvents())
	}
}

func TestFinalizeClosesOpenSpans(t *testing.T) {
	tr := NewTracer("prog", "")
	tr.StartSpan("outer", nil)
	tr.StartSpan("inner", nil)
	trace := tr.Finalize("failure")
	if trace.Spans[0].EndedAt == "" || trace.Spans[0].Children[0].EndedAt == "" {
		t.Error("spans left open after finalize")
	}
}

func TestTraceJSONSerialisable(t *testing.T) {
	tr := NewTracer("prog", "P")
	tr.StartSpan("flow", map[string]interface{}{"effort": "high"})
	tr.Emit(EventValidationFail, "s1", map[string]interface{}{
		"violations": []string{"confidence 0.50 below floor 0.90"},
	})
	trace := tr.Finalize("failure")

	data, err := trace.JSON()
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["trace_id"] == "" || decoded["program"] != "prog" {
		t.Errorf("decoded = %v", decoded)
	}
}

func TestStoreSaveAndList(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), "traces.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	tr := NewTracer("prog", "P")
	tr.StartSpan("flow", nil)
	tr.Emit(EventFlowStart, "", nil)
	trace := tr.Finalize("success")

	if err := store.Save(trace); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Get(trace.TraceID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Program != "prog" || loaded.Status != "success" {
		t.Errorf("loaded = %+v", loaded)
	}

	summaries, err := store.List(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].EventCount != 1 {
		t.Errorf("summaries = %+v", summaries)
	}

	// Append-only: same id again must fail.
	if err := store.Save(trace); err == nil {
		t.Error("duplicate trace id accepted")
	}
}
