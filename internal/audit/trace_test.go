package audit

import "testing"

func TestTraceIDDeterminism(t *testing.T) {
	first := NewDecisionTrace("channel-a", "user1", "hello world")
	second := NewDecisionTrace("channel-a", "user1", "hello world")
	if first.TraceID != second.TraceID {
		t.Fatalf("expected deterministic trace id, got %q and %q", first.TraceID, second.TraceID)
	}

	different := NewDecisionTrace("channel-a", "user1", "hello mars")
	if first.TraceID == different.TraceID {
		t.Fatal("expected different trace id when snippet changes")
	}
}

func TestMarkIncrements(t *testing.T) {
	trace := NewDecisionTrace("channel-b", "user2", "hi there")

	if count := trace.Mark(StageViolation); count != 1 {
		t.Fatalf("expected violation to be 1, got %d", count)
	}
	if count := trace.Mark(StageSkipped("toxicity")); count != 1 {
		t.Fatalf("expected skipped_toxicity to be 1, got %d", count)
	}
	if count := trace.Mark(StageSkipped("toxicity")); count != 2 {
		t.Fatalf("expected skipped_toxicity to be 2, got %d", count)
	}
	if count := trace.Mark(StageEscalated); count != 1 {
		t.Fatalf("expected escalated to be 1, got %d", count)
	}
}
