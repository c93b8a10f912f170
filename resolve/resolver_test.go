package resolve

import (
	"context"
	"testing"
)

func TestConsensusResolver(t *testing.T) {
	r := &ConsensusResolver{}
	ctx := context.Background()

	t.Run("no resolutions aggregates", func(t *testing.T) {
		out, err := r.Resolve(ctx, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Verdict != VerdictAggregate {
			t.Errorf("expected aggregate, got %s", out.Verdict)
		}
		if out.Resolution != "" {
			t.Errorf("expected no resolution, got %s", out.Resolution)
		}
	})

	t.Run("single resolution aggregates and carries it", func(t *testing.T) {
		out, err := r.Resolve(ctx, []string{"principle:p2"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Verdict != VerdictAggregate {
			t.Errorf("expected aggregate, got %s", out.Verdict)
		}
		if out.Resolution != "principle:p2" {
			t.Errorf("expected principle:p2, got %s", out.Resolution)
		}
	})

	t.Run("conflicting resolutions escalate", func(t *testing.T) {
		out, err := r.Resolve(ctx, []string{"principle:p2", "principle:p3"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if out.Verdict != VerdictEscalate {
			t.Errorf("expected escalate, got %s", out.Verdict)
		}
		if out.Resolution != "" {
			t.Errorf("escalation must not pick a resolution, got %s", out.Resolution)
		}
		if out.Reason == "" {
			t.Error("expected escalation reason")
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		if _, err := r.Resolve(cancelled, nil); err == nil {
			t.Error("expected context error")
		}
	})
}

func TestRegistryLookup(t *testing.T) {
	if _, err := DefaultRegistry.Get("consensus"); err != nil {
		t.Fatalf("consensus resolver not registered: %v", err)
	}
	if _, err := DefaultRegistry.Get("nope"); err == nil {
		t.Error("expected error for unknown resolver")
	}
}
