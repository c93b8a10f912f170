package entity

import (
	"testing"
)

func TestID(t *testing.T) {
	t.Run("NewID generates valid ID", func(t *testing.T) {
		id := NewID(KindPrinciple)
		if id.Kind != KindPrinciple {
			t.Errorf("expected kind %s, got %s", KindPrinciple, id.Kind)
		}
		if id.ID == "" {
			t.Error("expected non-empty ID")
		}
	})

	t.Run("String returns correct format", func(t *testing.T) {
		id := ID{Kind: KindFeature, ID: "abc123"}
		if got := id.String(); got != "feature:abc123" {
			t.Errorf("expected feature:abc123, got %s", got)
		}
	})

	t.Run("ParseID round-trips", func(t *testing.T) {
		orig := NewID(KindPrinciple)
		parsed, err := ParseID(orig.String())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if parsed != orig {
			t.Errorf("expected %v, got %v", orig, parsed)
		}
	})

	t.Run("ParseID rejects garbage", func(t *testing.T) {
		for _, bad := range []string{"", "principle", "principle:", "widget:abc", ":abc"} {
			if _, err := ParseID(bad); err == nil {
				t.Errorf("expected error for %q", bad)
			}
		}
	})

	t.Run("project ids", func(t *testing.T) {
		if got := ProjectID("gateway"); got != "project:gateway" {
			t.Errorf("expected project:gateway, got %s", got)
		}
		if !IsProjectID("project:gateway") {
			t.Error("expected project id to be recognized")
		}
		if IsProjectID("principle:abc") {
			t.Error("principle id misrecognized as project")
		}
	})
}

func TestPrincipleTransitions(t *testing.T) {
	allowed := []struct{ from, to PrincipleStatus }{
		{PrincipleProposed, PrincipleExtracted},
		{PrincipleProposed, PrincipleDeprecated},
		{PrincipleExtracted, PrincipleActive},
		{PrincipleExtracted, PrincipleDeprecated},
		{PrincipleExtracted, PrincipleSuperseded},
		{PrincipleActive, PrincipleDeprecated},
		{PrincipleActive, PrincipleSuperseded},
	}
	for _, tc := range allowed {
		if err := CheckPrincipleTransition(tc.from, tc.to); err != nil {
			t.Errorf("%s -> %s should be allowed: %v", tc.from, tc.to, err)
		}
	}

	rejected := []struct{ from, to PrincipleStatus }{
		{PrincipleProposed, PrincipleActive},
		{PrincipleProposed, PrincipleSuperseded},
		{PrincipleActive, PrincipleProposed},
		{PrincipleDeprecated, PrincipleActive},
		{PrincipleSuperseded, PrincipleActive},
		{PrincipleActive, PrincipleActive},
	}
	for _, tc := range rejected {
		if err := CheckPrincipleTransition(tc.from, tc.to); err == nil {
			t.Errorf("%s -> %s should be rejected", tc.from, tc.to)
		}
	}
}

func TestFeatureTransitions(t *testing.T) {
	if err := CheckFeatureTransition(FeatureDraft, FeatureActive); err != nil {
		t.Errorf("draft -> active should be allowed: %v", err)
	}
	if err := CheckFeatureTransition(FeatureActive, FeatureRetired); err != nil {
		t.Errorf("active -> retired should be allowed: %v", err)
	}
	if err := CheckFeatureTransition(FeatureRetired, FeatureActive); err == nil {
		t.Error("retired -> active should be rejected")
	}
	if err := CheckFeatureTransition(FeatureActive, FeatureDraft); err == nil {
		t.Error("active -> draft should be rejected")
	}
}

func TestPrincipleValidate(t *testing.T) {
	p := &Principle{ID: "principle:a", Statement: "s", Status: PrincipleProposed}
	if err := p.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	t.Run("superseded requires forward reference", func(t *testing.T) {
		bad := &Principle{ID: "principle:a", Statement: "s", Status: PrincipleSuperseded}
		if err := bad.Validate(); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("forward reference only while superseded", func(t *testing.T) {
		bad := &Principle{
			ID: "principle:a", Statement: "s", Status: PrincipleActive,
			SupersededBy: []string{"principle:b"},
		}
		if err := bad.Validate(); err == nil {
			t.Error("expected error")
		}
	})
}

func TestFeatureValidateRejectsDuplicateRefs(t *testing.T) {
	f := &Feature{
		ID: "feature:a", Name: "n", Project: "p", Status: FeatureDraft,
		Principles: []string{"principle:x", "principle:x"},
	}
	if err := f.Validate(); err == nil {
		t.Error("expected duplicate reference to be rejected")
	}
}

func TestNormalizeCategories(t *testing.T) {
	p := &Principle{Categories: []string{"b", "a", "b", "a"}}
	p.NormalizeCategories()
	if len(p.Categories) != 2 || p.Categories[0] != "a" || p.Categories[1] != "b" {
		t.Errorf("expected [a b], got %v", p.Categories)
	}
}

func TestMergeCauses(t *testing.T) {
	f := &StaleFlag{EntityID: "feature:f"}
	c1 := Cause{SourceID: "principle:a", Change: ChangeEdited}
	c2 := Cause{SourceID: "principle:b", Change: ChangeTransition, Status: "superseded", Resolution: "principle:c"}

	if !f.MergeCauses(c1, c2) {
		t.Error("expected cause set to grow")
	}
	if f.MergeCauses(c2, c1) {
		t.Error("expected rerun to be a no-op")
	}
	if len(f.Causes) != 2 {
		t.Fatalf("expected 2 causes, got %d", len(f.Causes))
	}

	// Canonical order survives insertion order.
	g := &StaleFlag{EntityID: "feature:f"}
	g.MergeCauses(c2)
	g.MergeCauses(c1)
	for i := range f.Causes {
		if f.Causes[i] != g.Causes[i] {
			t.Errorf("cause order diverges at %d: %v vs %v", i, f.Causes[i], g.Causes[i])
		}
	}
}

func TestResolutions(t *testing.T) {
	f := &StaleFlag{Causes: []Cause{
		{SourceID: "principle:a", Resolution: "principle:x"},
		{SourceID: "principle:b", Resolution: "principle:x"},
		{SourceID: "principle:c"},
		{SourceID: "principle:d", Resolution: "principle:y"},
	}}
	got := f.Resolutions()
	if len(got) != 2 || got[0] != "principle:x" || got[1] != "principle:y" {
		t.Errorf("expected [principle:x principle:y], got %v", got)
	}
}

func TestPartitionIsStable(t *testing.T) {
	ev := ChangeEvent{EntityID: "feature:f", Project: "gateway"}
	first := ev.Partition(8)
	for range 10 {
		if ev.Partition(8) != first {
			t.Fatal("partition not stable")
		}
	}

	// Same project lands on the same partition regardless of entity.
	other := ChangeEvent{EntityID: "feature:g", Project: "gateway"}
	if other.Partition(8) != first {
		t.Error("expected project-keyed partitioning")
	}
}
