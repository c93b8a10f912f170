package staleness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenetgraph/tenet/entity"
)

type fakePrinciples map[string]*entity.Principle

func (f fakePrinciples) GetPrinciple(_ context.Context, id string) (*entity.Principle, error) {
	p, ok := f[id]
	if !ok {
		return nil, entity.ErrNotFound
	}
	return p, nil
}

func editEvent(fields ...string) entity.ChangeEvent {
	return entity.ChangeEvent{
		EntityID:      "principle:p1",
		Kind:          entity.KindPrinciple,
		Change:        entity.ChangeEdited,
		OldVersion:    1,
		NewVersion:    2,
		ChangedFields: fields,
	}
}

func TestAssessEdit(t *testing.T) {
	d := NewDetector(nil, fakePrinciples{}, nil)
	ctx := context.Background()

	t.Run("sensitive field stales dependents", func(t *testing.T) {
		f, err := d.Assess(ctx, editEvent("statement"))
		require.NoError(t, err)
		assert.Equal(t, entity.ClassCandidateStale, f.Class)
		assert.Equal(t, "principle:p1", f.Cause.SourceID)
	})

	t.Run("insensitive field leaves dependents alone", func(t *testing.T) {
		f, err := d.Assess(ctx, editEvent("deprecation_reason"))
		require.NoError(t, err)
		assert.Equal(t, entity.ClassUnaffected, f.Class)
	})

	t.Run("mixed fields take the staler verdict", func(t *testing.T) {
		f, err := d.Assess(ctx, editEvent("deprecation_reason", "categories"))
		require.NoError(t, err)
		assert.Equal(t, entity.ClassCandidateStale, f.Class)
	})

	t.Run("unlisted field is conservatively stale", func(t *testing.T) {
		f, err := d.Assess(ctx, editEvent("some_future_field"))
		require.NoError(t, err)
		assert.Equal(t, entity.ClassCandidateStale, f.Class)
	})

	t.Run("missing field list is conservatively stale", func(t *testing.T) {
		f, err := d.Assess(ctx, editEvent())
		require.NoError(t, err)
		assert.Equal(t, entity.ClassCandidateStale, f.Class)
	})
}

func TestAssessTransition(t *testing.T) {
	principles := fakePrinciples{
		"principle:p1": {
			ID:           "principle:p1",
			Status:       entity.PrincipleSuperseded,
			SupersededBy: []string{"principle:p2"},
		},
	}
	d := NewDetector(nil, principles, nil)
	ctx := context.Background()

	t.Run("deprecation invalidates with no resolution", func(t *testing.T) {
		f, err := d.Assess(ctx, entity.ChangeEvent{
			EntityID:  "principle:p1",
			Kind:      entity.KindPrinciple,
			Change:    entity.ChangeTransition,
			OldStatus: "active",
			NewStatus: "deprecated",
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassInvalidated, f.Class)
		assert.Equal(t, "deprecated", f.Cause.Status)
		assert.Empty(t, f.Cause.Resolution)
	})

	t.Run("supersession invalidates with replacement as resolution", func(t *testing.T) {
		f, err := d.Assess(ctx, entity.ChangeEvent{
			EntityID:  "principle:p1",
			Kind:      entity.KindPrinciple,
			Change:    entity.ChangeTransition,
			OldStatus: "active",
			NewStatus: "superseded",
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassInvalidated, f.Class)
		assert.Equal(t, "principle:p2", f.Cause.Resolution)
	})

	t.Run("split leaves the choice to the reviewer", func(t *testing.T) {
		principles["principle:p5"] = &entity.Principle{
			ID:           "principle:p5",
			Status:       entity.PrincipleSuperseded,
			SupersededBy: []string{"principle:p6", "principle:p7"},
		}
		f, err := d.Assess(ctx, entity.ChangeEvent{
			EntityID:  "principle:p5",
			Kind:      entity.KindPrinciple,
			Change:    entity.ChangeTransition,
			OldStatus: "active",
			NewStatus: "superseded",
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassInvalidated, f.Class)
		assert.Empty(t, f.Cause.Resolution)
	})

	t.Run("activation stales dependents by default", func(t *testing.T) {
		f, err := d.Assess(ctx, entity.ChangeEvent{
			EntityID:  "principle:p1",
			Kind:      entity.KindPrinciple,
			Change:    entity.ChangeTransition,
			OldStatus: "extracted",
			NewStatus: "active",
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassCandidateStale, f.Class)
	})

	t.Run("status listed insensitive narrows forward transitions", func(t *testing.T) {
		narrowed := NewDetector(NewRuleSet(&Rules{
			Kinds: map[entity.Kind]KindRules{
				entity.KindPrinciple: {Insensitive: []string{"status"}},
			},
		}), principles, nil)
		f, err := narrowed.Assess(ctx, entity.ChangeEvent{
			EntityID:  "principle:p1",
			Kind:      entity.KindPrinciple,
			Change:    entity.ChangeTransition,
			OldStatus: "extracted",
			NewStatus: "active",
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassUnaffected, f.Class)

		// Terminal transitions invalidate no matter what the rules say.
		f, err = narrowed.Assess(ctx, entity.ChangeEvent{
			EntityID:  "principle:p1",
			Kind:      entity.KindPrinciple,
			Change:    entity.ChangeTransition,
			OldStatus: "active",
			NewStatus: "deprecated",
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassInvalidated, f.Class)
	})

	t.Run("creation has no dependents", func(t *testing.T) {
		f, err := d.Assess(ctx, entity.ChangeEvent{
			EntityID: "principle:p9",
			Kind:     entity.KindPrinciple,
			Change:   entity.ChangeCreated,
		})
		require.NoError(t, err)
		assert.Equal(t, entity.ClassUnaffected, f.Class)
	})
}

func TestRulesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
kinds:
  principle:
    sensitive: ["statement"]
    insensitive: ["categories", "meta/**"]
`), 0o644))

	rules, err := LoadRules(path)
	require.NoError(t, err)

	assert.Equal(t, Sensitive, rules.FieldSensitivity(entity.KindPrinciple, "statement"))
	assert.Equal(t, Insensitive, rules.FieldSensitivity(entity.KindPrinciple, "categories"))
	assert.Equal(t, Insensitive, rules.FieldSensitivity(entity.KindPrinciple, "meta/origin"))
	assert.Equal(t, Unlisted, rules.FieldSensitivity(entity.KindPrinciple, "other"))
	assert.Equal(t, Unlisted, rules.FieldSensitivity(entity.KindFeature, "statement"))
}

func TestRulesValidateRejectsBadGlob(t *testing.T) {
	r := &Rules{
		Kinds: map[entity.Kind]KindRules{
			entity.KindPrinciple: {Sensitive: []string{"[unclosed"}},
		},
	}
	assert.Error(t, r.Validate())
}
