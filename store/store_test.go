package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenetgraph/tenet/entity"
)

func newTestStore(t *testing.T) (*Store, *[]entity.ChangeEvent) {
	t.Helper()
	kv, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	events := &[]entity.ChangeEvent{}
	s, err := New(context.Background(), kv, WithEmitter(entity.EmitterFunc(func(ev entity.ChangeEvent) error {
		*events = append(*events, ev)
		return nil
	})))
	require.NoError(t, err)
	return s, events
}

func newPrinciple(statement string) *entity.Principle {
	return &entity.Principle{
		Statement:  statement,
		Categories: []string{"reliability"},
	}
}

func TestCreatePrinciple(t *testing.T) {
	s, events := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("All retries must be bounded"))
	require.NoError(t, err)
	assert.Equal(t, entity.PrincipleProposed, p.Status)
	assert.Equal(t, 1, p.Version)
	assert.True(t, strings.HasPrefix(p.ID, "principle:"))

	got, err := s.GetPrinciple(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Statement, got.Statement)

	require.Len(t, *events, 1)
	assert.Equal(t, entity.ChangeCreated, (*events)[0].Change)
	assert.Equal(t, p.ID, (*events)[0].EntityID)
}

func TestCreatePrincipleRejectsLateStatus(t *testing.T) {
	s, _ := newTestStore(t)

	p := newPrinciple("x")
	p.Status = entity.PrincipleActive
	_, err := s.CreatePrinciple(context.Background(), p)

	var ite *entity.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
}

func TestPutPrincipleVersionConflict(t *testing.T) {
	s, events := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("original"))
	require.NoError(t, err)

	edit := *p
	edit.Statement = "first edit"
	_, err = s.PutPrinciple(ctx, &edit, 1)
	require.NoError(t, err)

	// Second writer still holds version 1.
	stale := *p
	stale.Statement = "competing edit"
	_, err = s.PutPrinciple(ctx, &stale, 1)

	var conflict *entity.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 1, conflict.Expected)
	assert.Equal(t, 2, conflict.Actual)

	// The losing write must not have produced a version or an event.
	got, err := s.GetPrinciple(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "first edit", got.Statement)
	assert.Len(t, *events, 2)
}

func TestPutPrincipleIllegalTransition(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)

	// proposed -> active skips extraction.
	edit := *p
	edit.Status = entity.PrincipleActive
	_, err = s.PutPrinciple(ctx, &edit, 1)

	var ite *entity.IllegalTransitionError
	require.ErrorAs(t, err, &ite)

	got, err := s.GetPrinciple(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Equal(t, entity.PrincipleProposed, got.Status)
}

func TestTerminalStatusIsFinal(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)

	dep := *p
	dep.Status = entity.PrincipleDeprecated
	dep.DeprecationReason = "overtaken by events"
	got, err := s.PutPrinciple(ctx, &dep, 1)
	require.NoError(t, err)

	revive := *got
	revive.Status = entity.PrincipleProposed
	_, err = s.PutPrinciple(ctx, &revive, got.Version)
	var ite *entity.IllegalTransitionError
	require.ErrorAs(t, err, &ite)
}

func TestNoOpPutDoesNotBumpVersion(t *testing.T) {
	s, events := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)

	same := *p
	got, err := s.PutPrinciple(ctx, &same, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)
	assert.Len(t, *events, 1)
}

func TestHistory(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("v1 statement"))
	require.NoError(t, err)

	for i, stmt := range []string{"v2 statement", "v3 statement"} {
		edit, err := s.GetPrinciple(ctx, p.ID)
		require.NoError(t, err)
		edit.Statement = stmt
		_, err = s.PutPrinciple(ctx, edit, i+1)
		require.NoError(t, err)
	}

	hist, err := s.History(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, hist, 3)
	for i, rec := range hist {
		assert.Equal(t, i+1, rec.RecordVersion())
	}
	assert.Equal(t, "v1 statement", hist[0].(*entity.Principle).Statement)
	assert.Equal(t, "v3 statement", hist[2].(*entity.Principle).Statement)

	old, err := s.GetPrincipleVersion(ctx, p.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, "v2 statement", old.Statement)
}

func TestCreateFeatureDanglingReference(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	missing := entity.NewID(entity.KindPrinciple).String()
	f := &entity.Feature{
		Name:       "request hedging",
		Project:    "gateway",
		Principles: []string{missing},
	}
	_, err := s.CreateFeature(ctx, f)

	var dre *entity.DanglingReferenceError
	require.ErrorAs(t, err, &dre)
	assert.Equal(t, missing, dre.PrincipleID)

	// Nothing was written.
	feats, err := s.ListFeatures(ctx)
	require.NoError(t, err)
	assert.Empty(t, feats)
}

func TestCreateFeatureRejectsDeprecatedPrinciple(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)
	dep := *p
	dep.Status = entity.PrincipleDeprecated
	_, err = s.PutPrinciple(ctx, &dep, 1)
	require.NoError(t, err)

	f := &entity.Feature{
		Name:       "f",
		Project:    "gateway",
		Principles: []string{p.ID},
	}
	_, err = s.CreateFeature(ctx, f)
	var dre *entity.DanglingReferenceError
	require.ErrorAs(t, err, &dre)
}

// Retiring a feature must succeed even though the principle it cites
// went terminal; the citation becomes historical record. Any other
// write still re-validates the references.
func TestRetireKeepsHistoricalCitations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)
	f, err := s.CreateFeature(ctx, &entity.Feature{
		Name:       "f",
		Project:    "gateway",
		Principles: []string{p.ID},
	})
	require.NoError(t, err)

	dep := *p
	dep.Status = entity.PrincipleDeprecated
	_, err = s.PutPrinciple(ctx, &dep, 1)
	require.NoError(t, err)

	// A live edit still trips on the deprecated citation.
	rename := *f
	rename.Name = "f renamed"
	_, err = s.PutFeature(ctx, &rename, 1)
	var dre *entity.DanglingReferenceError
	require.ErrorAs(t, err, &dre)

	retire := *f
	retire.Status = entity.FeatureRetired
	got, err := s.PutFeature(ctx, &retire, 1)
	require.NoError(t, err)
	assert.Equal(t, entity.FeatureRetired, got.Status)
	assert.Equal(t, []string{p.ID}, got.Principles)
}

func TestSupersedeRequiresLiveTarget(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	old, err := s.CreatePrinciple(ctx, &entity.Principle{
		Statement: "old wording",
		Status:    entity.PrincipleExtracted,
	})
	require.NoError(t, err)

	t.Run("missing replacement", func(t *testing.T) {
		edit := *old
		edit.Status = entity.PrincipleSuperseded
		edit.SupersededBy = []string{entity.NewID(entity.KindPrinciple).String()}
		_, err := s.PutPrinciple(ctx, &edit, 1)
		var dre *entity.DanglingReferenceError
		require.ErrorAs(t, err, &dre)
	})

	t.Run("live replacement accepted", func(t *testing.T) {
		repl, err := s.CreatePrinciple(ctx, &entity.Principle{
			Statement: "new wording",
			Status:    entity.PrincipleExtracted,
		})
		require.NoError(t, err)

		edit := *old
		edit.Status = entity.PrincipleSuperseded
		edit.SupersededBy = []string{repl.ID}
		got, err := s.PutPrinciple(ctx, &edit, 1)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)
	})
}

func TestChangedFieldsInEvent(t *testing.T) {
	s, events := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)

	edit := *p
	edit.Statement = "y"
	edit.Categories = []string{"security"}
	_, err = s.PutPrinciple(ctx, &edit, 1)
	require.NoError(t, err)

	ev := (*events)[len(*events)-1]
	assert.Equal(t, entity.ChangeEdited, ev.Change)
	assert.ElementsMatch(t, []string{"statement", "categories"}, ev.ChangedFields)
	assert.False(t, ev.StatusChanged())
}

func TestFlagsDoNotBumpEntityVersion(t *testing.T) {
	s, events := newTestStore(t)
	ctx := context.Background()

	p, err := s.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)

	flag := &entity.StaleFlag{
		EntityID: p.ID,
		Class:    entity.ClassCandidateStale,
		Causes: []entity.Cause{{
			SourceID: "principle:abc",
			Change:   "edited",
		}},
		ObservedVersion: p.Version,
	}
	require.NoError(t, s.SetFlag(ctx, flag))

	got, err := s.GetFlag(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClassCandidateStale, got.Class)

	rec, err := s.GetPrinciple(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Version)
	assert.Len(t, *events, 1)

	require.NoError(t, s.ClearFlag(ctx, p.ID))
	_, err = s.GetFlag(ctx, p.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// Clearing again is a no-op.
	require.NoError(t, s.ClearFlag(ctx, p.ID))
}

func TestIndexRebuildOnOpen(t *testing.T) {
	kv, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	defer kv.Close()
	ctx := context.Background()

	s1, err := New(ctx, kv)
	require.NoError(t, err)

	p, err := s1.CreatePrinciple(ctx, newPrinciple("x"))
	require.NoError(t, err)
	f, err := s1.CreateFeature(ctx, &entity.Feature{
		Name:       "f",
		Project:    "gateway",
		Principles: []string{p.ID},
	})
	require.NoError(t, err)

	// A fresh store over the same KV sees the same edges.
	s2, err := New(ctx, kv)
	require.NoError(t, err)
	refs := s2.Index().Referencers(p.ID)
	assert.Equal(t, []string{f.ID}, refs)
}
