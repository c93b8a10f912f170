package propagate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/gate"
	"github.com/tenetgraph/tenet/staleness"
	"github.com/tenetgraph/tenet/store"
)

type fixture struct {
	store  *store.Store
	queue  *gate.MemoryQueue
	engine *Engine
	events []entity.ChangeEvent
}

func newFixture(t *testing.T, maxHops int) *fixture {
	t.Helper()
	kv, err := store.OpenBadger(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })

	fx := &fixture{queue: gate.NewMemoryQueue()}
	fx.store, err = store.New(context.Background(), kv,
		store.WithEmitter(entity.EmitterFunc(func(ev entity.ChangeEvent) error {
			fx.events = append(fx.events, ev)
			return nil
		})))
	require.NoError(t, err)

	fx.engine, err = NewEngine(Config{
		Store:    fx.store,
		Detector: staleness.NewDetector(nil, fx.store, nil),
		Queue:    fx.queue,
		MaxHops:  maxHops,
	})
	require.NoError(t, err)
	return fx
}

// lastEvent pops the most recent store emission for replay through the
// engine, the way a change worker would consume it.
func (fx *fixture) lastEvent(t *testing.T) entity.ChangeEvent {
	t.Helper()
	require.NotEmpty(t, fx.events)
	return fx.events[len(fx.events)-1]
}

func (fx *fixture) principle(t *testing.T, statement string) *entity.Principle {
	t.Helper()
	p, err := fx.store.CreatePrinciple(context.Background(), &entity.Principle{
		Statement: statement,
		Status:    entity.PrincipleExtracted,
	})
	require.NoError(t, err)
	return p
}

func (fx *fixture) feature(t *testing.T, name, project string, principles ...string) *entity.Feature {
	t.Helper()
	f, err := fx.store.CreateFeature(context.Background(), &entity.Feature{
		Name:       name,
		Project:    project,
		Principles: principles,
	})
	require.NoError(t, err)
	return f
}

// Editing a principle's statement leaves dependent features
// candidate-stale without touching their versions.
func TestEditFlagsDependents(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p := fx.principle(t, "prefer idempotent handlers")
	f1 := fx.feature(t, "retry middleware", "gateway", p.ID)
	f2 := fx.feature(t, "dedupe cache", "gateway", p.ID)

	edit := *p
	edit.Statement = "handlers must be idempotent"
	_, err := fx.store.PutPrinciple(ctx, &edit, 1)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.FlagsSet)
	assert.Equal(t, 1, res.Hops)
	assert.False(t, res.Truncated)

	for _, fid := range []string{f1.ID, f2.ID} {
		flag, err := fx.store.GetFlag(ctx, fid)
		require.NoError(t, err)
		assert.Equal(t, entity.ClassCandidateStale, flag.Class)
		assert.False(t, flag.Escalated)

		// Flagging is metadata only.
		got, err := fx.store.GetFeature(ctx, fid)
		require.NoError(t, err)
		assert.Equal(t, 1, got.Version)
	}

	// Candidate-stale never reaches the gate.
	items, err := fx.queue.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// Rerunning the same event must not grow flags or rewrite state.
func TestRunIsIdempotent(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p := fx.principle(t, "x")
	fx.feature(t, "f", "gateway", p.ID)

	edit := *p
	edit.Statement = "y"
	_, err := fx.store.PutPrinciple(ctx, &edit, 1)
	require.NoError(t, err)
	ev := fx.lastEvent(t)

	res1, err := fx.engine.Run(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, 1, res1.FlagsSet)

	res2, err := fx.engine.Run(ctx, ev)
	require.NoError(t, err)
	assert.Zero(t, res2.FlagsSet)
}

// An insensitive edit produces no flags at all.
func TestInsensitiveEditIsUnaffected(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p := fx.principle(t, "x")
	f := fx.feature(t, "f", "gateway", p.ID)

	// Provenance bookkeeping carries no meaning for dependents.
	edit := *p
	edit.SplitFrom = "principle:some-earlier-source"
	_, err := fx.store.PutPrinciple(ctx, &edit, 1)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.Zero(t, res.FlagsSet)

	_, err = fx.store.GetFlag(ctx, f.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

// Activating a principle is still a status change; the conservative
// default stales its dependents.
func TestActivationStalesDependentsByDefault(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p := fx.principle(t, "x")
	f := fx.feature(t, "f", "gateway", p.ID)

	act := *p
	act.Status = entity.PrincipleActive
	_, err := fx.store.PutPrinciple(ctx, &act, 1)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FlagsSet)

	flag, err := fx.store.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClassCandidateStale, flag.Class)
}

// Deprecating a cited principle leaves the dependent feature at
// candidate-stale with the deprecated source as cause, parks it on the
// gate as invalidated, and never touches the feature record itself.
func TestDeprecateLeavesDependentCandidateStale(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p := fx.principle(t, "bound all retries")
	f := fx.feature(t, "retry middleware", "gateway", p.ID)

	dep := *p
	dep.Status = entity.PrincipleDeprecated
	dep.DeprecationReason = "obsolete"
	_, err := fx.store.PutPrinciple(ctx, &dep, 1)
	require.NoError(t, err)

	_, err = fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)

	flag, err := fx.store.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClassCandidateStale, flag.Class)
	require.Len(t, flag.Causes, 1)
	assert.Equal(t, p.ID, flag.Causes[0].SourceID)

	got, err := fx.store.GetFeature(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	item, err := fx.queue.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, gate.ItemInvalidated, item.Kind)
}

// Supersession parks dependents on the gate as invalidated, with the
// replacement as the suggested remediation. The persisted flag settles
// at candidate-stale: nothing auto-transitions the dependent.
func TestSupersedeInvalidatesDependents(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p1 := fx.principle(t, "old wording")
	p2 := fx.principle(t, "new wording")
	f := fx.feature(t, "f", "gateway", p1.ID)

	sup := *p1
	sup.Status = entity.PrincipleSuperseded
	sup.SupersededBy = []string{p2.ID}
	_, err := fx.store.PutPrinciple(ctx, &sup, 1)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.FlagsSet)
	assert.Equal(t, 1, res.Escalated)

	flag, err := fx.store.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClassCandidateStale, flag.Class)
	require.Len(t, flag.Causes, 1)
	assert.Equal(t, p2.ID, flag.Causes[0].Resolution)
	assert.False(t, flag.Escalated)

	item, err := fx.queue.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, gate.ItemInvalidated, item.Kind)
}

// Two sources prescribing different replacements escalate the shared
// dependent as a conflict.
func TestConflictingResolutionsEscalate(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p1 := fx.principle(t, "a")
	p2 := fx.principle(t, "b")
	r1 := fx.principle(t, "a v2")
	r2 := fx.principle(t, "b v2")
	f := fx.feature(t, "f", "gateway", p1.ID, p2.ID)

	for _, pair := range []struct {
		old  *entity.Principle
		repl *entity.Principle
	}{{p1, r1}, {p2, r2}} {
		sup := *pair.old
		sup.Status = entity.PrincipleSuperseded
		sup.SupersededBy = []string{pair.repl.ID}
		_, err := fx.store.PutPrinciple(ctx, &sup, 1)
		require.NoError(t, err)
		_, err = fx.engine.Run(ctx, fx.lastEvent(t))
		require.NoError(t, err)
	}

	flag, err := fx.store.GetFlag(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.ClassCandidateStale, flag.Class)
	assert.True(t, flag.Escalated)
	assert.Len(t, flag.Causes, 2)

	item, err := fx.queue.Get(ctx, f.ID)
	require.NoError(t, err)
	assert.Equal(t, gate.ItemConflict, item.Kind)
	assert.NotEmpty(t, item.Reason)
	assert.Len(t, item.Causes, 2)
}

// A flagged dependent does not relay the cascade. Its own status never
// moves during propagation, so deep chains unwind event by event: each
// explicit transition cascades exactly one hop.
func TestCascadeStopsAtFlaggedDependents(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	// p1 <- p2 <- p3 via merge provenance.
	p1 := fx.principle(t, "p1")
	chain := []*entity.Principle{p1}
	for i := 2; i <= 3; i++ {
		p, err := fx.store.CreatePrinciple(ctx, &entity.Principle{
			Statement:  "p",
			Status:     entity.PrincipleExtracted,
			MergedFrom: []string{chain[len(chain)-1].ID},
		})
		require.NoError(t, err)
		chain = append(chain, p)
	}

	dep := *p1
	dep.Status = entity.PrincipleDeprecated
	_, err := fx.store.PutPrinciple(ctx, &dep, 1)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Hops)
	assert.False(t, res.Truncated)
	assert.Equal(t, []string{chain[1].ID}, res.Visited)

	// Only the direct dependent is flagged.
	_, err = fx.store.GetFlag(ctx, chain[1].ID)
	require.NoError(t, err)
	_, err = fx.store.GetFlag(ctx, chain[2].ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	// A reviewer deprecating p2 commits its own event, which carries
	// the cascade one hop further.
	dep2 := *chain[1]
	dep2.Status = entity.PrincipleDeprecated
	_, err = fx.store.PutPrinciple(ctx, &dep2, 1)
	require.NoError(t, err)

	_, err = fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	_, err = fx.store.GetFlag(ctx, chain[2].ID)
	require.NoError(t, err)
}

// A provenance cycle terminates: the changed entity is pre-seeded into
// the visited set, so its own dependents never walk back into it.
func TestCycleTerminates(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p1 := fx.principle(t, "p1")
	p2, err := fx.store.CreatePrinciple(ctx, &entity.Principle{
		Statement:  "p2",
		Status:     entity.PrincipleExtracted,
		MergedFrom: []string{p1.ID},
	})
	require.NoError(t, err)

	// Close the loop.
	back := *p1
	back.MergedFrom = []string{p2.ID}
	_, err = fx.store.PutPrinciple(ctx, &back, 1)
	require.NoError(t, err)

	got, err := fx.store.GetPrinciple(ctx, p1.ID)
	require.NoError(t, err)
	dep := *got
	dep.Status = entity.PrincipleDeprecated
	_, err = fx.store.PutPrinciple(ctx, &dep, got.Version)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.False(t, res.Truncated)
	assert.Equal(t, []string{p2.ID}, res.Visited)
}

// Terminal dependents absorb the cascade instead of relaying it.
func TestTerminalDependentsAbsorb(t *testing.T) {
	fx := newFixture(t, 0)
	ctx := context.Background()

	p := fx.principle(t, "x")
	f := fx.feature(t, "f", "gateway", p.ID)

	retire := *f
	retire.Status = entity.FeatureRetired
	_, err := fx.store.PutFeature(ctx, &retire, 1)
	require.NoError(t, err)

	edit := *p
	edit.Statement = "y"
	_, err = fx.store.PutPrinciple(ctx, &edit, 1)
	require.NoError(t, err)

	res, err := fx.engine.Run(ctx, fx.lastEvent(t))
	require.NoError(t, err)
	assert.Zero(t, res.FlagsSet)

	_, err = fx.store.GetFlag(ctx, f.ID)
	assert.ErrorIs(t, err, entity.ErrNotFound)
}
