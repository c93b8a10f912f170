// Package engine is the façade over the knowledge-base pipeline: it
// owns the store, the propagation engine, and the gate queue, and
// exposes the author-facing operations the API surfaces call.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/gate"
	"github.com/tenetgraph/tenet/index"
	"github.com/tenetgraph/tenet/propagate"
	"github.com/tenetgraph/tenet/store"
)

// Engine ties the store, propagation, and gate together.
type Engine struct {
	store  *store.Store
	prop   *propagate.Engine
	queue  gate.Queue
	logger *slog.Logger
}

// New creates an Engine. The store must already be wired to emit its
// change events wherever propagation consumes them (the in-process
// Dispatcher or a JetStream publisher).
func New(s *store.Store, prop *propagate.Engine, queue gate.Queue, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: s, prop: prop, queue: queue, logger: logger}
}

// Store exposes the underlying entity store.
func (e *Engine) Store() *store.Store { return e.store }

// Propagator exposes the propagation engine for change workers.
func (e *Engine) Propagator() *propagate.Engine { return e.prop }

// Gate exposes the gate queue.
func (e *Engine) Gate() gate.Queue { return e.queue }

// CreatePrinciple stores a new principle.
func (e *Engine) CreatePrinciple(ctx context.Context, p *entity.Principle) (*entity.Principle, error) {
	return e.store.CreatePrinciple(ctx, p)
}

// CreateFeature stores a new feature.
func (e *Engine) CreateFeature(ctx context.Context, f *entity.Feature) (*entity.Feature, error) {
	return e.store.CreateFeature(ctx, f)
}

// EditPrinciple applies a content edit under optimistic concurrency.
func (e *Engine) EditPrinciple(ctx context.Context, p *entity.Principle, expectedVersion int) (*entity.Principle, error) {
	return e.store.PutPrinciple(ctx, p, expectedVersion)
}

// EditFeature applies a content edit under optimistic concurrency.
func (e *Engine) EditFeature(ctx context.Context, f *entity.Feature, expectedVersion int) (*entity.Feature, error) {
	return e.store.PutFeature(ctx, f, expectedVersion)
}

// Transition moves an entity to a new status. The status string is
// checked against the entity's lattice by the store.
func (e *Engine) Transition(ctx context.Context, id, status string, expectedVersion int) (entity.Record, error) {
	parsed, err := entity.ParseID(id)
	if err != nil {
		return nil, err
	}
	switch parsed.Kind {
	case entity.KindFeature:
		f, err := e.store.GetFeature(ctx, id)
		if err != nil {
			return nil, err
		}
		f.Status = entity.FeatureStatus(status)
		return e.store.PutFeature(ctx, f, expectedVersion)
	default:
		p, err := e.store.GetPrinciple(ctx, id)
		if err != nil {
			return nil, err
		}
		p.Status = entity.PrincipleStatus(status)
		return e.store.PutPrinciple(ctx, p, expectedVersion)
	}
}

// Deprecate closes a principle with an optional reason. No replacement
// exists; dependents will be invalidated by propagation.
func (e *Engine) Deprecate(ctx context.Context, id, reason string, expectedVersion int) (*entity.Principle, error) {
	p, err := e.store.GetPrinciple(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Status = entity.PrincipleDeprecated
	p.DeprecationReason = reason
	return e.store.PutPrinciple(ctx, p, expectedVersion)
}

// Supersede replaces a principle with a new one in a single author
// action: the replacement is created first, then the old principle is
// closed with a forward reference to it. If closing fails, the
// replacement remains as a proposed orphan for the author to reuse or
// deprecate; nothing dangles.
func (e *Engine) Supersede(ctx context.Context, oldID string, replacement *entity.Principle, expectedVersion int) (*entity.Principle, error) {
	if replacement.Status == "" {
		replacement.Status = entity.PrincipleExtracted
	}
	repl, err := e.store.CreatePrinciple(ctx, replacement)
	if err != nil {
		return nil, fmt.Errorf("create replacement: %w", err)
	}

	old, err := e.store.GetPrinciple(ctx, oldID)
	if err != nil {
		return nil, err
	}
	old.Status = entity.PrincipleSuperseded
	old.SupersededBy = []string{repl.ID}
	if _, err := e.store.PutPrinciple(ctx, old, expectedVersion); err != nil {
		return nil, fmt.Errorf("close %s: %w", oldID, err)
	}
	return repl, nil
}

// MergePrinciples folds several principles into one new principle. The
// merged principle records its provenance; each source is closed with a
// forward reference to it.
func (e *Engine) MergePrinciples(ctx context.Context, sourceIDs []string, merged *entity.Principle, expectedVersions map[string]int) (*entity.Principle, error) {
	if len(sourceIDs) < 2 {
		return nil, fmt.Errorf("merge requires at least two sources")
	}
	if merged.Status == "" {
		merged.Status = entity.PrincipleExtracted
	}
	merged.MergedFrom = append([]string(nil), sourceIDs...)
	out, err := e.store.CreatePrinciple(ctx, merged)
	if err != nil {
		return nil, fmt.Errorf("create merged principle: %w", err)
	}

	for _, sid := range sourceIDs {
		src, err := e.store.GetPrinciple(ctx, sid)
		if err != nil {
			return nil, err
		}
		src.Status = entity.PrincipleSuperseded
		src.SupersededBy = []string{out.ID}
		if _, err := e.store.PutPrinciple(ctx, src, expectedVersions[sid]); err != nil {
			return nil, fmt.Errorf("close source %s: %w", sid, err)
		}
	}
	return out, nil
}

// SplitPrinciple replaces one principle with several narrower ones. The
// source is closed with forward references to every part; each part
// records the source as its provenance.
func (e *Engine) SplitPrinciple(ctx context.Context, sourceID string, parts []*entity.Principle, expectedVersion int) ([]*entity.Principle, error) {
	if len(parts) < 2 {
		return nil, fmt.Errorf("split requires at least two parts")
	}
	created := make([]*entity.Principle, 0, len(parts))
	refs := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Status == "" {
			part.Status = entity.PrincipleExtracted
		}
		part.SplitFrom = sourceID
		p, err := e.store.CreatePrinciple(ctx, part)
		if err != nil {
			return nil, fmt.Errorf("create split part: %w", err)
		}
		created = append(created, p)
		refs = append(refs, p.ID)
	}

	src, err := e.store.GetPrinciple(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	src.Status = entity.PrincipleSuperseded
	src.SupersededBy = refs
	if _, err := e.store.PutPrinciple(ctx, src, expectedVersion); err != nil {
		return nil, fmt.Errorf("close source %s: %w", sourceID, err)
	}
	return created, nil
}

// DecisionAction enumerates what a gate reviewer can do with an item.
type DecisionAction string

const (
	// ActionRepoint replaces invalidated references on a feature with
	// a chosen replacement.
	ActionRepoint DecisionAction = "repoint"

	// ActionRetire closes the flagged entity.
	ActionRetire DecisionAction = "retire"

	// ActionDismiss accepts the current state and clears the flag.
	ActionDismiss DecisionAction = "dismiss"
)

// Decision is a reviewer's verdict on a gate item.
type Decision struct {
	Action DecisionAction `json:"action"`

	// Replacement overrides the cause-carried remediation on repoint.
	// Required when the causes disagree or carry none.
	Replacement string `json:"replacement,omitempty"`
}

// ResolveGate applies a reviewer decision to a gate item. The resulting
// edit goes through the store like any author write, so it emits its
// own change event and cascades normally. The flag and queue item are
// cleared on success.
func (e *Engine) ResolveGate(ctx context.Context, entityID string, decision Decision) error {
	item, err := e.queue.Get(ctx, entityID)
	if err != nil {
		return err
	}

	switch decision.Action {
	case ActionRepoint:
		if err := e.repoint(ctx, item, decision.Replacement); err != nil {
			return err
		}
	case ActionRetire:
		if err := e.retire(ctx, entityID); err != nil {
			return err
		}
	case ActionDismiss:
		// State stands; only the flag goes.
	default:
		return fmt.Errorf("unknown gate action %q", decision.Action)
	}

	if err := e.store.ClearFlag(ctx, entityID); err != nil {
		return err
	}
	if err := e.queue.Remove(ctx, entityID); err != nil {
		return err
	}
	e.logger.Info("gate item resolved", "id", entityID, "action", decision.Action)
	return nil
}

// repoint swaps invalidated principle references on a feature for their
// remediation. Each cause either carries a replacement or the reviewer
// supplied one; an unresolvable cause aborts before any write.
func (e *Engine) repoint(ctx context.Context, item *gate.Item, override string) error {
	parsed, err := entity.ParseID(item.EntityID)
	if err != nil {
		return err
	}
	if parsed.Kind != entity.KindFeature {
		return fmt.Errorf("repoint applies to features, %s is a %s", item.EntityID, parsed.Kind)
	}

	f, err := e.store.GetFeature(ctx, item.EntityID)
	if err != nil {
		return err
	}

	replacements := make(map[string]string)
	for _, cause := range item.Causes {
		repl := override
		if repl == "" {
			repl = cause.Resolution
		}
		if repl == "" {
			return fmt.Errorf("cause %s has no remediation and none was supplied", cause.SourceID)
		}
		replacements[cause.SourceID] = repl
	}

	seen := make(map[string]bool, len(f.Principles))
	repointed := f.Principles[:0]
	for _, pid := range f.Principles {
		if repl, ok := replacements[pid]; ok {
			pid = repl
		}
		if !seen[pid] {
			seen[pid] = true
			repointed = append(repointed, pid)
		}
	}
	f.Principles = repointed

	_, err = e.store.PutFeature(ctx, f, f.Version)
	return err
}

// retire closes the flagged entity on the reviewer's behalf.
func (e *Engine) retire(ctx context.Context, entityID string) error {
	parsed, err := entity.ParseID(entityID)
	if err != nil {
		return err
	}
	if parsed.Kind == entity.KindFeature {
		f, err := e.store.GetFeature(ctx, entityID)
		if err != nil {
			return err
		}
		f.Status = entity.FeatureRetired
		_, err = e.store.PutFeature(ctx, f, f.Version)
		return err
	}
	p, err := e.store.GetPrinciple(ctx, entityID)
	if err != nil {
		return err
	}
	p.Status = entity.PrincipleDeprecated
	p.DeprecationReason = "retired at gate review"
	_, err = e.store.PutPrinciple(ctx, p, p.Version)
	return err
}

// Neighbors returns the entity's edges in both directions.
func (e *Engine) Neighbors(ctx context.Context, id string) (index.Neighborhood, error) {
	if _, err := e.store.Get(ctx, id); err != nil && !entity.IsProjectID(id) {
		return index.Neighborhood{}, err
	}
	return e.store.Index().Neighbors(id), nil
}

// History returns every persisted version of an entity.
func (e *Engine) History(ctx context.Context, id string) ([]entity.Record, error) {
	return e.store.History(ctx, id)
}

// PendingGate lists the open gate items.
func (e *Engine) PendingGate(ctx context.Context) ([]gate.Item, error) {
	return e.queue.List(ctx)
}

// Flag returns the stale flag for an entity, if any.
func (e *Engine) Flag(ctx context.Context, id string) (*entity.StaleFlag, error) {
	return e.store.GetFlag(ctx, id)
}
