// Package propagate walks the reference graph after a committed change
// and flags affected dependents. The engine only ever writes flag
// metadata and gate items; entity content and status are never mutated
// by propagation.
package propagate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/gate"
	"github.com/tenetgraph/tenet/resolve"
	"github.com/tenetgraph/tenet/staleness"
	"github.com/tenetgraph/tenet/store"
)

// DefaultMaxHops bounds cascade depth. Legitimate dependency chains in
// a principle graph are shallow; anything deeper is either a cycle or a
// modeling problem.
const DefaultMaxHops = 5

// Result summarizes one propagation run.
type Result struct {
	// FlagsSet counts flag writes that changed persisted state. A
	// rerun of the same event writes nothing and reports zero.
	FlagsSet int `json:"flags_set"`

	// Escalated counts entities pushed to the gate queue.
	Escalated int `json:"escalated"`

	// Hops is the deepest level the walk reached.
	Hops int `json:"hops"`

	// Truncated is set when the hop bound cut the walk short. Flags
	// written before the cut remain persisted.
	Truncated bool `json:"truncated"`

	// Visited lists every entity the walk touched, sorted by
	// traversal order.
	Visited []string `json:"visited,omitempty"`
}

// Engine runs breadth-first propagation over the reference index.
type Engine struct {
	store    *store.Store
	detector *staleness.Detector
	resolver resolve.Resolver
	queue    gate.Queue
	maxHops  int
	logger   *slog.Logger
}

// Config assembles an Engine.
type Config struct {
	Store    *store.Store
	Detector *staleness.Detector
	Resolver resolve.Resolver
	Queue    gate.Queue

	// MaxHops overrides DefaultMaxHops when positive.
	MaxHops int

	Logger *slog.Logger
}

// NewEngine creates a propagation engine.
func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("propagate: store is required")
	}
	if cfg.Detector == nil {
		return nil, fmt.Errorf("propagate: detector is required")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("propagate: gate queue is required")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		var err error
		resolver, err = resolve.DefaultRegistry.Get("consensus")
		if err != nil {
			return nil, err
		}
	}
	maxHops := cfg.MaxHops
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    cfg.Store,
		detector: cfg.Detector,
		resolver: resolver,
		queue:    cfg.Queue,
		maxHops:  maxHops,
		logger:   logger,
	}, nil
}

// frontierNode is one pending visit in the walk.
type frontierNode struct {
	id    string
	class entity.StaleClass
	cause entity.Cause
}

// Run propagates one change event. The walk is breadth-first from the
// changed entity's referencers, each entity is visited at most once,
// and flag writes are canonical so reruns are idempotent. When the hop
// bound is hit with work remaining, the partial result stays persisted
// and a CycleBoundExceededError is returned alongside it.
func (e *Engine) Run(ctx context.Context, ev entity.ChangeEvent) (*Result, error) {
	start := time.Now()
	res := &Result{}

	finding, err := e.detector.Assess(ctx, ev)
	if err != nil {
		cascadeTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if finding.Class == entity.ClassUnaffected {
		cascadeTotal.WithLabelValues("unaffected").Inc()
		return res, nil
	}

	visited := map[string]bool{ev.EntityID: true}
	frontier := e.expand(ev.EntityID, finding.Class, finding.Cause, visited)

	for len(frontier) > 0 {
		if res.Hops == e.maxHops {
			res.Truncated = true
			cascadeTotal.WithLabelValues("truncated").Inc()
			cascadeHops.Observe(float64(res.Hops))
			cascadeDuration.Observe(time.Since(start).Seconds())
			e.logger.Warn("propagation truncated at hop bound",
				"start", ev.EntityID, "max_hops", e.maxHops, "pending", len(frontier))
			return res, &entity.CycleBoundExceededError{Start: ev.EntityID, MaxHops: e.maxHops}
		}
		res.Hops++

		var next []frontierNode
		for _, node := range frontier {
			if err := ctx.Err(); err != nil {
				cascadeTotal.WithLabelValues("error").Inc()
				return res, err
			}
			relay, err := e.visit(ctx, node, res)
			if err != nil {
				cascadeTotal.WithLabelValues("error").Inc()
				return res, err
			}
			res.Visited = append(res.Visited, node.id)

			// The walk relays through a node only when handling it
			// moved the node's own status. A flag write is metadata,
			// so a flagged dependent ends the cascade here; when a
			// gate decision later transitions it, that commit emits
			// its own change event and cascades from the node as a
			// fresh run.
			if relay {
				cause := entity.Cause{SourceID: node.id, Change: entity.ChangeCascade}
				next = append(next, e.expand(node.id, entity.ClassCandidateStale, cause, visited)...)
			}
		}
		frontier = next
	}

	cascadeTotal.WithLabelValues("completed").Inc()
	cascadeHops.Observe(float64(res.Hops))
	cascadeDuration.Observe(time.Since(start).Seconds())
	e.logger.Info("propagation completed",
		"start", ev.EntityID, "hops", res.Hops,
		"flags", res.FlagsSet, "escalated", res.Escalated)
	return res, nil
}

// expand queues the unvisited referencers of id onto the frontier.
func (e *Engine) expand(id string, class entity.StaleClass, cause entity.Cause, visited map[string]bool) []frontierNode {
	var nodes []frontierNode
	for _, ref := range e.store.Index().Referencers(id) {
		if visited[ref] {
			continue
		}
		visited[ref] = true
		nodes = append(nodes, frontierNode{id: ref, class: class, cause: cause})
	}
	return nodes
}

// visit merges the node's cause into its flag, runs conflict
// resolution, and files gate items. Reports whether the cascade should
// relay through the node, which requires the node's own status to have
// moved; flag writes never move it, so every visit today stops the
// walk.
func (e *Engine) visit(ctx context.Context, node frontierNode, res *Result) (bool, error) {
	rec, err := e.store.Get(ctx, node.id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			// Index edge with no record; rebuild will clean it up.
			e.logger.Warn("skipping unknown referencer", "id", node.id)
			return false, nil
		}
		return false, err
	}
	if terminal(rec) {
		// Closed entities no longer track their sources.
		return false, nil
	}

	// An invalidated source still parks its dependent at
	// candidate-stale: invalidation is the gate item's kind, while the
	// flag records that the dependent awaits re-confirmation or a
	// reviewer decision. Nothing auto-transitions the dependent.
	flag, err := e.store.GetFlag(ctx, node.id)
	if errors.Is(err, entity.ErrNotFound) {
		flag = &entity.StaleFlag{
			EntityID:        node.id,
			Class:           entity.ClassCandidateStale,
			ObservedVersion: rec.RecordVersion(),
			FlaggedAt:       time.Now().UTC(),
		}
		err = nil
	}
	if err != nil {
		return false, err
	}

	dirty := flag.MergeCauses(node.cause)

	outcome, err := e.resolver.Resolve(ctx, flag.Resolutions())
	if err != nil {
		return false, err
	}
	if outcome.Verdict == resolve.VerdictEscalate && !flag.Escalated {
		flag.Escalated = true
		dirty = true
	}

	if dirty {
		if err := e.store.SetFlag(ctx, flag); err != nil {
			return false, err
		}
		res.FlagsSet++
		flagWrites.WithLabelValues(string(flag.Class)).Inc()
	}

	if err := e.file(ctx, flag, node.class, outcome, res); err != nil {
		return false, err
	}
	return false, nil
}

// file pushes gate items for invalidated or escalated dependents. The
// class is the detector's verdict for this visit, not the persisted
// flag class. Enqueue merges, so refiling the same entity never
// duplicates queue items.
func (e *Engine) file(ctx context.Context, flag *entity.StaleFlag, class entity.StaleClass, outcome *resolve.Outcome, res *Result) error {
	switch {
	case outcome.Verdict == resolve.VerdictEscalate:
		item := gate.Item{
			EntityID: flag.EntityID,
			Kind:     gate.ItemConflict,
			Causes:   flag.Causes,
			Reason:   outcome.Reason,
		}
		if err := e.queue.Enqueue(ctx, item); err != nil {
			return err
		}
		res.Escalated++
		gateEscalations.WithLabelValues(string(gate.ItemConflict)).Inc()

	case class == entity.ClassInvalidated:
		item := gate.Item{
			EntityID: flag.EntityID,
			Kind:     gate.ItemInvalidated,
			Causes:   flag.Causes,
		}
		if err := e.queue.Enqueue(ctx, item); err != nil {
			return err
		}
		res.Escalated++
		gateEscalations.WithLabelValues(string(gate.ItemInvalidated)).Inc()
	}
	return nil
}

func terminal(rec entity.Record) bool {
	switch r := rec.(type) {
	case *entity.Principle:
		return r.Terminal()
	case *entity.Feature:
		return r.Terminal()
	}
	return false
}
