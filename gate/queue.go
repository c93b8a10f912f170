// Package gate is the human-authority queue. The propagation pipeline
// never mutates entity content or status on its own; anything needing a
// judgment call (invalidated dependents, conflicting remediations) is
// parked here until a person decides.
package gate

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tenetgraph/tenet/entity"
)

// ItemKind says why an entity is on the queue.
type ItemKind string

const (
	// ItemInvalidated: the entity references a terminal source and
	// needs repointing or retiring.
	ItemInvalidated ItemKind = "invalidated"

	// ItemConflict: the entity's causes prescribe different
	// remediations.
	ItemConflict ItemKind = "conflict"
)

// ErrItemNotFound is returned when no gate item exists for an entity.
var ErrItemNotFound = errors.New("gate item not found")

// Item is one pending decision.
type Item struct {
	EntityID string         `json:"entity_id"`
	Kind     ItemKind       `json:"kind"`
	Causes   []entity.Cause `json:"causes"`

	// Reason is the resolver's escalation note for conflict items.
	Reason string `json:"reason,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue stores pending gate items. Enqueueing an entity already on the
// queue merges causes into the existing item instead of duplicating it.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Get(ctx context.Context, entityID string) (*Item, error)
	List(ctx context.Context) ([]Item, error)

	// Remove takes an entity off the queue once its decision has been
	// applied. Removing a missing item is a no-op.
	Remove(ctx context.Context, entityID string) error
}

// MemoryQueue is an in-process Queue for single-node deployments and
// tests.
type MemoryQueue struct {
	mu    sync.Mutex
	items map[string]*Item
}

// NewMemoryQueue creates an empty in-memory queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{items: make(map[string]*Item)}
}

// Enqueue implements Queue.
func (q *MemoryQueue) Enqueue(_ context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	existing, ok := q.items[item.EntityID]
	if !ok {
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = time.Now().UTC()
		}
		entity.SortCauses(item.Causes)
		q.items[item.EntityID] = &item
		return nil
	}
	mergeItem(existing, item)
	return nil
}

// Get implements Queue.
func (q *MemoryQueue) Get(_ context.Context, entityID string) (*Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[entityID]
	if !ok {
		return nil, ErrItemNotFound
	}
	cp := *item
	cp.Causes = append([]entity.Cause(nil), item.Causes...)
	return &cp, nil
}

// List implements Queue. Items come back oldest first.
func (q *MemoryQueue) List(_ context.Context) ([]Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Item, 0, len(q.items))
	for _, item := range q.items {
		cp := *item
		cp.Causes = append([]entity.Cause(nil), item.Causes...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EnqueuedAt.Equal(out[j].EnqueuedAt) {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].EnqueuedAt.Before(out[j].EnqueuedAt)
	})
	return out, nil
}

// Remove implements Queue.
func (q *MemoryQueue) Remove(_ context.Context, entityID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, entityID)
	return nil
}

// mergeItem folds a re-enqueue into an existing item. Conflict trumps
// invalidated so an escalation is never downgraded by a later cause.
func mergeItem(existing *Item, incoming Item) {
	flag := entity.StaleFlag{Causes: existing.Causes}
	flag.MergeCauses(incoming.Causes...)
	existing.Causes = flag.Causes
	if incoming.Kind == ItemConflict {
		existing.Kind = ItemConflict
		if incoming.Reason != "" {
			existing.Reason = incoming.Reason
		}
	}
}
