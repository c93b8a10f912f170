package gate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/store"
)

func queues(t *testing.T) map[string]Queue {
	t.Helper()
	kv, err := store.OpenBadger(store.InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { kv.Close() })
	return map[string]Queue{
		"memory": NewMemoryQueue(),
		"kv":     NewKVQueue(kv),
	}
}

func TestQueueRoundTrip(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			item := Item{
				EntityID: "feature:f1",
				Kind:     ItemInvalidated,
				Causes: []entity.Cause{{
					SourceID: "principle:p1",
					Change:   entity.ChangeTransition,
					Status:   "deprecated",
				}},
			}
			require.NoError(t, q.Enqueue(ctx, item))

			got, err := q.Get(ctx, "feature:f1")
			require.NoError(t, err)
			assert.Equal(t, ItemInvalidated, got.Kind)
			assert.False(t, got.EnqueuedAt.IsZero())

			items, err := q.List(ctx)
			require.NoError(t, err)
			require.Len(t, items, 1)

			require.NoError(t, q.Remove(ctx, "feature:f1"))
			_, err = q.Get(ctx, "feature:f1")
			assert.ErrorIs(t, err, ErrItemNotFound)

			// Removing again is a no-op.
			require.NoError(t, q.Remove(ctx, "feature:f1"))
		})
	}
}

func TestEnqueueMergesCauses(t *testing.T) {
	for name, q := range queues(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			first := Item{
				EntityID: "feature:f1",
				Kind:     ItemInvalidated,
				Causes: []entity.Cause{{
					SourceID: "principle:p1",
					Change:   entity.ChangeTransition,
					Status:   "superseded",
					Resolution: "principle:p2",
				}},
			}
			require.NoError(t, q.Enqueue(ctx, first))

			// Same cause again plus a new one; escalated this time.
			second := Item{
				EntityID: "feature:f1",
				Kind:     ItemConflict,
				Reason:   "2 conflicting remediations",
				Causes: append(first.Causes, entity.Cause{
					SourceID:   "principle:p3",
					Change:     entity.ChangeTransition,
					Status:     "superseded",
					Resolution: "principle:p4",
				}),
			}
			require.NoError(t, q.Enqueue(ctx, second))

			got, err := q.Get(ctx, "feature:f1")
			require.NoError(t, err)
			assert.Equal(t, ItemConflict, got.Kind)
			assert.Len(t, got.Causes, 2)
			assert.Equal(t, "2 conflicting remediations", got.Reason)

			items, err := q.List(ctx)
			require.NoError(t, err)
			assert.Len(t, items, 1)
		})
	}
}

func TestListOrdersOldestFirst(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{EntityID: "feature:b", Kind: ItemInvalidated}))
	require.NoError(t, q.Enqueue(ctx, Item{EntityID: "feature:a", Kind: ItemInvalidated}))

	items, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.True(t, !items[1].EnqueuedAt.Before(items[0].EnqueuedAt))
}
