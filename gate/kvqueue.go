package gate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/store"
)

// BucketGate is the KV bucket holding pending gate items.
const BucketGate = "KB_GATE"

// KVQueue persists gate items in a VersionedKV bucket so pending
// decisions survive restarts and are visible to every node.
type KVQueue struct {
	kv store.VersionedKV

	// mu serializes read-merge-write on Enqueue. Cross-node races are
	// benign: both writers carry the same causes or the next
	// propagation run re-merges them.
	mu sync.Mutex
}

// NewKVQueue creates a KV-backed queue.
func NewKVQueue(kv store.VersionedKV) *KVQueue {
	return &KVQueue{kv: kv}
}

// itemKey flattens an entity id into a KV-safe key.
func itemKey(entityID string) string {
	return strings.ReplaceAll(entityID, ":", ".")
}

// Enqueue implements Queue.
func (q *KVQueue) Enqueue(ctx context.Context, item Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	existing, err := q.Get(ctx, item.EntityID)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return err
	}
	if existing != nil {
		mergeItem(existing, item)
		item = *existing
	} else {
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = time.Now().UTC()
		}
		entity.SortCauses(item.Causes)
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode gate item %s: %w", item.EntityID, err)
	}
	if _, err := q.kv.Put(ctx, BucketGate, itemKey(item.EntityID), data); err != nil {
		return fmt.Errorf("enqueue %s: %w", item.EntityID, err)
	}
	return nil
}

// Get implements Queue.
func (q *KVQueue) Get(ctx context.Context, entityID string) (*Item, error) {
	data, _, err := q.kv.Get(ctx, BucketGate, itemKey(entityID))
	if err != nil {
		if errors.Is(err, store.ErrKeyNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("decode gate item %s: %w", entityID, err)
	}
	return &item, nil
}

// List implements Queue. Items come back oldest first.
func (q *KVQueue) List(ctx context.Context) ([]Item, error) {
	keys, err := q.kv.Keys(ctx, BucketGate)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(keys))
	for _, k := range keys {
		data, _, err := q.kv.Get(ctx, BucketGate, k)
		if err != nil {
			if errors.Is(err, store.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		var item Item
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("decode gate item %s: %w", k, err)
		}
		out = append(out, item)
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
func (q *KVQueue) Remove(ctx context.Context, entityID string) error {
	return q.kv.Delete(ctx, BucketGate, itemKey(entityID))
}
