package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// NATSKV implements VersionedKV on JetStream key-value buckets, one
// bucket per store bucket. Buckets are created on first use; the
// JetStream revision number backs compare-and-swap.
type NATSKV struct {
	js jetstream.JetStream

	mu      sync.Mutex
	buckets map[string]jetstream.KeyValue
}

// NewNATSKV creates a JetStream-backed VersionedKV.
func NewNATSKV(js jetstream.JetStream) *NATSKV {
	return &NATSKV{
		js:      js,
		buckets: make(map[string]jetstream.KeyValue),
	}
}

func (n *NATSKV) bucket(ctx context.Context, name string) (jetstream.KeyValue, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if kv, ok := n.buckets[name]; ok {
		return kv, nil
	}
	kv, err := n.js.KeyValue(ctx, name)
	if err != nil {
		// Bucket doesn't exist, create it. Version history lives in
		// explicit version keys, so a shallow KV history suffices.
		kv, err = n.js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
			Bucket:      name,
			Description: fmt.Sprintf("Tenet %s storage", strings.ToLower(name)),
			History:     5,
		})
		if err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", name, err)
		}
	}
	n.buckets[name] = kv
	return kv, nil
}

// Create implements VersionedKV.
func (n *NATSKV) Create(ctx context.Context, bucket, key string, value []byte) error {
	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	if _, err := kv.Create(ctx, key, value); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return ErrKeyExists
		}
		return fmt.Errorf("create %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get implements VersionedKV.
func (n *NATSKV) Get(ctx context.Context, bucket, key string) ([]byte, uint64, error) {
	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return nil, 0, err
	}
	entry, err := kv.Get(ctx, key)
	if err != nil {
		if isKVNotFound(err) {
			return nil, 0, ErrKeyNotFound
		}
		return nil, 0, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return entry.Value(), entry.Revision(), nil
}

// Update implements VersionedKV.
func (n *NATSKV) Update(ctx context.Context, bucket, key string, value []byte, rev uint64) (uint64, error) {
	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return 0, err
	}
	next, err := kv.Update(ctx, key, value, rev)
	if err != nil {
		if isKVNotFound(err) {
			return 0, ErrKeyNotFound
		}
		if isWrongRevision(err) {
			return 0, ErrRevisionMismatch
		}
		return 0, fmt.Errorf("update %s/%s: %w", bucket, key, err)
	}
	return next, nil
}

// Put implements VersionedKV.
func (n *NATSKV) Put(ctx context.Context, bucket, key string, value []byte) (uint64, error) {
	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return 0, err
	}
	rev, err := kv.Put(ctx, key, value)
	if err != nil {
		return 0, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return rev, nil
}

// Delete implements VersionedKV.
func (n *NATSKV) Delete(ctx context.Context, bucket, key string) error {
	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return err
	}
	if err := kv.Purge(ctx, key); err != nil && !isKVNotFound(err) {
		return fmt.Errorf("delete %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Keys implements VersionedKV.
func (n *NATSKV) Keys(ctx context.Context, bucket string) ([]string, error) {
	kv, err := n.bucket(ctx, bucket)
	if err != nil {
		return nil, err
	}
	keys, err := kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keys %s: %w", bucket, err)
	}
	return keys, nil
}

// Close implements VersionedKV. The underlying NATS connection is owned
// by the caller.
func (n *NATSKV) Close() error { return nil }

// isKVNotFound checks if an error indicates a key was not found.
func isKVNotFound(err error) bool {
	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		(err != nil && strings.Contains(err.Error(), "key not found"))
}

// isWrongRevision checks if an error indicates a CAS revision mismatch.
func isWrongRevision(err error) bool {
	return err != nil && strings.Contains(err.Error(), "wrong last sequence")
}
