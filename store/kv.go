// Package store provides versioned entity storage for the knowledge
// base. The durable layer is abstracted as an append-only versioned
// key-value interface with JetStream KV and BadgerDB backends; the
// Store on top enforces optimistic concurrency, the status lattice,
// reference integrity, and emits exactly one change event per commit.
package store

import (
	"context"
	"errors"
)

// Buckets used by the store.
const (
	BucketPrinciples = "KB_PRINCIPLES"
	BucketFeatures   = "KB_FEATURES"
	BucketFlags      = "KB_FLAGS"
)

// KV-level errors. The Store translates these into the engine's error
// taxonomy; callers outside this package normally see entity.ErrNotFound
// and friends instead.
var (
	// ErrKeyNotFound is returned when a key does not exist.
	ErrKeyNotFound = errors.New("key not found")

	// ErrKeyExists is returned by Create when the key already exists.
	ErrKeyExists = errors.New("key already exists")

	// ErrRevisionMismatch is returned by Update when the expected
	// revision no longer matches.
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// VersionedKV is the persistence boundary: an append-only keyed blob
// store with compare-and-swap on a transport revision number. The
// revision is an implementation detail of the backend; the entity
// version number embedded in the stored document is authoritative.
type VersionedKV interface {
	// Create writes a new key, failing with ErrKeyExists if present.
	Create(ctx context.Context, bucket, key string, value []byte) error

	// Get returns the value and current revision of a key.
	Get(ctx context.Context, bucket, key string) ([]byte, uint64, error)

	// Update replaces a key's value iff its revision still matches,
	// returning the new revision.
	Update(ctx context.Context, bucket, key string, value []byte, rev uint64) (uint64, error)

	// Put replaces a key's value unconditionally.
	Put(ctx context.Context, bucket, key string, value []byte) (uint64, error)

	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error

	// Keys lists all keys in a bucket. An empty bucket yields nil.
	Keys(ctx context.Context, bucket string) ([]string, error)

	// Close releases backend resources.
	Close() error
}
