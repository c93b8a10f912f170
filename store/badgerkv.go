package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig holds configuration for the embedded BadgerDB backend.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is set.
	Path string

	// InMemory enables in-memory mode (no disk persistence). Used by
	// tests and throwaway engines.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a config for tests and embedded use.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// BadgerKV implements VersionedKV on an embedded BadgerDB. Revisions
// are stored as an 8-byte big-endian prefix on each value and bumped
// inside the write transaction, so compare-and-swap is atomic.
type BadgerKV struct {
	db *badger.DB
}

// badgerLogger adapts slog to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (or creates) a BadgerDB-backed VersionedKV.
func OpenBadger(cfg BadgerConfig) (*BadgerKV, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerKV{db: db}, nil
}

func badgerKey(bucket, key string) []byte {
	return []byte(bucket + "/" + key)
}

func encodeRev(rev uint64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], rev)
	copy(buf[8:], value)
	return buf
}

func decodeRev(raw []byte) (uint64, []byte, error) {
	if len(raw) < 8 {
		return 0, nil, fmt.Errorf("corrupt value: %d bytes", len(raw))
	}
	return binary.BigEndian.Uint64(raw[:8]), raw[8:], nil
}

// Create implements VersionedKV.
func (b *BadgerKV) Create(_ context.Context, bucket, key string, value []byte) error {
	k := badgerKey(bucket, key)
	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(k)
		if err == nil {
			return ErrKeyExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, encodeRev(1, value))
	})
}

// Get implements VersionedKV.
func (b *BadgerKV) Get(_ context.Context, bucket, key string) ([]byte, uint64, error) {
	k := badgerKey(bucket, key)
	var rev uint64
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		return item.Value(func(raw []byte) error {
			r, v, err := decodeRev(raw)
			if err != nil {
				return err
			}
			rev = r
			value = bytes.Clone(v)
			return nil
		})
	})
	if err != nil {
		return nil, 0, err
	}
	return value, rev, nil
}

// Update implements VersionedKV.
func (b *BadgerKV) Update(_ context.Context, bucket, key string, value []byte, rev uint64) (uint64, error) {
	k := badgerKey(bucket, key)
	var next uint64
	err := b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(k)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrKeyNotFound
			}
			return err
		}
		var current uint64
		if err := item.Value(func(raw []byte) error {
			r, _, err := decodeRev(raw)
			current = r
			return err
		}); err != nil {
			return err
		}
		if current != rev {
			return ErrRevisionMismatch
		}
		next = current + 1
		return txn.Set(k, encodeRev(next, value))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Put implements VersionedKV.
func (b *BadgerKV) Put(_ context.Context, bucket, key string, value []byte) (uint64, error) {
	k := badgerKey(bucket, key)
	var next uint64
	err := b.db.Update(func(txn *badger.Txn) error {
		next = 1
		item, err := txn.Get(k)
		if err == nil {
			if err := item.Value(func(raw []byte) error {
				r, _, err := decodeRev(raw)
				next = r + 1
				return err
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(k, encodeRev(next, value))
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// Delete implements VersionedKV.
func (b *BadgerKV) Delete(_ context.Context, bucket, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(badgerKey(bucket, key))
	})
}

// Keys implements VersionedKV.
func (b *BadgerKV) Keys(_ context.Context, bucket string) ([]string, error) {
	prefix := []byte(bucket + "/")
	var keys []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			keys = append(keys, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// Close implements VersionedKV.
func (b *BadgerKV) Close() error {
	return b.db.Close()
}
