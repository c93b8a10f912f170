package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/index"
)

// versionKeySep separates an entity key from its version suffix. Keys
// containing it are immutable version snapshots and are skipped when
// listing live entities.
const versionKeySep = ".v."

// Store is the versioned entity store. Every accepted write bumps the
// record version, persists an immutable version snapshot, updates the
// reference index, and emits exactly one ChangeEvent.
type Store struct {
	kv      VersionedKV
	idx     *index.Index
	emitter entity.Emitter
	logger  *slog.Logger

	// commitMu serializes the write path so the index delta and event
	// emission observe the same accepted version.
	commitMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithEmitter sets the ChangeEvent emitter. Without one, events are
// dropped.
func WithEmitter(e entity.Emitter) Option {
	return func(s *Store) { s.emitter = e }
}

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store over the given KV backend and rebuilds the
// in-memory reference index from persisted records.
func New(ctx context.Context, kv VersionedKV, opts ...Option) (*Store, error) {
	s := &Store{
		kv:     kv,
		idx:    index.New(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.rebuildIndex(ctx); err != nil {
		return nil, fmt.Errorf("rebuild index: %w", err)
	}
	return s, nil
}

// Index returns the reference index backing this store.
func (s *Store) Index() *index.Index { return s.idx }

// Close releases the underlying KV backend.
func (s *Store) Close() error { return s.kv.Close() }

func (s *Store) rebuildIndex(ctx context.Context) error {
	principles, err := s.ListPrinciples(ctx)
	if err != nil {
		return err
	}
	features, err := s.ListFeatures(ctx)
	if err != nil {
		return err
	}
	s.idx.Rebuild(principles, features)
	s.logger.Debug("reference index rebuilt",
		"principles", len(principles), "features", len(features))
	return nil
}

// kvKey strips the kind prefix off a full entity id; buckets are
// already kind-scoped and NATS KV keys cannot contain ':'.
func kvKey(id string) (string, error) {
	parsed, err := entity.ParseID(id)
	if err != nil {
		return "", err
	}
	return parsed.ID, nil
}

// CreatePrinciple stores a new principle. An empty status defaults to
// proposed; only proposed and extracted are accepted at creation.
func (s *Store) CreatePrinciple(ctx context.Context, p *entity.Principle) (*entity.Principle, error) {
	if p.Status == "" {
		p.Status = entity.PrincipleProposed
	}
	if p.Status != entity.PrincipleProposed && p.Status != entity.PrincipleExtracted {
		return nil, &entity.IllegalTransitionError{
			Kind: entity.KindPrinciple,
			From: "(new)",
			To:   string(p.Status),
		}
	}
	if p.ID == "" {
		p.ID = entity.NewID(entity.KindPrinciple).String()
	}
	key, err := kvKey(p.ID)
	if err != nil {
		return nil, err
	}
	p.NormalizeCategories()
	p.Version = 1
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := p.Validate(); err != nil {
		return nil, err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.createRecord(ctx, BucketPrinciples, key, p); err != nil {
		return nil, err
	}
	s.idx.ApplyPrinciple(nil, p)
	s.emit(entity.ChangeEvent{
		EntityID:   p.ID,
		Kind:       entity.KindPrinciple,
		Change:     entity.ChangeCreated,
		NewVersion: p.Version,
		NewStatus:  string(p.Status),
		At:         now,
	})
	s.logger.Info("principle created", "id", p.ID, "status", p.Status)
	return p, nil
}

// CreateFeature stores a new feature. Every referenced principle must
// exist and be referenceable, otherwise a DanglingReferenceError is
// returned and nothing is written.
func (s *Store) CreateFeature(ctx context.Context, f *entity.Feature) (*entity.Feature, error) {
	if f.Status == "" {
		f.Status = entity.FeatureDraft
	}
	if f.Status != entity.FeatureDraft && f.Status != entity.FeatureActive {
		return nil, &entity.IllegalTransitionError{
			Kind: entity.KindFeature,
			From: "(new)",
			To:   string(f.Status),
		}
	}
	if f.ID == "" {
		f.ID = entity.NewID(entity.KindFeature).String()
	}
	key, err := kvKey(f.ID)
	if err != nil {
		return nil, err
	}
	f.Version = 1
	now := time.Now().UTC()
	f.CreatedAt, f.UpdatedAt = now, now
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := s.checkFeatureRefs(ctx, f); err != nil {
		return nil, err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.createRecord(ctx, BucketFeatures, key, f); err != nil {
		return nil, err
	}
	s.idx.ApplyFeature(nil, f)
	s.emit(entity.ChangeEvent{
		EntityID:   f.ID,
		Kind:       entity.KindFeature,
		Change:     entity.ChangeCreated,
		NewVersion: f.Version,
		NewStatus:  string(f.Status),
		Project:    f.Project,
		At:         now,
	})
	s.logger.Info("feature created", "id", f.ID, "project", f.Project)
	return f, nil
}

// PutPrinciple applies an edit or status transition to a principle.
// expectedVersion must match the stored version or a ConflictError is
// returned. Status changes are checked against the principle lattice.
func (s *Store) PutPrinciple(ctx context.Context, updated *entity.Principle, expectedVersion int) (*entity.Principle, error) {
	updated.NormalizeCategories()
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	key, err := kvKey(updated.ID)
	if err != nil {
		return nil, err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	old, rev, err := s.loadPrinciple(ctx, key)
	if err != nil {
		return nil, err
	}
	if old.Version != expectedVersion {
		return nil, &entity.ConflictError{
			ID:       updated.ID,
			Expected: expectedVersion,
			Actual:   old.Version,
		}
	}
	if old.Status != updated.Status {
		if err := entity.CheckPrincipleTransition(old.Status, updated.Status); err != nil {
			return nil, err
		}
	}
	if updated.Status == entity.PrincipleSuperseded {
		if err := s.checkSupersedeTarget(ctx, updated); err != nil {
			return nil, err
		}
	}

	changed := diffPrinciple(old, updated)
	if len(changed) == 0 {
		// No-op writes do not bump the version or emit an event.
		return old, nil
	}

	updated.Version = old.Version + 1
	updated.CreatedAt = old.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := s.updateRecord(ctx, BucketPrinciples, key, updated, rev, old.Version); err != nil {
		return nil, err
	}
	s.idx.ApplyPrinciple(old, updated)

	change := entity.ChangeEdited
	if old.Status != updated.Status {
		change = entity.ChangeTransition
	}
	s.emit(entity.ChangeEvent{
		EntityID:      updated.ID,
		Kind:          entity.KindPrinciple,
		Change:        change,
		OldVersion:    old.Version,
		NewVersion:    updated.Version,
		OldStatus:     string(old.Status),
		NewStatus:     string(updated.Status),
		ChangedFields: changed,
		At:            updated.UpdatedAt,
	})
	s.logger.Info("principle updated",
		"id", updated.ID, "version", updated.Version, "fields", changed)
	return updated, nil
}

// PutFeature applies an edit or status transition to a feature under
// the same concurrency and lattice rules as PutPrinciple. Principle
// references are re-validated on every live write; a write that closes
// the feature keeps its citations as historical record.
func (s *Store) PutFeature(ctx context.Context, updated *entity.Feature, expectedVersion int) (*entity.Feature, error) {
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	key, err := kvKey(updated.ID)
	if err != nil {
		return nil, err
	}

	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	old, rev, err := s.loadFeature(ctx, key)
	if err != nil {
		return nil, err
	}
	if old.Version != expectedVersion {
		return nil, &entity.ConflictError{
			ID:       updated.ID,
			Expected: expectedVersion,
			Actual:   old.Version,
		}
	}
	if old.Status != updated.Status {
		if err := entity.CheckFeatureTransition(old.Status, updated.Status); err != nil {
			return nil, err
		}
	}
	// A retired feature no longer asserts anything about its sources,
	// and retirement is exactly what the gate prescribes for features
	// whose cited principle went terminal. Validating the citations
	// here would make that retirement impossible.
	if !updated.Terminal() {
		if err := s.checkFeatureRefs(ctx, updated); err != nil {
			return nil, err
		}
	}

	changed := diffFeature(old, updated)
	if len(changed) == 0 {
		return old, nil
	}

	updated.Version = old.Version + 1
	updated.CreatedAt = old.CreatedAt
	updated.UpdatedAt = time.Now().UTC()

	if err := s.updateRecord(ctx, BucketFeatures, key, updated, rev, old.Version); err != nil {
		return nil, err
	}
	s.idx.ApplyFeature(old, updated)

	change := entity.ChangeEdited
	if old.Status != updated.Status {
		change = entity.ChangeTransition
	}
	s.emit(entity.ChangeEvent{
		EntityID:      updated.ID,
		Kind:          entity.KindFeature,
		Change:        change,
		OldVersion:    old.Version,
		NewVersion:    updated.Version,
		OldStatus:     string(old.Status),
		NewStatus:     string(updated.Status),
		ChangedFields: changed,
		Project:       updated.Project,
		At:            updated.UpdatedAt,
	})
	s.logger.Info("feature updated",
		"id", updated.ID, "version", updated.Version, "fields", changed)
	return updated, nil
}

// GetPrinciple returns the latest version of a principle.
func (s *Store) GetPrinciple(ctx context.Context, id string) (*entity.Principle, error) {
	key, err := kvKey(id)
	if err != nil {
		return nil, err
	}
	p, _, err := s.loadPrinciple(ctx, key)
	return p, err
}

// GetFeature returns the latest version of a feature.
func (s *Store) GetFeature(ctx context.Context, id string) (*entity.Feature, error) {
	key, err := kvKey(id)
	if err != nil {
		return nil, err
	}
	f, _, err := s.loadFeature(ctx, key)
	return f, err
}

// Get dispatches on the id's kind prefix and returns the latest record.
func (s *Store) Get(ctx context.Context, id string) (entity.Record, error) {
	parsed, err := entity.ParseID(id)
	if err != nil {
		return nil, err
	}
	if parsed.Kind == entity.KindFeature {
		return s.GetFeature(ctx, id)
	}
	return s.GetPrinciple(ctx, id)
}

// GetPrincipleVersion returns a specific historical version.
func (s *Store) GetPrincipleVersion(ctx context.Context, id string, version int) (*entity.Principle, error) {
	key, err := kvKey(id)
	if err != nil {
		return nil, err
	}
	data, _, err := s.kv.Get(ctx, BucketPrinciples, versionKey(key, version))
	if err != nil {
		return nil, translateNotFound(err, id)
	}
	var p entity.Principle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode principle %s v%d: %w", id, version, err)
	}
	return &p, nil
}

// GetFeatureVersion returns a specific historical version.
func (s *Store) GetFeatureVersion(ctx context.Context, id string, version int) (*entity.Feature, error) {
	key, err := kvKey(id)
	if err != nil {
		return nil, err
	}
	data, _, err := s.kv.Get(ctx, BucketFeatures, versionKey(key, version))
	if err != nil {
		return nil, translateNotFound(err, id)
	}
	var f entity.Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode feature %s v%d: %w", id, version, err)
	}
	return &f, nil
}

// History returns all persisted versions of an entity, oldest first.
func (s *Store) History(ctx context.Context, id string) ([]entity.Record, error) {
	parsed, err := entity.ParseID(id)
	if err != nil {
		return nil, err
	}
	latest, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	records := make([]entity.Record, 0, latest.RecordVersion())
	for v := 1; v <= latest.RecordVersion(); v++ {
		var rec entity.Record
		if parsed.Kind == entity.KindFeature {
			rec, err = s.GetFeatureVersion(ctx, id, v)
		} else {
			rec, err = s.GetPrincipleVersion(ctx, id, v)
		}
		if err != nil {
			return nil, fmt.Errorf("history %s v%d: %w", id, v, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// ListPrinciples returns the latest version of every principle.
func (s *Store) ListPrinciples(ctx context.Context) ([]*entity.Principle, error) {
	keys, err := s.liveKeys(ctx, BucketPrinciples)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Principle, 0, len(keys))
	for _, k := range keys {
		p, _, err := s.loadPrinciple(ctx, k)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListFeatures returns the latest version of every feature.
func (s *Store) ListFeatures(ctx context.Context) ([]*entity.Feature, error) {
	keys, err := s.liveKeys(ctx, BucketFeatures)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.Feature, 0, len(keys))
	for _, k := range keys {
		f, _, err := s.loadFeature(ctx, k)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetFlag persists stale-flag metadata for an entity. Flag writes never
// touch the entity record and never bump its version.
func (s *Store) SetFlag(ctx context.Context, flag *entity.StaleFlag) error {
	if _, err := entity.ParseID(flag.EntityID); err != nil {
		return err
	}
	entity.SortCauses(flag.Causes)
	data, err := json.Marshal(flag)
	if err != nil {
		return fmt.Errorf("encode flag %s: %w", flag.EntityID, err)
	}
	if _, err := s.kv.Put(ctx, BucketFlags, flagKey(flag.EntityID), data); err != nil {
		return fmt.Errorf("set flag %s: %w", flag.EntityID, err)
	}
	return nil
}

// GetFlag returns the stale flag for an entity, or entity.ErrNotFound.
func (s *Store) GetFlag(ctx context.Context, id string) (*entity.StaleFlag, error) {
	data, _, err := s.kv.Get(ctx, BucketFlags, flagKey(id))
	if err != nil {
		return nil, translateNotFound(err, id)
	}
	var flag entity.StaleFlag
	if err := json.Unmarshal(data, &flag); err != nil {
		return nil, fmt.Errorf("decode flag %s: %w", id, err)
	}
	return &flag, nil
}

// ClearFlag removes the stale flag for an entity. Clearing a missing
// flag is a no-op.
func (s *Store) ClearFlag(ctx context.Context, id string) error {
	return s.kv.Delete(ctx, BucketFlags, flagKey(id))
}

// ListFlags returns all persisted stale flags.
func (s *Store) ListFlags(ctx context.Context) ([]*entity.StaleFlag, error) {
	keys, err := s.kv.Keys(ctx, BucketFlags)
	if err != nil {
		return nil, err
	}
	out := make([]*entity.StaleFlag, 0, len(keys))
	for _, k := range keys {
		data, _, err := s.kv.Get(ctx, BucketFlags, k)
		if err != nil {
			if errors.Is(err, ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		var flag entity.StaleFlag
		if err := json.Unmarshal(data, &flag); err != nil {
			return nil, fmt.Errorf("decode flag %s: %w", k, err)
		}
		out = append(out, &flag)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

// --- internals ---

func (s *Store) loadPrinciple(ctx context.Context, key string) (*entity.Principle, uint64, error) {
	data, rev, err := s.kv.Get(ctx, BucketPrinciples, key)
	if err != nil {
		return nil, 0, translateNotFound(err, entity.ID{Kind: entity.KindPrinciple, ID: key}.String())
	}
	var p entity.Principle
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, 0, fmt.Errorf("decode principle %s: %w", key, err)
	}
	return &p, rev, nil
}

func (s *Store) loadFeature(ctx context.Context, key string) (*entity.Feature, uint64, error) {
	data, rev, err := s.kv.Get(ctx, BucketFeatures, key)
	if err != nil {
		return nil, 0, translateNotFound(err, entity.ID{Kind: entity.KindFeature, ID: key}.String())
	}
	var f entity.Feature
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, 0, fmt.Errorf("decode feature %s: %w", key, err)
	}
	return &f, rev, nil
}

// createRecord writes the live key and then the v1 snapshot. The live
// key must go first because Create doubles as the uniqueness check;
// snapshotting first would let a losing concurrent create clobber the
// winner's v1. The cost is a crash window between the two writes that
// leaves the history missing its v1 snapshot; the live key stays
// authoritative either way.
func (s *Store) createRecord(ctx context.Context, bucket, key string, rec entity.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := s.kv.Create(ctx, bucket, key, data); err != nil {
		if errors.Is(err, ErrKeyExists) {
			return &entity.ConflictError{ID: rec.EntityID(), Expected: 0, Actual: 1}
		}
		return err
	}
	if _, err := s.kv.Put(ctx, bucket, versionKey(key, 1), data); err != nil {
		return fmt.Errorf("snapshot %s v1: %w", key, err)
	}
	return nil
}

func (s *Store) updateRecord(ctx context.Context, bucket, key string, rec entity.Record, rev uint64, oldVersion int) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.kv.Update(ctx, bucket, key, data, rev); err != nil {
		if errors.Is(err, ErrRevisionMismatch) {
			return &entity.ConflictError{
				ID:       rec.EntityID(),
				Expected: oldVersion,
				Actual:   rec.RecordVersion(),
			}
		}
		return err
	}
	if _, err := s.kv.Put(ctx, bucket, versionKey(key, rec.RecordVersion()), data); err != nil {
		return fmt.Errorf("snapshot %s v%d: %w", key, rec.RecordVersion(), err)
	}
	return nil
}

// checkFeatureRefs verifies every principle a feature references. A
// missing or deprecated principle rejects the write; superseded
// principles are allowed so features can be repointed after the fact.
func (s *Store) checkFeatureRefs(ctx context.Context, f *entity.Feature) error {
	for _, pid := range f.Principles {
		parsed, err := entity.ParseID(pid)
		if err != nil || parsed.Kind != entity.KindPrinciple {
			return &entity.DanglingReferenceError{
				FeatureID:   f.ID,
				PrincipleID: pid,
				Reason:      "not a principle id",
			}
		}
		p, _, err := s.loadPrinciple(ctx, parsed.ID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return &entity.DanglingReferenceError{
					FeatureID:   f.ID,
					PrincipleID: pid,
					Reason:      "principle does not exist",
				}
			}
			return err
		}
		if p.Status == entity.PrincipleDeprecated {
			return &entity.DanglingReferenceError{
				FeatureID:   f.ID,
				PrincipleID: pid,
				Reason:      "principle is deprecated",
			}
		}
	}
	return nil
}

// checkSupersedeTarget validates the forward references of a superseded
// principle. Every replacement must exist and must not itself be
// superseded, so chains stay single-hop at write time.
func (s *Store) checkSupersedeTarget(ctx context.Context, p *entity.Principle) error {
	for _, ref := range p.SupersededBy {
		parsed, err := entity.ParseID(ref)
		if err != nil || parsed.Kind != entity.KindPrinciple {
			return &entity.DanglingReferenceError{
				FeatureID:   p.ID,
				PrincipleID: ref,
				Reason:      "replacement is not a principle id",
			}
		}
		target, _, err := s.loadPrinciple(ctx, parsed.ID)
		if err != nil {
			if errors.Is(err, entity.ErrNotFound) {
				return &entity.DanglingReferenceError{
					FeatureID:   p.ID,
					PrincipleID: ref,
					Reason:      "replacement does not exist",
				}
			}
			return err
		}
		if target.Status == entity.PrincipleSuperseded {
			return &entity.DanglingReferenceError{
				FeatureID:   p.ID,
				PrincipleID: ref,
				Reason:      "replacement is itself superseded",
			}
		}
	}
	return nil
}

func (s *Store) liveKeys(ctx context.Context, bucket string) ([]string, error) {
	keys, err := s.kv.Keys(ctx, bucket)
	if err != nil {
		return nil, err
	}
	live := keys[:0]
	for _, k := range keys {
		if !strings.Contains(k, versionKeySep) {
			live = append(live, k)
		}
	}
	return live, nil
}

func (s *Store) emit(ev entity.ChangeEvent) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ev); err != nil {
		s.logger.Error("change event emission failed",
			"entity", ev.EntityID, "change", ev.Change, "error", err)
	}
}

func versionKey(key string, version int) string {
	return fmt.Sprintf("%s%s%d", key, versionKeySep, version)
}

// flagKey flattens a full entity id into a KV-safe key.
func flagKey(id string) string {
	return strings.ReplaceAll(id, ":", ".")
}

func translateNotFound(err error, id string) error {
	if errors.Is(err, ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", entity.ErrNotFound, id)
	}
	return err
}

func diffPrinciple(old, updated *entity.Principle) []string {
	var changed []string
	if old.Statement != updated.Statement {
		changed = append(changed, "statement")
	}
	if !reflect.DeepEqual(old.Categories, updated.Categories) {
		changed = append(changed, "categories")
	}
	if old.Status != updated.Status {
		changed = append(changed, "status")
	}
	if !reflect.DeepEqual(old.SupersededBy, updated.SupersededBy) {
		changed = append(changed, "superseded_by")
	}
	if old.DeprecationReason != updated.DeprecationReason {
		changed = append(changed, "deprecation_reason")
	}
	if !reflect.DeepEqual(old.MergedFrom, updated.MergedFrom) {
		changed = append(changed, "merged_from")
	}
	if old.SplitFrom != updated.SplitFrom {
		changed = append(changed, "split_from")
	}
	return changed
}

func diffFeature(old, updated *entity.Feature) []string {
	var changed []string
	if old.Name != updated.Name {
		changed = append(changed, "name")
	}
	if old.Project != updated.Project {
		changed = append(changed, "project")
	}
	if !reflect.DeepEqual(old.Principles, updated.Principles) {
		changed = append(changed, "principles")
	}
	if old.Status != updated.Status {
		changed = append(changed, "status")
	}
	return changed
}
