package entity

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an entity or a requested version of an
// entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ConflictError reports an optimistic-concurrency failure: the caller's
// expected base version no longer matches the committed version. The
// caller is expected to re-read and retry; the engine never retries on
// its own.
type ConflictError struct {
	ID       string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict on %s: expected %d, current %d", e.ID, e.Expected, e.Actual)
}

// IllegalTransitionError reports a status change outside the lattice.
// The entity version is left unchanged.
type IllegalTransitionError struct {
	Kind Kind
	From string
	To   string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition: %s -> %s", e.Kind, e.From, e.To)
}

// DanglingReferenceError reports a feature write citing a deprecated or
// nonexistent principle.
type DanglingReferenceError struct {
	FeatureID   string
	PrincipleID string
	Reason      string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("feature %s references %s: %s", e.FeatureID, e.PrincipleID, e.Reason)
}

// CycleBoundExceededError reports a propagation run that ran out of hop
// budget before the frontier drained. The partial result is persisted;
// the error is surfaced so the truncation is never silent.
type CycleBoundExceededError struct {
	Start   string
	MaxHops int
}

func (e *CycleBoundExceededError) Error() string {
	return fmt.Sprintf("propagation from %s exceeded hop bound %d", e.Start, e.MaxHops)
}
