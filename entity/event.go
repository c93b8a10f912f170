package entity

import (
	"hash/fnv"
	"time"
)

// ChangeKind classifies what a committed version did to the entity.
type ChangeKind string

const (
	ChangeCreated    ChangeKind = "created"
	ChangeEdited     ChangeKind = "edited"
	ChangeTransition ChangeKind = "transition"

	// ChangeCascade marks a cause produced by fan-out from an already
	// flagged entity rather than by a direct change. It appears only
	// inside stale-flag causes, never on the event stream.
	ChangeCascade ChangeKind = "cascade"
)

// ChangeEvent is emitted exactly once per successful store commit. It is
// the unit of work for the propagation pipeline; events for the same
// starting entity are processed in commit order within a partition.
type ChangeEvent struct {
	EntityID string     `json:"entity_id"`
	Kind     Kind       `json:"kind"`
	Change   ChangeKind `json:"change"`

	OldVersion int `json:"old_version"`
	NewVersion int `json:"new_version"`

	// OldStatus/NewStatus are stringified statuses; equal for pure
	// content edits.
	OldStatus string `json:"old_status,omitempty"`
	NewStatus string `json:"new_status,omitempty"`

	// ChangedFields lists the top-level field paths the commit touched
	// (statement, categories, status, principles, name, project). The
	// staleness detector matches sensitivity globs against these.
	ChangedFields []string `json:"changed_fields,omitempty"`

	// Project is the owning project for feature events; empty for
	// principles. Partitioning keys on it when present.
	Project string `json:"project,omitempty"`

	At time.Time `json:"at"`
}

// StatusChanged reports whether the commit moved the entity's status.
func (ev ChangeEvent) StatusChanged() bool {
	return ev.OldStatus != ev.NewStatus
}

// Partition maps the event onto one of n propagation partitions.
// Feature events partition by project so a project's cascade is
// single-writer; principle events hash their id. n must be positive.
func (ev ChangeEvent) Partition(n int) int {
	key := ev.Project
	if key == "" {
		key = ev.EntityID
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Emitter receives change events from the store. Implementations route
// them to the propagation workers, in process or over JetStream.
type Emitter interface {
	Emit(ev ChangeEvent) error
}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(ev ChangeEvent) error

// Emit implements Emitter.
func (f EmitterFunc) Emit(ev ChangeEvent) error { return f(ev) }
