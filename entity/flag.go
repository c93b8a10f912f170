package entity

import (
	"sort"
	"time"
)

// StaleClass classifies how a dependent entity relates to a changed
// source.
type StaleClass string

const (
	// ClassUnaffected: the change does not touch fields the dependent
	// relies on. No flag is written.
	ClassUnaffected StaleClass = "unaffected"

	// ClassCandidateStale: dependent content may no longer reflect its
	// source; needs re-confirmation or re-derivation.
	ClassCandidateStale StaleClass = "candidate-stale"

	// ClassInvalidated: the dependent references a terminal/closed
	// source node. A hard inconsistency, not mere staleness. This is
	// a detector verdict and a gate item kind; persisted flags settle
	// at candidate-stale while the dependent awaits review.
	ClassInvalidated StaleClass = "invalidated"
)

// Cause records one upstream reason a dependent was flagged.
type Cause struct {
	// SourceID is the upstream entity whose change produced the flag.
	SourceID string `json:"source_id"`

	// Change is the kind of upstream change (transition, edited).
	Change ChangeKind `json:"change"`

	// Status is the upstream status after the change, when relevant
	// (deprecated, superseded).
	Status string `json:"status,omitempty"`

	// Resolution is the remediation candidate, if one exists. For a
	// superseded source this is its replacing principle id. The
	// conflict resolver compares resolutions to decide aggregation
	// vs. escalation.
	Resolution string `json:"resolution,omitempty"`
}

// key returns a canonical identity for deduplication.
func (c Cause) key() string {
	return c.SourceID + "|" + string(c.Change) + "|" + c.Status + "|" + c.Resolution
}

// StaleFlag is propagation metadata attached to an entity. Flags live in
// their own bucket and never touch the entity record, so flagging leaves
// the entity version unchanged.
type StaleFlag struct {
	EntityID string     `json:"entity_id"`
	Class    StaleClass `json:"class"`

	// Causes is the deduplicated, sorted cause chain. Canonical order
	// makes repeated propagation runs write byte-identical flags.
	Causes []Cause `json:"causes"`

	// Escalated marks flags whose causes disagree and are awaiting a
	// human decision on the gate queue.
	Escalated bool `json:"escalated,omitempty"`

	// ObservedVersion is the dependent's version at flag time. A flag
	// is stale evidence about that version only.
	ObservedVersion int `json:"observed_version"`

	FlaggedAt time.Time `json:"flagged_at"`
}

// MergeCauses folds additional causes into the flag, deduplicating and
// restoring canonical order. Returns true when the cause set grew.
func (f *StaleFlag) MergeCauses(more ...Cause) bool {
	seen := make(map[string]bool, len(f.Causes))
	for _, c := range f.Causes {
		seen[c.key()] = true
	}
	grew := false
	for _, c := range more {
		if !seen[c.key()] {
			f.Causes = append(f.Causes, c)
			seen[c.key()] = true
			grew = true
		}
	}
	if grew {
		SortCauses(f.Causes)
	}
	return grew
}

// Resolutions returns the distinct non-empty remediation candidates in
// the cause set, sorted.
func (f *StaleFlag) Resolutions() []string {
	set := make(map[string]bool)
	for _, c := range f.Causes {
		if c.Resolution != "" {
			set[c.Resolution] = true
		}
	}
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// SortCauses puts a cause slice into canonical order.
func SortCauses(causes []Cause) {
	sort.Slice(causes, func(i, j int) bool {
		return causes[i].key() < causes[j].key()
	})
}
