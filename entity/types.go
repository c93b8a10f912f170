package entity

import (
	"fmt"
	"sort"
	"time"
)

// Principle is an atomic, reusable design/methodology statement.
// The statement body is opaque to the engine; only the structured
// attributes participate in consistency checks.
type Principle struct {
	ID         string          `json:"id"`
	Statement  string          `json:"statement"`
	Categories []string        `json:"categories,omitempty"`
	Status     PrincipleStatus `json:"status"`

	// SupersededBy carries the forward reference(s) to the replacing
	// principle(s). Populated only when Status is superseded. A merge
	// produces a single forward reference on each source; a split
	// produces several on the one source.
	SupersededBy []string `json:"superseded_by,omitempty"`

	// DeprecationReason is an optional explanation recorded when the
	// principle is deprecated.
	DeprecationReason string `json:"deprecation_reason,omitempty"`

	// MergedFrom and SplitFrom record provenance for principles created
	// by merge/split author actions. Provenance references are not part
	// of the citation edge set but do participate in propagation.
	MergedFrom []string `json:"merged_from,omitempty"`
	SplitFrom  string   `json:"split_from,omitempty"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID returns the principle's stable identifier.
func (p *Principle) EntityID() string { return p.ID }

// EntityKind returns KindPrinciple.
func (p *Principle) EntityKind() Kind { return KindPrinciple }

// RecordVersion returns the current version number.
func (p *Principle) RecordVersion() int { return p.Version }

// Validate checks structural invariants that hold for every version.
func (p *Principle) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("principle: id is required")
	}
	if p.Statement == "" {
		return fmt.Errorf("principle %s: statement is required", p.ID)
	}
	if !ValidPrincipleStatus(p.Status) {
		return fmt.Errorf("principle %s: unknown status %q", p.ID, p.Status)
	}
	if p.Status == PrincipleSuperseded && len(p.SupersededBy) == 0 {
		return fmt.Errorf("principle %s: superseded without forward reference", p.ID)
	}
	if p.Status != PrincipleSuperseded && len(p.SupersededBy) > 0 {
		return fmt.Errorf("principle %s: forward reference on non-superseded principle", p.ID)
	}
	return nil
}

// Terminal reports whether the principle is in a closed lifecycle state.
func (p *Principle) Terminal() bool {
	return p.Status == PrincipleDeprecated || p.Status == PrincipleSuperseded
}

// NormalizeCategories sorts and deduplicates the category set in place.
// Categories are set-valued; order never carries meaning.
func (p *Principle) NormalizeCategories() {
	if len(p.Categories) < 2 {
		return
	}
	sort.Strings(p.Categories)
	out := p.Categories[:1]
	for _, c := range p.Categories[1:] {
		if c != out[len(out)-1] {
			out = append(out, c)
		}
	}
	p.Categories = out
}

// Feature is a concrete pattern instance tied to exactly one project,
// citing zero or more principles. Citation order is insertion order and
// carries provenance only.
type Feature struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Project string `json:"project"`

	// Principles is the ordered citation list. Duplicates are rejected
	// at validation time.
	Principles []string `json:"principles,omitempty"`

	Status FeatureStatus `json:"status"`

	Version   int       `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EntityID returns the feature's stable identifier.
func (f *Feature) EntityID() string { return f.ID }

// EntityKind returns KindFeature.
func (f *Feature) EntityKind() Kind { return KindFeature }

// RecordVersion returns the current version number.
func (f *Feature) RecordVersion() int { return f.Version }

// Validate checks structural invariants that hold for every version.
func (f *Feature) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("feature: id is required")
	}
	if f.Name == "" {
		return fmt.Errorf("feature %s: name is required", f.ID)
	}
	if f.Project == "" {
		return fmt.Errorf("feature %s: project is required", f.ID)
	}
	if !ValidFeatureStatus(f.Status) {
		return fmt.Errorf("feature %s: unknown status %q", f.ID, f.Status)
	}
	seen := make(map[string]bool, len(f.Principles))
	for _, pid := range f.Principles {
		if seen[pid] {
			return fmt.Errorf("feature %s: duplicate principle reference %s", f.ID, pid)
		}
		seen[pid] = true
	}
	return nil
}

// Terminal reports whether the feature is in a closed lifecycle state.
func (f *Feature) Terminal() bool {
	return f.Status == FeatureRetired
}

// Record is the common surface the store needs from a versioned entity.
type Record interface {
	EntityID() string
	EntityKind() Kind
	RecordVersion() int
	Validate() error
}
