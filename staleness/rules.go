// Package staleness classifies the downstream impact of a committed
// change: unaffected, candidate-stale, or invalidated. Classification
// is field-sensitive and driven by per-kind sensitivity rules; anything
// the rules do not cover is treated conservatively as candidate-stale.
package staleness

import (
	"fmt"
	"os"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	"github.com/tenetgraph/tenet/entity"
)

// KindRules lists field sensitivity globs for one source kind.
// Patterns use doublestar syntax so nested field paths can be matched
// with ** once records grow structured fields.
type KindRules struct {
	// Sensitive fields make dependents candidate-stale when edited.
	Sensitive []string `yaml:"sensitive"`

	// Insensitive fields never stale dependents. A field matching
	// neither list falls back to the conservative default.
	Insensitive []string `yaml:"insensitive"`
}

// Rules is the full sensitivity configuration.
type Rules struct {
	Kinds map[entity.Kind]KindRules `yaml:"kinds"`
}

// DefaultRules returns the built-in sensitivity lists. Statements,
// categories and status carry a principle's meaning; deprecation
// metadata and bookkeeping fields do not. For features, the principle
// reference list, the project assignment and the status matter to
// dependents; the display name does not. Listing "status" insensitive
// keeps forward transitions from staling dependents.
func DefaultRules() *Rules {
	return &Rules{
		Kinds: map[entity.Kind]KindRules{
			entity.KindPrinciple: {
				Sensitive:   []string{"statement", "categories", "status"},
				Insensitive: []string{"deprecation_reason", "merged_from", "split_from"},
			},
			entity.KindFeature: {
				Sensitive:   []string{"principles", "project", "status"},
				Insensitive: []string{"name"},
			},
		},
	}
}

// LoadRules reads sensitivity rules from a YAML file.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", path, err)
	}
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse rules %s: %w", path, err)
	}
	if err := r.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules %s: %w", path, err)
	}
	return &r, nil
}

// Validate checks every glob pattern parses.
func (r *Rules) Validate() error {
	for kind, kr := range r.Kinds {
		for _, pat := range append(append([]string{}, kr.Sensitive...), kr.Insensitive...) {
			if !doublestar.ValidatePattern(pat) {
				return fmt.Errorf("kind %s: bad pattern %q", kind, pat)
			}
		}
	}
	return nil
}

// Sensitivity is the classification of a single field path.
type Sensitivity int

const (
	// Unlisted fields take the conservative default.
	Unlisted Sensitivity = iota
	Insensitive
	Sensitive
)

// FieldSensitivity classifies one changed field of a source kind.
// Insensitive wins over sensitive when both match, so narrow exclusions
// can carve holes out of broad globs.
func (r *Rules) FieldSensitivity(kind entity.Kind, field string) Sensitivity {
	kr, ok := r.Kinds[kind]
	if !ok {
		return Unlisted
	}
	for _, pat := range kr.Insensitive {
		if ok, _ := doublestar.Match(pat, field); ok {
			return Insensitive
		}
	}
	for _, pat := range kr.Sensitive {
		if ok, _ := doublestar.Match(pat, field); ok {
			return Sensitive
		}
	}
	return Unlisted
}

// RuleSet holds the active rules behind a lock so a file watcher can
// swap them at runtime.
type RuleSet struct {
	mu    sync.RWMutex
	rules *Rules
}

// NewRuleSet wraps rules for concurrent use. A nil argument installs
// the defaults.
func NewRuleSet(r *Rules) *RuleSet {
	if r == nil {
		r = DefaultRules()
	}
	return &RuleSet{rules: r}
}

// Current returns the active rules.
func (rs *RuleSet) Current() *Rules {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.rules
}

// Swap installs new rules.
func (rs *RuleSet) Swap(r *Rules) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rules = r
}
