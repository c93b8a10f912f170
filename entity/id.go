// Package entity defines the core data model for the knowledge base:
// principles, features, their status lattices, change events, and stale
// flags. Everything in this package is transport-free; storage and
// propagation live in their own packages.
package entity

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind identifies the type of a stored entity.
type Kind string

const (
	KindPrinciple Kind = "principle"
	KindFeature   Kind = "feature"
)

// ID is a typed entity identifier.
type ID struct {
	Kind Kind
	ID   string
}

// String returns the string representation of the entity ID.
func (e ID) String() string {
	return fmt.Sprintf("%s:%s", e.Kind, e.ID)
}

// ParseID parses an entity ID string into its components.
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[1] == "" {
		return ID{}, fmt.Errorf("invalid entity ID format: %s", s)
	}
	kind := Kind(parts[0])
	switch kind {
	case KindPrinciple, KindFeature:
		return ID{Kind: kind, ID: parts[1]}, nil
	default:
		return ID{}, fmt.Errorf("unknown entity kind: %s", parts[0])
	}
}

// NewID generates a new unique entity ID for the given kind.
func NewID(k Kind) ID {
	return ID{
		Kind: k,
		ID:   uuid.New().String(),
	}
}

// ProjectID returns the graph identifier used for a project namespace.
// Projects have no stored record; they exist as the target of feature
// ownership edges and are created implicitly on first reference.
func ProjectID(project string) string {
	return "project:" + project
}

// IsProjectID reports whether id names a project namespace.
func IsProjectID(id string) bool {
	return strings.HasPrefix(id, "project:")
}
