// Package resolve decides what happens when several causes land on the
// same flagged entity: agreeing causes aggregate into one flag,
// disagreeing causes escalate to the human gate.
package resolve

import (
	"context"
	"fmt"
)

// Verdict constants for cause resolution.
const (
	VerdictAggregate = "aggregate"
	VerdictEscalate  = "escalate"
)

// Outcome is a resolver's decision for one flagged entity.
type Outcome struct {
	Verdict string `json:"verdict"`

	// Resolution is the agreed remediation when the verdict is
	// aggregate and the causes carry one. Empty otherwise.
	Resolution string `json:"resolution,omitempty"`

	// Reason explains an escalation for the gate item.
	Reason string `json:"reason,omitempty"`

	ResolverUsed string `json:"resolver_used"`
}

// Resolver decides the outcome for a set of distinct resolutions
// carried by the causes on one flag.
type Resolver interface {
	Name() string
	Resolve(ctx context.Context, resolutions []string) (*Outcome, error)
}

// Registry holds named resolvers.
type Registry struct {
	resolvers map[string]Resolver
}

// NewRegistry creates a resolver registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[string]Resolver)}
}

// Register adds a resolver to the registry.
func (r *Registry) Register(res Resolver) {
	r.resolvers[res.Name()] = res
}

// Get returns a resolver by name.
func (r *Registry) Get(name string) (Resolver, error) {
	res, ok := r.resolvers[name]
	if !ok {
		return nil, fmt.Errorf("unknown resolver: %s", name)
	}
	return res, nil
}

// DefaultRegistry is the global resolver registry.
var DefaultRegistry = NewRegistry()

func init() {
	DefaultRegistry.Register(&ConsensusResolver{})
}

// ConsensusResolver aggregates when every cause points the same way and
// escalates the moment two causes prescribe different remediations. It
// never invents a resolution the causes did not carry.
type ConsensusResolver struct{}

// Name returns the resolver name for registry lookup.
func (r *ConsensusResolver) Name() string {
	return "consensus"
}

// Resolve implements Resolver. resolutions is the distinct, non-empty
// set of remediation candidates across the flag's causes.
func (r *ConsensusResolver) Resolve(ctx context.Context, resolutions []string) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := &Outcome{ResolverUsed: r.Name()}
	switch len(resolutions) {
	case 0:
		// Causes with no remediation (deprecations, plain edits)
		// always agree with each other.
		out.Verdict = VerdictAggregate
	case 1:
		out.Verdict = VerdictAggregate
		out.Resolution = resolutions[0]
	default:
		out.Verdict = VerdictEscalate
		out.Reason = fmt.Sprintf("%d conflicting remediations", len(resolutions))
	}
	return out, nil
}
