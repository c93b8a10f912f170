package staleness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tenetgraph/tenet/entity"
)

// PrincipleGetter looks up the latest version of a principle. The
// detector needs it to read the replacement id off a superseded source.
type PrincipleGetter interface {
	GetPrinciple(ctx context.Context, id string) (*entity.Principle, error)
}

// Finding is the detector's verdict for the dependents of one change.
type Finding struct {
	Class entity.StaleClass
	Cause entity.Cause
}

// Detector classifies change events against the active sensitivity
// rules.
type Detector struct {
	rules      *RuleSet
	principles PrincipleGetter
	logger     *slog.Logger
}

// NewDetector creates a detector. rules may be nil for the defaults.
func NewDetector(rules *RuleSet, principles PrincipleGetter, logger *slog.Logger) *Detector {
	if rules == nil {
		rules = NewRuleSet(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{rules: rules, principles: principles, logger: logger}
}

// Rules returns the detector's live rule set, for hot reload.
func (d *Detector) Rules() *RuleSet { return d.rules }

// Assess classifies the impact of ev on the entities that reference its
// subject. The verdict applies uniformly to all direct dependents; the
// propagation engine fans it out.
//
// A transition into a terminal status invalidates dependents; any
// other transition stales them unless "status" is listed insensitive.
// A content edit makes them candidate-stale when any changed field is
// sensitive, and leaves them unaffected only when every changed field
// is listed insensitive. An edit with no recorded field list is
// classified candidate-stale, never silently dropped.
func (d *Detector) Assess(ctx context.Context, ev entity.ChangeEvent) (Finding, error) {
	cause := entity.Cause{
		SourceID: ev.EntityID,
		Change:   ev.Change,
	}

	if ev.Change == entity.ChangeTransition {
		return d.assessTransition(ctx, ev, cause)
	}

	if ev.Change == entity.ChangeCreated {
		// A brand-new entity has no dependents yet.
		return Finding{Class: entity.ClassUnaffected, Cause: cause}, nil
	}

	if len(ev.ChangedFields) == 0 {
		d.logger.Warn("edit event without field list, assuming stale", "entity", ev.EntityID)
		return Finding{Class: entity.ClassCandidateStale, Cause: cause}, nil
	}

	rules := d.rules.Current()
	verdict := entity.ClassUnaffected
	for _, field := range ev.ChangedFields {
		switch rules.FieldSensitivity(ev.Kind, field) {
		case Sensitive, Unlisted:
			verdict = entity.ClassCandidateStale
		case Insensitive:
			// Stays at whatever the other fields decided.
		}
		if verdict == entity.ClassCandidateStale {
			break
		}
	}
	return Finding{Class: verdict, Cause: cause}, nil
}

func (d *Detector) assessTransition(ctx context.Context, ev entity.ChangeEvent, cause entity.Cause) (Finding, error) {
	cause.Status = ev.NewStatus

	switch ev.NewStatus {
	case string(entity.PrincipleDeprecated):
		// No replacement exists; dependents must be repointed or
		// retired by hand.
		return Finding{Class: entity.ClassInvalidated, Cause: cause}, nil

	case string(entity.PrincipleSuperseded):
		if ev.Kind == entity.KindPrinciple {
			p, err := d.principles.GetPrinciple(ctx, ev.EntityID)
			if err != nil {
				if errors.Is(err, entity.ErrNotFound) {
					return Finding{}, fmt.Errorf("superseded source %s vanished: %w", ev.EntityID, err)
				}
				return Finding{}, err
			}
			// A single replacement is a remediation candidate. A
			// split leaves several and the choice stays with the
			// gate reviewer.
			if len(p.SupersededBy) == 1 {
				cause.Resolution = p.SupersededBy[0]
			}
		}
		return Finding{Class: entity.ClassInvalidated, Cause: cause}, nil

	case string(entity.FeatureRetired):
		// Nothing references features today; provenance edges may
		// later. Retirement invalidates whatever does.
		return Finding{Class: entity.ClassInvalidated, Cause: cause}, nil
	}

	// A forward transition (extracted, active) is still a status
	// change, and the conservative default stales dependents. An
	// operator who considers activation harmless lists "status"
	// insensitive for the kind.
	if d.rules.Current().FieldSensitivity(ev.Kind, "status") == Insensitive {
		return Finding{Class: entity.ClassUnaffected, Cause: cause}, nil
	}
	return Finding{Class: entity.ClassCandidateStale, Cause: cause}, nil
}
