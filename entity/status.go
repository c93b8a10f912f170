package entity

// PrincipleStatus is the lifecycle state of a principle.
type PrincipleStatus string

const (
	PrincipleProposed   PrincipleStatus = "proposed"
	PrincipleExtracted  PrincipleStatus = "extracted"
	PrincipleActive     PrincipleStatus = "active"
	PrincipleDeprecated PrincipleStatus = "deprecated"
	PrincipleSuperseded PrincipleStatus = "superseded"
)

// FeatureStatus is the lifecycle state of a feature.
type FeatureStatus string

const (
	FeatureDraft   FeatureStatus = "draft"
	FeatureActive  FeatureStatus = "active"
	FeatureRetired FeatureStatus = "retired"
)

// principleTransitions defines the legal principle status lattice.
// Deprecated and superseded are terminal; nothing re-enters proposed
// or extracted.
var principleTransitions = map[PrincipleStatus][]PrincipleStatus{
	PrincipleProposed:   {PrincipleExtracted, PrincipleDeprecated},
	PrincipleExtracted:  {PrincipleActive, PrincipleDeprecated, PrincipleSuperseded},
	PrincipleActive:     {PrincipleDeprecated, PrincipleSuperseded},
	PrincipleDeprecated: {},
	PrincipleSuperseded: {},
}

// featureTransitions defines the legal feature status lattice.
// Retired is terminal.
var featureTransitions = map[FeatureStatus][]FeatureStatus{
	FeatureDraft:   {FeatureActive, FeatureRetired},
	FeatureActive:  {FeatureRetired},
	FeatureRetired: {},
}

// ValidPrincipleStatus reports whether s names a known principle status.
func ValidPrincipleStatus(s PrincipleStatus) bool {
	_, ok := principleTransitions[s]
	return ok
}

// ValidFeatureStatus reports whether s names a known feature status.
func ValidFeatureStatus(s FeatureStatus) bool {
	_, ok := featureTransitions[s]
	return ok
}

// CheckPrincipleTransition validates a principle status change against
// the lattice. A same-status "transition" is rejected: status changes
// are versioned edits and a no-op edit must not mint a version.
func CheckPrincipleTransition(from, to PrincipleStatus) error {
	if !ValidPrincipleStatus(from) {
		return &IllegalTransitionError{Kind: KindPrinciple, From: string(from), To: string(to)}
	}
	for _, allowed := range principleTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &IllegalTransitionError{Kind: KindPrinciple, From: string(from), To: string(to)}
}

// CheckFeatureTransition validates a feature status change against the
// lattice.
func CheckFeatureTransition(from, to FeatureStatus) error {
	if !ValidFeatureStatus(from) {
		return &IllegalTransitionError{Kind: KindFeature, From: string(from), To: string(to)}
	}
	for _, allowed := range featureTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &IllegalTransitionError{Kind: KindFeature, From: string(from), To: string(to)}
}
