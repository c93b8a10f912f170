// Package kb provides vocabulary predicates for knowledge-base entities.
// Principles and features are the two record kinds the engine maintains;
// their relationship predicates carry the citation and provenance edges
// into the graph.
package kb

import "github.com/c360studio/semstreams/vocabulary"

// Namespace is the base IRI prefix for knowledge-base ontology terms.
const Namespace = "https://tenetgraph.dev/ontology/"

// EntityNamespace is the base IRI for knowledge-base entity instances.
const EntityNamespace = "https://tenetgraph.dev/entity/"

// Principle predicates define attributes of a principle record.
const (
	// PrincipleStatement is the normative statement text.
	PrincipleStatement = "kb.principle.statement"

	// PrincipleCategory tags the principle with a topic category.
	// Multi-valued; one triple per category.
	PrincipleCategory = "kb.principle.category"

	// PrincipleStatus is the lifecycle status.
	// Values: proposed, extracted, active, deprecated, superseded
	PrincipleStatus = "kb.principle.status"

	// PrincipleSupersededBy links a closed principle to its replacements.
	// Multi-valued for splits.
	PrincipleSupersededBy = "kb.principle.superseded_by"

	// PrincipleDeprecationReason records why the principle was retired
	// without a replacement.
	PrincipleDeprecationReason = "kb.principle.deprecation_reason"

	// PrincipleMergedFrom links a merged principle to its sources.
	PrincipleMergedFrom = "kb.principle.merged_from"

	// PrincipleSplitFrom links a split part to its source principle.
	PrincipleSplitFrom = "kb.principle.split_from"

	// PrincipleVersion is the current record version.
	PrincipleVersion = "kb.principle.version"

	// PrincipleCreatedAt is the RFC3339 creation timestamp.
	PrincipleCreatedAt = "kb.principle.created_at"

	// PrincipleUpdatedAt is the RFC3339 last update timestamp.
	PrincipleUpdatedAt = "kb.principle.updated_at"
)

// Feature predicates define attributes of a feature record.
const (
	// FeatureName is the feature's display name.
	FeatureName = "kb.feature.name"

	// FeatureProject is the owning project slug.
	FeatureProject = "kb.feature.project"

	// FeatureCites links a feature to a principle it depends on.
	// Multi-valued; one triple per citation.
	FeatureCites = "kb.feature.cites"

	// FeatureStatus is the lifecycle status.
	// Values: draft, active, retired
	FeatureStatus = "kb.feature.status"

	// FeatureVersion is the current record version.
	FeatureVersion = "kb.feature.version"

	// FeatureCreatedAt is the RFC3339 creation timestamp.
	FeatureCreatedAt = "kb.feature.created_at"

	// FeatureUpdatedAt is the RFC3339 last update timestamp.
	FeatureUpdatedAt = "kb.feature.updated_at"
)

// Flag predicates expose staleness annotations on records.
const (
	// FlagClass is the staleness class of an open flag. Open flags
	// settle at candidate-stale; invalidation surfaces as a gate item.
	FlagClass = "kb.flag.class"

	// FlagEscalated indicates the flag was escalated for human review.
	FlagEscalated = "kb.flag.escalated"

	// FlagObservedVersion is the record version the flag was raised against.
	FlagObservedVersion = "kb.flag.observed_version"
)

func init() {
	registerPrinciplePredicates()
	registerFeaturePredicates()
	registerFlagPredicates()
}

func registerPrinciplePredicates() {
	vocabulary.Register(PrincipleStatement,
		vocabulary.WithDescription("Normative statement text"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"statement"))

	vocabulary.Register(PrincipleCategory,
		vocabulary.WithDescription("Topic category tag"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"category"))

	vocabulary.Register(PrincipleStatus,
		vocabulary.WithDescription("Principle lifecycle status"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"status"))

	vocabulary.Register(PrincipleSupersededBy,
		vocabulary.WithDescription("Replacement principle reference"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"supersededBy"))

	vocabulary.Register(PrincipleDeprecationReason,
		vocabulary.WithDescription("Reason for deprecation without replacement"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"deprecationReason"))

	vocabulary.Register(PrincipleMergedFrom,
		vocabulary.WithDescription("Merge source principle reference"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"mergedFrom"))

	vocabulary.Register(PrincipleSplitFrom,
		vocabulary.WithDescription("Split source principle reference"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"splitFrom"))

	vocabulary.Register(PrincipleVersion,
		vocabulary.WithDescription("Current record version"),
		vocabulary.WithDataType("integer"),
		vocabulary.WithIRI(Namespace+"version"))

	vocabulary.Register(PrincipleCreatedAt,
		vocabulary.WithDescription("Creation timestamp"),
		vocabulary.WithDataType("dateTime"),
		vocabulary.WithIRI(Namespace+"createdAt"))

	vocabulary.Register(PrincipleUpdatedAt,
		vocabulary.WithDescription("Last update timestamp"),
		vocabulary.WithDataType("dateTime"),
		vocabulary.WithIRI(Namespace+"updatedAt"))
}

func registerFeaturePredicates() {
	vocabulary.Register(FeatureName,
		vocabulary.WithDescription("Feature display name"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"name"))

	vocabulary.Register(FeatureProject,
		vocabulary.WithDescription("Owning project slug"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"project"))

	vocabulary.Register(FeatureCites,
		vocabulary.WithDescription("Cited principle reference"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"cites"))

	vocabulary.Register(FeatureStatus,
		vocabulary.WithDescription("Feature lifecycle status"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"status"))

	vocabulary.Register(FeatureVersion,
		vocabulary.WithDescription("Current record version"),
		vocabulary.WithDataType("integer"),
		vocabulary.WithIRI(Namespace+"version"))

	vocabulary.Register(FeatureCreatedAt,
		vocabulary.WithDescription("Creation timestamp"),
		vocabulary.WithDataType("dateTime"),
		vocabulary.WithIRI(Namespace+"createdAt"))

	vocabulary.Register(FeatureUpdatedAt,
		vocabulary.WithDescription("Last update timestamp"),
		vocabulary.WithDataType("dateTime"),
		vocabulary.WithIRI(Namespace+"updatedAt"))
}

func registerFlagPredicates() {
	vocabulary.Register(FlagClass,
		vocabulary.WithDescription("Staleness class of an open flag"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"flagClass"))

	vocabulary.Register(FlagEscalated,
		vocabulary.WithDescription("Flag escalated for human review"),
		vocabulary.WithDataType("boolean"),
		vocabulary.WithIRI(Namespace+"flagEscalated"))

	vocabulary.Register(FlagObservedVersion,
		vocabulary.WithDescription("Record version the flag was raised against"),
		vocabulary.WithDataType("integer"),
		vocabulary.WithIRI(Namespace+"flagObservedVersion"))
}
