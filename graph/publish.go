// Package graph publishes knowledge-base records to the semantic graph.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/tenetgraph/tenet/entity"
	"github.com/tenetgraph/tenet/vocabulary/kb"
)

// GraphIngestSubject is the subject for graph ingestion.
const GraphIngestSubject = "graph.ingest.entity"

// tripleSource identifies this engine as the provenance of published triples.
const tripleSource = "tenet.kb"

// EntityIngestMessage is the message format for graph ingestion.
type EntityIngestMessage struct {
	ID        string           `json:"id"`
	Triples   []message.Triple `json:"triples"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// PublishPrinciple publishes a principle record to the knowledge graph.
func PublishPrinciple(ctx context.Context, nc *natsclient.Client, p *entity.Principle) error {
	if nc == nil {
		return nil // Skip publishing if no NATS client (graceful degradation)
	}

	entityID := PrincipleEntityID(p.ID)
	now := time.Now()

	triples := []message.Triple{
		triple(entityID, kb.PrincipleStatement, p.Statement, now),
		triple(entityID, kb.PrincipleStatus, string(p.Status), now),
		triple(entityID, kb.PrincipleVersion, p.Version, now),
		triple(entityID, kb.PrincipleCreatedAt, p.CreatedAt.Format(time.RFC3339), now),
		triple(entityID, kb.PrincipleUpdatedAt, p.UpdatedAt.Format(time.RFC3339), now),
	}

	for _, cat := range p.Categories {
		triples = append(triples, triple(entityID, kb.PrincipleCategory, cat, now))
	}
	for _, ref := range p.SupersededBy {
		triples = append(triples, triple(entityID, kb.PrincipleSupersededBy, PrincipleEntityID(ref), now))
	}
	for _, ref := range p.MergedFrom {
		triples = append(triples, triple(entityID, kb.PrincipleMergedFrom, PrincipleEntityID(ref), now))
	}
	if p.SplitFrom != "" {
		triples = append(triples, triple(entityID, kb.PrincipleSplitFrom, PrincipleEntityID(p.SplitFrom), now))
	}
	if p.DeprecationReason != "" {
		triples = append(triples, triple(entityID, kb.PrincipleDeprecationReason, p.DeprecationReason, now))
	}

	return publish(ctx, nc, entityID, triples, now)
}

// PublishFeature publishes a feature record to the knowledge graph.
func PublishFeature(ctx context.Context, nc *natsclient.Client, f *entity.Feature) error {
	if nc == nil {
		return nil
	}

	entityID := FeatureEntityID(f.ID)
	now := time.Now()

	triples := []message.Triple{
		triple(entityID, kb.FeatureName, f.Name, now),
		triple(entityID, kb.FeatureProject, f.Project, now),
		triple(entityID, kb.FeatureStatus, string(f.Status), now),
		triple(entityID, kb.FeatureVersion, f.Version, now),
		triple(entityID, kb.FeatureCreatedAt, f.CreatedAt.Format(time.RFC3339), now),
		triple(entityID, kb.FeatureUpdatedAt, f.UpdatedAt.Format(time.RFC3339), now),
	}

	for _, ref := range f.Principles {
		triples = append(triples, triple(entityID, kb.FeatureCites, PrincipleEntityID(ref), now))
	}

	return publish(ctx, nc, entityID, triples, now)
}

// PublishFlag publishes a staleness flag annotation for a record.
func PublishFlag(ctx context.Context, nc *natsclient.Client, flag *entity.StaleFlag) error {
	if nc == nil {
		return nil
	}

	entityID := RecordEntityID(flag.EntityID)
	now := time.Now()

	triples := []message.Triple{
		triple(entityID, kb.FlagClass, string(flag.Class), now),
		triple(entityID, kb.FlagObservedVersion, flag.ObservedVersion, now),
	}
	if flag.Escalated {
		triples = append(triples, triple(entityID, kb.FlagEscalated, true, now))
	}

	return publish(ctx, nc, entityID, triples, now)
}

func triple(subject, predicate string, object any, now time.Time) message.Triple {
	return message.Triple{
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Source:     tripleSource,
		Timestamp:  now,
		Confidence: 1.0,
	}
}

func publish(ctx context.Context, nc *natsclient.Client, entityID string, triples []message.Triple, now time.Time) error {
	msg := EntityIngestMessage{
		ID:        entityID,
		Triples:   triples,
		UpdatedAt: now,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal graph entity: %w", err)
	}

	if err := nc.PublishToStream(ctx, GraphIngestSubject, data); err != nil {
		return fmt.Errorf("publish graph entity: %w", err)
	}

	return nil
}

// PrincipleEntityID generates a consistent graph entity ID for a principle.
// Format: tenet.local.kb.principle.<uuid>
func PrincipleEntityID(id string) string {
	return fmt.Sprintf("tenet.local.kb.principle.%s", localPart(id))
}

// FeatureEntityID generates a consistent graph entity ID for a feature.
// Format: tenet.local.kb.feature.<uuid>
func FeatureEntityID(id string) string {
	return fmt.Sprintf("tenet.local.kb.feature.%s", localPart(id))
}

// RecordEntityID maps any record ID to its graph entity ID by kind.
func RecordEntityID(id string) string {
	parsed, err := entity.ParseID(id)
	if err != nil {
		return fmt.Sprintf("tenet.local.kb.record.%s", localPart(id))
	}
	return fmt.Sprintf("tenet.local.kb.%s.%s", parsed.Kind, parsed.ID)
}

func localPart(id string) string {
	if i := strings.IndexByte(id, ':'); i >= 0 {
		return id[i+1:]
	}
	return id
}
