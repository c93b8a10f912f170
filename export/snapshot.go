package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/tenetgraph/tenet/entity"
)

// Source is what the snapshot builder needs from the store.
type Source interface {
	ListPrinciples(ctx context.Context) ([]*entity.Principle, error)
	ListFeatures(ctx context.Context) ([]*entity.Feature, error)
	ListFlags(ctx context.Context) ([]*entity.StaleFlag, error)
}

// PrincipleRow is one principle in a snapshot.
type PrincipleRow struct {
	ID         string   `json:"id"`
	Statement  string   `json:"statement"`
	Status     string   `json:"status"`
	Categories []string `json:"categories,omitempty"`
	Version    int      `json:"version"`

	// Flag carries the stale class when the principle is flagged.
	Flag string `json:"flag,omitempty"`
}

// FeatureRow is one feature in a snapshot, grouped under its project.
type FeatureRow struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Version int    `json:"version"`

	// Principles is the citation list, possibly elided to the profile's
	// threshold with a trailing "+N" entry.
	Principles []string `json:"principles,omitempty"`

	Flag string `json:"flag,omitempty"`
}

// ProjectSnapshot groups a project's features.
type ProjectSnapshot struct {
	Project  string       `json:"project"`
	Features []FeatureRow `json:"features"`
}

// Snapshot is a read-only view of the whole knowledge base at one
// moment.
type Snapshot struct {
	TakenAt    time.Time         `json:"taken_at"`
	Profile    Profile           `json:"profile"`
	Principles []PrincipleRow    `json:"principles"`
	Projects   []ProjectSnapshot `json:"projects"`
}

// Options selects what a snapshot contains and how it renders.
type Options struct {
	Format  Format
	Profile Profile

	// Project restricts the snapshot to one project when set.
	Project string
}

// Snapshotter builds and renders snapshots.
type Snapshotter struct {
	source Source
}

// NewSnapshotter creates a snapshot builder over a store.
func NewSnapshotter(source Source) *Snapshotter {
	return &Snapshotter{source: source}
}

// Build assembles a snapshot. Rows are sorted for stable output.
func (s *Snapshotter) Build(ctx context.Context, opts Options) (*Snapshot, error) {
	profile := opts.Profile
	if profile == "" {
		profile = ProfileCompact
	}
	cfg, ok := GetProfile(profile)
	if !ok {
		return nil, fmt.Errorf("unknown snapshot profile %q", profile)
	}

	principles, err := s.source.ListPrinciples(ctx)
	if err != nil {
		return nil, err
	}
	features, err := s.source.ListFeatures(ctx)
	if err != nil {
		return nil, err
	}
	flags, err := s.source.ListFlags(ctx)
	if err != nil {
		return nil, err
	}
	flagClass := make(map[string]string, len(flags))
	for _, f := range flags {
		flagClass[f.EntityID] = string(f.Class)
	}

	snap := &Snapshot{TakenAt: time.Now().UTC(), Profile: profile}

	for _, p := range principles {
		snap.Principles = append(snap.Principles, PrincipleRow{
			ID:         p.ID,
			Statement:  truncate(p.Statement, cfg.TruncateLength),
			Status:     string(p.Status),
			Categories: p.Categories,
			Version:    p.Version,
			Flag:       flagClass[p.ID],
		})
	}
	sort.Slice(snap.Principles, func(i, j int) bool {
		return snap.Principles[i].ID < snap.Principles[j].ID
	})

	byProject := make(map[string][]FeatureRow)
	for _, f := range features {
		if opts.Project != "" && f.Project != opts.Project {
			continue
		}
		byProject[f.Project] = append(byProject[f.Project], FeatureRow{
			ID:         f.ID,
			Name:       f.Name,
			Status:     string(f.Status),
			Version:    f.Version,
			Principles: elide(f.Principles, cfg.ElideThreshold),
			Flag:       flagClass[f.ID],
		})
	}
	for project, rows := range byProject {
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
		snap.Projects = append(snap.Projects, ProjectSnapshot{Project: project, Features: rows})
	}
	sort.Slice(snap.Projects, func(i, j int) bool {
		return snap.Projects[i].Project < snap.Projects[j].Project
	})
	return snap, nil
}

// Export builds a snapshot and renders it to w in the chosen format.
func (s *Snapshotter) Export(ctx context.Context, w io.Writer, opts Options) error {
	format := opts.Format
	if format == "" {
		format = FormatJSON
	}
	if !ValidFormat(format) {
		return fmt.Errorf("unknown export format %q", format)
	}

	snap, err := s.Build(ctx, opts)
	if err != nil {
		return err
	}

	switch format {
	case FormatTable:
		tw := newTableWriter()
		tw.WriteSnapshot(snap)
		_, err = io.WriteString(w, tw.String())
		return err
	default:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
}

// truncate caps s at limit runes, marking the cut with an ellipsis.
func truncate(s string, limit int) string {
	if limit <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "..."
}

// elide caps a reference list at threshold entries, folding the rest
// into a trailing "+N".
func elide(refs []string, threshold int) []string {
	if threshold <= 0 || len(refs) <= threshold {
		return refs
	}
	out := append([]string(nil), refs[:threshold]...)
	return append(out, fmt.Sprintf("+%d", len(refs)-threshold))
}
