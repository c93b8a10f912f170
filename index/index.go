// Package index maintains the bidirectional edge set of the knowledge
// graph: citation edges (feature -> principle), ownership edges
// (feature -> project), and provenance edges (principle -> principle via
// supersede/merge/split references).
//
// The index is a derived, rebuildable cache over the entity store,
// never the source of truth. The store applies edge deltas inside its
// commit section so no reader observes a half-updated neighborhood.
package index

import (
	"sort"
	"sync"

	"github.com/tenetgraph/tenet/entity"
)

// Neighborhood is the edge view around a single node.
type Neighborhood struct {
	// Incoming holds ids of entities that reference this node: features
	// citing a principle, or principles carrying a provenance reference
	// to it.
	Incoming []string

	// Outgoing holds ids this node references: a feature's principles
	// and project, or a principle's provenance targets.
	Outgoing []string
}

// Index is an in-memory adjacency map guarded by a RWMutex. Edge
// updates for one commit are applied atomically under the write lock;
// lookups are O(degree).
type Index struct {
	mu  sync.RWMutex
	out map[string]map[string]struct{}
	in  map[string]map[string]struct{}
}

// New returns an empty index.
func New() *Index {
	return &Index{
		out: make(map[string]map[string]struct{}),
		in:  make(map[string]map[string]struct{}),
	}
}

// featureTargets derives the outgoing edge set of a feature.
func featureTargets(f *entity.Feature) map[string]struct{} {
	targets := make(map[string]struct{}, len(f.Principles)+1)
	for _, pid := range f.Principles {
		targets[pid] = struct{}{}
	}
	if f.Project != "" {
		targets[entity.ProjectID(f.Project)] = struct{}{}
	}
	return targets
}

// principleTargets derives the outgoing provenance edge set of a
// principle.
func principleTargets(p *entity.Principle) map[string]struct{} {
	targets := make(map[string]struct{})
	for _, id := range p.SupersededBy {
		targets[id] = struct{}{}
	}
	for _, id := range p.MergedFrom {
		targets[id] = struct{}{}
	}
	if p.SplitFrom != "" {
		targets[p.SplitFrom] = struct{}{}
	}
	return targets
}

// ApplyFeature swaps the feature's edges from its old version to its
// new version in one atomic update. Either argument may be nil
// (creation has no old version; the index never sees deletions because
// entities are never physically deleted, but a nil new version removes
// all edges for completeness).
func (x *Index) ApplyFeature(old, updated *entity.Feature) {
	var before, after map[string]struct{}
	var id string
	if old != nil {
		before = featureTargets(old)
		id = old.ID
	}
	if updated != nil {
		after = featureTargets(updated)
		id = updated.ID
	}
	x.apply(id, before, after)
}

// ApplyPrinciple swaps the principle's provenance edges analogously.
func (x *Index) ApplyPrinciple(old, updated *entity.Principle) {
	var before, after map[string]struct{}
	var id string
	if old != nil {
		before = principleTargets(old)
		id = old.ID
	}
	if updated != nil {
		after = principleTargets(updated)
		id = updated.ID
	}
	x.apply(id, before, after)
}

// apply removes edges in before\after and adds after\before under one
// write lock.
func (x *Index) apply(id string, before, after map[string]struct{}) {
	if id == "" {
		return
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	for target := range before {
		if _, kept := after[target]; kept {
			continue
		}
		if set := x.out[id]; set != nil {
			delete(set, target)
		}
		if set := x.in[target]; set != nil {
			delete(set, id)
			if len(set) == 0 {
				delete(x.in, target)
			}
		}
	}
	for target := range after {
		if _, had := before[target]; had {
			continue
		}
		if x.out[id] == nil {
			x.out[id] = make(map[string]struct{})
		}
		x.out[id][target] = struct{}{}
		if x.in[target] == nil {
			x.in[target] = make(map[string]struct{})
		}
		x.in[target][id] = struct{}{}
	}
	if len(x.out[id]) == 0 {
		delete(x.out, id)
	}
}

// Neighbors answers "who references id and whom does id reference" in
// O(degree).
func (x *Index) Neighbors(id string) Neighborhood {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Neighborhood{
		Incoming: sortedKeys(x.in[id]),
		Outgoing: sortedKeys(x.out[id]),
	}
}

// Referencers returns only the incoming side, the reverse-lookup
// primitive propagation traverses.
func (x *Index) Referencers(id string) []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return sortedKeys(x.in[id])
}

// FeaturesInProject returns ids of features owned by the project.
func (x *Index) FeaturesInProject(project string) []string {
	return x.Referencers(entity.ProjectID(project))
}

// Projects lists every project namespace currently referenced by at
// least one feature.
func (x *Index) Projects() []string {
	x.mu.RLock()
	defer x.mu.RUnlock()
	var out []string
	for target := range x.in {
		if entity.IsProjectID(target) {
			out = append(out, target[len("project:"):])
		}
	}
	sort.Strings(out)
	return out
}

// Rebuild replaces the whole edge set from a store scan. Used at
// startup; the index is a cache and can always be reconstructed.
func (x *Index) Rebuild(principles []*entity.Principle, features []*entity.Feature) {
	fresh := New()
	for _, p := range principles {
		fresh.ApplyPrinciple(nil, p)
	}
	for _, f := range features {
		fresh.ApplyFeature(nil, f)
	}
	x.mu.Lock()
	x.out = fresh.out
	x.in = fresh.in
	x.mu.Unlock()
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
