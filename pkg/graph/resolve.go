package graph

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/embedding"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/ontology"
)

// DefaultResolveThreshold is the similarity above which two entities of a
// shared type are considered the same.
const DefaultResolveThreshold = 0.85

// Pair indexes two entities of the slice handed to a Scorer.
type Pair struct {
	I, J int
}

// Scorer computes similarities for pairs of entities.
type Scorer interface {
	Score(ctx context.Context, entities []common.Entity, pairs []Pair) ([]float64, error)
}

// EntityProfile renders the text an entity is embedded with:
// its surface form followed by the labels of its classes.
func EntityProfile(e common.Entity, index *ontology.KnowledgeIndex) string {
	labels := make([]string, 0, len(e.Types))
	for _, t := range e.TypeIDs() {
		labels = append(labels, index.Label(t))
	}
	return e.SurfaceForm + " | " + strings.Join(labels, ", ")
}

// EmbeddingScorer scores pairs by cosine similarity of entity profiles.
type EmbeddingScorer struct {
	Embeddings Embeddings
	Index      *ontology.KnowledgeIndex
}

func (s EmbeddingScorer) Score(ctx context.Context, entities []common.Entity, pairs []Pair) ([]float64, error) {
	profiles := make([]string, len(entities))
	for i, e := range entities {
		profiles[i] = EntityProfile(e, s.Index)
	}
	vecs, err := s.Embeddings.EmbedBatch(ctx, profiles, ai.TaskSimilarity)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(pairs))
	for k, p := range pairs {
		out[k] = embedding.Cosine(vecs[p.I], vecs[p.J])
	}
	return out, nil
}

// ResolveStats reports what entity resolution changed.
type ResolveStats struct {
	Clusters          int `json:"clusters"`
	Merged            int `json:"merged"`
	DroppedSelfLoops  int `json:"dropped_self_loops"`
	CollapsedRelation int `json:"collapsed_relations"`
}

// Resolver merges near-duplicate entities.
type Resolver struct {
	scorer    Scorer
	threshold float64
}

// NewResolverParams configures a Resolver. A nil Threshold selects 0.85.
type NewResolverParams struct {
	Scorer    Scorer
	Threshold *float64
}

func NewResolver(params NewResolverParams) *Resolver {
	threshold := DefaultResolveThreshold
	if params.Threshold != nil {
		threshold = clamp01(*params.Threshold)
	}
	return &Resolver{scorer: params.Scorer, threshold: threshold}
}

// Resolve clusters entities that share a type and are similar above the
// threshold, transitively. Each cluster collapses into its canonical
// entity, which records the other identifiers in SameAs. Relations are
// rewritten to canonical identifiers; relations that become self loops
// are dropped.
func (r *Resolver) Resolve(ctx context.Context, g common.KnowledgeGraph) (common.KnowledgeGraph, ResolveStats, error) {
	return r.resolve(ctx, g, nil)
}

// ResolveTouched is Resolve restricted to candidate pairs with at least one
// entity in touched. Pairs of untouched entities were compared by earlier
// runs and are not scored again.
func (r *Resolver) ResolveTouched(
	ctx context.Context,
	g common.KnowledgeGraph,
	touched []string,
) (common.KnowledgeGraph, ResolveStats, error) {
	focus := make(map[string]struct{}, len(touched))
	for _, id := range touched {
		focus[id] = struct{}{}
	}
	return r.resolve(ctx, g, focus)
}

func (r *Resolver) resolve(
	ctx context.Context,
	g common.KnowledgeGraph,
	focus map[string]struct{},
) (common.KnowledgeGraph, ResolveStats, error) {
	var stats ResolveStats
	g = Normalize(g)

	ids := g.EntityIDs()
	entities := make([]common.Entity, len(ids))
	for i, id := range ids {
		entities[i] = g.Entities[id]
	}

	pairs := candidatePairs(entities, focus)
	if len(pairs) == 0 {
		return g, stats, nil
	}

	scores, err := r.score(ctx, entities, pairs)
	if err != nil {
		return common.KnowledgeGraph{}, stats, fmt.Errorf("scoring entity pairs: %w", err)
	}

	parent := make([]int, len(entities))
	for i := range parent {
		parent[i] = i
	}
	var find func(x int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(x, y int) {
		px, py := find(x), find(y)
		if px != py {
			parent[max(px, py)] = min(px, py)
		}
	}
	for k, p := range pairs {
		if scores[k] >= r.threshold {
			union(p.I, p.J)
		}
	}

	clusters := map[int][]int{}
	for i := range entities {
		root := find(i)
		clusters[root] = append(clusters[root], i)
	}

	canonicalOf := map[string]string{}
	out := common.KnowledgeGraph{
		TenantID:  g.TenantID,
		Entities:  make(map[string]common.Entity, len(entities)),
		Relations: make(map[string]common.Relation, len(g.Relations)),
	}
	for _, members := range clusters {
		if len(members) == 1 {
			e := entities[members[0]]
			out.Entities[e.ID] = e
			continue
		}
		stats.Clusters++

		cluster := make([]common.Entity, len(members))
		for k, m := range members {
			cluster[k] = entities[m]
		}
		slices.SortFunc(cluster, compareCanonical)

		canonical := cluster[0]
		for _, other := range cluster[1:] {
			canonical = mergeEntity(canonical, other)
			canonical.SameAs = unionSorted(canonical.SameAs, []string{other.ID})
			canonicalOf[other.ID] = canonical.ID
			stats.Merged++
		}
		out.Entities[canonical.ID] = canonical
		logger.Debug("[Resolve] Merged entity cluster", "canonical", canonical.ID, "same_as", canonical.SameAs)
	}

	rewrite := func(id string) string {
		if c, ok := canonicalOf[id]; ok {
			return c
		}
		return id
	}
	for _, id := range g.RelationIDs() {
		rel := g.Relations[id]
		rel.SubjectID = rewrite(rel.SubjectID)
		if obj, ok := rel.Object.EntityID(); ok {
			obj = rewrite(obj)
			if obj == rel.SubjectID {
				stats.DroppedSelfLoops++
				continue
			}
			rel.Object = common.EntityRef(obj)
		}
		rel.ID = RelationID(g.TenantID, rel.Signature())
		if prev, ok := out.Relations[rel.ID]; ok {
			out.Relations[rel.ID] = mergeRelation(prev, rel)
			stats.CollapsedRelation++
			continue
		}
		out.Relations[rel.ID] = rel
	}

	return out, stats, nil
}

// compareCanonical orders cluster members so the canonical entity comes
// first: most evidence, then highest grounding, then earliest creation.
// The identifier breaks remaining ties.
func compareCanonical(a, b common.Entity) int {
	if c := cmp.Compare(len(b.Evidence), len(a.Evidence)); c != 0 {
		return c
	}
	if c := cmp.Compare(b.GroundingValue(), a.GroundingValue()); c != 0 {
		return c
	}
	switch {
	case a.CreatedAt.IsZero() && !b.CreatedAt.IsZero():
		return 1
	case !a.CreatedAt.IsZero() && b.CreatedAt.IsZero():
		return -1
	}
	if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.ID, b.ID)
}

// candidatePairs lists entity pairs sharing a type, in index order. With a
// non-nil focus only pairs with a member in focus are listed.
func candidatePairs(entities []common.Entity, focus map[string]struct{}) []Pair {
	byType := map[string][]int{}
	for i, e := range entities {
		for t := range e.Types {
			byType[t] = append(byType[t], i)
		}
	}

	inFocus := func(i int) bool {
		if focus == nil {
			return true
		}
		_, ok := focus[entities[i].ID]
		return ok
	}

	seen := map[Pair]struct{}{}
	var pairs []Pair
	for i, e := range entities {
		if !inFocus(i) {
			continue
		}
		for t := range e.Types {
			for _, j := range byType[t] {
				if j == i || (j < i && inFocus(j)) {
					continue
				}
				p := Pair{I: min(i, j), J: max(i, j)}
				if _, ok := seen[p]; ok {
					continue
				}
				seen[p] = struct{}{}
				pairs = append(pairs, p)
			}
		}
	}
	slices.SortFunc(pairs, func(a, b Pair) int {
		if c := cmp.Compare(a.I, b.I); c != 0 {
			return c
		}
		return cmp.Compare(a.J, b.J)
	})
	return pairs
}

// score hands the scorer only the entities that occur in pairs.
func (r *Resolver) score(ctx context.Context, entities []common.Entity, pairs []Pair) ([]float64, error) {
	local := map[int]int{}
	var subset []common.Entity
	remapped := make([]Pair, len(pairs))
	at := func(i int) int {
		if k, ok := local[i]; ok {
			return k
		}
		local[i] = len(subset)
		subset = append(subset, entities[i])
		return local[i]
	}
	for k, p := range pairs {
		remapped[k] = Pair{I: at(p.I), J: at(p.J)}
	}
	scores, err := r.scorer.Score(ctx, subset, remapped)
	if err != nil {
		return nil, err
	}
	if len(scores) != len(pairs) {
		return nil, fmt.Errorf("scorer returned %d scores for %d pairs", len(scores), len(pairs))
	}
	return scores, nil
}
