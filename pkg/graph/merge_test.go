package graph

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pick[T any](r *rand.Rand, xs ...T) T {
	return xs[r.IntN(len(xs))]
}

func randomSpan(r *rand.Rand) common.EvidenceSpan {
	start := pick(r, 0, 5, 10, 20)
	return common.EvidenceSpan{
		Text:       fmt.Sprintf("span %d", start),
		Start:      start,
		End:        start + 5,
		DocumentID: pick(r, "d1", "d2"),
		Confidence: pick(r, 0.5, 0.7, 0.9),
	}
}

func randomGraph(r *rand.Rand) common.KnowledgeGraph {
	g := common.NewKnowledgeGraph("t1")
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for range r.IntN(5) {
		id := pick(r, "e1", "e2", "e3", "e4")
		e := common.Entity{
			ID:          id,
			TenantID:    "t1",
			SurfaceForm: pick(r, "", "Alice", "alice", "ALICE"),
			Types:       map[string]int{pick(r, "A", "B", "C"): 1 + r.IntN(3)},
		}
		for range r.IntN(3) {
			e.Evidence = append(e.Evidence, randomSpan(r))
		}
		if r.IntN(2) == 0 {
			e.Attributes = map[string]string{pick(r, "k1", "k2"): pick(r, "x", "y")}
		}
		if r.IntN(2) == 0 {
			v := pick(r, 0.1, 0.6, 0.95)
			e.Grounding = &v
		}
		if r.IntN(2) == 0 {
			e.CreatedAt = base.Add(time.Duration(r.IntN(3)) * time.Hour)
		}
		if r.IntN(3) == 0 {
			e.SameAs = []string{pick(r, "x1", "x2")}
		}
		g.Entities[id] = e
	}

	for range r.IntN(5) {
		rel := common.Relation{
			TenantID:   "t1",
			SubjectID:  pick(r, "e1", "e2"),
			Predicate:  pick(r, "p", "q"),
			Object:     pick(r, common.Literal("e3"), common.EntityRef("e3"), common.EntityRef("e4")),
			Confidence: pick(r, 0.2, 0.8, 1.0),
		}
		for range r.IntN(3) {
			rel.Evidence = append(rel.Evidence, randomSpan(r))
		}
		rel.ID = RelationID("t1", rel.Signature())
		g.Relations[rel.ID] = rel
	}
	return Normalize(g)
}

func TestMergeMonoidLaws(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for i := range 300 {
		a, b, c := randomGraph(r), randomGraph(r), randomGraph(r)

		require.Equal(t, Merge(Merge(a, b), c), Merge(a, Merge(b, c)), "associativity, case %d", i)
		require.Equal(t, a, Merge(Empty(), a), "left identity, case %d", i)
		require.Equal(t, a, Merge(a, Empty()), "right identity, case %d", i)
	}
}

func TestMergeAllMatchesSequentialFold(t *testing.T) {
	r := rand.New(rand.NewPCG(3, 4))
	for range 50 {
		graphs := make([]common.KnowledgeGraph, r.IntN(9))
		for i := range graphs {
			graphs[i] = randomGraph(r)
		}
		want := Empty()
		for _, g := range graphs {
			want = Merge(want, g)
		}
		require.Equal(t, want, MergeAll(graphs...))
	}
}

func TestMergeSelfDoesNotDuplicateEvidence(t *testing.T) {
	r := rand.New(rand.NewPCG(5, 6))
	for range 100 {
		a := randomGraph(r)
		aa := Merge(a, a)
		for id, e := range a.Entities {
			assert.Len(t, aa.Entities[id].Evidence, len(e.Evidence))
		}
		for id, rel := range a.Relations {
			assert.Len(t, aa.Relations[id].Evidence, len(rel.Evidence))
		}
	}
}

func TestMergeEntityFields(t *testing.T) {
	low, high := 0.4, 0.9
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	span := common.EvidenceSpan{DocumentID: "d1", Start: 0, End: 5, Text: "Alice", Confidence: 0.5}
	stronger := span
	stronger.Confidence = 0.8

	a := common.NewKnowledgeGraph("t1")
	a.Entities["e1"] = common.Entity{
		ID: "e1", TenantID: "t1", SurfaceForm: "Alice",
		Types:      map[string]int{"Person": 1},
		Attributes: map[string]string{"role": "engineer"},
		Evidence:   []common.EvidenceSpan{span},
		Grounding:  &low,
		CreatedAt:  late,
	}
	b := common.NewKnowledgeGraph("t1")
	b.Entities["e1"] = common.Entity{
		ID: "e1", TenantID: "t1", SurfaceForm: "alice",
		Types:      map[string]int{"Person": 2, "Agent": 1},
		Attributes: map[string]string{"role": "manager", "team": "graph"},
		Evidence:   []common.EvidenceSpan{stronger},
		Grounding:  &high,
		CreatedAt:  early,
	}

	got := Merge(a, b).Entities["e1"]
	assert.Equal(t, "Alice", got.SurfaceForm)
	assert.Equal(t, map[string]int{"Person": 3, "Agent": 1}, got.Types)
	assert.Equal(t, map[string]string{"role": "engineer", "team": "graph"}, got.Attributes)
	assert.Equal(t, []common.EvidenceSpan{stronger}, got.Evidence)
	assert.InDelta(t, 0.9, got.GroundingValue(), 1e-9)
	assert.Equal(t, early, got.CreatedAt)

	// inputs stay untouched
	assert.Equal(t, map[string]int{"Person": 1}, a.Entities["e1"].Types)
	assert.Equal(t, "engineer", a.Entities["e1"].Attributes["role"])
}

func TestMergeIsNotCommutative(t *testing.T) {
	a := common.NewKnowledgeGraph("t1")
	a.Entities["e1"] = common.Entity{ID: "e1", SurfaceForm: "Acme Corp", Attributes: map[string]string{"city": "Berlin"}}
	b := common.NewKnowledgeGraph("t1")
	b.Entities["e1"] = common.Entity{ID: "e1", SurfaceForm: "ACME", Attributes: map[string]string{"city": "Oldenburg"}}

	ab := Merge(a, b).Entities["e1"]
	ba := Merge(b, a).Entities["e1"]
	assert.NotEqual(t, ab, ba)
	assert.Equal(t, "Acme Corp", ab.SurfaceForm)
	assert.Equal(t, "ACME", ba.SurfaceForm)
	assert.Equal(t, "Berlin", ab.Attributes["city"])
	assert.Equal(t, "Oldenburg", ba.Attributes["city"])
}

func TestMergeRelationsBySignature(t *testing.T) {
	rel := common.Relation{TenantID: "t1", SubjectID: "e1", Predicate: "worksFor", Object: common.EntityRef("e2"), Confidence: 0.6}
	rel.ID = RelationID("t1", rel.Signature())
	lit := rel
	lit.Object = common.Literal("e2")
	lit.ID = RelationID("t1", lit.Signature())
	require.NotEqual(t, rel.ID, lit.ID)

	other := rel
	other.Confidence = 0.85
	other.Evidence = []common.EvidenceSpan{{DocumentID: "d1", Start: 0, End: 26}}

	a := common.NewKnowledgeGraph("t1")
	a.Relations[rel.ID] = rel
	a.Relations[lit.ID] = lit
	b := common.NewKnowledgeGraph("t1")
	b.Relations[other.ID] = other

	got := Merge(a, b)
	require.Len(t, got.Relations, 2)
	assert.InDelta(t, 0.85, got.Relations[rel.ID].Confidence, 1e-9)
	assert.Len(t, got.Relations[rel.ID].Evidence, 1)
}

func TestMergeChecked(t *testing.T) {
	_, err := MergeChecked(common.NewKnowledgeGraph("t1"), common.NewKnowledgeGraph("t2"))
	require.ErrorIs(t, err, ErrTenantMismatch)

	g, err := MergeChecked(Empty(), common.NewKnowledgeGraph("t2"))
	require.NoError(t, err)
	assert.Equal(t, "t2", g.TenantID)
}

func TestEntityIDNormalizesSurfaceForm(t *testing.T) {
	assert.Equal(t, EntityID("t1", "Acme  Corp"), EntityID("t1", "acme corp"))
	assert.NotEqual(t, EntityID("t1", "Acme Corp"), EntityID("t2", "Acme Corp"))
}

func TestPruneTypes(t *testing.T) {
	g := common.NewKnowledgeGraph("t1")
	g.Entities["e1"] = common.Entity{ID: "e1", Types: map[string]int{"Person": 7, "Organization": 1, "Agent": 2}}
	g.Entities["e2"] = common.Entity{ID: "e2", Types: map[string]int{"Person": 1, "Organization": 1}}

	got := PruneTypes(g, TypeVoteMinShare)
	assert.Equal(t, map[string]int{"Person": 7}, got.Entities["e1"].Types)
	assert.Equal(t, map[string]int{"Person": 1, "Organization": 1}, got.Entities["e2"].Types)
	assert.Len(t, g.Entities["e1"].Types, 3)
}
