package graph

import (
	"context"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func person(id string, evidence int) common.Entity {
	e := common.Entity{ID: id, TenantID: "t1", SurfaceForm: id, Types: map[string]int{"Person": 1}}
	for i := range evidence {
		e.Evidence = append(e.Evidence, common.EvidenceSpan{DocumentID: "d-" + id, Start: i, End: i + 1, Confidence: 1})
	}
	return e
}

func entityRelation(subject, predicate, object string) common.Relation {
	r := common.Relation{TenantID: "t1", SubjectID: subject, Predicate: predicate, Object: common.EntityRef(object), Confidence: 0.9}
	r.ID = RelationID("t1", r.Signature())
	return r
}

func TestResolveTransitiveCluster(t *testing.T) {
	g := common.NewKnowledgeGraph("t1")
	g.Entities["A"] = person("A", 2)
	g.Entities["B"] = person("B", 1)
	g.Entities["C"] = person("C", 1)
	g.Entities["D"] = common.Entity{ID: "D", TenantID: "t1", SurfaceForm: "D", Types: map[string]int{"Org": 1}}

	knows := entityRelation("B", "knows", "A")
	worksFor := entityRelation("C", "worksFor", "D")
	g.Relations[knows.ID] = knows
	g.Relations[worksFor.ID] = worksFor

	scorer := &tableScorer{scores: map[[2]string]float64{
		{"A", "B"}: 0.9,
		{"B", "C"}: 0.9,
		{"A", "C"}: 0.5,
	}}
	r := NewResolver(NewResolverParams{Scorer: scorer, Threshold: new(0.85)})

	out, stats, err := r.Resolve(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, ResolveStats{Clusters: 1, Merged: 2, DroppedSelfLoops: 1}, stats)
	require.Len(t, out.Entities, 2)
	canonical, ok := out.Entities["A"]
	require.True(t, ok)
	assert.Equal(t, []string{"B", "C"}, canonical.SameAs)
	assert.Len(t, canonical.Evidence, 4)

	require.Len(t, out.Relations, 1)
	for id, rel := range out.Relations {
		assert.Equal(t, "A", rel.SubjectID)
		assert.Equal(t, common.EntityRef("D"), rel.Object)
		assert.Equal(t, RelationID("t1", rel.Signature()), id)
	}

	for _, pair := range scorer.asked {
		assert.NotContains(t, pair, "D", "entities without a shared type must not be compared")
	}
}

func TestResolveCollapsesRelations(t *testing.T) {
	g := common.NewKnowledgeGraph("t1")
	g.Entities["A"] = person("A", 1)
	g.Entities["B"] = person("B", 0)
	g.Entities["D"] = common.Entity{ID: "D", TenantID: "t1", Types: map[string]int{"Org": 1}}
	r1 := entityRelation("A", "worksFor", "D")
	r2 := entityRelation("B", "worksFor", "D")
	r2.Confidence = 0.95
	g.Relations[r1.ID] = r1
	g.Relations[r2.ID] = r2

	scorer := &tableScorer{scores: map[[2]string]float64{{"A", "B"}: 0.99}}
	out, stats, err := NewResolver(NewResolverParams{Scorer: scorer}).Resolve(context.Background(), g)
	require.NoError(t, err)

	assert.Equal(t, 1, stats.CollapsedRelation)
	require.Len(t, out.Relations, 1)
	require.Contains(t, out.Relations, r1.ID)
	assert.Equal(t, 0.95, out.Relations[r1.ID].Confidence)
}

func TestResolveBelowThresholdKeepsEntities(t *testing.T) {
	g := common.NewKnowledgeGraph("t1")
	g.Entities["A"] = person("A", 1)
	g.Entities["B"] = person("B", 1)

	scorer := &tableScorer{scores: map[[2]string]float64{{"A", "B"}: 0.84}}
	out, stats, err := NewResolver(NewResolverParams{Scorer: scorer}).Resolve(context.Background(), g)
	require.NoError(t, err)
	assert.Equal(t, ResolveStats{}, stats)
	assert.Len(t, out.Entities, 2)
}

func TestCompareCanonical(t *testing.T) {
	early := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(time.Hour)
	high, low := 0.9, 0.4

	tests := []struct {
		name string
		a, b common.Entity
		want int
	}{
		{
			name: "more evidence first",
			a:    person("x", 1),
			b:    person("y", 2),
			want: 1,
		},
		{
			name: "higher grounding first",
			a:    common.Entity{ID: "x", Grounding: &high},
			b:    common.Entity{ID: "y", Grounding: &low},
			want: -1,
		},
		{
			name: "earlier creation first",
			a:    common.Entity{ID: "x", CreatedAt: late},
			b:    common.Entity{ID: "y", CreatedAt: early},
			want: 1,
		},
		{
			name: "known creation before unknown",
			a:    common.Entity{ID: "y", CreatedAt: late},
			b:    common.Entity{ID: "x"},
			want: -1,
		},
		{
			name: "id breaks ties",
			a:    common.Entity{ID: "x"},
			b:    common.Entity{ID: "y"},
			want: -1,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, compareCanonical(tt.a, tt.b))
		})
	}
}

func TestResolveTouchedSkipsUntouchedPairs(t *testing.T) {
	g := common.NewKnowledgeGraph("t1")
	for _, id := range []string{"A", "B", "C", "N"} {
		g.Entities[id] = person(id, 1)
	}
	g.Entities["O"] = common.Entity{ID: "O", TenantID: "t1", Types: map[string]int{"Org": 1}}

	scorer := &tableScorer{scores: map[[2]string]float64{
		{"A", "B"}: 0.99,
		{"A", "N"}: 0.9,
	}}
	out, stats, err := NewResolver(NewResolverParams{Scorer: scorer}).ResolveTouched(context.Background(), g, []string{"N"})
	require.NoError(t, err)

	assert.ElementsMatch(t, [][2]string{{"A", "N"}, {"B", "N"}, {"C", "N"}}, scorer.asked)
	assert.Equal(t, 1, stats.Merged)
	assert.Contains(t, out.Entities, "B", "A and B were compared before and stay apart")
	assert.Equal(t, []string{"N"}, out.Entities["A"].SameAs)
}
