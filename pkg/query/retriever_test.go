package query

import (
	"context"
	"fmt"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
	"github.com/OFFIS-RIT/ontograph/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tableEmbeddings map[string][]float32

func (t tableEmbeddings) EmbedBatch(_ context.Context, texts []string, task ai.EmbeddingTask) ([][]float32, error) {
	if task != ai.TaskQuery {
		return nil, fmt.Errorf("unexpected task %q", task)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, ok := t[text]
		if !ok {
			return nil, fmt.Errorf("no vector for %q", text)
		}
		out[i] = v
	}
	return out, nil
}

var queryVectors = tableEmbeddings{"alpha": {1, 0, 0}}

func entity(id string) common.Entity {
	return common.Entity{
		ID:          id,
		TenantID:    "t1",
		SurfaceForm: id,
		Types:       map[string]int{"http://example.org/onto#Thing": 1},
		Evidence: []common.EvidenceSpan{
			{Text: id + " is mentioned", Start: 0, End: 14, DocumentID: "doc-" + id, SourceURI: "s3://docs/" + id, Confidence: 1},
		},
	}
}

func link(subject, object string) common.Relation {
	r := common.Relation{
		TenantID:   "t1",
		SubjectID:  subject,
		Predicate:  "http://example.org/onto#knows",
		Object:     common.EntityRef(object),
		Confidence: 0.9,
	}
	r.ID = graph.RelationID("t1", r.Signature())
	return r
}

// publishChain stores A-B-C-D as a chain, a name literal on A and an
// isolated entity E that is similar to the query.
func publishChain(t *testing.T, extra ...common.Relation) *memory.Store {
	t.Helper()
	g := common.NewKnowledgeGraph("t1")
	for _, id := range []string{"A", "B", "C", "D", "E"} {
		g.Entities[id] = entity(id)
	}
	name := common.Relation{TenantID: "t1", SubjectID: "A", Predicate: "http://example.org/onto#name", Object: common.Literal("Alpha"), Confidence: 1}
	name.ID = graph.RelationID("t1", name.Signature())
	g.Relations[name.ID] = name
	for _, r := range append([]common.Relation{link("A", "B"), link("B", "C"), link("C", "D")}, extra...) {
		g.Relations[r.ID] = r
	}

	vectors := map[string][]float32{
		"A": {1, 0, 0},
		"B": {0.6, 0.8, 0},
		"C": {0, 1, 0},
		"D": {0, 0, 1},
		"E": {0.9, 0.1, 0},
	}
	s := memory.New()
	_, err := s.PublishGraph(context.Background(), "t1", g, vectors, "v1")
	require.NoError(t, err)
	return s
}

func newTestRetriever(t *testing.T, s *memory.Store) *Retriever {
	t.Helper()
	r, err := NewRetriever(NewRetrieverParams{Snapshots: s, Embeddings: queryVectors, SeedCount: 1})
	require.NoError(t, err)
	return r
}

func entityIDs(c *Context) []string {
	var ids []string
	for _, e := range c.Entities {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestRetrieveOneHop(t *testing.T) {
	s := publishChain(t)
	r := newTestRetriever(t, s)

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 1, 10)
	require.NoError(t, err)

	assert.Equal(t, int64(1), out.GraphVersion)
	assert.Equal(t, []string{"A", "B"}, entityIDs(out), "the isolated entity E is not reachable")
	assert.Equal(t, 0, out.Entities[0].Distance)
	assert.Equal(t, 1, out.Entities[1].Distance)
	assert.Greater(t, out.Entities[0].Score, out.Entities[1].Score)
	assert.Equal(t, []string{"Thing"}, out.Entities[0].Types)

	require.Len(t, out.Relations, 2)
	assert.Equal(t, "Alpha", out.Relations[0].Object)
	assert.Empty(t, out.Relations[0].ObjectID)
	assert.Equal(t, "A", out.Relations[1].Subject)
	assert.Equal(t, "B", out.Relations[1].Object)
	assert.Equal(t, "knows", out.Relations[1].Predicate)
	assert.InDelta(t, (out.Entities[0].Score+out.Entities[1].Score)/2, out.Relations[1].Score, 1e-12)

	require.Len(t, out.Entities[0].Evidence, 1)
	assert.Equal(t, "s3://docs/A", out.Entities[0].Evidence[0].SourceURI)
	assert.Equal(t, []string{"doc-A", "doc-B"}, out.SourceIDs())
	assert.Contains(t, out.Text, "- A -knows-> B")
	assert.Contains(t, out.Text, `evidence: "A is mentioned" (doc-A, s3://docs/A, 0-14)`)
	assert.False(t, out.Truncated)
}

func TestRetrieveStopsAtMaxNodes(t *testing.T) {
	r := newTestRetriever(t, publishChain(t))

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 5, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, entityIDs(out))
	for _, rel := range out.Relations {
		assert.NotEqual(t, "D", rel.ObjectID)
	}
}

func TestRetrieveCycleVisitsOnce(t *testing.T) {
	r := newTestRetriever(t, publishChain(t, link("D", "A"), link("B", "A")))
	trace := NewRetrievalTrace()

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 10, 20, WithTracer(trace))
	require.NoError(t, err)

	ids := entityIDs(out)
	assert.ElementsMatch(t, []string{"A", "B", "C", "D"}, ids)
	distances := map[string]int{}
	for _, e := range out.Entities {
		distances[e.ID] = e.Distance
	}
	assert.Equal(t, map[string]int{"A": 0, "B": 1, "D": 1, "C": 2}, distances)

	snap := trace.Snapshot()
	assert.Equal(t, []string{"A"}, snap.SeedEntityIDs)
	assert.Equal(t, []string{"B", "C", "D"}, snap.ExpandedEntityIDs)
	assert.Equal(t, 2, snap.MaxHop)
	assert.Len(t, snap.RelationIDs, 6)
}

func TestRetrieveTruncatesLowestRanked(t *testing.T) {
	s := publishChain(t)
	r := newTestRetriever(t, s)
	ctx := context.Background()

	full, err := r.Retrieve(ctx, "t1", "alpha", 2, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, entityIDs(full))

	budget := graph.RuneCount(full.Text) - 1
	trace := NewRetrievalTrace()
	out, err := r.Retrieve(ctx, "t1", "alpha", 2, 10, WithBudget(budget), WithTracer(trace))
	require.NoError(t, err)

	assert.True(t, out.Truncated)
	assert.LessOrEqual(t, graph.RuneCount(out.Text), budget)
	assert.Equal(t, []string{"A", "B"}, entityIDs(out))
	for _, rel := range out.Relations {
		assert.NotEqual(t, "C", rel.SubjectID)
		assert.NotEqual(t, "C", rel.ObjectID)
	}
	assert.Equal(t, 2, trace.Snapshot().Dropped, "C and its relation to B")

	tiny, err := r.Retrieve(ctx, "t1", "alpha", 2, 10, WithBudget(1))
	require.NoError(t, err)
	assert.Empty(t, tiny.Entities)
	assert.Empty(t, tiny.Relations)
}

func TestRetrieveTypeFilter(t *testing.T) {
	r := newTestRetriever(t, publishChain(t))

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 1, 10, WithTypeFilter("http://example.org/onto#Other"))
	require.NoError(t, err)
	assert.Empty(t, out.Entities)
}

func TestRetrieveErrors(t *testing.T) {
	r := newTestRetriever(t, memory.New())

	_, err := r.Retrieve(context.Background(), "t1", "  ", 1, 10)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = r.Retrieve(context.Background(), "", "alpha", 1, 10)
	assert.Error(t, err)

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 1, 10)
	require.NoError(t, err)
	assert.Zero(t, out.GraphVersion)
	assert.Empty(t, out.Entities)

	_, err = NewRetriever(NewRetrieverParams{Embeddings: queryVectors})
	assert.Error(t, err)
}

func TestFuseWeights(t *testing.T) {
	candidates := []candidate{
		{ID: "a", Distance: 0, Similarity: 0.9, Searched: true},
		{ID: "b", Distance: 1, Similarity: 0.95, Searched: true},
		{ID: "c", Distance: 1},
	}

	even := fuse(candidates, 1, 1)
	assert.InDelta(t, 1/61.0+1/62.0, even["a"], 1e-12)
	assert.InDelta(t, even["a"], even["b"], 1e-12)
	assert.InDelta(t, 1/63.0, even["c"], 1e-12)
	assert.Equal(t, []string{"a", "b", "c"}, rankIDs([]string{"c", "b", "a"}, even))

	vectorHeavy := fuse(candidates, 2, 1)
	assert.Equal(t, []string{"b", "a", "c"}, rankIDs([]string{"a", "b", "c"}, vectorHeavy))
}

// prunedReader fails like a reader whose version was removed.
type prunedReader struct{}

func (prunedReader) Version() int64 { return 1 }

func (prunedReader) SearchEntities(context.Context, []float32, int, []string) ([]store.SearchHit, error) {
	return nil, fmt.Errorf("search_entities: %w", store.ErrVersionPruned)
}

func (prunedReader) GetEntities(context.Context, []string) ([]common.Entity, error) {
	return nil, store.ErrVersionPruned
}

func (prunedReader) Neighbours(context.Context, []string) ([]common.Relation, error) {
	return nil, store.ErrVersionPruned
}

// reopeningSnapshots hands out pruned readers first, then the store's.
type reopeningSnapshots struct {
	store  *memory.Store
	pruned int
	opened int
}

func (s *reopeningSnapshots) Reader(ctx context.Context, tenantID string) (store.GraphReader, error) {
	s.opened++
	if s.opened <= s.pruned {
		return prunedReader{}, nil
	}
	return s.store.Reader(ctx, tenantID)
}

func TestRetrieveReopensPrunedVersion(t *testing.T) {
	snaps := &reopeningSnapshots{store: publishChain(t), pruned: 1}
	r, err := NewRetriever(NewRetrieverParams{Snapshots: snaps, Embeddings: queryVectors, SeedCount: 1})
	require.NoError(t, err)

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, snaps.opened)
	assert.Equal(t, []string{"A", "B"}, entityIDs(out))

	snaps.opened, snaps.pruned = 0, 2
	_, err = r.Retrieve(context.Background(), "t1", "alpha", 1, 10)
	assert.ErrorIs(t, err, store.ErrVersionPruned)
	assert.Equal(t, 2, snaps.opened)
}

func TestNewRetrieverWeights(t *testing.T) {
	s := memory.New()
	base := NewRetrieverParams{Snapshots: s, Embeddings: queryVectors}

	vectorOnly := base
	vectorOnly.GraphWeight = new(0.0)
	r, err := NewRetriever(vectorOnly)
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.vectorWeight)
	assert.Zero(t, r.graphWeight)

	none := base
	none.VectorWeight, none.GraphWeight = new(0.0), new(0.0)
	_, err = NewRetriever(none)
	assert.Error(t, err)

	negative := base
	negative.VectorWeight = new(-1.0)
	_, err = NewRetriever(negative)
	assert.Error(t, err)
}

func TestRetrieveGraphOnlyRanking(t *testing.T) {
	s := publishChain(t)
	r, err := NewRetriever(NewRetrieverParams{Snapshots: s, Embeddings: queryVectors, SeedCount: 1, VectorWeight: new(0.0)})
	require.NoError(t, err)

	out, err := r.Retrieve(context.Background(), "t1", "alpha", 2, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, entityIDs(out))
	assert.InDelta(t, 1/61.0, out.Entities[0].Score, 1e-12)
	assert.InDelta(t, 1/62.0, out.Entities[1].Score, 1e-12)
	assert.InDelta(t, 1/63.0, out.Entities[2].Score, 1e-12)
}
