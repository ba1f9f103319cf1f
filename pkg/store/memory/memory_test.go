package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph(tenant string) common.KnowledgeGraph {
	g := common.NewKnowledgeGraph(tenant)
	g.Entities["alice"] = common.Entity{ID: "alice", TenantID: tenant, Types: map[string]int{"Person": 1}, SurfaceForm: "Alice"}
	g.Entities["acme"] = common.Entity{ID: "acme", TenantID: tenant, Types: map[string]int{"Organization": 1}, SurfaceForm: "Acme"}
	g.Entities["bob"] = common.Entity{ID: "bob", TenantID: tenant, Types: map[string]int{"Person": 1}, SurfaceForm: "Bob"}
	g.Relations["r1"] = common.Relation{ID: "r1", TenantID: tenant, SubjectID: "alice", Predicate: "worksFor", Object: common.EntityRef("acme"), Confidence: 0.9}
	g.Relations["r2"] = common.Relation{ID: "r2", TenantID: tenant, SubjectID: "bob", Predicate: "name", Object: common.Literal("Bob"), Confidence: 0.9}
	return g
}

func TestPublishIncrementsVersion(t *testing.T) {
	ctx := context.Background()
	s := New()

	snap, err := s.LoadGraph(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Version)
	assert.True(t, snap.Graph.IsEmpty())

	v1, err := s.PublishGraph(ctx, "t1", sampleGraph("t1"), nil, "onto-1")
	require.NoError(t, err)
	v2, err := s.PublishGraph(ctx, "t1", sampleGraph("t1"), nil, "onto-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1)
	assert.Equal(t, int64(2), v2)

	snap, err = s.LoadGraph(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	assert.Equal(t, "onto-1", snap.OntologyVersion)
	assert.Len(t, snap.Graph.Entities, 3)

	_, err = s.PublishGraph(ctx, "t1", sampleGraph("t2"), nil, "")
	assert.Error(t, err)
}

func TestReaderKeepsItsVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.PublishGraph(ctx, "t1", sampleGraph("t1"), nil, "")
	require.NoError(t, err)

	r, err := s.Reader(ctx, "t1")
	require.NoError(t, err)

	_, err = s.PublishGraph(ctx, "t1", common.NewKnowledgeGraph("t1"), nil, "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), r.Version())
	ents, err := r.GetEntities(ctx, []string{"alice", "missing", "alice"})
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "Alice", ents[0].SurfaceForm)

	loaded, err := s.LoadGraph(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, loaded.Graph.IsEmpty())
}

func TestLoadGraphReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.PublishGraph(ctx, "t1", sampleGraph("t1"), nil, "")
	require.NoError(t, err)

	snap, err := s.LoadGraph(ctx, "t1")
	require.NoError(t, err)
	delete(snap.Graph.Entities, "alice")

	again, err := s.LoadGraph(ctx, "t1")
	require.NoError(t, err)
	assert.Contains(t, again.Graph.Entities, "alice")
}

func TestSearchAndNeighbours(t *testing.T) {
	ctx := context.Background()
	s := New()
	vectors := map[string][]float32{
		"alice": {1, 0},
		"bob":   {0.8, 0.6},
		"acme":  {0, 1},
	}
	_, err := s.PublishGraph(ctx, "t1", sampleGraph("t1"), vectors, "")
	require.NoError(t, err)
	r, err := s.Reader(ctx, "t1")
	require.NoError(t, err)

	hits, err := r.SearchEntities(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "alice", hits[0].EntityID)
	assert.Equal(t, "bob", hits[1].EntityID)
	assert.InDelta(t, 0.8, hits[1].Score, 1e-6)

	hits, err = r.SearchEntities(ctx, []float32{1, 0}, 5, []string{"Organization"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "acme", hits[0].EntityID)

	rels, err := r.Neighbours(ctx, []string{"acme"})
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, "r1", rels[0].ID)

	rels, err = r.Neighbours(ctx, []string{"alice", "bob", "acme"})
	require.NoError(t, err)
	assert.Len(t, rels, 2)
}

func TestOntologyRecords(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.LoadOntology(ctx, "t1", "")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.SaveOntology(ctx, store.OntologyRecord{TenantID: "t1", Version: "a", Document: "doc a"}))
	require.NoError(t, s.SaveOntology(ctx, store.OntologyRecord{TenantID: "t1", Version: "b", Document: "doc b"}))
	require.NoError(t, s.SaveOntology(ctx, store.OntologyRecord{TenantID: "t1", Version: "a", Document: "ignored"}))

	latest, err := s.LoadOntology(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.Version)

	a, err := s.LoadOntology(ctx, "t1", "a")
	require.NoError(t, err)
	assert.Equal(t, "doc a", a.Document)
	assert.False(t, a.CreatedAt.IsZero())

	_, err = s.LoadOntology(ctx, "t2", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTenantLeaseSerializesWriters(t *testing.T) {
	ctx := context.Background()
	s := New()

	var (
		mu      sync.Mutex
		active  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.WithTenantLease(ctx, "t1", func(ctx context.Context) error {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestTenantLeaseHonoursContext(t *testing.T) {
	s := New()
	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = s.WithTenantLease(context.Background(), "t1", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.WithTenantLease(ctx, "t1", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, s.WithTenantLease(context.Background(), "t2", func(ctx context.Context) error { return nil }))
	close(release)
}
