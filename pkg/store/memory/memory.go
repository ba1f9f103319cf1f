package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/embedding"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
)

// Store keeps tenant graphs in process memory. Each publish replaces the
// tenant head pointer atomically, so readers never see a partial graph.
type Store struct {
	mu      sync.Mutex
	tenants map[string]*tenant
	now     func() time.Time
}

type tenant struct {
	head       atomic.Pointer[snapshot]
	lease      chan struct{}
	ontologyMu sync.RWMutex
	ontologies []store.OntologyRecord
}

type snapshot struct {
	store.Snapshot
	vectors   map[string][]float32
	adjacency map[string][]string
}

func New() *Store {
	return &Store{
		tenants: map[string]*tenant{},
		now:     time.Now,
	}
}

func (s *Store) tenant(id string) *tenant {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[id]
	if !ok {
		t = &tenant{lease: make(chan struct{}, 1)}
		s.tenants[id] = t
	}
	return t
}

func (s *Store) LoadGraph(_ context.Context, tenantID string) (store.Snapshot, error) {
	snap := s.tenant(tenantID).head.Load()
	if snap == nil {
		return store.Snapshot{Graph: common.NewKnowledgeGraph(tenantID)}, nil
	}
	out := snap.Snapshot
	out.Graph.Entities = maps.Clone(out.Graph.Entities)
	out.Graph.Relations = maps.Clone(out.Graph.Relations)
	return out, nil
}

func (s *Store) PublishGraph(
	_ context.Context,
	tenantID string,
	g common.KnowledgeGraph,
	vectors map[string][]float32,
	ontologyVersion string,
) (int64, error) {
	if g.TenantID != "" && g.TenantID != tenantID {
		return 0, fmt.Errorf("publishing graph of tenant %q as %q", g.TenantID, tenantID)
	}
	t := s.tenant(tenantID)

	next := &snapshot{
		Snapshot: store.Snapshot{
			OntologyVersion: ontologyVersion,
			PublishedAt:     s.now(),
			Graph: common.KnowledgeGraph{
				TenantID:  tenantID,
				Entities:  maps.Clone(g.Entities),
				Relations: maps.Clone(g.Relations),
			},
		},
		vectors:   maps.Clone(vectors),
		adjacency: map[string][]string{},
	}
	if next.Graph.Entities == nil {
		next.Graph.Entities = map[string]common.Entity{}
	}
	if next.Graph.Relations == nil {
		next.Graph.Relations = map[string]common.Relation{}
	}
	for _, id := range next.Graph.RelationIDs() {
		r := next.Graph.Relations[id]
		next.adjacency[r.SubjectID] = append(next.adjacency[r.SubjectID], id)
		if obj, ok := r.Object.EntityID(); ok && obj != r.SubjectID {
			next.adjacency[obj] = append(next.adjacency[obj], id)
		}
	}

	for {
		prev := t.head.Load()
		next.Version = 1
		if prev != nil {
			next.Version = prev.Version + 1
		}
		if t.head.CompareAndSwap(prev, next) {
			return next.Version, nil
		}
	}
}

func (s *Store) Reader(_ context.Context, tenantID string) (store.GraphReader, error) {
	snap := s.tenant(tenantID).head.Load()
	if snap == nil {
		snap = &snapshot{Snapshot: store.Snapshot{Graph: common.NewKnowledgeGraph(tenantID)}}
	}
	return &reader{snap: snap}, nil
}

func (s *Store) SaveOntology(_ context.Context, rec store.OntologyRecord) error {
	t := s.tenant(rec.TenantID)
	t.ontologyMu.Lock()
	defer t.ontologyMu.Unlock()
	for _, existing := range t.ontologies {
		if existing.Version == rec.Version {
			return nil
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	t.ontologies = append(t.ontologies, rec)
	return nil
}

func (s *Store) LoadOntology(_ context.Context, tenantID, version string) (store.OntologyRecord, error) {
	t := s.tenant(tenantID)
	t.ontologyMu.RLock()
	defer t.ontologyMu.RUnlock()
	if len(t.ontologies) == 0 {
		return store.OntologyRecord{}, store.ErrNotFound
	}
	if version == "" {
		return t.ontologies[len(t.ontologies)-1], nil
	}
	for _, rec := range t.ontologies {
		if rec.Version == version {
			return rec, nil
		}
	}
	return store.OntologyRecord{}, store.ErrNotFound
}

// WithTenantLease serializes writers per tenant within this process.
func (s *Store) WithTenantLease(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	t := s.tenant(tenantID)
	select {
	case t.lease <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.lease }()
	return fn(ctx)
}

type reader struct {
	snap *snapshot
}

func (r *reader) Version() int64 { return r.snap.Version }

func (r *reader) SearchEntities(_ context.Context, vector []float32, k int, typeFilter []string) ([]store.SearchHit, error) {
	if k <= 0 || len(vector) == 0 {
		return nil, nil
	}
	hits := make([]store.SearchHit, 0, len(r.snap.vectors))
	for id, v := range r.snap.vectors {
		e, ok := r.snap.Graph.Entities[id]
		if !ok || !store.HasAnyType(e.Types, typeFilter) {
			continue
		}
		hits = append(hits, store.SearchHit{EntityID: id, Score: embedding.Cosine(vector, v)})
	}
	slices.SortFunc(hits, func(a, b store.SearchHit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.EntityID, b.EntityID)
	})
	return hits[:min(k, len(hits))], nil
}

func (r *reader) GetEntities(_ context.Context, ids []string) ([]common.Entity, error) {
	out := make([]common.Entity, 0, len(ids))
	for _, id := range store.DedupeStrings(ids) {
		if e, ok := r.snap.Graph.Entities[id]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *reader) Neighbours(_ context.Context, ids []string) ([]common.Relation, error) {
	seen := map[string]bool{}
	var relIDs []string
	for _, id := range store.DedupeStrings(ids) {
		for _, rid := range r.snap.adjacency[id] {
			if !seen[rid] {
				seen[rid] = true
				relIDs = append(relIDs, rid)
			}
		}
	}
	slices.Sort(relIDs)
	out := make([]common.Relation, 0, len(relIDs))
	for _, rid := range relIDs {
		out = append(out, r.snap.Graph.Relations[rid])
	}
	return out, nil
}
