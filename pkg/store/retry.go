package store

import (
	"context"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
)

// WithRetry wraps s so every operation failing with *StoreUnavailableError
// is retried with exponential backoff. Other errors are returned
// immediately. The function passed to WithTenantLease is not retried.
func WithRetry(s GraphStorage, cfg util.Backoff) GraphStorage {
	return &retryingStorage{next: s, cfg: cfg}
}

type retryingStorage struct {
	next GraphStorage
	cfg  util.Backoff
}

func retry[T any](ctx context.Context, cfg util.Backoff, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	out, attempts, err := util.RetryBackoff(ctx, cfg, IsUnavailable, fn)
	if err != nil && attempts > 1 {
		logger.Warn("[Store] Operation failed after retries", "op", op, "attempts", attempts, "err", err)
	}
	return out, err
}

func (r *retryingStorage) LoadGraph(ctx context.Context, tenantID string) (Snapshot, error) {
	return retry(ctx, r.cfg, "load_graph", func(ctx context.Context) (Snapshot, error) {
		return r.next.LoadGraph(ctx, tenantID)
	})
}

func (r *retryingStorage) PublishGraph(
	ctx context.Context,
	tenantID string,
	g common.KnowledgeGraph,
	vectors map[string][]float32,
	ontologyVersion string,
) (int64, error) {
	return retry(ctx, r.cfg, "publish_graph", func(ctx context.Context) (int64, error) {
		return r.next.PublishGraph(ctx, tenantID, g, vectors, ontologyVersion)
	})
}

func (r *retryingStorage) Reader(ctx context.Context, tenantID string) (GraphReader, error) {
	reader, err := retry(ctx, r.cfg, "reader", func(ctx context.Context) (GraphReader, error) {
		return r.next.Reader(ctx, tenantID)
	})
	if err != nil {
		return nil, err
	}
	return &retryingReader{next: reader, cfg: r.cfg}, nil
}

func (r *retryingStorage) SaveOntology(ctx context.Context, rec OntologyRecord) error {
	_, err := retry(ctx, r.cfg, "save_ontology", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.next.SaveOntology(ctx, rec)
	})
	return err
}

func (r *retryingStorage) LoadOntology(ctx context.Context, tenantID, version string) (OntologyRecord, error) {
	return retry(ctx, r.cfg, "load_ontology", func(ctx context.Context) (OntologyRecord, error) {
		return r.next.LoadOntology(ctx, tenantID, version)
	})
}

func (r *retryingStorage) WithTenantLease(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return r.next.WithTenantLease(ctx, tenantID, fn)
}

type retryingReader struct {
	next GraphReader
	cfg  util.Backoff
}

func (r *retryingReader) Version() int64 { return r.next.Version() }

func (r *retryingReader) SearchEntities(ctx context.Context, vector []float32, k int, typeFilter []string) ([]SearchHit, error) {
	return retry(ctx, r.cfg, "search_entities", func(ctx context.Context) ([]SearchHit, error) {
		return r.next.SearchEntities(ctx, vector, k, typeFilter)
	})
}

func (r *retryingReader) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	return retry(ctx, r.cfg, "get_entities", func(ctx context.Context) ([]common.Entity, error) {
		return r.next.GetEntities(ctx, ids)
	})
}

func (r *retryingReader) Neighbours(ctx context.Context, ids []string) ([]common.Relation, error) {
	return retry(ctx, r.cfg, "neighbours", func(ctx context.Context) ([]common.Relation, error) {
		return r.next.Neighbours(ctx, ids)
	})
}
