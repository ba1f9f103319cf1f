package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
)

// ErrNotFound is returned when a tenant has no record of the requested kind.
var ErrNotFound = errors.New("store: not found")

// ErrVersionPruned is returned by a GraphReader whose graph version was
// removed by later publishes. Open a new reader to read the current head.
var ErrVersionPruned = errors.New("store: graph version pruned")

// Snapshot is a published graph version. Version 0 with an empty graph is
// returned for tenants that never published.
type Snapshot struct {
	Version         int64                 `json:"version"`
	OntologyVersion string                `json:"ontology_version"`
	Graph           common.KnowledgeGraph `json:"graph"`
	PublishedAt     time.Time             `json:"published_at"`
}

// OntologyRecord is a stored ontology document. Version is the content
// hash computed by the index builder.
type OntologyRecord struct {
	TenantID  string    `json:"tenant_id"`
	Version   string    `json:"version"`
	Document  string    `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchHit is an entity found by vector search, most similar first.
type SearchHit struct {
	EntityID string  `json:"entity_id"`
	Score    float64 `json:"score"`
}

// GraphReader reads one published graph version. All calls observe the
// same version even if a newer one is published meanwhile. Once that
// version is pruned, calls fail with ErrVersionPruned.
type GraphReader interface {
	Version() int64
	// SearchEntities returns up to k entities most similar to vector. When
	// typeFilter is non-empty only entities carrying one of the classes
	// are considered.
	SearchEntities(ctx context.Context, vector []float32, k int, typeFilter []string) ([]SearchHit, error)
	GetEntities(ctx context.Context, ids []string) ([]common.Entity, error)
	// Neighbours returns every relation whose subject or entity object is
	// one of ids.
	Neighbours(ctx context.Context, ids []string) ([]common.Relation, error)
}

// GraphStorage persists tenant graphs. Writes are never partially visible:
// PublishGraph stores a complete new version and then swaps the tenant's
// head to it.
type GraphStorage interface {
	LoadGraph(ctx context.Context, tenantID string) (Snapshot, error)
	// PublishGraph stores g as the next version. vectors holds entity
	// profile embeddings keyed by entity id.
	PublishGraph(
		ctx context.Context,
		tenantID string,
		g common.KnowledgeGraph,
		vectors map[string][]float32,
		ontologyVersion string,
	) (int64, error)
	Reader(ctx context.Context, tenantID string) (GraphReader, error)

	SaveOntology(ctx context.Context, rec OntologyRecord) error
	// LoadOntology returns the record with the given version, or the latest
	// one when version is empty.
	LoadOntology(ctx context.Context, tenantID, version string) (OntologyRecord, error)

	// WithTenantLease runs fn while holding the tenant's single writer
	// lease. The context passed to fn is cancelled if the lease is lost.
	WithTenantLease(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error
}

// StoreUnavailableError reports a transient storage failure.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error     { return e.Err }
func (e *StoreUnavailableError) IsRetryable() bool { return true }

// IsUnavailable reports whether err is or wraps a *StoreUnavailableError.
func IsUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}
