package pgx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/leaselock"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
	SendBatch(ctx context.Context, b *pgxv5.Batch) pgxv5.BatchResults
}

// GraphDBStorage implements store.GraphStorage on PostgreSQL with pgvector.
// Every publish writes a complete graph version and moves the tenant row in
// graph_heads to it inside the same transaction.
type GraphDBStorage struct {
	conn         pgxIConn
	leases       *leaselock.Client
	leaseOpts    leaselock.Options
	keepVersions int64
}

type GraphDBStorageOption func(*GraphDBStorage)

// WithLeaseOptions overrides the tenant writer lease settings.
func WithLeaseOptions(opts leaselock.Options) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.leaseOpts = opts
	}
}

// WithKeepVersions sets how many published versions per tenant survive a
// publish. At least the new head is always kept.
func WithKeepVersions(n int) GraphDBStorageOption {
	return func(s *GraphDBStorage) {
		s.keepVersions = int64(max(n, 1))
	}
}

// NewGraphDBStorageWithConnection creates a GraphDBStorage on an existing
// connection or pool. Vector types must be registered on the connection.
func NewGraphDBStorageWithConnection(conn pgxIConn, opts ...GraphDBStorageOption) *GraphDBStorage {
	s := &GraphDBStorage{
		conn:   conn,
		leases: leaselock.NewWithConn(conn),
		leaseOpts: leaselock.Options{
			TTL:          2 * time.Minute,
			Wait:         true,
			WaitInterval: 500 * time.Millisecond,
			WaitJitter:   250 * time.Millisecond,
		},
		keepVersions: 2,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}
	return s
}

// classify wraps connection-level failures in *store.StoreUnavailableError
// so callers can retry them.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, store.ErrNotFound) {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"),
			pgErr.Code == "40001",
			pgErr.Code == "40P01",
			pgErr.Code == "53300",
			pgErr.Code == "57P01":
			return &store.StoreUnavailableError{Op: op, Err: err}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	var netErr net.Error
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) || errors.As(err, &netErr) {
		return &store.StoreUnavailableError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (s *GraphDBStorage) headVersion(ctx context.Context, tenantID string) (int64, string, time.Time, error) {
	var (
		version     int64
		ontologyVer string
		publishedAt time.Time
	)
	err := s.conn.QueryRow(ctx, `
		SELECT h.version, v.ontology_version, v.published_at
		FROM graph_heads h
		JOIN graph_versions v ON v.tenant_id = h.tenant_id AND v.version = h.version
		WHERE h.tenant_id = $1
	`, tenantID).Scan(&version, &ontologyVer, &publishedAt)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, "", time.Time{}, nil
	}
	return version, ontologyVer, publishedAt, err
}

func (s *GraphDBStorage) LoadGraph(ctx context.Context, tenantID string) (store.Snapshot, error) {
	version, ontologyVer, publishedAt, err := s.headVersion(ctx, tenantID)
	if err != nil {
		return store.Snapshot{}, classify("load_graph", err)
	}
	snap := store.Snapshot{
		Version:         version,
		OntologyVersion: ontologyVer,
		PublishedAt:     publishedAt,
		Graph:           common.NewKnowledgeGraph(tenantID),
	}
	if version == 0 {
		return snap, nil
	}

	entities, err := s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM graph_entities
		WHERE tenant_id = $1 AND version = $2
	`, tenantID, version)
	if err != nil {
		return store.Snapshot{}, classify("load_graph", err)
	}
	for _, e := range entities {
		snap.Graph.Entities[e.ID] = e
	}

	relations, err := s.queryRelations(ctx, `
		SELECT `+relationColumns+` FROM graph_relations
		WHERE tenant_id = $1 AND version = $2
	`, tenantID, version)
	if err != nil {
		return store.Snapshot{}, classify("load_graph", err)
	}
	for _, r := range relations {
		snap.Graph.Relations[r.ID] = r
	}

	logger.Debug("[Store] Loaded graph", "tenant_id", tenantID, "version", version,
		"entities", len(snap.Graph.Entities), "relations", len(snap.Graph.Relations))
	return snap, nil
}

func (s *GraphDBStorage) PublishGraph(
	ctx context.Context,
	tenantID string,
	g common.KnowledgeGraph,
	vectors map[string][]float32,
	ontologyVersion string,
) (int64, error) {
	if g.TenantID != "" && g.TenantID != tenantID {
		return 0, fmt.Errorf("publishing graph of tenant %q as %q", g.TenantID, tenantID)
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return 0, classify("publish_graph", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) + 1 FROM graph_versions WHERE tenant_id = $1`,
		tenantID,
	).Scan(&version)
	if err != nil {
		return 0, classify("publish_graph", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO graph_versions (tenant_id, version, ontology_version) VALUES ($1, $2, $3)`,
		tenantID, version, ontologyVersion,
	)
	if err != nil {
		return 0, classify("publish_graph", err)
	}

	if err := saveEntities(ctx, tx, tenantID, version, g, vectors); err != nil {
		return 0, classify("publish_graph", err)
	}
	if err := saveRelations(ctx, tx, tenantID, version, g); err != nil {
		return 0, classify("publish_graph", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO graph_heads (tenant_id, version) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET version = EXCLUDED.version, updated_at = now()
	`, tenantID, version)
	if err != nil {
		return 0, classify("publish_graph", err)
	}

	_, err = tx.Exec(ctx,
		`DELETE FROM graph_versions WHERE tenant_id = $1 AND version <= $2`,
		tenantID, version-s.keepVersions,
	)
	if err != nil {
		return 0, classify("publish_graph", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, classify("publish_graph", err)
	}

	logger.Info("[Store] Published graph", "tenant_id", tenantID, "version", version,
		"entities", len(g.Entities), "relations", len(g.Relations))
	return version, nil
}

func (s *GraphDBStorage) Reader(ctx context.Context, tenantID string) (store.GraphReader, error) {
	version, _, _, err := s.headVersion(ctx, tenantID)
	if err != nil {
		return nil, classify("reader", err)
	}
	return &reader{s: s, tenantID: tenantID, version: version}, nil
}

func (s *GraphDBStorage) WithTenantLease(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	return s.leases.WithLease(ctx, leaselock.TenantKey(tenantID), s.leaseOpts, fn)
}
