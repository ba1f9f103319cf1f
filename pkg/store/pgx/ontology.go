package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

func (s *GraphDBStorage) SaveOntology(ctx context.Context, rec store.OntologyRecord) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO ontologies (tenant_id, version, document) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, version) DO NOTHING
	`, rec.TenantID, rec.Version, rec.Document)
	return classify("save_ontology", err)
}

func (s *GraphDBStorage) LoadOntology(ctx context.Context, tenantID, version string) (store.OntologyRecord, error) {
	rec := store.OntologyRecord{TenantID: tenantID}
	var row pgxv5.Row
	if version == "" {
		row = s.conn.QueryRow(ctx, `
			SELECT version, document, created_at FROM ontologies
			WHERE tenant_id = $1
			ORDER BY created_at DESC, version
			LIMIT 1
		`, tenantID)
	} else {
		row = s.conn.QueryRow(ctx, `
			SELECT version, document, created_at FROM ontologies
			WHERE tenant_id = $1 AND version = $2
		`, tenantID, version)
	}
	err := row.Scan(&rec.Version, &rec.Document, &rec.CreatedAt)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return store.OntologyRecord{}, store.ErrNotFound
	}
	if err != nil {
		return store.OntologyRecord{}, classify("load_ontology", err)
	}
	return rec, nil
}
