package pgx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const entityChunk = 250

const entityColumns = `id, types, surface_form, attributes, evidence, grounding, created_at, same_as`

const insertEntitySQL = `
INSERT INTO graph_entities
	(tenant_id, version, id, types, surface_form, attributes, evidence, grounding, created_at, same_as, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

// entityRow holds the encoded column values of an entity.
type entityRow struct {
	types      []byte
	attributes []byte
	evidence   []byte
	createdAt  *time.Time
	sameAs     []string
}

func encodeEntity(e common.Entity) (entityRow, error) {
	var row entityRow
	var err error
	if row.types, err = json.Marshal(nonNilMap(e.Types)); err != nil {
		return row, err
	}
	if row.attributes, err = json.Marshal(nonNilMap(e.Attributes)); err != nil {
		return row, err
	}
	if row.evidence, err = encodeEvidence(e.Evidence); err != nil {
		return row, err
	}
	if !e.CreatedAt.IsZero() {
		t := e.CreatedAt
		row.createdAt = &t
	}
	row.sameAs = e.SameAs
	if row.sameAs == nil {
		row.sameAs = []string{}
	}
	return row, nil
}

func decodeEntity(tenantID, id string, row entityRow, surface string, grounding *float64) (common.Entity, error) {
	e := common.Entity{
		ID:          id,
		TenantID:    tenantID,
		SurfaceForm: surface,
		Grounding:   grounding,
	}
	if err := json.Unmarshal(row.types, &e.Types); err != nil {
		return e, err
	}
	if len(row.attributes) > 0 {
		if err := json.Unmarshal(row.attributes, &e.Attributes); err != nil {
			return e, err
		}
		if len(e.Attributes) == 0 {
			e.Attributes = nil
		}
	}
	evidence, err := decodeEvidence(row.evidence)
	if err != nil {
		return e, err
	}
	e.Evidence = evidence
	if row.createdAt != nil {
		e.CreatedAt = *row.createdAt
	}
	if len(row.sameAs) > 0 {
		e.SameAs = row.sameAs
	}
	return e, nil
}

func encodeEvidence(spans []common.EvidenceSpan) ([]byte, error) {
	if spans == nil {
		spans = []common.EvidenceSpan{}
	}
	return json.Marshal(spans)
}

func decodeEvidence(raw []byte) ([]common.EvidenceSpan, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var spans []common.EvidenceSpan
	if err := json.Unmarshal(raw, &spans); err != nil {
		return nil, err
	}
	if len(spans) == 0 {
		return nil, nil
	}
	return spans, nil
}

func nonNilMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return map[string]V{}
	}
	return m
}

func saveEntities(
	ctx context.Context,
	tx pgxv5.Tx,
	tenantID string,
	version int64,
	g common.KnowledgeGraph,
	vectors map[string][]float32,
) error {
	ids := g.EntityIDs()
	return store.ChunkRange(len(ids), entityChunk, func(start, end int) error {
		logger.Debug("[Store] Saving entity chunk", "tenant_id", tenantID, "entities", end-start)

		batch := &pgxv5.Batch{}
		for _, id := range ids[start:end] {
			e := g.Entities[id]
			row, err := encodeEntity(e)
			if err != nil {
				return err
			}
			var vec *pgvector.Vector
			if v, ok := vectors[id]; ok && len(v) > 0 {
				pv := pgvector.NewVector(v)
				vec = &pv
			}
			batch.Queue(insertEntitySQL,
				tenantID, version, id, row.types, util.SanitizePostgresText(e.SurfaceForm),
				row.attributes, row.evidence, e.Grounding, row.createdAt, row.sameAs, vec,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *GraphDBStorage) queryEntities(ctx context.Context, sql string, tenantID string, args ...any) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, sql, append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Entity
	for rows.Next() {
		var (
			id        string
			surface   string
			grounding *float64
			row       entityRow
		)
		if err := rows.Scan(&id, &row.types, &surface, &row.attributes, &row.evidence, &grounding, &row.createdAt, &row.sameAs); err != nil {
			return nil, err
		}
		e, err := decodeEntity(tenantID, id, row, surface, grounding)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
