package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const relationChunk = 500

const relationColumns = `id, subject_id, predicate, object_kind, object_value, evidence, confidence`

const insertRelationSQL = `
INSERT INTO graph_relations
	(tenant_id, version, id, subject_id, predicate, object_kind, object_value, evidence, confidence)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

func decodeObject(kind, value string) (common.RelationObject, error) {
	switch kind {
	case common.ObjectLiteral.String():
		return common.Literal(value), nil
	case common.ObjectEntity.String():
		return common.EntityRef(value), nil
	default:
		return common.RelationObject{}, fmt.Errorf("unknown relation object kind %q", kind)
	}
}

func saveRelations(ctx context.Context, tx pgxv5.Tx, tenantID string, version int64, g common.KnowledgeGraph) error {
	ids := g.RelationIDs()
	return store.ChunkRange(len(ids), relationChunk, func(start, end int) error {
		logger.Debug("[Store] Saving relation chunk", "tenant_id", tenantID, "relations", end-start)

		batch := &pgxv5.Batch{}
		for _, id := range ids[start:end] {
			r := g.Relations[id]
			evidence, err := encodeEvidence(r.Evidence)
			if err != nil {
				return err
			}
			value := r.Object.Value()
			if r.Object.Kind() == common.ObjectLiteral {
				value = util.SanitizePostgresText(value)
			}
			batch.Queue(insertRelationSQL,
				tenantID, version, id, r.SubjectID, r.Predicate,
				r.Object.Kind().String(), value, evidence, r.Confidence,
			)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (s *GraphDBStorage) queryRelations(ctx context.Context, sql string, tenantID string, args ...any) ([]common.Relation, error) {
	rows, err := s.conn.Query(ctx, sql, append([]any{tenantID}, args...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []common.Relation
	for rows.Next() {
		var (
			r        common.Relation
			kind     string
			value    string
			evidence []byte
		)
		if err := rows.Scan(&r.ID, &r.SubjectID, &r.Predicate, &kind, &value, &evidence, &r.Confidence); err != nil {
			return nil, err
		}
		if r.Object, err = decodeObject(kind, value); err != nil {
			return nil, err
		}
		if r.Evidence, err = decodeEvidence(evidence); err != nil {
			return nil, err
		}
		r.TenantID = tenantID
		out = append(out, r)
	}
	return out, rows.Err()
}
