package pgx

import (
	"context"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	"github.com/pgvector/pgvector-go"
)

// reader serves one graph version. Once later publishes prune the version
// its queries fail with store.ErrVersionPruned.
type reader struct {
	s        *GraphDBStorage
	tenantID string
	version  int64
}

func (r *reader) Version() int64 { return r.version }

// live fails with store.ErrVersionPruned once the version is gone. It runs
// after each query, whose rows would otherwise silently be missing.
func (r *reader) live(ctx context.Context, op string) error {
	var ok bool
	err := r.s.conn.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM graph_versions WHERE tenant_id = $1 AND version = $2)`,
		r.tenantID, r.version,
	).Scan(&ok)
	if err != nil {
		return classify(op, err)
	}
	if !ok {
		return fmt.Errorf("%s: version %d: %w", op, r.version, store.ErrVersionPruned)
	}
	return nil
}

func (r *reader) SearchEntities(ctx context.Context, vector []float32, k int, typeFilter []string) ([]store.SearchHit, error) {
	if k <= 0 || len(vector) == 0 || r.version == 0 {
		return nil, nil
	}
	var filter []string
	if len(typeFilter) > 0 {
		filter = typeFilter
	}

	rows, err := r.s.conn.Query(ctx, `
		SELECT id, 1 - (embedding <=> $3) AS score
		FROM graph_entities
		WHERE tenant_id = $1 AND version = $2
		  AND embedding IS NOT NULL
		  AND ($4::text[] IS NULL OR types ?| $4::text[])
		ORDER BY embedding <=> $3, id
		LIMIT $5
	`, r.tenantID, r.version, pgvector.NewVector(vector), filter, k)
	if err != nil {
		return nil, classify("search_entities", err)
	}
	defer rows.Close()

	var hits []store.SearchHit
	for rows.Next() {
		var h store.SearchHit
		if err := rows.Scan(&h.EntityID, &h.Score); err != nil {
			return nil, classify("search_entities", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search_entities", err)
	}
	if err := r.live(ctx, "search_entities"); err != nil {
		return nil, err
	}
	return hits, nil
}

func (r *reader) GetEntities(ctx context.Context, ids []string) ([]common.Entity, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 || r.version == 0 {
		return nil, nil
	}
	entities, err := r.s.queryEntities(ctx, `
		SELECT `+entityColumns+` FROM graph_entities
		WHERE tenant_id = $1 AND version = $2 AND id = ANY($3)
	`, r.tenantID, r.version, ids)
	if err != nil {
		return nil, classify("get_entities", err)
	}
	if err := r.live(ctx, "get_entities"); err != nil {
		return nil, err
	}

	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i
	}
	slices.SortFunc(entities, func(a, b common.Entity) int {
		return pos[a.ID] - pos[b.ID]
	})
	return entities, nil
}

func (r *reader) Neighbours(ctx context.Context, ids []string) ([]common.Relation, error) {
	ids = store.DedupeStrings(ids)
	if len(ids) == 0 || r.version == 0 {
		return nil, nil
	}
	relations, err := r.s.queryRelations(ctx, `
		SELECT `+relationColumns+` FROM graph_relations
		WHERE tenant_id = $1 AND version = $2
		  AND (subject_id = ANY($3) OR (object_kind = 'entity' AND object_value = ANY($3)))
		ORDER BY id
	`, r.tenantID, r.version, ids)
	if err != nil {
		return nil, classify("neighbours", err)
	}
	if err := r.live(ctx, "neighbours"); err != nil {
		return nil, err
	}
	return relations, nil
}
