package pgx

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/common"
	"github.com/OFFIS-RIT/ontograph/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

// EmbeddingCache stores embeddings in the embedding_cache table so workers
// share vectors. Rows are written once and never updated.
type EmbeddingCache struct {
	conn pgxIConn
}

func NewEmbeddingCache(conn pgxIConn) *EmbeddingCache {
	return &EmbeddingCache{conn: conn}
}

func (c *EmbeddingCache) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	err := store.ChunkRange(len(keys), 1000, func(start, end int) error {
		rows, err := c.conn.Query(ctx,
			`SELECT key, vector FROM embedding_cache WHERE key = ANY($1)`,
			keys[start:end],
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				key string
				vec pgvector.Vector
			)
			if err := rows.Scan(&key, &vec); err != nil {
				return err
			}
			out[key] = vec.Slice()
		}
		return rows.Err()
	})
	if err != nil {
		return nil, classify("embedding_cache_get", err)
	}
	return out, nil
}

func (c *EmbeddingCache) PutIfAbsent(ctx context.Context, entries []common.Embedding) error {
	err := store.ChunkRange(len(entries), 500, func(start, end int) error {
		batch := &pgxv5.Batch{}
		for _, e := range entries[start:end] {
			created := e.CreatedAt
			if created.IsZero() {
				created = time.Now()
			}
			batch.Queue(`
				INSERT INTO embedding_cache (key, vector, provider, model, task, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (key) DO NOTHING
			`, e.Key, pgvector.NewVector(e.Vector), e.Provider, e.Model, e.Task, created)
		}
		return c.conn.SendBatch(ctx, batch).Close()
	})
	return classify("embedding_cache_put", err)
}
