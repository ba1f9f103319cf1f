// Package setup builds the components shared by the server and the worker
// from environment configuration.
package setup

import (
	"fmt"

	"github.com/OFFIS-RIT/ontograph/internal/util"
	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	oai "github.com/OFFIS-RIT/ontograph/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/ontograph/pkg/ai/openai"
	"github.com/OFFIS-RIT/ontograph/pkg/embedding"
	"github.com/OFFIS-RIT/ontograph/pkg/embedding/sqlite"
	"github.com/OFFIS-RIT/ontograph/pkg/graph"
	"github.com/OFFIS-RIT/ontograph/pkg/logger"
	"github.com/OFFIS-RIT/ontograph/pkg/query"
	"github.com/OFFIS-RIT/ontograph/pkg/store"
	graphstorage "github.com/OFFIS-RIT/ontograph/pkg/store/pgx"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewAIClient selects the adapter named by AI_ADAPTER.
func NewAIClient() (ai.GraphAIClient, error) {
	timeout := util.GetEnvMinutes("AI_TIMEOUT_MIN", 2)
	maxReq := int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15))

	switch adapter := util.GetEnvString("AI_ADAPTER", "openai"); adapter {
	case "ollama":
		return oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			Timeout:               timeout,
			MaxConcurrentRequests: maxReq,
		})
	case "openai":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  util.GetEnv("AI_EMBED_MODEL"),
			ExtractionModel: util.GetEnv("AI_CHAT_EXTRACT_MODEL"),
			Dimensions:      int(util.GetEnvNumeric("AI_EMBED_DIM", 0)),

			EmbeddingURL: util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey: util.GetEnv("AI_EMBED_KEY"),
			ChatURL:      util.GetEnv("AI_CHAT_URL"),
			ChatKey:      util.GetEnv("AI_CHAT_KEY"),

			Timeout:               timeout,
			MaxConcurrentRequests: maxReq,
		}), nil
	default:
		return nil, fmt.Errorf("unknown AI_ADAPTER %q", adapter)
	}
}

// NewEmbeddingService caches embeddings in SQLite when EMBED_CACHE_PATH is
// set and in Postgres otherwise. The returned close func releases the
// cache.
func NewEmbeddingService(embedder ai.Embedder, pool *pgxpool.Pool) (*embedding.Service, func() error, error) {
	if path := util.GetEnvString("EMBED_CACHE_PATH", ""); path != "" {
		cache, err := sqlite.New(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open embedding cache: %w", err)
		}
		logger.Info("Using SQLite embedding cache", "path", path)
		return embedding.NewService(embedding.NewServiceParams{Embedder: embedder, Cache: cache}), cache.Close, nil
	}
	cache := graphstorage.NewEmbeddingCache(pool)
	return embedding.NewService(embedding.NewServiceParams{Embedder: embedder, Cache: cache}), func() error { return nil }, nil
}

// NewGraphStorage returns the Postgres graph store with transient failures
// retried.
func NewGraphStorage(pool *pgxpool.Pool) store.GraphStorage {
	backoff := util.DefaultBackoff()
	backoff.MaxRetries = int(util.GetEnvNumeric("STORE_MAX_RETRIES", 3))
	return store.WithRetry(
		graphstorage.NewGraphDBStorageWithConnection(pool, graphstorage.WithKeepVersions(int(util.GetEnvNumeric("GRAPH_KEEP_VERSIONS", 2)))),
		backoff,
	)
}

// SizeFunc measures chunks and retrieval payloads in tokens of
// GRAPH_TOKEN_ENCODER, or in runes when it is unset.
func SizeFunc() (graph.SizeFunc, error) {
	encoding := util.GetEnvString("GRAPH_TOKEN_ENCODER", "")
	if encoding == "" {
		return graph.RuneCount, nil
	}
	return graph.TokenSize(encoding)
}

func NewGraphClient(gen ai.StructuredGenerator, embeddings graph.Embeddings, storage store.GraphStorage) (*graph.GraphClient, error) {
	size, err := SizeFunc()
	if err != nil {
		return nil, err
	}
	return graph.NewGraphClient(graph.NewGraphClientParams{
		Generator:  gen,
		Embeddings: embeddings,
		Storage:    storage,
		Chunk: graph.ChunkConfig{
			MaxSize:                    int(util.GetEnvNumeric("GRAPH_CHUNK_SIZE", 500)),
			PreserveSentenceBoundaries: true,
			OverlapSentenceCount:       int(util.GetEnvNumeric("GRAPH_CHUNK_OVERLAP", 1)),
			Size:                       size,
		},
		ParallelChunks:     int(util.GetEnvNumeric("GRAPH_PARALLEL_CHUNKS", 8)),
		ParallelDocuments:  int(util.GetEnvNumeric("GRAPH_PARALLEL_DOCUMENTS", 2)),
		MaxRetries:         int(util.GetEnvNumeric("GRAPH_MAX_RETRIES", 3)),
		GroundingThreshold: new(util.GetEnvFloat("GROUNDING_THRESHOLD", graph.DefaultGroundingThreshold)),
		ResolveThreshold:   new(util.GetEnvFloat("RESOLVE_THRESHOLD", graph.DefaultResolveThreshold)),
	})
}

func NewRetriever(snapshots query.Snapshots, embeddings graph.Embeddings) (*query.Retriever, error) {
	size, err := SizeFunc()
	if err != nil {
		return nil, err
	}
	return query.NewRetriever(query.NewRetrieverParams{
		Snapshots:    snapshots,
		Embeddings:   embeddings,
		SeedCount:    int(util.GetEnvNumeric("RETRIEVE_SEED_COUNT", query.DefaultSeedCount)),
		VectorWeight: new(util.GetEnvFloat("RETRIEVE_VECTOR_WEIGHT", 1)),
		GraphWeight:  new(util.GetEnvFloat("RETRIEVE_GRAPH_WEIGHT", 1)),
		Budget:       int(util.GetEnvNumeric("RETRIEVE_BUDGET", 0)),
		Size:         size,
	})
}

// LogMetrics logs and resets the token usage of an AI client.
func LogMetrics(client ai.GraphAIClient) {
	m := client.GetMetrics()
	logger.Info(
		"AI Metrics",
		"input_tokens", m.InputTokens,
		"output_tokens", m.OutputTokens,
		"total_tokens", m.TotalTokens,
		"requests", m.Requests,
		"duration_ms", m.DurationMs,
	)
	client.ResetMetrics()
}
