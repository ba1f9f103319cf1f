package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"golang.org/x/sync/singleflight"
)

// Cache stores embeddings by key. Entries are immutable: PutIfAbsent never
// replaces an existing key, so concurrent writers of the same key settle on
// whichever write landed first.
type Cache interface {
	Get(ctx context.Context, keys []string) (map[string][]float32, error)
	PutIfAbsent(ctx context.Context, entries []common.Embedding) error
}

// Service computes embeddings through an ai.Embedder and caches them.
type Service struct {
	embedder ai.Embedder
	cache    Cache
	group    singleflight.Group
	now      func() time.Time
}

// NewServiceParams configures a Service. Cache defaults to an in-memory cache.
type NewServiceParams struct {
	Embedder ai.Embedder
	Cache    Cache
}

// NewService creates an embedding service.
func NewService(params NewServiceParams) *Service {
	cache := params.Cache
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Service{
		embedder: params.Embedder,
		cache:    cache,
		now:      time.Now,
	}
}

// Key derives the cache key of a text for a provider, model and task.
func Key(text, provider, model string, task ai.EmbeddingTask) string {
	sum := sha256.Sum256([]byte(text))
	return strings.Join([]string{hex.EncodeToString(sum[:]), provider, model, string(task)}, "|")
}

// Embed returns the embedding of a single text.
func (s *Service) Embed(ctx context.Context, text string, task ai.EmbeddingTask) ([]float32, error) {
	vecs, err := s.EmbedBatch(ctx, []string{text}, task)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch returns one embedding per text in input order. Cached texts are
// served from the cache; the remaining distinct texts are computed with a
// single embedder call and written to the cache before returning.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, task ai.EmbeddingTask) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	provider, model := s.embedder.EmbeddingProvider(), s.embedder.EmbeddingModel()

	keys := make([]string, len(texts))
	unique := make([]string, 0, len(texts))
	textOf := make(map[string]string, len(texts))
	for i, t := range texts {
		k := Key(t, provider, model, task)
		keys[i] = k
		if _, ok := textOf[k]; !ok {
			textOf[k] = t
			unique = append(unique, k)
		}
	}

	found, err := s.cache.Get(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("embedding cache lookup: %w", err)
	}

	var missing []string
	for _, k := range unique {
		if _, ok := found[k]; !ok {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		computed, err := s.compute(ctx, missing, textOf, provider, model, task)
		if err != nil {
			return nil, err
		}
		if found == nil {
			found = make(map[string][]float32, len(computed))
		}
		for k, v := range computed {
			found[k] = v
		}
	}

	out := make([][]float32, len(texts))
	for i, k := range keys {
		out[i] = slices.Clone(found[k])
	}
	return out, nil
}

// compute embeds the missing keys. Identical concurrent requests share one
// upstream call, which is not cancelled when one of the callers gives up.
func (s *Service) compute(
	ctx context.Context,
	missing []string,
	textOf map[string]string,
	provider, model string,
	task ai.EmbeddingTask,
) (map[string][]float32, error) {
	flightKey := strings.Join(slices.Sorted(slices.Values(missing)), ",")
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(flightKey, func() (any, error) {
		ctx := shared
		inputs := make([]string, len(missing))
		for i, k := range missing {
			inputs[i] = textOf[k]
		}
		vecs, err := s.embedder.GenerateEmbeddings(ctx, inputs, task)
		if err != nil {
			return nil, fmt.Errorf("embedding %d texts: %w", len(inputs), err)
		}
		if len(vecs) != len(inputs) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(inputs))
		}

		now := s.now()
		entries := make([]common.Embedding, len(missing))
		computed := make(map[string][]float32, len(missing))
		for i, k := range missing {
			entries[i] = common.Embedding{
				Key:       k,
				Vector:    vecs[i],
				Provider:  provider,
				Model:     model,
				Task:      string(task),
				CreatedAt: now,
			}
			computed[k] = vecs[i]
		}
		if err := s.cache.PutIfAbsent(ctx, entries); err != nil {
			return nil, fmt.Errorf("embedding cache write: %w", err)
		}
		return computed, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(map[string][]float32), nil
	}
}

// Cosine returns the cosine similarity of two vectors, or 0 if they differ
// in length or either has zero norm.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// MemoryCache is a process-local Cache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]common.Embedding
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]common.Embedding{}}
}

func (c *MemoryCache) Get(_ context.Context, keys []string) (map[string][]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string][]float32, len(keys))
	for _, k := range keys {
		if e, ok := c.entries[k]; ok {
			out[k] = e.Vector
		}
	}
	return out, nil
}

func (c *MemoryCache) PutIfAbsent(_ context.Context, entries []common.Embedding) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range entries {
		if _, ok := c.entries[e.Key]; ok {
			continue
		}
		e.Vector = slices.Clone(e.Vector)
		c.entries[e.Key] = e
	}
	return nil
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
