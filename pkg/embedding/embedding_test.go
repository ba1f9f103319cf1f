package embedding

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/ai"
	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	mu     sync.Mutex
	model  string
	calls  int
	inputs [][]string
	err    error
}

func (e *countingEmbedder) GenerateEmbeddings(_ context.Context, inputs []string, _ ai.EmbeddingTask) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	e.inputs = append(e.inputs, inputs)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = []float32{float32(len(in)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) EmbeddingProvider() string { return "fake" }
func (e *countingEmbedder) EmbeddingModel() string    { return e.model }

func TestEmbedBatchSingleRoundTrip(t *testing.T) {
	ctx := context.Background()
	emb := &countingEmbedder{model: "m1"}
	svc := NewService(NewServiceParams{Embedder: emb})

	got, err := svc.EmbedBatch(ctx, []string{"a", "bb", "a", "ccc"}, ai.TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1}, {2, 1}, {1, 1}, {3, 1}}, got)
	assert.Equal(t, 1, emb.calls)
	assert.Equal(t, []string{"a", "bb", "ccc"}, emb.inputs[0])

	got, err = svc.EmbedBatch(ctx, []string{"bb", "dddd"}, ai.TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{2, 1}, {4, 1}}, got)
	assert.Equal(t, 2, emb.calls)
	assert.Equal(t, []string{"dddd"}, emb.inputs[1])

	_, err = svc.EmbedBatch(ctx, []string{"a", "bb", "ccc", "dddd"}, ai.TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls, "fully cached batch must not call the embedder")
}

func TestEmbedKeysSeparateTaskAndModel(t *testing.T) {
	ctx := context.Background()
	cache := NewMemoryCache()
	emb := &countingEmbedder{model: "m1"}
	svc := NewService(NewServiceParams{Embedder: emb, Cache: cache})

	_, err := svc.Embed(ctx, "hello", ai.TaskDocument)
	require.NoError(t, err)
	_, err = svc.Embed(ctx, "hello", ai.TaskQuery)
	require.NoError(t, err)
	assert.Equal(t, 2, emb.calls)

	emb.model = "m2"
	_, err = svc.Embed(ctx, "hello", ai.TaskDocument)
	require.NoError(t, err)
	assert.Equal(t, 3, emb.calls)
	assert.Equal(t, 3, cache.Len())

	assert.NotEqual(t, Key("hello", "fake", "m1", ai.TaskDocument), Key("hello", "fake", "m2", ai.TaskDocument))
}

func TestEmbedErrorIsNotCached(t *testing.T) {
	ctx := context.Background()
	emb := &countingEmbedder{model: "m1", err: errors.New("upstream down")}
	cache := NewMemoryCache()
	svc := NewService(NewServiceParams{Embedder: emb, Cache: cache})

	_, err := svc.Embed(ctx, "hello", ai.TaskDocument)
	require.Error(t, err)
	assert.Equal(t, 0, cache.Len())
}

func TestMemoryCacheKeepsFirstWrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	require.NoError(t, c.PutIfAbsent(ctx, []common.Embedding{{Key: "k", Vector: []float32{1}}}))
	require.NoError(t, c.PutIfAbsent(ctx, []common.Embedding{{Key: "k", Vector: []float32{2}}}))

	got, err := c.Get(ctx, []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1}, got["k"])
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 0}))
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 0}))
}

// gateEmbedder blocks every call until release is closed.
type gateEmbedder struct {
	countingEmbedder
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (e *gateEmbedder) GenerateEmbeddings(ctx context.Context, inputs []string, task ai.EmbeddingTask) ([][]float32, error) {
	e.started <- struct{}{}
	<-e.release
	e.ctxErr = ctx.Err()
	return e.countingEmbedder.GenerateEmbeddings(ctx, inputs, task)
}

func TestEmbedCancelledCallerDoesNotFailOthers(t *testing.T) {
	emb := &gateEmbedder{
		countingEmbedder: countingEmbedder{model: "m1"},
		started:          make(chan struct{}, 1),
		release:          make(chan struct{}),
	}
	svc := NewService(NewServiceParams{Embedder: emb})

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Embed(first, "hello", ai.TaskQuery)
		firstErr <- err
	}()
	<-emb.started

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	type result struct {
		vec []float32
		err error
	}
	second := make(chan result, 1)
	go func() {
		vec, err := svc.Embed(context.Background(), "hello", ai.TaskQuery)
		second <- result{vec, err}
	}()
	close(emb.release)

	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, []float32{5, 1}, got.vec)
	assert.NoError(t, emb.ctxErr, "the shared call must outlive the cancelled caller")
}
