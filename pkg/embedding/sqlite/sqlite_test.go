package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutIfAbsent(t *testing.T) {
	ctx := context.Background()
	c, err := New(filepath.Join(t.TempDir(), "cache", "embeddings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	require.NoError(t, c.PutIfAbsent(ctx, []common.Embedding{
		{Key: "a", Vector: []float32{1, 0.5, -2}, Provider: "p", Model: "m", Task: "document"},
	}))
	require.NoError(t, c.PutIfAbsent(ctx, []common.Embedding{
		{Key: "a", Vector: []float32{9, 9, 9}, Provider: "p", Model: "m", Task: "document"},
		{Key: "b", Vector: []float32{0.25}, Provider: "p", Model: "m", Task: "query"},
	}))

	got, err := c.Get(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]float32{
		"a": {1, 0.5, -2},
		"b": {0.25},
	}, got)
}

func TestSerializeRoundTrip(t *testing.T) {
	v := []float32{0, -1.5, 3.25, 1e-7}
	assert.Equal(t, v, deserializeFloat32(serializeFloat32(v)))
}
