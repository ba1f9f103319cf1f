package loader_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/OFFIS-RIT/ontograph/pkg/loader"
	ioloader "github.com/OFFIS-RIT/ontograph/pkg/loader/io"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentsFromFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "alice.txt")
	require.NoError(t, os.WriteFile(path, []byte("Alice works for Acme Corp.\xff"), 0o600))

	l := ioloader.NewIOGraphFileLoader()
	docs, err := loader.Documents(context.Background(), []loader.GraphFile{
		{ID: "doc-1", Path: path, Loader: l},
		{ID: "doc-2", Text: "Inline text."},
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "doc-1", docs[0].ID)
	assert.Equal(t, "Alice works for Acme Corp.�", docs[0].Text)
	assert.True(t, strings.HasPrefix(docs[0].URI, "file://"))
	assert.True(t, strings.HasSuffix(docs[0].URI, "/alice.txt"))

	assert.Equal(t, "Inline text.", docs[1].Text)
	assert.Empty(t, docs[1].URI)
}

func TestDocumentsFailsOnMissingFile(t *testing.T) {
	l := ioloader.NewIOGraphFileLoader()
	_, err := loader.Documents(context.Background(), []loader.GraphFile{
		{ID: "doc-1", Path: filepath.Join(t.TempDir(), "missing.txt"), Loader: l},
	})
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = loader.Documents(context.Background(), []loader.GraphFile{{ID: "empty"}})
	assert.Error(t, err)
}

func TestCacheCollapsesFetches(t *testing.T) {
	c := loader.NewCache()
	var calls atomic.Int32
	fetch := func(_ context.Context, path string) ([]byte, error) {
		calls.Add(1)
		return []byte(path), nil
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			b, err := c.Load(context.Background(), "a", fetch)
			assert.NoError(t, err)
			assert.Equal(t, "a", string(b))
		})
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())

	boom := errors.New("boom")
	_, err := c.Load(context.Background(), "b", func(context.Context, string) ([]byte, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	b, err := c.Load(context.Background(), "b", fetch)
	require.NoError(t, err)
	assert.Equal(t, "b", string(b), "failures are not cached")
}
