package io

import (
	"context"
	"os"
	"path/filepath"

	"github.com/OFFIS-RIT/ontograph/pkg/loader"
)

// IOGraphFileLoader loads files directly from the local filesystem with caching.
type IOGraphFileLoader struct {
	cache *loader.Cache
}

// NewIOGraphFileLoader creates a new filesystem-based file loader.
func NewIOGraphFileLoader() *IOGraphFileLoader {
	return &IOGraphFileLoader{cache: loader.NewCache()}
}

// GetFileText reads the file content from the filesystem. Results are cached.
func (l *IOGraphFileLoader) GetFileText(ctx context.Context, path string) ([]byte, error) {
	return l.cache.Load(ctx, path, func(_ context.Context, path string) ([]byte, error) {
		return os.ReadFile(path)
	})
}

func (l *IOGraphFileLoader) URI(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return "file://" + filepath.ToSlash(path)
}
