package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/OFFIS-RIT/ontograph/pkg/common"

	"golang.org/x/sync/singleflight"
)

// GraphFileLoader fetches the raw content of a file by path.
type GraphFileLoader interface {
	GetFileText(ctx context.Context, path string) ([]byte, error)
	// URI returns the provenance URI recorded for a file.
	URI(path string) string
}

// GraphFile is a source document for extraction. Text is used as is when
// set, otherwise the content is fetched from Path with Loader.
type GraphFile struct {
	ID     string
	Path   string
	Text   string
	Loader GraphFileLoader
}

// GetText returns the document text as valid UTF-8.
//
// Example:
//
//	text, err := file.GetText(ctx)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(text)
func (f *GraphFile) GetText(ctx context.Context) (string, error) {
	if f.Text != "" {
		return f.Text, nil
	}
	if f.Loader == nil || f.Path == "" {
		return "", fmt.Errorf("file %q has neither text nor a path to load", f.ID)
	}
	b, err := f.Loader.GetFileText(ctx, f.Path)
	if err != nil {
		return "", fmt.Errorf("loading %s: %w", f.Path, err)
	}
	text := string(b)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "�")
	}
	return text, nil
}

// Document loads the file into a document for the extraction pipeline.
func (f *GraphFile) Document(ctx context.Context) (common.Document, error) {
	text, err := f.GetText(ctx)
	if err != nil {
		return common.Document{}, err
	}
	doc := common.Document{ID: f.ID, Text: text}
	if f.Loader != nil && f.Path != "" {
		doc.URI = f.Loader.URI(f.Path)
	}
	return doc, nil
}

// Documents loads every file in order and stops at the first failure.
func Documents(ctx context.Context, files []GraphFile) ([]common.Document, error) {
	docs := make([]common.Document, 0, len(files))
	for i := range files {
		doc, err := files[i].Document(ctx)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

// Cache memoizes file contents by path and collapses concurrent fetches of
// the same path into one.
type Cache struct {
	mu    sync.RWMutex
	files map[string][]byte
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{files: make(map[string][]byte)}
}

func (c *Cache) get(path string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.files[path]
	return b, ok
}

// Load returns the cached content of path or calls fetch to obtain it.
func (c *Cache) Load(ctx context.Context, path string, fetch func(ctx context.Context, path string) ([]byte, error)) ([]byte, error) {
	if b, ok := c.get(path); ok {
		return b, nil
	}

	result, err, _ := c.group.Do(path, func() (any, error) {
		if b, ok := c.get(path); ok {
			return b, nil
		}
		b, err := fetch(ctx, path)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.files[path] = b
		c.mu.Unlock()
		return b, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}
