package ontology

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache holds built indexes by ontology version, so each stored document
// is parsed at most once per process.
type Cache struct {
	mu      sync.RWMutex
	indexes map[string]*KnowledgeIndex
	group   singleflight.Group
}

func NewCache() *Cache {
	return &Cache{indexes: make(map[string]*KnowledgeIndex)}
}

// Load returns the index of document, building it on first use. version
// is the key the document was stored under.
func (c *Cache) Load(version, document string) (*KnowledgeIndex, error) {
	c.mu.RLock()
	index, ok := c.indexes[version]
	c.mu.RUnlock()
	if ok {
		return index, nil
	}

	v, err, _ := c.group.Do(version, func() (any, error) {
		index, err := Load(document)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.indexes[version] = index
		c.mu.Unlock()
		return index, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KnowledgeIndex), nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.indexes)
}
