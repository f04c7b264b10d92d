package services

import (
	"fmt"
	"slices"

	"github.com/dgraph-io/ristretto/v2"
)

// Cache kinds memoized per board.
const (
	CacheCards  = "cards"
	CacheLabels = "labels"
	CacheLists  = "lists"
)

// RunCache memoizes board listings for the lifetime of one migration run.
//
// Each run owns its cache; nothing is shared between jobs.
type RunCache struct {
	c *ristretto.Cache[string, any]
}

// NewRunCache creates a cache holding at most maxEntries listings.
func NewRunCache(maxEntries int64) (*RunCache, error) {
	if maxEntries < 1 {
		maxEntries = 1024
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, any]{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create run cache: %w", err)
	}
	return &RunCache{c: c}, nil
}

func cacheKey(kind, boardID string) string {
	return kind + ":" + boardID
}

// Get returns the cached listing for (kind, board).
func (c *RunCache) Get(kind, boardID string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.c.Get(cacheKey(kind, boardID))
}

// Set stores a listing. Ristretto may still reject it; a miss only costs a refetch.
func (c *RunCache) Set(kind, boardID string, v any) {
	if c == nil {
		return
	}
	c.c.Set(cacheKey(kind, boardID), v, 1)
	c.c.Wait()
}

// Invalidate drops the cached listing for (kind, board).
func (c *RunCache) Invalidate(kind, boardID string) {
	if c == nil {
		return
	}
	c.c.Del(cacheKey(kind, boardID))
}

// Close releases the cache's background goroutines.
func (c *RunCache) Close() {
	if c != nil {
		c.c.Close()
	}
}

// cachedList returns a copy of the cached listing or loads and caches it.
func cachedList[T any](c *RunCache, kind, boardID string, load func() ([]T, error)) ([]T, error) {
	if v, ok := c.Get(kind, boardID); ok {
		if items, ok := v.([]T); ok {
			return slices.Clone(items), nil
		}
	}
	items, err := load()
	if err != nil {
		return nil, err
	}
	c.Set(kind, boardID, items)
	return slices.Clone(items), nil
}
