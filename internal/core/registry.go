package core

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JonMunkholm/ledgerbridge/internal/accounting"
	"golang.org/x/sync/singleflight"
)

// MetadataFetcher loads model metadata from the backend.
type MetadataFetcher interface {
	ModelMetadata(ctx context.Context, model string) (*accounting.ModelMetadata, error)
}

type cachedMetadata struct {
	meta      *accounting.ModelMetadata
	fetchedAt time.Time
}

// MetadataCache memoizes model metadata per model. Concurrent misses for
// the same model share one backend call. Entries expire after ttl; a zero
// ttl keeps them until Invalidate.
type MetadataCache struct {
	fetch MetadataFetcher
	ttl   time.Duration
	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]cachedMetadata
}

// NewMetadataCache creates a cache in front of fetch.
func NewMetadataCache(fetch MetadataFetcher, ttl time.Duration) *MetadataCache {
	return &MetadataCache{
		fetch:   fetch,
		ttl:     ttl,
		entries: make(map[string]cachedMetadata),
	}
}

// Get returns metadata for model, fetching it on a miss.
func (c *MetadataCache) Get(ctx context.Context, model string) (*accounting.ModelMetadata, error) {
	c.mu.RLock()
	e, ok := c.entries[model]
	c.mu.RUnlock()
	if ok && (c.ttl <= 0 || time.Since(e.fetchedAt) < c.ttl) {
		return e.meta, nil
	}

	v, err, _ := c.group.Do(model, func() (any, error) {
		meta, err := c.fetch.ModelMetadata(ctx, model)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[model] = cachedMetadata{meta: meta, fetchedAt: time.Now()}
		c.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*accounting.ModelMetadata), nil
}

// Invalidate drops one model, or every model when model is empty.
func (c *MetadataCache) Invalidate(model string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if model == "" {
		clear(c.entries)
		return
	}
	delete(c.entries, model)
}

// Models returns the cached model names, sorted.
func (c *MetadataCache) Models() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
