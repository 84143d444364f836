package session

import (
	"container/list"
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/zsiec/lumen/internal/matroska"
	"github.com/zsiec/lumen/internal/metrics"
)

// DefaultMetadataCacheSize bounds a MetadataCache created with size <= 0.
const DefaultMetadataCacheSize = 32

// HintsLoader fetches backend metadata for a location.
type HintsLoader func(ctx context.Context) (*matroska.LegacyMetadata, error)

type cacheEntry struct {
	location string
	hints    *matroska.LegacyMetadata
}

// MetadataCache holds backend metadata hints keyed by source location. It is
// owned by whoever constructs it; sessions built from different caches share
// nothing. Safe for concurrent use.
type MetadataCache struct {
	max   int
	group singleflight.Group

	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
}

// NewMetadataCache creates a cache holding at most size locations.
func NewMetadataCache(size int) *MetadataCache {
	if size <= 0 {
		size = DefaultMetadataCacheSize
	}
	return &MetadataCache{max: size, ll: list.New(), items: make(map[string]*list.Element)}
}

// Get returns the cached hints for location.
func (c *MetadataCache) Get(location string) (*matroska.LegacyMetadata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[location]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(e)
	return e.Value.(*cacheEntry).hints, true
}

// Put stores hints for location, evicting the least recently used entry
// when full.
func (c *MetadataCache) Put(location string, hints *matroska.LegacyMetadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[location]; ok {
		c.ll.MoveToFront(e)
		e.Value.(*cacheEntry).hints = hints
		return
	}
	c.items[location] = c.ll.PushFront(&cacheEntry{location: location, hints: hints})
	if c.ll.Len() > c.max {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).location)
	}
}

// Hints returns the hints for location, calling load at most once per
// location across concurrent callers. Failed loads are not cached.
func (c *MetadataCache) Hints(ctx context.Context, location string, load HintsLoader) (*matroska.LegacyMetadata, error) {
	if h, ok := c.Get(location); ok {
		metrics.MetadataCacheLookups.WithLabelValues("hit").Inc()
		return h, nil
	}
	v, err, _ := c.group.Do(location, func() (any, error) {
		if h, ok := c.Get(location); ok {
			return h, nil
		}
		h, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Put(location, h)
		return h, nil
	})
	if err != nil {
		metrics.MetadataCacheLookups.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.MetadataCacheLookups.WithLabelValues("miss").Inc()
	return v.(*matroska.LegacyMetadata), nil
}

// Remove drops location from the cache.
func (c *MetadataCache) Remove(location string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[location]; ok {
		c.ll.Remove(e)
		delete(c.items, location)
	}
}

// Len returns the number of cached locations.
func (c *MetadataCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}
