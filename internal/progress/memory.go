package progress

import (
	"context"
	"maps"
	"sync"
	"time"
)

// MemoryCache is an in-memory Cache for tests and development.
type MemoryCache struct {
	records map[scope]map[string]time.Time
	mu      sync.RWMutex
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{records: make(map[scope]map[string]time.Time)}
}

func (c *MemoryCache) Completions(_ context.Context, learnerID, courseKey string) (map[string]time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := maps.Clone(c.records[scope{learnerID, courseKey}])
	if out == nil {
		out = map[string]time.Time{}
	}
	return out, nil
}

func (c *MemoryCache) Add(_ context.Context, learnerID, courseKey, lessonKey string, at time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := scope{learnerID, courseKey}
	recs, ok := c.records[key]
	if !ok {
		recs = make(map[string]time.Time)
		c.records[key] = recs
	}
	if _, exists := recs[lessonKey]; exists {
		return false, nil
	}
	recs[lessonKey] = at
	return true, nil
}

func (c *MemoryCache) Remove(_ context.Context, learnerID, courseKey, lessonKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records[scope{learnerID, courseKey}], lessonKey)
	return nil
}

func (c *MemoryCache) Clear(_ context.Context, learnerID, courseKey string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, scope{learnerID, courseKey})
	return nil
}
