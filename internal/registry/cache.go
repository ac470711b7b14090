package registry

import (
	"context"
	"sync"
	"time"
)

// Cache caches Search results by key, grounded on the teacher's
// runtime/registry.Cache TTL-expiry idiom but typed to []ToolsetInfo
// instead of a single toolset schema. Get's second return reports whether
// key was present and unexpired, matching the Go map-lookup "ok" idiom
// rather than the teacher's nil-means-miss convention.
type Cache interface {
	Get(ctx context.Context, key string) ([]ToolsetInfo, bool, error)
	Set(ctx context.Context, key string, entries []ToolsetInfo, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type memoryCacheEntry struct {
	entries   []ToolsetInfo
	expiresAt time.Time
}

// MemoryCache is an in-process, TTL-expiring Cache. The default Catalog
// constructor doesn't require one — Catalog works with cache == nil — but
// tests and single-process deployments that want to avoid rescanning the
// ConfigRegistry on every Search reach for this.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
}

// NewMemoryCache returns a ready-to-use, empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryCacheEntry)}
}

var _ Cache = (*MemoryCache)(nil)

func (c *MemoryCache) Get(_ context.Context, key string) ([]ToolsetInfo, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	out := make([]ToolsetInfo, len(entry.entries))
	copy(out, entry.entries)
	return out, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, entries []ToolsetInfo, ttl time.Duration) error {
	stored := make([]ToolsetInfo, len(entries))
	copy(stored, entries)
	c.mu.Lock()
	c.entries[key] = memoryCacheEntry{entries: stored, expiresAt: time.Now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}
