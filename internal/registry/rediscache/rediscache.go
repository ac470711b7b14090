// Package rediscache is a Redis-backed registry.Cache, letting the
// capability catalog survive process restarts and be shared across
// replicas — the out-of-process alternative to registry.MemoryCache, same
// role internal/memory/redisstore plays for the memory collaborator.
package rediscache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentbroker/runtime/internal/registry"
)

// commander is the narrow slice of *redis.Client this package calls,
// letting tests substitute a fake without a real Redis server.
type commander interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	SetEx(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cache implements registry.Cache over a *redis.Client, storing each
// Search key's entries as a single JSON-encoded value with a native Redis
// TTL (SetEx) rather than managing expiry itself.
type Cache struct {
	client    commander
	keyPrefix string
}

var _ registry.Cache = (*Cache)(nil)

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithKeyPrefix overrides the default "agentbroker:catalog:" key namespace.
func WithKeyPrefix(prefix string) Option { return func(c *Cache) { c.keyPrefix = prefix } }

// New builds a Cache around an already-constructed Redis client.
func New(client *redis.Client, opts ...Option) *Cache {
	return newWithCommander(client, opts...)
}

func newWithCommander(client commander, opts ...Option) *Cache {
	c := &Cache{client: client, keyPrefix: "agentbroker:catalog:"}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Cache) redisKey(key string) string { return c.keyPrefix + key }

func (c *Cache) Get(ctx context.Context, key string) ([]registry.ToolsetInfo, bool, error) {
	raw, err := c.client.Get(ctx, c.redisKey(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var entries []registry.ToolsetInfo
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, entries []registry.ToolsetInfo, ttl time.Duration) error {
	data, err := json.Marshal(entries)
	if err != nil {
		return err
	}
	return c.client.SetEx(ctx, c.redisKey(key), data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.redisKey(key)).Err()
}
