// Package mongocatalog is a MongoDB-backed registry.Cache, giving the
// capability catalog durability across restarts and a shared view across
// replicas — grounded on the teacher's registry/store/mongo upsert and
// regex-search idioms, adapted from a toolset document store to a
// search-key cache of []registry.ToolsetInfo.
package mongocatalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/agentbroker/runtime/internal/registry"
)

// cacheDocument is the MongoDB document representation of one cached
// Search result set, keyed by the catalog's search key.
type cacheDocument struct {
	Key       string                 `bson:"_id"`
	Entries   []registry.ToolsetInfo `bson:"entries"`
	ExpiresAt time.Time              `bson:"expiresAt"`
}

// Cache is a MongoDB implementation of registry.Cache.
type Cache struct {
	collection *mongo.Collection
}

var _ registry.Cache = (*Cache)(nil)

// New builds a Cache around an already-connected collection. Callers are
// expected to create a TTL index on expiresAt so expired documents are
// reaped server-side; Get also treats an expired document the TTL reaper
// has not yet removed as a miss by checking ExpiresAt itself, matching MemoryCache's
// client-side expiry check rather than trusting the index alone.
func New(collection *mongo.Collection) *Cache {
	return &Cache{collection: collection}
}

// EnsureIndexes creates the TTL index used to reap expired cache entries.
// Callers invoke this once at startup; it is idempotent.
func (c *Cache) EnsureIndexes(ctx context.Context) error {
	_, err := c.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expiresAt", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("mongocatalog: ensure ttl index: %w", err)
	}
	return nil
}

func (c *Cache) Get(ctx context.Context, key string) ([]registry.ToolsetInfo, bool, error) {
	var doc cacheDocument
	err := c.collection.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("mongocatalog: get %q: %w", key, err)
	}
	if time.Now().After(doc.ExpiresAt) {
		return nil, false, nil
	}
	return doc.Entries, true, nil
}

func (c *Cache) Set(ctx context.Context, key string, entries []registry.ToolsetInfo, ttl time.Duration) error {
	doc := cacheDocument{Key: key, Entries: entries, ExpiresAt: time.Now().Add(ttl)}
	opts := options.Replace().SetUpsert(true)
	_, err := c.collection.ReplaceOne(ctx, bson.M{"_id": key}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongocatalog: set %q: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	_, err := c.collection.DeleteOne(ctx, bson.M{"_id": key})
	if err != nil {
		return fmt.Errorf("mongocatalog: delete %q: %w", key, err)
	}
	return nil
}
