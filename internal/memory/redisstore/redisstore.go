// Package redisstore is a Redis-backed memory.Store: each developer's
// entries live in a capped Redis list, searched by substring match over the
// most recent N entries. No embeddings or ranking — an out-of-process-capable
// alternative to inmem.Store, not a real retrieval engine.
package redisstore

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/agentbroker/runtime/internal/memory"
)

const (
	defaultMaxEntriesPerDeveloper = 500
	defaultScanWindow             = 200
)

// Store implements memory.Store over a *redis.Client.
type Store struct {
	client     *redis.Client
	keyPrefix  string
	maxEntries int64
	scanWindow int64
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithKeyPrefix overrides the default "agentbroker:memory:" key namespace.
func WithKeyPrefix(prefix string) Option { return func(s *Store) { s.keyPrefix = prefix } }

// WithMaxEntriesPerDeveloper caps how many of a developer's most recent
// entries are retained; older entries are trimmed on Append.
func WithMaxEntriesPerDeveloper(n int64) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxEntries = n
		}
	}
}

// New builds a Store around an already-constructed Redis client.
func New(client *redis.Client, opts ...Option) *Store {
	s := &Store{
		client:     client,
		keyPrefix:  "agentbroker:memory:",
		maxEntries: defaultMaxEntriesPerDeveloper,
		scanWindow: defaultScanWindow,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) key(developerID string) string {
	return s.keyPrefix + developerID
}

// Append pushes entry onto the front of its developer's list and trims the
// list to maxEntries.
func (s *Store) Append(ctx context.Context, entry memory.MemoryEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := s.key(entry.DeveloperID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.maxEntries-1)
	_, err = pipe.Exec(ctx)
	return err
}

// Search scans the most recent entries across every developer key matching
// this store's prefix and returns up to topK whose Query or Result contains
// query as a case-insensitive substring. Each developer's entries come
// most-recent first; developer keys are visited in SCAN order.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]memory.MemoryEntry, error) {
	if topK <= 0 {
		topK = 10
	}
	needle := strings.ToLower(query)

	var matches []memory.MemoryEntry
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		raw, err := s.client.LRange(ctx, key, 0, s.scanWindow-1).Result()
		if err != nil {
			return nil, err
		}
		for _, r := range raw {
			var e memory.MemoryEntry
			if json.Unmarshal([]byte(r), &e) != nil {
				continue
			}
			if needle == "" || strings.Contains(strings.ToLower(e.Query), needle) || strings.Contains(strings.ToLower(e.Result), needle) {
				matches = append(matches, e)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}
