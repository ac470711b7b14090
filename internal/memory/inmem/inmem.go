// Package inmem provides an in-process memory.Store for tests and local
// development. Data lives only in process memory and is lost on exit;
// production deployments should reach for internal/memory/redisstore.
package inmem

import (
	"context"
	"strings"
	"sync"

	"github.com/agentbroker/runtime/internal/memory"
)

// Store implements memory.Store with a developer-scoped slice of entries,
// guarded by a single mutex. All reads return a defensive copy so callers
// cannot mutate the store's internal state.
type Store struct {
	mu      sync.RWMutex
	byDevel map[string][]memory.MemoryEntry
}

// New returns a ready-to-use, empty Store.
func New() *Store {
	return &Store{byDevel: make(map[string][]memory.MemoryEntry)}
}

// Search returns up to topK entries, across every developer, whose Query or
// Result contains query as a case-insensitive substring. Each developer's
// entries are visited most-recent first; the order across developers is
// not defined.
// This is a placeholder ranking — no embeddings, per the Non-goal — good
// enough to exercise the Agent Loop's delegation path in tests.
func (s *Store) Search(_ context.Context, query string, topK int) ([]memory.MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 {
		topK = 10
	}
	needle := strings.ToLower(query)

	var matches []memory.MemoryEntry
	for _, entries := range s.byDevel {
		for i := len(entries) - 1; i >= 0; i-- {
			e := entries[i]
			if needle == "" || strings.Contains(strings.ToLower(e.Query), needle) || strings.Contains(strings.ToLower(e.Result), needle) {
				matches = append(matches, e)
			}
		}
	}
	if len(matches) > topK {
		matches = matches[:topK]
	}
	out := make([]memory.MemoryEntry, len(matches))
	copy(out, matches)
	return out, nil
}

// Append records entry under its DeveloperID.
func (s *Store) Append(_ context.Context, entry memory.MemoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byDevel[entry.DeveloperID] = append(s.byDevel[entry.DeveloperID], entry)
	return nil
}
