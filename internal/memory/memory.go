// Package memory defines the Agent Loop's memory collaborator contract
// (§4.E step 3's semantic_search/hierarchical_lookup delegation) and the
// MemoryEntry shape that contract operates on. Persistence schemas and
// embedding/vector-store internals remain out of scope; this package ships
// only enough surface for the contract to be exercised.
package memory

import "context"

// MemoryEntry is one recorded query/result pair, scoped to a developer.
type MemoryEntry struct {
	ID          string
	Query       string
	Result      string
	DeveloperID string
	CreatedAt   int64
}

// Store is the memory collaborator: a query-and-append interface with no
// opinion on ranking, persistence, or embeddings.
type Store interface {
	Search(ctx context.Context, query string, topK int) ([]MemoryEntry, error)
	Append(ctx context.Context, entry MemoryEntry) error
}
