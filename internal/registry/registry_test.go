package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/runtime/internal/config"
)

func newTestRegistry(t *testing.T, doc string) *config.Registry {
	t.Helper()
	r, err := config.New([]byte(doc), "json")
	require.NoError(t, err)
	return r
}

func TestSearchReturnsOnlyEnabledValidServers(t *testing.T) {
	registry := newTestRegistry(t, `{"mcp_servers": {
		"a": {"transport":"stdio","command":"echo","displayName":"Alpha Tools"},
		"b": {"transport":"stdio","command":"echo","enabled":false},
		"c": {"transport":"stdio"}
	}}`)
	cat := New(registry, nil)

	got, err := cat.Search(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
	require.Equal(t, "Alpha Tools", got[0].Name)
}

func TestSearchMatchesCaseInsensitiveSubstring(t *testing.T) {
	registry := newTestRegistry(t, `{"mcp_servers": {
		"weather": {"transport":"stdio","command":"echo","description":"Look up forecasts"}
	}}`)
	cat := New(registry, nil)

	got, err := cat.Search(context.Background(), "FORECAST")
	require.NoError(t, err)
	require.Len(t, got, 1)

	none, err := cat.Search(context.Background(), "nonexistent")
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestSearchResultsAreSortedByID(t *testing.T) {
	registry := newTestRegistry(t, `{"mcp_servers": {
		"zeta": {"transport":"stdio","command":"echo"},
		"alpha": {"transport":"stdio","command":"echo"}
	}}`)
	cat := New(registry, nil)

	got, err := cat.Search(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "alpha", got[0].ID)
	require.Equal(t, "zeta", got[1].ID)
}

func TestSearchUsesCacheOnHit(t *testing.T) {
	registry := newTestRegistry(t, `{"mcp_servers": {"a": {"transport":"stdio","command":"echo"}}}`)
	cache := NewMemoryCache()
	cat := New(registry, cache)

	_, err := cat.Search(context.Background(), "")
	require.NoError(t, err)

	// Seed the cache directly with a stale-but-distinguishable value to
	// prove the second Search reads from cache rather than rescanning.
	require.NoError(t, cache.Set(context.Background(), cacheKey(""), []ToolsetInfo{{ID: "from-cache"}}, defaultCacheTTL))

	got, err := cat.Search(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "from-cache", got[0].ID)
}

func TestInvalidateForcesRescan(t *testing.T) {
	registry := newTestRegistry(t, `{"mcp_servers": {"a": {"transport":"stdio","command":"echo"}}}`)
	cache := NewMemoryCache()
	cat := New(registry, cache)

	_, err := cat.Search(context.Background(), "")
	require.NoError(t, err)
	require.NoError(t, cache.Set(context.Background(), cacheKey(""), []ToolsetInfo{{ID: "stale"}}, defaultCacheTTL))
	require.NoError(t, cat.Invalidate(context.Background(), ""))

	got, err := cat.Search(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "a", got[0].ID)
}

func TestToolSpecUsesDescriptionOrFallback(t *testing.T) {
	spec := ToolSpec(ToolsetInfo{ID: "weather", Name: "Weather", Description: "forecasts"})
	require.Equal(t, "weather", spec.Name)
	require.Equal(t, "forecasts", spec.Description)

	fallback := ToolSpec(ToolsetInfo{ID: "weather", Name: "Weather"})
	require.Contains(t, fallback.Description, "Weather")
}
