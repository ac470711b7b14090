package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentbroker/runtime/internal/memory"
)

func TestAppendThenSearchFindsMatch(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, memory.MemoryEntry{ID: "1", DeveloperID: "dev1", Query: "deploy steps", Result: "run migrate then restart"}))
	require.NoError(t, s.Append(ctx, memory.MemoryEntry{ID: "2", DeveloperID: "dev1", Query: "unrelated", Result: "nothing here"}))

	got, err := s.Search(ctx, "deploy", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "1", got[0].ID)
}

func TestSearchRespectsTopK(t *testing.T) {
	s := New()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append(ctx, memory.MemoryEntry{ID: string(rune('a' + i)), DeveloperID: "dev1", Query: "common"}))
	}
	got, err := s.Search(ctx, "common", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestSearchEmptyQueryReturnsAll(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, memory.MemoryEntry{ID: "1", DeveloperID: "dev1", Query: "x"}))
	got, err := s.Search(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSearchResultsAreDefensiveCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, memory.MemoryEntry{ID: "1", DeveloperID: "dev1", Query: "x"}))

	got, err := s.Search(ctx, "x", 10)
	require.NoError(t, err)
	got[0].Query = "mutated"

	got2, err := s.Search(ctx, "x", 10)
	require.NoError(t, err)
	require.Equal(t, "x", got2[0].Query)
}
