package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCacheSetThenGet(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []ToolsetInfo{{ID: "a"}}, time.Minute))

	got, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a", got[0].ID)
}

func TestMemoryCacheMissReturnsFalse(t *testing.T) {
	c := NewMemoryCache()
	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheExpiresEntries(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []ToolsetInfo{{ID: "a"}}, time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheDeleteRemovesEntry(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []ToolsetInfo{{ID: "a"}}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheGetReturnsDefensiveCopy(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", []ToolsetInfo{{ID: "a"}}, time.Minute))

	got, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	got[0].ID = "mutated"

	got2, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "a", got2[0].ID)
}
