package memcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSetDelete(t *testing.T) {
	c := New(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "mark:X", []byte("v"), time.Minute))

	b, ok, err := c.Get(ctx, "mark:X")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), b)

	require.NoError(t, c.Delete(ctx, "mark:X"))
	_, ok, err = c.Get(ctx, "mark:X")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCache_EvictsOldest(t *testing.T) {
	c := New(2, time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))

	_, ok, _ := c.Get(ctx, "a")
	require.False(t, ok)
	_, ok, _ = c.Get(ctx, "c")
	require.True(t, ok)
}
