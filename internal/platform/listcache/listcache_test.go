package listcache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheExpiresAndInvalidates(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c := New[[]string](time.Minute)
	c.now = func() time.Time { return now }

	c.Set(Key("tenant-a", "active", "50"), []string{"p1"})
	c.Set(Key("tenant-b", "active", "50"), []string{"p2"})

	got, ok := c.Get(Key("tenant-a", "active", "50"))
	require.True(t, ok)
	require.Equal(t, []string{"p1"}, got)

	c.Invalidate("tenant-a")
	_, ok = c.Get(Key("tenant-a", "active", "50"))
	require.False(t, ok)
	_, ok = c.Get(Key("tenant-b", "active", "50"))
	require.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.Get(Key("tenant-b", "active", "50"))
	require.False(t, ok, "entry should expire after ttl")
}

func TestZeroTTLDisablesCache(t *testing.T) {
	c := New[int](0)
	c.Set("t|x", 1)
	_, ok := c.Get("t|x")
	require.False(t, ok)
}
