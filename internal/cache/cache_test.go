package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := New[string, int](4, time.Minute)
	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestGetMissingKey(t *testing.T) {
	c := New[string, int](4, time.Minute)
	_, ok := c.Get("missing")
	require.False(t, ok)
}

func TestCapacityEvictsOldest(t *testing.T) {
	c := New[string, int](2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	_, ok := c.Get("a")
	require.False(t, ok, "a should have been evicted as the least recently used entry")

	_, ok = c.Get("b")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)
	require.Equal(t, 2, c.Len())
}

func TestGetRefreshesRecency(t *testing.T) {
	c := New[string, int](2, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	c.Get("a")
	c.Put("c", 3)

	_, ok := c.Get("b")
	require.False(t, ok, "b should be evicted since a was refreshed more recently")
	_, ok = c.Get("a")
	require.True(t, ok)
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New[string, int](4, time.Minute)
	start := time.Now()
	c.now = func() time.Time { return start }

	c.Put("a", 1)
	c.now = func() time.Time { return start.Add(2 * time.Minute) }

	_, ok := c.Get("a")
	require.False(t, ok)
	require.Equal(t, 0, c.Len())
}

func TestZeroTTLNeverExpires(t *testing.T) {
	c := New[string, int](4, 0)
	start := time.Now()
	c.now = func() time.Time { return start }
	c.Put("a", 1)

	c.now = func() time.Time { return start.Add(24 * time.Hour) }
	v, ok := c.Get("a")
	require.True(t, ok)
	require.Equal(t, 1, v)
}

func TestPutOverwritesAndResetsExpiry(t *testing.T) {
	c := New[string, int](4, time.Minute)
	start := time.Now()
	c.now = func() time.Time { return start }

	c.Put("a", 1)
	c.now = func() time.Time { return start.Add(50 * time.Second) }
	c.Put("a", 2)
	c.now = func() time.Time { return start.Add(90 * time.Second) }

	v, ok := c.Get("a")
	require.True(t, ok, "overwrite should have refreshed the expiry")
	require.Equal(t, 2, v)
}

func TestCapacityBelowOneClampsToOne(t *testing.T) {
	c := New[string, int](0, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)
	require.Equal(t, 1, c.Len())
}
