package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCachesWithinTTL(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New[string, int](500*time.Millisecond, 30*time.Minute, 20, false, WithClock[string, int](clock))

	calls := 0
	compute := func() (int, error) {
		calls++
		return 42, nil
	}

	v, fromCache, err := c.Get("q", compute)
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)

	v, fromCache, err = c.Get("q", compute)
	require.NoError(t, err)
	assert.True(t, fromCache)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls, "second call within TTL should not recompute")
}

func TestGetRecomputesAfterExpiry(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New[string, int](500*time.Millisecond, 30*time.Minute, 20, false, WithClock[string, int](clock))

	calls := 0
	_, _, err := c.Get("q", func() (int, error) { calls++; return 1, nil })
	require.NoError(t, err)

	now = now.Add(time.Second)
	_, fromCache, err := c.Get("q", func() (int, error) { calls++; return 2, nil })
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 2, calls)
}

func TestGetRecomputesOnKeyChange(t *testing.T) {
	c := New[string, int](time.Hour, time.Hour, 20, false)
	calls := 0
	_, _, err := c.Get("a", func() (int, error) { calls++; return 1, nil })
	require.NoError(t, err)
	_, fromCache, err := c.Get("b", func() (int, error) { calls++; return 2, nil })
	require.NoError(t, err)
	assert.False(t, fromCache)
	assert.Equal(t, 2, calls)
}

func TestSkipCacheAlwaysRecomputes(t *testing.T) {
	c := New[string, int](time.Hour, time.Hour, 20, true)
	calls := 0
	for i := 0; i < 3; i++ {
		_, fromCache, err := c.Get("q", func() (int, error) { calls++; return calls, nil })
		require.NoError(t, err)
		assert.False(t, fromCache)
	}
	assert.Equal(t, 3, calls)
}

func TestGetPropagatesError(t *testing.T) {
	c := New[string, int](time.Second, time.Minute, 20, false)
	_, _, err := c.Get("q", func() (int, error) { return 0, errors.New("boom") })
	assert.Error(t, err)
}

func TestTTLRespectsFloor(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c := New[string, int](500*time.Millisecond, time.Second, 20, false, WithClock[string, int](clock))

	_, _, err := c.Get("q", func() (int, error) { return 1, nil })
	require.NoError(t, err)

	now = now.Add(400 * time.Millisecond)
	_, fromCache, err := c.Get("q", func() (int, error) { return 2, nil })
	require.NoError(t, err)
	assert.True(t, fromCache, "runtime-derived ttl floors at initial")
}
