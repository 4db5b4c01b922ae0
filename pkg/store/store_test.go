package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisFromClient(rdb)
}

func TestZAddAndRange(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	added, err := g.ZAdd(ctx, "q", "a", 10)
	require.NoError(t, err)
	require.True(t, added)

	added, err = g.ZAdd(ctx, "q", "b", 5)
	require.NoError(t, err)
	require.True(t, added)

	added, err = g.ZAdd(ctx, "q", "a", 20)
	require.NoError(t, err)
	require.False(t, added, "re-adding an existing member just updates its score")

	members, err := g.ZRangeWithScores(ctx, "q", 0, -1)
	require.NoError(t, err)
	require.Equal(t, []ZMember{{Member: "b", Score: 5}, {Member: "a", Score: 20}}, members)

	card, err := g.ZCard(ctx, "q")
	require.NoError(t, err)
	require.EqualValues(t, 2, card)

	rank, ok, err := g.ZRank(ctx, "q", "b")
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 0, rank)

	_, ok, err = g.ZRank(ctx, "q", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestZRemRangeByRank(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)
	for i, m := range []string{"a", "b", "c"} {
		_, err := g.ZAdd(ctx, "q", m, float64(i))
		require.NoError(t, err)
	}
	removed, err := g.ZRemRangeByRank(ctx, "q", 0, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	members, err := g.ZRangeWithScores(ctx, "q", 0, -1)
	require.NoError(t, err)
	require.Len(t, members, 2)
	require.Equal(t, "b", members[0].Member)
}

func TestSetOperations(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	added, err := g.SAdd(ctx, "s", "x")
	require.NoError(t, err)
	require.True(t, added)

	added, err = g.SAdd(ctx, "s", "x")
	require.NoError(t, err)
	require.False(t, added)

	card, err := g.SCard(ctx, "s")
	require.NoError(t, err)
	require.EqualValues(t, 1, card)

	members, err := g.SMembers(ctx, "s")
	require.NoError(t, err)
	require.Equal(t, []string{"x"}, members)

	removed, err := g.SRem(ctx, "s", "x")
	require.NoError(t, err)
	require.True(t, removed)
}

func TestCounters(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	n, err := g.Incr(ctx, "c")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	n, err = g.Incr(ctx, "c")
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	n, err = g.Decr(ctx, "c")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestKeys(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	err := g.SetWithExpiry(ctx, "k", "v", time.Minute)
	require.NoError(t, err)

	v, ok, err := g.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v", v)

	err = g.Del(ctx, "k")
	require.NoError(t, err)

	_, ok, err = g.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestPipelineAtomicity(t *testing.T) {
	ctx := context.Background()
	g := newTestGateway(t)

	var added *BoolFuture
	var card *IntFuture
	err := g.Pipeline(ctx, func(p Pipeline) error {
		added = p.ZAdd("q", "a", 1)
		card = p.ZCard("q")
		return nil
	})
	require.NoError(t, err)
	require.True(t, added.Result())
	require.EqualValues(t, 1, card.Result())
}

func TestPing(t *testing.T) {
	g := newTestGateway(t)
	require.NoError(t, g.Ping(context.Background()))
}
