package worker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuemby/ddfrontier/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestGateway(t *testing.T) store.Gateway {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return store.NewRedisFromClient(rdb)
}

func TestRegisterAssignsDistinctIDs(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	cfg := Config{Prefix: "P", AliveTimeout: time.Minute}

	d1, err := Register(ctx, gw, cfg)
	require.NoError(t, err)
	d2, err := Register(ctx, gw, cfg)
	require.NoError(t, err)
	require.NotEqual(t, d1.ID(), d2.ID())
}

func TestDiscoverSoleWorker(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	d, err := Register(ctx, gw, Config{Prefix: "P", AliveTimeout: time.Minute})
	require.NoError(t, err)

	idx, n, err := d.Discover(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, 1, n)
}

func TestDiscoverTwoWorkersOrdering(t *testing.T) {
	ctx := context.Background()
	gw := newTestGateway(t)
	cfg := Config{Prefix: "P", AliveTimeout: time.Minute}

	d1, err := Register(ctx, gw, cfg)
	require.NoError(t, err)
	d2, err := Register(ctx, gw, cfg)
	require.NoError(t, err)

	idx1, n1, err := d1.Discover(ctx)
	require.NoError(t, err)
	idx2, n2, err := d2.Discover(ctx)
	require.NoError(t, err)

	require.Equal(t, 2, n1)
	require.Equal(t, 2, n2)
	require.NotEqual(t, idx1, idx2)
	require.ElementsMatch(t, []int{0, 1}, []int{idx1, idx2})
}

func TestDiscoverReapsExpiredWorker(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	gw := store.NewRedisFromClient(rdb)
	ctx := context.Background()

	d1, err := Register(ctx, gw, Config{Prefix: "P", AliveTimeout: time.Second})
	require.NoError(t, err)
	_, err = Register(ctx, gw, Config{Prefix: "P", AliveTimeout: time.Second})
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	idx, n, err := d1.Discover(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, idx)
	require.Equal(t, 1, n, "the expired worker should be reaped")
}
