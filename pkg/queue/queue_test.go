package queue

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cuemby/ddfrontier/pkg/admission"
	"github.com/cuemby/ddfrontier/pkg/selector"
	"github.com/cuemby/ddfrontier/pkg/store"
	"github.com/cuemby/ddfrontier/pkg/types"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, cfg Config, admCfg admission.Config, opts ...Option) (*Queue, store.Gateway) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	gw := store.NewRedisFromClient(rdb)

	if cfg.Prefix == "" {
		cfg.Prefix = "test"
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxScore == 0 {
		cfg.MaxScore = 1 << 20
	}
	if cfg.PriorityMultiplier == 0 {
		cfg.PriorityMultiplier = 1
	}
	if cfg.BalancingTemperature == 0 {
		cfg.BalancingTemperature = 1
	}
	if cfg.QueueCacheMax == 0 {
		cfg.QueueCacheMax = time.Millisecond
	}
	cfg.SkipCache = true
	admCfg.Prefix = cfg.Prefix

	allOpts := append([]Option{WithRand(rand.New(rand.NewSource(1)))}, opts...)
	q, err := New(context.Background(), gw, cfg, admCfg, 2*time.Minute, allOpts...)
	require.NoError(t, err)
	return q, gw
}

func TestPushPopRoundTrip(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{}, admission.Config{})

	ok, err := q.Push(ctx, types.Request{URL: "https://example.com/a", Priority: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	req, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/a", req.URL)

	_, ok, err = q.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPushPopPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{}, admission.Config{})

	_, err := q.Push(ctx, types.Request{URL: "https://example.com/low", Priority: 1})
	require.NoError(t, err)
	_, err = q.Push(ctx, types.Request{URL: "https://example.com/high", Priority: 100})
	require.NoError(t, err)

	req, ok, err := q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/high", req.URL, "higher priority request should pop first")

	req, ok, err = q.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "https://example.com/low", req.URL)
}

func TestPushRespectsMaxDomainsCap(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{}, admission.Config{MaxDomains: 2})

	ok, err := q.Push(ctx, types.Request{URL: "https://a.com/1", Priority: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Push(ctx, types.Request{URL: "https://b.com/1", Priority: 1})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.Push(ctx, types.Request{URL: "https://c.com/1", Priority: 1})
	require.NoError(t, err)
	assert.False(t, ok, "third distinct domain should be rejected once the cap is reached")

	// A second page on an already-admitted domain is still accepted.
	ok, err = q.Push(ctx, types.Request{URL: "https://a.com/2", Priority: 1})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTwoWorkersPartitionDomains(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	gw := store.NewRedisFromClient(rdb)

	cfg := Config{
		Prefix: "part", BatchSize: 10, MaxScore: 1 << 20,
		PriorityMultiplier: 1, BalancingTemperature: 1,
		QueueCacheMax: time.Millisecond, SkipCache: true,
	}
	admCfg := admission.Config{Prefix: cfg.Prefix}

	w1, err := New(ctx, gw, cfg, admCfg, 2*time.Minute, WithRand(rand.New(rand.NewSource(1))))
	require.NoError(t, err)
	w2, err := New(ctx, gw, cfg, admCfg, 2*time.Minute, WithRand(rand.New(rand.NewSource(2))))
	require.NoError(t, err)

	domains := []string{"a.com", "b.com", "c.com", "d.com", "e.com", "f.com"}
	for _, d := range domains {
		ok, err := w1.Push(ctx, types.Request{URL: "https://" + d + "/x", Priority: 1})
		require.NoError(t, err)
		require.True(t, ok)
	}

	var popped []string
	for i := 0; i < len(domains); i++ {
		req, ok, err := w1.Pop(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		popped = append(popped, req.URL)
	}
	for i := 0; i < len(domains); i++ {
		req, ok, err := w2.Pop(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		popped = append(popped, req.URL)
	}

	assert.Len(t, popped, len(domains), "every domain should be popped exactly once across the two partitioned workers")
}

func TestPopMultiOneQueue(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{BatchSize: 5}, admission.Config{})

	for i := 0; i < 5; i++ {
		_, err := q.Push(ctx, types.Request{URL: "https://example.com/p", Priority: int32(i)})
		require.NoError(t, err)
	}

	reqs, err := q.PopMulti(ctx, 5)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(reqs), 5)
	assert.NotEmpty(t, reqs)
}

func TestPopMultiManyQueues(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{BatchSize: 20}, admission.Config{})

	for i := 0; i < 20; i++ {
		url := "https://site" + string(rune('a'+i)) + ".com/x"
		_, err := q.Push(ctx, types.Request{URL: url, Priority: 1})
		require.NoError(t, err)
	}

	reqs, err := q.PopMulti(ctx, 20)
	require.NoError(t, err)
	assert.NotEmpty(t, reqs)

	seen := map[string]bool{}
	for _, r := range reqs {
		seen[r.URL] = true
	}
	assert.Greater(t, len(seen), 1, "batch over many equally-weighted domains should span more than one")
}

func TestPopMultiDegenerateProbabilitySpansQueues(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{BatchSize: 40, ConcurrentRequestsPerDomain: 4}, admission.Config{},
		WithBatchPolicy(selector.SoftmaxBatch{}))

	_, err := q.Push(ctx, types.Request{URL: "https://dominant.com/x", Priority: 1 << 20})
	require.NoError(t, err)
	for i := 0; i < 30; i++ {
		url := "https://low" + string(rune('a'+i%26)) + string(rune('0'+i/26)) + ".com/x"
		_, err := q.Push(ctx, types.Request{URL: url, Priority: 1})
		require.NoError(t, err)
	}

	reqs, err := q.PopMulti(ctx, 40)
	require.NoError(t, err)

	domains := map[string]bool{}
	for _, r := range reqs {
		domains[r.URL] = true
	}
	assert.Greater(t, len(domains), 5, "degenerate probability mass on one domain must not starve the rest of the batch")
}

func TestMaxRelevantDomainsRestrictsNewDomains(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{}, admission.Config{MaxRelevantDomains: 1, RestrictDelay: 0})

	ok, err := q.Push(ctx, types.Request{URL: "https://a.com/1", Priority: 1})
	require.NoError(t, err)
	require.True(t, ok)

	// A second page keeps a.com's queue non-empty after the Pop below, so
	// a.com is still an existing domain once the fleet is restricted.
	ok, err = q.Push(ctx, types.Request{URL: "https://a.com/0", Priority: 1})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.PageIsRelevant(ctx, "https://a.com/1", 0.9))

	// Triggers TryRestrictDomains as a side effect of selection.
	_, _, err = q.Pop(ctx)
	require.NoError(t, err)

	ok, err = q.Push(ctx, types.Request{URL: "https://b.com/1", Priority: 1})
	require.NoError(t, err)
	assert.False(t, ok, "new domains must be rejected once the fleet is restricted")

	ok, err = q.Push(ctx, types.Request{URL: "https://a.com/2", Priority: 1})
	require.NoError(t, err)
	assert.True(t, ok, "existing domains remain admissible while restricted")
}

func TestLenAndStats(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{}, admission.Config{})

	_, err := q.Push(ctx, types.Request{URL: "https://a.com/1", Priority: 1})
	require.NoError(t, err)
	_, err = q.Push(ctx, types.Request{URL: "https://b.com/1", Priority: 2})
	require.NoError(t, err)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Len)
	assert.Equal(t, 2, stats.NDomains)
}

func TestClearRemovesState(t *testing.T) {
	ctx := context.Background()
	q, gw := newTestQueue(t, Config{}, admission.Config{})

	_, err := q.Push(ctx, types.Request{URL: "https://a.com/1", Priority: 1})
	require.NoError(t, err)
	require.NoError(t, q.AddHintURL(ctx, "https://a.com/seed"))

	require.NoError(t, q.Clear(ctx))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	urls, err := q.hints.HintURLs(ctx)
	require.NoError(t, err)
	assert.Empty(t, urls)

	card, err := gw.ZCard(ctx, queuesIndexKey(q.prefix))
	require.NoError(t, err)
	assert.Equal(t, int64(0), card)
}

func TestHintAndCredentialPassthroughs(t *testing.T) {
	ctx := context.Background()
	q, _ := newTestQueue(t, Config{}, admission.Config{})

	require.NoError(t, q.AddHintURL(ctx, "https://a.com/seed"))
	require.NoError(t, q.AddLoginCredentials(ctx, "https://a.com/login", "user", "pass"))

	creds, ok, err := q.GetLoginCredentials(ctx, "https://a.com/anything")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user", creds.Login)
	assert.Equal(t, "pass", creds.Password)

	require.NoError(t, q.RemoveHintURL(ctx, "https://a.com/seed"))
}

func TestURLQueueKeyAndDomain(t *testing.T) {
	q, _ := newTestQueue(t, Config{}, admission.Config{})
	key := q.URLQueueKey("https://www.example.com/path")
	assert.Equal(t, "example.com", q.QueueKeyDomain(key))
}
