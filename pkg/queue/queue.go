// Package queue implements the Queue Core: the orchestrator that ties the
// codec, store gateway, domain partitioner, worker directory, selector,
// and admission controller together into the external queue API crawl
// engines consume.
package queue

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/cuemby/ddfrontier/pkg/admission"
	"github.com/cuemby/ddfrontier/pkg/cache"
	"github.com/cuemby/ddfrontier/pkg/codec"
	"github.com/cuemby/ddfrontier/pkg/domainkey"
	"github.com/cuemby/ddfrontier/pkg/hints"
	"github.com/cuemby/ddfrontier/pkg/log"
	"github.com/cuemby/ddfrontier/pkg/metrics"
	"github.com/cuemby/ddfrontier/pkg/partition"
	"github.com/cuemby/ddfrontier/pkg/selector"
	"github.com/cuemby/ddfrontier/pkg/store"
	"github.com/cuemby/ddfrontier/pkg/types"
	"github.com/cuemby/ddfrontier/pkg/worker"
	"github.com/rs/zerolog"
)

// warnThreshold is the latency above which queue-key selection logs a
// warning, mirroring the reference implementation's 100ms instrumentation.
const warnThreshold = 100 * time.Millisecond

// ErrAdmissionRejected marks a push dropped by the admission controller in
// log output. Push itself reports rejection through its bool return, never
// through an error value; this sentinel exists for log-line correlation
// only (see the two Push rejection paths below).
var ErrAdmissionRejected = errors.New("queue: push rejected by admission controller")

// Config carries the Queue Core's own tunables. Redis connection settings
// and ambient config live in pkg/config; this is the subset Queue itself
// consumes.
type Config struct {
	Prefix                      string
	BatchSize                   int
	ConcurrentRequestsPerDomain int
	PriorityMultiplier          float64
	BalancingTemperature        float64
	MaxScore                    int32
	QueueCacheInitial           time.Duration
	QueueCacheMax               time.Duration
	QueueCacheMultiplier        float64
	SkipCache                   bool
}

type cacheKey struct {
	idx int
	n   int
}

// Queue is the per-spider frontier: one instance per worker process,
// sharing state with the rest of the fleet through the store gateway.
type Queue struct {
	gw     store.Gateway
	prefix string
	cfg    Config

	dir       *worker.Directory
	admission *admission.Controller
	hints     *hints.Tables

	candidates  *cache.TimedCache[cacheKey, []selector.Candidate]
	policy      selector.Policy
	batchPolicy selector.BatchPolicy
	slotChecker selector.SlotChecker

	rng *rand.Rand
	log zerolog.Logger
}

// Option configures optional Queue behavior.
type Option func(*Queue)

// WithPolicy overrides the single-selection policy (default Softmax).
func WithPolicy(p selector.Policy) Option {
	return func(q *Queue) { q.policy = p }
}

// WithBatchPolicy overrides the batch-selection policy (default SoftmaxBatch).
func WithBatchPolicy(p selector.BatchPolicy) Option {
	return func(q *Queue) { q.batchPolicy = p }
}

// WithSlotChecker installs a SlotChecker that reflects live in-flight
// request counts per domain (default NoopSlotChecker: always available).
func WithSlotChecker(c selector.SlotChecker) Option {
	return func(q *Queue) { q.slotChecker = c }
}

// WithRand overrides the random source, for deterministic tests.
func WithRand(rng *rand.Rand) Option {
	return func(q *Queue) { q.rng = rng }
}

// New builds a Queue bound to gw, registering this process in the worker
// directory and wiring the admission controller and hint/credential
// side-tables under the same prefix.
func New(ctx context.Context, gw store.Gateway, cfg Config, admissionCfg admission.Config, aliveTimeout time.Duration, opts ...Option) (*Queue, error) {
	dir, err := worker.Register(ctx, gw, worker.Config{Prefix: cfg.Prefix, AliveTimeout: aliveTimeout})
	if err != nil {
		return nil, fmt.Errorf("queue: register worker: %w", err)
	}

	q := &Queue{
		gw:          gw,
		prefix:      cfg.Prefix,
		cfg:         cfg,
		dir:         dir,
		admission:   admission.New(gw, admissionCfg),
		hints:       hints.New(gw, cfg.Prefix),
		policy:      selector.Softmax{},
		batchPolicy: selector.SoftmaxBatch{},
		slotChecker: selector.NoopSlotChecker{},
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		log:         log.WithComponent("queue"),
	}
	q.candidates = cache.New[cacheKey, []selector.Candidate](
		cfg.QueueCacheInitial, cfg.QueueCacheMax, cfg.QueueCacheMultiplier, cfg.SkipCache,
	)
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

func lenKey(prefix string) string        { return prefix + ":len" }
func queuesIndexKey(prefix string) string { return prefix + ":queues" }

// QueueKeyDomain extracts the registered domain from a queue key produced
// under this Queue's prefix.
func (q *Queue) QueueKeyDomain(key string) string {
	return domainkey.QueueKeyDomain(q.prefix, key)
}

// URLQueueKey returns the queue key a given URL would be bucketed under.
func (q *Queue) URLQueueKey(url string) string {
	return domainkey.URLQueueKey(q.prefix, url)
}

func (q *Queue) temperature() float64 {
	return selector.Temperature(q.cfg.BalancingTemperature, q.cfg.PriorityMultiplier)
}

// Push admits request into its domain's queue. It returns false, nil when
// the request was dropped by the admission controller (domain cap or
// restricted state) rather than erroring.
func (q *Queue) Push(ctx context.Context, req types.Request) (bool, error) {
	domain := domainkey.URLDomain(req.URL)
	key := domainkey.QueueKey(q.prefix, domain)
	queuesKey := queuesIndexKey(q.prefix)

	_, exists, err := q.gw.ZRank(ctx, queuesKey, key)
	if err != nil {
		return false, fmt.Errorf("queue: check existing domain: %w", err)
	}

	if !exists {
		restricted, err := q.admission.IsRestricted(ctx)
		if err != nil {
			return false, err
		}
		if restricted {
			metrics.PushesTotal.WithLabelValues("rejected_restricted").Inc()
			q.log.Info().Err(ErrAdmissionRejected).Str("url", req.URL).Str("domain", domain).Msg("fleet is restricted to existing domains")
			return false, nil
		}

		domainCount, err := q.gw.ZCard(ctx, queuesKey)
		if err != nil {
			return false, fmt.Errorf("queue: count domains: %w", err)
		}
		if !q.admission.AdmitsNewDomain(domainCount) {
			metrics.PushesTotal.WithLabelValues("rejected_max_domains").Inc()
			q.log.Info().Err(ErrAdmissionRejected).Str("url", req.URL).Str("domain", domain).Msg("max domains reached")
			return false, nil
		}
	}

	score := -math.Min(float64(req.Priority), float64(q.cfg.MaxScore))
	encoded := codec.Encode(req)

	var addedF *store.BoolFuture
	var topF *store.ZMembersFuture
	err = q.gw.Pipeline(ctx, func(p store.Pipeline) error {
		addedF = p.ZAdd(key, encoded, score)
		topF = p.ZRangeWithScores(key, 0, 0)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("queue: push to %s: %w", key, err)
	}

	if addedF.Result() {
		if _, err := q.gw.Incr(ctx, lenKey(q.prefix)); err != nil {
			return false, fmt.Errorf("queue: increment length: %w", err)
		}
	}

	top := topF.Result()
	if len(top) == 0 {
		return false, fmt.Errorf("queue: push to %s: queue empty immediately after add", key)
	}
	queueAdded, err := q.gw.ZAdd(ctx, queuesKey, key, top[0].Score)
	if err != nil {
		return false, fmt.Errorf("queue: upsert queues index: %w", err)
	}
	if queueAdded {
		q.log.Debug().Str("queue", key).Msg("ADD queue")
		q.candidates.Invalidate()
	}

	metrics.PushesTotal.WithLabelValues("admitted").Inc()
	return true, nil
}

// Pop selects a queue key per the selector policy and pops the single
// highest-priority request from it. ok is false when no request was
// available anywhere in this worker's partition.
func (q *Queue) Pop(ctx context.Context) (types.Request, bool, error) {
	key, err := q.selectQueueKey(ctx)
	if err != nil {
		return types.Request{}, false, err
	}
	if key == "" {
		metrics.PopsTotal.WithLabelValues("empty").Inc()
		return types.Request{}, false, nil
	}
	reqs, err := q.popFromQueue(ctx, key, 1)
	if err != nil {
		return types.Request{}, false, err
	}
	if len(reqs) == 0 {
		metrics.PopsTotal.WithLabelValues("empty").Inc()
		return types.Request{}, false, nil
	}
	metrics.PopsTotal.WithLabelValues("hit").Inc()
	return reqs[0], true, nil
}

const maxSelectRetries = 5

// selectQueueKey implements spec.md §4.6 steps 1-5: discover, compute the
// candidate set, filter by availability, apply the policy, and verify the
// chosen queue is actually non-empty, retrying a bounded number of times
// if it races with a concurrent pop that emptied it.
func (q *Queue) selectQueueKey(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxSelectRetries; attempt++ {
		candidates, err := q.candidatesForSelection(ctx)
		if err != nil {
			return "", err
		}
		if len(candidates) == 0 {
			return "", nil
		}

		var key string
		timer := metrics.NewTimer()
		selErr := selector.WarnIfSlower(warnThreshold, q.log, "select_queue_key", func() error {
			var err error
			key, err = q.policy.Select(q.rng, candidates, q.temperature())
			return err
		})
		timer.ObserveDuration(metrics.SelectionDuration)
		if selErr != nil {
			if errors.Is(selErr, selector.ErrNoCandidates) {
				return "", nil
			}
			return "", selErr
		}

		card, err := q.gw.ZCard(ctx, key)
		if err != nil {
			return "", fmt.Errorf("queue: check selected queue cardinality: %w", err)
		}
		if card > 0 {
			return key, nil
		}

		q.log.Warn().Str("queue", key).Msg("selected queue was already empty, removing and retrying")
		if _, err := q.gw.ZRem(ctx, queuesIndexKey(q.prefix), key); err != nil {
			return "", fmt.Errorf("queue: remove empty queue: %w", err)
		}
		q.candidates.Invalidate()
	}
	return "", nil
}

// candidatesForSelection runs discover, the idempotent restriction check,
// and the cached candidate-set computation, then narrows to the
// available subset.
func (q *Queue) candidatesForSelection(ctx context.Context) ([]selector.Candidate, error) {
	idx, n, err := q.dir.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: discover: %w", err)
	}
	metrics.WorkersLive.Set(float64(n))

	restricted, err := q.admission.TryRestrictDomains(ctx)
	if err != nil {
		return nil, err
	}
	if restricted {
		metrics.RestrictedDomains.Set(1)
	} else {
		metrics.RestrictedDomains.Set(0)
	}

	candidates, fromCache, err := q.candidates.Get(cacheKey{idx: idx, n: n}, func() ([]selector.Candidate, error) {
		return q.loadCandidates(ctx, idx, n)
	})
	if err != nil {
		return nil, err
	}
	if fromCache {
		metrics.SelectionCacheHitsTotal.WithLabelValues("hit").Inc()
	} else {
		metrics.SelectionCacheHitsTotal.WithLabelValues("miss").Inc()
	}

	return selector.FilterAvailable(candidates, q.slotChecker), nil
}

func (q *Queue) loadCandidates(ctx context.Context, idx, n int) ([]selector.Candidate, error) {
	members, err := q.gw.ZRangeWithScores(ctx, queuesIndexKey(q.prefix), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("queue: list queues index: %w", err)
	}
	owned := make([]selector.Candidate, 0, len(members))
	for _, m := range members {
		if partition.Owns(m.Member, idx, n) {
			owned = append(owned, selector.Candidate{
				Key:    m.Member,
				Domain: domainkey.QueueKeyDomain(q.prefix, m.Member),
				Score:  m.Score,
			})
		}
	}
	return owned, nil
}

// popFromQueue reads the top n+1 members of key, removes the top n by
// rank, decodes them, and updates the queues index and length counter to
// match. Requests that fail to decode are dropped and counted as
// corruption rather than propagated as an error.
func (q *Queue) popFromQueue(ctx context.Context, key string, n int) ([]types.Request, error) {
	if n <= 0 {
		return nil, nil
	}

	var topF *store.ZMembersFuture
	var remF *store.IntFuture
	err := q.gw.Pipeline(ctx, func(p store.Pipeline) error {
		topF = p.ZRangeWithScores(key, 0, int64(n))
		remF = p.ZRemRangeByRank(key, 0, int64(n-1))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: pop from %s: %w", key, err)
	}

	members := topF.Result()
	removed := remF.Result()
	if removed == 0 {
		return nil, nil
	}

	requests := make([]types.Request, 0, removed)
	for i := int64(0); i < removed && int(i) < len(members); i++ {
		req, err := codec.Decode(members[i].Member)
		if err != nil {
			metrics.MalformedRequestsTotal.Inc()
			q.log.Error().Err(err).Str("queue", key).Msg("dropping malformed queue member")
			continue
		}
		requests = append(requests, req)
	}

	err = q.gw.Pipeline(ctx, func(p store.Pipeline) error {
		for i := int64(0); i < removed; i++ {
			p.Decr(lenKey(q.prefix))
		}
		if int64(len(members)) > removed {
			p.ZAdd(queuesIndexKey(q.prefix), key, members[removed].Score)
		} else {
			p.ZRem(queuesIndexKey(q.prefix), key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: finalize pop from %s: %w", key, err)
	}
	if int64(len(members)) <= removed {
		q.log.Debug().Str("queue", key).Msg("removed empty queue")
		q.candidates.Invalidate()
	}

	return requests, nil
}

// PopMulti pulls up to batchSize requests in one round, sampling queue
// keys with replacement per the batch policy, then draining each
// selected key by its drawn count. batchSize <= 0 uses the configured
// default.
func (q *Queue) PopMulti(ctx context.Context, batchSize int) ([]types.Request, error) {
	if batchSize <= 0 {
		batchSize = q.cfg.BatchSize
	}

	candidates, err := q.candidatesForSelection(ctx)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	maxPerQueue := 0
	if q.cfg.ConcurrentRequestsPerDomain > 0 {
		maxPerQueue = (q.cfg.ConcurrentRequestsPerDomain + 1) / 2
	}

	var counts map[string]int
	timer := metrics.NewTimer()
	selErr := selector.WarnIfSlower(warnThreshold, q.log, "select_queue_keys_batch", func() error {
		var err error
		counts, err = q.batchPolicy.SelectBatch(q.rng, candidates, batchSize, maxPerQueue, q.temperature())
		return err
	})
	timer.ObserveDuration(metrics.SelectionDuration)
	if selErr != nil {
		if errors.Is(selErr, selector.ErrNoCandidates) {
			return nil, nil
		}
		return nil, selErr
	}

	var results []types.Request
	for key, n := range counts {
		reqs, err := q.popFromQueue(ctx, key, n)
		if err != nil {
			return nil, err
		}
		for i, j := 0, len(reqs)-1; i < j; i, j = i+1, j-1 {
			reqs[i], reqs[j] = reqs[j], reqs[i]
		}
		results = append(results, reqs...)
	}
	if len(results) > 0 {
		metrics.PopsTotal.WithLabelValues("hit").Add(float64(len(results)))
	}
	return results, nil
}

// Len returns the length counter; it may lag transiently under
// concurrent pushes/pops.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	raw, ok, err := q.gw.Get(ctx, lenKey(q.prefix))
	if err != nil {
		return 0, fmt.Errorf("queue: read length: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("queue: parse length: %w", err)
	}
	return n, nil
}

// Stats returns the total length, domain count, and per-queue detail.
func (q *Queue) Stats(ctx context.Context) (types.Stats, error) {
	length, err := q.Len(ctx)
	if err != nil {
		return types.Stats{}, err
	}
	members, err := q.gw.ZRangeWithScores(ctx, queuesIndexKey(q.prefix), 0, -1)
	if err != nil {
		return types.Stats{}, fmt.Errorf("queue: list queues index: %w", err)
	}

	queues := make([]types.QueueInfo, 0, len(members))
	for _, m := range members {
		card, err := q.gw.ZCard(ctx, m.Member)
		if err != nil {
			return types.Stats{}, fmt.Errorf("queue: cardinality of %s: %w", m.Member, err)
		}
		queues = append(queues, types.QueueInfo{
			Key:         m.Member,
			Priority:    int32(-m.Score),
			Cardinality: card,
		})
	}

	metrics.QueueLength.Set(float64(length))
	metrics.QueueDomains.Set(float64(len(members)))

	return types.Stats{Len: length, NDomains: len(members), Queues: queues}, nil
}

// Clear removes every key this Queue (and the worker fleet sharing its
// prefix) owns: the length counter, queues index, every per-domain queue,
// the worker set and id counter, every live worker's heartbeat key, the
// admission side-tables, and the hint set. Per-domain login credential
// entries are not deleted.
func (q *Queue) Clear(ctx context.Context) error {
	members, err := q.gw.ZRangeWithScores(ctx, queuesIndexKey(q.prefix), 0, -1)
	if err != nil {
		return fmt.Errorf("queue: list queues index: %w", err)
	}
	workerIDs, err := q.gw.SMembers(ctx, worker.WorkersKey(q.prefix))
	if err != nil {
		return fmt.Errorf("queue: list workers: %w", err)
	}
	hintURLs, err := q.hints.HintURLs(ctx)
	if err != nil {
		return err
	}
	_ = hintURLs // hint URLs themselves are not keys; only the hint set key is deleted below

	keys := []string{
		lenKey(q.prefix),
		queuesIndexKey(q.prefix),
		worker.WorkersKey(q.prefix),
		worker.IDCounterKey(q.prefix),
		admission.RelevantDomainsKey(q.prefix),
		admission.RelevantSinceKey(q.prefix),
		admission.RestrictedKey(q.prefix),
		hints.HintsKey(q.prefix),
	}
	for _, m := range members {
		keys = append(keys, m.Member)
	}
	for _, raw := range workerIDs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		keys = append(keys, worker.HeartbeatKey(q.prefix, id))
	}

	if err := q.gw.Del(ctx, keys...); err != nil {
		return fmt.Errorf("queue: clear: %w", err)
	}
	q.candidates.Invalidate()
	return nil
}

// PageIsRelevant records url's registered domain as relevant, feeding the
// admission controller's restriction trigger. score is accepted for
// signature parity with external callers that decide relevance by
// score threshold before calling; the controller itself does not
// interpret it.
func (q *Queue) PageIsRelevant(ctx context.Context, url string, score float64) error {
	domain := domainkey.URLDomain(url)
	q.log.Debug().Str("url", url).Str("domain", domain).Float64("score", score).Msg("page marked relevant")
	return q.admission.MarkRelevant(ctx, domain)
}

// AddHintURL pins url as an always-relevant seed.
func (q *Queue) AddHintURL(ctx context.Context, url string) error {
	return q.hints.AddHintURL(ctx, url)
}

// RemoveHintURL unpins url.
func (q *Queue) RemoveHintURL(ctx context.Context, url string) error {
	return q.hints.RemoveHintURL(ctx, url)
}

// AddLoginCredentials records login credentials for url's domain.
func (q *Queue) AddLoginCredentials(ctx context.Context, url, login, password string) error {
	return q.hints.AddLoginCredentials(ctx, url, login, password)
}

// GetLoginCredentials returns the credentials recorded for url's domain.
func (q *Queue) GetLoginCredentials(ctx context.Context, url string) (hints.Credentials, bool, error) {
	return q.hints.GetLoginCredentials(ctx, url)
}
