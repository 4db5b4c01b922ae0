package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the redis-backed Gateway.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type redisGateway struct {
	rdb *redis.Client
}

// NewRedis dials a Redis (or Redis-compatible) server and returns a Gateway
// backed by it. It pings the server before returning so callers fail fast
// on a bad address instead of on the first queue operation.
func NewRedis(ctx context.Context, opts RedisOptions) (Gateway, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: connect to redis at %s: %w", opts.Addr, err)
	}
	return &redisGateway{rdb: rdb}, nil
}

// NewRedisFromClient wraps an already-constructed client, for tests that
// point a *redis.Client at a miniredis instance.
func NewRedisFromClient(rdb *redis.Client) Gateway {
	return &redisGateway{rdb: rdb}
}

func (g *redisGateway) ZAdd(ctx context.Context, key, member string, score float64) (bool, error) {
	n, err := g.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Result()
	if err != nil {
		return false, fmt.Errorf("store: zadd %s: %w", key, err)
	}
	return n > 0, nil
}

func (g *redisGateway) ZRangeWithScores(ctx context.Context, key string, start, stop int64) ([]ZMember, error) {
	zs, err := g.rdb.ZRangeWithScores(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("store: zrange %s: %w", key, err)
	}
	out := make([]ZMember, len(zs))
	for i, z := range zs {
		out[i] = ZMember{Member: fmt.Sprint(z.Member), Score: z.Score}
	}
	return out, nil
}

func (g *redisGateway) ZRemRangeByRank(ctx context.Context, key string, start, stop int64) (int64, error) {
	n, err := g.rdb.ZRemRangeByRank(ctx, key, start, stop).Result()
	if err != nil {
		return 0, fmt.Errorf("store: zremrangebyrank %s: %w", key, err)
	}
	return n, nil
}

func (g *redisGateway) ZRem(ctx context.Context, key, member string) (bool, error) {
	n, err := g.rdb.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("store: zrem %s: %w", key, err)
	}
	return n > 0, nil
}

func (g *redisGateway) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := g.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: zcard %s: %w", key, err)
	}
	return n, nil
}

func (g *redisGateway) ZRank(ctx context.Context, key, member string) (int64, bool, error) {
	rank, err := g.rdb.ZRank(ctx, key, member).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("store: zrank %s: %w", key, err)
	}
	return rank, true, nil
}

func (g *redisGateway) SAdd(ctx context.Context, key, member string) (bool, error) {
	n, err := g.rdb.SAdd(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("store: sadd %s: %w", key, err)
	}
	return n > 0, nil
}

func (g *redisGateway) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := g.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: smembers %s: %w", key, err)
	}
	return members, nil
}

func (g *redisGateway) SCard(ctx context.Context, key string) (int64, error) {
	n, err := g.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: scard %s: %w", key, err)
	}
	return n, nil
}

func (g *redisGateway) SRem(ctx context.Context, key, member string) (bool, error) {
	n, err := g.rdb.SRem(ctx, key, member).Result()
	if err != nil {
		return false, fmt.Errorf("store: srem %s: %w", key, err)
	}
	return n > 0, nil
}

func (g *redisGateway) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := g.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return v, true, nil
}

func (g *redisGateway) Incr(ctx context.Context, key string) (int64, error) {
	n, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: incr %s: %w", key, err)
	}
	return n, nil
}

func (g *redisGateway) Decr(ctx context.Context, key string) (int64, error) {
	n, err := g.rdb.Decr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("store: decr %s: %w", key, err)
	}
	return n, nil
}

func (g *redisGateway) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := g.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("store: del %v: %w", keys, err)
	}
	return nil
}

func (g *redisGateway) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := g.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

func (g *redisGateway) Ping(ctx context.Context) error {
	if err := g.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

func (g *redisGateway) Close() error {
	return g.rdb.Close()
}

func (g *redisGateway) Pipeline(ctx context.Context, fn func(p Pipeline) error) error {
	pipe := g.rdb.TxPipeline()
	rp := &redisPipeline{pipe: pipe}
	if err := fn(rp); err != nil {
		return err
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("store: pipeline exec: %w", err)
	}
	rp.fill()
	return nil
}

// redisPipeline queues commands against a redis.Pipeliner and, after Exec,
// copies each command's result into the future handed back to the caller.
type redisPipeline struct {
	pipe redis.Pipeliner

	zaddCmds  []*redis.IntCmd
	zaddDsts  []*BoolFuture
	zrangeCmds []*redis.ZSliceCmd
	zrangeDsts []*ZMembersFuture
	zremRankCmds []*redis.IntCmd
	zremRankDsts []*IntFuture
	zremCmds  []*redis.IntCmd
	zremDsts  []*BoolFuture
	zcardCmds []*redis.IntCmd
	zcardDsts []*IntFuture
	saddCmds  []*redis.IntCmd
	saddDsts  []*BoolFuture
	sremCmds  []*redis.IntCmd
	sremDsts  []*BoolFuture
	incrCmds  []*redis.IntCmd
	incrDsts  []*IntFuture
	decrCmds  []*redis.IntCmd
	decrDsts  []*IntFuture
}

func (p *redisPipeline) ZAdd(key, member string, score float64) *BoolFuture {
	cmd := p.pipe.ZAdd(context.Background(), key, redis.Z{Score: score, Member: member})
	f := &BoolFuture{}
	p.zaddCmds = append(p.zaddCmds, cmd)
	p.zaddDsts = append(p.zaddDsts, f)
	return f
}

func (p *redisPipeline) ZRangeWithScores(key string, start, stop int64) *ZMembersFuture {
	cmd := p.pipe.ZRangeWithScores(context.Background(), key, start, stop)
	f := &ZMembersFuture{}
	p.zrangeCmds = append(p.zrangeCmds, cmd)
	p.zrangeDsts = append(p.zrangeDsts, f)
	return f
}

func (p *redisPipeline) ZRemRangeByRank(key string, start, stop int64) *IntFuture {
	cmd := p.pipe.ZRemRangeByRank(context.Background(), key, start, stop)
	f := &IntFuture{}
	p.zremRankCmds = append(p.zremRankCmds, cmd)
	p.zremRankDsts = append(p.zremRankDsts, f)
	return f
}

func (p *redisPipeline) ZRem(key, member string) *BoolFuture {
	cmd := p.pipe.ZRem(context.Background(), key, member)
	f := &BoolFuture{}
	p.zremCmds = append(p.zremCmds, cmd)
	p.zremDsts = append(p.zremDsts, f)
	return f
}

func (p *redisPipeline) ZCard(key string) *IntFuture {
	cmd := p.pipe.ZCard(context.Background(), key)
	f := &IntFuture{}
	p.zcardCmds = append(p.zcardCmds, cmd)
	p.zcardDsts = append(p.zcardDsts, f)
	return f
}

func (p *redisPipeline) SAdd(key, member string) *BoolFuture {
	cmd := p.pipe.SAdd(context.Background(), key, member)
	f := &BoolFuture{}
	p.saddCmds = append(p.saddCmds, cmd)
	p.saddDsts = append(p.saddDsts, f)
	return f
}

func (p *redisPipeline) SRem(key, member string) *BoolFuture {
	cmd := p.pipe.SRem(context.Background(), key, member)
	f := &BoolFuture{}
	p.sremCmds = append(p.sremCmds, cmd)
	p.sremDsts = append(p.sremDsts, f)
	return f
}

func (p *redisPipeline) Incr(key string) *IntFuture {
	cmd := p.pipe.Incr(context.Background(), key)
	f := &IntFuture{}
	p.incrCmds = append(p.incrCmds, cmd)
	p.incrDsts = append(p.incrDsts, f)
	return f
}

func (p *redisPipeline) Decr(key string) *IntFuture {
	cmd := p.pipe.Decr(context.Background(), key)
	f := &IntFuture{}
	p.decrCmds = append(p.decrCmds, cmd)
	p.decrDsts = append(p.decrDsts, f)
	return f
}

func (p *redisPipeline) SetWithExpiry(key, value string, ttl time.Duration) {
	p.pipe.Set(context.Background(), key, value, ttl)
}

func (p *redisPipeline) fill() {
	for i, cmd := range p.zaddCmds {
		n, _ := cmd.Result()
		p.zaddDsts[i].v = n > 0
	}
	for i, cmd := range p.zrangeCmds {
		zs, _ := cmd.Result()
		out := make([]ZMember, len(zs))
		for j, z := range zs {
			out[j] = ZMember{Member: fmt.Sprint(z.Member), Score: z.Score}
		}
		p.zrangeDsts[i].v = out
	}
	for i, cmd := range p.zremRankCmds {
		n, _ := cmd.Result()
		p.zremRankDsts[i].v = n
	}
	for i, cmd := range p.zremCmds {
		n, _ := cmd.Result()
		p.zremDsts[i].v = n > 0
	}
	for i, cmd := range p.zcardCmds {
		n, _ := cmd.Result()
		p.zcardDsts[i].v = n
	}
	for i, cmd := range p.saddCmds {
		n, _ := cmd.Result()
		p.saddDsts[i].v = n > 0
	}
	for i, cmd := range p.sremCmds {
		n, _ := cmd.Result()
		p.sremDsts[i].v = n > 0
	}
	for i, cmd := range p.incrCmds {
		n, _ := cmd.Result()
		p.incrDsts[i].v = n
	}
	for i, cmd := range p.decrCmds {
		n, _ := cmd.Result()
		p.decrDsts[i].v = n
	}
}
