package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/ddfrontier/pkg/admission"
	"github.com/cuemby/ddfrontier/pkg/config"
	"github.com/cuemby/ddfrontier/pkg/log"
	"github.com/cuemby/ddfrontier/pkg/metrics"
	"github.com/cuemby/ddfrontier/pkg/queue"
	"github.com/cuemby/ddfrontier/pkg/store"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags during build.
	Version = "dev"

	configPath string
)

const cliTimeout = 10 * time.Second

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var u usageError
		if isUsageError(err, &u) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "ddfrontier",
	Short:   "Distributed, priority-driven crawl frontier over a shared store",
	Version: Version,
}

func init() {
	cobra.OnInitialize(initLogging)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")

	rootCmd.AddCommand(queueStatsCmd)
	rootCmd.AddCommand(hintCmd)
	rootCmd.AddCommand(loginCmd)
}

func initLogging() {
	cfg, err := config.Load(configPath)
	level := "info"
	if err == nil {
		level = cfg.Observability.LogLevel
	}
	log.Init(log.Config{Level: log.Level(level)})
	metrics.SetVersion(Version)
}

// usageError marks errors that should map to exit code 2, matching
// scrapy's UsageError behavior for malformed command invocations.
type usageError struct{ err error }

func (u usageError) Error() string { return u.err.Error() }
func (u usageError) Unwrap() error { return u.err }

func isUsageError(err error, target *usageError) bool {
	u, ok := err.(usageError)
	if ok {
		*target = u
	}
	return ok
}

func newUsageError(format string, args ...interface{}) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

// openQueue loads configuration, dials the store, and binds a Queue scoped
// to spider's own prefix (the configured prefix suffixed with the spider
// name, so multiple spiders can share one Redis instance without
// colliding). The returned function closes the store connection and
// cancels the returned context; the caller must defer it.
func openQueue(spider string) (*queue.Queue, context.Context, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	gw, err := store.NewRedis(ctx, store.RedisOptions{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		metrics.RegisterStore(false, err.Error())
		cancel()
		return nil, nil, nil, fmt.Errorf("connect to store: %w", err)
	}
	metrics.RegisterStore(true, "")

	prefix := cfg.Queue.Prefix + ":" + spider
	qcfg := queue.Config{
		Prefix:                      prefix,
		BatchSize:                   cfg.Queue.BatchSize,
		ConcurrentRequestsPerDomain: cfg.Queue.ConcurrentRequestsPerDomain,
		PriorityMultiplier:          cfg.Queue.PriorityMultiplier,
		BalancingTemperature:        cfg.Queue.BalancingTemperature,
		MaxScore:                    cfg.Queue.MaxScore,
		QueueCacheInitial:           cfg.Queue.QueueCacheTime / 10,
		QueueCacheMax:               cfg.Queue.QueueCacheTime,
		QueueCacheMultiplier:        100,
		SkipCache:                   cfg.Queue.SkipCache,
	}
	admCfg := admission.Config{
		Prefix:             prefix,
		MaxDomains:         cfg.Queue.MaxDomains,
		MaxRelevantDomains: cfg.Queue.MaxRelevantDomains,
		RestrictDelay:      cfg.Queue.RestrictDelay,
	}

	q, err := queue.New(ctx, gw, qcfg, admCfg, cfg.Queue.AliveTimeout)
	if err != nil {
		metrics.RegisterWorkers(false, err.Error())
		_ = gw.Close()
		cancel()
		return nil, nil, nil, fmt.Errorf("open queue: %w", err)
	}
	metrics.RegisterWorkers(true, "")
	return q, ctx, func() { _ = gw.Close(); cancel() }, nil
}
