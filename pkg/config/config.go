// Package config loads ddfrontier's configuration from a YAML file and
// DDFRONTIER_-prefixed environment variables, layered with viper the way
// the Redis-backed work-queue example does it.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Redis carries the connection settings for the backing store.
type Redis struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
}

// Queue carries spec.md §6's configuration table plus the key prefix.
type Queue struct {
	Prefix string `mapstructure:"prefix"`

	MaxDomains                  int           `mapstructure:"max_domains"`
	MaxRelevantDomains          int           `mapstructure:"max_relevant_domains"`
	RestrictDelay               time.Duration `mapstructure:"restrict_delay"`
	BatchSize                   int           `mapstructure:"batch_size"`
	ConcurrentRequestsPerDomain int           `mapstructure:"concurrent_requests_per_domain"`
	PriorityMultiplier          float64       `mapstructure:"dd_priority_multiplier"`
	BalancingTemperature        float64       `mapstructure:"dd_balancing_temperature"`
	MaxScore                    int32         `mapstructure:"dd_max_score"`
	AliveTimeout                time.Duration `mapstructure:"alive_timeout"`
	QueueCacheTime              time.Duration `mapstructure:"queue_cache_time"`
	SkipCache                   bool          `mapstructure:"skip_cache"`
}

// Observability carries the ambient logging/metrics knobs.
type Observability struct {
	LogLevel    string `mapstructure:"log_level"`
	MetricsAddr string `mapstructure:"metrics_addr"`
}

// Config is the full ddfrontier configuration.
type Config struct {
	Redis         Redis         `mapstructure:"redis"`
	Queue         Queue         `mapstructure:"queue"`
	Observability Observability `mapstructure:"observability"`
}

func defaultConfig() *Config {
	return &Config{
		Redis: Redis{
			Addr:         "localhost:6379",
			DB:           0,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			PoolSize:     10,
		},
		Queue: Queue{
			Prefix:                      "ddfrontier",
			MaxDomains:                  0,
			MaxRelevantDomains:          0,
			RestrictDelay:               0,
			BatchSize:                   50,
			ConcurrentRequestsPerDomain: 0,
			PriorityMultiplier:          1.0,
			BalancingTemperature:        1.0,
			MaxScore:                    1 << 20,
			AliveTimeout:                120 * time.Second,
			QueueCacheTime:              10 * time.Second,
			SkipCache:                   false,
		},
		Observability: Observability{
			LogLevel:    "info",
			MetricsAddr: ":9090",
		},
	}
}

// Load reads configuration from the YAML file at path (if it exists),
// overlays DDFRONTIER_-prefixed environment variables, and validates the
// result. A missing path is not an error: Load falls back to defaults plus
// environment overrides, matching deployments that configure purely via
// env vars.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("DDFRONTIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	def := defaultConfig()
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.dial_timeout", def.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", def.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", def.Redis.WriteTimeout)
	v.SetDefault("redis.pool_size", def.Redis.PoolSize)

	v.SetDefault("queue.prefix", def.Queue.Prefix)
	v.SetDefault("queue.max_domains", def.Queue.MaxDomains)
	v.SetDefault("queue.max_relevant_domains", def.Queue.MaxRelevantDomains)
	v.SetDefault("queue.restrict_delay", def.Queue.RestrictDelay)
	v.SetDefault("queue.batch_size", def.Queue.BatchSize)
	v.SetDefault("queue.concurrent_requests_per_domain", def.Queue.ConcurrentRequestsPerDomain)
	v.SetDefault("queue.dd_priority_multiplier", def.Queue.PriorityMultiplier)
	v.SetDefault("queue.dd_balancing_temperature", def.Queue.BalancingTemperature)
	v.SetDefault("queue.dd_max_score", def.Queue.MaxScore)
	v.SetDefault("queue.alive_timeout", def.Queue.AliveTimeout)
	v.SetDefault("queue.queue_cache_time", def.Queue.QueueCacheTime)
	v.SetDefault("queue.skip_cache", def.Queue.SkipCache)

	v.SetDefault("observability.log_level", def.Observability.LogLevel)
	v.SetDefault("observability.metrics_addr", def.Observability.MetricsAddr)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the config for internally-inconsistent settings.
func Validate(cfg *Config) error {
	if cfg.Queue.Prefix == "" {
		return fmt.Errorf("config: queue.prefix must be non-empty")
	}
	if cfg.Queue.BatchSize < 1 {
		return fmt.Errorf("config: queue.batch_size must be >= 1")
	}
	if cfg.Queue.MaxDomains < 0 {
		return fmt.Errorf("config: queue.max_domains must be >= 0")
	}
	if cfg.Queue.MaxRelevantDomains < 0 {
		return fmt.Errorf("config: queue.max_relevant_domains must be >= 0")
	}
	if cfg.Queue.AliveTimeout <= 0 {
		return fmt.Errorf("config: queue.alive_timeout must be > 0")
	}
	if cfg.Queue.BalancingTemperature <= 0 {
		return fmt.Errorf("config: queue.dd_balancing_temperature must be > 0")
	}
	if cfg.Queue.MaxScore <= 0 {
		return fmt.Errorf("config: queue.dd_max_score must be > 0")
	}
	return nil
}
