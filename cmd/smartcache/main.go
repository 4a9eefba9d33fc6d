// smartcache is the operational CLI for the query cache analyzer: it
// inspects aggregates, manages the recommendation lifecycle, runs
// auto-apply and serves the metrics endpoint.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/agentuity/smartcache/analyzer"
	"github.com/agentuity/smartcache/cache"
	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/drivers"
	"github.com/agentuity/smartcache/eventing"
	"github.com/agentuity/smartcache/logger"
	"github.com/agentuity/smartcache/recommend"
	"github.com/agentuity/smartcache/store"
)

var (
	configPath string
	dbPath     string
	redisURL   string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:          "smartcache",
	Short:        "Query cache analyzer and recommendation engine",
	SilenceUsage: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "smartcache.db", "path to the analyzer database")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis", "redis://localhost:6379", "redis connection URL")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles everything a command needs, wired from flags and config.
type app struct {
	cfg      config.Config
	logger   logger.Logger
	store    *store.SQLite
	redis    *redis.Client
	analyzer *analyzer.Analyzer
	service  *recommend.Service
}

func newApp(ctx context.Context, overrides ...func(*config.Config)) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(&cfg)
	}
	level := logger.GetLevelFromEnv()
	if logLevel != "" {
		level = logger.ParseLevel(logLevel)
	}
	log := logger.NewConsoleLogger(level)

	st, err := store.NewSQLite(ctx, dbPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: log, store: st}

	if cfg.Driver.Name == "redis" {
		if err := a.connectRedis(ctx); err != nil {
			st.Close()
			return nil, err
		}
	}
	collector, err := drivers.ForDriver(cfg.Driver,
		drivers.NewRedisCollector(a.redis, cfg.Driver.Redis, log),
		drivers.NewMemcachedCollector("127.0.0.1:11211", cfg.Driver.Memcached, log),
		drivers.NewFileCollector(cfg.Driver.File, log),
	)
	if err != nil {
		st.Close()
		return nil, err
	}
	collector = drivers.WithBreaker(collector)

	a.analyzer = analyzer.New(st, collector, cfg, log)

	var strategies cache.Cache
	if a.redis != nil {
		strategies = cache.NewRedis(a.redis)
	} else {
		strategies = cache.NewInMemory(ctx)
	}

	events := eventing.Client(eventing.NewNoop())
	if cfg.Broadcasting.Enabled {
		if err := a.connectRedis(ctx); err != nil {
			st.Close()
			return nil, err
		}
		events = eventing.NewRedis(ctx, log, a.redis)
	}

	a.service = recommend.New(st, a.analyzer, strategies, events, cfg, log)
	return a, nil
}

func (a *app) connectRedis(ctx context.Context) error {
	if a.redis != nil {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return fmt.Errorf("parsing redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		a.logger.Warn("redis unreachable at %s: %s", redisURL, err)
	}
	a.redis = client
	return nil
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	_ = a.store.Close()
}
