package drivers

import (
	"bufio"
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/logger"
)

const keySampleLimit = 1000

var digitsRun = regexp.MustCompile(`\d+`)

type redisCollector struct {
	client *redis.Client
	cfg    config.RedisProbeConfig
	logger logger.Logger
}

// NewRedisCollector returns a collector probing the given Redis client with
// the configured probes enabled.
func NewRedisCollector(client *redis.Client, cfg config.RedisProbeConfig, log logger.Logger) Collector {
	return &redisCollector{
		client: client,
		cfg:    cfg,
		logger: log.WithPrefix("[redis]"),
	}
}

func (c *redisCollector) Name() string {
	return "redis"
}

func (c *redisCollector) Supports(driver string) bool {
	return driver == "redis"
}

func (c *redisCollector) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Driver: "redis"}

	info, err := c.client.Info(ctx).Result()
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		c.logger.Warn("stats probe failed: %s", err)
		stats.Error = err.Error()
		return stats, nil
	}
	fields := parseInfo(info)

	if c.cfg.AnalyzeMemory {
		stats.MemoryUsed = fields.int64("used_memory")
		stats.MemoryPeak = fields.int64("used_memory_peak")
		stats.MaxMemory = fields.int64("maxmemory")
	}
	if c.cfg.TrackEvictions {
		stats.Evictions = fields.int64("evicted_keys")
		stats.ExpiredKeys = fields.int64("expired_keys")
	}
	stats.Hits = fields.int64("keyspace_hits")
	stats.Misses = fields.int64("keyspace_misses")
	if total := stats.Hits + stats.Misses; total > 0 {
		stats.HitRate = float64(stats.Hits) / float64(total)
	}

	if keys, err := c.client.DBSize(ctx).Result(); err == nil {
		stats.Keys = keys
	} else if ctx.Err() != nil {
		return stats, ctx.Err()
	}

	if c.cfg.MonitorKeyPatterns || c.cfg.AnalyzeTTLDistribution {
		if err := c.sampleKeys(ctx, &stats); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

func (c *redisCollector) MemoryUsage(ctx context.Context) (int64, error) {
	info, err := c.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, err
	}
	return parseInfo(info).int64("used_memory"), nil
}

func (c *redisCollector) EvictionStats(ctx context.Context) (int64, int64, error) {
	info, err := c.client.Info(ctx, "stats").Result()
	if err != nil {
		return 0, 0, err
	}
	fields := parseInfo(info)
	return fields.int64("evicted_keys"), fields.int64("expired_keys"), nil
}

// sampleKeys scans up to keySampleLimit keys and aggregates pattern and TTL
// distributions. The scan is incremental so a slow keyspace cannot block a
// probe past its context deadline.
func (c *redisCollector) sampleKeys(ctx context.Context, stats *Stats) error {
	patterns := make(map[string]int)
	ttls := make(map[string]int)
	sampled := 0

	iter := c.client.Scan(ctx, 0, "*", 100).Iterator()
	for iter.Next(ctx) {
		if sampled >= keySampleLimit {
			break
		}
		key := iter.Val()
		sampled++

		if c.cfg.MonitorKeyPatterns {
			patterns[keyPattern(key)]++
		}
		if c.cfg.AnalyzeTTLDistribution {
			ttl, err := c.client.TTL(ctx, key).Result()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			ttls[ttlBucket(ttl)]++
		}
	}
	if err := iter.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Warn("key scan aborted: %s", err)
		stats.Error = err.Error()
		return nil
	}

	if c.cfg.MonitorKeyPatterns {
		stats.KeyPatterns = patterns
	}
	if c.cfg.AnalyzeTTLDistribution {
		stats.TTLDistribution = ttls
	}
	return nil
}

// keyPattern generalizes a key by collapsing numeric segments, so
// "users:42:profile" and "users:7:profile" group as "users:*:profile".
func keyPattern(key string) string {
	return digitsRun.ReplaceAllString(key, "*")
}

func ttlBucket(ttl time.Duration) string {
	switch {
	case ttl < 0:
		return "no_expiry"
	case ttl <= time.Hour:
		return "0-1h"
	case ttl <= 24*time.Hour:
		return "1h-1d"
	case ttl <= 7*24*time.Hour:
		return "1d-1w"
	default:
		return "1w+"
	}
}

type infoFields map[string]string

func (f infoFields) int64(name string) int64 {
	v, err := strconv.ParseInt(f[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// parseInfo splits a Redis INFO response into key/value pairs, skipping
// section headers and blank lines.
func parseInfo(info string) infoFields {
	fields := make(infoFields)
	scanner := bufio.NewScanner(strings.NewReader(info))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		fields[key] = value
	}
	return fields
}
