package drivers

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/logger"
)

const memcachedIOTimeout = 2 * time.Second

type memcachedCollector struct {
	addr   string
	cfg    config.MemcachedProbeConfig
	logger logger.Logger
}

// NewMemcachedCollector returns a collector that speaks the memcached text
// protocol against addr (host:port).
func NewMemcachedCollector(addr string, cfg config.MemcachedProbeConfig, log logger.Logger) Collector {
	return &memcachedCollector{
		addr:   addr,
		cfg:    cfg,
		logger: log.WithPrefix("[memcached]"),
	}
}

func (c *memcachedCollector) Name() string {
	return "memcached"
}

func (c *memcachedCollector) Supports(driver string) bool {
	return driver == "memcached"
}

func (c *memcachedCollector) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Driver: "memcached"}

	raw, err := c.fetchStats(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		c.logger.Warn("stats probe failed: %s", err)
		stats.Error = err.Error()
		return stats, nil
	}

	stats.Keys = raw.int64("curr_items")
	if c.cfg.AnalyzeMemory {
		stats.MemoryUsed = raw.int64("bytes")
		stats.MaxMemory = raw.int64("limit_maxbytes")
	}
	if c.cfg.TrackEvictions {
		stats.Evictions = raw.int64("evictions")
		stats.ExpiredKeys = raw.int64("expired_unfetched")
	}
	if c.cfg.MonitorHitRate {
		stats.Hits = raw.int64("get_hits")
		stats.Misses = raw.int64("get_misses")
		if total := stats.Hits + stats.Misses; total > 0 {
			stats.HitRate = float64(stats.Hits) / float64(total)
		}
	}
	return stats, nil
}

func (c *memcachedCollector) MemoryUsage(ctx context.Context) (int64, error) {
	raw, err := c.fetchStats(ctx)
	if err != nil {
		return 0, err
	}
	return raw.int64("bytes"), nil
}

func (c *memcachedCollector) EvictionStats(ctx context.Context) (int64, int64, error) {
	raw, err := c.fetchStats(ctx)
	if err != nil {
		return 0, 0, err
	}
	return raw.int64("evictions"), raw.int64("expired_unfetched"), nil
}

type memcachedStats map[string]string

func (m memcachedStats) int64(name string) int64 {
	v, err := strconv.ParseInt(m[name], 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// fetchStats issues a "stats" command over a short-lived connection. The
// response is a sequence of "STAT <name> <value>" lines terminated by "END".
func (c *memcachedCollector) fetchStats(ctx context.Context) (memcachedStats, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	deadline := time.Now().Add(memcachedIOTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write([]byte("stats\r\n")); err != nil {
		return nil, err
	}

	stats := make(memcachedStats)
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "END" {
			return stats, nil
		}
		parts := strings.Fields(line)
		if len(parts) == 3 && parts[0] == "STAT" {
			stats[parts[1]] = parts[2]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return stats, nil
}
