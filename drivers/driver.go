// Package drivers provides per-backend cache statistics collectors. Each
// collector probes one cache backend (redis, memcached or a file cache
// directory) and reports whatever statistics that backend exposes. Probe
// failures never fail the caller; they surface as Stats.Error so a stats
// snapshot degrades instead of breaking.
package drivers

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/agentuity/smartcache/config"
)

// Stats is a backend statistics snapshot. Fields a backend cannot report
// stay at their zero value; Error carries the probe failure, if any.
type Stats struct {
	Driver          string         `json:"driver" msgpack:"driver"`
	MemoryUsed      int64          `json:"memory_used,omitempty" msgpack:"memory_used,omitempty"`
	MemoryPeak      int64          `json:"memory_peak,omitempty" msgpack:"memory_peak,omitempty"`
	MaxMemory       int64          `json:"max_memory,omitempty" msgpack:"max_memory,omitempty"`
	Keys            int64          `json:"keys" msgpack:"keys"`
	Evictions       int64          `json:"evictions,omitempty" msgpack:"evictions,omitempty"`
	ExpiredKeys     int64          `json:"expired_keys,omitempty" msgpack:"expired_keys,omitempty"`
	Hits            int64          `json:"hits,omitempty" msgpack:"hits,omitempty"`
	Misses          int64          `json:"misses,omitempty" msgpack:"misses,omitempty"`
	HitRate         float64        `json:"hit_rate,omitempty" msgpack:"hit_rate,omitempty"`
	KeyPatterns     map[string]int `json:"key_patterns,omitempty" msgpack:"key_patterns,omitempty"`
	TTLDistribution map[string]int `json:"ttl_distribution,omitempty" msgpack:"ttl_distribution,omitempty"`
	DiskUsed        int64          `json:"disk_used,omitempty" msgpack:"disk_used,omitempty"`
	DiskFree        int64          `json:"disk_free,omitempty" msgpack:"disk_free,omitempty"`
	SizeBuckets     map[string]int `json:"size_buckets,omitempty" msgpack:"size_buckets,omitempty"`
	LargestFiles    []FileInfo     `json:"largest_files,omitempty" msgpack:"largest_files,omitempty"`
	Error           string         `json:"error,omitempty" msgpack:"error,omitempty"`
}

// FileInfo describes one cache file for the largest-files report.
type FileInfo struct {
	Path string `json:"path" msgpack:"path"`
	Size int64  `json:"size" msgpack:"size"`
}

// Collector probes one cache backend for statistics.
type Collector interface {
	// Name is the backend identifier (redis, memcached, file).
	Name() string
	// Supports reports whether this collector handles the given driver name.
	Supports(driver string) bool
	// Stats returns a full statistics snapshot. A probe failure is reported
	// via Stats.Error, not the error return, so callers always get a
	// snapshot; the error return is reserved for context cancellation.
	Stats(ctx context.Context) (Stats, error)
	// MemoryUsage returns the backend's used memory in bytes, or 0 when the
	// backend does not track memory.
	MemoryUsage(ctx context.Context) (int64, error)
	// EvictionStats returns cumulative eviction and expiry counters.
	EvictionStats(ctx context.Context) (evictions, expired int64, err error)
}

// ForDriver returns the collector handling cfg.Driver.Name from the given
// set, or an error when no collector supports it.
func ForDriver(cfg config.DriverConfig, collectors ...Collector) (Collector, error) {
	for _, c := range collectors {
		if c.Supports(cfg.Name) {
			return c, nil
		}
	}
	return nil, errors.Newf("no stats collector for cache driver %q", cfg.Name)
}
