// Package config holds the runtime configuration surface for smartcache.
// Every knob has a default matching the shipped behavior and can be
// independently overridden via a YAML file or SMARTCACHE_* environment
// variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	str2duration "github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML and environment values can use
// human-readable forms like "7d", "90m" or "5s".
type Duration time.Duration

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := str2duration.ParseDuration(node.Value)
	if err != nil {
		return errors.Wrapf(err, "invalid duration %q", node.Value)
	}
	*d = Duration(parsed)
	return nil
}

// DispatchMode controls how observed events reach the aggregator.
type DispatchMode string

const (
	DispatchSync     DispatchMode = "sync"
	DispatchBuffered DispatchMode = "buffered"
	DispatchAsync    DispatchMode = "async"
)

// TTLConfig holds the four default TTL suggestions, keyed by data class.
type TTLConfig struct {
	StaticData    Duration `yaml:"static_data"`
	UserData      Duration `yaml:"user_data"`
	VolatileData  Duration `yaml:"volatile_data"`
	Configuration Duration `yaml:"configuration"`
}

// AutoApplyConfig gates the automatic application of recommendations.
type AutoApplyConfig struct {
	Enabled           bool   `yaml:"enabled"`
	PriorityThreshold string `yaml:"priority_threshold"` // high, medium or low; inclusive upward
	RequireApproval   bool   `yaml:"require_approval"`
	DryRun            bool   `yaml:"dry_run"`
	MaxQueriesPerRun  int    `yaml:"max_queries_per_run"`
}

// BroadcastConfig controls pub/sub delivery of stats and recommendations.
type BroadcastConfig struct {
	Enabled                  bool     `yaml:"enabled"`
	StatsUpdateInterval      Duration `yaml:"stats_update_interval"`
	BroadcastRecommendations bool     `yaml:"broadcast_recommendations"`
}

// RedisProbeConfig toggles the individual Redis collector probes.
type RedisProbeConfig struct {
	AnalyzeMemory          bool `yaml:"analyze_memory"`
	TrackEvictions         bool `yaml:"track_evictions"`
	MonitorKeyPatterns     bool `yaml:"monitor_key_patterns"`
	AnalyzeTTLDistribution bool `yaml:"analyze_ttl_distribution"`
}

// MemcachedProbeConfig toggles the individual Memcached collector probes.
type MemcachedProbeConfig struct {
	AnalyzeMemory  bool `yaml:"analyze_memory"`
	TrackEvictions bool `yaml:"track_evictions"`
	MonitorHitRate bool `yaml:"monitor_hit_rate"`
}

// FileProbeConfig toggles the individual file-cache collector probes.
type FileProbeConfig struct {
	TrackDiskUsage   bool   `yaml:"track_disk_usage"`
	AnalyzeFileSizes bool   `yaml:"analyze_file_sizes"`
	Path             string `yaml:"path"`
}

// DriverConfig selects the active cache backend and its probe toggles.
type DriverConfig struct {
	Name      string               `yaml:"name"` // redis, memcached or file
	Redis     RedisProbeConfig     `yaml:"redis"`
	Memcached MemcachedProbeConfig `yaml:"memcached"`
	File      FileProbeConfig      `yaml:"file"`
}

// Config is the full configuration surface.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// Thresholds for recommendation derivation.
	SlowQueryThresholdMs   float64 `yaml:"slow_query_threshold_ms"`
	RepeatedQueryThreshold int64   `yaml:"repeated_query_threshold"`
	TopQueryLimit          int     `yaml:"top_query_limit"`

	// Observation pipeline.
	SamplingRate   int          `yaml:"sampling_rate"` // 1-100
	DispatchMode   DispatchMode `yaml:"dispatch_mode"`
	BatchSize      int          `yaml:"batch_size"`
	ExcludedTables []string     `yaml:"excluded_tables"`

	// Aggregate windows and retention.
	AnalysisWindow Duration `yaml:"analysis_window"`
	DataRetention  Duration `yaml:"data_retention"`

	// Bounded timeouts for backend probes and async queue handoff.
	ProbeTimeout   Duration `yaml:"probe_timeout"`
	EnqueueTimeout Duration `yaml:"enqueue_timeout"`

	Driver       DriverConfig    `yaml:"driver"`
	DefaultTTLs  TTLConfig       `yaml:"default_ttls"`
	AutoApply    AutoApplyConfig `yaml:"auto_apply"`
	Broadcasting BroadcastConfig `yaml:"broadcasting"`
}

// Default returns the configuration with every knob at its shipped default.
func Default() Config {
	return Config{
		Enabled:                true,
		SlowQueryThresholdMs:   100,
		RepeatedQueryThreshold: 5,
		TopQueryLimit:          10,
		SamplingRate:           10,
		DispatchMode:           DispatchSync,
		BatchSize:              50,
		ExcludedTables: []string{
			"migrations",
			"jobs",
			"failed_jobs",
			"password_resets",
			"cache",
			"cache_locks",
			"sessions",
		},
		AnalysisWindow: Duration(24 * time.Hour),
		DataRetention:  Duration(30 * 24 * time.Hour),
		ProbeTimeout:   Duration(5 * time.Second),
		EnqueueTimeout: Duration(time.Second),
		Driver: DriverConfig{
			Name: "redis",
			Redis: RedisProbeConfig{
				AnalyzeMemory:          true,
				TrackEvictions:         true,
				MonitorKeyPatterns:     true,
				AnalyzeTTLDistribution: true,
			},
			Memcached: MemcachedProbeConfig{
				AnalyzeMemory:  true,
				TrackEvictions: true,
				MonitorHitRate: true,
			},
			File: FileProbeConfig{
				TrackDiskUsage:   true,
				AnalyzeFileSizes: true,
			},
		},
		DefaultTTLs: TTLConfig{
			StaticData:    Duration(24 * time.Hour),
			UserData:      Duration(time.Hour),
			VolatileData:  Duration(5 * time.Minute),
			Configuration: Duration(7 * 24 * time.Hour),
		},
		AutoApply: AutoApplyConfig{
			Enabled:           false,
			PriorityThreshold: "high",
			RequireApproval:   true,
			DryRun:            true,
			MaxQueriesPerRun:  10,
		},
		Broadcasting: BroadcastConfig{
			Enabled:                  false,
			StatsUpdateInterval:      Duration(5 * time.Second),
			BroadcastRecommendations: true,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults and applies
// environment overrides last. A missing file is not an error — defaults plus
// environment apply.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		buf, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, errors.Wrapf(err, "reading config file %s", path)
			}
		} else if err := yaml.Unmarshal(buf, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config file %s", path)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides individual settings from SMARTCACHE_* environment
// variables. Durations accept human-readable forms like "7d" or "90m".
func (c *Config) ApplyEnv() {
	envBool("SMARTCACHE_ENABLED", &c.Enabled)
	envFloat("SMARTCACHE_SLOW_QUERY_THRESHOLD", &c.SlowQueryThresholdMs)
	envInt64("SMARTCACHE_REPEATED_QUERY_THRESHOLD", &c.RepeatedQueryThreshold)
	envInt("SMARTCACHE_SAMPLING_RATE", &c.SamplingRate)
	envInt("SMARTCACHE_BATCH_SIZE", &c.BatchSize)
	if v := os.Getenv("SMARTCACHE_DISPATCH_MODE"); v != "" {
		c.DispatchMode = DispatchMode(strings.ToLower(v))
	}
	if v := os.Getenv("SMARTCACHE_EXCLUDED_TABLES"); v != "" {
		c.ExcludedTables = splitList(v)
	}
	if v := os.Getenv("SMARTCACHE_DRIVER"); v != "" {
		c.Driver.Name = strings.ToLower(v)
	}
	envDuration("SMARTCACHE_ANALYSIS_WINDOW", &c.AnalysisWindow)
	envDuration("SMARTCACHE_DATA_RETENTION", &c.DataRetention)
	envDuration("SMARTCACHE_PROBE_TIMEOUT", &c.ProbeTimeout)
	envDuration("SMARTCACHE_TTL_STATIC", &c.DefaultTTLs.StaticData)
	envDuration("SMARTCACHE_TTL_USER", &c.DefaultTTLs.UserData)
	envDuration("SMARTCACHE_TTL_VOLATILE", &c.DefaultTTLs.VolatileData)
	envDuration("SMARTCACHE_TTL_CONFIGURATION", &c.DefaultTTLs.Configuration)
	envBool("SMARTCACHE_AUTO_APPLY", &c.AutoApply.Enabled)
	if v := os.Getenv("SMARTCACHE_AUTO_APPLY_THRESHOLD"); v != "" {
		c.AutoApply.PriorityThreshold = strings.ToLower(v)
	}
	envBool("SMARTCACHE_AUTO_APPLY_APPROVAL", &c.AutoApply.RequireApproval)
	envBool("SMARTCACHE_AUTO_APPLY_DRY_RUN", &c.AutoApply.DryRun)
	envInt("SMARTCACHE_AUTO_APPLY_MAX", &c.AutoApply.MaxQueriesPerRun)
	envBool("SMARTCACHE_BROADCASTING_ENABLED", &c.Broadcasting.Enabled)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.SamplingRate < 1 || c.SamplingRate > 100 {
		return errors.Newf("sampling_rate must be within [1,100], got %d", c.SamplingRate)
	}
	switch c.DispatchMode {
	case DispatchSync, DispatchBuffered, DispatchAsync:
	default:
		return errors.Newf("unknown dispatch_mode %q", c.DispatchMode)
	}
	if c.DispatchMode == DispatchBuffered && c.BatchSize < 1 {
		return errors.Newf("batch_size must be positive in buffered mode, got %d", c.BatchSize)
	}
	switch c.AutoApply.PriorityThreshold {
	case "high", "medium", "low":
	default:
		return errors.Newf("unknown auto_apply priority_threshold %q", c.AutoApply.PriorityThreshold)
	}
	if c.AutoApply.MaxQueriesPerRun < 1 {
		return errors.Newf("auto_apply max_queries_per_run must be positive, got %d", c.AutoApply.MaxQueriesPerRun)
	}
	return nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(name string, target *bool) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*target = parsed
		}
	}
}

func envInt(name string, target *int) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

func envInt64(name string, target *int64) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			*target = parsed
		}
	}
}

func envFloat(name string, target *float64) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*target = parsed
		}
	}
}

func envDuration(name string, target *Duration) {
	if v := os.Getenv(name); v != "" {
		if parsed, err := str2duration.ParseDuration(v); err == nil {
			*target = Duration(parsed)
		}
	}
}
