// Package metrics exposes analyzer statistics in Prometheus exposition
// format. The exporter collects on demand from the analyzer snapshot, so
// scrapes always reflect the current aggregates without a background
// refresh loop.
package metrics

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/agentuity/smartcache/analyzer"
	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/logger"
)

const collectTimeout = 10 * time.Second

var (
	hitRatioDesc = prometheus.NewDesc("smartcache_hit_ratio",
		"Cache hit ratio over the analysis window.", nil, nil)
	hitsDesc = prometheus.NewDesc("smartcache_hits_total",
		"Total cache hits recorded in the analysis window.", nil, nil)
	missesDesc = prometheus.NewDesc("smartcache_misses_total",
		"Total cache misses recorded in the analysis window.", nil, nil)
	keysDesc = prometheus.NewDesc("smartcache_keys_count",
		"Number of keys reported by the cache backend.", nil, nil)
	pendingDesc = prometheus.NewDesc("smartcache_recommendations_pending",
		"Number of recommendations awaiting review.", nil, nil)
	memoryDesc = prometheus.NewDesc("smartcache_memory_bytes",
		"Memory used by the cache backend.", []string{"driver"}, nil)
	evictionsDesc = prometheus.NewDesc("smartcache_evictions_total",
		"Keys evicted by the cache backend.", []string{"driver"}, nil)
	diskDesc = prometheus.NewDesc("smartcache_disk_bytes",
		"Disk space used by the file cache backend.", nil, nil)
)

// Health is the health probe payload.
type Health struct {
	Status  string `json:"status"` // healthy or disabled
	Enabled bool   `json:"enabled"`
}

// Exporter exposes analyzer statistics as Prometheus metrics.
type Exporter struct {
	analyzer *analyzer.Analyzer
	cfg      config.Config
	logger   logger.Logger
	registry *prometheus.Registry
}

var _ prometheus.Collector = (*Exporter)(nil)

// New returns an exporter registered on its own registry.
func New(a *analyzer.Analyzer, cfg config.Config, log logger.Logger) (*Exporter, error) {
	e := &Exporter{
		analyzer: a,
		cfg:      cfg,
		logger:   log.WithPrefix("[metrics]"),
		registry: prometheus.NewRegistry(),
	}
	if err := e.registry.Register(e); err != nil {
		return nil, errors.Wrap(err, "registering exporter")
	}
	return e, nil
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- hitRatioDesc
	ch <- hitsDesc
	ch <- missesDesc
	ch <- keysDesc
	ch <- pendingDesc
	ch <- memoryDesc
	ch <- evictionsDesc
	ch <- diskDesc
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), collectTimeout)
	defer cancel()

	snap, err := e.analyzer.Stats(ctx)
	if err != nil {
		e.logger.Warn("collecting stats: %s", err)
		return
	}

	ch <- prometheus.MustNewConstMetric(hitRatioDesc, prometheus.GaugeValue, snap.HitRate)
	ch <- prometheus.MustNewConstMetric(hitsDesc, prometheus.CounterValue, float64(snap.Hits))
	ch <- prometheus.MustNewConstMetric(missesDesc, prometheus.CounterValue, float64(snap.Misses))
	ch <- prometheus.MustNewConstMetric(keysDesc, prometheus.GaugeValue, float64(snap.Keys))
	ch <- prometheus.MustNewConstMetric(pendingDesc, prometheus.GaugeValue, float64(snap.PendingCount))

	backend := snap.Backend
	if backend.Driver == "" {
		return
	}
	if backend.MemoryUsed > 0 {
		ch <- prometheus.MustNewConstMetric(memoryDesc, prometheus.GaugeValue,
			float64(backend.MemoryUsed), backend.Driver)
	}
	if backend.Evictions > 0 {
		ch <- prometheus.MustNewConstMetric(evictionsDesc, prometheus.CounterValue,
			float64(backend.Evictions), backend.Driver)
	}
	if backend.DiskUsed > 0 {
		ch <- prometheus.MustNewConstMetric(diskDesc, prometheus.GaugeValue, float64(backend.DiskUsed))
	}
}

// Handler returns the scrape endpoint handler.
func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Render returns the current metrics in text exposition format.
func (e *Exporter) Render(ctx context.Context) (string, error) {
	families, err := e.registry.Gather()
	if err != nil {
		return "", errors.Wrap(err, "gathering metrics")
	}
	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err := encoder.Encode(family); err != nil {
			return "", errors.Wrap(err, "encoding metrics")
		}
	}
	return buf.String(), nil
}

// Health reports whether the analyzer is enabled.
func (e *Exporter) Health() Health {
	if !e.cfg.Enabled {
		return Health{Status: "disabled", Enabled: false}
	}
	return Health{Status: "healthy", Enabled: true}
}
