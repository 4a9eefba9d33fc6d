// Package analyzer turns raw query executions and cache accesses into
// aggregate statistics and cache recommendations. It owns the derivation
// rules: which queries are worth caching, at what priority, and with what
// suggested TTL.
package analyzer

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/drivers"
	"github.com/agentuity/smartcache/fingerprint"
	"github.com/agentuity/smartcache/logger"
	"github.com/agentuity/smartcache/store"
)

// Snapshot is a point-in-time view of cache effectiveness, combining the
// analyzer's own hit/miss accounting with whatever the backend collector
// can report.
type Snapshot struct {
	Driver       string        `json:"driver" msgpack:"driver"`
	Hits         int64         `json:"hits" msgpack:"hits"`
	Misses       int64         `json:"misses" msgpack:"misses"`
	Requests     int64         `json:"requests" msgpack:"requests"`
	HitRate      float64       `json:"hit_rate" msgpack:"hit_rate"`
	MemoryUsed   int64         `json:"memory_used" msgpack:"memory_used"`
	Keys         int64         `json:"keys" msgpack:"keys"`
	Backend      drivers.Stats `json:"backend" msgpack:"backend"`
	GeneratedAt  time.Time     `json:"generated_at" msgpack:"generated_at"`
	WindowStart  time.Time     `json:"window_start" msgpack:"window_start"`
	PendingCount int64         `json:"pending_count" msgpack:"pending_count"`
}

// Analyzer aggregates observations and derives recommendations.
type Analyzer struct {
	store     *store.SQLite
	collector drivers.Collector
	cfg       config.Config
	logger    logger.Logger
}

// New returns an analyzer backed by the given store and backend collector.
// The collector may be nil when no backend probing is wanted; snapshots
// then carry only the analyzer's own accounting.
func New(st *store.SQLite, collector drivers.Collector, cfg config.Config, log logger.Logger) *Analyzer {
	return &Analyzer{
		store:     st,
		collector: collector,
		cfg:       cfg,
		logger:    log.WithPrefix("[analyzer]"),
	}
}

// RecordExecution fingerprints a raw query and folds its elapsed time into
// the aggregate for that pattern. Bound values, when given, refine the
// stored display text with type tags so this path persists the same text
// the monitor's dispatch path does.
func (a *Analyzer) RecordExecution(ctx context.Context, rawQuery string, elapsedMs float64, bound ...any) error {
	hash, _ := fingerprint.Fingerprint(rawQuery)
	display := fingerprint.Normalize(rawQuery, bound)
	if err := a.store.RecordExecution(ctx, hash, display, elapsedMs); err != nil {
		return errors.Wrap(err, "recording query execution")
	}
	return nil
}

// RecordAccess folds one cache hit or miss into the per-key metric.
func (a *Analyzer) RecordAccess(ctx context.Context, key string, hit bool) error {
	return a.store.RecordAccess(ctx, key, hit)
}

// Stats builds a snapshot over the configured analysis window. Backend
// probe failures degrade the snapshot instead of failing it.
func (a *Analyzer) Stats(ctx context.Context) (Snapshot, error) {
	windowStart := time.Now().Add(-a.cfg.AnalysisWindow.Std())
	hits, misses, err := a.store.AccessTotals(ctx, windowStart)
	if err != nil {
		return Snapshot{}, errors.Wrap(err, "loading access totals")
	}

	snap := Snapshot{
		Driver:      a.cfg.Driver.Name,
		Hits:        hits,
		Misses:      misses,
		GeneratedAt: time.Now(),
		WindowStart: windowStart,
	}
	snap.Requests = hits + misses
	if snap.Requests > 0 {
		snap.HitRate = float64(hits) / float64(snap.Requests)
	}

	if pending, err := a.store.CountRecommendations(ctx, store.StatusPending); err == nil {
		snap.PendingCount = pending
	} else {
		a.logger.Warn("counting pending recommendations: %s", err)
	}

	if a.collector != nil {
		probeCtx, cancel := context.WithTimeout(ctx, a.cfg.ProbeTimeout.Std())
		defer cancel()
		backend, err := a.collector.Stats(probeCtx)
		if err != nil {
			a.logger.Warn("backend probe failed: %s", err)
			backend = drivers.Stats{Driver: a.collector.Name(), Error: err.Error()}
		}
		snap.Backend = backend
		snap.MemoryUsed = backend.MemoryUsed
		snap.Keys = backend.Keys
	}
	return snap, nil
}

// TopQueries returns the heaviest query patterns by total time.
func (a *Analyzer) TopQueries(ctx context.Context) ([]store.Fingerprint, error) {
	return a.store.TopQueries(ctx, a.cfg.TopQueryLimit)
}

// UnusedKeys returns cache keys with no hit in the given number of days.
func (a *Analyzer) UnusedKeys(ctx context.Context, daysUnused int) ([]string, error) {
	cutoff := time.Now().AddDate(0, 0, -daysUnused)
	return a.store.UnusedKeys(ctx, cutoff)
}

// PurgeOldData deletes fingerprints whose last execution predates the
// retention window. It returns the number of rows removed.
func (a *Analyzer) PurgeOldData(ctx context.Context) (int64, error) {
	cutoff := time.Now().Add(-a.cfg.DataRetention.Std())
	return a.store.PurgeFingerprintsBefore(ctx, cutoff)
}

// Recommendations derives candidate recommendations from the current
// aggregates. Slow queries come first at high priority; frequent queries
// follow at medium priority, skipping patterns already recommended as
// slow. Candidates are not persisted; see the recommend package for the
// lifecycle.
func (a *Analyzer) Recommendations(ctx context.Context) ([]store.Recommendation, error) {
	slow, err := a.store.TopByAvgTime(ctx, a.cfg.SlowQueryThresholdMs, a.cfg.TopQueryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "loading slow queries")
	}

	recs := make([]store.Recommendation, 0, len(slow))
	seen := make(map[string]struct{}, len(slow))
	for _, fp := range slow {
		seen[fp.Hash] = struct{}{}
		recs = append(recs, a.candidate(fp, store.PriorityHigh,
			fmt.Sprintf("Slow query detected (avg %.2fms, %d executions)", fp.AvgTime, fp.ExecutionCount)))
	}

	frequent, err := a.store.TopByExecutionCount(ctx, a.cfg.RepeatedQueryThreshold, a.cfg.TopQueryLimit)
	if err != nil {
		return nil, errors.Wrap(err, "loading frequent queries")
	}
	for _, fp := range frequent {
		if _, dup := seen[fp.Hash]; dup {
			continue
		}
		recs = append(recs, a.candidate(fp, store.PriorityMedium,
			fmt.Sprintf("Frequently executed query (%d executions, avg %.2fms)", fp.ExecutionCount, fp.AvgTime)))
	}
	return recs, nil
}

func (a *Analyzer) candidate(fp store.Fingerprint, priority store.Priority, reason string) store.Recommendation {
	return store.Recommendation{
		QueryHash:        fp.Hash,
		Query:            fp.Query,
		Priority:         priority,
		SuggestedTTL:     int64(a.SuggestTTL(fp.Query).Seconds()),
		Reason:           reason,
		PotentialSavings: float64(fp.ExecutionCount) * fp.AvgTime,
		Status:           store.StatusPending,
	}
}
