// Package monitor is the hot-path intake for query observations. Every
// executed query is offered to Observe, which applies cheap gates
// (enabled, monitoring, sampling, excluded tables) and then dispatches the
// observation for aggregation synchronously, via a bounded buffer, or
// through a background queue depending on configuration.
package monitor

import (
	"context"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/fingerprint"
	"github.com/agentuity/smartcache/logger"
	"github.com/agentuity/smartcache/queue"
)

// Recorder folds one observation into the aggregate for its fingerprint.
type Recorder interface {
	RecordExecution(ctx context.Context, hash, query string, elapsedMs float64) error
}

type observation struct {
	hash      string
	display   string
	elapsedMs float64
}

// Monitor applies the observation gates and dispatches to the recorder.
type Monitor struct {
	cfg      config.Config
	recorder Recorder
	queue    queue.Queue
	logger   logger.Logger

	// excluded table names, lowered once so the hot-path match is
	// case-insensitive on both sides
	excludedTables []string

	monitoring atomic.Bool

	mu     sync.Mutex
	buffer []observation
}

// New returns a stopped monitor. The queue may be nil unless the dispatch
// mode is async.
func New(cfg config.Config, recorder Recorder, q queue.Queue, log logger.Logger) *Monitor {
	excluded := make([]string, len(cfg.ExcludedTables))
	for i, table := range cfg.ExcludedTables {
		excluded[i] = strings.ToLower(table)
	}
	return &Monitor{
		cfg:            cfg,
		recorder:       recorder,
		queue:          q,
		logger:         log.WithPrefix("[monitor]"),
		excludedTables: excluded,
	}
}

// Start begins accepting observations. In async mode it also launches the
// queue workers. Start is idempotent.
func (m *Monitor) Start() error {
	if m.cfg.DispatchMode == config.DispatchAsync && m.queue != nil {
		if err := m.queue.Start(m.handleJob); err != nil {
			return err
		}
	}
	m.monitoring.Store(true)
	return nil
}

// Stop flushes any buffered observations and stops accepting new ones.
func (m *Monitor) Stop(ctx context.Context) error {
	m.monitoring.Store(false)
	m.Flush(ctx)
	if m.queue != nil {
		return m.queue.Close()
	}
	return nil
}

// Monitoring reports whether observations are currently accepted.
func (m *Monitor) Monitoring() bool {
	return m.monitoring.Load()
}

// Observe offers one executed query for aggregation. The gates run in
// order of cost; a rejected observation returns nil immediately. Only
// synchronous dispatch can surface a recording error to the caller.
func (m *Monitor) Observe(ctx context.Context, text string, elapsedMs float64, bound []any) error {
	if !m.cfg.Enabled || !m.monitoring.Load() {
		return nil
	}
	if m.cfg.SamplingRate < 100 && rand.IntN(100) >= m.cfg.SamplingRate {
		return nil
	}
	if m.excluded(text) {
		return nil
	}

	hash, _ := fingerprint.Fingerprint(text)
	obs := observation{
		hash:      hash,
		display:   fingerprint.Normalize(text, bound),
		elapsedMs: elapsedMs,
	}

	switch m.cfg.DispatchMode {
	case config.DispatchBuffered:
		m.bufferObservation(ctx, obs)
		return nil
	case config.DispatchAsync:
		m.dispatchAsync(ctx, obs)
		return nil
	default:
		return m.recorder.RecordExecution(ctx, obs.hash, obs.display, obs.elapsedMs)
	}
}

// Flush records everything currently buffered. Safe to call concurrently
// with Observe; the buffer swap happens under the lock, recording does not.
func (m *Monitor) Flush(ctx context.Context) {
	m.mu.Lock()
	batch := m.buffer
	m.buffer = nil
	m.mu.Unlock()
	m.record(ctx, batch)
}

func (m *Monitor) bufferObservation(ctx context.Context, obs observation) {
	m.mu.Lock()
	m.buffer = append(m.buffer, obs)
	var batch []observation
	if len(m.buffer) >= m.cfg.BatchSize {
		batch = m.buffer
		m.buffer = nil
	}
	m.mu.Unlock()
	m.record(ctx, batch)
}

func (m *Monitor) dispatchAsync(ctx context.Context, obs observation) {
	job := queue.NewJob(obs.hash, obs.display, obs.elapsedMs)
	enqueueCtx, cancel := context.WithTimeout(ctx, m.cfg.EnqueueTimeout.Std())
	defer cancel()
	if err := m.queue.Enqueue(enqueueCtx, job); err != nil {
		// handoff failed; take the aggregation cost inline for this one
		m.logger.Warn("enqueue failed, recording inline: %s", err)
		m.record(ctx, []observation{obs})
	}
}

func (m *Monitor) handleJob(ctx context.Context, job queue.Job) error {
	return m.recorder.RecordExecution(ctx, job.Hash, job.Query, job.ElapsedMs)
}

func (m *Monitor) record(ctx context.Context, batch []observation) {
	for _, obs := range batch {
		if err := m.recorder.RecordExecution(ctx, obs.hash, obs.display, obs.elapsedMs); err != nil {
			m.logger.Warn("recording observation failed: %s", err)
		}
	}
}

// excluded reports whether the query touches any excluded table. The match
// is a case-insensitive substring check, same cost as the source list.
func (m *Monitor) excluded(text string) bool {
	lowered := strings.ToLower(text)
	for _, table := range m.excludedTables {
		if strings.Contains(lowered, table) {
			return true
		}
	}
	return false
}
