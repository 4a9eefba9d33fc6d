package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/smartcache/config"
	"github.com/agentuity/smartcache/logger"
	"github.com/agentuity/smartcache/queue"
	"github.com/agentuity/smartcache/store"
)

// the durable store is the production recorder behind every dispatch mode
var _ Recorder = (*store.SQLite)(nil)

type memRecorder struct {
	mu    sync.Mutex
	count map[string]int
	total map[string]float64
	text  map[string]string
}

func newMemRecorder() *memRecorder {
	return &memRecorder{
		count: make(map[string]int),
		total: make(map[string]float64),
		text:  make(map[string]string),
	}
}

func (r *memRecorder) RecordExecution(_ context.Context, hash, query string, elapsedMs float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.count[hash]++
	r.total[hash] += elapsedMs
	r.text[hash] = query
	return nil
}

func (r *memRecorder) observations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.count {
		n += c
	}
	return n
}

func testConfig(mode config.DispatchMode) config.Config {
	cfg := config.Default()
	cfg.SamplingRate = 100
	cfg.DispatchMode = mode
	cfg.BatchSize = 5
	return cfg
}

func TestObserveSyncRecords(t *testing.T) {
	rec := newMemRecorder()
	m := New(testConfig(config.DispatchSync), rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM users WHERE id = ?", 12.5, []any{42}))
	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM users WHERE id = ?", 7.5, []any{7}))

	assert.Equal(t, 2, rec.observations())
	require.Len(t, rec.count, 1)
	for hash := range rec.count {
		assert.Equal(t, "select * from users where id = :number", rec.text[hash])
		assert.Equal(t, 20.0, rec.total[hash])
	}
}

func TestObserveDisabledIsNoop(t *testing.T) {
	cfg := testConfig(config.DispatchSync)
	cfg.Enabled = false
	rec := newMemRecorder()
	m := New(cfg, rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	require.NoError(t, m.Observe(context.Background(), "SELECT 1", 1, nil))
	assert.Zero(t, rec.observations())
}

func TestObserveBeforeStartIsNoop(t *testing.T) {
	rec := newMemRecorder()
	m := New(testConfig(config.DispatchSync), rec, nil, logger.NewTestLogger())

	require.NoError(t, m.Observe(context.Background(), "SELECT 1", 1, nil))
	assert.False(t, m.Monitoring())
	assert.Zero(t, rec.observations())
}

func TestObserveExcludedTables(t *testing.T) {
	rec := newMemRecorder()
	m := New(testConfig(config.DispatchSync), rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM migrations ORDER BY batch", 1, nil))
	require.NoError(t, m.Observe(context.Background(), "DELETE FROM sessions WHERE id = ?", 1, []any{"x"}))
	assert.Zero(t, rec.observations())

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 1, nil))
	assert.Equal(t, 1, rec.observations())
}

func TestObserveExcludedTablesMixedCaseConfig(t *testing.T) {
	cfg := testConfig(config.DispatchSync)
	cfg.ExcludedTables = []string{"Telescope_Entries", "SESSIONS"}
	rec := newMemRecorder()
	m := New(cfg, rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	require.NoError(t, m.Observe(context.Background(), "select * from telescope_entries", 1, nil))
	require.NoError(t, m.Observe(context.Background(), "DELETE FROM sessions WHERE id = ?", 1, []any{"x"}))
	assert.Zero(t, rec.observations())

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 1, nil))
	assert.Equal(t, 1, rec.observations())
}

func TestObserveSamplingRateOne(t *testing.T) {
	cfg := testConfig(config.DispatchSync)
	cfg.SamplingRate = 1
	rec := newMemRecorder()
	m := New(cfg, rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	const trials = 20000
	for i := 0; i < trials; i++ {
		require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 1, nil))
	}
	got := rec.observations()
	// expect ~1% of trials; allow generous statistical slack
	assert.Greater(t, got, trials/400)
	assert.Less(t, got, trials/20)
}

func TestObserveBufferedFlushesAtBatchSize(t *testing.T) {
	rec := newMemRecorder()
	m := New(testConfig(config.DispatchBuffered), rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	for i := 0; i < 4; i++ {
		require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 10, nil))
	}
	assert.Zero(t, rec.observations())

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 10, nil))
	assert.Equal(t, 5, rec.observations())
}

func TestObserveBufferedStopFlushes(t *testing.T) {
	rec := newMemRecorder()
	m := New(testConfig(config.DispatchBuffered), rec, nil, logger.NewTestLogger())
	require.NoError(t, m.Start())

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 10, nil))
	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 10, nil))
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, 2, rec.observations())
	assert.False(t, m.Monitoring())
}

func TestObserveAsyncConvergesViaQueue(t *testing.T) {
	rec := newMemRecorder()
	q := queue.NewInProcess(context.Background(), 64, 2, logger.NewTestLogger())
	m := New(testConfig(config.DispatchAsync), rec, q, logger.NewTestLogger())
	require.NoError(t, m.Start())

	for i := 0; i < 10; i++ {
		require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products WHERE id = ?", 10, []any{i}))
	}
	require.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, 10, rec.observations())
}

func TestObserveAsyncFallsBackInline(t *testing.T) {
	cfg := testConfig(config.DispatchAsync)
	cfg.EnqueueTimeout = config.Duration(20 * time.Millisecond)
	rec := newMemRecorder()
	// queue with a full single-slot buffer and no workers draining it
	q := queue.NewInProcess(context.Background(), 1, 1, logger.NewTestLogger())
	require.NoError(t, q.Enqueue(context.Background(), queue.NewJob("h", "q", 1)))

	m := New(cfg, rec, q, logger.NewTestLogger())
	m.monitoring.Store(true)

	require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products", 10, nil))
	assert.Equal(t, 1, rec.observations())
	_ = q.Close()
}

func TestDispatchModesConverge(t *testing.T) {
	for _, mode := range []config.DispatchMode{config.DispatchSync, config.DispatchBuffered, config.DispatchAsync} {
		t.Run(string(mode), func(t *testing.T) {
			rec := newMemRecorder()
			var q queue.Queue
			if mode == config.DispatchAsync {
				q = queue.NewInProcess(context.Background(), 64, 2, logger.NewTestLogger())
			}
			m := New(testConfig(mode), rec, q, logger.NewTestLogger())
			require.NoError(t, m.Start())

			for i := 0; i < 12; i++ {
				require.NoError(t, m.Observe(context.Background(), "SELECT * FROM products WHERE id = ?", 5, []any{i}))
			}
			require.NoError(t, m.Stop(context.Background()))

			assert.Equal(t, 12, rec.observations())
			for hash := range rec.total {
				assert.Equal(t, 60.0, rec.total[hash])
			}
		})
	}
}
