package queue

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentuity/smartcache/logger"
)

func TestInProcessDeliversJobs(t *testing.T) {
	ctx := context.Background()
	q := NewInProcess(ctx, 16, 2, logger.NewTestLogger())

	var mu sync.Mutex
	seen := make(map[string]Job)
	require.NoError(t, q.Start(func(_ context.Context, job Job) error {
		mu.Lock()
		seen[job.ID] = job
		mu.Unlock()
		return nil
	}))

	jobs := make([]Job, 0, 10)
	for i := 0; i < 10; i++ {
		job := NewJob("abcd1234abcd1234", "select * from users where id = ?", float64(i))
		jobs = append(jobs, job)
		require.NoError(t, q.Enqueue(ctx, job))
	}
	require.NoError(t, q.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 10)
	for _, job := range jobs {
		got, ok := seen[job.ID]
		require.True(t, ok)
		assert.Equal(t, job.Hash, got.Hash)
		assert.Equal(t, job.ElapsedMs, got.ElapsedMs)
	}
}

func TestInProcessEnqueueFullReturnsError(t *testing.T) {
	q := NewInProcess(context.Background(), 1, 1, logger.NewTestLogger())
	// no Start: nothing drains the buffer

	require.NoError(t, q.Enqueue(context.Background(), NewJob("h", "q", 1)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, NewJob("h", "q", 1))
	assert.ErrorIs(t, err, ErrQueueFull)
	_ = q.Close()
}

func TestInProcessCloseDrainsBuffer(t *testing.T) {
	q := NewInProcess(context.Background(), 64, 1, logger.NewTestLogger())

	var processed atomic.Int64
	for i := 0; i < 20; i++ {
		require.NoError(t, q.Enqueue(context.Background(), NewJob("h", "q", 1)))
	}
	require.NoError(t, q.Start(func(context.Context, Job) error {
		processed.Add(1)
		return nil
	}))
	require.NoError(t, q.Close())
	assert.Equal(t, int64(20), processed.Load())
}

func TestInProcessHandlerErrorDoesNotStopWorkers(t *testing.T) {
	q := NewInProcess(context.Background(), 16, 1, logger.NewTestLogger())

	var processed atomic.Int64
	require.NoError(t, q.Start(func(_ context.Context, job Job) error {
		processed.Add(1)
		if job.ElapsedMs == 1 {
			return assert.AnError
		}
		return nil
	}))
	require.NoError(t, q.Enqueue(context.Background(), NewJob("h", "q", 1)))
	require.NoError(t, q.Enqueue(context.Background(), NewJob("h", "q", 2)))
	require.NoError(t, q.Close())
	assert.Equal(t, int64(2), processed.Load())
}

func TestNewJobFields(t *testing.T) {
	job := NewJob("feedface00000000", "select 1", 12.5)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, "feedface00000000", job.Hash)
	assert.Equal(t, 12.5, job.ElapsedMs)
	assert.WithinDuration(t, time.Now(), job.EnqueuedAt, time.Second)
}
