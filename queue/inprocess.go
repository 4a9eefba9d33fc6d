package queue

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/agentuity/smartcache/logger"
)

const defaultBufferSize = 1024

type inProcessQueue struct {
	jobs    chan Job
	logger  logger.Logger
	workers int

	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	started sync.Once
	closed  sync.Once
}

// NewInProcess returns a channel-backed queue with the given buffer size
// and worker count. Zero values fall back to sensible defaults.
func NewInProcess(parent context.Context, bufferSize, workers int, log logger.Logger) Queue {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(parent)
	return &inProcessQueue{
		jobs:    make(chan Job, bufferSize),
		logger:  log.WithPrefix("[queue]"),
		workers: workers,
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (q *inProcessQueue) Enqueue(ctx context.Context, job Job) error {
	select {
	case q.jobs <- job:
		return nil
	case <-ctx.Done():
		return ErrQueueFull
	case <-q.ctx.Done():
		return ErrQueueFull
	}
}

func (q *inProcessQueue) Start(handler Handler) error {
	q.started.Do(func() {
		q.group, _ = errgroup.WithContext(q.ctx)
		for i := 0; i < q.workers; i++ {
			q.group.Go(func() error {
				for {
					select {
					case job, ok := <-q.jobs:
						if !ok {
							return nil
						}
						if err := handler(q.ctx, job); err != nil {
							q.logger.Warn("job %s failed: %s", job.ID, err)
						}
					case <-q.ctx.Done():
						// drain what is already buffered before exiting
						for {
							select {
							case job, ok := <-q.jobs:
								if !ok {
									return nil
								}
								if err := handler(context.Background(), job); err != nil {
									q.logger.Warn("job %s failed: %s", job.ID, err)
								}
							default:
								return nil
							}
						}
					}
				}
			})
		}
	})
	return nil
}

func (q *inProcessQueue) Close() error {
	q.closed.Do(func() {
		q.cancel()
		if q.group != nil {
			_ = q.group.Wait()
		}
	})
	return nil
}
