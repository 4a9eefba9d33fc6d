package eventing

import (
	"context"
	"sync"
	"time"

	"github.com/agentuity/smartcache/logger"
)

// SnapshotFunc produces the payload for one stats broadcast.
type SnapshotFunc func(ctx context.Context) (interface{}, error)

// StatsBroadcaster periodically publishes a stats snapshot to
// SubjectStatsUpdated. Snapshot failures are logged and skipped; the loop
// keeps its cadence.
type StatsBroadcaster struct {
	client   Client
	snapshot SnapshotFunc
	interval time.Duration
	logger   logger.Logger

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started sync.Once
	stopped sync.Once
}

// NewStatsBroadcaster returns a broadcaster publishing via client every
// interval.
func NewStatsBroadcaster(client Client, snapshot SnapshotFunc, interval time.Duration, log logger.Logger) *StatsBroadcaster {
	return &StatsBroadcaster{
		client:   client,
		snapshot: snapshot,
		interval: interval,
		logger:   log.WithPrefix("[broadcast]"),
	}
}

// Start launches the broadcast loop. It is idempotent.
func (b *StatsBroadcaster) Start(parent context.Context) {
	b.started.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		b.cancel = cancel
		b.wg.Add(1)
		go b.run(ctx)
	})
}

// Stop halts the loop and waits for any in-flight publish.
func (b *StatsBroadcaster) Stop() {
	b.stopped.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
	})
}

func (b *StatsBroadcaster) run(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, err := b.snapshot(ctx)
			if err != nil {
				b.logger.Warn("snapshot failed: %s", err)
				continue
			}
			if err := b.client.Publish(ctx, SubjectStatsUpdated, payload); err != nil {
				b.logger.Warn("publish failed: %s", err)
			}
		}
	}
}
