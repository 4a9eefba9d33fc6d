package drivers

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

const (
	defaultTripThreshold = 5
	defaultCooldown      = 30 * time.Second
)

// breakerCollector wraps a collector and stops probing a backend that keeps
// failing. After tripThreshold consecutive probe failures every call
// short-circuits with a degraded snapshot until the cooldown lapses, so an
// unreachable backend costs one timeout per cooldown window instead of one
// per scrape.
type breakerCollector struct {
	next          Collector
	tripThreshold int
	cooldown      time.Duration

	mu          sync.Mutex
	failures    int
	openedAt    time.Time
	lastFailure string
}

// BreakerOption customizes the probe breaker.
type BreakerOption func(*breakerCollector)

// WithTripThreshold sets the consecutive failures needed to trip.
func WithTripThreshold(n int) BreakerOption {
	return func(b *breakerCollector) {
		b.tripThreshold = n
	}
}

// WithCooldown sets how long a tripped breaker blocks probes.
func WithCooldown(d time.Duration) BreakerOption {
	return func(b *breakerCollector) {
		b.cooldown = d
	}
}

// WithBreaker wraps next so repeated probe failures short-circuit instead
// of timing out on every call.
func WithBreaker(next Collector, opts ...BreakerOption) Collector {
	b := &breakerCollector{
		next:          next,
		tripThreshold: defaultTripThreshold,
		cooldown:      defaultCooldown,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *breakerCollector) Name() string {
	return b.next.Name()
}

func (b *breakerCollector) Supports(driver string) bool {
	return b.next.Supports(driver)
}

func (b *breakerCollector) Stats(ctx context.Context) (Stats, error) {
	if msg, open := b.open(); open {
		return Stats{Driver: b.next.Name(), Error: "backend probes suspended: " + msg}, nil
	}
	stats, err := b.next.Stats(ctx)
	if err != nil {
		b.recordFailure(err.Error())
		return stats, err
	}
	if stats.Error != "" {
		b.recordFailure(stats.Error)
	} else {
		b.recordSuccess()
	}
	return stats, nil
}

func (b *breakerCollector) MemoryUsage(ctx context.Context) (int64, error) {
	if msg, open := b.open(); open {
		return 0, errors.Newf("backend probes suspended: %s", msg)
	}
	used, err := b.next.MemoryUsage(ctx)
	if err != nil {
		b.recordFailure(err.Error())
		return 0, err
	}
	b.recordSuccess()
	return used, nil
}

func (b *breakerCollector) EvictionStats(ctx context.Context) (int64, int64, error) {
	if msg, open := b.open(); open {
		return 0, 0, errors.Newf("backend probes suspended: %s", msg)
	}
	evictions, expired, err := b.next.EvictionStats(ctx)
	if err != nil {
		b.recordFailure(err.Error())
		return 0, 0, err
	}
	b.recordSuccess()
	return evictions, expired, nil
}

// open reports whether probes are currently suspended. An elapsed cooldown
// lets the next probe through as the reset attempt.
func (b *breakerCollector) open() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failures < b.tripThreshold {
		return "", false
	}
	if time.Since(b.openedAt) >= b.cooldown {
		// allow one probe through; a failure re-trips immediately
		b.failures = b.tripThreshold - 1
		return "", false
	}
	return b.lastFailure, true
}

func (b *breakerCollector) recordFailure(msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = msg
	if b.failures == b.tripThreshold {
		b.openedAt = time.Now()
	}
}

func (b *breakerCollector) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.lastFailure = ""
}
