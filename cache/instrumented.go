package cache

import (
	"context"
	"time"
)

// AccessRecorder receives one hit/miss event per Get. The analyzer satisfies
// this; it feeds the cache access metrics the stats snapshot is computed from.
type AccessRecorder interface {
	RecordAccess(ctx context.Context, key string, hit bool) error
}

type instrumentedCache struct {
	next     Cache
	recorder AccessRecorder
}

var _ Cache = (*instrumentedCache)(nil)

// NewInstrumented wraps a Cache so every Get records a hit or miss with the
// recorder. Recording failures are ignored — metrics must never break the
// caller's cache access.
func NewInstrumented(next Cache, recorder AccessRecorder) Cache {
	return &instrumentedCache{next: next, recorder: recorder}
}

func (c *instrumentedCache) Get(ctx context.Context, key string) (bool, []byte, error) {
	found, val, err := c.next.Get(ctx, key)
	if err == nil {
		_ = c.recorder.RecordAccess(ctx, key, found)
	}
	return found, val, err
}

func (c *instrumentedCache) Set(ctx context.Context, key string, val []byte, expires time.Duration) error {
	return c.next.Set(ctx, key, val, expires)
}

func (c *instrumentedCache) Delete(ctx context.Context, key string) (bool, error) {
	return c.next.Delete(ctx, key)
}

func (c *instrumentedCache) Close() error {
	return c.next.Close()
}
