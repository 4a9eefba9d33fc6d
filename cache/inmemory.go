package cache

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	val     []byte
	expires time.Time // zero means never
}

func (e *entry) expired(now time.Time) bool {
	return !e.expires.IsZero() && e.expires.Before(now)
}

type inMemoryCache struct {
	ctx       context.Context
	cancel    context.CancelFunc
	entries   map[string]*entry
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config
}

var _ Cache = (*inMemoryCache)(nil)

// NewInMemory returns a new in-memory Cache implementation. Expired entries
// are swept by a background goroutine at the configured expiry check interval.
func NewInMemory(parent context.Context, opts ...Option) Cache {
	cfg := applyOptions(opts)
	ctx, cancel := context.WithCancel(parent)
	c := &inMemoryCache{
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
		cfg:     cfg,
	}
	c.waitGroup.Add(1)
	go c.run()
	return c
}

func (c *inMemoryCache) Get(_ context.Context, key string) (bool, []byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return false, nil, nil
	}
	if e.expired(time.Now()) {
		delete(c.entries, key)
		return false, nil, nil
	}
	return true, e.val, nil
}

func (c *inMemoryCache) Set(_ context.Context, key string, val []byte, expires time.Duration) error {
	var deadline time.Time
	switch {
	case expires == 0:
		deadline = time.Now().Add(c.cfg.defaultExpires)
	case expires > 0:
		deadline = time.Now().Add(expires)
	}
	c.mutex.Lock()
	c.entries[key] = &entry{val: val, expires: deadline}
	c.mutex.Unlock()
	return nil
}

func (c *inMemoryCache) Delete(_ context.Context, key string) (bool, error) {
	c.mutex.Lock()
	_, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mutex.Unlock()
	return ok, nil
}

func (c *inMemoryCache) Close() error {
	c.once.Do(func() {
		c.cancel()
		c.waitGroup.Wait()
	})
	return nil
}

func (c *inMemoryCache) run() {
	defer c.waitGroup.Done()
	ticker := time.NewTicker(c.cfg.expiryCheck)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			c.mutex.Lock()
			for key, e := range c.entries {
				if e.expired(now) {
					delete(c.entries, key)
				}
			}
			c.mutex.Unlock()
		}
	}
}
