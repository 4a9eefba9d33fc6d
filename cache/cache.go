// Package cache provides the key/value stores smartcache writes through: the
// strategy store consumed by the caching layer and the instrumented cache
// whose hit/miss traffic feeds the access metrics.
//
// Values are opaque byte slices; callers serialize with msgpack. An expires
// of zero selects the configured default TTL, a negative expires pins the
// entry forever (strategy records are stored this way).
package cache

import (
	"context"
	"time"
)

// Forever pins an entry with no expiration.
const Forever = time.Duration(-1)

// DefaultExpires is the default TTL used when Set is called with expires == 0.
const DefaultExpires = 5 * time.Minute

// DefaultQueryTimeout is the per-operation timeout for I/O-backed
// implementations. Prevents indefinite hangs on slow or unresponsive storage.
const DefaultQueryTimeout = 5 * time.Second

// Cache is a byte-oriented key/value store with TTL support.
type Cache interface {
	// Get retrieves a value. found is false for missing or expired keys.
	Get(ctx context.Context, key string) (found bool, val []byte, err error)
	// Set stores a value. expires == 0 uses the configured default TTL;
	// expires < 0 stores the value without expiration.
	Set(ctx context.Context, key string, val []byte, expires time.Duration) error
	// Delete removes a key, reporting whether it existed.
	Delete(ctx context.Context, key string) (bool, error)
	// Close shuts down the cache.
	Close() error
}

type config struct {
	defaultExpires time.Duration
	queryTimeout   time.Duration
	expiryCheck    time.Duration
	prefix         string
}

// Option configures a Cache implementation.
type Option func(*config)

func applyOptions(opts []Option) config {
	cfg := config{
		defaultExpires: DefaultExpires,
		queryTimeout:   DefaultQueryTimeout,
		expiryCheck:    time.Minute,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithExpires sets the default TTL used when Set is called with expires == 0.
func WithExpires(d time.Duration) Option {
	return func(c *config) { c.defaultExpires = d }
}

// WithQueryTimeout sets the per-operation timeout for I/O-backed caches.
func WithQueryTimeout(d time.Duration) Option {
	return func(c *config) { c.queryTimeout = d }
}

// WithExpiryCheck sets the interval for background expired entry cleanup.
// Applies to the in-memory backend.
func WithExpiryCheck(d time.Duration) Option {
	return func(c *config) { c.expiryCheck = d }
}

// WithPrefix sets the key prefix for namespacing cache keys.
// Applies to the Redis backend.
func WithPrefix(p string) Option {
	return func(c *config) { c.prefix = p }
}
