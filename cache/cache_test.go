package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemorySetGet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer c.Close()

	found, val, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	require.NoError(t, c.Set(ctx, "key", []byte("value"), time.Minute))
	found, val, err = c.Get(ctx, "key")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("value"), val)
}

func TestInMemoryLazyExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), 10*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	found, _, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryBackgroundExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpiryCheck(50*time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), 20*time.Millisecond))
	time.Sleep(150 * time.Millisecond)

	mem := c.(*inMemoryCache)
	mem.mutex.Lock()
	assert.Empty(t, mem.entries)
	mem.mutex.Unlock()
}

func TestInMemoryForever(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpiryCheck(20*time.Millisecond), WithExpires(10*time.Millisecond))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "pinned", []byte("v"), Forever))
	time.Sleep(60 * time.Millisecond)
	found, val, err := c.Get(ctx, "pinned")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("v"), val)
}

func TestInMemoryDefaultExpires(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpires(10*time.Millisecond), WithExpiryCheck(time.Minute))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), 0))
	time.Sleep(15 * time.Millisecond)
	found, _, err := c.Get(ctx, "key")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestInMemoryDelete(t *testing.T) {
	ctx := context.Background()
	c := NewInMemory(ctx, WithExpiryCheck(time.Minute))
	defer c.Close()

	require.NoError(t, c.Set(ctx, "key", []byte("v"), time.Minute))
	existed, err := c.Delete(ctx, "key")
	require.NoError(t, err)
	assert.True(t, existed)
	existed, err = c.Delete(ctx, "key")
	require.NoError(t, err)
	assert.False(t, existed)
}

type captureRecorder struct {
	mu     sync.Mutex
	hits   []string
	misses []string
}

func (r *captureRecorder) RecordAccess(_ context.Context, key string, hit bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits = append(r.hits, key)
	} else {
		r.misses = append(r.misses, key)
	}
	return nil
}

func TestInstrumentedRecordsHitsAndMisses(t *testing.T) {
	ctx := context.Background()
	recorder := &captureRecorder{}
	c := NewInstrumented(NewInMemory(ctx, WithExpiryCheck(time.Minute)), recorder)
	defer c.Close()

	_, _, err := c.Get(ctx, "users:1")
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "users:1", []byte("v"), time.Minute))
	found, _, err := c.Get(ctx, "users:1")
	require.NoError(t, err)
	assert.True(t, found)

	assert.Equal(t, []string{"users:1"}, recorder.misses)
	assert.Equal(t, []string{"users:1"}, recorder.hits)
}
