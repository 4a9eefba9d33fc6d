package queue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/agentuity/smartcache/logger"
)

const (
	defaultStream    = "smartcache:observations"
	defaultGroup     = "smartcache-workers"
	defaultMaxLen    = 100_000
	readBlockTimeout = 5 * time.Second
)

type redisQueue struct {
	client   *redis.Client
	logger   logger.Logger
	stream   string
	group    string
	consumer string
	maxLen   int64

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started sync.Once
	closed  sync.Once
}

// RedisOption customizes the Redis Streams queue.
type RedisOption func(*redisQueue)

// WithStream overrides the stream key.
func WithStream(stream string) RedisOption {
	return func(q *redisQueue) {
		q.stream = stream
	}
}

// WithGroup overrides the consumer group name.
func WithGroup(group string) RedisOption {
	return func(q *redisQueue) {
		q.group = group
	}
}

// WithMaxLen caps the stream length. The cap is approximate; trimming uses
// the backend's efficient node-boundary truncation.
func WithMaxLen(maxLen int64) RedisOption {
	return func(q *redisQueue) {
		q.maxLen = maxLen
	}
}

// NewRedis returns a queue backed by a Redis Stream with one consumer
// group. Each process gets a unique consumer name so multiple instances
// share the stream without double-processing.
func NewRedis(parent context.Context, client *redis.Client, log logger.Logger, opts ...RedisOption) Queue {
	ctx, cancel := context.WithCancel(parent)
	q := &redisQueue{
		client:   client,
		logger:   log.WithPrefix("[queue]"),
		stream:   defaultStream,
		group:    defaultGroup,
		consumer: uuid.NewString(),
		maxLen:   defaultMaxLen,
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

func (q *redisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := msgpack.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "encoding job")
	}
	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]interface{}{"job": payload},
	}).Err()
	if err != nil {
		if ctx.Err() != nil {
			return ErrQueueFull
		}
		return errors.Wrap(err, "enqueueing job")
	}
	return nil
}

func (q *redisQueue) Start(handler Handler) error {
	var startErr error
	q.started.Do(func() {
		err := q.client.XGroupCreateMkStream(q.ctx, q.stream, q.group, "0").Err()
		if err != nil && !isBusyGroup(err) {
			startErr = errors.Wrap(err, "creating consumer group")
			return
		}
		q.wg.Add(1)
		go q.consume(handler)
	})
	return startErr
}

func (q *redisQueue) consume(handler Handler) {
	defer q.wg.Done()
	for {
		if q.ctx.Err() != nil {
			return
		}
		streams, err := q.client.XReadGroup(q.ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: q.consumer,
			Streams:  []string{q.stream, ">"},
			Count:    32,
			Block:    readBlockTimeout,
		}).Result()
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			q.logger.Warn("stream read failed: %s", err)
			time.Sleep(time.Second)
			continue
		}
		for _, stream := range streams {
			for _, msg := range stream.Messages {
				q.handleMessage(handler, msg)
			}
		}
	}
}

func (q *redisQueue) handleMessage(handler Handler, msg redis.XMessage) {
	raw, ok := msg.Values["job"].(string)
	if !ok {
		q.logger.Warn("dropping malformed stream entry %s", msg.ID)
		q.ack(msg.ID)
		return
	}
	var job Job
	if err := msgpack.Unmarshal([]byte(raw), &job); err != nil {
		q.logger.Warn("dropping undecodable stream entry %s: %s", msg.ID, err)
		q.ack(msg.ID)
		return
	}
	if err := handler(q.ctx, job); err != nil {
		q.logger.Warn("job %s failed: %s", job.ID, err)
	}
	q.ack(msg.ID)
}

func (q *redisQueue) ack(id string) {
	if err := q.client.XAck(q.ctx, q.stream, q.group, id).Err(); err != nil && q.ctx.Err() == nil {
		q.logger.Warn("ack failed for %s: %s", id, err)
	}
}

func (q *redisQueue) Close() error {
	q.closed.Do(func() {
		q.cancel()
		q.wg.Wait()
	})
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}
