package eventing

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/agentuity/smartcache/logger"
)

type redisMessage struct {
	subject string
	data    []byte
}

func (m *redisMessage) Data() []byte {
	return m.data
}

func (m *redisMessage) Subject() string {
	return m.subject
}

type redisSubscriber struct {
	pubsub *redis.PubSub
}

func (s *redisSubscriber) Close() error {
	return s.pubsub.Close()
}

type redisClient struct {
	rdb    *redis.Client
	ctx    context.Context
	cancel context.CancelFunc
	logger logger.Logger
}

var _ Client = (*redisClient)(nil)

// NewRedis returns a client delivering events over Redis pub/sub.
func NewRedis(ctx context.Context, log logger.Logger, rdb *redis.Client) Client {
	ctx, cancel := context.WithCancel(ctx)
	return &redisClient{
		rdb:    rdb,
		ctx:    ctx,
		cancel: cancel,
		logger: log.With(map[string]interface{}{"component": "eventing"}),
	}
}

func (c *redisClient) Publish(ctx context.Context, subject string, payload interface{}) error {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "encoding event payload")
	}
	if err := c.rdb.Publish(ctx, subject, data).Err(); err != nil {
		return errors.Wrapf(err, "publishing to %s", subject)
	}
	return nil
}

func (c *redisClient) Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error) {
	pubsub := c.rdb.Subscribe(ctx, subject)

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-c.ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				cb(ctx, &redisMessage{subject: msg.Channel, data: []byte(msg.Payload)})
			}
		}
	}()

	return &redisSubscriber{pubsub: pubsub}, nil
}

func (c *redisClient) Close() error {
	c.cancel()
	return nil
}
