// Package eventing broadcasts analyzer events to interested listeners:
// periodic stats snapshots and newly created recommendations. Payloads are
// msgpack-encoded; the Redis client delivers over pub/sub channels so any
// number of dashboards or sidecars can subscribe without coordination.
package eventing

import (
	"context"
)

// Subjects published by the analyzer.
const (
	SubjectStatsUpdated          = "smartcache.stats.updated"
	SubjectRecommendationCreated = "smartcache.recommendation.created"
)

// Message is a decoded event received from a subscription.
type Message interface {
	Data() []byte
	Subject() string
}

// MessageCallback handles one received message.
type MessageCallback func(ctx context.Context, msg Message)

// Subscriber is an active subscription handle.
type Subscriber interface {
	Close() error
}

// Client publishes and subscribes to analyzer events.
type Client interface {
	// Publish encodes payload with msgpack and delivers it to subject.
	Publish(ctx context.Context, subject string, payload interface{}) error
	// Subscribe invokes cb for every message on subject until the
	// subscriber is closed.
	Subscribe(ctx context.Context, subject string, cb MessageCallback) (Subscriber, error)
	// Close releases all resources held by the client.
	Close() error
}

type noopClient struct{}

// NewNoop returns a client that drops every publish. Used when
// broadcasting is disabled.
func NewNoop() Client {
	return noopClient{}
}

func (noopClient) Publish(context.Context, string, interface{}) error {
	return nil
}

func (noopClient) Subscribe(context.Context, string, MessageCallback) (Subscriber, error) {
	return noopSubscriber{}, nil
}

func (noopClient) Close() error {
	return nil
}

type noopSubscriber struct{}

func (noopSubscriber) Close() error {
	return nil
}
