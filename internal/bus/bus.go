// Package bus defines the publish/subscribe capability used to exchange
// shared-value envelopes between windows.
//
// Implementations:
//
//   - memory: in-process, synchronous delivery (windows inside one process)
//   - redisbus: Redis PUBLISH/SUBSCRIBE (windows in separate local processes)
//   - wsbus: relay client over a WebSocket (see internal/server/relay)
//
// Delivery contract expected by callers: every subscriber of a topic,
// including the publisher's own subscriptions, receives each publication;
// ordering is preserved per topic and publisher.
package bus

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Handler receives a raw payload published on a topic.
// Handlers must not retain or modify payload after returning.
type Handler func(payload []byte)

// Unsubscribe cancels a subscription. It is safe to call more than once.
type Unsubscribe func()

// Bus is a topic-based publish/subscribe transport.
type Bus interface {
	// Subscribe registers h for every publication on topic.
	// It returns once the subscription is active.
	Subscribe(ctx context.Context, topic string, h Handler) (Unsubscribe, error)

	// SubscribeOnce registers h for the first publication on topic only;
	// the subscription is released after that delivery.
	SubscribeOnce(ctx context.Context, topic string, h Handler) (Unsubscribe, error)

	// Publish sends payload to all current subscribers of topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Close releases every subscription and the underlying transport.
	Close() error
}
