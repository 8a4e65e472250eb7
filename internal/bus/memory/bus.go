// Package memory provides an in-process bus.
//
// Publish delivers synchronously on the caller's goroutine, to subscribers in
// subscription order. The subscriber list is snapshotted before delivery, so
// handlers may subscribe, unsubscribe or publish without deadlocking.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yndnr/sharemesh-go/internal/bus"
)

// Bus is an in-process implementation of bus.Bus.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*subscription
	nextID uint64
	closed bool
}

type subscription struct {
	id      uint64
	topic   string
	handler bus.Handler
	once    bool
	fired   atomic.Bool
}

// New creates an empty in-process bus.
func New() *Bus {
	return &Bus{
		topics: make(map[string][]*subscription),
	}
}

// Subscribe implements bus.Bus.
func (b *Bus) Subscribe(ctx context.Context, topic string, h bus.Handler) (bus.Unsubscribe, error) {
	return b.subscribe(ctx, topic, h, false)
}

// SubscribeOnce implements bus.Bus.
func (b *Bus) SubscribeOnce(ctx context.Context, topic string, h bus.Handler) (bus.Unsubscribe, error) {
	return b.subscribe(ctx, topic, h, true)
}

func (b *Bus) subscribe(ctx context.Context, topic string, h bus.Handler, once bool) (bus.Unsubscribe, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, bus.ErrClosed
	}

	b.nextID++
	sub := &subscription{
		id:      b.nextID,
		topic:   topic,
		handler: h,
		once:    once,
	}
	b.topics[topic] = append(b.topics[topic], sub)

	var done sync.Once
	return func() {
		done.Do(func() { b.remove(sub) })
	}, nil
}

// Publish implements bus.Bus.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return bus.ErrClosed
	}
	subs := make([]*subscription, len(b.topics[topic]))
	copy(subs, b.topics[topic])
	b.mu.RUnlock()

	for _, sub := range subs {
		// Skip subscriptions released by an earlier handler in this delivery.
		if !b.active(sub) {
			continue
		}
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			b.remove(sub)
		}
		sub.handler(payload)
	}

	return nil
}

// Subscribers returns the number of active subscriptions on topic.
func (b *Bus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Topics returns the number of topics with at least one subscriber.
func (b *Bus) Topics() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics)
}

// Close drops every subscription. Further calls return bus.ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.topics = make(map[string][]*subscription)
	return nil
}

func (b *Bus) active(sub *subscription) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.topics[sub.topic] {
		if s == sub {
			return true
		}
	}
	return false
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.topics[sub.topic]
	for i, s := range subs {
		if s == sub {
			subs = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
		return
	}
	b.topics[sub.topic] = subs
}

var _ bus.Bus = (*Bus)(nil)
