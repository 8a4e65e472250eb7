// Package redisbus implements bus.Bus over Redis PUBLISH/SUBSCRIBE, so
// windows running in separate local processes can share values.
//
// All subscriptions of a Bus share one pub/sub connection. Messages are
// delivered on a single goroutine in arrival order; handlers may publish and
// subscribe again.
package redisbus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yndnr/sharemesh-go/internal/bus"
)

// DefaultChannelPrefix namespaces bus topics on the Redis server.
const DefaultChannelPrefix = "sharemesh:bus:"

// subscribeTimeout bounds the wait for a subscribe confirmation when the
// caller's context has no deadline.
const subscribeTimeout = 5 * time.Second

// Config configures a Bus that owns its Redis client.
type Config struct {
	Addr          string
	Password      string
	DB            int
	ChannelPrefix string
}

// Bus is a Redis-backed bus.Bus.
type Bus struct {
	rdb    redis.UniversalClient
	owned  bool
	prefix string
	log    *slog.Logger

	mu     sync.Mutex
	closed bool
	ps     *redis.PubSub
	topics map[string]*topicState

	queueMu sync.Mutex
	queue   []*redis.Message
	wake    chan struct{}
	done    chan struct{}
}

type topicState struct {
	subs      []*subscription
	ready     chan struct{} // closed on the server's subscribe confirmation
	confirmed bool
}

type subscription struct {
	topic   string
	handler bus.Handler
	once    bool
	fired   atomic.Bool
}

// New connects to Redis and returns a Bus that closes the client on Close.
func New(cfg Config, logger *slog.Logger) (*Bus, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redisbus: addr is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redisbus: ping %s: %w", cfg.Addr, err)
	}

	b := NewFromClient(rdb, cfg.ChannelPrefix, logger)
	b.owned = true
	return b, nil
}

// NewFromClient wraps an existing client. The client is not closed by Close.
func NewFromClient(rdb redis.UniversalClient, prefix string, logger *slog.Logger) *Bus {
	if prefix == "" {
		prefix = DefaultChannelPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bus{
		rdb:    rdb,
		prefix: prefix,
		log:    logger,
		topics: make(map[string]*topicState),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go b.deliverLoop()
	return b
}

// Subscribe implements bus.Bus. It returns after Redis confirmed the
// channel subscription.
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
	sub := &subscription{topic: topic, handler: h, once: once}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, bus.ErrClosed
	}
	state, ok := b.topics[topic]
	if !ok {
		state = &topicState{ready: make(chan struct{})}
		b.topics[topic] = state
		if err := b.sendSubscribe(ctx, topic); err != nil {
			delete(b.topics, topic)
			b.mu.Unlock()
			return nil, fmt.Errorf("redisbus: subscribe %s: %w", topic, err)
		}
	}
	state.subs = append(state.subs, sub)
	ready := state.ready
	b.mu.Unlock()

	unsubscribe := b.unsubscriber(sub)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, subscribeTimeout)
		defer cancel()
	}
	select {
	case <-ready:
		return unsubscribe, nil
	case <-b.done:
		unsubscribe()
		return nil, bus.ErrClosed
	case <-ctx.Done():
		unsubscribe()
		return nil, fmt.Errorf("redisbus: subscribe %s: %w", topic, ctx.Err())
	}
}

// sendSubscribe issues SUBSCRIBE for topic, opening the shared pub/sub
// connection on first use. Caller holds b.mu.
func (b *Bus) sendSubscribe(ctx context.Context, topic string) error {
	channel := b.prefix + topic
	if b.ps == nil {
		b.ps = b.rdb.Subscribe(ctx)
		go b.readLoop(b.ps.ChannelWithSubscriptions())
	}
	return b.ps.Subscribe(ctx, channel)
}

func (b *Bus) unsubscriber(sub *subscription) bus.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

// Publish implements bus.Bus.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return bus.ErrClosed
	}

	if err := b.rdb.Publish(ctx, b.prefix+topic, payload).Err(); err != nil {
		return fmt.Errorf("redisbus: publish %s: %w", topic, err)
	}
	return nil
}

// Topics returns the number of topics with at least one local subscriber.
func (b *Bus) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Close drops every subscription and stops delivery.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.topics = make(map[string]*topicState)
	ps := b.ps
	b.mu.Unlock()

	close(b.done)

	var err error
	if ps != nil {
		err = ps.Close()
	}
	if b.owned {
		if cerr := b.rdb.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// readLoop consumes the pub/sub connection. It never runs handlers, so a
// handler waiting for a subscribe confirmation cannot block it.
func (b *Bus) readLoop(ch <-chan interface{}) {
	for m := range ch {
		switch msg := m.(type) {
		case *redis.Subscription:
			if msg.Kind == "subscribe" {
				b.confirm(strings.TrimPrefix(msg.Channel, b.prefix))
			}
		case *redis.Message:
			b.enqueue(msg)
		}
	}
}

func (b *Bus) confirm(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if state, ok := b.topics[topic]; ok && !state.confirmed {
		state.confirmed = true
		close(state.ready)
	}
}

func (b *Bus) enqueue(msg *redis.Message) {
	b.queueMu.Lock()
	b.queue = append(b.queue, msg)
	b.queueMu.Unlock()

	select {
	case b.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) deliverLoop() {
	for {
		select {
		case <-b.wake:
		case <-b.done:
			return
		}

		for {
			b.queueMu.Lock()
			batch := b.queue
			b.queue = nil
			b.queueMu.Unlock()
			if len(batch) == 0 {
				break
			}
			for _, msg := range batch {
				b.dispatch(msg)
			}
		}
	}
}

func (b *Bus) dispatch(msg *redis.Message) {
	topic := strings.TrimPrefix(msg.Channel, b.prefix)

	b.mu.Lock()
	state, ok := b.topics[topic]
	var subs []*subscription
	if ok {
		subs = make([]*subscription, len(state.subs))
		copy(subs, state.subs)
	}
	b.mu.Unlock()

	payload := []byte(msg.Payload)
	for _, sub := range subs {
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
}

func (b *Bus) active(sub *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.topics[sub.topic]
	if !ok {
		return false
	}
	for _, s := range state.subs {
		if s == sub {
			return true
		}
	}
	return false
}

// remove drops sub and unsubscribes the channel once its last local
// subscriber is gone.
func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.topics[sub.topic]
	if !ok {
		return
	}
	for i, s := range state.subs {
		if s == sub {
			state.subs = append(state.subs[:i:i], state.subs[i+1:]...)
			break
		}
	}
	if len(state.subs) > 0 {
		return
	}

	delete(b.topics, sub.topic)
	if b.ps != nil && !b.closed {
		ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
		defer cancel()
		if err := b.ps.Unsubscribe(ctx, b.prefix+sub.topic); err != nil {
			b.log.Warn("redis unsubscribe failed", "topic", sub.topic, "error", err)
		}
	}
}

var _ bus.Bus = (*Bus)(nil)
