// Package wsbus implements bus.Bus as a client of the sharemesh relay
// (see internal/server/relay), so window processes can share values without
// an external broker.
//
// A Bus holds one WebSocket connection. Local subscribers of the same topic
// share one relay subscription. Publications are delivered on a single
// goroutine in arrival order; handlers may publish and subscribe again.
//
// When the connection drops the bus redials with exponential backoff and
// subscribes again to every topic that still has local subscribers.
// Publications sent while the relay is unreachable fail, and messages the
// relay routed during the gap are not recovered.
package wsbus

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"

	"github.com/yndnr/sharemesh-go/internal/bus"
	"github.com/yndnr/sharemesh-go/internal/server/relay"
)

// DefaultURL is the relay endpoint on its default listen address.
const DefaultURL = "ws://127.0.0.1:7420/ws"

// Config configures a relay connection.
type Config struct {
	URL    string
	Header http.Header

	// DialTimeout bounds the WebSocket handshake.
	DialTimeout time.Duration

	// RequestTimeout bounds the wait for a relay acknowledgement when the
	// caller's context has no deadline.
	RequestTimeout time.Duration

	WriteTimeout time.Duration

	// TLSConfig is used for wss URLs. Nil uses the system roots.
	TLSConfig *tls.Config

	// DisableReconnect closes the bus when the connection drops.
	DisableReconnect bool

	// ReconnectInitial and ReconnectMax bound the delay between redials.
	ReconnectInitial time.Duration
	ReconnectMax     time.Duration

	// ReconnectGiveUp closes the bus after redialing for this long. Zero
	// keeps redialing until Close.
	ReconnectGiveUp time.Duration
}

// errConnLost fails requests that were in flight when the connection dropped.
var errConnLost = errors.New("relay connection lost")

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		URL:            DefaultURL,
		DialTimeout:    5 * time.Second,
		RequestTimeout: 5 * time.Second,
		WriteTimeout:   10 * time.Second,

		ReconnectInitial: 100 * time.Millisecond,
		ReconnectMax:     5 * time.Second,
	}
}

// Bus is a relay-backed bus.Bus.
type Bus struct {
	cfg Config
	ws  *websocket.Conn
	log *slog.Logger

	writeMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	err     error
	seq     uint64
	pending map[uint64]func(error)
	topics  map[string]*topicState

	queueMu sync.Mutex
	queue   []relay.Frame
	wake    chan struct{}
	done    chan struct{}
}

type topicState struct {
	subs  []*subscription
	ready chan struct{} // closed on the relay's ack or error
	err   error
}

type subscription struct {
	topic   string
	handler bus.Handler
	once    bool
	fired   atomic.Bool
}

// Dial connects to the relay at cfg.URL.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Bus, error) {
	d := DefaultConfig()
	if cfg.URL == "" {
		cfg.URL = d.URL
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = d.DialTimeout
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = d.RequestTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = d.WriteTimeout
	}
	if cfg.ReconnectInitial <= 0 {
		cfg.ReconnectInitial = d.ReconnectInitial
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = d.ReconnectMax
	}
	if logger == nil {
		logger = slog.Default()
	}

	ws, err := dial(ctx, cfg)
	if err != nil {
		return nil, err
	}

	b := &Bus{
		cfg:     cfg,
		ws:      ws,
		log:     logger.With("relay", cfg.URL),
		pending: make(map[uint64]func(error)),
		topics:  make(map[string]*topicState),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go b.readLoop()
	go b.deliverLoop()
	return b, nil
}

func dial(ctx context.Context, cfg Config) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.DialTimeout,
		TLSClientConfig:  cfg.TLSConfig,
	}
	ws, _, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if err != nil {
		return nil, fmt.Errorf("wsbus: dial %s: %w", cfg.URL, err)
	}
	return ws, nil
}

// Subscribe implements bus.Bus. It returns after the relay acknowledged the
// subscription.
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
		return nil, b.closedErr()
	}
	state, ok := b.topics[topic]
	if !ok {
		state = &topicState{ready: make(chan struct{})}
		b.topics[topic] = state
		seq := b.nextSeq(func(err error) { b.settle(state, err) })
		if err := b.write(relay.Frame{Op: relay.OpSub, Seq: seq, Topic: topic}); err != nil {
			delete(b.pending, seq)
			delete(b.topics, topic)
			b.mu.Unlock()
			return nil, fmt.Errorf("wsbus: subscribe %s: %w", topic, err)
		}
	}
	state.subs = append(state.subs, sub)
	ready := state.ready
	b.mu.Unlock()

	unsubscribe := b.unsubscriber(sub)

	ctx, cancel := b.requestContext(ctx)
	defer cancel()
	select {
	case <-ready:
		if state.err != nil {
			unsubscribe()
			return nil, fmt.Errorf("wsbus: subscribe %s: %w", topic, state.err)
		}
		return unsubscribe, nil
	case <-b.done:
		unsubscribe()
		return nil, b.closedErr()
	case <-ctx.Done():
		unsubscribe()
		return nil, fmt.Errorf("wsbus: subscribe %s: %w", topic, ctx.Err())
	}
}

func (b *Bus) settle(state *topicState, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case <-state.ready:
	default:
		state.err = err
		close(state.ready)
	}
}

func (b *Bus) unsubscriber(sub *subscription) bus.Unsubscribe {
	var once sync.Once
	return func() {
		once.Do(func() { b.remove(sub) })
	}
}

// Publish implements bus.Bus. It returns after the relay acknowledged the
// publication.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte) error {
	result := make(chan error, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return b.closedErr()
	}
	seq := b.nextSeq(func(err error) { result <- err })
	b.mu.Unlock()

	if err := b.write(relay.Frame{Op: relay.OpPub, Seq: seq, Topic: topic, Payload: payload}); err != nil {
		b.forget(seq)
		return fmt.Errorf("wsbus: publish %s: %w", topic, err)
	}

	ctx, cancel := b.requestContext(ctx)
	defer cancel()
	select {
	case err := <-result:
		if err != nil {
			return fmt.Errorf("wsbus: publish %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		b.forget(seq)
		return fmt.Errorf("wsbus: publish %s: %w", topic, ctx.Err())
	}
}

// Topics returns the number of topics with at least one local subscriber.
func (b *Bus) Topics() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.topics)
}

// Close drops every subscription and closes the connection.
func (b *Bus) Close() error {
	if !b.shutdown(nil) {
		return nil
	}

	b.writeMu.Lock()
	ws := b.ws
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(b.cfg.WriteTimeout))
	b.writeMu.Unlock()
	return ws.Close()
}

func (b *Bus) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// shutdown marks the bus closed and fails every outstanding request. It
// reports whether this call performed the transition.
func (b *Bus) shutdown(cause error) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.closed = true
	b.err = cause
	pending := b.pending
	b.pending = make(map[uint64]func(error))
	b.topics = make(map[string]*topicState)
	b.mu.Unlock()

	close(b.done)
	err := b.closedErr()
	for _, resolve := range pending {
		resolve(err)
	}
	return true
}

func (b *Bus) closedErr() error {
	if b.err != nil {
		return fmt.Errorf("%w: %v", bus.ErrClosed, b.err)
	}
	return bus.ErrClosed
}

// nextSeq registers resolve for the next request. Caller holds b.mu.
func (b *Bus) nextSeq(resolve func(error)) uint64 {
	b.seq++
	b.pending[b.seq] = resolve
	return b.seq
}

func (b *Bus) forget(seq uint64) {
	b.mu.Lock()
	delete(b.pending, seq)
	b.mu.Unlock()
}

func (b *Bus) resolve(seq uint64, err error) {
	b.mu.Lock()
	resolve, ok := b.pending[seq]
	delete(b.pending, seq)
	b.mu.Unlock()
	if ok {
		resolve(err)
	}
}

func (b *Bus) write(f relay.Frame) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.ws.SetWriteDeadline(time.Now().Add(b.cfg.WriteTimeout))
	return b.ws.WriteJSON(f)
}

func (b *Bus) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.cfg.RequestTimeout)
}

// readLoop consumes relay frames. It never runs handlers, so a handler
// waiting for an acknowledgement cannot block it. b.ws is only replaced on
// this goroutine.
func (b *Bus) readLoop() {
	for {
		var f relay.Frame
		if err := b.ws.ReadJSON(&f); err != nil {
			if b.isClosed() {
				return
			}
			if b.cfg.DisableReconnect {
				if b.shutdown(err) {
					b.log.Warn("relay connection lost", "error", err)
				}
				return
			}
			b.log.Warn("relay connection lost, reconnecting", "error", err)
			if !b.reconnect(err) {
				return
			}
			continue
		}

		switch f.Op {
		case relay.OpMsg:
			b.enqueue(f)
		case relay.OpAck:
			b.resolve(f.Seq, nil)
		case relay.OpError:
			if f.Seq == 0 {
				b.log.Warn("relay reported error", "error", f.Error)
				continue
			}
			b.resolve(f.Seq, errors.New("relay: "+f.Error))
		default:
			b.log.Debug("ignoring relay frame", "op", f.Op)
		}
	}
}

// reconnect redials the relay until it answers, the backoff gives up or the
// bus is closed, then replays the subscriptions. It reports whether a new
// connection is in place.
func (b *Bus) reconnect(cause error) bool {
	b.failPending(fmt.Errorf("%w: %v", errConnLost, cause))

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = b.cfg.ReconnectInitial
	bo.MaxInterval = b.cfg.ReconnectMax
	bo.MaxElapsedTime = b.cfg.ReconnectGiveUp
	bo.Reset()

	for attempt := 1; ; attempt++ {
		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			if b.shutdown(cause) {
				b.log.Warn("relay reconnect gave up", "attempts", attempt-1, "error", cause)
			}
			return false
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-b.done:
			timer.Stop()
			return false
		}

		ctx, cancel := context.WithTimeout(context.Background(), b.cfg.DialTimeout)
		ws, err := dial(ctx, b.cfg)
		cancel()
		if err != nil {
			b.log.Debug("relay reconnect failed", "attempt", attempt, "error", err)
			continue
		}

		b.writeMu.Lock()
		b.ws = ws
		b.writeMu.Unlock()
		if b.isClosed() {
			ws.Close()
			return false
		}

		b.log.Info("relay reconnected", "attempts", attempt)
		b.replay()
		return true
	}
}

// failPending resolves every outstanding request with err.
func (b *Bus) failPending(err error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = make(map[uint64]func(error))
	b.mu.Unlock()

	for _, resolve := range pending {
		resolve(err)
	}
}

// replay sends a subscription for every topic with local subscribers. A
// write failure stops the replay; the read loop then sees the broken
// connection and reconnects again.
func (b *Bus) replay() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, state := range b.topics {
		seq := b.nextSeq(func(err error) {
			if err != nil {
				b.log.Warn("relay resubscribe failed", "topic", topic, "error", err)
			}
			b.settle(state, err)
		})
		if err := b.write(relay.Frame{Op: relay.OpSub, Seq: seq, Topic: topic}); err != nil {
			delete(b.pending, seq)
			b.log.Warn("relay resubscribe failed", "topic", topic, "error", err)
			return
		}
	}
}

func (b *Bus) enqueue(f relay.Frame) {
	b.queueMu.Lock()
	b.queue = append(b.queue, f)
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
			for _, f := range batch {
				b.dispatch(f)
			}
		}
	}
}

func (b *Bus) dispatch(f relay.Frame) {
	b.mu.Lock()
	state, ok := b.topics[f.Topic]
	var subs []*subscription
	if ok {
		subs = make([]*subscription, len(state.subs))
		copy(subs, state.subs)
	}
	b.mu.Unlock()

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
		sub.handler(f.Payload)
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

// remove drops sub and releases the relay subscription once its last local
// subscriber is gone. The unsub frame is written under b.mu so a later
// subscribe to the same topic is always sent after it.
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
	if b.closed {
		return
	}
	if err := b.write(relay.Frame{Op: relay.OpUnsub, Topic: sub.topic}); err != nil {
		b.log.Warn("relay unsubscribe failed", "topic", sub.topic, "error", err)
	}
}

var _ bus.Bus = (*Bus)(nil)
