package relay

import (
	"context"
	"sync"

	"github.com/yndnr/sharemesh-go/internal/bus"
	"github.com/yndnr/sharemesh-go/internal/bus/memory"
)

// Hub routes publications between connections. Subscriptions are kept per
// connection and topic on an in-process bus.
type Hub struct {
	bus *memory.Bus

	mu    sync.Mutex
	conns map[*conn]map[string]bus.Unsubscribe
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		bus:   memory.New(),
		conns: make(map[*conn]map[string]bus.Unsubscribe),
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = make(map[string]bus.Unsubscribe)
}

// unregister drops every subscription of c.
func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	subs := h.conns[c]
	delete(h.conns, c)
	h.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}

// subscribe registers c for topic. Subscribing twice is a no-op.
func (h *Hub) subscribe(ctx context.Context, c *conn, topic string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs, ok := h.conns[c]
	if !ok {
		return bus.ErrClosed
	}
	if _, dup := subs[topic]; dup {
		return nil
	}

	unsub, err := h.bus.Subscribe(ctx, topic, func(payload []byte) {
		c.deliver(topic, payload)
	})
	if err != nil {
		return err
	}
	subs[topic] = unsub
	return nil
}

func (h *Hub) unsubscribe(c *conn, topic string) {
	h.mu.Lock()
	unsub, ok := h.conns[c][topic]
	if ok {
		delete(h.conns[c], topic)
	}
	h.mu.Unlock()

	if ok {
		unsub()
	}
}

// publish delivers payload to every subscriber of topic. Delivery only
// queues frames, so it never blocks on a slow connection.
func (h *Hub) publish(ctx context.Context, topic string, payload []byte) error {
	return h.bus.Publish(ctx, topic, payload)
}

// Connections returns the number of registered connections.
func (h *Hub) Connections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Topics returns the number of topics with at least one subscriber.
func (h *Hub) Topics() int {
	return h.bus.Topics()
}

// Close disconnects every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.close()
	}
	h.bus.Close()
}
