package relay

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

// conn is one client WebSocket connection.
type conn struct {
	id      string
	ws      *websocket.Conn
	hub     *Hub
	cfg     Config
	log     logger.Logger
	metrics Metrics
	limiter *rate.Limiter // nil when unlimited

	send      chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(id string, ws *websocket.Conn, hub *Hub, cfg Config, log logger.Logger, metrics Metrics) *conn {
	c := &conn{
		id:      id,
		ws:      ws,
		hub:     hub,
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		send:    make(chan Frame, cfg.SendBuffer),
		done:    make(chan struct{}),
	}
	if cfg.FrameRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.FrameRate), cfg.FrameBurst)
	}
	return c
}

// deliver queues a msg frame. Called by the hub during publish.
func (c *conn) deliver(topic string, payload []byte) {
	p := make([]byte, len(payload))
	copy(p, payload)
	c.enqueue(Frame{Op: OpMsg, Topic: topic, Payload: p})
}

// enqueue never blocks: a connection that cannot keep up is dropped.
func (c *conn) enqueue(f Frame) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- f:
	default:
		c.log.Warn("send buffer full, closing connection", "buffer", c.cfg.SendBuffer)
		go c.close()
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		c.metrics.SetRelayTopics(c.hub.Topics())
	})
}

// readPump handles inbound frames until the connection fails or closes.
func (c *conn) readPump(ctx context.Context) {
	defer c.close()

	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("connection read failed", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.enqueue(Frame{Op: OpError, Error: "malformed frame"})
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.metrics.RecordRelayFrame("limited")
			c.enqueue(f.Fail("rate limit exceeded"))
			continue
		}
		c.handle(ctx, f)
	}
}

func (c *conn) handle(ctx context.Context, f Frame) {
	c.metrics.RecordRelayFrame(f.Op)

	switch f.Op {
	case OpSub:
		if f.Topic == "" {
			c.enqueue(f.Fail("topic required"))
			return
		}
		if err := c.hub.subscribe(ctx, c, f.Topic); err != nil {
			c.enqueue(f.Fail(err.Error()))
			return
		}
		c.metrics.SetRelayTopics(c.hub.Topics())
		c.enqueue(f.Ack())

	case OpUnsub:
		c.hub.unsubscribe(c, f.Topic)
		c.metrics.SetRelayTopics(c.hub.Topics())
		c.enqueue(f.Ack())

	case OpPub:
		if f.Topic == "" {
			c.enqueue(f.Fail("topic required"))
			return
		}
		if err := c.hub.publish(ctx, f.Topic, f.Payload); err != nil {
			c.enqueue(f.Fail(err.Error()))
			return
		}
		c.enqueue(f.Ack())

	default:
		c.enqueue(f.Fail("unknown op " + f.Op))
	}
}

// writePump serializes all writes to the socket and keeps it alive.
func (c *conn) writePump() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case f := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(f); err != nil {
				c.log.Debug("connection write failed", "error", err)
				c.close()
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}

		case <-c.done:
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
			return
		}
	}
}
