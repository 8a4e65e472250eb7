package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
	"github.com/yndnr/sharemesh-go/internal/telemetry/metric"
)

func newTestServer(t *testing.T, cfg Config, opts ...Option) (*Server, *httptest.Server) {
	t.Helper()
	opts = append([]Option{WithLogger(logger.Discard())}, opts...)
	s := New(cfg, opts...)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		s.Hub().Close()
		ts.Close()
	})
	return s, ts
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, f Frame) {
	t.Helper()
	if err := ws.WriteJSON(f); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func recv(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return f
}

func expectNothing(t *testing.T, ws *websocket.Conn) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(100 * time.Millisecond))
	var f Frame
	if err := ws.ReadJSON(&f); err == nil {
		t.Fatalf("unexpected frame %+v", f)
	}
}

func subscribe(t *testing.T, ws *websocket.Conn, seq uint64, topic string) {
	t.Helper()
	send(t, ws, Frame{Op: OpSub, Seq: seq, Topic: topic})
	if f := recv(t, ws); f.Op != OpAck || f.Seq != seq {
		t.Fatalf("subscribe reply = %+v, want ack %d", f, seq)
	}
}

func TestServer_PublishFanout(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)
	b := dial(t, ts)

	subscribe(t, a, 1, "shared:update:root")
	subscribe(t, b, 1, "shared:update:root")

	send(t, a, Frame{Op: OpPub, Seq: 2, Topic: "shared:update:root", Payload: []byte(`{"id":"x"}`)})

	// The sender sees its own publication before the ack.
	if f := recv(t, a); f.Op != OpMsg || string(f.Payload) != `{"id":"x"}` {
		t.Fatalf("sender first frame = %+v, want msg", f)
	}
	if f := recv(t, a); f.Op != OpAck || f.Seq != 2 {
		t.Fatalf("sender second frame = %+v, want ack 2", f)
	}

	f := recv(t, b)
	if f.Op != OpMsg || f.Topic != "shared:update:root" || string(f.Payload) != `{"id":"x"}` {
		t.Fatalf("peer frame = %+v", f)
	}
}

func TestServer_TopicIsolation(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)
	b := dial(t, ts)

	subscribe(t, b, 1, "shared:update:user")

	send(t, a, Frame{Op: OpPub, Seq: 1, Topic: "shared:update:root", Payload: []byte("1")})
	if f := recv(t, a); f.Op != OpAck {
		t.Fatalf("reply = %+v, want ack", f)
	}
	expectNothing(t, b)
}

func TestServer_DuplicateSubscribe(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)

	subscribe(t, a, 1, "t")
	subscribe(t, a, 2, "t")

	send(t, a, Frame{Op: OpPub, Seq: 3, Topic: "t", Payload: []byte("p")})
	if f := recv(t, a); f.Op != OpMsg {
		t.Fatalf("frame = %+v, want msg", f)
	}
	if f := recv(t, a); f.Op != OpAck {
		t.Fatalf("frame = %+v, want ack (single delivery)", f)
	}
}

func TestServer_Unsubscribe(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)
	b := dial(t, ts)

	subscribe(t, b, 1, "t")
	if got := s.Hub().Topics(); got != 1 {
		t.Fatalf("Topics() = %d, want 1", got)
	}

	send(t, b, Frame{Op: OpUnsub, Seq: 2, Topic: "t"})
	if f := recv(t, b); f.Op != OpAck || f.Seq != 2 {
		t.Fatalf("unsub reply = %+v", f)
	}
	if got := s.Hub().Topics(); got != 0 {
		t.Fatalf("Topics() = %d, want 0", got)
	}

	send(t, a, Frame{Op: OpPub, Seq: 1, Topic: "t", Payload: []byte("p")})
	recv(t, a)
	expectNothing(t, b)
}

func TestServer_BadFrames(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)

	tests := []struct {
		name  string
		frame Frame
		want  string
	}{
		{name: "sub without topic", frame: Frame{Op: OpSub, Seq: 1}, want: "topic required"},
		{name: "pub without topic", frame: Frame{Op: OpPub, Seq: 2}, want: "topic required"},
		{name: "unknown op", frame: Frame{Op: "nope", Seq: 3}, want: "unknown op nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, a, tt.frame)
			f := recv(t, a)
			if f.Op != OpError || f.Seq != tt.frame.Seq || f.Error != tt.want {
				t.Errorf("reply = %+v, want error %q", f, tt.want)
			}
		})
	}

	if err := a.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if f := recv(t, a); f.Op != OpError || f.Error != "malformed frame" {
		t.Errorf("reply = %+v, want malformed frame error", f)
	}
}

func TestServer_DisconnectReleasesSubscriptions(t *testing.T) {
	s, ts := newTestServer(t, DefaultConfig())
	a := dial(t, ts)
	subscribe(t, a, 1, "t")

	a.Close()

	deadline := time.Now().Add(5 * time.Second)
	for s.Hub().Connections() != 0 || s.Hub().Topics() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connections=%d topics=%d after disconnect", s.Hub().Connections(), s.Hub().Topics())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServer_CheckOrigin(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AllowedOrigins = []string{"http://app.local"}
	_, ts := newTestServer(t, cfg)

	header := http.Header{"Origin": []string{"http://evil.local"}}
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		t.Fatal("expected handshake failure for disallowed origin")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}

	header = http.Header{"Origin": []string{"http://app.local"}}
	ws, _, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("Dial with allowed origin: %v", err)
	}
	ws.Close()
}

func TestServer_Health(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig(), WithVersion("1.2.3"))
	a := dial(t, ts)
	subscribe(t, a, 1, "t")

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}

	var h healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Status != "ok" || h.Version != "1.2.3" || h.Connections != 1 || h.Topics != 1 {
		t.Errorf("health = %+v", h)
	}
}

func TestServer_NotFound(t *testing.T) {
	_, ts := newTestServer(t, DefaultConfig())

	resp, err := http.Get(ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Error-Code"); got != "SM-HTTP-4040" {
		t.Errorf("X-Error-Code = %q", got)
	}
}

func TestServer_Metrics(t *testing.T) {
	reg := metric.NewRegistry()
	_, ts := newTestServer(t, DefaultConfig(), WithMetrics(reg, reg.Handler()))

	a := dial(t, ts)
	subscribe(t, a, 1, "t")
	send(t, a, Frame{Op: OpPub, Seq: 2, Topic: "t", Payload: []byte("p")})
	recv(t, a)
	recv(t, a)

	if got := testutil.ToFloat64(reg.RelayConnections); got != 1 {
		t.Errorf("relay connections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.RelayFrames.WithLabelValues(OpPub)); got != 1 {
		t.Errorf("pub frames = %v, want 1", got)
	}
	if got := testutil.ToFloat64(reg.RelayTopics); got != 1 {
		t.Errorf("relay topics = %v, want 1", got)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHub_SlowConsumerDropped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SendBuffer = 1
	hub := NewHub()
	defer hub.Close()

	// No write pump drains this connection.
	c := newConn("conn-slow", nil, hub, cfg, logger.Discard(), nopMetrics{})
	hub.register(c)
	if err := hub.subscribe(context.Background(), c, "t"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := hub.publish(context.Background(), "t", []byte("p")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	for hub.Connections() != 0 || hub.Topics() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("connections=%d topics=%d, want slow connection dropped", hub.Connections(), hub.Topics())
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case <-c.done:
	default:
		t.Error("done not closed")
	}
}

func TestServer_FrameRateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FrameRate = 0.5
	cfg.FrameBurst = 2
	_, ts := newTestServer(t, cfg)
	a := dial(t, ts)

	// No subscriber, so each accepted pub is answered by its ack alone.
	for seq := uint64(1); seq <= 2; seq++ {
		send(t, a, Frame{Op: OpPub, Seq: seq, Topic: "t", Payload: []byte("1")})
		if f := recv(t, a); f.Op != OpAck || f.Seq != seq {
			t.Fatalf("reply %d = %+v, want ack", seq, f)
		}
	}
	send(t, a, Frame{Op: OpPub, Seq: 3, Topic: "t", Payload: []byte("1")})
	if f := recv(t, a); f.Op != OpError || f.Seq != 3 || f.Error != "rate limit exceeded" {
		t.Errorf("reply = %+v, want rate limit error", f)
	}

	// Limits are per connection.
	b := dial(t, ts)
	subscribe(t, b, 1, "t")
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{PongTimeout: 10 * time.Second, PingInterval: 20 * time.Second}
	cfg.applyDefaults()

	if cfg.SendBuffer != DefaultConfig().SendBuffer {
		t.Errorf("SendBuffer = %d", cfg.SendBuffer)
	}
	if cfg.PingInterval != 9*time.Second {
		t.Errorf("PingInterval = %v, want 9s", cfg.PingInterval)
	}
	if cfg.FrameBurst != 0 {
		t.Errorf("FrameBurst = %d without a rate", cfg.FrameBurst)
	}

	limited := Config{FrameRate: 2.5}
	limited.applyDefaults()
	if limited.FrameBurst != 3 {
		t.Errorf("FrameBurst = %d, want 3", limited.FrameBurst)
	}
}
