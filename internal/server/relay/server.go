package relay

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/oklog/ulid/v2"

	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

// Config holds relay settings.
type Config struct {
	// Addr is the listen address.
	Addr string

	// AllowedOrigins restricts WebSocket upgrades by Origin header.
	// Empty allows every origin.
	AllowedOrigins []string

	// MaxMessageSize is the largest accepted frame in bytes.
	MaxMessageSize int64

	// SendBuffer is the number of frames queued per connection before it
	// is dropped as too slow.
	SendBuffer int

	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration

	// FrameRate limits inbound frames per second on each connection.
	// Zero disables the limit. FrameBurst defaults to one second's worth.
	FrameRate  float64
	FrameBurst int

	// TLSConfig serves wss when set. It must carry Certificates or
	// GetCertificate.
	TLSConfig *tls.Config
}

// DefaultConfig returns the default relay configuration.
func DefaultConfig() Config {
	return Config{
		Addr:           "127.0.0.1:7420",
		MaxMessageSize: 1 << 20,
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   54 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.FrameRate > 0 && c.FrameBurst <= 0 {
		c.FrameBurst = int(math.Ceil(c.FrameRate))
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
}

// Metrics receives relay events. metric.Registry implements it.
type Metrics interface {
	RelayConnOpened()
	RelayConnClosed()
	RecordRelayFrame(op string)
	SetRelayTopics(n int)
	RecordRequest(method, path, status string)
	ObserveRequestDuration(method, path string, seconds float64)
}

type nopMetrics struct{}

func (nopMetrics) RelayConnOpened()                               {}
func (nopMetrics) RelayConnClosed()                               {}
func (nopMetrics) RecordRelayFrame(string)                        {}
func (nopMetrics) SetRelayTopics(int)                             {}
func (nopMetrics) RecordRequest(string, string, string)           {}
func (nopMetrics) ObserveRequestDuration(string, string, float64) {}

// Server is the relay HTTP server.
type Server struct {
	cfg            Config
	hub            *Hub
	log            logger.Logger
	metrics        Metrics
	metricsHandler http.Handler
	version        string

	upgrader   websocket.Upgrader
	handler    http.Handler
	httpServer *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics records relay metrics in m and serves h at /metrics.
func WithMetrics(m Metrics, h http.Handler) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
		s.metricsHandler = h
	}
}

// WithVersion sets the version reported by /healthz.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates a relay server.
func New(cfg Config, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:     cfg,
		hub:     NewHub(),
		log:     logger.Default(),
		metrics: nopMetrics{},
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.handler = s.router()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	r := mux.NewRouter()
	r.Use(
		mux.MiddlewareFunc(Recover(s.log)),
		mux.MiddlewareFunc(RequestID()),
		mux.MiddlewareFunc(AccessLog(s.log, s.metrics)),
	)

	r.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "SM-HTTP-4040", "not found")
	})
	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the server's hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// ListenAndServe starts the server on cfg.Addr.
func (s *Server) ListenAndServe() error {
	var err error
	if s.cfg.TLSConfig != nil {
		s.log.Info("relay listening", "addr", s.cfg.Addr, "tls", true)
		s.httpServer.TLSConfig = s.cfg.TLSConfig
		err = s.httpServer.ListenAndServeTLS("", "")
	} else {
		s.log.Info("relay listening", "addr", s.cfg.Addr)
		err = s.httpServer.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Serve accepts connections on l.
func (s *Server) Serve(l net.Listener) error {
	s.log.Info("relay listening", "addr", l.Addr().String())
	err := s.httpServer.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and disconnects every client.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.hub.Close()
	return err
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range s.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}

	id := "conn-" + strings.ToLower(ulid.Make().String())
	ctx := logger.WithConnID(r.Context(), id)
	c := newConn(id, ws, s.hub, s.cfg, logger.L(ctx).With("remote", getClientIP(r)), s.metrics)

	s.hub.register(c)
	s.metrics.RelayConnOpened()
	c.log.Debug("connection opened")
	defer func() {
		s.metrics.RelayConnClosed()
		c.log.Debug("connection closed")
	}()

	go c.writePump()
	c.readPump(context.WithoutCancel(ctx))
}

type healthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Connections int    `json:"connections"`
	Topics      int    `json:"topics"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(healthResponse{
		Status:      "ok",
		Version:     s.version,
		Connections: s.hub.Connections(),
		Topics:      s.hub.Topics(),
	})
}
