package metric

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sharemesh"

// Registry holds all application metrics.
type Registry struct {
	registry *prometheus.Registry

	// Handle metrics
	HandlesActive   *prometheus.GaugeVec
	HandleEvents    *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec

	// Relay metrics
	RelayConnections prometheus.Gauge
	RelayFrames      *prometheus.CounterVec
	RelayTopics      prometheus.Gauge

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewRegistry creates a registry with all ShareMesh metrics plus the Go
// runtime and process collectors.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	r := &Registry{
		registry: reg,
		HandlesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "handles_active",
			Help:      "Shared value handles currently joined to a group",
		}, []string{"key"}),
		HandleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_events_total",
			Help:      "Protocol events processed by handles",
		}, []string{"key", "event"}),
		PersistFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handle_persist_failures_total",
			Help:      "Store writes that failed while persisting a shared value",
		}, []string{"key"}),
		RelayConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connections",
			Help:      "Open relay WebSocket connections",
		}),
		RelayFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_frames_total",
			Help:      "Frames received by the relay",
		}, []string{"op"}),
		RelayTopics: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_topics",
			Help:      "Topics with at least one relay subscriber",
		}),
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "HTTP requests served by the relay",
		}, []string{"method", "path", "status"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	reg.MustRegister(
		r.HandlesActive,
		r.HandleEvents,
		r.PersistFailures,
		r.RelayConnections,
		r.RelayFrames,
		r.RelayTopics,
		r.RequestsTotal,
		r.RequestDuration,
	)

	return r
}

var (
	globalOnce sync.Once
	global     *Registry
)

// Global returns the process-wide registry.
func Global() *Registry {
	globalOnce.Do(func() {
		global = NewRegistry()
	})
	return global
}

// Handler returns the /metrics handler for the global registry.
func Handler() http.Handler {
	return Global().Handler()
}

// Handler returns an HTTP handler exposing r.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

// Registerer exposes the underlying registry so other components (such as
// the Badger store) can add their own collectors.
func (r *Registry) Registerer() prometheus.Registerer {
	return r.registry
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.registry
}

// HandleOpened records a handle joining the group key.
func (r *Registry) HandleOpened(key string) {
	r.HandlesActive.WithLabelValues(key).Inc()
}

// HandleClosed records a handle leaving the group key.
func (r *Registry) HandleClosed(key string) {
	r.HandlesActive.WithLabelValues(key).Dec()
}

// HandleEvent counts one protocol event for key.
func (r *Registry) HandleEvent(key, event string) {
	r.HandleEvents.WithLabelValues(key, event).Inc()
}

// PersistFailed counts a failed store write for key.
func (r *Registry) PersistFailed(key string) {
	r.PersistFailures.WithLabelValues(key).Inc()
}

// RelayConnOpened increments the open connection gauge.
func (r *Registry) RelayConnOpened() {
	r.RelayConnections.Inc()
}

// RelayConnClosed decrements the open connection gauge.
func (r *Registry) RelayConnClosed() {
	r.RelayConnections.Dec()
}

// RecordRelayFrame counts one inbound frame by op.
func (r *Registry) RecordRelayFrame(op string) {
	r.RelayFrames.WithLabelValues(op).Inc()
}

// SetRelayTopics sets the number of topics with subscribers.
func (r *Registry) SetRelayTopics(n int) {
	r.RelayTopics.Set(float64(n))
}

// RecordRequest counts one HTTP request.
func (r *Registry) RecordRequest(method, path, status string) {
	r.RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// ObserveRequestDuration records HTTP request latency in seconds.
func (r *Registry) ObserveRequestDuration(method, path string, seconds float64) {
	r.RequestDuration.WithLabelValues(method, path).Observe(seconds)
}
