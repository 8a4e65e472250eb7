package shared

import (
	"time"

	"github.com/yndnr/sharemesh-go/internal/storage"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

// Hooks are optional callbacks invoked after protocol events.
type Hooks[T any] struct {
	// UpdateSent runs after a local change was broadcast.
	UpdateSent func(value T)
	// UpdateReceived runs after an update from another handle was applied.
	UpdateReceived func(value T)
	// SyncSent runs after this handle answered a sync request.
	SyncSent func(value T)
	// SyncReceived runs after a sync response was applied.
	SyncReceived func(value T)
}

// Metrics receives handle events. metric.Registry implements it.
type Metrics interface {
	HandleOpened(key string)
	HandleClosed(key string)
	HandleEvent(key, event string)
	PersistFailed(key string)
}

// Event names reported to Metrics.
const (
	EventUpdateSent     = "update_sent"
	EventUpdateReceived = "update_received"
	EventSyncRequested  = "sync_requested"
	EventSyncSent       = "sync_sent"
	EventSyncReceived   = "sync_received"
	EventDropped        = "dropped"
)

type nopMetrics struct{}

func (nopMetrics) HandleOpened(string) {}
func (nopMetrics) HandleClosed(string) {}
func (nopMetrics) HandleEvent(string, string) {}
func (nopMetrics) PersistFailed(string) {}

const defaultTimeout = 5 * time.Second

type options[T any] struct {
	key        string
	initial    T
	hasInitial bool
	debug      bool
	hooks      Hooks[T]
	store      storage.Store
	log        logger.Logger
	metrics    Metrics
	clock      func() time.Time
	timeout    time.Duration
}

func defaultOptions[T any]() options[T] {
	return options[T]{
		key:     DefaultKey,
		metrics: nopMetrics{},
		clock:   time.Now,
		timeout: defaultTimeout,
	}
}

// Option configures a Handle.
type Option[T any] func(*options[T])

// WithKey sets the group key. Handles only sync with handles of the same key.
func WithKey[T any](key string) Option[T] {
	return func(o *options[T]) {
		o.key = key
	}
}

// WithInitialData sets the starting value, also recorded for Reset.
func WithInitialData[T any](v T) Option[T] {
	return func(o *options[T]) {
		o.initial = v
		o.hasInitial = true
	}
}

// WithDebug enables protocol trace logging at debug level.
func WithDebug[T any](debug bool) Option[T] {
	return func(o *options[T]) {
		o.debug = debug
	}
}

// WithHooks sets event callbacks.
func WithHooks[T any](h Hooks[T]) Option[T] {
	return func(o *options[T]) {
		o.hooks = h
	}
}

// WithStore persists the value under the group key.
func WithStore[T any](s storage.Store) Option[T] {
	return func(o *options[T]) {
		o.store = s
	}
}

// WithLogger sets the logger. Defaults to logger.Default().
func WithLogger[T any](l logger.Logger) Option[T] {
	return func(o *options[T]) {
		o.log = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics[T any](m Metrics) Option[T] {
	if m == nil {
		m = nopMetrics{}
	}
	return func(o *options[T]) {
		o.metrics = m
	}
}

// WithClock overrides time.Now for LastUpdated.
func WithClock[T any](now func() time.Time) Option[T] {
	return func(o *options[T]) {
		if now != nil {
			o.clock = now
		}
	}
}

// WithTimeout bounds bus and store calls made while handling inbound
// messages. Default: 5s.
func WithTimeout[T any](d time.Duration) Option[T] {
	return func(o *options[T]) {
		if d > 0 {
			o.timeout = d
		}
	}
}
