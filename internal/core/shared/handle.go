package shared

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yndnr/sharemesh-go/internal/bus"
	"github.com/yndnr/sharemesh-go/internal/storage"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
	"github.com/yndnr/sharemesh-go/pkg/reactive"
)

// effect is work queued during a turn and run after the turn's lock is
// released.
type effect func(ctx context.Context) error

// Handle is one window's view of a shared value.
type Handle[T any] struct {
	id  string
	key string

	bus     bus.Bus
	store   storage.Store
	log     logger.Logger
	debug   bool
	hooks   Hooks[T]
	metrics Metrics
	clock   func() time.Time
	timeout time.Duration

	value *reactive.Cell[T]
	sends sendQueue

	// mu serializes event turns and guards the fields below.
	mu             sync.Mutex
	pending        []effect
	initial        T
	hasInitial     bool
	applyingRemote bool
	destroyed      bool
	unsubscribes   []func()

	synced      atomic.Bool
	lastUpdated atomic.Int64 // Unix nanoseconds, 0 until the first update
}

// New creates a handle, joins the group on b and requests the current value
// from live peers. With the in-process bus the handshake completes before
// New returns; with other buses IsSynced turns true once a peer answers.
//
// A store read error other than storage.ErrKeyNotFound fails construction
// with ErrStoreRead.
func New[T any](ctx context.Context, b bus.Bus, opts ...Option[T]) (*Handle[T], error) {
	o := defaultOptions[T]()
	for _, opt := range opts {
		opt(&o)
	}
	if o.key == "" {
		return nil, ErrInvalidKey
	}
	if o.log == nil {
		o.log = logger.Default()
	}

	h := &Handle[T]{
		id:         NewID(),
		key:        o.key,
		bus:        b,
		store:      o.store,
		debug:      o.debug,
		hooks:      o.hooks,
		metrics:    o.metrics,
		clock:      o.clock,
		timeout:    o.timeout,
		value:      reactive.New[T](),
		initial:    o.initial,
		hasInitial: o.hasInitial,
	}
	h.log = o.log.With("key", h.key, "handle", h.id)

	if o.hasInitial {
		h.value.Set(o.initial)
	}

	if h.store != nil {
		if err := h.loadStored(ctx); err != nil {
			return nil, err
		}
	}

	subs := []struct {
		topic string
		once  bool
		fn    bus.Handler
	}{
		{UpdateTopic(h.key), false, h.onUpdate},
		{RequestTopic(h.key), false, h.onSyncRequest},
		{ResponseTopic(h.key, h.id), true, h.onSyncResponse},
	}
	for _, s := range subs {
		var (
			unsub bus.Unsubscribe
			err   error
		)
		if s.once {
			unsub, err = b.SubscribeOnce(ctx, s.topic, s.fn)
		} else {
			unsub, err = b.Subscribe(ctx, s.topic, s.fn)
		}
		if err != nil {
			h.release()
			return nil, ErrSubscribe.WithCause(err)
		}
		h.unsubscribes = append(h.unsubscribes, unsub)
	}

	h.unsubscribes = append(h.unsubscribes, h.value.Watch(h.onLocalChange))
	h.metrics.HandleOpened(h.key)

	req, err := encodeEnvelope(Envelope[T]{ID: h.id})
	if err != nil {
		h.Destroy()
		return nil, err
	}
	if err := b.Publish(ctx, RequestTopic(h.key), req); err != nil {
		h.Destroy()
		return nil, ErrPublish.WithCause(err)
	}
	h.metrics.HandleEvent(h.key, EventSyncRequested)
	h.trace("sync requested")

	return h, nil
}

// loadStored overwrites the value with the stored one, if any.
func (h *Handle[T]) loadStored(ctx context.Context) error {
	raw, err := h.store.Get(ctx, h.key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return ErrStoreRead.WithCause(err)
	}

	v, err := decodeValue[T](raw)
	if err != nil {
		h.log.Warn("ignoring undecodable stored value", "error", err)
		return nil
	}
	h.value.Set(v)
	h.trace("loaded value from store")
	return nil
}

// ID returns the handle's instance id.
func (h *Handle[T]) ID() string { return h.id }

// Key returns the group key.
func (h *Handle[T]) Key() string { return h.key }

// Get returns the current value and whether it is defined.
func (h *Handle[T]) Get() (T, bool) {
	return h.value.Get()
}

// IsSynced reports whether a sync response from another handle was applied.
func (h *Handle[T]) IsSynced() bool {
	return h.synced.Load()
}

// LastUpdated returns the time of the last applied or sent update, or the
// zero time if there was none.
func (h *Handle[T]) LastUpdated() time.Time {
	ns := h.lastUpdated.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// InitialData returns the value Reset restores and whether one is recorded.
func (h *Handle[T]) InitialData() (T, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.initial, h.hasInitial
}

// Set writes v locally. A changed value is broadcast to the group; the
// returned error reports publish failures. A value that encodes to JSON null
// is indistinguishable from an undefined one on the wire and stays local.
func (h *Handle[T]) Set(ctx context.Context, v T) error {
	return h.turn(ctx, func() {
		h.value.Set(v)
	})
}

// Update replaces the value with fn(current). fn runs while the handle is
// locked and must not call back into the handle.
func (h *Handle[T]) Update(ctx context.Context, fn func(T) T) error {
	return h.turn(ctx, func() {
		cur, _ := h.value.Get()
		h.value.Set(fn(cur))
	})
}

// Reset restores the initial value. It is a no-op when none was recorded.
func (h *Handle[T]) Reset(ctx context.Context) error {
	return h.turn(ctx, func() {
		if !h.hasInitial {
			return
		}
		h.value.Set(h.initial)
	})
}

// Sync broadcasts the current value. It is a no-op while the value is
// undefined. Local writes call it implicitly.
func (h *Handle[T]) Sync(ctx context.Context) error {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return ErrDestroyed
	}
	v, ok := h.value.Get()
	if !ok {
		h.mu.Unlock()
		return nil
	}
	send, err := h.prepareBroadcast(v)
	h.mu.Unlock()

	if err != nil || send == nil {
		return err
	}
	return send(ctx)
}

// Watch registers fn to run after every change of the value, local or
// remote. fn runs outside the handle lock and may use the handle. Watchers
// keep firing after Destroy.
func (h *Handle[T]) Watch(fn func(newV, oldV T)) func() {
	return h.value.Watch(func(newV, oldV T) {
		// Every cell write happens inside a turn, so h.mu is held here.
		h.pending = append(h.pending, func(context.Context) error {
			fn(newV, oldV)
			return nil
		})
	})
}

// Destroy leaves the group. The value stays readable and writable locally.
// Calling Destroy again has no effect.
func (h *Handle[T]) Destroy() {
	h.mu.Lock()
	if h.destroyed {
		h.mu.Unlock()
		return
	}
	h.destroyed = true
	h.mu.Unlock()

	h.release()
	h.metrics.HandleClosed(h.key)
	h.trace("destroyed")
}

// release runs every unsubscribe callback in registration order.
func (h *Handle[T]) release() {
	h.mu.Lock()
	unsubs := h.unsubscribes
	h.unsubscribes = nil
	h.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

// turn runs fn under the handle lock, then the effects fn queued.
func (h *Handle[T]) turn(ctx context.Context, fn func()) error {
	h.mu.Lock()
	fn()
	effects := h.pending
	h.pending = nil
	h.mu.Unlock()

	var errs []error
	for _, e := range effects {
		if err := e(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// inboundTurn is turn for bus handlers: errors are logged, not returned.
func (h *Handle[T]) inboundTurn(event string, fn func()) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	if err := h.turn(ctx, fn); err != nil {
		h.log.Warn("handling inbound message failed", "event", event, "error", err)
	}
}

// onLocalChange observes the value cell. It runs inside a turn.
func (h *Handle[T]) onLocalChange(newV, _ T) {
	if h.applyingRemote {
		return
	}
	send, err := h.prepareBroadcast(newV)
	if err != nil {
		h.pending = append(h.pending, func(context.Context) error { return err })
		return
	}
	if send != nil {
		h.pending = append(h.pending, send)
	}
}

// prepareBroadcast encodes v and returns the effect that publishes it,
// persists it and fires UpdateSent. It returns a nil effect for values that
// encode to null. Caller holds h.mu, so broadcasts leave in write order.
func (h *Handle[T]) prepareBroadcast(v T) (effect, error) {
	raw, err := encodeValue(v)
	if err != nil {
		return nil, err
	}
	if isNull(raw) {
		return nil, nil
	}
	payload, err := encodeEnvelope(Envelope[T]{ID: h.id, Data: &v})
	if err != nil {
		return nil, err
	}

	ticket := h.sends.take()
	return func(ctx context.Context) error {
		err := h.sends.run(ticket, func() error {
			if err := h.bus.Publish(ctx, UpdateTopic(h.key), payload); err != nil {
				return ErrPublish.WithCause(err)
			}
			h.persist(ctx, raw)
			return nil
		})
		if err != nil {
			return err
		}
		h.touch()
		h.metrics.HandleEvent(h.key, EventUpdateSent)
		h.trace("update sent")
		if h.hooks.UpdateSent != nil {
			h.hooks.UpdateSent(v)
		}
		return nil
	}, nil
}

func (h *Handle[T]) onUpdate(payload []byte) {
	env, ok := decodeEnvelope[T](payload)
	if !ok || env.ID == h.id || env.Data == nil {
		h.drop("update", ok)
		return
	}
	data := *env.Data

	h.inboundTurn(EventUpdateReceived, func() {
		if h.destroyed {
			return
		}
		h.applyRemote(data)
		h.touch()
		h.pending = append(h.pending, func(context.Context) error {
			h.metrics.HandleEvent(h.key, EventUpdateReceived)
			h.trace("update received", "from", env.ID)
			if h.hooks.UpdateReceived != nil {
				h.hooks.UpdateReceived(data)
			}
			return nil
		})
	})
}

func (h *Handle[T]) onSyncRequest(payload []byte) {
	env, ok := decodeEnvelope[T](payload)
	if !ok || env.ID == h.id {
		h.drop("sync request", ok)
		return
	}

	h.inboundTurn(EventSyncSent, func() {
		if h.destroyed {
			return
		}
		v, defined := h.value.Get()
		if !defined {
			return
		}
		if raw, err := encodeValue(v); err == nil && isNull(raw) {
			return
		}

		resp := Envelope[T]{ID: h.id, Data: &v}
		if h.hasInitial {
			initial := h.initial
			resp.InitialData = &initial
		}
		out, err := encodeEnvelope(resp)
		if err != nil {
			h.pending = append(h.pending, func(context.Context) error { return err })
			return
		}

		h.pending = append(h.pending, func(ctx context.Context) error {
			if err := h.bus.Publish(ctx, ResponseTopic(h.key, env.ID), out); err != nil {
				return ErrPublish.WithCause(err)
			}
			h.metrics.HandleEvent(h.key, EventSyncSent)
			h.trace("sync sent", "to", env.ID)
			if h.hooks.SyncSent != nil {
				h.hooks.SyncSent(v)
			}
			return nil
		})
	})
}

func (h *Handle[T]) onSyncResponse(payload []byte) {
	env, ok := decodeEnvelope[T](payload)
	if !ok || env.ID == h.id || env.Data == nil {
		h.drop("sync response", ok)
		return
	}
	data := *env.Data

	h.inboundTurn(EventSyncReceived, func() {
		if h.destroyed || h.value.Equal(data) {
			return
		}

		h.applyRemote(data)
		if env.InitialData != nil {
			h.initial = *env.InitialData
			h.hasInitial = true
		}
		raw, err := encodeValue(data)

		h.touch()
		h.synced.Store(true)
		h.pending = append(h.pending, func(ctx context.Context) error {
			if err == nil {
				h.persist(ctx, raw)
			}
			h.metrics.HandleEvent(h.key, EventSyncReceived)
			h.trace("sync received", "from", env.ID)
			if h.hooks.SyncReceived != nil {
				h.hooks.SyncReceived(data)
			}
			return nil
		})
	})
}

// applyRemote writes a value received from another handle without
// broadcasting it. Caller holds h.mu.
func (h *Handle[T]) applyRemote(v T) {
	h.applyingRemote = true
	defer func() { h.applyingRemote = false }()
	h.value.Set(v)
}

// persist writes raw to the store. Failures never reach the caller.
func (h *Handle[T]) persist(ctx context.Context, raw []byte) {
	if h.store == nil {
		return
	}
	if err := h.store.Set(ctx, h.key, raw); err != nil {
		h.metrics.PersistFailed(h.key)
		h.trace("persist failed", "error", err)
	}
}

// isNull reports whether raw is the JSON null a receiver reads as no data.
func isNull(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (h *Handle[T]) touch() {
	h.lastUpdated.Store(h.clock().UnixNano())
}

// drop accounts for an ignored message. Own echoes and data-less messages
// are expected traffic; only undecodable payloads are counted.
func (h *Handle[T]) drop(kind string, decoded bool) {
	if decoded {
		return
	}
	h.metrics.HandleEvent(h.key, EventDropped)
	h.trace("dropped malformed message", "kind", kind)
}

func (h *Handle[T]) trace(msg string, args ...any) {
	if h.debug {
		h.log.Debug(msg, args...)
	}
}
