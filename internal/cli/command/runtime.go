package command

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yndnr/sharemesh-go/internal/bus"
	"github.com/yndnr/sharemesh-go/internal/bus/memory"
	"github.com/yndnr/sharemesh-go/internal/bus/redisbus"
	"github.com/yndnr/sharemesh-go/internal/bus/wsbus"
	"github.com/yndnr/sharemesh-go/internal/cli/output"
	"github.com/yndnr/sharemesh-go/internal/config"
	"github.com/yndnr/sharemesh-go/internal/core/shared"
	"github.com/yndnr/sharemesh-go/internal/infra/tlsroots"
	"github.com/yndnr/sharemesh-go/internal/storage"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

// errNoStore is returned by store commands when storage.driver is none.
var errNoStore = errors.New("no storage configured (set storage.driver or --store)")

func (e *env) openBus(ctx context.Context) (bus.Bus, error) {
	slog := logger.Slog(e.log)
	switch e.cfg.Bus.Driver {
	case config.BusRedis:
		return redisbus.New(redisbus.Config{
			Addr:          e.cfg.Bus.RedisAddr,
			Password:      e.cfg.Bus.RedisPassword,
			DB:            e.cfg.Bus.RedisDB,
			ChannelPrefix: e.cfg.Bus.ChannelPrefix,
		}, slog)
	case config.BusWS:
		cfg := wsbus.Config{URL: e.cfg.Bus.RelayURL, ReconnectGiveUp: e.cfg.Bus.RelayReconnectTimeout}
		if e.cfg.Bus.RelayCAFile != "" {
			tlsCfg, err := tlsroots.ClientConfig(e.cfg.Bus.RelayCAFile)
			if err != nil {
				return nil, err
			}
			cfg.TLSConfig = tlsCfg
		}
		return wsbus.Dial(ctx, cfg, slog)
	default:
		return memory.New(), nil
	}
}

func (e *env) openStore() (storage.Store, error) {
	if !e.cfg.Storage.Enabled() {
		return nil, errNoStore
	}
	sc, err := e.cfg.Storage.StorageConfig()
	if err != nil {
		return nil, err
	}
	sc.Logger = logger.Slog(e.log)
	return storage.Open(sc)
}

// session is one handle joined to its group plus the resources it owns.
type session struct {
	handle *shared.Handle[any]
	bus    bus.Bus
	store  storage.Store
	synced chan struct{}
}

// join opens the bus and optional store and joins the configured group.
// hooks may be nil.
func (e *env) join(ctx context.Context, hooks *shared.Hooks[any]) (*session, error) {
	b, err := e.openBus(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{bus: b, synced: make(chan struct{})}

	opts := []shared.Option[any]{
		shared.WithKey[any](e.cfg.Node.Key),
		shared.WithDebug[any](e.cfg.Node.Debug),
		shared.WithLogger[any](e.log),
	}
	if e.cfg.Storage.Enabled() {
		if s.store, err = e.openStore(); err != nil {
			b.Close()
			return nil, err
		}
		opts = append(opts, shared.WithStore[any](s.store))
	}

	var h shared.Hooks[any]
	if hooks != nil {
		h = *hooks
	}
	var once sync.Once
	next := h.SyncReceived
	h.SyncReceived = func(v any) {
		once.Do(func() { close(s.synced) })
		if next != nil {
			next(v)
		}
	}
	opts = append(opts, shared.WithHooks(h))

	s.handle, err = shared.New(ctx, b, opts...)
	if err != nil {
		s.closeResources()
		return nil, err
	}
	return s, nil
}

// waitSynced waits for a peer to answer the join request. It returns false
// when nobody answered within the timeout, which is not an error: the
// handle then holds local state only.
func (e *env) waitSynced(ctx context.Context, s *session) bool {
	if s.handle.IsSynced() {
		return true
	}
	// The in-process bus has no peers outside this command.
	if e.cfg.Bus.Driver == config.BusMemory || e.cfg.Node.SyncTimeout <= 0 {
		return false
	}

	var spin *output.Spinner
	if !e.quiet {
		spin = output.NewSpinner(e.errOut, fmt.Sprintf("waiting for peers of %q", e.cfg.Node.Key))
		spin.Start()
		defer spin.Stop()
	}

	timer := time.NewTimer(e.cfg.Node.SyncTimeout)
	defer timer.Stop()
	select {
	case <-s.synced:
		return true
	case <-timer.C:
		e.log.Debug("no peer answered", "key", e.cfg.Node.Key, "timeout", e.cfg.Node.SyncTimeout)
		return false
	case <-ctx.Done():
		return false
	}
}

// close leaves the group and releases the bus and store.
func (s *session) close() error {
	s.handle.Destroy()
	return s.closeResources()
}

func (s *session) closeResources() error {
	var errs []error
	if err := s.bus.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bus: %w", err))
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	return errors.Join(errs...)
}
