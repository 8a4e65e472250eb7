package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/yndnr/sharemesh-go/internal/config"
	"github.com/yndnr/sharemesh-go/internal/infra/buildinfo"
	"github.com/yndnr/sharemesh-go/internal/infra/confloader"
	"github.com/yndnr/sharemesh-go/internal/infra/shutdown"
	"github.com/yndnr/sharemesh-go/internal/infra/tlsroots"
	"github.com/yndnr/sharemesh-go/internal/server/relay"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
	"github.com/yndnr/sharemesh-go/internal/telemetry/metric"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configFile  = flag.String("config", os.Getenv("SHAREMESH_CONFIG"), "Path to configuration file")
		addr        = flag.String("addr", "", "Listen address (overrides relay.addr)")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("sharemesh-relay %s\n", buildinfo.String())
		return nil
	}

	overrides := map[string]any{}
	if *addr != "" {
		overrides["relay.addr"] = *addr
	}
	cfg, err := config.Load(*configFile, overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting sharemesh-relay",
		"version", info.Version,
		"commit", info.Commit,
		"config", *configFile)

	opts := []relay.Option{
		relay.WithLogger(log),
		relay.WithVersion(info.Version),
	}
	if cfg.Relay.Metrics {
		reg := metric.NewRegistry()
		opts = append(opts, relay.WithMetrics(reg, reg.Handler()))
	}
	shutdownHandler := shutdown.NewHandler(30 * time.Second).WithLogger(logger.Slog(log))

	relayCfg := relayConfig(cfg.Relay)
	if cfg.Relay.TLSCertFile != "" {
		kp, err := tlsroots.LoadKeyPair(cfg.Relay.TLSCertFile, cfg.Relay.TLSKeyFile,
			tlsroots.WithLogger(logger.Slog(log)))
		if err != nil {
			return err
		}
		if err := kp.Watch(); err != nil {
			log.Warn("certificate reload disabled", "error", err)
		}
		shutdownHandler.OnShutdown("certificate-watcher", func(context.Context) error {
			return kp.Stop()
		})
		relayCfg.TLSConfig = kp.ServerConfig()
	}
	srv := relay.New(relayCfg, opts...)

	shutdownHandler.OnShutdown("relay", func(ctx context.Context) error {
		log.Info("shutting down relay")
		return srv.Shutdown(ctx)
	})

	if *configFile != "" {
		watcher, err := watchLogLevel(*configFile, overrides, log)
		if err != nil {
			log.Warn("config watch disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("config-watcher", func(context.Context) error {
				return watcher.Stop()
			})
		}
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Error("relay server error", "error", err)
			shutdownHandler.Trigger()
		}
	}()

	if err := shutdownHandler.Wait(context.Background()); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}

	log.Info("relay stopped")
	return nil
}

func relayConfig(s config.RelaySection) relay.Config {
	return relay.Config{
		Addr:           s.Addr,
		AllowedOrigins: s.AllowedOrigins,
		MaxMessageSize: s.MaxMessageSize,
		SendBuffer:     s.SendBuffer,
		WriteTimeout:   s.WriteTimeout,
		PongTimeout:    s.PongTimeout,
		FrameRate:      s.FrameRate,
		FrameBurst:     s.FrameBurst,
	}
}

// watchLogLevel applies log.level edits without a restart. Other settings
// need one.
func watchLogLevel(path string, overrides map[string]any, log logger.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(logger.Slog(log)))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := config.Load(path, overrides)
		if err != nil {
			log.Warn("config reload failed", "error", err)
			return
		}
		if cfg.Log.Level != logger.GetLevel() {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "level", cfg.Log.Level)
		}
	})
	w.StartAsync()
	return w, nil
}
