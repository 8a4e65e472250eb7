package command

import (
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sharemesh-go/internal/cli/output"
	"github.com/yndnr/sharemesh-go/internal/config"
	"github.com/yndnr/sharemesh-go/internal/infra/buildinfo"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

const metaEnv = "env"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:     "sharemesh",
		Usage:    "Inspect and edit values shared between application windows",
		Version:  buildinfo.String(),
		Flags:    globalFlags(),
		Metadata: make(map[string]any),
		Commands: []*cli.Command{
			GetCommand(),
			SetCommand(),
			WatchCommand(),
			ShellCommand(),
			StoreCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Before: setup,
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "configuration file (YAML)",
			EnvVars: []string{"SHAREMESH_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "key",
			Aliases: []string{"k"},
			Usage:   "sync group key",
		},
		&cli.StringFlag{
			Name:  "bus",
			Usage: "bus driver: memory, redis, ws",
		},
		&cli.StringFlag{
			Name:  "relay-url",
			Usage: "relay WebSocket URL (ws bus)",
		},
		&cli.StringFlag{
			Name:  "redis-addr",
			Usage: "Redis address (redis bus)",
		},
		&cli.StringFlag{
			Name:  "store",
			Usage: "storage driver: none, memory, badger, bolt, sqlite, redis",
		},
		&cli.StringFlag{
			Name:  "store-path",
			Usage: "storage directory or file",
		},
		&cli.DurationFlag{
			Name:  "sync-timeout",
			Usage: "how long to wait for a peer to answer the join request",
		},
		&cli.BoolFlag{
			Name:  "debug",
			Usage: "trace protocol events",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "log level: debug, info, warn, error",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "output format: table, json, yaml",
			Value:   "table",
		},
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "no progress output",
		},
	}
}

// flagKeys maps global flags onto configuration keys.
var flagKeys = map[string]string{
	"key":          "node.key",
	"debug":        "node.debug",
	"sync-timeout": "node.sync_timeout",
	"bus":          "bus.driver",
	"relay-url":    "bus.relay_url",
	"redis-addr":   "bus.redis_addr",
	"store":        "storage.driver",
	"store-path":   "storage.path",
	"log-level":    "log.level",
}

// env is the per-invocation state shared by commands.
type env struct {
	cfg    *config.Config
	log    logger.Logger
	format output.Format
	out    io.Writer
	errOut io.Writer
	quiet  bool
}

func setup(c *cli.Context) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return err
	}

	overrides := make(map[string]any)
	for flag, key := range flagKeys {
		if c.IsSet(flag) {
			overrides[key] = c.Value(flag)
		}
	}
	if c.Bool("debug") && !c.IsSet("log-level") {
		overrides["log.level"] = "debug"
	}

	cfg, err := config.Load(c.String("config"), overrides)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: c.App.ErrWriter,
	})
	if err != nil {
		return err
	}

	c.App.Metadata[metaEnv] = &env{
		cfg:    cfg,
		log:    log,
		format: format,
		out:    c.App.Writer,
		errOut: c.App.ErrWriter,
		quiet:  c.Bool("quiet"),
	}
	return nil
}

func envFrom(c *cli.Context) *env {
	e, ok := c.App.Metadata[metaEnv].(*env)
	if !ok {
		panic("command: setup did not run")
	}
	return e
}

func (e *env) print(data any) error {
	return e.printTo(e.out, data)
}

func (e *env) printTo(w io.Writer, data any) error {
	return output.NewFormatter(e.format).Format(w, data)
}
