package command

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sharemesh-go/internal/core/shared"
	"github.com/yndnr/sharemesh-go/internal/infra/shutdown"
	"github.com/yndnr/sharemesh-go/internal/telemetry/logger"
)

// valueView is the printed state of a handle.
type valueView struct {
	Key         string    `json:"key" yaml:"key"`
	Value       any       `json:"value" yaml:"value"`
	Defined     bool      `json:"defined" yaml:"defined"`
	Synced      bool      `json:"synced" yaml:"synced"`
	Handle      string    `json:"handle" yaml:"handle"`
	LastUpdated time.Time `json:"last_updated" yaml:"last_updated"`
}

func viewOf(h *shared.Handle[any]) valueView {
	v, ok := h.Get()
	return valueView{
		Key:         h.Key(),
		Value:       v,
		Defined:     ok,
		Synced:      h.IsSynced(),
		Handle:      h.ID(),
		LastUpdated: h.LastUpdated(),
	}
}

// eventView is one change printed by watch.
type eventView struct {
	Key   string    `json:"key" yaml:"key"`
	Value any       `json:"value" yaml:"value"`
	At    time.Time `json:"at" yaml:"at"`
}

// parseValue reads a command line value as JSON, falling back to the raw
// string so that `set hello` works without quoting.
func parseValue(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}

// GetCommand returns the get command.
func GetCommand() *cli.Command {
	return &cli.Command{
		Name:  "get",
		Usage: "Join the group and print its current value",
		Action: func(c *cli.Context) error {
			e := envFrom(c)
			s, err := e.join(c.Context, nil)
			if err != nil {
				return err
			}
			defer s.close()

			e.waitSynced(c.Context, s)
			return e.print(viewOf(s.handle))
		},
	}
}

// SetCommand returns the set command.
func SetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Join the group and broadcast a new value",
		ArgsUsage: "VALUE",
		Description: `VALUE is parsed as JSON; anything that is not valid JSON is sent as a string.

   sharemesh set '{"name":"Waradu"}'
   sharemesh set hello`,
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one VALUE argument")
			}
			e := envFrom(c)
			s, err := e.join(c.Context, nil)
			if err != nil {
				return err
			}
			defer s.close()

			// A late sync response would overwrite the new value.
			e.waitSynced(c.Context, s)
			if err := s.handle.Set(c.Context, parseValue(c.Args().First())); err != nil {
				return err
			}
			return e.print(viewOf(s.handle))
		},
	}
}

// WatchCommand returns the watch command.
func WatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Join the group and print every change until interrupted",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "count",
				Usage: "exit after this many changes (0 = unlimited)",
			},
			&cli.BoolFlag{
				Name:  "current",
				Usage: "print the current value before the first change",
				Value: true,
			},
		},
		Action: func(c *cli.Context) error {
			return runWatch(c, envFrom(c))
		},
	}
}

func runWatch(c *cli.Context, e *env) error {
	limit := c.Int("count")
	sd := shutdown.NewHandler(5 * time.Second).WithLogger(logger.Slog(e.log))

	var (
		mu   sync.Mutex
		seen int
	)
	emit := func(v any) {
		mu.Lock()
		defer mu.Unlock()
		if limit > 0 && seen >= limit {
			return
		}
		seen++
		if err := e.print(eventView{Key: e.cfg.Node.Key, Value: v, At: time.Now()}); err != nil {
			e.log.Warn("print event", "error", err)
		}
		if limit > 0 && seen >= limit {
			sd.Trigger()
		}
	}

	s, err := e.join(c.Context, nil)
	if err != nil {
		return err
	}
	sd.OnShutdown("session", func(context.Context) error {
		return s.close()
	})

	e.waitSynced(c.Context, s)
	if _, ok := s.handle.Get(); ok && c.Bool("current") {
		if err := e.print(viewOf(s.handle)); err != nil {
			s.close()
			return err
		}
	}
	stop := s.handle.Watch(func(newV, _ any) { emit(newV) })
	sd.OnShutdown("watch", func(context.Context) error {
		stop()
		return nil
	})

	e.log.Debug("watching", "key", e.cfg.Node.Key, "handle", s.handle.ID())
	return sd.Wait(c.Context)
}
