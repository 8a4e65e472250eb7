package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sharemesh-go/internal/cli/repl"
)

// ShellCommand returns the shell command.
func ShellCommand() *cli.Command {
	return &cli.Command{
		Name:  "shell",
		Usage: "Keep one handle open and drive it interactively",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "no-history",
				Usage: "do not read or write ~/.sharemesh/history",
			},
		},
		Action: func(c *cli.Context) error {
			e := envFrom(c)
			s, err := e.join(c.Context, nil)
			if err != nil {
				return err
			}
			defer s.close()
			e.waitSynced(c.Context, s)

			history := repl.NewHistory(repl.DefaultHistoryFile())
			if c.Bool("no-history") {
				history = repl.NewHistory("")
			}
			if err := history.Load(); err != nil {
				e.log.Warn("load shell history", "error", err)
			}
			defer func() {
				if err := history.Save(); err != nil {
					e.log.Warn("save shell history", "error", err)
				}
			}()

			sh := newShell(c, e, s, c.App.Reader)
			return sh.Run(history)
		},
	}
}

// syncWriter serializes writes from the prompt loop and from change
// notifications delivered on bus goroutines.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

type shell struct {
	c        *cli.Context
	e        *env
	s        *session
	in       io.Reader
	out      *syncWriter
	watching atomic.Bool
}

func newShell(c *cli.Context, e *env, s *session, in io.Reader) *shell {
	sh := &shell{c: c, e: e, s: s, in: in, out: &syncWriter{w: e.out}}
	s.handle.Watch(func(newV, _ any) {
		if sh.watching.Load() {
			fmt.Fprintf(sh.out, "\n~ %s\n", compactJSON(newV))
		}
	})
	return sh
}

func (sh *shell) Run(history *repl.History) error {
	r := repl.New(sh.in, sh.out, sh.commands(),
		repl.WithPrompt(sh.e.cfg.Node.Key+"> "),
		repl.WithHistory(history),
	)
	return r.Run()
}

func (sh *shell) commands() []repl.Command {
	h := sh.s.handle
	ctx := sh.c.Context
	return []repl.Command{
		{Name: "get", Usage: "print the current value", Run: func([]string) error {
			v, ok := h.Get()
			if !ok {
				fmt.Fprintln(sh.out, "(undefined)")
				return nil
			}
			fmt.Fprintln(sh.out, compactJSON(v))
			return nil
		}},
		{Name: "set", Args: "VALUE", Usage: "set and broadcast a value (JSON or text)", Run: func(args []string) error {
			if len(args) == 0 {
				return errors.New("usage: set VALUE")
			}
			return h.Set(ctx, parseValue(strings.Join(args, " ")))
		}},
		{Name: "reset", Usage: "restore the initial value", Run: func([]string) error {
			if _, ok := h.InitialData(); !ok {
				return errors.New("no initial value recorded")
			}
			return h.Reset(ctx)
		}},
		{Name: "sync", Usage: "broadcast the current value again", Run: func([]string) error {
			return h.Sync(ctx)
		}},
		{Name: "info", Usage: "print handle state", Run: func([]string) error {
			return sh.e.printTo(sh.out, viewOf(h))
		}},
		{Name: "watch", Args: "[on|off]", Usage: "print changes as they happen", Run: func(args []string) error {
			on := !sh.watching.Load()
			if len(args) > 0 {
				switch args[0] {
				case "on":
					on = true
				case "off":
					on = false
				default:
					return errors.New("usage: watch [on|off]")
				}
			}
			sh.watching.Store(on)
			fmt.Fprintf(sh.out, "watch %s\n", map[bool]string{true: "on", false: "off"}[on])
			return nil
		}},
		{Name: "leave", Usage: "stop syncing; the value stays local", Run: func([]string) error {
			h.Destroy()
			fmt.Fprintln(sh.out, "left group", h.Key())
			return nil
		}},
	}
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
