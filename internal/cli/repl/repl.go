package repl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
)

// ErrExit ends Run without an error when returned by a Command.
var ErrExit = errors.New("repl: exit")

// Command is one shell command.
type Command struct {
	Name  string
	Args  string // usage of the arguments, for help
	Usage string
	Run   func(args []string) error
}

// REPL represents the Read-Eval-Print Loop.
type REPL struct {
	input     io.Reader
	output    io.Writer
	prompt    string
	commands  map[string]Command
	completer *Completer
	history   *History
}

// Option configures a REPL.
type Option func(*REPL)

// WithPrompt sets the prompt printed before each line.
func WithPrompt(p string) Option {
	return func(r *REPL) { r.prompt = p }
}

// WithHistory records lines in h.
func WithHistory(h *History) Option {
	return func(r *REPL) { r.history = h }
}

// New creates a REPL reading from in and writing to out.
func New(in io.Reader, out io.Writer, commands []Command, opts ...Option) *REPL {
	r := &REPL{
		input:    in,
		output:   out,
		prompt:   "> ",
		commands: make(map[string]Command, len(commands)),
		history:  NewHistory(""),
	}
	for _, opt := range opts {
		opt(r)
	}

	names := []string{"help", "history", "exit", "quit"}
	for _, c := range commands {
		r.commands[c.Name] = c
		names = append(names, c.Name)
	}
	r.completer = NewCompleter(names)
	return r
}

// Run reads lines until EOF, exit or quit.
func (r *REPL) Run() error {
	reader := bufio.NewReader(r.input)

	for {
		fmt.Fprint(r.output, r.prompt)

		// The last line may lack a newline.
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		eof := err != nil

		if line = strings.TrimSpace(line); line != "" {
			r.history.Add(line)
			if err := r.execute(line); err != nil {
				if errors.Is(err, ErrExit) {
					return nil
				}
				fmt.Fprintf(r.output, "Error: %v\n", err)
			}
		}
		if eof {
			fmt.Fprintln(r.output)
			return nil
		}
	}
}

func (r *REPL) execute(line string) error {
	fields := strings.Fields(line)
	name, args := fields[0], fields[1:]

	switch name {
	case "exit", "quit":
		return ErrExit
	case "help":
		r.help()
		return nil
	case "history":
		for i, entry := range r.history.Entries() {
			fmt.Fprintf(r.output, "%4d  %s\n", i+1, entry)
		}
		return nil
	}

	cmd, ok := r.commands[name]
	if !ok {
		if s := r.completer.Complete(name); len(s) > 0 {
			return fmt.Errorf("unknown command %q (did you mean %s?)", name, strings.Join(s, ", "))
		}
		return fmt.Errorf("unknown command %q (type help)", name)
	}
	return cmd.Run(args)
}

func (r *REPL) help() {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := r.commands[name]
		fmt.Fprintf(r.output, "  %-22s %s\n", strings.TrimSpace(c.Name+" "+c.Args), c.Usage)
	}
	fmt.Fprintf(r.output, "  %-22s %s\n", "history", "show entered lines")
	fmt.Fprintf(r.output, "  %-22s %s\n", "exit", "leave the shell")
}
