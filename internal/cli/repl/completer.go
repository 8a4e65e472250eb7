package repl

import (
	"sort"
	"strings"
)

// Completer suggests command names for a prefix.
type Completer struct {
	commands []string
}

// NewCompleter creates a Completer over names.
func NewCompleter(names []string) *Completer {
	commands := append([]string(nil), names...)
	sort.Strings(commands)
	return &Completer{commands: commands}
}

// Complete returns the commands starting with prefix, in order. An empty
// prefix matches nothing.
func (c *Completer) Complete(prefix string) []string {
	if prefix == "" {
		return nil
	}
	var suggestions []string
	for _, cmd := range c.commands {
		if strings.HasPrefix(cmd, prefix) && cmd != prefix {
			suggestions = append(suggestions, cmd)
		}
	}
	return suggestions
}
