package command

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/sharemesh-go/internal/storage"
)

// storeEntry is one persisted value. Handles persist the JSON encoding of
// their value under the group key.
type storeEntry struct {
	Key   string `json:"key" yaml:"key"`
	Value any    `json:"value" yaml:"value"`
}

func entryOf(key string, raw []byte) storeEntry {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		// Written by something other than a handle.
		v = string(raw)
	}
	return storeEntry{Key: key, Value: v}
}

// StoreCommand returns the store command group.
func StoreCommand() *cli.Command {
	return &cli.Command{
		Name:  "store",
		Usage: "Read and edit persisted values without joining a group",
		Subcommands: []*cli.Command{
			storeGetCommand(),
			storeSetCommand(),
			storeDeleteCommand(),
			storeListCommand(),
		},
	}
}

// withStore opens the configured store for the duration of fn.
func withStore(c *cli.Context, fn func(e *env, st storage.Store) error) (err error) {
	e := envFrom(c)
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := st.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	return fn(e, st)
}

func storeGetCommand() *cli.Command {
	return &cli.Command{
		Name:      "get",
		Usage:     "Print the persisted value of a key",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one KEY argument")
			}
			key := c.Args().First()
			return withStore(c, func(e *env, st storage.Store) error {
				raw, err := st.Get(c.Context, key)
				if errors.Is(err, storage.ErrKeyNotFound) {
					return fmt.Errorf("key %q not found", key)
				}
				if err != nil {
					return err
				}
				return e.print(entryOf(key, raw))
			})
		},
	}
}

func storeSetCommand() *cli.Command {
	return &cli.Command{
		Name:      "set",
		Usage:     "Persist a value for a key (read by handles when they start)",
		ArgsUsage: "KEY VALUE",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return fmt.Errorf("expected KEY and VALUE arguments")
			}
			key := c.Args().Get(0)
			raw, err := json.Marshal(parseValue(c.Args().Get(1)))
			if err != nil {
				return err
			}
			return withStore(c, func(e *env, st storage.Store) error {
				if err := st.Set(c.Context, key, raw); err != nil {
					return err
				}
				return e.print(entryOf(key, raw))
			})
		},
	}
}

func storeDeleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Aliases:   []string{"rm"},
		Usage:     "Remove the persisted value of a key",
		ArgsUsage: "KEY",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("expected exactly one KEY argument")
			}
			key := c.Args().First()
			return withStore(c, func(e *env, st storage.Store) error {
				if err := st.Delete(c.Context, key); err != nil {
					return err
				}
				if !e.quiet {
					fmt.Fprintf(e.errOut, "deleted %s\n", key)
				}
				return nil
			})
		},
	}
}

func storeListCommand() *cli.Command {
	return &cli.Command{
		Name:      "list",
		Aliases:   []string{"ls"},
		Usage:     "List persisted values, optionally filtered by key prefix",
		ArgsUsage: "[PREFIX]",
		Action: func(c *cli.Context) error {
			prefix := c.Args().First()
			return withStore(c, func(e *env, st storage.Store) error {
				entries := []storeEntry{}
				err := st.Scan(c.Context, prefix, func(key string, value []byte) bool {
					entries = append(entries, entryOf(key, value))
					return true
				})
				if err != nil {
					return err
				}
				return e.print(entries)
			})
		},
	}
}
