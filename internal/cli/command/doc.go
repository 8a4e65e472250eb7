// Package command defines the sharemesh CLI using urfave/cli/v2.
//
//   - root.go: application, global flags, configuration loading
//   - runtime.go: bus, store and handle construction from configuration
//   - value.go: get, set and watch on a shared value
//   - store.go: direct access to the persistence backend
//   - config.go, version.go: diagnostics
//
// Values are JSON documents. A command that joins a group waits up to
// node.sync_timeout for a peer to answer before using local state.
package command
