// Package output renders sharemesh CLI results.
//
//   - formatter.go: Formatter interface and factory
//   - table.go: aligned tables for humans
//   - json.go, yaml.go: machine-readable output
//   - spinner.go: progress animation while waiting for peers
package output
