// Package buildinfo exposes build-time information for the sharemesh
// binaries.
//
// Values are injected with ldflags:
//
//	go build -ldflags "-X github.com/yndnr/sharemesh-go/internal/infra/buildinfo.Version=v1.0.0"
//
// When Commit or GoVersion are not injected they are read from the module
// build information embedded by the Go toolchain.
package buildinfo
