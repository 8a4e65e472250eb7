// Package logger provides structured logging for ShareMesh.
//
// The logger wraps log/slog:
//
//   - logger.go: handler construction, dynamic level and the global default
//   - context.go: context propagation of loggers, request and connection ids
//   - redact.go: sensitive attribute masking
//
// Storage backends and the bus implementations take a plain *slog.Logger;
// use Slog to obtain one that shares the same handler and level.
package logger
