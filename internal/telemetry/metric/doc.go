// Package metric provides Prometheus metrics for ShareMesh.
//
// Metrics include:
//
//   - Handle lifecycle gauges and protocol event counters per group key
//   - Persistence failure counters
//   - Relay connection gauge, frame counters and HTTP request latency
//
// Metrics are exposed at /metrics in Prometheus format by the relay.
package metric
