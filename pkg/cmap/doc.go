// Package cmap provides a concurrent string-keyed map.
//
// Keys are spread over power-of-two shards by murmur3, each guarded by its
// own RWMutex. It backs the in-memory store, where many windows write
// different group keys at once.
//
// Usage:
//
//	m := cmap.New[[]byte]()
//	m.Set("user", raw)
//	raw, ok := m.Get("user")
package cmap
