package storage

import (
	"context"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/yndnr/sharemesh-go/pkg/cmap"
)

// MemoryStore keeps values in a sharded in-process map.
// Values are copied on the way in and out.
type MemoryStore struct {
	items  *cmap.Map[[]byte]
	closed atomic.Bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: cmap.New[[]byte]()}
}

// Get retrieves a value by key.
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	v, ok := s.items.Get(key)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return clone(v), nil
}

// Set stores a key-value pair.
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.items.Set(key, clone(value))
	return nil
}

// Delete removes a key.
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	s.items.Delete(key)
	return nil
}

// Scan iterates over keys with a given prefix in lexical order.
func (s *MemoryStore) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) bool) error {
	if s.closed.Load() {
		return ErrClosed
	}

	keys := make([]string, 0)
	for _, k := range s.items.Keys() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		v, ok := s.items.Get(k)
		if !ok {
			continue
		}
		if !fn(k, clone(v)) {
			break
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (s *MemoryStore) Len() int {
	return s.items.Count()
}

// Close marks the store closed and drops its contents.
func (s *MemoryStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.items.Clear()
	return nil
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
