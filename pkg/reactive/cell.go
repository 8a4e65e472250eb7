package reactive

import (
	"reflect"
	"sync"
)

// WatchFunc is called with the new and previous value after a change.
// oldV is the zero value when the cell was previously undefined.
type WatchFunc[T any] func(newV, oldV T)

// EqualFunc reports whether two values are considered equal.
type EqualFunc[T any] func(a, b T) bool

// Cell is a concurrent-safe optional value with change notification.
type Cell[T any] struct {
	mu       sync.RWMutex
	value    T
	defined  bool
	equal    EqualFunc[T]
	watchers []*watcher[T]
	nextID   uint64
}

type watcher[T any] struct {
	id uint64
	fn WatchFunc[T]
}

// Option configures a Cell.
type Option[T any] func(*Cell[T])

// WithEqual overrides the equality used to detect changes.
// The default is reflect.DeepEqual.
func WithEqual[T any](eq EqualFunc[T]) Option[T] {
	return func(c *Cell[T]) {
		if eq != nil {
			c.equal = eq
		}
	}
}

// New creates an undefined cell.
func New[T any](opts ...Option[T]) *Cell[T] {
	c := &Cell[T]{
		equal: func(a, b T) bool { return reflect.DeepEqual(a, b) },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewWith creates a cell holding v.
func NewWith[T any](v T, opts ...Option[T]) *Cell[T] {
	c := New(opts...)
	c.value = v
	c.defined = true
	return c
}

// Get returns the current value and whether it is defined.
func (c *Cell[T]) Get() (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value, c.defined
}

// Defined reports whether the cell holds a value.
func (c *Cell[T]) Defined() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defined
}

// Equal reports whether the cell is defined and its value equals v.
func (c *Cell[T]) Equal(v T) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defined && c.equal(c.value, v)
}

// Set stores v and notifies watchers if the value changed.
// It returns true when a notification was sent.
func (c *Cell[T]) Set(v T) bool {
	c.mu.Lock()
	if c.defined && c.equal(c.value, v) {
		c.mu.Unlock()
		return false
	}
	old := c.value
	c.value = v
	c.defined = true
	watchers := c.snapshot()
	c.mu.Unlock()

	for _, w := range watchers {
		w.fn(v, old)
	}
	return true
}

// Update applies fn to the current value and stores the result.
func (c *Cell[T]) Update(fn func(T) T) bool {
	cur, _ := c.Get()
	return c.Set(fn(cur))
}

// Clear makes the cell undefined without notifying watchers.
func (c *Cell[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	var zero T
	c.value = zero
	c.defined = false
}

// Watch registers fn and returns a function that removes it.
// The returned function is safe to call more than once.
func (c *Cell[T]) Watch(fn WatchFunc[T]) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.watchers = append(c.watchers, &watcher[T]{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unwatch(id) })
	}
}

// Watchers returns the number of registered watchers.
func (c *Cell[T]) Watchers() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.watchers)
}

func (c *Cell[T]) unwatch(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.watchers {
		if w.id == id {
			c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
			return
		}
	}
}

// snapshot copies the watcher list; caller holds c.mu.
func (c *Cell[T]) snapshot() []*watcher[T] {
	out := make([]*watcher[T], len(c.watchers))
	copy(out, c.watchers)
	return out
}
