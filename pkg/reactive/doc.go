// Package reactive provides a value cell with explicit change observers.
//
// A Cell holds an optional value. Writes that change the value (by deep
// equality) notify every registered watcher synchronously, in registration
// order, on the writing goroutine.
//
// Usage:
//
//	c := reactive.New[Settings]()
//	stop := c.Watch(func(newV, oldV Settings) {
//	    fmt.Println("changed", oldV, "->", newV)
//	})
//	c.Set(Settings{Theme: "dark"})
//	stop()
//
// Thread Safety:
//
// Get/Set/Watch are safe for concurrent use. Watchers run without the cell
// lock held, so they may read the cell; writing from a watcher re-enters the
// notification loop and is the caller's responsibility.
package reactive
