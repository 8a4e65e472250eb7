package shared

import "sync"

// sendQueue runs broadcasts in ticket order. Tickets are taken while the
// handle lock is held, so the order matches the order of the cell writes
// even though publishing happens after the lock is released. The zero value
// is ready to use.
type sendQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	next    uint64
	serving uint64
}

// take hands out the next ticket. Every ticket must be passed to run
// exactly once or later broadcasts block forever.
func (q *sendQueue) take() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	t := q.next
	q.next++
	return t
}

// run waits until every earlier ticket has finished, then calls fn.
func (q *sendQueue) run(ticket uint64, fn func() error) error {
	q.mu.Lock()
	if q.cond == nil {
		q.cond = sync.NewCond(&q.mu)
	}
	for q.serving != ticket {
		q.cond.Wait()
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.serving++
		q.cond.Broadcast()
		q.mu.Unlock()
	}()
	return fn()
}
