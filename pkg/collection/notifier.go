package collection

import (
	"context"
	"sync"
	"sync/atomic"
)

// CappedInsertNotifier lets tailing cursors block until a capped collection
// receives another committed insert. Waiters remember the version they last
// observed and wake when it advances, or when the collection is dropped.
type CappedInsertNotifier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	version uint64
	dead    bool

	waiters atomic.Int64
}

// NewCappedInsertNotifier creates a live notifier at version zero.
func NewCappedInsertNotifier() *CappedInsertNotifier {
	n := &CappedInsertNotifier{}
	n.cond = sync.NewCond(&n.mu)
	return n
}

// Version returns the current notification version.
func (n *CappedInsertNotifier) Version() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.version
}

// HasWaiters reports whether any goroutine is blocked in WaitUntil, so
// callers can skip the broadcast entirely on the common no-tailer path.
func (n *CappedInsertNotifier) HasWaiters() bool {
	return n.waiters.Load() > 0
}

// NotifyAll advances the version and wakes every waiter. Called after the
// inserting write unit commits, never before.
func (n *CappedInsertNotifier) NotifyAll() {
	n.mu.Lock()
	n.version++
	n.mu.Unlock()
	n.cond.Broadcast()
}

// Kill permanently wakes all waiters; used when the collection goes away.
func (n *CappedInsertNotifier) Kill() {
	n.mu.Lock()
	n.dead = true
	n.mu.Unlock()
	n.cond.Broadcast()
}

// IsDead reports whether the notifier has been killed.
func (n *CappedInsertNotifier) IsDead() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dead
}

// WaitUntil blocks until the version advances past prev, the notifier is
// killed, or the context is done. It returns the version observed on wakeup
// and the context's error if that is what ended the wait.
func (n *CappedInsertNotifier) WaitUntil(ctx context.Context, prev uint64) (uint64, error) {
	n.waiters.Add(1)
	defer n.waiters.Add(-1)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// Taken so the broadcast cannot land in the window between the
			// waiter's ctx check and its entry into Wait.
			n.mu.Lock()
			n.cond.Broadcast()
			n.mu.Unlock()
		case <-done:
		}
	}()

	n.mu.Lock()
	defer n.mu.Unlock()
	for n.version <= prev && !n.dead && ctx.Err() == nil {
		n.cond.Wait()
	}
	return n.version, ctx.Err()
}
