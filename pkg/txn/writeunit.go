// Package txn provides the atomic write scope shared by the record store,
// index, and replication-log layers: every effect of one logical write is
// registered against a single WriteUnit and either all of them survive its
// commit or all of them are undone on abort.
package txn

import (
	"sync"
	"sync/atomic"
)

var snapshotCounter uint64

func nextSnapshotID() uint64 {
	return atomic.AddUint64(&snapshotCounter, 1)
}

type unitState int

const (
	unitActive unitState = iota
	unitCommitted
	unitAborted
)

// WriteUnit is a scoped transaction boundary. Mutating layers register undo
// actions as they apply their effects; callers attach commit and rollback
// callbacks. It also carries the per-operation context the write path needs:
// the enforcing-constraints flag, the retryable-write transaction number,
// and the caller's API-version parameters.
type WriteUnit struct {
	mu        sync.Mutex
	state     unitState
	undo      []func()
	commits   []func()
	rollbacks []func()
	snapshot  uint64

	// EnforcingConstraints is true for normal operations and false for
	// replay/recovery contexts where some consistency rules (including
	// capped eviction) are intentionally relaxed.
	EnforcingConstraints bool

	// TxnNumber marks a retryable-write context when non-nil.
	TxnNumber *int64

	// BypassDocumentValidation administratively disables validation for
	// this operation.
	BypassDocumentValidation bool

	// API-version parameters of the requesting client.
	APIVersion           string
	APIStrict            bool
	APIDeprecationErrors bool
}

// New creates an active write unit with a fresh snapshot.
func New() *WriteUnit {
	return &WriteUnit{
		state:                unitActive,
		snapshot:             nextSnapshotID(),
		EnforcingConstraints: true,
	}
}

// Side creates a detached unit whose effects commit or roll back
// independently of the receiver. Used for eviction passes whose timestamps
// must be independent of the triggering write.
func (u *WriteUnit) Side() *WriteUnit {
	side := New()
	side.EnforcingConstraints = u.EnforcingConstraints
	return side
}

// SnapshotID identifies the snapshot this unit reads under.
func (u *WriteUnit) SnapshotID() uint64 {
	return u.snapshot
}

// Active reports whether the unit has neither committed nor aborted.
func (u *WriteUnit) Active() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state == unitActive
}

// RegisterUndo records an action that reverses an effect already applied
// within this unit. Undo actions run in reverse registration order on abort.
func (u *WriteUnit) RegisterUndo(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeActive()
	u.undo = append(u.undo, fn)
}

// OnCommit registers a callback invoked after the unit durably commits.
func (u *WriteUnit) OnCommit(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeActive()
	u.commits = append(u.commits, fn)
}

// OnRollback registers a callback invoked if the unit aborts.
func (u *WriteUnit) OnRollback(fn func()) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.mustBeActive()
	u.rollbacks = append(u.rollbacks, fn)
}

// Commit makes all registered effects permanent and fires commit callbacks
// in registration order.
func (u *WriteUnit) Commit() {
	u.mu.Lock()
	if u.state != unitActive {
		u.mu.Unlock()
		panic("txn: WriteUnit used after commit or abort")
	}
	u.state = unitCommitted
	commits := u.commits
	u.undo, u.commits, u.rollbacks = nil, nil, nil
	u.mu.Unlock()

	for _, fn := range commits {
		fn()
	}
}

// Abort reverses all registered effects in reverse order, then fires
// rollback callbacks.
func (u *WriteUnit) Abort() {
	u.mu.Lock()
	if u.state != unitActive {
		u.mu.Unlock()
		panic("txn: WriteUnit used after commit or abort")
	}
	u.state = unitAborted
	undo := u.undo
	rollbacks := u.rollbacks
	u.undo, u.commits, u.rollbacks = nil, nil, nil
	u.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
	for _, fn := range rollbacks {
		fn()
	}
}

func (u *WriteUnit) mustBeActive() {
	if u.state != unitActive {
		panic("txn: WriteUnit used after commit or abort")
	}
}
