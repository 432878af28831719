package collection

import (
	"sync"
	"sync/atomic"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// SharedState is the per-collection physical state shared by every logical
// version of a collection: the record store handle, capped limits, the
// eviction mutex and resume hint, and the capped-insert notifier. It
// outlives any single Collection instance and is destroyed only when the
// last instance referencing it is closed.
type SharedState struct {
	recordStore domain.RecordStore

	isCapped bool
	// needCappedLock serializes writes to a replicated capped collection so
	// a primary cannot run with more concurrency than its secondaries.
	needCappedLock bool
	cappedMaxSize  atomic.Int64
	cappedMaxDocs  atomic.Int64

	cappedNotifier *CappedInsertNotifier

	// cappedDeleteMu serializes capped eviction passes. It also guards
	// cappedFirstRecord, the cached next-eviction-candidate hint.
	cappedDeleteMu    sync.Mutex
	cappedFirstRecord domain.RecordID

	// cappedMetadataMu is the exclusive metadata resource held to the end
	// of the write unit when needCappedLock is set. Ownership is tracked
	// per unit so a write scope spanning several operations acquires it
	// once instead of deadlocking against itself.
	cappedMetadataMu    sync.Mutex
	cappedOwnerMu       sync.Mutex
	cappedMetadataOwner *txn.WriteUnit

	// needsSizeAdjustment is cleared during replication recovery when the
	// size metadata already accounts for replayed operations; the legacy
	// eviction protocol consults it.
	needsSizeAdjustment atomic.Bool

	committed atomic.Bool
	instances atomic.Int32

	// activeIndexes is the single mutable slot holding the current
	// version's index set. It is swapped transactionally when a clone
	// commits, and routes capped-eviction index maintenance to the live
	// version's metadata.
	activeMu      sync.Mutex
	activeIndexes domain.IndexMaintainer
}

func newSharedState(ns domain.Namespace, store domain.RecordStore, cfg *config) *SharedState {
	s := &SharedState{
		recordStore:    store,
		isCapped:       cfg.capped,
		needCappedLock: cfg.capped && ns.DB() != "local",
	}
	s.cappedMaxSize.Store(cfg.cappedMaxSize)
	s.cappedMaxDocs.Store(cfg.cappedMaxDocs)
	s.needsSizeAdjustment.Store(true)
	s.committed.Store(true)
	if cfg.capped {
		s.cappedNotifier = NewCappedInsertNotifier()
	}
	return s
}

// RecordStore returns the underlying record store handle.
func (s *SharedState) RecordStore() domain.RecordStore {
	return s.recordStore
}

func (s *SharedState) setActiveIndexes(indexes domain.IndexMaintainer) {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	s.activeIndexes = indexes
}

// ActiveIndexes returns the index set of the collection version currently
// registered as latest.
func (s *SharedState) ActiveIndexes() domain.IndexMaintainer {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	return s.activeIndexes
}

// SetNeedsSizeAdjustment marks whether capped size metadata still needs
// adjustment; replication recovery clears it before replaying operations it
// has already accounted for.
func (s *SharedState) SetNeedsSizeAdjustment(v bool) {
	s.needsSizeAdjustment.Store(v)
}

// NeedsSizeAdjustment reports the size-adjustment marker.
func (s *SharedState) NeedsSizeAdjustment() bool {
	return s.needsSizeAdjustment.Load()
}

// notifyCappedWaitersIfNeeded wakes blocked capped waiters, skipping the
// broadcast when no one is waiting.
func (s *SharedState) notifyCappedWaitersIfNeeded() {
	if s.cappedNotifier != nil && s.cappedNotifier.HasWaiters() {
		s.cappedNotifier.NotifyAll()
	}
}

// instanceCreated records a newly-created instance referencing this state.
func (s *SharedState) instanceCreated() {
	s.instances.Add(1)
}

// instanceClosed records the destruction of an instance. When the last
// instance goes away, blocked capped waiters must be released.
func (s *SharedState) instanceClosed() {
	if s.instances.Add(-1) == 0 && s.cappedNotifier != nil {
		s.cappedNotifier.Kill()
	}
}
