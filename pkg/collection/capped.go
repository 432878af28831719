package collection

import (
	"errors"
	"log"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// ProtocolVersion selects how capped eviction interacts with the triggering
// write and the replication log.
type ProtocolVersion int

const (
	// ProtocolCurrent evicts inside the triggering write's own scope and
	// logs each eviction on replicated namespaces.
	ProtocolCurrent ProtocolVersion = iota
	// ProtocolLegacy evicts in a detached side scope that commits
	// immediately, swallows write conflicts, and never logs evictions.
	ProtocolLegacy
)

// evictionProtocol is the strategy seam between the two eviction variants.
// The candidate loop is shared; only scope handling, gating, conflict
// behavior, and logging differ.
type evictionProtocol interface {
	// skip reports whether this pass should be skipped beyond the common
	// capped/over-budget trigger.
	skip(c *Collection, unit *txn.WriteUnit) bool
	// begin returns the scope eviction effects are applied to.
	begin(unit *txn.WriteUnit) *txn.WriteUnit
	// logEvictions reports whether each evicted document generates
	// replication-log entries.
	logEvictions(c *Collection) bool
	// onConflict handles a write conflict hit mid-pass; a nil return
	// abandons the pass quietly.
	onConflict(c *Collection, scope *txn.WriteUnit, err error) error
	// end finishes a successful pass.
	end(scope *txn.WriteUnit)
}

func protocolFor(v ProtocolVersion) evictionProtocol {
	if v == ProtocolLegacy {
		return legacyEviction{}
	}
	return currentEviction{}
}

type currentEviction struct{}

func (currentEviction) skip(c *Collection, unit *txn.WriteUnit) bool {
	// Replay and recovery apply their own deletes; evicting here would
	// diverge from the history being replayed.
	return !unit.EnforcingConstraints
}

func (currentEviction) begin(unit *txn.WriteUnit) *txn.WriteUnit { return unit }

func (currentEviction) logEvictions(c *Collection) bool { return c.ns.IsReplicated() }

func (currentEviction) onConflict(c *Collection, scope *txn.WriteUnit, err error) error {
	// The conflict aborts the triggering write with it; the caller retries
	// the whole operation.
	return err
}

func (currentEviction) end(scope *txn.WriteUnit) {}

type legacyEviction struct{}

func (legacyEviction) skip(c *Collection, unit *txn.WriteUnit) bool {
	// During startup recovery the size metadata already accounts for the
	// replayed truncation.
	return !c.shared.NeedsSizeAdjustment()
}

func (legacyEviction) begin(unit *txn.WriteUnit) *txn.WriteUnit { return unit.Side() }

func (legacyEviction) logEvictions(c *Collection) bool { return false }

func (legacyEviction) onConflict(c *Collection, scope *txn.WriteUnit, err error) error {
	scope.Abort()
	log.Printf("[WARN] got conflict truncating capped collection %s, ignoring", c.ns)
	return nil
}

func (legacyEviction) end(scope *txn.WriteUnit) { scope.Commit() }

// cappedDeleteAsNeeded brings a capped collection back under its budgets by
// deleting oldest records, synchronously, before the triggering insert
// returns. justInserted is never evicted even if the budgets are still
// exceeded when the scan reaches it.
func (c *Collection) cappedDeleteAsNeeded(unit *txn.WriteUnit, justInserted domain.RecordID) error {
	if !c.cappedAndNeedDelete() {
		return nil
	}
	if c.policy.skip(c, unit) {
		return nil
	}

	shared := c.shared
	shared.cappedDeleteMu.Lock()
	defer shared.cappedDeleteMu.Unlock()

	store := shared.recordStore
	maxSize := shared.cappedMaxSize.Load()
	maxDocs := shared.cappedMaxDocs.Load()

	var sizeOverCap int64
	if maxSize > 0 && store.DataSize() > maxSize {
		sizeOverCap = store.DataSize() - maxSize
	}
	var docsOverCap int64
	if maxDocs > 0 && store.NumRecords() > maxDocs {
		docsOverCap = store.NumRecords() - maxDocs
	}

	scope := c.policy.begin(unit)

	cursor := store.Cursor(true)
	defer cursor.Close()

	// Resume where the previous pass left off rather than rescanning from
	// the front; the hint is only valid while its record still exists.
	var rec domain.Record
	var ok bool
	if !shared.cappedFirstRecord.IsNil() {
		rec, ok = cursor.SeekExact(shared.cappedFirstRecord)
	} else {
		rec, ok = cursor.Next()
	}

	// Eviction maintains the index metadata of the live collection version,
	// not the version the triggering writer happens to hold.
	indexes := shared.ActiveIndexes()

	var sizeSaved, docsRemoved int64
	for sizeSaved < sizeOverCap || docsRemoved < docsOverCap {
		if !ok {
			break
		}
		if rec.ID == justInserted {
			break
		}

		docsRemoved++
		sizeSaved += int64(len(rec.Data))

		doc := decodeOrNil(rec.Data)

		// Both notifications precede the physical mutation so the log slot
		// for the eviction is reserved before the record goes away.
		if c.policy.logEvictions(c) {
			c.observer.AboutToDelete(scope, c.ns, doc)
			c.observer.OnDelete(scope, c.ns, domain.UninitializedStmtID, false, nil)
		}
		indexes.UnindexRecord(scope, c.ns, doc, rec.ID, false)

		// Advance past the record before deleting it so the cursor never
		// stands on a dead position.
		toDelete := rec.ID
		rec, ok = cursor.Next()

		if err := store.Delete(scope, toDelete); err != nil {
			if errors.Is(err, domain.ErrWriteConflict) {
				return c.policy.onConflict(c, scope, err)
			}
			return err
		}
	}

	if ok {
		shared.cappedFirstRecord = rec.ID
	} else {
		shared.cappedFirstRecord = domain.NilRecordID
	}
	// A rolled-back pass leaves its victims in place, so the cached hint no
	// longer points at the oldest survivor.
	scope.OnRollback(func() {
		shared.cappedDeleteMu.Lock()
		shared.cappedFirstRecord = domain.NilRecordID
		shared.cappedDeleteMu.Unlock()
	})

	c.policy.end(scope)
	return nil
}

func (c *Collection) cappedAndNeedDelete() bool {
	if !c.shared.isCapped {
		return false
	}
	if c.shared.recordStore.SelfManagedTruncation() {
		return false
	}
	store := c.shared.recordStore
	if maxSize := c.shared.cappedMaxSize.Load(); maxSize > 0 && store.DataSize() > maxSize {
		return true
	}
	if maxDocs := c.shared.cappedMaxDocs.Load(); maxDocs > 0 && store.NumRecords() > maxDocs {
		return true
	}
	return false
}
