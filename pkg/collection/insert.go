package collection

import (
	"errors"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// InsertOptions carries per-batch insert context.
type InsertOptions struct {
	// FromMigrate marks the batch as chunk-migration traffic in the
	// replication log.
	FromMigrate bool
	// StmtIDs are the per-document statement ids of a numbered transaction,
	// parallel to the batch. Empty means uninitialized.
	StmtIDs []int32
	// Timestamps are per-document replication timestamps, parallel to the
	// batch. Empty means unset.
	Timestamps []int64
}

func (o InsertOptions) stmtID(i int) int32 {
	if i < len(o.StmtIDs) {
		return o.StmtIDs[i]
	}
	return domain.UninitializedStmtID
}

func (o InsertOptions) timestamp(i int) int64 {
	if i < len(o.Timestamps) {
		return o.Timestamps[i]
	}
	return 0
}

// InsertDocument inserts a single document.
func (c *Collection) InsertDocument(unit *txn.WriteUnit, doc domain.Document, opDebug *OpDebug) error {
	return c.InsertDocuments(unit, []domain.Document{doc}, opDebug, InsertOptions{})
}

// InsertDocuments inserts a batch of documents atomically: all of them become
// visible when the unit commits, or none do. Every document is validated
// before any is stored, indexes are maintained, the replication-log observer
// sees the whole batch in one call, and capped eviction runs synchronously
// before return.
func (c *Collection) InsertDocuments(unit *txn.WriteUnit, docs []domain.Document, opDebug *OpDebug, opts InsertOptions) error {
	if len(docs) == 0 {
		return nil
	}

	if fp := c.failPoints.FailCollectionInserts; fp != nil {
		if err := fp(c.ns, docs[0]); err != nil {
			return err
		}
	}

	// Documents reachable only through an identifier index must carry one;
	// a missing identifier here is a corruption vector, not a user error.
	hasIDIndex := c.indexes.HaveIDIndex(c.ns)
	for _, doc := range docs {
		if hasIDIndex {
			if _, ok := doc.ID(); !ok {
				return &domain.InternalError{
					Reason: "document to insert lacks " + domain.IDField + " while an identifier index exists",
				}
			}
		}
		if err := c.checkValidation(unit, doc); err != nil {
			return err
		}
	}

	if err := c.insertDocuments(unit, docs, opDebug, opts); err != nil {
		return err
	}

	shared := c.shared
	unit.OnCommit(shared.notifyCappedWaitersIfNeeded)

	if fp := c.failPoints.HangAfterCollectionInserts; fp != nil {
		fp(c.ns)
	}
	return nil
}

func (c *Collection) insertDocuments(unit *txn.WriteUnit, docs []domain.Document, opDebug *OpDebug, opts InsertOptions) error {
	// A multi-document batch into a capped collection with indexes cannot be
	// applied as a unit: eviction triggered mid-batch could delete a
	// just-inserted document before its index entries exist.
	if len(docs) > 1 && c.shared.isCapped && c.indexes.HaveAnyIndexes(c.ns) {
		return &domain.BatchPolicyError{
			Reason: "multi-document insert into a capped collection with indexes; retry as single inserts",
		}
	}

	c.acquireCappedLock(unit)

	records := make([]domain.Record, 0, len(docs))
	for i, doc := range docs {
		data, err := doc.Encode()
		if err != nil {
			return err
		}
		if c.failPoints.CorruptDocumentOnInsert {
			data = data[:len(data)/2]
		}

		id := domain.NilRecordID
		if c.clustered {
			id, err = domain.KeyForDoc(doc)
			if err != nil {
				return err
			}
		}
		records = append(records, domain.Record{ID: id, Data: data, Timestamp: opts.timestamp(i)})
	}

	records, err := c.shared.recordStore.InsertBatch(unit, records)
	if err != nil {
		return err
	}

	entries := make([]domain.BatchEntry, 0, len(records))
	stmts := make([]domain.InsertStatement, 0, len(records))
	for i, rec := range records {
		entries = append(entries, domain.BatchEntry{ID: rec.ID, Doc: docs[i], Timestamp: rec.Timestamp})
		stmts = append(stmts, domain.InsertStatement{
			StmtID:    opts.stmtID(i),
			Doc:       docs[i],
			RecordID:  rec.ID,
			Timestamp: rec.Timestamp,
		})
	}

	keysInserted, err := c.indexes.IndexRecords(unit, c.ns, entries)
	if err != nil {
		var ie *domain.IndexError
		if errors.As(err, &ie) {
			return err
		}
		return &domain.IndexError{Err: err}
	}
	if opDebug != nil {
		opDebug.KeysInserted += keysInserted
	}

	c.observer.OnInserts(unit, c.ns, stmts, opts.FromMigrate)

	return c.cappedDeleteAsNeeded(unit, records[0].ID)
}

// InsertRecordsForReplication inserts pre-encoded records directly, for the
// replication log and other paths that bypass validation and indexing. The
// collection must have neither an enforced validator nor indexes.
func (c *Collection) InsertRecordsForReplication(unit *txn.WriteUnit, records []domain.Record) error {
	if len(records) == 0 {
		return nil
	}
	if c.validator.HasFilter() {
		return &domain.InternalError{Reason: "raw record insert into collection with an enforced validator"}
	}
	if c.indexes.HaveAnyIndexes(c.ns) {
		return &domain.InternalError{Reason: "raw record insert into collection with indexes"}
	}

	c.acquireCappedLock(unit)

	records, err := c.shared.recordStore.InsertBatch(unit, records)
	if err != nil {
		return err
	}
	if err := c.cappedDeleteAsNeeded(unit, records[0].ID); err != nil {
		return err
	}

	shared := c.shared
	unit.OnCommit(shared.notifyCappedWaitersIfNeeded)
	return nil
}

// acquireCappedLock takes the exclusive capped-metadata resource when this
// collection requires serialized writes, holding it to the end of the unit.
// A unit that already holds the lock passes through, so a write scope may
// span several operations on the same collection.
func (c *Collection) acquireCappedLock(unit *txn.WriteUnit) {
	if !c.shared.needCappedLock {
		return
	}
	shared := c.shared

	shared.cappedOwnerMu.Lock()
	alreadyHeld := shared.cappedMetadataOwner == unit
	shared.cappedOwnerMu.Unlock()
	if alreadyHeld {
		return
	}

	shared.cappedMetadataMu.Lock()
	shared.cappedOwnerMu.Lock()
	shared.cappedMetadataOwner = unit
	shared.cappedOwnerMu.Unlock()

	released := false
	release := func() {
		if !released {
			released = true
			shared.cappedOwnerMu.Lock()
			shared.cappedMetadataOwner = nil
			shared.cappedOwnerMu.Unlock()
			shared.cappedMetadataMu.Unlock()
		}
	}
	unit.OnCommit(release)
	unit.OnRollback(release)
}
