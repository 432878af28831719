package collection

import (
	"fmt"
	"log"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// DeleteOptions carries per-delete context.
type DeleteOptions struct {
	StmtID      int32
	FromMigrate bool
	// NoWarn suppresses the missing-index-entry warning during unindexing.
	NoWarn bool
	// StorePreImage retains the deleted document in the replication log when
	// this is a retryable-write context.
	StorePreImage bool
}

// DeleteDocument removes the document at id inside the unit's atomic scope.
// doc must be the current content as read under the same snapshot. User
// deletes from capped collections are forbidden; replication and recovery
// paths run with enforcement off and are serialized against eviction.
func (c *Collection) DeleteDocument(unit *txn.WriteUnit, id domain.RecordID, doc domain.Snapshotted,
	opDebug *OpDebug, opts DeleteOptions) error {

	if c.shared.isCapped {
		if unit.EnforcingConstraints {
			log.Printf("[WARN] failing remove on a capped collection %s", c.ns)
			return &domain.ConstraintError{
				Reason: fmt.Sprintf("cannot remove from a capped collection: %s", c.ns),
			}
		}
		// Non-enforcing deletes race with eviction over the same records;
		// hold the eviction mutex for the duration.
		c.shared.cappedDeleteMu.Lock()
		defer c.shared.cappedDeleteMu.Unlock()
	}

	if doc.SnapshotID != unit.SnapshotID() {
		return &domain.ConstraintError{
			Reason: fmt.Sprintf("deleted document was not read under the current snapshot on %s", c.ns),
		}
	}

	c.observer.AboutToDelete(unit, c.ns, doc.Value)

	var deletedDoc domain.Document
	if (opts.StorePreImage && unit.TxnNumber != nil) || c.recordPreImages {
		deletedDoc = doc.Value.Clone()
	}

	keysDeleted := c.indexes.UnindexRecord(unit, c.ns, doc.Value, id, !opts.NoWarn)
	if opDebug != nil {
		opDebug.KeysDeleted += keysDeleted
	}

	if err := c.shared.recordStore.Delete(unit, id); err != nil {
		return err
	}

	c.observer.OnDelete(unit, c.ns, opts.StmtID, opts.FromMigrate, deletedDoc)
	return nil
}
