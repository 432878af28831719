package collection

import (
	"errors"
	"fmt"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
	"github.com/adfharrison1/go-docstore/pkg/validation"
)

// UpdateDocument replaces the document at id with newDoc inside the unit's
// atomic scope. oldDoc must be the current content as read under the same
// snapshot. indexesAffected tells the caller's analysis whether any indexed
// field changes; when false, index maintenance is skipped entirely.
func (c *Collection) UpdateDocument(unit *txn.WriteUnit, id domain.RecordID, oldDoc domain.Snapshotted,
	newDoc domain.Document, indexesAffected bool, opDebug *OpDebug, args *domain.UpdateArgs) (domain.RecordID, error) {

	if err := c.checkUpdateValidation(unit, oldDoc.Value, newDoc); err != nil {
		return domain.NilRecordID, err
	}

	if oldDoc.SnapshotID != unit.SnapshotID() {
		return domain.NilRecordID, &domain.ConstraintError{
			Reason: fmt.Sprintf("updated document was not read under the current snapshot on %s", c.ns),
		}
	}

	c.acquireCappedLock(unit)

	oldID, hasOldID := oldDoc.Value.ID()
	newID, hasNewID := newDoc.ID()
	if hasOldID && (!hasNewID || fmt.Sprintf("%v", oldID) != fmt.Sprintf("%v", newID)) {
		return domain.NilRecordID, &domain.ConstraintError{
			Reason: fmt.Sprintf("in %s, an update cannot change the %s field", c.ns, domain.IDField),
		}
	}

	newData, err := newDoc.Encode()
	if err != nil {
		return domain.NilRecordID, err
	}
	if c.shared.isCapped && len(newData) != oldDoc.Value.ByteSize() {
		return domain.NilRecordID, &domain.ConstraintError{
			Reason: fmt.Sprintf("cannot change the size of a document in capped collection %s", c.ns),
		}
	}

	if args.PreImageDoc == nil && (unit.TxnNumber != nil || c.recordPreImages) {
		args.PreImageDoc = oldDoc.Value.Clone()
	}
	args.PreImageRecordingEnabled = c.recordPreImages

	if err := c.shared.recordStore.Update(unit, id, newData); err != nil {
		return domain.NilRecordID, err
	}

	if indexesAffected {
		keysInserted, keysDeleted, err := c.indexes.UpdateRecord(unit, c.ns, oldDoc.Value, newDoc, id)
		if err != nil {
			return domain.NilRecordID, err
		}
		if opDebug != nil {
			opDebug.KeysInserted += keysInserted
			opDebug.KeysDeleted += keysDeleted
		}
	}

	args.Namespace = c.ns
	args.RecordID = id
	args.UpdatedDoc = newDoc
	c.observer.OnUpdate(unit, *args)

	return id, nil
}

// UpdateWithDamagesSupported reports whether byte-range updates may be used.
// A collection with an enforced validator cannot see partial updates, since
// the predicate needs the whole resulting document.
func (c *Collection) UpdateWithDamagesSupported() bool {
	return !c.validator.HasFilter()
}

// UpdateDocumentWithDamages applies byte-range mutations to the document at
// id and returns the resulting document. Only legal when
// UpdateWithDamagesSupported.
func (c *Collection) UpdateDocumentWithDamages(unit *txn.WriteUnit, id domain.RecordID, oldDoc domain.Snapshotted,
	damageSource []byte, damages []domain.Damage, args *domain.UpdateArgs) (domain.Document, error) {

	if !c.UpdateWithDamagesSupported() {
		return nil, &domain.InternalError{Reason: "damage-list update against a collection with an enforced validator"}
	}
	if oldDoc.SnapshotID != unit.SnapshotID() {
		return nil, &domain.ConstraintError{
			Reason: fmt.Sprintf("updated document was not read under the current snapshot on %s", c.ns),
		}
	}

	if args.PreImageDoc == nil && (unit.TxnNumber != nil || c.recordPreImages) {
		args.PreImageDoc = oldDoc.Value.Clone()
	}
	args.PreImageRecordingEnabled = c.recordPreImages

	newData, err := c.shared.recordStore.UpdateWithDamages(unit, id, damageSource, damages)
	if err != nil {
		return nil, err
	}
	updated, err := domain.DecodeDocument(newData)
	if err != nil {
		return nil, err
	}

	args.Namespace = c.ns
	args.RecordID = id
	args.UpdatedDoc = updated
	c.observer.OnUpdate(unit, *args)

	return updated, nil
}

// checkUpdateValidation applies the validator to an update. Under moderate
// level, a mismatching new document is tolerated when the old document
// already mismatched; strict level and non-mismatch failures (such as API
// gating) always reject.
func (c *Collection) checkUpdateValidation(unit *txn.WriteUnit, oldDoc, newDoc domain.Document) error {
	err := c.checkValidation(unit, newDoc)
	if err == nil {
		return nil
	}
	if c.validator == nil || c.validator.Level != validation.LevelModerate {
		return err
	}
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		return err
	}
	if oldErr := c.checkValidation(unit, oldDoc); oldErr == nil {
		// Old document conformed; this update would newly break the
		// predicate.
		return err
	}
	return nil
}
