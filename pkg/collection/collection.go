// Package collection implements the document collection write path: inserts,
// updates, and deletes with validator enforcement, secondary-index
// maintenance, replication-log notification, and synchronous capped eviction,
// all scoped to one atomic write unit.
package collection

import (
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/indexing"
	"github.com/adfharrison1/go-docstore/pkg/oplog"
	"github.com/adfharrison1/go-docstore/pkg/txn"
	"github.com/adfharrison1/go-docstore/pkg/validation"
)

// OpDebug accumulates per-operation counters for diagnostics.
type OpDebug struct {
	KeysInserted int64
	KeysDeleted  int64
}

// Collection is one logical version of a collection's metadata bound to the
// shared physical state. Instances are cheap; cloning produces a writable
// copy whose metadata becomes visible when its write unit commits.
type Collection struct {
	ns        domain.Namespace
	uuid      uuid.UUID
	catalogID int64

	shared *SharedState

	indexes  domain.IndexMaintainer
	observer domain.OpObserver

	validator *validation.Validator

	clustered       bool
	recordPreImages bool

	policy     evictionProtocol
	failPoints FailPoints

	minVisibleSnapshot uint64
}

// New creates a collection over the given record store.
func New(ns domain.Namespace, catalogID int64, store domain.RecordStore, opts ...Option) (*Collection, error) {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.capped && cfg.cappedMaxSize <= 0 && cfg.cappedMaxDocs <= 0 {
		return nil, fmt.Errorf("capped collection %s requires a size or document budget", ns)
	}
	if cfg.observer == nil {
		cfg.observer = oplog.NewLog()
	}
	if cfg.indexes == nil {
		cfg.indexes = indexing.NewIndexEngine()
	}

	c := &Collection{
		ns:              ns,
		uuid:            uuid.New(),
		catalogID:       catalogID,
		shared:          newSharedState(ns, store, cfg),
		indexes:         cfg.indexes,
		observer:        cfg.observer,
		clustered:       cfg.clustered,
		recordPreImages: cfg.recordPreImages,
		policy:          protocolFor(cfg.protocol),
		failPoints:      cfg.failPoints,
	}
	c.shared.setActiveIndexes(c.indexes)
	c.shared.instanceCreated()

	if len(cfg.validatorDoc) > 0 {
		v, err := c.ParseValidator(cfg.validatorDoc, cfg.validatorLevel, cfg.validatorAction,
			validation.AllowAllFeatures, nil)
		if err != nil {
			return nil, err
		}
		if v.ParseErr() != nil {
			// Retained but never enforced; tolerate validators written by
			// versions with different parsing rules.
			log.Printf("[WARN] collection %s has malformed validator: %v", ns, v.ParseErr())
		}
		c.validator = v
	}
	return c, nil
}

// Namespace returns the collection's namespace.
func (c *Collection) Namespace() domain.Namespace { return c.ns }

// UUID returns the collection's stable identity, which survives renames.
func (c *Collection) UUID() uuid.UUID { return c.uuid }

// CatalogID returns the durable-catalog entry id of the collection.
func (c *Collection) CatalogID() int64 { return c.catalogID }

// Observer returns the replication-log observer notified by the write path.
func (c *Collection) Observer() domain.OpObserver { return c.observer }

// Indexes returns this instance's index maintenance engine.
func (c *Collection) Indexes() domain.IndexMaintainer { return c.indexes }

// Validator returns the installed validator, or nil.
func (c *Collection) Validator() *validation.Validator { return c.validator }

// IsCapped reports whether the collection is capped.
func (c *Collection) IsCapped() bool { return c.shared.isCapped }

// CappedMaxSize returns the capped size budget in bytes; zero means none.
func (c *Collection) CappedMaxSize() int64 { return c.shared.cappedMaxSize.Load() }

// CappedMaxDocs returns the capped document-count budget; zero means none.
func (c *Collection) CappedMaxDocs() int64 { return c.shared.cappedMaxDocs.Load() }

// IsClusteredByID reports whether records are keyed by the document's
// primary identifier.
func (c *Collection) IsClusteredByID() bool { return c.clustered }

// RecordPreImages reports whether pre-images are retained on updates and
// deletes.
func (c *Collection) RecordPreImages() bool { return c.recordPreImages }

// SetRecordPreImages toggles pre-image retention. Not supported on internal
// databases. Caller must hold the collection exclusively.
func (c *Collection) SetRecordPreImages(v bool) error {
	if v && c.ns.IsOnInternalDB() {
		return fmt.Errorf("pre-image recording not supported on internal namespace %s", c.ns)
	}
	c.recordPreImages = v
	return nil
}

// RequiresIDIndex reports whether every document of this collection must be
// reachable through an identifier index. The replication log and clustered
// collections are exempt.
func (c *Collection) RequiresIDIndex() bool {
	if c.ns.IsOplog() {
		return false
	}
	if c.clustered {
		return false
	}
	return true
}

// NumRecords returns the store's fast record count.
func (c *Collection) NumRecords() int64 {
	return c.shared.recordStore.NumRecords()
}

// DataSize returns the store's fast data size in bytes.
func (c *Collection) DataSize() int64 {
	return c.shared.recordStore.DataSize()
}

// IsEmpty reports whether the collection holds any record. The cursor is
// authoritative; the fast count can drift after unclean shutdown, and a
// divergence is logged for diagnosis but never trusted.
func (c *Collection) IsEmpty() bool {
	cursor := c.shared.recordStore.Cursor(true)
	defer cursor.Close()
	_, ok := cursor.Next()
	cursorEmpty := !ok

	fastCount := c.shared.recordStore.NumRecords()
	if cursorEmpty != (fastCount == 0) {
		log.Printf("[DEBUG] detected erroneous fast count for collection %s (%s): fast count %d disagrees with cursor",
			c.ns, c.uuid, fastCount)
	}
	return cursorEmpty
}

// FindDoc looks up a document by record id, stamping the result with the
// unit's snapshot so a later update can verify currency.
func (c *Collection) FindDoc(unit *txn.WriteUnit, id domain.RecordID) (domain.Snapshotted, bool) {
	data, ok := c.shared.recordStore.Find(id)
	if !ok {
		return domain.Snapshotted{}, false
	}
	doc, err := domain.DecodeDocument(data)
	if err != nil {
		return domain.Snapshotted{}, false
	}
	return domain.Snapshotted{SnapshotID: unit.SnapshotID(), Value: doc}, true
}

// GetCappedInsertNotifier returns the notifier used by tailing cursors. Only
// valid on capped collections.
func (c *Collection) GetCappedInsertNotifier() *CappedInsertNotifier {
	if !c.shared.isCapped {
		panic("collection: capped insert notifier requested on non-capped collection")
	}
	return c.shared.cappedNotifier
}

// Shared exposes the shared physical state, mainly for recovery tooling.
func (c *Collection) Shared() *SharedState { return c.shared }

// Clone produces a writable instance over the same shared state. Its index
// engine becomes the active one for capped eviction when the unit commits;
// an abort discards the clone.
func (c *Collection) Clone(unit *txn.WriteUnit, indexes domain.IndexMaintainer) *Collection {
	clone := *c
	if indexes != nil {
		clone.indexes = indexes
	}
	c.shared.instanceCreated()
	unit.OnCommit(func() {
		clone.shared.setActiveIndexes(clone.indexes)
	})
	unit.OnRollback(func() {
		clone.shared.instanceClosed()
	})
	return &clone
}

// Close releases this instance's reference on the shared state.
func (c *Collection) Close() {
	c.shared.instanceClosed()
}

// IsCommitted reports whether the collection's creation has durably
// committed and it is safe to use from other transactions.
func (c *Collection) IsCommitted() bool {
	return c.shared.committed.Load()
}

// SetCommitted flips the committed flag; clearing it hides an uncommitted
// collection from concurrent operations.
func (c *Collection) SetCommitted(v bool) {
	c.shared.committed.Store(v)
}

// SetMinimumVisibleSnapshot raises the snapshot before which this version of
// the collection metadata must not be read.
func (c *Collection) SetMinimumVisibleSnapshot(snap uint64) {
	if snap > c.minVisibleSnapshot {
		c.minVisibleSnapshot = snap
	}
}

// MinimumVisibleSnapshot returns the visibility floor for this instance.
func (c *Collection) MinimumVisibleSnapshot() uint64 { return c.minVisibleSnapshot }

// Truncate removes every record, leaving indexes to be rebuilt by the
// caller. Not allowed inside a multi-operation scope on capped collections.
func (c *Collection) Truncate(unit *txn.WriteUnit) error {
	return c.shared.recordStore.Truncate(unit)
}

// CappedTruncateAfter removes every record after end (and end itself when
// inclusive), unindexing each as it goes. Used by replication rollback.
func (c *Collection) CappedTruncateAfter(unit *txn.WriteUnit, end domain.RecordID, inclusive bool) error {
	if !c.shared.isCapped {
		return &domain.ConstraintError{Reason: fmt.Sprintf("cannot truncate after a record in non-capped collection %s", c.ns)}
	}

	cursor := c.shared.recordStore.Cursor(true)
	defer cursor.Close()
	rec, ok := cursor.SeekExact(end)
	if !ok {
		return fmt.Errorf("capped truncate point %s not found in %s", end, c.ns)
	}
	if inclusive {
		c.indexes.UnindexRecord(unit, c.ns, decodeOrNil(rec.Data), rec.ID, false)
	}
	for {
		rec, ok = cursor.Next()
		if !ok {
			break
		}
		c.indexes.UnindexRecord(unit, c.ns, decodeOrNil(rec.Data), rec.ID, false)
	}

	c.shared.cappedDeleteMu.Lock()
	c.shared.cappedFirstRecord = domain.NilRecordID
	c.shared.cappedDeleteMu.Unlock()

	return c.shared.recordStore.CappedTruncateAfter(unit, end, inclusive)
}

// UpdateCappedSize changes the size budget of a capped collection. For the
// replication log the store's own ceiling is adjusted as well.
func (c *Collection) UpdateCappedSize(newSize int64) error {
	if !c.shared.isCapped {
		return fmt.Errorf("cannot update size on non-capped collection %s", c.ns)
	}
	if c.ns.IsOplog() {
		if err := c.shared.recordStore.UpdateOplogSize(newSize); err != nil {
			return err
		}
	}
	c.shared.cappedMaxSize.Store(newSize)
	return nil
}

// ParseValidator compiles a validator document and enforces the namespace
// rules for carrying one. A compile failure is retained inside the returned
// validator unless the namespace forbids validators outright.
func (c *Collection) ParseValidator(doc domain.Document, level validation.Level, action validation.Action,
	allowed validation.FeatureSet, maxCompat *validation.FeatureVersion) (*validation.Validator, error) {

	if len(doc) > 0 {
		if err := checkValidatorCanBeUsedOnNs(c.ns); err != nil {
			return nil, err
		}
	}
	return validation.Parse(doc, level, action, allowed, maxCompat), nil
}

// SetValidator installs a parsed validator on this instance. A validator
// that failed to compile is rejected unless the malformed-validator fail
// point allows it. Caller must hold the collection exclusively.
func (c *Collection) SetValidator(v *validation.Validator) error {
	if v != nil && v.ParseErr() != nil && !c.failPoints.AllowSettingMalformedValidator {
		return v.ParseErr()
	}
	c.validator = v
	return nil
}

func checkValidatorCanBeUsedOnNs(ns domain.Namespace) error {
	if ns.IsTemporaryReshardingCollection() {
		return nil
	}
	if ns.IsSystem() {
		return fmt.Errorf("document validators are not allowed on system collection %s", ns)
	}
	if ns.IsOnInternalDB() {
		return fmt.Errorf("document validators are not allowed on collection %s in an internal database", ns)
	}
	return nil
}

// checkValidation runs the validator policy against one document, including
// the bypass flags and the caller's API-version gating.
func (c *Collection) checkValidation(unit *txn.WriteUnit, doc domain.Document) error {
	if c.validator == nil || !c.validator.HasFilter() {
		return nil
	}
	if c.validator.Level == validation.LevelOff {
		return nil
	}
	if unit.BypassDocumentValidation {
		return nil
	}
	if c.ns.IsTemporaryReshardingCollection() {
		return nil
	}
	if err := c.validator.CheckAPICompat(validation.APIParams{
		Version:           unit.APIVersion,
		Strict:            unit.APIStrict,
		DeprecationErrors: unit.APIDeprecationErrors,
	}); err != nil {
		return err
	}
	return c.validator.Check(c.ns, doc)
}

func decodeOrNil(data []byte) domain.Document {
	doc, err := domain.DecodeDocument(data)
	if err != nil {
		return nil
	}
	return doc
}
