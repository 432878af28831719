package domain

import (
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// UninitializedStmtID marks operations that are not part of a numbered
// multi-statement transaction.
const UninitializedStmtID int32 = -1

// InsertStatement is one document of an insert batch as presented to the
// replication-log observer.
type InsertStatement struct {
	StmtID    int32
	Doc       Document
	RecordID  RecordID
	Timestamp int64
}

// UpdateArgs describes a completed update to the replication-log observer,
// carrying both old and new state.
type UpdateArgs struct {
	Namespace Namespace
	RecordID  RecordID
	StmtID    int32
	// PreImageDoc is the fully-owned pre-update document.
	PreImageDoc Document
	// UpdatedDoc is the post-update document.
	UpdatedDoc Document
	// PreImageRecordingEnabled is set when the collection retains
	// pre-images for replication or point-in-time recovery.
	PreImageRecordingEnabled bool
}

// OpObserver is the replication-log subsystem's view of the write path. The
// observer is notified inside the atomic write scope, so its entries become
// visible exactly when the triggering write does.
type OpObserver interface {
	// OnInserts receives the full inserted batch in order, in one call.
	OnInserts(unit *txn.WriteUnit, ns Namespace, stmts []InsertStatement, fromMigrate bool)
	// AboutToDelete fires before the physical delete, with the full
	// document, so downstream consumers can capture a pre-image.
	AboutToDelete(unit *txn.WriteUnit, ns Namespace, doc Document)
	// OnDelete fires after the physical delete, with the retained pre-image
	// if one was captured.
	OnDelete(unit *txn.WriteUnit, ns Namespace, stmtID int32, fromMigrate bool, preImage Document)
	OnUpdate(unit *txn.WriteUnit, args UpdateArgs)
}
