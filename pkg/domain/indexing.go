package domain

import (
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// BatchEntry pairs a document with its assigned record identifier and
// timestamp for index maintenance.
type BatchEntry struct {
	ID        RecordID
	Doc       Document
	Timestamp int64
}

// IndexMaintainer is the contract of the secondary-index layer. All
// mutations are registered against the write unit and undone on abort.
type IndexMaintainer interface {
	// IndexRecords adds index keys for an inserted batch and returns the
	// number of keys inserted. A failure aborts the enclosing write scope.
	IndexRecords(unit *txn.WriteUnit, ns Namespace, entries []BatchEntry) (keysInserted int64, err error)
	// UpdateRecord reconciles old-vs-new index keys for an updated document.
	UpdateRecord(unit *txn.WriteUnit, ns Namespace, oldDoc, newDoc Document, id RecordID) (keysInserted, keysDeleted int64, err error)
	// UnindexRecord removes the document's keys from every index. Missing
	// keys are logged when logIfError is set, never fatal.
	UnindexRecord(unit *txn.WriteUnit, ns Namespace, doc Document, id RecordID, logIfError bool) (keysDeleted int64)
	// HaveAnyIndexes reports whether the namespace has any indexes.
	HaveAnyIndexes(ns Namespace) bool
	// HaveIDIndex reports whether the namespace has a primary identifier
	// index.
	HaveIDIndex(ns Namespace) bool
}
