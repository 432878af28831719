package domain

import (
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// Damage describes one in-place byte-range mutation of a stored record.
type Damage struct {
	SourceOffset int
	TargetOffset int
	Size         int
}

// Cursor iterates the records of a record store in RecordID order.
type Cursor interface {
	// Next returns the record after the current position.
	Next() (Record, bool)
	// SeekExact positions the cursor on the given id and returns its record.
	SeekExact(id RecordID) (Record, bool)
	Close()
}

// RecordStore is the contract of the ordered physical record store. All
// mutations require a live write unit and are undone if that unit aborts.
type RecordStore interface {
	// Insert stores one record. A nil id requests engine assignment.
	Insert(unit *txn.WriteUnit, id RecordID, data []byte, ts int64) (RecordID, error)
	// InsertBatch stores records in order, assigning ids where unset, and
	// returns the batch with assigned ids filled in.
	InsertBatch(unit *txn.WriteUnit, records []Record) ([]Record, error)
	// Update replaces the payload of an existing record in place.
	Update(unit *txn.WriteUnit, id RecordID, data []byte) error
	// UpdateWithDamages applies partial byte-range mutations to an existing
	// record and returns the resulting payload.
	UpdateWithDamages(unit *txn.WriteUnit, id RecordID, damageSource []byte, damages []Damage) ([]byte, error)
	Delete(unit *txn.WriteUnit, id RecordID) error
	Find(id RecordID) ([]byte, bool)
	Cursor(forward bool) Cursor
	NumRecords() int64
	DataSize() int64
	Truncate(unit *txn.WriteUnit) error
	// CappedTruncateAfter removes every record after end; end itself is also
	// removed when inclusive.
	CappedTruncateAfter(unit *txn.WriteUnit, end RecordID, inclusive bool) error
	// UpdateOplogSize adjusts the store's own size ceiling for oplog resizes.
	UpdateOplogSize(newSize int64) error
	// SelfManagedTruncation reports whether the store truncates capped
	// overflow internally, in which case the collection must not.
	SelfManagedTruncation() bool
}

// Snapshotted pairs a value with the snapshot it was read under, so the
// update path can enforce that the caller's pre-image is current.
type Snapshotted struct {
	SnapshotID uint64
	Value      Document
}
