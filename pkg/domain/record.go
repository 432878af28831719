package domain

import (
	"fmt"
	"strings"
)

// RecordID is the stable key by which a record is addressed in the record
// store, independent of document content. Engine-assigned IDs are zero-padded
// decimal strings so that lexicographic order equals assignment order;
// clustered collections derive the ID from the document's primary identifier.
type RecordID string

// NilRecordID is the zero RecordID, meaning "unassigned".
const NilRecordID RecordID = ""

// IsNil reports whether the record identifier is unassigned.
func (id RecordID) IsNil() bool {
	return id == NilRecordID
}

// KeyForDoc derives a clustering-key RecordID from the document's primary
// identifier field. Only used by collections clustered by that field.
func KeyForDoc(doc Document) (RecordID, error) {
	id, ok := doc.ID()
	if !ok {
		return NilRecordID, fmt.Errorf("cannot derive record key: document has no %s field", IDField)
	}
	return RecordID(fmt.Sprintf("%v", id)), nil
}

// Record is a stored document: an opaque payload addressed by a RecordID,
// carrying the caller-supplied timestamp used for replication-log correlation
// (zero for non-logged writes).
type Record struct {
	ID        RecordID
	Data      []byte
	Timestamp int64
}

// Namespace identifies a collection as "database.collection".
type Namespace string

// DB returns the database part of the namespace.
func (ns Namespace) DB() string {
	if i := strings.IndexByte(string(ns), '.'); i >= 0 {
		return string(ns)[:i]
	}
	return string(ns)
}

// Coll returns the collection part of the namespace.
func (ns Namespace) Coll() string {
	if i := strings.IndexByte(string(ns), '.'); i >= 0 {
		return string(ns)[i+1:]
	}
	return ""
}

// IsOplog reports whether this is the replication log namespace.
func (ns Namespace) IsOplog() bool {
	return strings.HasPrefix(string(ns), "local.oplog.")
}

// IsReplicated reports whether writes to this namespace generate
// replication-log entries. The "local" database is never replicated.
func (ns Namespace) IsReplicated() bool {
	return ns.DB() != "local"
}

// IsSystem reports whether this is a system collection.
func (ns Namespace) IsSystem() bool {
	return strings.HasPrefix(ns.Coll(), "system.")
}

// IsOnInternalDB reports whether the namespace lives in one of the internal
// databases.
func (ns Namespace) IsOnInternalDB() bool {
	switch ns.DB() {
	case "admin", "local", "config":
		return true
	}
	return false
}

// IsTemporaryReshardingCollection reports whether this is an internal
// resharding temporary, which is exempt from document validation.
func (ns Namespace) IsTemporaryReshardingCollection() bool {
	return strings.HasPrefix(ns.Coll(), "system.resharding.")
}
