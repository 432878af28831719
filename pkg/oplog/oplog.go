// Package oplog implements the replication-log observer as an append-only
// in-memory log. Entries are appended inside the triggering atomic write
// scope and removed again if that scope rolls back, so the log never shows
// effects of an aborted operation. Retained pre-images are stored
// lz4-compressed.
package oplog

import (
	"fmt"
	"sync"
	"time"

	"github.com/pierrec/lz4/v4"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// EntryType represents the type of oplog entry
type EntryType uint8

const (
	EntryInsert EntryType = iota + 1
	EntryUpdate
	EntryDelete
	// EntryAboutToDelete is the "before" signal framing a physical delete;
	// EntryDelete is the matching "after" signal.
	EntryAboutToDelete
)

// Entry represents a single entry in the replication log
type Entry struct {
	LSN         int64
	Type        EntryType
	Timestamp   int64
	Namespace   domain.Namespace
	RecordID    domain.RecordID
	StmtID      int32
	FromMigrate bool

	// Document is the msgpack payload of the post-operation document.
	Document []byte

	// PreImage is the pre-operation document, when retained; lz4 block
	// format when PreImageCompressed is set, raw encoded bytes otherwise.
	// PreImageSize is the uncompressed length.
	PreImage           []byte
	PreImageSize       int
	PreImageCompressed bool
}

// Log implements domain.OpObserver
type Log struct {
	mu      sync.Mutex
	entries []Entry
	lsn     int64
}

// NewLog creates an empty replication log.
func NewLog() *Log {
	return &Log{}
}

// appendLocked assigns LSNs and appends entries, registering an undo that
// drops exactly these entries if the unit aborts.
func (l *Log) appendLocked(unit *txn.WriteUnit, entries []Entry) {
	first := l.lsn + 1
	for i := range entries {
		l.lsn++
		entries[i].LSN = l.lsn
		if entries[i].Timestamp == 0 {
			entries[i].Timestamp = time.Now().UnixNano()
		}
	}
	l.entries = append(l.entries, entries...)
	last := l.lsn

	unit.RegisterUndo(func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		kept := l.entries[:0]
		for _, e := range l.entries {
			if e.LSN < first || e.LSN > last {
				kept = append(kept, e)
			}
		}
		l.entries = kept
	})
}

// OnInserts implements domain.OpObserver
func (l *Log) OnInserts(unit *txn.WriteUnit, ns domain.Namespace, stmts []domain.InsertStatement, fromMigrate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]Entry, 0, len(stmts))
	for _, stmt := range stmts {
		data, err := stmt.Doc.Encode()
		if err != nil {
			data = nil
		}
		entries = append(entries, Entry{
			Type:        EntryInsert,
			Timestamp:   stmt.Timestamp,
			Namespace:   ns,
			RecordID:    stmt.RecordID,
			StmtID:      stmt.StmtID,
			FromMigrate: fromMigrate,
			Document:    data,
		})
	}
	l.appendLocked(unit, entries)
}

// AboutToDelete implements domain.OpObserver
func (l *Log) AboutToDelete(unit *txn.WriteUnit, ns domain.Namespace, doc domain.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := doc.Encode()
	if err != nil {
		data = nil
	}
	l.appendLocked(unit, []Entry{{
		Type:      EntryAboutToDelete,
		Namespace: ns,
		Document:  data,
	}})
}

// OnDelete implements domain.OpObserver
func (l *Log) OnDelete(unit *txn.WriteUnit, ns domain.Namespace, stmtID int32, fromMigrate bool, preImage domain.Document) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry := Entry{
		Type:        EntryDelete,
		Namespace:   ns,
		StmtID:      stmtID,
		FromMigrate: fromMigrate,
	}
	if preImage != nil {
		data, size, packed, err := CompressPreImage(preImage)
		if err == nil {
			entry.PreImage = data
			entry.PreImageSize = size
			entry.PreImageCompressed = packed
		}
	}
	l.appendLocked(unit, []Entry{entry})
}

// OnUpdate implements domain.OpObserver
func (l *Log) OnUpdate(unit *txn.WriteUnit, args domain.UpdateArgs) {
	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := args.UpdatedDoc.Encode()
	if err != nil {
		data = nil
	}
	entry := Entry{
		Type:      EntryUpdate,
		Namespace: args.Namespace,
		RecordID:  args.RecordID,
		StmtID:    args.StmtID,
		Document:  data,
	}
	if args.PreImageRecordingEnabled && args.PreImageDoc != nil {
		data, size, packed, err := CompressPreImage(args.PreImageDoc)
		if err == nil {
			entry.PreImage = data
			entry.PreImageSize = size
			entry.PreImageCompressed = packed
		}
	}
	l.appendLocked(unit, []Entry{entry})
}

// Entries returns a snapshot of all committed-or-pending entries in LSN
// order.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// EntriesFor returns the entries for one namespace in LSN order.
func (l *Log) EntriesFor(ns domain.Namespace) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Entry
	for _, e := range l.entries {
		if e.Namespace == ns {
			out = append(out, e)
		}
	}
	return out
}

// CompressPreImage encodes and lz4-compresses a pre-image document. It
// returns the payload, the uncompressed length, and whether the payload is
// actually compressed; an incompressible document is stored as-is.
func CompressPreImage(doc domain.Document) ([]byte, int, bool, error) {
	data, err := doc.Encode()
	if err != nil {
		return nil, 0, false, err
	}
	compressed := make([]byte, lz4.CompressBlockBound(len(data)))
	var hashTable [1 << 16]int
	n, err := lz4.CompressBlock(data, compressed, hashTable[:])
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to compress pre-image: %w", err)
	}
	if n == 0 {
		// Incompressible; store as-is.
		return data, len(data), false, nil
	}
	return compressed[:n], len(data), true, nil
}

// DecompressPreImage reverses CompressPreImage.
func DecompressPreImage(data []byte, uncompressedSize int, compressed bool) (domain.Document, error) {
	if !compressed {
		return domain.DecodeDocument(data)
	}
	out := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data, out)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress pre-image: %w", err)
	}
	return domain.DecodeDocument(out[:n])
}
