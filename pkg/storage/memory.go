// Package storage provides the reference in-memory record store: an ordered
// record table with incremental size/count accounting, forward and reverse
// cursors, and undo-log integration with the atomic write scope.
package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

type storedRecord struct {
	data      []byte
	timestamp int64
}

// MemoryRecordStore implements domain.RecordStore on an ordered in-memory
// record table.
type MemoryRecordStore struct {
	mu         sync.RWMutex
	records    map[domain.RecordID]*storedRecord
	order      []domain.RecordID // ascending
	numRecords int64
	dataSize   int64
	idCounter  uint64

	oplogMaxSize int64
	selfManaged  bool

	// conflictOn forces a write conflict from Delete for matching ids.
	// Installed only by tests.
	conflictOn func(domain.RecordID) bool
}

// StoreOption configures a MemoryRecordStore.
type StoreOption func(*MemoryRecordStore)

// WithSelfManagedTruncation marks the store as truncating capped overflow
// internally, so the collection layer skips its own eviction.
func WithSelfManagedTruncation() StoreOption {
	return func(s *MemoryRecordStore) {
		s.selfManaged = true
	}
}

// WithConflictOn installs a hook that forces Delete to fail with a write
// conflict for matching record ids.
func WithConflictOn(fn func(domain.RecordID) bool) StoreOption {
	return func(s *MemoryRecordStore) {
		s.conflictOn = fn
	}
}

// NewMemoryRecordStore creates an empty record store.
func NewMemoryRecordStore(options ...StoreOption) *MemoryRecordStore {
	store := &MemoryRecordStore{
		records: make(map[domain.RecordID]*storedRecord),
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// nextID assigns a monotonic record id whose lexicographic order equals
// assignment order. Caller must hold the write lock.
func (s *MemoryRecordStore) nextID() domain.RecordID {
	s.idCounter++
	return domain.RecordID(fmt.Sprintf("%020d", s.idCounter))
}

// insertLocked places a record into the table. Caller must hold the write
// lock.
func (s *MemoryRecordStore) insertLocked(id domain.RecordID, rec *storedRecord) error {
	if _, exists := s.records[id]; exists {
		return fmt.Errorf("record %s already exists", id)
	}
	s.records[id] = rec
	pos := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= id })
	s.order = append(s.order, domain.NilRecordID)
	copy(s.order[pos+1:], s.order[pos:])
	s.order[pos] = id
	s.numRecords++
	s.dataSize += int64(len(rec.data))
	return nil
}

// deleteLocked removes a record from the table. Caller must hold the write
// lock.
func (s *MemoryRecordStore) deleteLocked(id domain.RecordID) (*storedRecord, bool) {
	rec, exists := s.records[id]
	if !exists {
		return nil, false
	}
	delete(s.records, id)
	pos := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= id })
	if pos < len(s.order) && s.order[pos] == id {
		s.order = append(s.order[:pos], s.order[pos+1:]...)
	}
	s.numRecords--
	s.dataSize -= int64(len(rec.data))
	return rec, true
}

// Insert implements domain.RecordStore.
func (s *MemoryRecordStore) Insert(unit *txn.WriteUnit, id domain.RecordID, data []byte, ts int64) (domain.RecordID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id.IsNil() {
		id = s.nextID()
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	if err := s.insertLocked(id, &storedRecord{data: owned, timestamp: ts}); err != nil {
		return domain.NilRecordID, err
	}

	insertedID := id
	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.deleteLocked(insertedID)
	})
	return id, nil
}

// InsertBatch implements domain.RecordStore. Records are applied in order;
// the first failure undoes the records already applied for this call and
// returns with no effects.
func (s *MemoryRecordStore) InsertBatch(unit *txn.WriteUnit, records []domain.Record) ([]domain.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Record, 0, len(records))
	applied := make([]domain.RecordID, 0, len(records))
	for _, rec := range records {
		id := rec.ID
		if id.IsNil() {
			id = s.nextID()
		}
		owned := make([]byte, len(rec.Data))
		copy(owned, rec.Data)
		if err := s.insertLocked(id, &storedRecord{data: owned, timestamp: rec.Timestamp}); err != nil {
			for _, undoID := range applied {
				s.deleteLocked(undoID)
			}
			return nil, fmt.Errorf("batch insert failed at record %s: %w", id, err)
		}
		applied = append(applied, id)
		out = append(out, domain.Record{ID: id, Data: owned, Timestamp: rec.Timestamp})
	}

	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, id := range applied {
			s.deleteLocked(id)
		}
	})
	return out, nil
}

// Update implements domain.RecordStore.
func (s *MemoryRecordStore) Update(unit *txn.WriteUnit, id domain.RecordID, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return fmt.Errorf("record %s not found", id)
	}

	oldData := rec.data
	owned := make([]byte, len(data))
	copy(owned, data)
	rec.data = owned
	s.dataSize += int64(len(owned)) - int64(len(oldData))

	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.records[id]; ok {
			s.dataSize += int64(len(oldData)) - int64(len(cur.data))
			cur.data = oldData
		}
	})
	return nil
}

// UpdateWithDamages implements domain.RecordStore.
func (s *MemoryRecordStore) UpdateWithDamages(unit *txn.WriteUnit, id domain.RecordID, damageSource []byte, damages []domain.Damage) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, fmt.Errorf("record %s not found", id)
	}

	oldData := rec.data
	patched := make([]byte, len(oldData))
	copy(patched, oldData)
	for _, d := range damages {
		if d.SourceOffset+d.Size > len(damageSource) || d.TargetOffset+d.Size > len(patched) {
			return nil, fmt.Errorf("damage out of range for record %s", id)
		}
		copy(patched[d.TargetOffset:d.TargetOffset+d.Size], damageSource[d.SourceOffset:d.SourceOffset+d.Size])
	}
	rec.data = patched

	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur, ok := s.records[id]; ok {
			cur.data = oldData
		}
	})
	return patched, nil
}

// Delete implements domain.RecordStore.
func (s *MemoryRecordStore) Delete(unit *txn.WriteUnit, id domain.RecordID) error {
	if s.conflictOn != nil && s.conflictOn(id) {
		return domain.ErrWriteConflict
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.deleteLocked(id)
	if !ok {
		return fmt.Errorf("record %s not found", id)
	}

	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.insertLocked(id, rec)
	})
	return nil
}

// Find implements domain.RecordStore. The returned bytes are a copy.
func (s *MemoryRecordStore) Find(id domain.RecordID) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.records[id]
	if !exists {
		return nil, false
	}
	out := make([]byte, len(rec.data))
	copy(out, rec.data)
	return out, true
}

// NumRecords implements domain.RecordStore (fast count).
func (s *MemoryRecordStore) NumRecords() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.numRecords
}

// DataSize implements domain.RecordStore (fast size).
func (s *MemoryRecordStore) DataSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dataSize
}

// Truncate implements domain.RecordStore.
func (s *MemoryRecordStore) Truncate(unit *txn.WriteUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oldRecords := s.records
	oldOrder := s.order
	oldNum, oldSize := s.numRecords, s.dataSize
	s.records = make(map[domain.RecordID]*storedRecord)
	s.order = nil
	s.numRecords, s.dataSize = 0, 0

	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.records = oldRecords
		s.order = oldOrder
		s.numRecords, s.dataSize = oldNum, oldSize
	})
	return nil
}

// CappedTruncateAfter implements domain.RecordStore.
func (s *MemoryRecordStore) CappedTruncateAfter(unit *txn.WriteUnit, end domain.RecordID, inclusive bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos := sort.Search(len(s.order), func(i int) bool { return s.order[i] >= end })
	if pos < len(s.order) && s.order[pos] == end && !inclusive {
		pos++
	}

	removed := make(map[domain.RecordID]*storedRecord)
	for _, id := range s.order[pos:] {
		removed[id] = s.records[id]
	}
	for id := range removed {
		s.deleteLocked(id)
	}

	unit.RegisterUndo(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for id, rec := range removed {
			s.insertLocked(id, rec)
		}
	})
	return nil
}

// UpdateOplogSize implements domain.RecordStore. The memory store only
// records the new ceiling; enforcement stays with the collection layer.
func (s *MemoryRecordStore) UpdateOplogSize(newSize int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.oplogMaxSize = newSize
	return nil
}

// SelfManagedTruncation implements domain.RecordStore.
func (s *MemoryRecordStore) SelfManagedTruncation() bool {
	return s.selfManaged
}
