// Package indexing implements the secondary-index maintenance layer: named
// single-field indexes per namespace, maintained transactionally against the
// write unit's undo log.
package indexing

import (
	"fmt"
	"log"
	"sync"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

// Index stores a mapping from a field's rendered value to record IDs.
type Index struct {
	Field    string
	Inverted map[string]map[domain.RecordID]struct{}
}

// NewIndex creates an index on a specific field.
func NewIndex(field string) *Index {
	return &Index{
		Field:    field,
		Inverted: make(map[string]map[domain.RecordID]struct{}),
	}
}

func (idx *Index) add(key string, id domain.RecordID) {
	ids, ok := idx.Inverted[key]
	if !ok {
		ids = make(map[domain.RecordID]struct{})
		idx.Inverted[key] = ids
	}
	ids[id] = struct{}{}
}

func (idx *Index) remove(key string, id domain.RecordID) bool {
	ids, ok := idx.Inverted[key]
	if !ok {
		return false
	}
	if _, ok := ids[id]; !ok {
		return false
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(idx.Inverted, key)
	}
	return true
}

// Lookup returns the record IDs indexed under the given value.
func (idx *Index) Lookup(value interface{}) []domain.RecordID {
	ids := idx.Inverted[renderKey(value)]
	out := make([]domain.RecordID, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

func renderKey(value interface{}) string {
	return fmt.Sprintf("%v", value)
}

// IndexEngine implements domain.IndexMaintainer
type IndexEngine struct {
	mu      sync.RWMutex
	indexes map[domain.Namespace]map[string]*Index

	// failOn forces an indexing failure for matching documents. Installed
	// only by tests.
	failOn func(domain.Document) error
}

// EngineOption configures an IndexEngine.
type EngineOption func(*IndexEngine)

// WithIndexFailureOn installs a hook that fails IndexRecords for matching
// documents.
func WithIndexFailureOn(fn func(domain.Document) error) EngineOption {
	return func(ie *IndexEngine) {
		ie.failOn = fn
	}
}

// NewIndexEngine creates a new index engine
func NewIndexEngine(options ...EngineOption) *IndexEngine {
	engine := &IndexEngine{
		indexes: make(map[domain.Namespace]map[string]*Index),
	}
	for _, option := range options {
		option(engine)
	}
	return engine
}

// CreateIndex creates an index on a specific field in a namespace.
func (ie *IndexEngine) CreateIndex(ns domain.Namespace, field string) error {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if ie.indexes[ns] == nil {
		ie.indexes[ns] = make(map[string]*Index)
	}
	if _, exists := ie.indexes[ns][field]; exists {
		return fmt.Errorf("index on field %s already exists in namespace %s", field, ns)
	}
	ie.indexes[ns][field] = NewIndex(field)
	return nil
}

// DropIndex removes an index from a namespace.
func (ie *IndexEngine) DropIndex(ns domain.Namespace, field string) error {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if _, exists := ie.indexes[ns][field]; !exists {
		return fmt.Errorf("index on field %s does not exist in namespace %s", field, ns)
	}
	delete(ie.indexes[ns], field)
	return nil
}

// GetIndex returns the index on the given field, if any.
func (ie *IndexEngine) GetIndex(ns domain.Namespace, field string) (*Index, bool) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()
	idx, ok := ie.indexes[ns][field]
	return idx, ok
}

// HaveAnyIndexes implements domain.IndexMaintainer
func (ie *IndexEngine) HaveAnyIndexes(ns domain.Namespace) bool {
	ie.mu.RLock()
	defer ie.mu.RUnlock()
	return len(ie.indexes[ns]) > 0
}

// HaveIDIndex implements domain.IndexMaintainer
func (ie *IndexEngine) HaveIDIndex(ns domain.Namespace) bool {
	ie.mu.RLock()
	defer ie.mu.RUnlock()
	_, ok := ie.indexes[ns][domain.IDField]
	return ok
}

// IndexRecords implements domain.IndexMaintainer
func (ie *IndexEngine) IndexRecords(unit *txn.WriteUnit, ns domain.Namespace, entries []domain.BatchEntry) (int64, error) {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	type appliedKey struct {
		idx *Index
		key string
		id  domain.RecordID
	}
	var applied []appliedKey
	undoLocked := func() {
		for i := len(applied) - 1; i >= 0; i-- {
			applied[i].idx.remove(applied[i].key, applied[i].id)
		}
	}

	var keysInserted int64
	for _, entry := range entries {
		if ie.failOn != nil {
			if err := ie.failOn(entry.Doc); err != nil {
				undoLocked()
				return 0, &domain.IndexError{Err: err}
			}
		}
		for field, idx := range ie.indexes[ns] {
			val, ok := entry.Doc[field]
			if !ok {
				continue
			}
			idx.add(renderKey(val), entry.ID)
			applied = append(applied, appliedKey{idx: idx, key: renderKey(val), id: entry.ID})
			keysInserted++
		}
	}

	unit.RegisterUndo(func() {
		ie.mu.Lock()
		defer ie.mu.Unlock()
		undoLocked()
	})
	return keysInserted, nil
}

// UpdateRecord implements domain.IndexMaintainer
func (ie *IndexEngine) UpdateRecord(unit *txn.WriteUnit, ns domain.Namespace, oldDoc, newDoc domain.Document, id domain.RecordID) (int64, int64, error) {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	var keysInserted, keysDeleted int64
	var undos []func()

	for field, idx := range ie.indexes[ns] {
		oldVal, hasOld := oldDoc[field]
		newVal, hasNew := newDoc[field]

		oldKey, newKey := renderKey(oldVal), renderKey(newVal)
		if hasOld && hasNew && oldKey == newKey {
			continue
		}

		if hasOld {
			if idx.remove(oldKey, id) {
				keysDeleted++
				idx, oldKey := idx, oldKey
				undos = append(undos, func() { idx.add(oldKey, id) })
			}
		}
		if hasNew {
			idx.add(newKey, id)
			keysInserted++
			idx, newKey := idx, newKey
			undos = append(undos, func() { idx.remove(newKey, id) })
		}
	}

	unit.RegisterUndo(func() {
		ie.mu.Lock()
		defer ie.mu.Unlock()
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	})
	return keysInserted, keysDeleted, nil
}

// UnindexRecord implements domain.IndexMaintainer
func (ie *IndexEngine) UnindexRecord(unit *txn.WriteUnit, ns domain.Namespace, doc domain.Document, id domain.RecordID, logIfError bool) int64 {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	var keysDeleted int64
	var undos []func()
	for field, idx := range ie.indexes[ns] {
		val, ok := doc[field]
		if !ok {
			continue
		}
		key := renderKey(val)
		if idx.remove(key, id) {
			keysDeleted++
			idx, key := idx, key
			undos = append(undos, func() { idx.add(key, id) })
		} else if logIfError {
			log.Printf("[WARN] could not find index entry for field %q of record %s in %s", field, id, ns)
		}
	}

	unit.RegisterUndo(func() {
		ie.mu.Lock()
		defer ie.mu.Unlock()
		for i := len(undos) - 1; i >= 0; i-- {
			undos[i]()
		}
	})
	return keysDeleted
}
