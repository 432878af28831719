package storage

import (
	"sort"

	"github.com/adfharrison1/go-docstore/pkg/domain"
)

// memoryCursor walks the store in id order without pinning a position: each
// advance re-resolves against the live ordering, so deleting the record the
// cursor last returned is safe as long as the caller advances first.
type memoryCursor struct {
	store   *MemoryRecordStore
	forward bool
	pos     domain.RecordID
	started bool
}

// Cursor implements domain.RecordStore.
func (s *MemoryRecordStore) Cursor(forward bool) domain.Cursor {
	return &memoryCursor{store: s, forward: forward}
}

// Next implements domain.Cursor.
func (c *memoryCursor) Next() (domain.Record, bool) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	order := c.store.order
	if len(order) == 0 {
		return domain.Record{}, false
	}

	var id domain.RecordID
	if c.forward {
		pos := 0
		if c.started {
			pos = sort.Search(len(order), func(i int) bool { return order[i] > c.pos })
		}
		if pos >= len(order) {
			return domain.Record{}, false
		}
		id = order[pos]
	} else {
		pos := len(order) - 1
		if c.started {
			pos = sort.Search(len(order), func(i int) bool { return order[i] >= c.pos }) - 1
		}
		if pos < 0 {
			return domain.Record{}, false
		}
		id = order[pos]
	}

	c.pos = id
	c.started = true
	return c.recordLocked(id), true
}

// SeekExact implements domain.Cursor.
func (c *memoryCursor) SeekExact(id domain.RecordID) (domain.Record, bool) {
	c.store.mu.RLock()
	defer c.store.mu.RUnlock()

	if _, exists := c.store.records[id]; !exists {
		return domain.Record{}, false
	}
	c.pos = id
	c.started = true
	return c.recordLocked(id), true
}

func (c *memoryCursor) Close() {}

// recordLocked copies out the record at id. Caller must hold at least the
// read lock, and id must exist.
func (c *memoryCursor) recordLocked(id domain.RecordID) domain.Record {
	rec := c.store.records[id]
	data := make([]byte, len(rec.data))
	copy(data, rec.data)
	return domain.Record{ID: id, Data: data, Timestamp: rec.timestamp}
}
