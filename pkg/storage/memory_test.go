package storage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

func TestMemoryRecordStore_InsertAssignsOrderedIDs(t *testing.T) {
	store := NewMemoryRecordStore()
	unit := txn.New()

	id1, err := store.Insert(unit, domain.NilRecordID, []byte("one"), 0)
	require.NoError(t, err)
	id2, err := store.Insert(unit, domain.NilRecordID, []byte("two"), 0)
	require.NoError(t, err)

	assert.True(t, id1 < id2, "assignment order must equal lexicographic order")
	assert.Equal(t, int64(2), store.NumRecords())
	assert.Equal(t, int64(6), store.DataSize())
	unit.Commit()
}

func TestMemoryRecordStore_InsertWithExplicitID(t *testing.T) {
	store := NewMemoryRecordStore()
	unit := txn.New()

	id, err := store.Insert(unit, "user-7", []byte("payload"), 0)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordID("user-7"), id)

	_, err = store.Insert(unit, "user-7", []byte("dup"), 0)
	assert.Error(t, err)
	unit.Commit()
}

func TestMemoryRecordStore_AbortUndoesEverything(t *testing.T) {
	store := NewMemoryRecordStore()

	setup := txn.New()
	id, err := store.Insert(setup, domain.NilRecordID, []byte("keep"), 0)
	require.NoError(t, err)
	setup.Commit()

	unit := txn.New()
	_, err = store.Insert(unit, domain.NilRecordID, []byte("discard"), 0)
	require.NoError(t, err)
	require.NoError(t, store.Update(unit, id, []byte("changed")))
	unit.Abort()

	assert.Equal(t, int64(1), store.NumRecords())
	data, ok := store.Find(id)
	require.True(t, ok)
	assert.Equal(t, []byte("keep"), data)
	assert.Equal(t, int64(4), store.DataSize())
}

func TestMemoryRecordStore_InsertBatchAssignsIDs(t *testing.T) {
	store := NewMemoryRecordStore()
	unit := txn.New()

	records := []domain.Record{
		{Data: []byte("a")},
		{ID: "explicit", Data: []byte("b")},
		{Data: []byte("c")},
	}
	out, err := store.InsertBatch(unit, records)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.False(t, out[0].ID.IsNil())
	assert.Equal(t, domain.RecordID("explicit"), out[1].ID)
	assert.Equal(t, int64(3), store.NumRecords())
	unit.Commit()
}

func TestMemoryRecordStore_InsertBatchFailureLeavesNoEffects(t *testing.T) {
	store := NewMemoryRecordStore()

	setup := txn.New()
	_, err := store.Insert(setup, "taken", []byte("x"), 0)
	require.NoError(t, err)
	setup.Commit()

	unit := txn.New()
	_, err = store.InsertBatch(unit, []domain.Record{
		{Data: []byte("a")},
		{ID: "taken", Data: []byte("b")},
	})
	require.Error(t, err)
	assert.Equal(t, int64(1), store.NumRecords())
	unit.Abort()
	assert.Equal(t, int64(1), store.NumRecords())
}

func TestMemoryRecordStore_DeleteAndUndo(t *testing.T) {
	store := NewMemoryRecordStore()

	setup := txn.New()
	id, err := store.Insert(setup, domain.NilRecordID, []byte("doomed"), 0)
	require.NoError(t, err)
	setup.Commit()

	unit := txn.New()
	require.NoError(t, store.Delete(unit, id))
	assert.Equal(t, int64(0), store.NumRecords())
	unit.Abort()

	_, ok := store.Find(id)
	assert.True(t, ok)
	assert.Equal(t, int64(6), store.DataSize())
}

func TestMemoryRecordStore_ConflictOnDelete(t *testing.T) {
	var target domain.RecordID
	store := NewMemoryRecordStore(WithConflictOn(func(id domain.RecordID) bool {
		return id == target
	}))

	setup := txn.New()
	id, err := store.Insert(setup, domain.NilRecordID, []byte("x"), 0)
	require.NoError(t, err)
	setup.Commit()
	target = id

	unit := txn.New()
	err = store.Delete(unit, id)
	assert.ErrorIs(t, err, domain.ErrWriteConflict)
	unit.Abort()
}

func TestMemoryRecordStore_UpdateWithDamages(t *testing.T) {
	store := NewMemoryRecordStore()

	setup := txn.New()
	id, err := store.Insert(setup, domain.NilRecordID, []byte("hello world"), 0)
	require.NoError(t, err)
	setup.Commit()

	unit := txn.New()
	patched, err := store.UpdateWithDamages(unit, id, []byte("WORLD"), []domain.Damage{
		{SourceOffset: 0, TargetOffset: 6, Size: 5},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello WORLD"), patched)
	unit.Abort()

	data, ok := store.Find(id)
	require.True(t, ok)
	assert.Equal(t, []byte("hello world"), data)
}

func TestMemoryRecordStore_CappedTruncateAfter(t *testing.T) {
	tests := []struct {
		name      string
		inclusive bool
		wantLeft  int64
	}{
		{name: "exclusive keeps the end record", inclusive: false, wantLeft: 3},
		{name: "inclusive removes the end record", inclusive: true, wantLeft: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewMemoryRecordStore()
			setup := txn.New()
			var ids []domain.RecordID
			for i := 0; i < 5; i++ {
				id, err := store.Insert(setup, domain.NilRecordID, []byte(fmt.Sprintf("doc-%d", i)), 0)
				require.NoError(t, err)
				ids = append(ids, id)
			}
			setup.Commit()

			unit := txn.New()
			require.NoError(t, store.CappedTruncateAfter(unit, ids[2], tt.inclusive))
			assert.Equal(t, tt.wantLeft, store.NumRecords())

			unit.Abort()
			assert.Equal(t, int64(5), store.NumRecords())
		})
	}
}

func TestMemoryCursor_ForwardAndReverse(t *testing.T) {
	store := NewMemoryRecordStore()
	setup := txn.New()
	var ids []domain.RecordID
	for i := 0; i < 3; i++ {
		id, err := store.Insert(setup, domain.NilRecordID, []byte{byte(i)}, 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	setup.Commit()

	forward := store.Cursor(true)
	defer forward.Close()
	var seen []domain.RecordID
	for {
		rec, ok := forward.Next()
		if !ok {
			break
		}
		seen = append(seen, rec.ID)
	}
	assert.Equal(t, ids, seen)

	reverse := store.Cursor(false)
	defer reverse.Close()
	rec, ok := reverse.Next()
	require.True(t, ok)
	assert.Equal(t, ids[2], rec.ID)
}

func TestMemoryCursor_SurvivesDeleteBehindIt(t *testing.T) {
	store := NewMemoryRecordStore()
	setup := txn.New()
	var ids []domain.RecordID
	for i := 0; i < 3; i++ {
		id, err := store.Insert(setup, domain.NilRecordID, []byte{byte(i)}, 0)
		require.NoError(t, err)
		ids = append(ids, id)
	}
	setup.Commit()

	cursor := store.Cursor(true)
	defer cursor.Close()

	rec, ok := cursor.Next()
	require.True(t, ok)
	assert.Equal(t, ids[0], rec.ID)

	// Advance, then delete the record the cursor previously stood on.
	rec, ok = cursor.Next()
	require.True(t, ok)
	assert.Equal(t, ids[1], rec.ID)

	unit := txn.New()
	require.NoError(t, store.Delete(unit, ids[0]))
	require.NoError(t, store.Delete(unit, ids[1]))
	unit.Commit()

	rec, ok = cursor.Next()
	require.True(t, ok)
	assert.Equal(t, ids[2], rec.ID)
}

func TestMemoryCursor_SeekExact(t *testing.T) {
	store := NewMemoryRecordStore()
	setup := txn.New()
	id, err := store.Insert(setup, "target", []byte("data"), 0)
	require.NoError(t, err)
	setup.Commit()

	cursor := store.Cursor(true)
	defer cursor.Close()

	rec, ok := cursor.SeekExact(id)
	require.True(t, ok)
	assert.Equal(t, []byte("data"), rec.Data)

	_, ok = cursor.SeekExact("missing")
	assert.False(t, ok)
}
