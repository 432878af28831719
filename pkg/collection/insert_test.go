package collection

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/indexing"
	"github.com/adfharrison1/go-docstore/pkg/oplog"
	"github.com/adfharrison1/go-docstore/pkg/txn"
	"github.com/adfharrison1/go-docstore/pkg/validation"
)

func TestInsertDocuments_BatchIsAtomicAndLogged(t *testing.T) {
	indexes := indexing.NewIndexEngine()
	require.NoError(t, indexes.CreateIndex(testNS, "name"))
	coll, store, l := newLoggedCollection(t, testNS, WithIndexMaintainer(indexes))

	unit := txn.New()
	debug := &OpDebug{}
	err := coll.InsertDocuments(unit, []domain.Document{
		{"_id": "a", "name": "Alice"},
		{"_id": "b", "name": "Bob"},
	}, debug, InsertOptions{})
	require.NoError(t, err)
	unit.Commit()

	assert.Equal(t, int64(2), coll.NumRecords())
	assert.Equal(t, int64(2), debug.KeysInserted)
	assert.Len(t, recordIDs(store), 2)

	// The observer sees the whole batch as one insert event.
	entries := l.EntriesFor(testNS)
	require.Len(t, entries, 2)
	assert.Equal(t, oplog.EntryInsert, entries[0].Type)
	assert.Equal(t, oplog.EntryInsert, entries[1].Type)
}

func TestInsertDocument_StoredBytesAreIdentical(t *testing.T) {
	coll, store, _ := newLoggedCollection(t, testNS, WithClusteredByID())

	doc := domain.Document{"_id": "a", "name": "Alice", "n": "42"}
	mustInsert(t, coll, doc)

	want, err := doc.Encode()
	require.NoError(t, err)
	got, ok := store.Find("a")
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestInsertDocuments_AbortLeavesNoTrace(t *testing.T) {
	indexes := indexing.NewIndexEngine()
	require.NoError(t, indexes.CreateIndex(testNS, "name"))
	coll, store, l := newLoggedCollection(t, testNS, WithIndexMaintainer(indexes))

	unit := txn.New()
	require.NoError(t, coll.InsertDocument(unit, domain.Document{"_id": "a", "name": "Alice"}, nil))
	unit.Abort()

	assert.True(t, coll.IsEmpty())
	assert.Empty(t, recordIDs(store))
	assert.Empty(t, l.Entries())
	idx, ok := indexes.GetIndex(testNS, "name")
	require.True(t, ok)
	assert.Empty(t, idx.Lookup("Alice"))
}

func TestInsertDocuments_ValidatorRejectsBeforeAnyStorage(t *testing.T) {
	schema := domain.Document{
		"type":     "object",
		"required": []interface{}{"name"},
	}
	coll, store, l := newLoggedCollection(t, testNS,
		WithValidator(schema, validation.LevelStrict, validation.ActionError))

	unit := txn.New()
	err := coll.InsertDocuments(unit, []domain.Document{
		{"_id": "good", "name": "x"},
		{"_id": "bad"},
	}, nil, InsertOptions{})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	unit.Abort()

	// The conforming document of the batch was not stored either.
	assert.Empty(t, recordIDs(store))
	assert.Empty(t, l.Entries())
}

func TestInsertDocuments_BypassSkipsValidation(t *testing.T) {
	schema := domain.Document{
		"type":     "object",
		"required": []interface{}{"name"},
	}
	coll, _, _ := newLoggedCollection(t, testNS,
		WithValidator(schema, validation.LevelStrict, validation.ActionError))

	unit := txn.New()
	unit.BypassDocumentValidation = true
	require.NoError(t, coll.InsertDocument(unit, domain.Document{"_id": "bad"}, nil))
	unit.Commit()

	assert.Equal(t, int64(1), coll.NumRecords())
}

func TestInsertDocuments_MissingIDWithIDIndexIsInternalError(t *testing.T) {
	indexes := indexing.NewIndexEngine()
	require.NoError(t, indexes.CreateIndex(testNS, domain.IDField))
	coll, _, _ := newLoggedCollection(t, testNS, WithIndexMaintainer(indexes))

	unit := txn.New()
	err := coll.InsertDocument(unit, domain.Document{"name": "no id"}, nil)
	var ie *domain.InternalError
	require.ErrorAs(t, err, &ie)
	unit.Abort()
}

func TestInsertDocuments_CappedBatchWithIndexesRejected(t *testing.T) {
	indexes := indexing.NewIndexEngine()
	require.NoError(t, indexes.CreateIndex(testNS, "name"))
	coll, _, _ := newLoggedCollection(t, testNS,
		WithCapped(1<<20, 0), WithIndexMaintainer(indexes))

	unit := txn.New()
	err := coll.InsertDocuments(unit, []domain.Document{
		{"_id": "a", "name": "x"},
		{"_id": "b", "name": "y"},
	}, nil, InsertOptions{})
	var be *domain.BatchPolicyError
	require.ErrorAs(t, err, &be)
	unit.Abort()

	// One at a time is fine.
	mustInsert(t, coll, domain.Document{"_id": "a", "name": "x"})
	assert.Equal(t, int64(1), coll.NumRecords())
}

func TestInsertDocuments_ClusteredUsesDocumentID(t *testing.T) {
	coll, store, _ := newLoggedCollection(t, testNS, WithClusteredByID())

	mustInsert(t, coll, domain.Document{"_id": "zebra"})
	mustInsert(t, coll, domain.Document{"_id": "ant"})

	assert.Equal(t, []domain.RecordID{"ant", "zebra"}, recordIDs(store))

	unit := txn.New()
	err := coll.InsertDocument(unit, domain.Document{"no": "id"}, nil)
	assert.Error(t, err)
	unit.Abort()
}

func TestInsertDocuments_IndexFailureAbortsBatch(t *testing.T) {
	boom := errors.New("duplicate key")
	indexes := indexing.NewIndexEngine(indexing.WithIndexFailureOn(func(doc domain.Document) error {
		if doc["name"] == "Bob" {
			return boom
		}
		return nil
	}))
	require.NoError(t, indexes.CreateIndex(testNS, "name"))
	coll, store, l := newLoggedCollection(t, testNS, WithIndexMaintainer(indexes))

	unit := txn.New()
	err := coll.InsertDocuments(unit, []domain.Document{
		{"_id": "a", "name": "Alice"},
		{"_id": "b", "name": "Bob"},
	}, nil, InsertOptions{})
	var ie *domain.IndexError
	require.ErrorAs(t, err, &ie)
	unit.Abort()

	assert.Empty(t, recordIDs(store))
	assert.Empty(t, l.Entries())
}

func TestInsertDocuments_FailPointRejectsUpFront(t *testing.T) {
	boom := errors.New("fail point active")
	coll, store, _ := newLoggedCollection(t, testNS, WithFailPoints(FailPoints{
		FailCollectionInserts: func(ns domain.Namespace, firstDoc domain.Document) error {
			return boom
		},
	}))

	unit := txn.New()
	err := coll.InsertDocument(unit, domain.Document{"_id": "a"}, nil)
	assert.ErrorIs(t, err, boom)
	unit.Abort()
	assert.Empty(t, recordIDs(store))
}

func TestInsertDocuments_HangFailPointRunsAfterWork(t *testing.T) {
	var sawRecords int64
	var coll *Collection
	c, _, _ := newLoggedCollection(t, testNS, WithFailPoints(FailPoints{
		HangAfterCollectionInserts: func(ns domain.Namespace) {
			sawRecords = coll.NumRecords()
		},
	}))
	coll = c

	mustInsert(t, coll, domain.Document{"_id": "a"})
	assert.Equal(t, int64(1), sawRecords, "hook must run after the batch is applied")
}

func TestInsertDocuments_NotifierFiresOnCommitOnly(t *testing.T) {
	coll, _, _ := newLoggedCollection(t, testNS, WithCapped(1<<20, 0))
	notifier := coll.GetCappedInsertNotifier()
	before := notifier.Version()

	unit := txn.New()
	require.NoError(t, coll.InsertDocument(unit, domain.Document{"_id": "a"}, nil))
	assert.Equal(t, before, notifier.Version(), "no notification before commit")
	unit.Abort()
	assert.Equal(t, before, notifier.Version(), "no notification on abort")
}

func TestInsertDocuments_WriteUnitSpansMultipleOperations(t *testing.T) {
	coll, store, _ := newLoggedCollection(t, testNS, WithCapped(1<<20, 0))

	// Several operations on the same replicated capped collection share one
	// write unit; the capped metadata lock is acquired once, not deadlocked
	// on re-entry.
	unit := txn.New()
	require.NoError(t, coll.InsertDocument(unit, domain.Document{"_id": "a"}, nil))
	require.NoError(t, coll.InsertDocument(unit, domain.Document{"_id": "b"}, nil))
	unit.Commit()
	assert.Len(t, recordIDs(store), 2)

	// The lock is released at commit; later writers proceed normally.
	mustInsert(t, coll, domain.Document{"_id": "c"})
	assert.Equal(t, int64(3), coll.NumRecords())
}

func TestInsertDocuments_CappedLockReleasedOnAbort(t *testing.T) {
	coll, _, _ := newLoggedCollection(t, testNS, WithCapped(1<<20, 0))

	unit := txn.New()
	require.NoError(t, coll.InsertDocument(unit, domain.Document{"_id": "a"}, nil))
	unit.Abort()

	mustInsert(t, coll, domain.Document{"_id": "b"})
	assert.Equal(t, int64(1), coll.NumRecords())
}

func TestInsertRecordsForReplication(t *testing.T) {
	coll, store, _ := newLoggedCollection(t, "local.oplog.rs", WithCapped(1<<20, 0))

	data, err := domain.Document{"op": "i"}.Encode()
	require.NoError(t, err)

	unit := txn.New()
	require.NoError(t, coll.InsertRecordsForReplication(unit, []domain.Record{{Data: data, Timestamp: 42}}))
	unit.Commit()

	ids := recordIDs(store)
	require.Len(t, ids, 1)
}

func TestInsertRecordsForReplication_RejectsIndexedCollection(t *testing.T) {
	indexes := indexing.NewIndexEngine()
	require.NoError(t, indexes.CreateIndex(testNS, "name"))
	coll, _, _ := newLoggedCollection(t, testNS, WithIndexMaintainer(indexes))

	unit := txn.New()
	err := coll.InsertRecordsForReplication(unit, []domain.Record{{Data: []byte("raw")}})
	var ie *domain.InternalError
	require.ErrorAs(t, err, &ie)
	unit.Abort()
}
