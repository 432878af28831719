package oplog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adfharrison1/go-docstore/pkg/domain"
	"github.com/adfharrison1/go-docstore/pkg/txn"
)

const testNS = domain.Namespace("testdb.events")

func TestLog_OnInsertsAppendsWholeBatch(t *testing.T) {
	l := NewLog()
	unit := txn.New()

	l.OnInserts(unit, testNS, []domain.InsertStatement{
		{StmtID: 0, Doc: domain.Document{"_id": "a"}, RecordID: "r1"},
		{StmtID: 1, Doc: domain.Document{"_id": "b"}, RecordID: "r2"},
	}, false)
	unit.Commit()

	entries := l.EntriesFor(testNS)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryInsert, entries[0].Type)
	assert.Equal(t, domain.RecordID("r1"), entries[0].RecordID)
	assert.Equal(t, int32(1), entries[1].StmtID)
	assert.Less(t, entries[0].LSN, entries[1].LSN)

	doc, err := domain.DecodeDocument(entries[0].Document)
	require.NoError(t, err)
	assert.Equal(t, "a", doc["_id"])
}

func TestLog_AbortRemovesExactlyThisScopesEntries(t *testing.T) {
	l := NewLog()

	committed := txn.New()
	l.OnInserts(committed, testNS, []domain.InsertStatement{
		{Doc: domain.Document{"_id": "keep"}, RecordID: "r1"},
	}, false)
	committed.Commit()

	aborted := txn.New()
	l.OnInserts(aborted, testNS, []domain.InsertStatement{
		{Doc: domain.Document{"_id": "drop"}, RecordID: "r2"},
	}, false)
	l.OnDelete(aborted, testNS, domain.UninitializedStmtID, false, nil)
	aborted.Abort()

	entries := l.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, domain.RecordID("r1"), entries[0].RecordID)
}

func TestLog_DeleteFramedByAboutToDelete(t *testing.T) {
	l := NewLog()
	unit := txn.New()

	doc := domain.Document{"_id": "x", "payload": "data"}
	l.AboutToDelete(unit, testNS, doc)
	l.OnDelete(unit, testNS, 3, true, doc)
	unit.Commit()

	entries := l.EntriesFor(testNS)
	require.Len(t, entries, 2)
	assert.Equal(t, EntryAboutToDelete, entries[0].Type)
	assert.Equal(t, EntryDelete, entries[1].Type)
	assert.Equal(t, int32(3), entries[1].StmtID)
	assert.True(t, entries[1].FromMigrate)

	preImage, err := DecompressPreImage(entries[1].PreImage, entries[1].PreImageSize, entries[1].PreImageCompressed)
	require.NoError(t, err)
	assert.Equal(t, "data", preImage["payload"])
}

func TestLog_OnUpdateRetainsPreImageOnlyWhenEnabled(t *testing.T) {
	tests := []struct {
		name         string
		recording    bool
		wantPreImage bool
	}{
		{name: "recording enabled", recording: true, wantPreImage: true},
		{name: "recording disabled", recording: false, wantPreImage: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLog()
			unit := txn.New()

			l.OnUpdate(unit, domain.UpdateArgs{
				Namespace:                testNS,
				RecordID:                 "r1",
				StmtID:                   domain.UninitializedStmtID,
				PreImageDoc:              domain.Document{"_id": "x", "v": "old"},
				UpdatedDoc:               domain.Document{"_id": "x", "v": "new"},
				PreImageRecordingEnabled: tt.recording,
			})
			unit.Commit()

			entries := l.EntriesFor(testNS)
			require.Len(t, entries, 1)
			assert.Equal(t, EntryUpdate, entries[0].Type)
			if tt.wantPreImage {
				require.NotEmpty(t, entries[0].PreImage)
				preImage, err := DecompressPreImage(entries[0].PreImage, entries[0].PreImageSize, entries[0].PreImageCompressed)
				require.NoError(t, err)
				assert.Equal(t, "old", preImage["v"])
			} else {
				assert.Empty(t, entries[0].PreImage)
			}
		})
	}
}

func TestPreImageCompression_RoundTrip(t *testing.T) {
	doc := domain.Document{
		"_id":  "big",
		"text": "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
	}
	data, size, packed, err := CompressPreImage(doc)
	require.NoError(t, err)
	assert.True(t, packed, "repetitive payload should compress")
	assert.Less(t, len(data), size)

	out, err := DecompressPreImage(data, size, packed)
	require.NoError(t, err)
	assert.Equal(t, doc["text"], out["text"])
}

func TestPreImageCompression_IncompressiblePayloadStoredAsIs(t *testing.T) {
	doc := domain.Document{"_id": "t"}
	data, size, packed, err := CompressPreImage(doc)
	require.NoError(t, err)
	assert.False(t, packed, "tiny payload should be stored raw")
	assert.Equal(t, size, len(data))

	out, err := DecompressPreImage(data, size, packed)
	require.NoError(t, err)
	assert.Equal(t, "t", out["_id"])
}

func TestPreImageCompression_FlagSelectsDecodePath(t *testing.T) {
	// A raw payload whose length happens to differ from no compressed form
	// must still decode purely off the flag, and a compressed payload must
	// never be fed to the raw decoder.
	doc := domain.Document{
		"_id":  "big",
		"text": "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb",
	}
	data, size, packed, err := CompressPreImage(doc)
	require.NoError(t, err)
	require.True(t, packed)

	_, err = DecompressPreImage(data, size, false)
	assert.Error(t, err, "compressed bytes are not a valid raw document")

	raw, err := doc.Encode()
	require.NoError(t, err)
	out, err := DecompressPreImage(raw, len(raw), false)
	require.NoError(t, err)
	assert.Equal(t, doc["text"], out["text"])
}
