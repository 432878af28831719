package domain

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Document represents a document in the database
type Document map[string]interface{}

// IDField is the primary identifier field of every document.
const IDField = "_id"

// Encode serializes the document to its stored byte representation. Map keys
// are sorted so the same document always encodes to the same bytes.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetSortMapKeys(true)
	if err := enc.Encode(map[string]interface{}(d)); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDocument deserializes stored bytes back into a Document.
func DecodeDocument(data []byte) (Document, error) {
	var m map[string]interface{}
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return Document(m), nil
}

// ID returns the document's primary identifier, if set.
func (d Document) ID() (interface{}, bool) {
	id, ok := d[IDField]
	return id, ok && id != nil
}

// SetID sets the document's primary identifier.
func (d Document) SetID(id interface{}) {
	d[IDField] = id
}

// ByteSize returns the size of the document's stored representation.
// A document that cannot be encoded has size zero.
func (d Document) ByteSize() int {
	data, err := d.Encode()
	if err != nil {
		return 0
	}
	return len(data)
}

// Clone returns a fully-owned deep copy of the document, with no references
// into caller-managed values. It round-trips through the codec so nested
// maps and slices are copied as well.
func (d Document) Clone() Document {
	data, err := d.Encode()
	if err == nil {
		if out, derr := DecodeDocument(data); derr == nil {
			return out
		}
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}
