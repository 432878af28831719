package collection

import "github.com/adfharrison1/go-docstore/pkg/domain"

// FailPoints are injectable hooks exercised by tests to force rare write-path
// situations. The zero value disables everything.
type FailPoints struct {
	// FailCollectionInserts, when set, is consulted before any insert work
	// begins; a non-nil return fails the whole batch up front.
	FailCollectionInserts func(ns domain.Namespace, firstDoc domain.Document) error

	// HangAfterCollectionInserts, when set, runs after the insert batch has
	// been applied and the commit hooks registered, before returning to the
	// caller.
	HangAfterCollectionInserts func(ns domain.Namespace)

	// CorruptDocumentOnInsert truncates the stored payload of every inserted
	// document, producing records that cannot be decoded.
	CorruptDocumentOnInsert bool

	// AllowSettingMalformedValidator lets a validator that fails to compile
	// be installed anyway.
	AllowSettingMalformedValidator bool
}
