package domain

import (
	"errors"
	"fmt"
)

// ErrWriteConflict is returned by the record store when a write conflicts
// with a concurrent transaction. Callers retry the whole logical operation;
// a single conflicting attempt never surfaces to the end user.
var ErrWriteConflict = errors.New("docstore: write conflict")

// ValidationError means a document was rejected by the collection's
// validator predicate. Recoverable; surfaced to the write's caller.
type ValidationError struct {
	Namespace Namespace
	// Detail carries the generated explanation of which sub-predicate
	// failed, when the feature version permits generating one.
	Detail []string
}

func (e *ValidationError) Error() string {
	if len(e.Detail) > 0 {
		return fmt.Sprintf("document failed validation on %s: %v", e.Namespace, e.Detail)
	}
	return fmt.Sprintf("document failed validation on %s", e.Namespace)
}

// APIVersionError means the validator uses expressions incompatible with the
// caller's requested API version. Distinct from a validation mismatch.
type APIVersionError struct {
	Reason string
}

func (e *APIVersionError) Error() string {
	return fmt.Sprintf("validator incompatible with requested API version: %s", e.Reason)
}

// ConstraintError is a fatal contract violation: identifier mismatch on
// update, size change on a capped update, or delete against a capped
// collection. Never retried.
type ConstraintError struct {
	Reason string
}

func (e *ConstraintError) Error() string {
	return "constraint violation: " + e.Reason
}

// BatchPolicyError means a batch cannot be applied as a unit; the caller
// must resubmit as single operations.
type BatchPolicyError struct {
	Reason string
}

func (e *BatchPolicyError) Error() string {
	return "batch cannot be applied: " + e.Reason
}

// IndexError wraps a failure propagated from the index-maintenance layer.
// It aborts the whole atomic write scope.
type IndexError struct {
	Field string
	Err   error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index maintenance failed on field %q: %v", e.Field, e.Err)
}

func (e *IndexError) Unwrap() error {
	return e.Err
}

// InternalError indicates a broken internal precondition, such as a missing
// primary identifier on a collection that requires an identifier index.
type InternalError struct {
	Reason string
}

func (e *InternalError) Error() string {
	return "internal error: " + e.Reason
}
