package model

import (
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
)

// Sentinel errors for store lookups and compare-and-swap patches.
var (
	// ErrNotFound indicates an unknown record id.
	ErrNotFound = eris.New("record not found")

	// ErrConflict indicates a patch whose expected-prior-status no longer
	// matches the stored status: a stale or duplicate completion. Benign at
	// the worker boundary.
	ErrConflict = eris.New("status precondition failed")
)

// ValidationError reports malformed client input (intake fields, upload
// batches). Surfaced to the submitting client before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// UpstreamError marks a failure of the external reasoning service:
// unreachable, malformed output, or out-of-range values. The record is left
// untouched and the stage is retriable.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// IsUpstream reports whether err is (or wraps) an UpstreamError.
func IsUpstream(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// StorageError marks a blob read/write failure during enrichment. Retriable.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// IsStorage reports whether err is (or wraps) a StorageError.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
