package upload

import (
	"errors"
	"fmt"
)

// ErrorKind classifies terminal upload failures.
type ErrorKind string

const (
	// KindConfiguration marks invalid chunk-size bounds or retry settings.
	KindConfiguration ErrorKind = "configuration"
	// KindFileAccess marks a missing, unreadable or irregular source file.
	KindFileAccess ErrorKind = "file_access"
	// KindAcquisition marks a failure to obtain the remote upload token.
	KindAcquisition ErrorKind = "acquisition"
	// KindPermanent marks a non-retryable transfer failure (auth, quota,
	// malformed request, missing resource).
	KindPermanent ErrorKind = "permanent"
	// KindExhaustedRetries marks a transient failure that survived every
	// allowed retry.
	KindExhaustedRetries ErrorKind = "exhausted_retries"
	// KindFinalize marks a token that never reached its completed state
	// after the last chunk.
	KindFinalize ErrorKind = "finalize"
	// KindInvalidState marks an operation on a session in the wrong state.
	KindInvalidState ErrorKind = "invalid_state"
	// KindCancelled marks a session stopped by its context.
	KindCancelled ErrorKind = "cancelled"
)

// Error is a terminal upload failure carrying the progress made before it,
// enough for the caller to decide whether to retry the whole file.
type Error struct {
	Kind          ErrorKind
	ChunkIndex    int
	BytesUploaded int64
	Err           error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("upload failed (%s) at chunk %d after %d bytes", e.Kind, e.ChunkIndex, e.BytesUploaded)
	}
	return fmt.Sprintf("upload failed (%s) at chunk %d after %d bytes: %v", e.Kind, e.ChunkIndex, e.BytesUploaded, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the failure kind from err, or an empty kind when err is
// not an upload error.
func KindOf(err error) ErrorKind {
	var uploadErr *Error
	if errors.As(err, &uploadErr) {
		return uploadErr.Kind
	}
	return ""
}

// classifiedError carries an explicit transient/permanent decision.
type classifiedError struct {
	err       error
	transient bool
}

func (e *classifiedError) Error() string {
	return e.err.Error()
}

func (e *classifiedError) Unwrap() error {
	return e.err
}

func (e *classifiedError) Transient() bool {
	return e.transient
}

// Transient marks err as safe raw material for a retry: the remote state is
// unchanged or the operation is idempotent at this offset.
func Transient(err error) error {
	return &classifiedError{err: err, transient: true}
}

// Permanent marks err as not retryable.
func Permanent(err error) error {
	return &classifiedError{err: err, transient: false}
}

// IsTransient reports whether err carries a retryable classification.
// Transports classify their own errors by implementing Transient() bool;
// unclassified errors are treated as permanent so unknown failures are never
// retried blindly.
func IsTransient(err error) bool {
	var classified interface{ Transient() bool }
	if errors.As(err, &classified) {
		return classified.Transient()
	}
	return false
}
