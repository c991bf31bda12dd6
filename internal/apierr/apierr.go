// Package apierr enumerates NexusMem's error taxonomy as a
// small set of sentinel [Kind] values that wrap an underlying cause. HTTP
// handlers map a [Kind] to a status code; internal callers use
// [errors.Is]/[Is] to branch on kind without string matching.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is one of the closed set of error categories NexusMem reports.
type Kind string

const (
	// InvalidRequest marks malformed or semantically invalid input. Not
	// retryable.
	InvalidRequest Kind = "invalid_request"

	// NotFound marks a lookup that found no matching id/entity.
	NotFound Kind = "not_found"

	// Duplicate marks a write rejected by the Deduplicator in active mode.
	// The caller-visible response carries the existing id.
	Duplicate Kind = "duplicate"

	// ProviderUnavailable marks a transient backend failure; the caller may
	// retry.
	ProviderUnavailable Kind = "provider_unavailable"

	// StorageUnavailable marks a failed PRIMARY write; never silently
	// downgraded to a secondary.
	StorageUnavailable Kind = "storage_unavailable"

	// EmbeddingUnavailable marks an embedding call that exhausted its
	// retries.
	EmbeddingUnavailable Kind = "embedding_unavailable"

	// DeadlineExceeded marks an operation that exceeded its timeout.
	DeadlineExceeded Kind = "deadline_exceeded"

	// InternalError marks an unexpected fault, opaque to the caller.
	InternalError Kind = "internal_error"
)

// Error pairs a [Kind] with an underlying cause and optional caller-visible
// metadata (e.g. the existing id on a [Duplicate] decision).
type Error struct {
	Kind    Kind
	Message string
	Cause   error

	// ExistingID carries the canonical memory id for a [Duplicate] decision.
	ExistingID string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap allows [errors.Is]/[errors.As] to traverse to Cause.
func (e *Error) Unwrap() error { return e.Cause }

// New creates an [*Error] of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an [*Error] of the given kind that wraps cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Is reports whether err (or any error it wraps) is an [*Error] of kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the [Kind] of err, returning [InternalError] when err is
// not (or does not wrap) an [*Error].
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InternalError
}
