// Package errs defines the error taxonomy shared across the store, the
// retrieval engine and the provider glue. Callers classify failures with
// errors.Is against these sentinels; packages add context with fmt.Errorf
// and %w.
package errs

import "errors"

var (
	// ErrInvalidInput marks caller mistakes: empty required fields,
	// non-positive top-k. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound marks operations referencing a message or conversation
	// that does not exist where that indicates a caller logic bug.
	ErrNotFound = errors.New("not found")

	// ErrDimensionMismatch marks vectors incompatible for comparison or
	// storage. Never silently coerced.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrProvider marks failures from the external embedding/chat provider,
	// propagated unchanged. Retry policy belongs to the caller.
	ErrProvider = errors.New("provider error")

	// ErrStorage marks underlying persistence failures. The failed operation
	// leaves no partial write behind.
	ErrStorage = errors.New("storage error")

	// ErrCanceled is reported when a retrieval scan is aborted through its
	// context; no partial ranking is returned alongside it.
	ErrCanceled = errors.New("canceled")
)
