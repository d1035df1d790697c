// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound signals that a lookup target does not exist or is inaccessible.
// Terminal for that lookup, never fatal to a batch.
var ErrNotFound = errors.New("not found")

// RateLimitError is returned when the upstream reports an exhausted request
// budget. Callers wait until Reset (plus a safety margin) and retry.
type RateLimitError struct {
	Reset time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exhausted, resets at %s", e.Reset.Format(time.RFC3339))
}

// TransientError wraps a failure worth retrying with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return fmt.Sprintf("transient upstream error: %v", e.Err) }
func (e *TransientError) Unwrap() error { return e.Err }

// ValidationError reports a malformed identifier. Routed to repair-or-skip,
// never retried.
type ValidationError struct {
	Key      string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid project key %q: %v", e.Key, e.Problems)
}

// ResourceLimitError reports a clone that exceeds the configured size cap.
type ResourceLimitError struct {
	SizeBytes  int64
	LimitBytes int64
}

func (e *ResourceLimitError) Error() string {
	return fmt.Sprintf("repository size %d bytes exceeds limit of %d bytes", e.SizeBytes, e.LimitBytes)
}

// ScannerError reports a failed or timed-out scanner invocation. The unit of
// work is skipped; a separate recovery pass may retry it.
type ScannerError struct {
	ProjectKey string
	Err        error
}

func (e *ScannerError) Error() string {
	return fmt.Sprintf("scanner failed for %s: %v", e.ProjectKey, e.Err)
}
func (e *ScannerError) Unwrap() error { return e.Err }

// PersistenceError reports a failed snapshot write. The prior on-disk state
// is left untouched.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist %s: %v", e.Path, e.Err)
}
func (e *PersistenceError) Unwrap() error { return e.Err }
