package querycache

import (
	"errors"
	"fmt"
)

// CancelledError reports that a fetch was cancelled: either explicitly via
// Cancel/CancelQueries or because a later fetch for the same entry superseded
// it. Cancellations do not transition entry status and are not delivered to
// subscribers as errors.
type CancelledError struct {
	// Revert indicates the entry's pre-fetch state should be restored
	// (set for explicit cancellation, clear for supersession).
	Revert bool
}

func (e *CancelledError) Error() string { return "querycache: fetch cancelled" }

// IsCancelled reports whether err is (or wraps) a CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}

// SelectError wraps a failure thrown by a select transform. It surfaces only
// in the derived Result of the observer whose transform failed; the shared
// entry state is unaffected.
type SelectError struct {
	Err error
}

func (e *SelectError) Error() string { return fmt.Sprintf("querycache: select failed: %v", e.Err) }
func (e *SelectError) Unwrap() error { return e.Err }

// panicError converts a recovered panic value into an error so one bad
// user-supplied function cannot take the process down.
func panicError(rec any) error { return fmt.Errorf("querycache: panic: %v", rec) }
