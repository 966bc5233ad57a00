/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All error kinds the engine can return, in one place. Every error that
  leaves an operation unwraps to exactly one of the sentinel kinds below,
  so transports can map them without string matching.

ERROR CATEGORIES:
  1. Forbidden       - actor lacks the required identity or ownership
  2. NotFound        - booking, listing or payment does not exist
  3. InvalidArgument - malformed input or an illegal state transition
  4. Conflict        - overlap, duplicate booking, duplicate review, already paid
  5. UpstreamFailure - payment gateway unreachable or timed out (retryable)

USAGE:

    if errors.Is(err, booking.ErrConflict) {
        // 409
    }

SEE ALSO:
  - api/handlers.go: Maps these kinds to HTTP status codes
*/
package booking

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrConflict        = errors.New("conflict")

	// ErrUpstreamFailure is returned when the payment gateway fails or times out.
	// The caller may retry; no local state needs undoing.
	ErrUpstreamFailure = errors.New("upstream failure")

	// ErrDuplicatePayment is returned by stores when a second payment row is
	// inserted for the same booking.
	ErrDuplicatePayment = fmt.Errorf("%w: payment already exists for booking", ErrConflict)

	// ErrDuplicateReview is returned by stores when a booking already has a review.
	ErrDuplicateReview = fmt.Errorf("%w: booking already reviewed", ErrConflict)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverlapError reports the guide booking that blocks a proposed range.
type OverlapError struct {
	GuideID   GuideID
	Existing  BookingID
	Requested Range
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("guide %s already has booking %s overlapping %s", e.GuideID, e.Existing, e.Requested)
}

func (e *OverlapError) Unwrap() error {
	return ErrConflict
}

// TransitionError reports a lifecycle edge that is not allowed from the
// booking's current state.
type TransitionError struct {
	BookingID BookingID
	From      Status
	To        Status
	Reason    string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("booking %s cannot move %s -> %s: %s", e.BookingID, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("booking %s cannot move %s -> %s", e.BookingID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidArgument
}

// UpstreamError wraps a payment gateway failure.
type UpstreamError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamFailure, e.Err}
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func notFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUpstreamFailure)
}

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
