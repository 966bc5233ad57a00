/*
availability.go - Guide overlap detection

PURPOSE:
  Decides whether a proposed date range conflicts with any blocking
  booking of the same guide. The predicate is pure; the store only
  narrows the candidate set.

RANGE SEMANTICS:
  Ranges are half-open: [start, end). A booking ending on 06-05 and one
  starting on 06-05 touch but do not conflict.

  A range without an end is a single instant p:
    - p conflicts with [s, e) iff s <= p < e
    - two instants conflict iff they are equal

BLOCKING STATUSES:
  PENDING and ACCEPTED hold the guide's time. REJECTED and COMPLETED do not.
  Every caller uses BlockingStatuses so the policy cannot drift.
*/
package booking

import (
	"context"
	"fmt"
	"time"
)

// BlockingStatuses are the booking states that reserve a guide's time.
var BlockingStatuses = []Status{StatusPending, StatusAccepted}

// Range is a booking's reserved time. End is nil for single instants.
type Range struct {
	Start time.Time
	End   *time.Time
}

// NewRange builds a range, copying end so callers cannot alias it.
func NewRange(start time.Time, end *time.Time) Range {
	r := Range{Start: start}
	if end != nil {
		e := *end
		r.End = &e
	}
	return r
}

// IsInstant reports whether the range has no end.
func (r Range) IsInstant() bool { return r.End == nil }

// Contains reports whether the instant t falls inside the range.
func (r Range) Contains(t time.Time) bool {
	if r.End == nil {
		return t.Equal(r.Start)
	}
	return !t.Before(r.Start) && t.Before(*r.End)
}

// Overlaps reports whether two ranges conflict. It is symmetric.
func (r Range) Overlaps(other Range) bool {
	switch {
	case r.End == nil && other.End == nil:
		return r.Start.Equal(other.Start)
	case r.End == nil:
		return other.Contains(r.Start)
	case other.End == nil:
		return r.Contains(other.Start)
	default:
		return r.Start.Before(*other.End) && other.Start.Before(*r.End)
	}
}

func (r Range) String() string {
	const layout = "2006-01-02T15:04:05Z07:00"
	if r.End == nil {
		return fmt.Sprintf("[%s]", r.Start.Format(layout))
	}
	return fmt.Sprintf("[%s, %s)", r.Start.Format(layout), r.End.Format(layout))
}

// ConflictQuerier returns a guide's bookings in the given statuses whose
// effective end is not before endingFrom. The result may be a superset of
// the true conflicts.
type ConflictQuerier interface {
	ListGuideBookings(ctx context.Context, guideID GuideID, statuses []Status, endingFrom time.Time) ([]Booking, error)
}

// FindConflict returns the first booking of guideID in statuses that
// overlaps proposed, or nil.
func FindConflict(ctx context.Context, q ConflictQuerier, guideID GuideID, proposed Range, statuses []Status) (*Booking, error) {
	candidates, err := q.ListGuideBookings(ctx, guideID, statuses, proposed.Start)
	if err != nil {
		return nil, fmt.Errorf("listing guide bookings: %w", err)
	}
	for i := range candidates {
		if candidates[i].Range().Overlaps(proposed) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

// HasConflict reports whether guideID has any booking in statuses that
// overlaps proposed.
func HasConflict(ctx context.Context, q ConflictQuerier, guideID GuideID, proposed Range, statuses []Status) (bool, error) {
	b, err := FindConflict(ctx, q, guideID, proposed, statuses)
	if err != nil {
		return false, err
	}
	return b != nil, nil
}
