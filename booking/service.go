/*
service.go - Booking creation and guide-driven transitions

PURPOSE:
  Orchestrates the booking state machine:
  1. Creation: tourist requests a guide for a listing and a date range
  2. Pending: guide time is held so no other booking can overlap it
  3. Decision: guide accepts or rejects
  4. Completion: only the Reconciler, once paid and finished

STATE MACHINE:

    PENDING ──accept──▶ ACCEPTED ──reconcile (PAID, ended)──▶ COMPLETED
       │
       └────reject────▶ REJECTED

CONCURRENCY:
  Create runs its overlap check and insert inside one transaction holding
  the guide lock, so two racing requests for the same slot cannot both
  succeed. Transition writes conditionally on the status it read; the
  loser of a race gets a TransitionError.

EXAMPLE:
  svc := &Service{Store: store, Clock: booking.SystemClock, Log: logger}

  b, err := svc.Create(ctx, touristActor, CreateInput{ListingID: "l-1", StartDate: start})
  b, err = svc.Transition(ctx, guideActor, b.ID, StatusAccepted)

SEE ALSO:
  - availability.go: Overlap predicate
  - status.go: Transition table
  - reconcile.go: ACCEPTED -> COMPLETED
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// =============================================================================
// BOOKING SERVICE
// =============================================================================

type Service struct {
	Store  Store
	Clock  Clock
	Events Publisher
	Log    logrus.FieldLogger
}

// CreateInput is a tourist's booking request.
type CreateInput struct {
	ListingID ListingID
	StartDate time.Time
	EndDate   *time.Time
}

func (s *Service) now() time.Time {
	if s.Clock == nil {
		return SystemClock()
	}
	return s.Clock().UTC()
}

func (s *Service) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// Create validates and records a new PENDING booking for the actor.
func (s *Service) Create(ctx context.Context, actor Actor, in CreateInput) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.Create")
	defer func() { endSpan(span, err) }()

	// 1. Identity
	if !actor.IsTourist() {
		return nil, forbidden("only tourists can create bookings")
	}

	// 2. Dates, compared in UTC against the injected clock
	now := s.now()
	proposed := NewRange(in.StartDate.UTC(), nil)
	if in.EndDate != nil {
		end := in.EndDate.UTC()
		proposed.End = &end
	}
	if !proposed.Start.After(now) {
		return nil, invalid("start date must be in the future")
	}
	if proposed.End != nil && !proposed.End.After(proposed.Start) {
		return nil, invalid("end date must be after start date")
	}

	b := Booking{
		ID:            NewBookingID(),
		ListingID:     in.ListingID,
		TouristID:     actor.TouristID,
		StartDate:     proposed.Start,
		EndDate:       proposed.End,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// 3. Listing, duplicate and overlap checks plus insert, atomically
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		listing, err := tx.GetListing(ctx, in.ListingID)
		if err != nil {
			return fmt.Errorf("loading listing: %w", err)
		}
		if !listing.Bookable() {
			return notFound("listing %s", in.ListingID)
		}
		b.GuideID = listing.GuideID

		if err := tx.LockGuide(ctx, listing.GuideID); err != nil {
			return fmt.Errorf("locking guide: %w", err)
		}

		dup, err := tx.FindActiveBooking(ctx, actor.TouristID, in.ListingID, BlockingStatuses)
		if err != nil {
			return fmt.Errorf("checking existing booking: %w", err)
		}
		if dup != nil {
			return conflict("tourist already has an active booking %s for listing %s", dup.ID, in.ListingID)
		}

		existing, err := FindConflict(ctx, tx, listing.GuideID, proposed, BlockingStatuses)
		if err != nil {
			return err
		}
		if existing != nil {
			return &OverlapError{GuideID: listing.GuideID, Existing: existing.ID, Requested: proposed}
		}

		return tx.InsertBooking(ctx, b)
	})
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String("booking.id", string(b.ID)), attribute.String("guide.id", string(b.GuideID)))
	s.logger().WithFields(logrus.Fields{
		"booking_id": b.ID,
		"guide_id":   b.GuideID,
		"tourist_id": b.TouristID,
	}).Info("booking created")
	emit(ctx, s.Events, s.logger(), newLifecycleEvent(EventBookingCreated, b, now))

	return &b, nil
}

// Transition applies a guide decision (ACCEPTED or REJECTED) to a PENDING booking.
func (s *Service) Transition(ctx context.Context, actor Actor, id BookingID, next Status) (_ *Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.Transition")
	span.SetAttributes(attribute.String("booking.id", string(id)), attribute.String("booking.next", string(next)))
	defer func() { endSpan(span, err) }()

	if !actor.IsGuide() {
		return nil, forbidden("only guides can update booking status")
	}
	if !guideTransitions[next] {
		return nil, invalid("status must be %s or %s", StatusAccepted, StatusRejected)
	}

	now := s.now()
	var updated Booking
	err = s.Store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return fmt.Errorf("loading booking: %w", err)
		}
		if b == nil {
			return notFound("booking %s", id)
		}
		if b.GuideID != actor.GuideID {
			return forbidden("booking %s belongs to another guide", id)
		}
		if b.Status != StatusPending || !b.Status.CanTransitionTo(next) {
			return &TransitionError{BookingID: id, From: b.Status, To: next}
		}

		p, err := tx.GetPaymentByBooking(ctx, id)
		if err != nil {
			return fmt.Errorf("loading payment: %w", err)
		}
		if p != nil && p.Status == PaymentPaid {
			return &TransitionError{BookingID: id, From: b.Status, To: next, Reason: "booking is already paid"}
		}

		ok, err := tx.UpdateBookingStatus(ctx, id, StatusPending, next, now)
		if err != nil {
			return fmt.Errorf("updating booking status: %w", err)
		}
		if !ok {
			return &TransitionError{BookingID: id, From: b.Status, To: next, Reason: "booking changed concurrently"}
		}

		updated = *b
		updated.Status = next
		updated.UpdatedAt = now
		return nil
	})
	if err != nil {
		return nil, err
	}

	name := EventBookingAccepted
	if next == StatusRejected {
		name = EventBookingRejected
	}
	s.logger().WithFields(logrus.Fields{"booking_id": id, "status": next}).Info("booking transitioned")
	emit(ctx, s.Events, s.logger(), newLifecycleEvent(name, updated, now))

	return &updated, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// ListForTourist returns the actor's bookings, newest first, with payments attached.
func (s *Service) ListForTourist(ctx context.Context, actor Actor) ([]Booking, error) {
	if !actor.IsTourist() {
		return nil, forbidden("only tourists have tourist bookings")
	}
	bookings, err := s.Store.ListBookingsByTourist(ctx, actor.TouristID)
	if err != nil {
		return nil, fmt.Errorf("listing tourist bookings: %w", err)
	}
	return s.attachPayments(ctx, bookings)
}

// ListForGuide returns bookings assigned to the actor, newest first.
func (s *Service) ListForGuide(ctx context.Context, actor Actor) ([]Booking, error) {
	if !actor.IsGuide() {
		return nil, forbidden("only guides have guide bookings")
	}
	bookings, err := s.Store.ListBookingsByGuide(ctx, actor.GuideID)
	if err != nil {
		return nil, fmt.Errorf("listing guide bookings: %w", err)
	}
	return s.attachPayments(ctx, bookings)
}

// Get returns one booking visible to its tourist, its guide or an admin.
func (s *Service) Get(ctx context.Context, actor Actor, id BookingID) (*Booking, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading booking: %w", err)
	}
	if b == nil {
		return nil, notFound("booking %s", id)
	}
	owner := (actor.IsTourist() && b.TouristID == actor.TouristID) ||
		(actor.IsGuide() && b.GuideID == actor.GuideID)
	if !owner && !actor.IsAdmin() {
		// Hide existence from unrelated callers.
		return nil, notFound("booking %s", id)
	}
	p, err := s.Store.GetPaymentByBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading payment: %w", err)
	}
	b.Payment = p
	return b, nil
}

func (s *Service) attachPayments(ctx context.Context, bookings []Booking) ([]Booking, error) {
	if len(bookings) == 0 {
		return bookings, nil
	}
	ids := make([]BookingID, len(bookings))
	for i, b := range bookings {
		ids[i] = b.ID
	}
	payments, err := s.Store.ListPaymentsByBookings(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("listing payments: %w", err)
	}
	for i := range bookings {
		if p, ok := payments[bookings[i].ID]; ok {
			p := p
			bookings[i].Payment = &p
		}
	}
	return bookings, nil
}
