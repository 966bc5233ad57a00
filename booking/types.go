/*
Package booking provides the reservation and payment lifecycle engine.

PURPOSE:
  This package owns the lifecycle of a guide booking: who may create it,
  which date ranges a guide can commit to, how a guide accepts or rejects
  it, how payment is coordinated with the external gateway, and when a
  finished tour is reconciled into COMPLETED.

KEY CONCEPTS IN THIS FILE (types.go):
  - Booking:  One reservation of a guide by a tourist for a listing
  - Payment:  The single monetary transaction attached to a booking
  - Listing:  Read-only catalog entry supplying guide and price
  - Review:   At most one per booking, created after payment
  - Actor:    The resolved identity performing an operation

DESIGN PRINCIPLES:
  1. Soft lifecycle: bookings are never deleted, only transitioned
  2. Precision: money uses decimal.Decimal, never float64
  3. Type safety: distinct ID types prevent mixing booking/payment IDs
  4. Explicit transactions: every multi-row change goes through TxStore.WithTx

SEE ALSO:
  - status.go: Transition table for the state machine
  - availability.go: Guide overlap predicate
  - service.go: Create / Transition operations
  - payment.go: Checkout and gateway callbacks
  - reconcile.go: Batch completion of finished tours
*/
package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type BookingID string
type PaymentID string
type ListingID string
type GuideID string
type TouristID string
type ReviewID string

// NewBookingID returns a fresh random booking identifier.
func NewBookingID() BookingID { return BookingID(uuid.NewString()) }

// NewPaymentID returns a fresh random payment identifier.
func NewPaymentID() PaymentID { return PaymentID(uuid.NewString()) }

// =============================================================================
// BOOKING
// =============================================================================

// Booking is a single guide-tourist reservation and its lifecycle state.
type Booking struct {
	ID        BookingID
	ListingID ListingID
	GuideID   GuideID
	TouristID TouristID

	// StartDate is always stored in UTC.
	StartDate time.Time
	// EndDate is nil for single-instant bookings.
	EndDate *time.Time

	Status        Status
	PaymentStatus PaymentStatus

	CreatedAt time.Time
	UpdatedAt time.Time

	// Payment is only populated by listing queries.
	Payment *Payment
}

// Range returns the booking's reserved time range.
func (b Booking) Range() Range {
	return Range{Start: b.StartDate, End: b.EndDate}
}

// EffectiveEnd is EndDate, or StartDate for single-instant bookings.
func (b Booking) EffectiveEnd() time.Time {
	if b.EndDate != nil {
		return *b.EndDate
	}
	return b.StartDate
}

// CompletableBy reports whether reconciliation may complete the booking
// for the given cutoff.
func (b Booking) CompletableBy(cutoff time.Time) bool {
	return b.Status == StatusAccepted &&
		b.PaymentStatus == PaymentPaid &&
		b.EffectiveEnd().Before(cutoff)
}

// =============================================================================
// PAYMENT
// =============================================================================

// Payment is the single monetary transaction tied to a booking.
type Payment struct {
	ID        PaymentID
	BookingID BookingID
	Amount    decimal.Decimal
	Currency  string
	Status    PaymentStatus

	// TransactionID is the external reference sent to the gateway.
	TransactionID string

	// GatewayPayload is the raw body of the last gateway event applied.
	GatewayPayload json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// LISTING (external, read-only)
// =============================================================================

// Listing is the catalog entry a booking references.
type Listing struct {
	ID        ListingID
	GuideID   GuideID
	Title     string
	City      string
	Price     decimal.Decimal
	IsActive  bool
	IsDeleted bool
}

// Bookable reports whether new bookings may reference the listing.
func (l *Listing) Bookable() bool {
	return l != nil && l.IsActive && !l.IsDeleted
}

// =============================================================================
// REVIEW
// =============================================================================

type Review struct {
	ID        ReviewID
	BookingID BookingID
	TouristID TouristID
	GuideID   GuideID
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// =============================================================================
// ACTOR - identity context resolved by the caller
// =============================================================================

type Role string

const (
	RoleTourist    Role = "TOURIST"
	RoleGuide      Role = "GUIDE"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// Actor is the authenticated caller. The engine never authenticates;
// it only authorizes against these fields.
type Actor struct {
	UserID    string
	Email     string
	Role      Role
	TouristID TouristID
	GuideID   GuideID
}

func (a Actor) IsTourist() bool { return a.TouristID != "" }
func (a Actor) IsGuide() bool   { return a.GuideID != "" }
func (a Actor) IsAdmin() bool   { return a.Role == RoleAdmin || a.Role == RoleSuperAdmin }

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationRun records one execution of the completion batch.
type ReconciliationRun struct {
	ID          string
	Cutoff      time.Time
	Status      RunStatus
	Completed   int
	BookingIDs  []BookingID
	Error       string
	StartedAt   time.Time
	CompletedAt *time.Time
}
