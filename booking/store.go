/*
store.go - Persistence interface for bookings, payments and reviews

PURPOSE:
  Defines the interface between the lifecycle logic and the database.
  Listings are read-only here; they belong to the catalog.

KEY INTERFACES:
  Reader:  Point lookups and list queries, usable inside or outside a tx
  Tx:      Reader plus the writes one logical operation may perform
  Store:   Reader plus WithTx, the only way to obtain a Tx

TRANSACTIONS:
  Every multi-row mutation of one operation runs inside a single WithTx
  callback. If fn returns an error, everything it wrote is rolled back.

  Writes that depend on a prior read are conditional (UpdateBookingStatus
  takes the expected current status), so a concurrent writer makes the
  write report false instead of silently overwriting.

LOOKUP CONTRACT:
  Get* methods return (nil, nil) when the row does not exist.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite (default) and PostgreSQL
  - booking/store/memory.go: In-memory for tests and demos
*/
package booking

import (
	"context"
	"encoding/json"
	"time"
)

// ListingReader resolves catalog listings.
type ListingReader interface {
	GetListing(ctx context.Context, id ListingID) (*Listing, error)
}

// Reader is the query surface shared by Store and Tx.
type Reader interface {
	ListingReader
	ConflictQuerier

	GetBooking(ctx context.Context, id BookingID) (*Booking, error)
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	GetPaymentByBooking(ctx context.Context, bookingID BookingID) (*Payment, error)
	GetReviewByBooking(ctx context.Context, bookingID BookingID) (*Review, error)

	// FindActiveBooking returns a booking of touristID on listingID whose
	// status is in statuses, or nil.
	FindActiveBooking(ctx context.Context, touristID TouristID, listingID ListingID, statuses []Status) (*Booking, error)

	// ListBookingsByTourist and ListBookingsByGuide return newest first.
	ListBookingsByTourist(ctx context.Context, touristID TouristID) ([]Booking, error)
	ListBookingsByGuide(ctx context.Context, guideID GuideID) ([]Booking, error)

	// ListPaymentsByBookings returns payments keyed by booking id.
	ListPaymentsByBookings(ctx context.Context, ids []BookingID) (map[BookingID]Payment, error)

	// ListCompletable returns ACCEPTED+PAID bookings whose effective end is
	// strictly before cutoff.
	ListCompletable(ctx context.Context, cutoff time.Time) ([]Booking, error)
}

// Tx is a transactional view of the store.
type Tx interface {
	Reader

	// LockGuide serializes booking creation for one guide until the
	// transaction ends.
	LockGuide(ctx context.Context, guideID GuideID) error

	InsertBooking(ctx context.Context, b Booking) error

	// UpdateBookingStatus moves id from `from` to `to` only if the stored
	// status still equals from. It reports whether a row changed.
	UpdateBookingStatus(ctx context.Context, id BookingID, from, to Status, at time.Time) (bool, error)

	UpdateBookingPaymentStatus(ctx context.Context, id BookingID, status PaymentStatus, at time.Time) error

	// InsertPayment returns ErrDuplicatePayment if the booking already has one.
	InsertPayment(ctx context.Context, p Payment) error

	// UpdatePayment sets id to status unless the stored status is already
	// status or PAID, which never changes. It reports whether a row changed
	// and returns ErrNotFound for an unknown id.
	UpdatePayment(ctx context.Context, id PaymentID, status PaymentStatus, payload json.RawMessage, at time.Time) (bool, error)

	// CompleteBookings moves the given ACCEPTED+PAID bookings to COMPLETED
	// and returns the ids this call changed. Rows another transaction
	// already completed are left out.
	CompleteBookings(ctx context.Context, ids []BookingID, at time.Time) ([]BookingID, error)

	// InsertReview returns ErrDuplicateReview if the booking already has one.
	InsertReview(ctx context.Context, r Review) error
}

// Store is the persistence port every component is built on.
type Store interface {
	Reader

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error

	SaveReconciliationRun(ctx context.Context, run ReconciliationRun) error
	ListReconciliationRuns(ctx context.Context, limit int) ([]ReconciliationRun, error)
}
