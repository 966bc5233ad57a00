package sqlite

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-booking/booking"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

var t0 = time.Date(2024, 6, 1, 9, 30, 0, 123_000_000, time.UTC)

func seed(t *testing.T, s *Store, bookings ...booking.Booking) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveListing(ctx, booking.Listing{
		ID: "l-1", GuideID: "g-1", Title: "Harbour tour", City: "Sydney",
		Price: decimal.RequireFromString("99.50"), IsActive: true,
	}))
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
		for _, b := range bookings {
			if err := tx.InsertBooking(ctx, b); err != nil {
				return err
			}
		}
		return nil
	}))
}

func newBooking(id string, start time.Time, end *time.Time, status booking.Status, ps booking.PaymentStatus) booking.Booking {
	return booking.Booking{
		ID: booking.BookingID(id), ListingID: "l-1", GuideID: "g-1", TouristID: "t-1",
		StartDate: start, EndDate: end, Status: status, PaymentStatus: ps,
		CreatedAt: start.Add(-24 * time.Hour), UpdatedAt: start.Add(-24 * time.Hour),
	}
}

func TestStore_ListingRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seed(t, s)

	l, err := s.GetListing(context.Background(), "l-1")
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.True(t, l.Price.Equal(decimal.RequireFromString("99.5")))
	assert.True(t, l.Bookable())

	missing, err := s.GetListing(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_BookingTimesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	end := t0.Add(48 * time.Hour)
	seed(t, s, newBooking("b-1", t0, &end, booking.StatusPending, booking.PaymentUnpaid))

	b, err := s.GetBooking(context.Background(), "b-1")
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.True(t, b.StartDate.Equal(t0))
	require.NotNil(t, b.EndDate)
	assert.True(t, b.EndDate.Equal(end))
	assert.Equal(t, booking.StatusPending, b.Status)
}

func TestStore_ListGuideBookingsFiltersStatusAndEnd(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	past := t0.Add(-72 * time.Hour)
	seed(t, s,
		newBooking("active", t0, nil, booking.StatusPending, booking.PaymentUnpaid),
		newBooking("rejected", t0, nil, booking.StatusRejected, booking.PaymentUnpaid),
		newBooking("ended", past, &past, booking.StatusAccepted, booking.PaymentUnpaid),
	)

	got, err := s.ListGuideBookings(ctx, "g-1", booking.BlockingStatuses, t0.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, booking.BookingID("active"), got[0].ID)
}

func TestStore_UpdateBookingStatusIsConditional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, newBooking("b-1", t0, nil, booking.StatusPending, booking.PaymentUnpaid))

	err := s.WithTx(ctx, func(tx booking.Tx) error {
		ok, err := tx.UpdateBookingStatus(ctx, "b-1", booking.StatusPending, booking.StatusAccepted, t0)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = tx.UpdateBookingStatus(ctx, "b-1", booking.StatusPending, booking.StatusRejected, t0)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	b, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, booking.StatusAccepted, b.Status)
}

func TestStore_PaymentUniquePerBooking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, newBooking("b-1", t0, nil, booking.StatusAccepted, booking.PaymentUnpaid))

	p := booking.Payment{
		ID: "p-1", BookingID: "b-1", Amount: decimal.RequireFromString("99.50"), Currency: "USD",
		Status: booking.PaymentPending, TransactionID: "TXN_b-1_1", CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error { return tx.InsertPayment(ctx, p) }))

	dup := p
	dup.ID = "p-2"
	err := s.WithTx(ctx, func(tx booking.Tx) error { return tx.InsertPayment(ctx, dup) })
	assert.ErrorIs(t, err, booking.ErrDuplicatePayment)
	assert.ErrorIs(t, err, booking.ErrConflict)

	payload := json.RawMessage(`{"id":"chrg_1","status":"successful"}`)
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
		ok, err := tx.UpdatePayment(ctx, "p-1", booking.PaymentPaid, payload, t0)
		assert.True(t, ok)
		return err
	}))

	got, err := s.GetPaymentByBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentPaid, got.Status)
	assert.True(t, got.Amount.Equal(p.Amount))
	assert.JSONEq(t, string(payload), string(got.GatewayPayload))

	all, err := s.ListPaymentsByBookings(ctx, []booking.BookingID{"b-1", "b-2"})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStore_CompleteBookings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	end := t0.Add(24 * time.Hour)
	seed(t, s,
		newBooking("paid", t0, &end, booking.StatusAccepted, booking.PaymentPaid),
		newBooking("unpaid", t0.Add(72*time.Hour), nil, booking.StatusAccepted, booking.PaymentPending),
		newBooking("instant", t0.Add(96*time.Hour), nil, booking.StatusAccepted, booking.PaymentPaid),
	)

	cutoff := t0.Add(50 * time.Hour)
	candidates, err := s.ListCompletable(ctx, cutoff)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, booking.BookingID("paid"), candidates[0].ID)

	var done []booking.BookingID
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
		var err error
		done, err = tx.CompleteBookings(ctx, []booking.BookingID{"paid", "unpaid"}, cutoff)
		return err
	}))
	assert.Equal(t, []booking.BookingID{"paid"}, done, "unpaid bookings are never completed")

	// WHEN: a second run completes the same stale selection
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
		var err error
		done, err = tx.CompleteBookings(ctx, []booking.BookingID{"paid"}, cutoff)
		return err
	}))

	// THEN: nothing is reported twice
	assert.Empty(t, done)
}

func TestStore_UpdatePaymentIsConditional(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, newBooking("b-1", t0, nil, booking.StatusAccepted, booking.PaymentPending))
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
		return tx.InsertPayment(ctx, booking.Payment{
			ID: "p-1", BookingID: "b-1", Amount: decimal.RequireFromString("99.50"), Currency: "THB",
			Status: booking.PaymentPending, TransactionID: "TXN_b-1_1", CreatedAt: t0, UpdatedAt: t0,
		})
	}))

	update := func(status booking.PaymentStatus) bool {
		t.Helper()
		var ok bool
		require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error {
			var err error
			ok, err = tx.UpdatePayment(ctx, "p-1", status, nil, t0)
			return err
		}))
		return ok
	}

	// GIVEN: a failed attempt, then two deliveries of the same success
	assert.True(t, update(booking.PaymentUnpaid))
	assert.False(t, update(booking.PaymentUnpaid), "repeated failure changes nothing")
	assert.True(t, update(booking.PaymentPaid))
	assert.False(t, update(booking.PaymentPaid), "only the first success writes")

	// THEN: a late failure can never downgrade PAID
	assert.False(t, update(booking.PaymentUnpaid))

	got, err := s.GetPayment(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, booking.PaymentPaid, got.Status)

	err = s.WithTx(ctx, func(tx booking.Tx) error {
		_, err := tx.UpdatePayment(ctx, "missing", booking.PaymentPaid, nil, t0)
		return err
	})
	assert.ErrorIs(t, err, booking.ErrNotFound)
}

func TestStore_ReviewUniquePerBooking(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s, newBooking("b-1", t0, nil, booking.StatusCompleted, booking.PaymentPaid))

	r := booking.Review{ID: "r-1", BookingID: "b-1", TouristID: "t-1", GuideID: "g-1", Rating: 5, CreatedAt: t0}
	require.NoError(t, s.WithTx(ctx, func(tx booking.Tx) error { return tx.InsertReview(ctx, r) }))

	r.ID = "r-2"
	err := s.WithTx(ctx, func(tx booking.Tx) error { return tx.InsertReview(ctx, r) })
	assert.ErrorIs(t, err, booking.ErrDuplicateReview)

	got, err := s.GetReviewByBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, booking.ReviewID("r-1"), got.ID)
}

func TestStore_ReconciliationRuns(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	finished := t0.Add(time.Second)
	require.NoError(t, s.SaveReconciliationRun(ctx, booking.ReconciliationRun{
		ID: "run-1", Cutoff: t0, Status: booking.RunCompleted, Completed: 2,
		BookingIDs: []booking.BookingID{"a", "b"}, StartedAt: t0, CompletedAt: &finished,
	}))
	require.NoError(t, s.SaveReconciliationRun(ctx, booking.ReconciliationRun{
		ID: "run-2", Cutoff: t0, Status: booking.RunFailed, Error: "boom", StartedAt: t0.Add(time.Minute),
	}))

	runs, err := s.ListReconciliationRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Nil(t, runs[0].CompletedAt)
	assert.Equal(t, []booking.BookingID{"a", "b"}, runs[1].BookingIDs)
	require.NotNil(t, runs[1].CompletedAt)
	assert.True(t, runs[1].CompletedAt.Equal(finished))
}

func TestStore_WithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	seed(t, s)

	err := s.WithTx(ctx, func(tx booking.Tx) error {
		if err := tx.InsertBooking(ctx, newBooking("b-1", t0, nil, booking.StatusPending, booking.PaymentUnpaid)); err != nil {
			return err
		}
		return booking.ErrConflict
	})
	require.ErrorIs(t, err, booking.ErrConflict)

	b, err := s.GetBooking(ctx, "b-1")
	require.NoError(t, err)
	assert.Nil(t, b)
}
