package booking_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-booking/booking"
)

func TestCreateReview(t *testing.T) {
	f := newFixture(t, date(5, 1, 0))
	b := f.paid(date(6, 1, 0), nil)

	r, err := f.svc.CreateReview(f.ctx, tourist, booking.ReviewInput{BookingID: b.ID, Rating: 5, Comment: "  Great guide  "})
	require.NoError(t, err)
	assert.Equal(t, guideID, r.GuideID)
	assert.Equal(t, "Great guide", r.Comment)

	_, err = f.svc.CreateReview(f.ctx, tourist, booking.ReviewInput{BookingID: b.ID, Rating: 4})
	assert.ErrorIs(t, err, booking.ErrConflict, "one review per booking")
}

func TestCreateReview_Validation(t *testing.T) {
	f := newFixture(t, date(5, 1, 0))
	unpaid := f.accepted(date(6, 1, 0), nil)

	_, err := f.svc.CreateReview(f.ctx, guide, booking.ReviewInput{BookingID: unpaid.ID, Rating: 5})
	assert.ErrorIs(t, err, booking.ErrForbidden)

	for _, rating := range []int{0, 6} {
		_, err = f.svc.CreateReview(f.ctx, tourist, booking.ReviewInput{BookingID: unpaid.ID, Rating: rating})
		assert.ErrorIs(t, err, booking.ErrInvalidArgument, "rating %d", rating)
	}

	_, err = f.svc.CreateReview(f.ctx, tourist, booking.ReviewInput{BookingID: "missing", Rating: 5})
	assert.ErrorIs(t, err, booking.ErrNotFound)

	_, err = f.svc.CreateReview(f.ctx, booking.Actor{TouristID: "tourist-2"}, booking.ReviewInput{BookingID: unpaid.ID, Rating: 5})
	assert.ErrorIs(t, err, booking.ErrForbidden)

	_, err = f.svc.CreateReview(f.ctx, tourist, booking.ReviewInput{BookingID: unpaid.ID, Rating: 5})
	assert.ErrorIs(t, err, booking.ErrInvalidArgument, "payment must be completed")
}
