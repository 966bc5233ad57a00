package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ReviewInput is a tourist's rating of a paid booking.
type ReviewInput struct {
	BookingID BookingID
	Rating    int
	Comment   string
}

// CreateReview records the single review a paid booking may receive.
func (s *Service) CreateReview(ctx context.Context, actor Actor, in ReviewInput) (*Review, error) {
	if !actor.IsTourist() {
		return nil, forbidden("only tourists can create reviews")
	}
	if in.Rating < 1 || in.Rating > 5 {
		return nil, invalid("rating must be between 1 and 5")
	}

	now := s.now()
	var review Review
	err := s.Store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.GetBooking(ctx, in.BookingID)
		if err != nil {
			return fmt.Errorf("loading booking: %w", err)
		}
		if b == nil {
			return notFound("booking %s", in.BookingID)
		}
		if b.TouristID != actor.TouristID {
			return forbidden("booking %s belongs to another tourist", in.BookingID)
		}

		p, err := tx.GetPaymentByBooking(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("loading payment: %w", err)
		}
		if p == nil || p.Status != PaymentPaid {
			return invalid("booking %s must be paid before it can be reviewed", b.ID)
		}

		existing, err := tx.GetReviewByBooking(ctx, b.ID)
		if err != nil {
			return fmt.Errorf("loading review: %w", err)
		}
		if existing != nil {
			return ErrDuplicateReview
		}

		review = Review{
			ID:        ReviewID(uuid.NewString()),
			BookingID: b.ID,
			TouristID: b.TouristID,
			GuideID:   b.GuideID,
			Rating:    in.Rating,
			Comment:   strings.TrimSpace(in.Comment),
			CreatedAt: now,
		}
		return tx.InsertReview(ctx, review)
	})
	if err != nil {
		return nil, err
	}

	s.logger().WithFields(logrus.Fields{"booking_id": review.BookingID, "rating": review.Rating}).Info("review created")
	return &review, nil
}
