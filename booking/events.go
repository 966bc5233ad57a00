package booking

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Routing keys for lifecycle events.
const (
	EventBookingCreated   = "booking.created"
	EventBookingAccepted  = "booking.accepted"
	EventBookingRejected  = "booking.rejected"
	EventBookingCompleted = "booking.completed"
	EventPaymentPaid      = "payment.paid"
	EventPaymentFailed    = "payment.failed"
)

// Publisher delivers lifecycle events to downstream consumers.
type Publisher interface {
	PublishJSON(ctx context.Context, routingKey string, v any) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishJSON(context.Context, string, any) error { return nil }

// LifecycleEvent is the body of every published event.
type LifecycleEvent struct {
	Event         string        `json:"event"`
	BookingID     BookingID     `json:"booking_id"`
	PaymentID     PaymentID     `json:"payment_id,omitempty"`
	ListingID     ListingID     `json:"listing_id,omitempty"`
	GuideID       GuideID       `json:"guide_id,omitempty"`
	TouristID     TouristID     `json:"tourist_id,omitempty"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OccurredAt    time.Time     `json:"occurred_at"`
}

func newLifecycleEvent(name string, b Booking, at time.Time) LifecycleEvent {
	return LifecycleEvent{
		Event:         name,
		BookingID:     b.ID,
		ListingID:     b.ListingID,
		GuideID:       b.GuideID,
		TouristID:     b.TouristID,
		Status:        b.Status,
		PaymentStatus: b.PaymentStatus,
		OccurredAt:    at,
	}
}

// emit publishes after the owning transaction has committed. A failed
// publish is logged and never fails the operation.
func emit(ctx context.Context, pub Publisher, log logrus.FieldLogger, evt LifecycleEvent) {
	if pub == nil {
		return
	}
	if err := pub.PublishJSON(ctx, evt.Event, evt); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"event":      evt.Event,
			"booking_id": evt.BookingID,
		}).Warn("publish lifecycle event failed")
	}
}
