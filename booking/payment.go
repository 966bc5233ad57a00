/*
payment.go - Checkout initiation and gateway callback handling

PURPOSE:
  Coordinates the one payment a booking may have with the external
  gateway. Local state changes and the gateway call never share a
  transaction:

    InitiateCheckout
      1. short tx: reuse or create the PENDING payment row
      2. no tx:    ask the gateway for a hosted checkout session

    HandleGatewayCallback
      1. short tx: apply the outcome to payment and booking together

IDEMPOTENCY:
  - A second InitiateCheckout reuses the existing payment row.
  - A repeated success callback finds the payment already PAID and does
    nothing. A PAID payment is never downgraded by a later callback.

FAILURE MODES:
  - Gateway error or timeout: UpstreamError (retryable). The payment row
    stays PENDING and is reused by the retry.
  - Callback without correlation metadata: logged and dropped, since a
    retry would carry the same payload.
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultCurrency       = "THB"
	DefaultGatewayTimeout = 15 * time.Second
)

type PaymentCoordinator struct {
	Store   Store
	Gateway Gateway
	Clock   Clock
	Events  Publisher
	Log     logrus.FieldLogger

	Currency   string
	SuccessURL string
	CancelURL  string
	// Timeout bounds each gateway call.
	Timeout time.Duration
}

// CheckoutResult is what the tourist needs to complete payment.
type CheckoutResult struct {
	URL       string    `json:"paymentUrl"`
	PaymentID PaymentID `json:"paymentId"`
	SessionID string    `json:"sessionId,omitempty"`
}

func (c *PaymentCoordinator) now() time.Time {
	if c.Clock == nil {
		return SystemClock()
	}
	return c.Clock().UTC()
}

func (c *PaymentCoordinator) logger() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

// =============================================================================
// CHECKOUT
// =============================================================================

// InitiateCheckout prepares the booking's payment and returns a hosted
// checkout URL from the gateway.
func (c *PaymentCoordinator) InitiateCheckout(ctx context.Context, actor Actor, id BookingID) (_ *CheckoutResult, err error) {
	ctx, span := tracer.Start(ctx, "payment.InitiateCheckout")
	span.SetAttributes(attribute.String("booking.id", string(id)))
	defer func() { endSpan(span, err) }()

	if !actor.IsTourist() {
		return nil, forbidden("only tourists can pay for bookings")
	}

	// 1. Reuse or create the payment row. A concurrent initiation may win
	// the insert; the retry then finds and reuses its row.
	var (
		payment *Payment
		listing *Listing
	)
	for attempt := 0; attempt < 2; attempt++ {
		payment, listing, err = c.preparePayment(ctx, actor, id)
		if !errors.Is(err, ErrDuplicatePayment) {
			break
		}
	}
	if err != nil {
		return nil, err
	}

	// 2. Gateway call, outside any transaction
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultGatewayTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session, err := c.Gateway.CreateCheckoutSession(callCtx, CheckoutRequest{
		Amount:        payment.Amount,
		Currency:      payment.Currency,
		Title:         listing.Title,
		Description:   fmt.Sprintf("Booking %s (%s)", id, listing.City),
		CustomerEmail: actor.Email,
		Correlation:   Correlation{BookingID: id, PaymentID: payment.ID},
		SuccessURL:    c.SuccessURL,
		CancelURL:     c.CancelURL,
	})
	if err == nil && (session == nil || session.URL == "") {
		err = errors.New("gateway returned no checkout url")
	}
	if err != nil {
		c.logger().WithError(err).WithFields(logrus.Fields{
			"booking_id": id,
			"payment_id": payment.ID,
		}).Warn("checkout session failed")
		return nil, &UpstreamError{Op: "create checkout session", RetryAfter: 5 * time.Second, Err: err}
	}

	return &CheckoutResult{URL: session.URL, PaymentID: payment.ID, SessionID: session.ID}, nil
}

func (c *PaymentCoordinator) preparePayment(ctx context.Context, actor Actor, id BookingID) (*Payment, *Listing, error) {
	now := c.now()
	var (
		payment *Payment
		listing *Listing
	)
	err := c.Store.WithTx(ctx, func(tx Tx) error {
		b, err := tx.GetBooking(ctx, id)
		if err != nil {
			return fmt.Errorf("loading booking: %w", err)
		}
		if b == nil || b.TouristID != actor.TouristID {
			return notFound("booking %s", id)
		}
		if b.Status != StatusAccepted {
			return invalid("booking %s is %s, payment requires %s", id, b.Status, StatusAccepted)
		}

		listing, err = tx.GetListing(ctx, b.ListingID)
		if err != nil {
			return fmt.Errorf("loading listing: %w", err)
		}
		if listing == nil {
			return notFound("listing %s", b.ListingID)
		}

		existing, err := tx.GetPaymentByBooking(ctx, id)
		if err != nil {
			return fmt.Errorf("loading payment: %w", err)
		}
		if existing != nil {
			if existing.Status == PaymentPaid {
				return conflict("booking %s is already paid", id)
			}
			payment = existing
			return nil
		}

		currency := c.Currency
		if currency == "" {
			currency = DefaultCurrency
		}
		p := Payment{
			ID:            NewPaymentID(),
			BookingID:     id,
			Amount:        listing.Price,
			Currency:      currency,
			Status:        PaymentPending,
			TransactionID: fmt.Sprintf("TXN_%s_%d", id, now.UnixMilli()),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		if err := tx.UpdateBookingPaymentStatus(ctx, id, PaymentPending, now); err != nil {
			return fmt.Errorf("marking booking payment pending: %w", err)
		}
		payment = &p
		return nil
	})
	return payment, listing, err
}

// =============================================================================
// CALLBACKS
// =============================================================================

// HandleGatewayCallback applies an authenticated gateway event. Unknown
// event kinds and events without correlation are logged and ignored.
func (c *PaymentCoordinator) HandleGatewayCallback(ctx context.Context, ev GatewayEvent) (err error) {
	ctx, span := tracer.Start(ctx, "payment.HandleGatewayCallback")
	span.SetAttributes(attribute.String("gateway.event", ev.Type), attribute.String("gateway.kind", ev.Kind.String()))
	defer func() { endSpan(span, err) }()

	switch ev.Kind {
	case EventCheckoutCompleted:
		return c.applyCheckoutCompleted(ctx, ev)
	case EventUnknown:
		c.logger().WithFields(logrus.Fields{"event_id": ev.ID, "event_type": ev.Type}).Info("ignoring unhandled gateway event")
		return nil
	default:
		c.logger().WithFields(logrus.Fields{"event_id": ev.ID, "kind": int(ev.Kind)}).Warn("unrecognised gateway event kind")
		return nil
	}
}

func (c *PaymentCoordinator) applyCheckoutCompleted(ctx context.Context, ev GatewayEvent) error {
	log := c.logger().WithFields(logrus.Fields{
		"event_id":   ev.ID,
		"booking_id": ev.Correlation.BookingID,
		"payment_id": ev.Correlation.PaymentID,
	})
	if !ev.Correlation.Complete() {
		log.Warn("gateway event missing booking or payment metadata")
		return nil
	}

	target := PaymentUnpaid
	if ev.Paid {
		target = PaymentPaid
	}

	now := c.now()
	var (
		changed bool
		updated Booking
	)
	err := c.Store.WithTx(ctx, func(tx Tx) error {
		p, err := tx.GetPayment(ctx, ev.Correlation.PaymentID)
		if err != nil {
			return fmt.Errorf("loading payment: %w", err)
		}
		if p == nil {
			return notFound("payment %s", ev.Correlation.PaymentID)
		}
		if p.BookingID != ev.Correlation.BookingID {
			log.WithField("payment_booking_id", p.BookingID).Warn("gateway event booking does not match payment")
			return nil
		}
		b, err := tx.GetBooking(ctx, p.BookingID)
		if err != nil {
			return fmt.Errorf("loading booking: %w", err)
		}
		if b == nil {
			return notFound("booking %s", p.BookingID)
		}

		switch {
		case p.Status == PaymentPaid && b.PaymentStatus == PaymentPaid:
			log.Info("payment already paid, event ignored")
			return nil
		case p.Status == PaymentPaid:
			// Raising the booking copy to PAID is always safe.
			return tx.UpdateBookingPaymentStatus(ctx, b.ID, PaymentPaid, now)
		case p.Status == target:
			return nil
		}

		// Of two concurrent deliveries only one observes the change.
		ok, err := tx.UpdatePayment(ctx, p.ID, target, ev.Payload, now)
		if err != nil {
			return fmt.Errorf("updating payment: %w", err)
		}
		if !ok {
			log.Info("payment changed concurrently, event ignored")
			return nil
		}
		if err := tx.UpdateBookingPaymentStatus(ctx, b.ID, target, now); err != nil {
			return fmt.Errorf("updating booking payment status: %w", err)
		}
		changed = true
		updated = *b
		updated.PaymentStatus = target
		updated.UpdatedAt = now
		return nil
	})
	if err != nil || !changed {
		return err
	}

	name := EventPaymentFailed
	if target == PaymentPaid {
		name = EventPaymentPaid
	}
	log.WithField("payment_status", target).Info("payment status updated")
	evt := newLifecycleEvent(name, updated, now)
	evt.PaymentID = ev.Correlation.PaymentID
	emit(ctx, c.Events, c.logger(), evt)
	return nil
}
