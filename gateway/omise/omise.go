/*
Package omise adapts the Omise payment API to the booking gateway ports.

OUTBOUND (booking.Gateway):
  CreateCheckoutSession creates a redirect source and a charge carrying
  booking_id and payment_id metadata. The charge's authorize URI is the
  hosted checkout page the tourist is sent to.

INBOUND (booking.WebhookParser):
  Omise posts {id, key, data}. The body is never trusted: the event is
  re-retrieved by id with the secret key, and only the retrieved copy is
  mapped into a booking.GatewayEvent.

    charge.complete -> EventCheckoutCompleted (Paid when status is successful)
    anything else   -> EventUnknown

The SDK has no context support, so every call runs in a goroutine and the
caller's deadline is enforced around it.
*/
package omise

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/warp/tour-booking/booking"
)

const (
	// DefaultSourceType is a Thai bank redirect and only accepts THB.
	DefaultSourceType = "internet_banking_bbl"

	keyChargeComplete = "charge.complete"
	metaBookingID     = "booking_id"
	metaPaymentID     = "payment_id"
)

// api is the subset of the Omise SDK this package calls.
type api interface {
	CreateSource(op *operations.CreateSource) (*omise.Source, error)
	CreateCharge(op *operations.CreateCharge) (*omise.Charge, error)
	RetrieveEvent(id string) (*omise.Event, error)
}

type sdk struct {
	c *omise.Client
}

func (s sdk) CreateSource(op *operations.CreateSource) (*omise.Source, error) {
	src := &omise.Source{}
	if err := s.c.Do(src, op); err != nil {
		return nil, err
	}
	return src, nil
}

func (s sdk) CreateCharge(op *operations.CreateCharge) (*omise.Charge, error) {
	ch := &omise.Charge{}
	if err := s.c.Do(ch, op); err != nil {
		return nil, err
	}
	return ch, nil
}

func (s sdk) RetrieveEvent(id string) (*omise.Event, error) {
	ev := &omise.Event{}
	if err := s.c.Do(ev, &operations.RetrieveEvent{EventID: id}); err != nil {
		return nil, err
	}
	return ev, nil
}

// Client implements booking.Gateway and booking.WebhookParser.
type Client struct {
	api        api
	sourceType string
	log        logrus.FieldLogger
}

var (
	_ booking.Gateway       = (*Client)(nil)
	_ booking.WebhookParser = (*Client)(nil)
)

// New creates an Omise-backed client. sourceType selects the offsite
// payment method, for example internet_banking_bbl.
func New(publicKey, secretKey, sourceType string, log logrus.FieldLogger) (*Client, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.SetDebug(false)
	if sourceType == "" {
		sourceType = DefaultSourceType
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{api: sdk{c: c}, sourceType: sourceType, log: log}, nil
}

// CreateCheckoutSession implements booking.Gateway.
func (c *Client) CreateCheckoutSession(ctx context.Context, req booking.CheckoutRequest) (*booking.CheckoutSession, error) {
	amount := toSubunits(req.Amount, req.Currency)
	if amount <= 0 {
		return nil, fmt.Errorf("amount must be positive, got %s", req.Amount)
	}

	src, err := call(ctx, func() (*omise.Source, error) {
		return c.api.CreateSource(&operations.CreateSource{
			Type:     c.sourceType,
			Amount:   amount,
			Currency: req.Currency,
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create source: %w", err)
	}

	ch, err := call(ctx, func() (*omise.Charge, error) {
		return c.api.CreateCharge(&operations.CreateCharge{
			Amount:      amount,
			Currency:    req.Currency,
			Source:      src.ID,
			Description: req.Title,
			ReturnURI:   req.SuccessURL,
			Metadata: map[string]any{
				metaBookingID: string(req.Correlation.BookingID),
				metaPaymentID: string(req.Correlation.PaymentID),
				"email":       req.CustomerEmail,
			},
		})
	})
	if err != nil {
		return nil, fmt.Errorf("create charge: %w", err)
	}
	if ch.AuthorizeURI == "" {
		return nil, fmt.Errorf("charge %s has no authorize uri (status %s)", ch.ID, ch.Status)
	}

	c.log.WithFields(logrus.Fields{
		"booking_id": req.Correlation.BookingID,
		"charge_id":  ch.ID,
	}).Debug("omise charge created")

	return &booking.CheckoutSession{ID: ch.ID, URL: ch.AuthorizeURI}, nil
}

type incomingEvent struct {
	ID   string          `json:"id"`
	Key  string          `json:"key"`
	Data json.RawMessage `json:"data"`
}

// ParseEvent implements booking.WebhookParser.
func (c *Client) ParseEvent(ctx context.Context, raw []byte) (booking.GatewayEvent, error) {
	var inc incomingEvent
	if err := json.Unmarshal(raw, &inc); err != nil {
		return booking.GatewayEvent{}, fmt.Errorf("%w: decode webhook: %v", booking.ErrInvalidArgument, err)
	}
	if inc.ID == "" {
		return booking.GatewayEvent{}, fmt.Errorf("%w: webhook has no event id", booking.ErrInvalidArgument)
	}

	// Confirm the event with Omise; the posted body is untrusted.
	ev, err := call(ctx, func() (*omise.Event, error) { return c.api.RetrieveEvent(inc.ID) })
	if err != nil {
		return booking.GatewayEvent{}, &booking.UpstreamError{Op: "retrieve omise event " + inc.ID, Err: err}
	}

	out := booking.GatewayEvent{Kind: booking.EventUnknown, Type: ev.Key, ID: inc.ID}
	switch ev.Key {
	case keyChargeComplete:
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return out, fmt.Errorf("marshal event data: %w", err)
		}
		var ch omise.Charge
		if err := json.Unmarshal(data, &ch); err != nil {
			return out, fmt.Errorf("%w: decode charge: %v", booking.ErrInvalidArgument, err)
		}
		bookingID, _ := ch.Metadata[metaBookingID].(string)
		paymentID, _ := ch.Metadata[metaPaymentID].(string)

		out.Kind = booking.EventCheckoutCompleted
		out.Correlation = booking.Correlation{BookingID: booking.BookingID(bookingID), PaymentID: booking.PaymentID(paymentID)}
		out.Paid = string(ch.Status) == "successful"
		out.Payload = data
	default:
		c.log.WithField("key", ev.Key).Debug("omise event passed through as unknown")
	}
	return out, nil
}

// zeroDecimal lists currencies whose smallest unit is the major unit.
var zeroDecimal = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
}

// toSubunits converts a major-unit amount into the smallest currency unit.
func toSubunits(amount decimal.Decimal, currency string) int64 {
	exp := int32(2)
	if zeroDecimal[strings.ToUpper(currency)] {
		exp = 0
	}
	return amount.Shift(exp).Round(0).IntPart()
}

type result[T any] struct {
	v   T
	err error
}

// call runs fn and returns early with ctx's error if ctx ends first.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	done := make(chan result[T], 1)
	go func() {
		v, err := fn()
		done <- result[T]{v: v, err: err}
	}()
	select {
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("omise call abandoned: %w", ctx.Err())
	case r := <-done:
		return r.v, r.err
	}
}
