package booking

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Correlation ties a gateway session back to local rows. It is sent as
// session metadata and echoed in callbacks.
type Correlation struct {
	BookingID BookingID
	PaymentID PaymentID
}

// Complete reports whether both identifiers are present.
func (c Correlation) Complete() bool {
	return c.BookingID != "" && c.PaymentID != ""
}

type CheckoutRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Title         string
	Description   string
	CustomerEmail string
	Correlation   Correlation
	SuccessURL    string
	CancelURL     string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Gateway is the outbound payment provider port.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// EventKind is the closed set of callback variants the engine understands.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventCheckoutCompleted
)

func (k EventKind) String() string {
	switch k {
	case EventCheckoutCompleted:
		return "checkout_completed"
	default:
		return "unknown"
	}
}

// GatewayEvent is a provider callback already authenticated by a WebhookParser.
type GatewayEvent struct {
	Kind EventKind
	// Type is the provider's own event name, kept for logging.
	Type        string
	ID          string
	Correlation Correlation
	// Paid is true when the provider reports the charge succeeded.
	Paid    bool
	Payload json.RawMessage
}

// WebhookParser authenticates and decodes a raw provider callback.
type WebhookParser interface {
	ParseEvent(ctx context.Context, raw []byte) (GatewayEvent, error)
}
