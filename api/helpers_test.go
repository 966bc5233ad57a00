package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-booking/booking"
	memstore "github.com/warp/tour-booking/booking/store"
)

var (
	tourist      = booking.Actor{UserID: "u-1", Email: "t@example.com", Role: booking.RoleTourist, TouristID: "tourist-1"}
	otherTourist = booking.Actor{UserID: "u-2", Role: booking.RoleTourist, TouristID: "tourist-2"}
	guide        = booking.Actor{UserID: "u-3", Role: booking.RoleGuide, GuideID: "guide-1"}
	otherGuide   = booking.Actor{UserID: "u-4", Role: booking.RoleGuide, GuideID: "guide-2"}
	admin        = booking.Actor{UserID: "u-5", Role: booking.RoleAdmin}
)

// =============================================================================
// FAKES
// =============================================================================

type stubGateway struct {
	mu  sync.Mutex
	err error
	n   int
}

func (g *stubGateway) CreateCheckoutSession(_ context.Context, req booking.CheckoutRequest) (*booking.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.n++
	return &booking.CheckoutSession{ID: "sess-1", URL: "https://pay.example.com/" + string(req.Correlation.PaymentID)}, nil
}

// stubParser accepts {"id","kind","booking_id","payment_id","paid"}.
type stubParser struct{}

func (stubParser) ParseEvent(_ context.Context, raw []byte) (booking.GatewayEvent, error) {
	var in struct {
		ID        string `json:"id"`
		Kind      string `json:"kind"`
		BookingID string `json:"booking_id"`
		PaymentID string `json:"payment_id"`
		Paid      bool   `json:"paid"`
	}
	if err := json.Unmarshal(raw, &in); err != nil || in.ID == "" {
		return booking.GatewayEvent{}, booking.ErrInvalidArgument
	}
	ev := booking.GatewayEvent{ID: in.ID, Type: in.Kind, Payload: raw}
	if in.Kind == "checkout.completed" {
		ev.Kind = booking.EventCheckoutCompleted
		ev.Correlation = booking.Correlation{BookingID: booking.BookingID(in.BookingID), PaymentID: booking.PaymentID(in.PaymentID)}
		ev.Paid = in.Paid
	}
	return ev, nil
}

// =============================================================================
// HARNESS
// =============================================================================

type harness struct {
	t       *testing.T
	now     time.Time
	store   *memstore.Memory
	auth    *Authenticator
	gateway *stubGateway
	handler *Handler
	router  http.Handler
	logs    *test.Hook
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	h := &harness{
		t:       t,
		now:     time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC),
		store:   memstore.NewMemory(),
		auth:    NewAuthenticator("test-secret"),
		gateway: &stubGateway{},
		logs:    hook,
	}
	clock := func() time.Time { return h.now }

	svc := &booking.Service{Store: h.store, Clock: clock, Log: logger}
	h.handler = NewHandler(h.store, svc, logger)
	h.handler.Payments = &booking.PaymentCoordinator{
		Store:   h.store,
		Gateway: h.gateway,
		Clock:   clock,
		Log:     logger,
		Timeout: time.Second,
	}
	h.handler.Reconciler = &booking.Reconciler{Store: h.store, Clock: clock, Log: logger}
	h.handler.Webhooks = stubParser{}
	h.handler.Catalog = h.store
	h.router = NewRouter(h.handler, h.auth, nil)

	require.NoError(t, h.store.SaveListing(context.Background(), booking.Listing{
		ID:       "listing-1",
		GuideID:  "guide-1",
		Title:    "Old Town Walk",
		City:     "Lisbon",
		Price:    decimal.RequireFromString("150.00"),
		IsActive: true,
	}))
	return h
}

// do sends a request as actor (nil for anonymous) and returns the recorder.
func (h *harness) do(method, path string, actor *booking.Actor, body any) *httptest.ResponseRecorder {
	h.t.Helper()

	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(h.t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		token, err := h.auth.IssueToken(*actor, time.Hour)
		require.NoError(h.t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func createBody(listing string, start time.Time, end *time.Time) map[string]any {
	body := map[string]any{"listingId": listing, "startDate": start.Format(time.RFC3339)}
	if end != nil {
		body["endDate"] = end.Format(time.RFC3339)
	}
	return body
}

// book creates a booking as tourist and returns its id.
func (h *harness) book(start time.Time, end *time.Time) string {
	h.t.Helper()
	rec := h.do(http.MethodPost, "/api/bookings", &tourist, createBody("listing-1", start, end))
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BookingDTO](h.t, rec).ID
}

func (h *harness) accept(id string) {
	h.t.Helper()
	rec := h.do(http.MethodPatch, "/api/bookings/"+id, &guide, map[string]string{"status": "ACCEPTED"})
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
}

func ptr(t time.Time) *time.Time { return &t }

var errGatewayDown = errors.New("gateway down")
