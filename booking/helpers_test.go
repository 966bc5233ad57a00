package booking_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/warp/tour-booking/booking"
	memstore "github.com/warp/tour-booking/booking/store"
)

const (
	guideID   booking.GuideID   = "guide-1"
	touristID booking.TouristID = "tourist-1"
	listingID booking.ListingID = "listing-1"
)

var (
	tourist = booking.Actor{UserID: "u-tourist", Email: "t@example.com", Role: booking.RoleTourist, TouristID: touristID}
	guide   = booking.Actor{UserID: "u-guide", Role: booking.RoleGuide, GuideID: guideID}
	admin   = booking.Actor{UserID: "u-admin", Role: booking.RoleAdmin}
)

func date(month time.Month, day, hour int) time.Time {
	return time.Date(2024, month, day, hour, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

// =============================================================================
// FIXTURE
// =============================================================================

type fixture struct {
	t       *testing.T
	ctx     context.Context
	store   booking.Store
	now     time.Time
	svc     *booking.Service
	pay     *booking.PaymentCoordinator
	rec     *booking.Reconciler
	gateway *fakeGateway
	events  *recordingPublisher
	logs    *test.Hook
}

type listingSaver interface {
	SaveListing(ctx context.Context, l booking.Listing) error
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memstore.NewMemory(), now)
}

func newFixtureWithStore(t *testing.T, store booking.Store, now time.Time) *fixture {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	f := &fixture{
		t:       t,
		ctx:     context.Background(),
		store:   store,
		now:     now,
		gateway: &fakeGateway{},
		events:  &recordingPublisher{},
		logs:    hook,
	}
	clock := func() time.Time { return f.now }

	f.svc = &booking.Service{Store: store, Clock: clock, Events: f.events, Log: logger}
	f.pay = &booking.PaymentCoordinator{
		Store:      store,
		Gateway:    f.gateway,
		Clock:      clock,
		Events:     f.events,
		Log:        logger,
		SuccessURL: "https://example.com/success",
		CancelURL:  "https://example.com/cancel",
		Timeout:    time.Second,
	}
	f.rec = &booking.Reconciler{Store: store, Clock: clock, Events: f.events, Log: logger}

	f.saveListing(booking.Listing{
		ID:       listingID,
		GuideID:  guideID,
		Title:    "Old Town Walk",
		City:     "Lisbon",
		Price:    decimal.RequireFromString("150.00"),
		IsActive: true,
	})
	return f
}

func (f *fixture) saveListing(l booking.Listing) {
	f.t.Helper()
	saver, ok := f.store.(listingSaver)
	require.True(f.t, ok, "store cannot seed listings")
	require.NoError(f.t, saver.SaveListing(f.ctx, l))
}

func (f *fixture) create(start time.Time, end *time.Time) *booking.Booking {
	f.t.Helper()
	b, err := f.svc.Create(f.ctx, tourist, booking.CreateInput{ListingID: listingID, StartDate: start, EndDate: end})
	require.NoError(f.t, err)
	return b
}

func (f *fixture) accepted(start time.Time, end *time.Time) *booking.Booking {
	f.t.Helper()
	b := f.create(start, end)
	b, err := f.svc.Transition(f.ctx, guide, b.ID, booking.StatusAccepted)
	require.NoError(f.t, err)
	return b
}

// paid walks a booking through accept, checkout and a successful callback.
func (f *fixture) paid(start time.Time, end *time.Time) *booking.Booking {
	f.t.Helper()
	b := f.accepted(start, end)
	res, err := f.pay.InitiateCheckout(f.ctx, tourist, b.ID)
	require.NoError(f.t, err)
	require.NoError(f.t, f.pay.HandleGatewayCallback(f.ctx, successEvent(b.ID, res.PaymentID)))
	return f.get(b.ID)
}

func (f *fixture) get(id booking.BookingID) *booking.Booking {
	f.t.Helper()
	b, err := f.store.GetBooking(f.ctx, id)
	require.NoError(f.t, err)
	require.NotNil(f.t, b)
	return b
}

func successEvent(id booking.BookingID, paymentID booking.PaymentID) booking.GatewayEvent {
	return booking.GatewayEvent{
		Kind:        booking.EventCheckoutCompleted,
		Type:        "charge.complete",
		ID:          "evt_" + string(paymentID),
		Correlation: booking.Correlation{BookingID: id, PaymentID: paymentID},
		Paid:        true,
		Payload:     []byte(`{"status":"successful"}`),
	}
}

// =============================================================================
// FAKES
// =============================================================================

type fakeGateway struct {
	mu    sync.Mutex
	calls []booking.CheckoutRequest
	err   error
	// block makes the call wait for its context to expire.
	block bool
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, req booking.CheckoutRequest) (*booking.CheckoutSession, error) {
	g.mu.Lock()
	g.calls = append(g.calls, req)
	err, block := g.err, g.block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &booking.CheckoutSession{
		ID:  "chrg_" + string(req.Correlation.PaymentID),
		URL: "https://pay.example.com/" + string(req.Correlation.PaymentID),
	}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) PublishJSON(_ context.Context, key string, _ any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *recordingPublisher) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, k := range p.keys {
		if k == key {
			n++
		}
	}
	return n
}
