// Package store provides an in-memory booking.Store.
package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/warp/tour-booking/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	st *state
}

type state struct {
	listings map[booking.ListingID]booking.Listing
	bookings map[booking.BookingID]booking.Booking
	payments map[booking.PaymentID]booking.Payment
	reviews  map[booking.BookingID]booking.Review
	runs     []booking.ReconciliationRun
}

func newState() *state {
	return &state{
		listings: make(map[booking.ListingID]booking.Listing),
		bookings: make(map[booking.BookingID]booking.Booking),
		payments: make(map[booking.PaymentID]booking.Payment),
		reviews:  make(map[booking.BookingID]booking.Review),
	}
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ booking.Store = (*Memory)(nil)

// SaveListing inserts or replaces a catalog listing.
func (m *Memory) SaveListing(_ context.Context, l booking.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.listings[l.ID] = l
	return nil
}

// Reset drops every row, listings included.
func (m *Memory) Reset(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// =============================================================================
// READS - delegate to state under the read lock
// =============================================================================

func (m *Memory) GetListing(ctx context.Context, id booking.ListingID) (*booking.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetListing(ctx, id)
}

func (m *Memory) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetBooking(ctx, id)
}

func (m *Memory) GetPayment(ctx context.Context, id booking.PaymentID) (*booking.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPayment(ctx, id)
}

func (m *Memory) GetPaymentByBooking(ctx context.Context, id booking.BookingID) (*booking.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetPaymentByBooking(ctx, id)
}

func (m *Memory) GetReviewByBooking(ctx context.Context, id booking.BookingID) (*booking.Review, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.GetReviewByBooking(ctx, id)
}

func (m *Memory) FindActiveBooking(ctx context.Context, touristID booking.TouristID, listingID booking.ListingID, statuses []booking.Status) (*booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.FindActiveBooking(ctx, touristID, listingID, statuses)
}

func (m *Memory) ListGuideBookings(ctx context.Context, guideID booking.GuideID, statuses []booking.Status, endingFrom time.Time) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListGuideBookings(ctx, guideID, statuses, endingFrom)
}

func (m *Memory) ListBookingsByTourist(ctx context.Context, touristID booking.TouristID) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBookingsByTourist(ctx, touristID)
}

func (m *Memory) ListBookingsByGuide(ctx context.Context, guideID booking.GuideID) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListBookingsByGuide(ctx, guideID)
}

func (m *Memory) ListPaymentsByBookings(ctx context.Context, ids []booking.BookingID) (map[booking.BookingID]booking.Payment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListPaymentsByBookings(ctx, ids)
}

func (m *Memory) ListCompletable(ctx context.Context, cutoff time.Time) ([]booking.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.ListCompletable(ctx, cutoff)
}

func (m *Memory) SaveReconciliationRun(_ context.Context, run booking.ReconciliationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.st.runs {
		if m.st.runs[i].ID == run.ID {
			m.st.runs[i] = run
			return nil
		}
	}
	m.st.runs = append(m.st.runs, run)
	return nil
}

func (m *Memory) ListReconciliationRuns(_ context.Context, limit int) ([]booking.ReconciliationRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	runs := make([]booking.ReconciliationRun, 0, len(m.st.runs))
	for i := len(m.st.runs) - 1; i >= 0; i-- {
		if limit > 0 && len(runs) == limit {
			break
		}
		runs = append(runs, m.st.runs[i])
	}
	return runs, nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
// Transactions are fully serialized, which also serializes per-guide creation.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{state: m.st}); err != nil {
		*m.st = *snapshot
		return err
	}
	return nil
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.listings {
		c.listings[k] = v
	}
	for k, v := range s.bookings {
		c.bookings[k] = v
	}
	for k, v := range s.payments {
		c.payments[k] = v
	}
	for k, v := range s.reviews {
		c.reviews[k] = v
	}
	c.runs = append([]booking.ReconciliationRun(nil), s.runs...)
	return c
}

// txView exposes the unlocked state to a WithTx callback.
type txView struct {
	*state
}

func (tv *txView) LockGuide(context.Context, booking.GuideID) error { return nil }

func (tv *txView) InsertBooking(_ context.Context, b booking.Booking) error {
	b.Payment = nil
	tv.bookings[b.ID] = detach(b)
	return nil
}

func (tv *txView) UpdateBookingStatus(_ context.Context, id booking.BookingID, from, to booking.Status, at time.Time) (bool, error) {
	b, ok := tv.bookings[id]
	if !ok || b.Status != from {
		return false, nil
	}
	b.Status = to
	b.UpdatedAt = at
	tv.bookings[id] = b
	return true, nil
}

func (tv *txView) UpdateBookingPaymentStatus(_ context.Context, id booking.BookingID, status booking.PaymentStatus, at time.Time) error {
	b, ok := tv.bookings[id]
	if !ok {
		return booking.ErrNotFound
	}
	b.PaymentStatus = status
	b.UpdatedAt = at
	tv.bookings[id] = b
	return nil
}

func (tv *txView) InsertPayment(_ context.Context, p booking.Payment) error {
	for _, existing := range tv.payments {
		if existing.BookingID == p.BookingID {
			return booking.ErrDuplicatePayment
		}
	}
	tv.payments[p.ID] = p
	return nil
}

func (tv *txView) UpdatePayment(_ context.Context, id booking.PaymentID, status booking.PaymentStatus, payload json.RawMessage, at time.Time) (bool, error) {
	p, ok := tv.payments[id]
	if !ok {
		return false, booking.ErrNotFound
	}
	if p.Status == status || p.Status == booking.PaymentPaid {
		return false, nil
	}
	p.Status = status
	if payload != nil {
		p.GatewayPayload = append(json.RawMessage(nil), payload...)
	}
	p.UpdatedAt = at
	tv.payments[id] = p
	return true, nil
}

func (tv *txView) CompleteBookings(_ context.Context, ids []booking.BookingID, at time.Time) ([]booking.BookingID, error) {
	var done []booking.BookingID
	for _, id := range ids {
		b, ok := tv.bookings[id]
		if !ok || b.Status != booking.StatusAccepted || b.PaymentStatus != booking.PaymentPaid {
			continue
		}
		b.Status = booking.StatusCompleted
		b.UpdatedAt = at
		tv.bookings[id] = b
		done = append(done, id)
	}
	return done, nil
}

func (tv *txView) InsertReview(_ context.Context, r booking.Review) error {
	if _, ok := tv.reviews[r.BookingID]; ok {
		return booking.ErrDuplicateReview
	}
	tv.reviews[r.BookingID] = r
	return nil
}

// =============================================================================
// UNLOCKED READS - shared by Memory and txView
// =============================================================================

func (s *state) GetListing(_ context.Context, id booking.ListingID) (*booking.Listing, error) {
	l, ok := s.listings[id]
	if !ok {
		return nil, nil
	}
	return &l, nil
}

func (s *state) GetBooking(_ context.Context, id booking.BookingID) (*booking.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	b = detach(b)
	return &b, nil
}

func (s *state) GetPayment(_ context.Context, id booking.PaymentID) (*booking.Payment, error) {
	p, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *state) GetPaymentByBooking(_ context.Context, id booking.BookingID) (*booking.Payment, error) {
	for _, p := range s.payments {
		if p.BookingID == id {
			p := p
			return &p, nil
		}
	}
	return nil, nil
}

func (s *state) GetReviewByBooking(_ context.Context, id booking.BookingID) (*booking.Review, error) {
	r, ok := s.reviews[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (s *state) FindActiveBooking(_ context.Context, touristID booking.TouristID, listingID booking.ListingID, statuses []booking.Status) (*booking.Booking, error) {
	for _, b := range s.sorted() {
		if b.TouristID == touristID && b.ListingID == listingID && hasStatus(statuses, b.Status) {
			b := b
			return &b, nil
		}
	}
	return nil, nil
}

func (s *state) ListGuideBookings(_ context.Context, guideID booking.GuideID, statuses []booking.Status, endingFrom time.Time) ([]booking.Booking, error) {
	var result []booking.Booking
	for _, b := range s.sorted() {
		if b.GuideID == guideID && hasStatus(statuses, b.Status) && !b.EffectiveEnd().Before(endingFrom) {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *state) ListBookingsByTourist(_ context.Context, touristID booking.TouristID) ([]booking.Booking, error) {
	var result []booking.Booking
	for _, b := range s.sorted() {
		if b.TouristID == touristID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *state) ListBookingsByGuide(_ context.Context, guideID booking.GuideID) ([]booking.Booking, error) {
	var result []booking.Booking
	for _, b := range s.sorted() {
		if b.GuideID == guideID {
			result = append(result, b)
		}
	}
	return result, nil
}

func (s *state) ListPaymentsByBookings(_ context.Context, ids []booking.BookingID) (map[booking.BookingID]booking.Payment, error) {
	want := make(map[booking.BookingID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	result := make(map[booking.BookingID]booking.Payment)
	for _, p := range s.payments {
		if want[p.BookingID] {
			result[p.BookingID] = p
		}
	}
	return result, nil
}

func (s *state) ListCompletable(_ context.Context, cutoff time.Time) ([]booking.Booking, error) {
	var result []booking.Booking
	for _, b := range s.sorted() {
		if b.CompletableBy(cutoff) {
			result = append(result, b)
		}
	}
	return result, nil
}

// sorted returns bookings newest first, ties broken by id for determinism.
func (s *state) sorted() []booking.Booking {
	all := make([]booking.Booking, 0, len(s.bookings))
	for _, b := range s.bookings {
		all = append(all, detach(b))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID < all[j].ID
	})
	return all
}

// detach copies the EndDate pointer so callers never alias a stored row.
func detach(b booking.Booking) booking.Booking {
	if b.EndDate != nil {
		end := *b.EndDate
		b.EndDate = &end
	}
	return b
}

func hasStatus(statuses []booking.Status, s booking.Status) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
