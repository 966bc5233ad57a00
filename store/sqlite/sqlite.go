/*
Package sqlite provides a SQL-backed implementation of booking.Store.

PURPOSE:
  Implements the booking persistence port using SQLite by default. The
  same schema and queries run on PostgreSQL through the pgx driver; only
  placeholder style and the guide lock differ.

INTERFACES IMPLEMENTED:
  booking.Store:  Reads, WithTx, reconciliation run history
  booking.Tx:     Transactional view handed to WithTx callbacks

KEY TABLES:
  listings:            Catalog entries (seeded, read-only to the engine)
  bookings:            One row per reservation, status + payment status
  payments:            At most one per booking (UNIQUE booking_id)
  reviews:             At most one per booking (UNIQUE booking_id)
  reconciliation_runs: History of completion batches

TIME STORAGE:
  Times are stored as fixed-width UTC text (timeLayout). Lexicographic
  order equals chronological order, so range predicates compare strings
  and behave the same on both dialects.

CONCURRENCY:
  SQLite: a single connection plus sync.RWMutex serializes writers, so
  every WithTx callback runs alone.
  PostgreSQL: database concurrency control, plus
  pg_advisory_xact_lock(hashtext(guide_id)) in LockGuide to serialize
  booking creation per guide.

CONDITIONAL WRITES:
  Status changes are written as UPDATE ... WHERE status = <expected>.
  Zero affected rows means someone else moved the booking first.

USAGE:
  store, err := sqlite.New("./data/booking.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on open. For production, use a proper
  migration tool with versioned migrations.

SEE ALSO:
  - booking/store.go: Interface definitions
  - booking/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/tour-booking/booking"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "pgx"
)

// timeLayout is fixed width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store implements booking.Store on database/sql via sqlx.
type Store struct {
	db *sqlx.DB
	mu sync.RWMutex
	// serialize is set for SQLite, where the mutex is the writer lock.
	serialize bool
}

var _ booking.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open(DriverSQLite, dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per connection, and the
	// mutex already serializes writers.
	db.SetMaxOpenConns(1)

	return open(db, true)
}

// NewPostgres creates a store backed by PostgreSQL through pgx.
func NewPostgres(dsn string) (*Store, error) {
	db, err := sqlx.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return open(db, false)
}

// Open selects the dialect by driver name.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case "", DriverSQLite:
		return New(dsn)
	case DriverPostgres, "postgres":
		return NewPostgres(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

func open(db *sqlx.DB, serialize bool) (*Store, error) {
	store := &Store{db: db, serialize: serialize}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) isPostgres() bool {
	return s.db.DriverName() == DriverPostgres
}

func (s *Store) rlock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS listings (
		id TEXT PRIMARY KEY,
		guide_id TEXT NOT NULL,
		title TEXT NOT NULL,
		city TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		is_deleted BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS bookings (
		id TEXT PRIMARY KEY,
		listing_id TEXT NOT NULL REFERENCES listings(id),
		guide_id TEXT NOT NULL,
		tourist_id TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT,
		status TEXT NOT NULL,
		payment_status TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Overlap candidates for one guide
	CREATE INDEX IF NOT EXISTS idx_bookings_guide_status
		ON bookings(guide_id, status);
	-- Duplicate-request check
	CREATE INDEX IF NOT EXISTS idx_bookings_tourist_listing
		ON bookings(tourist_id, listing_id);
	-- Reconciliation scan
	CREATE INDEX IF NOT EXISTS idx_bookings_status_payment
		ON bookings(status, payment_status);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id),
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		gateway_payload TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reviews (
		id TEXT PRIMARY KEY,
		booking_id TEXT NOT NULL UNIQUE REFERENCES bookings(id),
		tourist_id TEXT NOT NULL,
		guide_id TEXT NOT NULL,
		rating INTEGER NOT NULL,
		comment TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS reconciliation_runs (
		id TEXT PRIMARY KEY,
		cutoff TEXT NOT NULL,
		status TEXT NOT NULL,
		completed INTEGER NOT NULL DEFAULT 0,
		booking_ids TEXT NOT NULL DEFAULT '[]',
		error TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_reconciliation_runs_started
		ON reconciliation_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ROW TYPES
// =============================================================================

const bookingColumns = `id, listing_id, guide_id, tourist_id, start_date, end_date,
	status, payment_status, created_at, updated_at`

type bookingRow struct {
	ID            string         `db:"id"`
	ListingID     string         `db:"listing_id"`
	GuideID       string         `db:"guide_id"`
	TouristID     string         `db:"tourist_id"`
	StartDate     string         `db:"start_date"`
	EndDate       sql.NullString `db:"end_date"`
	Status        string         `db:"status"`
	PaymentStatus string         `db:"payment_status"`
	CreatedAt     string         `db:"created_at"`
	UpdatedAt     string         `db:"updated_at"`
}

func (r bookingRow) toBooking() booking.Booking {
	b := booking.Booking{
		ID:            booking.BookingID(r.ID),
		ListingID:     booking.ListingID(r.ListingID),
		GuideID:       booking.GuideID(r.GuideID),
		TouristID:     booking.TouristID(r.TouristID),
		StartDate:     parseTime(r.StartDate),
		Status:        booking.Status(r.Status),
		PaymentStatus: booking.PaymentStatus(r.PaymentStatus),
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.EndDate.Valid {
		t := parseTime(r.EndDate.String)
		b.EndDate = &t
	}
	return b
}

const paymentColumns = `id, booking_id, amount, currency, status, transaction_id,
	gateway_payload, created_at, updated_at`

type paymentRow struct {
	ID             string         `db:"id"`
	BookingID      string         `db:"booking_id"`
	Amount         string         `db:"amount"`
	Currency       string         `db:"currency"`
	Status         string         `db:"status"`
	TransactionID  string         `db:"transaction_id"`
	GatewayPayload sql.NullString `db:"gateway_payload"`
	CreatedAt      string         `db:"created_at"`
	UpdatedAt      string         `db:"updated_at"`
}

func (r paymentRow) toPayment() (booking.Payment, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return booking.Payment{}, fmt.Errorf("payment %s amount: %w", r.ID, err)
	}
	p := booking.Payment{
		ID:            booking.PaymentID(r.ID),
		BookingID:     booking.BookingID(r.BookingID),
		Amount:        amount,
		Currency:      r.Currency,
		Status:        booking.PaymentStatus(r.Status),
		TransactionID: r.TransactionID,
		CreatedAt:     parseTime(r.CreatedAt),
		UpdatedAt:     parseTime(r.UpdatedAt),
	}
	if r.GatewayPayload.Valid {
		p.GatewayPayload = json.RawMessage(r.GatewayPayload.String)
	}
	return p, nil
}

type listingRow struct {
	ID        string `db:"id"`
	GuideID   string `db:"guide_id"`
	Title     string `db:"title"`
	City      string `db:"city"`
	Price     string `db:"price"`
	IsActive  bool   `db:"is_active"`
	IsDeleted bool   `db:"is_deleted"`
}

type reviewRow struct {
	ID        string `db:"id"`
	BookingID string `db:"booking_id"`
	TouristID string `db:"tourist_id"`
	GuideID   string `db:"guide_id"`
	Rating    int    `db:"rating"`
	Comment   string `db:"comment"`
	CreatedAt string `db:"created_at"`
}

type runRow struct {
	ID          string         `db:"id"`
	Cutoff      string         `db:"cutoff"`
	Status      string         `db:"status"`
	Completed   int            `db:"completed"`
	BookingIDs  string         `db:"booking_ids"`
	Error       string         `db:"error"`
	StartedAt   string         `db:"started_at"`
	CompletedAt sql.NullString `db:"completed_at"`
}

// =============================================================================
// QUERIES - shared by Store (outside tx) and txStore (inside tx)
// =============================================================================

type queries struct {
	ext sqlx.ExtContext
}

func (q queries) GetListing(ctx context.Context, id booking.ListingID) (*booking.Listing, error) {
	var r listingRow
	err := sqlx.GetContext(ctx, q.ext, &r, q.ext.Rebind(`
		SELECT id, guide_id, title, city, price, is_active, is_deleted
		FROM listings WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil {
		return nil, fmt.Errorf("listing %s price: %w", r.ID, err)
	}
	return &booking.Listing{
		ID:        booking.ListingID(r.ID),
		GuideID:   booking.GuideID(r.GuideID),
		Title:     r.Title,
		City:      r.City,
		Price:     price,
		IsActive:  r.IsActive,
		IsDeleted: r.IsDeleted,
	}, nil
}

func (q queries) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	var r bookingRow
	err := sqlx.GetContext(ctx, q.ext, &r, q.ext.Rebind(`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	b := r.toBooking()
	return &b, nil
}

func (q queries) getPayment(ctx context.Context, where string, arg string) (*booking.Payment, error) {
	var r paymentRow
	err := sqlx.GetContext(ctx, q.ext, &r, q.ext.Rebind(`SELECT `+paymentColumns+` FROM payments WHERE `+where+` = ?`), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := r.toPayment()
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) GetPayment(ctx context.Context, id booking.PaymentID) (*booking.Payment, error) {
	return q.getPayment(ctx, "id", string(id))
}

func (q queries) GetPaymentByBooking(ctx context.Context, id booking.BookingID) (*booking.Payment, error) {
	return q.getPayment(ctx, "booking_id", string(id))
}

func (q queries) GetReviewByBooking(ctx context.Context, id booking.BookingID) (*booking.Review, error) {
	var r reviewRow
	err := sqlx.GetContext(ctx, q.ext, &r, q.ext.Rebind(`
		SELECT id, booking_id, tourist_id, guide_id, rating, comment, created_at
		FROM reviews WHERE booking_id = ?`), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &booking.Review{
		ID:        booking.ReviewID(r.ID),
		BookingID: booking.BookingID(r.BookingID),
		TouristID: booking.TouristID(r.TouristID),
		GuideID:   booking.GuideID(r.GuideID),
		Rating:    r.Rating,
		Comment:   r.Comment,
		CreatedAt: parseTime(r.CreatedAt),
	}, nil
}

func (q queries) FindActiveBooking(ctx context.Context, touristID booking.TouristID, listingID booking.ListingID, statuses []booking.Status) (*booking.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	list, err := q.selectBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE tourist_id = ? AND listing_id = ? AND status IN (?)
		ORDER BY created_at DESC LIMIT 1`,
		string(touristID), string(listingID), statusStrings(statuses))
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func (q queries) ListGuideBookings(ctx context.Context, guideID booking.GuideID, statuses []booking.Status, endingFrom time.Time) ([]booking.Booking, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	return q.selectBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE guide_id = ? AND status IN (?) AND COALESCE(end_date, start_date) >= ?
		ORDER BY start_date`,
		string(guideID), statusStrings(statuses), formatTime(endingFrom))
}

func (q queries) ListBookingsByTourist(ctx context.Context, touristID booking.TouristID) ([]booking.Booking, error) {
	return q.selectBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE tourist_id = ? ORDER BY created_at DESC, id`, string(touristID))
}

func (q queries) ListBookingsByGuide(ctx context.Context, guideID booking.GuideID) ([]booking.Booking, error) {
	return q.selectBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE guide_id = ? ORDER BY created_at DESC, id`, string(guideID))
}

func (q queries) ListCompletable(ctx context.Context, cutoff time.Time) ([]booking.Booking, error) {
	return q.selectBookings(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE status = ? AND payment_status = ? AND COALESCE(end_date, start_date) < ?
		ORDER BY start_date`,
		string(booking.StatusAccepted), string(booking.PaymentPaid), formatTime(cutoff))
}

func (q queries) ListPaymentsByBookings(ctx context.Context, ids []booking.BookingID) (map[booking.BookingID]booking.Payment, error) {
	result := make(map[booking.BookingID]booking.Payment, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	query, args, err := sqlx.In(`SELECT `+paymentColumns+` FROM payments WHERE booking_id IN (?)`, bookingIDStrings(ids))
	if err != nil {
		return nil, err
	}
	var rows []paymentRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, err
	}
	for _, r := range rows {
		p, err := r.toPayment()
		if err != nil {
			return nil, err
		}
		result[p.BookingID] = p
	}
	return result, nil
}

// selectBookings expands slice arguments with sqlx.In before rebinding.
func (q queries) selectBookings(ctx context.Context, query string, args ...any) ([]booking.Booking, error) {
	query, args, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}
	var rows []bookingRow
	if err := sqlx.SelectContext(ctx, q.ext, &rows, q.ext.Rebind(query), args...); err != nil {
		return nil, err
	}
	result := make([]booking.Booking, len(rows))
	for i, r := range rows {
		result[i] = r.toBooking()
	}
	return result, nil
}

// =============================================================================
// STORE READS (booking.Reader)
// =============================================================================

func (s *Store) q() queries { return queries{ext: s.db} }

func (s *Store) GetListing(ctx context.Context, id booking.ListingID) (*booking.Listing, error) {
	defer s.rlock()()
	return s.q().GetListing(ctx, id)
}

func (s *Store) GetBooking(ctx context.Context, id booking.BookingID) (*booking.Booking, error) {
	defer s.rlock()()
	return s.q().GetBooking(ctx, id)
}

func (s *Store) GetPayment(ctx context.Context, id booking.PaymentID) (*booking.Payment, error) {
	defer s.rlock()()
	return s.q().GetPayment(ctx, id)
}

func (s *Store) GetPaymentByBooking(ctx context.Context, id booking.BookingID) (*booking.Payment, error) {
	defer s.rlock()()
	return s.q().GetPaymentByBooking(ctx, id)
}

func (s *Store) GetReviewByBooking(ctx context.Context, id booking.BookingID) (*booking.Review, error) {
	defer s.rlock()()
	return s.q().GetReviewByBooking(ctx, id)
}

func (s *Store) FindActiveBooking(ctx context.Context, touristID booking.TouristID, listingID booking.ListingID, statuses []booking.Status) (*booking.Booking, error) {
	defer s.rlock()()
	return s.q().FindActiveBooking(ctx, touristID, listingID, statuses)
}

func (s *Store) ListGuideBookings(ctx context.Context, guideID booking.GuideID, statuses []booking.Status, endingFrom time.Time) ([]booking.Booking, error) {
	defer s.rlock()()
	return s.q().ListGuideBookings(ctx, guideID, statuses, endingFrom)
}

func (s *Store) ListBookingsByTourist(ctx context.Context, touristID booking.TouristID) ([]booking.Booking, error) {
	defer s.rlock()()
	return s.q().ListBookingsByTourist(ctx, touristID)
}

func (s *Store) ListBookingsByGuide(ctx context.Context, guideID booking.GuideID) ([]booking.Booking, error) {
	defer s.rlock()()
	return s.q().ListBookingsByGuide(ctx, guideID)
}

func (s *Store) ListPaymentsByBookings(ctx context.Context, ids []booking.BookingID) (map[booking.BookingID]booking.Payment, error) {
	defer s.rlock()()
	return s.q().ListPaymentsByBookings(ctx, ids)
}

func (s *Store) ListCompletable(ctx context.Context, cutoff time.Time) ([]booking.Booking, error) {
	defer s.rlock()()
	return s.q().ListCompletable(ctx, cutoff)
}

// =============================================================================
// TRANSACTIONAL STORE (booking.Store.WithTx)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx booking.Tx) error) error {
	defer s.lock()()

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	ts := &txStore{queries: queries{ext: sqlTx}, tx: sqlTx, postgres: s.isPostgres()}
	if err := fn(ts); err != nil {
		return err
	}

	return sqlTx.Commit()
}

type txStore struct {
	queries
	tx       *sqlx.Tx
	postgres bool
}

func (ts *txStore) LockGuide(ctx context.Context, guideID booking.GuideID) error {
	if !ts.postgres {
		// The store mutex already serializes SQLite transactions.
		return nil
	}
	_, err := ts.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, string(guideID))
	return err
}

func (ts *txStore) InsertBooking(ctx context.Context, b booking.Booking) error {
	var end sql.NullString
	if b.EndDate != nil {
		end = nullString(formatTime(*b.EndDate))
	}
	_, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(b.ID), string(b.ListingID), string(b.GuideID), string(b.TouristID),
		formatTime(b.StartDate), end, string(b.Status), string(b.PaymentStatus),
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert booking: %w", err)
	}
	return nil
}

func (ts *txStore) UpdateBookingStatus(ctx context.Context, id booking.BookingID, from, to booking.Status, at time.Time) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		UPDATE bookings SET status = ?, updated_at = ?
		WHERE id = ? AND status = ?`),
		string(to), formatTime(at), string(id), string(from))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (ts *txStore) UpdateBookingPaymentStatus(ctx context.Context, id booking.BookingID, status booking.PaymentStatus, at time.Time) error {
	res, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		UPDATE bookings SET payment_status = ?, updated_at = ? WHERE id = ?`),
		string(status), formatTime(at), string(id))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("booking %s: %w", id, booking.ErrNotFound)
	}
	return nil
}

func (ts *txStore) InsertPayment(ctx context.Context, p booking.Payment) error {
	var payload sql.NullString
	if len(p.GatewayPayload) > 0 {
		payload = nullString(string(p.GatewayPayload))
	}
	_, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(p.ID), string(p.BookingID), p.Amount.String(), p.Currency, string(p.Status),
		p.TransactionID, payload, formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if isUniqueConstraintError(err) {
		return booking.ErrDuplicatePayment
	}
	if err != nil {
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

// UpdatePayment guards on the stored status in the WHERE clause, so under
// READ COMMITTED the second of two concurrent writers matches no row.
func (ts *txStore) UpdatePayment(ctx context.Context, id booking.PaymentID, status booking.PaymentStatus, payload json.RawMessage, at time.Time) (bool, error) {
	res, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		UPDATE payments
		SET status = ?, gateway_payload = COALESCE(?, gateway_payload), updated_at = ?
		WHERE id = ? AND status <> ? AND status <> ?`),
		string(status), nullString(string(payload)), formatTime(at),
		string(id), string(status), string(booking.PaymentPaid))
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	var exists int
	err = ts.tx.GetContext(ctx, &exists, ts.tx.Rebind(`SELECT COUNT(*) FROM payments WHERE id = ?`), string(id))
	if err != nil {
		return false, err
	}
	if exists == 0 {
		return false, fmt.Errorf("payment %s: %w", id, booking.ErrNotFound)
	}
	return false, nil
}

// CompleteBookings relies on UPDATE ... RETURNING (Postgres, SQLite 3.35+)
// so a row completed by a concurrent run is simply not reported.
func (ts *txStore) CompleteBookings(ctx context.Context, ids []booking.BookingID, at time.Time) ([]booking.BookingID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`
		UPDATE bookings SET status = ?, updated_at = ?
		WHERE status = ? AND payment_status = ? AND id IN (?)
		RETURNING id`,
		string(booking.StatusCompleted), formatTime(at),
		string(booking.StatusAccepted), string(booking.PaymentPaid), bookingIDStrings(ids))
	if err != nil {
		return nil, err
	}
	var changed []string
	if err := ts.tx.SelectContext(ctx, &changed, ts.tx.Rebind(query), args...); err != nil {
		return nil, err
	}
	done := make([]booking.BookingID, len(changed))
	for i, id := range changed {
		done[i] = booking.BookingID(id)
	}
	return done, nil
}

func (ts *txStore) InsertReview(ctx context.Context, r booking.Review) error {
	_, err := ts.tx.ExecContext(ctx, ts.tx.Rebind(`
		INSERT INTO reviews (id, booking_id, tourist_id, guide_id, rating, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`),
		string(r.ID), string(r.BookingID), string(r.TouristID), string(r.GuideID),
		r.Rating, r.Comment, formatTime(r.CreatedAt))
	if isUniqueConstraintError(err) {
		return booking.ErrDuplicateReview
	}
	if err != nil {
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

// =============================================================================
// LISTINGS (catalog seeding)
// =============================================================================

// SaveListing inserts or updates a catalog listing.
func (s *Store) SaveListing(ctx context.Context, l booking.Listing) error {
	defer s.lock()()

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO listings (id, guide_id, title, city, price, is_active, is_deleted)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			guide_id = excluded.guide_id,
			title = excluded.title,
			city = excluded.city,
			price = excluded.price,
			is_active = excluded.is_active,
			is_deleted = excluded.is_deleted`),
		string(l.ID), string(l.GuideID), l.Title, l.City, l.Price.String(), l.IsActive, l.IsDeleted)
	return err
}

// Reset removes all data. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	defer s.lock()()

	for _, table := range []string{"reviews", "payments", "bookings", "listings", "reconciliation_runs"} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// RECONCILIATION RUNS
// =============================================================================

// SaveReconciliationRun inserts or updates a reconciliation run.
func (s *Store) SaveReconciliationRun(ctx context.Context, r booking.ReconciliationRun) error {
	defer s.lock()()

	ids := make([]string, len(r.BookingIDs))
	for i, id := range r.BookingIDs {
		ids[i] = string(id)
	}
	idsJSON, err := json.Marshal(ids)
	if err != nil {
		return err
	}

	var completedAt sql.NullString
	if r.CompletedAt != nil {
		completedAt = nullString(formatTime(*r.CompletedAt))
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO reconciliation_runs (id, cutoff, status, completed, booking_ids, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed = excluded.completed,
			booking_ids = excluded.booking_ids,
			error = excluded.error,
			completed_at = excluded.completed_at`),
		r.ID, formatTime(r.Cutoff), string(r.Status), r.Completed, string(idsJSON),
		r.Error, formatTime(r.StartedAt), completedAt,
	)
	return err
}

// ListReconciliationRuns returns the most recent runs first.
func (s *Store) ListReconciliationRuns(ctx context.Context, limit int) ([]booking.ReconciliationRun, error) {
	defer s.rlock()()

	if limit <= 0 {
		limit = 50
	}
	var rows []runRow
	err := sqlx.SelectContext(ctx, s.db, &rows, s.db.Rebind(`
		SELECT id, cutoff, status, completed, booking_ids, error, started_at, completed_at
		FROM reconciliation_runs
		ORDER BY started_at DESC
		LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}

	runs := make([]booking.ReconciliationRun, 0, len(rows))
	for _, r := range rows {
		run := booking.ReconciliationRun{
			ID:        r.ID,
			Cutoff:    parseTime(r.Cutoff),
			Status:    booking.RunStatus(r.Status),
			Completed: r.Completed,
			Error:     r.Error,
			StartedAt: parseTime(r.StartedAt),
		}
		var ids []string
		if err := json.Unmarshal([]byte(r.BookingIDs), &ids); err != nil {
			return nil, fmt.Errorf("run %s booking ids: %w", r.ID, err)
		}
		for _, id := range ids {
			run.BookingIDs = append(run.BookingIDs, booking.BookingID(id))
		}
		if r.CompletedAt.Valid {
			t := parseTime(r.CompletedAt.String)
			run.CompletedAt = &t
		}
		runs = append(runs, run)
	}
	return runs, nil
}

// Helper functions

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		t, _ = time.Parse(time.RFC3339Nano, s)
	}
	return t.UTC()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func statusStrings(statuses []booking.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func bookingIDStrings(ids []booking.BookingID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
