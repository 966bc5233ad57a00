/*
handlers.go - HTTP API handlers for the booking engine

PURPOSE:
  Exposes booking creation, guide decisions, checkout, reviews and the
  reconciliation batch over REST. Handlers decode and shape-check the
  request, resolve the actor, delegate to the booking package and map its
  errors onto HTTP statuses.

ENDPOINTS:
  Bookings:
    POST   /api/bookings               Create (tourist)
    GET    /api/bookings/my            Tourist's bookings with payment
    GET    /api/bookings/guide         Guide's bookings with payment
    GET    /api/bookings/{id}          Single booking (owner or admin)
    PATCH  /api/bookings/{id}          Accept or reject (guide)
    POST   /api/bookings/{id}/payment  Start checkout (tourist)

  Reviews:
    POST   /api/reviews                Review a paid booking (tourist)

  Admin:
    POST   /api/admin/reconciliation/run   Run the completion batch now
    GET    /api/admin/reconciliation/runs  Recent runs

  Gateway:
    POST   /webhook                    Payment gateway callback

REQUEST FLOW:
  1. Resolve actor (auth middleware)
  2. Decode and validate body
  3. Call the booking service
  4. Serialize response
  5. Map errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input, illegal transition
  - 401: Missing or invalid token
  - 403: Actor may not perform the operation
  - 404: Booking, payment or listing not found
  - 409: Overlap, duplicate payment or review
  - 502: Payment gateway failure (Retry-After set)
  - 500: Internal errors

SEE ALSO:
  - dto.go: Request/response data structures
  - auth.go: Actor resolution
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/warp/tour-booking/booking"
)

const maxWebhookBody = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Runner executes one reconciliation pass.
type Runner interface {
	Run(ctx context.Context) (*booking.RunResult, error)
}

// Catalog seeds listings for demo scenarios.
type Catalog interface {
	SaveListing(ctx context.Context, l booking.Listing) error
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store      booking.Store
	Bookings   *booking.Service
	Payments   *booking.PaymentCoordinator
	Reconciler Runner
	Scheduler  *ReconciliationScheduler
	Webhooks   booking.WebhookParser
	Catalog    Catalog
	Log        logrus.FieldLogger

	validate *validator.Validate

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a handler over the booking service and its store.
// Payments, Reconciler, Scheduler, Webhooks and Catalog are set by the caller.
func NewHandler(store booking.Store, svc *booking.Service, log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		Store:    store,
		Bookings: svc,
		Log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// =============================================================================
// BOOKING HANDLERS
// =============================================================================

// CreateBooking reserves a listing's guide for the requested range.
// POST /api/bookings
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req CreateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}

	b, err := h.Bookings.Create(r.Context(), actor, booking.CreateInput{
		ListingID: booking.ListingID(req.ListingID),
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingDTO(*b))
}

// ListMyBookings returns the tourist's bookings.
// GET /api/bookings/my
func (h *Handler) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	bookings, err := h.Bookings.ListForTourist(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": toBookingDTOs(bookings)})
}

// ListGuideBookings returns bookings assigned to the guide.
// GET /api/bookings/guide
func (h *Handler) ListGuideBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	bookings, err := h.Bookings.ListForGuide(r.Context(), actor)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": toBookingDTOs(bookings)})
}

// GetBooking returns one booking.
// GET /api/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := booking.BookingID(chi.URLParam(r, "id"))

	b, err := h.Bookings.Get(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// UpdateBooking accepts or rejects a pending booking.
// PATCH /api/bookings/{id}
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())
	id := booking.BookingID(chi.URLParam(r, "id"))

	var req UpdateBookingRequest
	if !h.decode(w, r, &req) {
		return
	}
	next, err := booking.ParseStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	b, err := h.Bookings.Transition(r.Context(), actor, id, next)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBookingDTO(*b))
}

// InitiatePayment starts a hosted checkout for an accepted booking.
// POST /api/bookings/{id}/payment
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "Payments are not configured", nil)
		return
	}
	actor, _ := ActorFrom(r.Context())
	id := booking.BookingID(chi.URLParam(r, "id"))

	res, err := h.Payments.InitiateCheckout(r.Context(), actor, id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// =============================================================================
// REVIEW HANDLERS
// =============================================================================

// CreateReview records a tourist's review of a paid booking.
// POST /api/reviews
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFrom(r.Context())

	var req CreateReviewRequest
	if !h.decode(w, r, &req) {
		return
	}

	review, err := h.Bookings.CreateReview(r.Context(), actor, booking.ReviewInput{
		BookingID: booking.BookingID(req.BookingID),
		Rating:    req.Rating,
		Comment:   req.Comment,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ReviewDTO{
		ID:        string(review.ID),
		BookingID: string(review.BookingID),
		GuideID:   string(review.GuideID),
		Rating:    review.Rating,
		Comment:   review.Comment,
		CreatedAt: review.CreatedAt,
	})
}

// =============================================================================
// RECONCILIATION ENDPOINTS
// =============================================================================

// RunReconciliation completes every eligible booking now.
// POST /api/admin/reconciliation/run
func (h *Handler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reconciler.Run(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListReconciliationRuns returns reconciliation run history and, while the
// scheduler is running, when its next pass is due.
// GET /api/admin/reconciliation/runs?limit=N
func (h *Handler) ListReconciliationRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	runs, err := h.Store.ListReconciliationRuns(r.Context(), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run))
	}
	resp := map[string]any{"runs": dtos}
	if h.Scheduler != nil {
		if next := h.Scheduler.GetNextRunTime(); !next.IsZero() {
			resp["next_run_at"] = next.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// GATEWAY WEBHOOK
// =============================================================================

// Webhook applies a payment gateway event. Unknown events are acknowledged
// so the gateway stops retrying them.
// POST /webhook
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.Webhooks == nil || h.Payments == nil {
		writeError(w, http.StatusServiceUnavailable, "Payments are not configured", nil)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body", err)
		return
	}

	ev, err := h.Webhooks.ParseEvent(r.Context(), raw)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if err := h.Payments.HandleGatewayCallback(r.Context(), ev); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"received": true, "kind": ev.Kind.String()})
}

// =============================================================================
// HEALTH
// =============================================================================

type pinger interface {
	Ping(ctx context.Context) error
}

// Health reports liveness, and database reachability when the store can
// be pinged.
// GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if p, ok := h.Store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// decode reads a JSON body into dst and validates it. It writes the 400
// response itself and reports whether the handler should continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validator().Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

func (h *Handler) validator() *validator.Validate {
	if h.validate == nil {
		h.validate = validator.New(validator.WithRequiredStructEnabled())
	}
	return h.validate
}

// fail maps a booking error onto its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)

	var upstream *booking.UpstreamError
	if errors.As(err, &upstream) && upstream.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(upstream.RetryAfter.Seconds())))
	}

	entry := h.logger().WithError(err).WithFields(logrus.Fields{
		"method":     r.Method,
		"path":       r.URL.Path,
		"status":     status,
		"request_id": middleware.GetReqID(r.Context()),
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Debug("request rejected")
	}

	if status == http.StatusInternalServerError {
		writeError(w, status, message, nil)
		return
	}
	writeError(w, status, message, err)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, "Forbidden"
	case booking.IsNotFound(err):
		return http.StatusNotFound, "Not found"
	case errors.Is(err, booking.ErrInvalidArgument):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, "Conflict"
	case booking.IsRetryable(err):
		return http.StatusBadGateway, "Payment gateway unavailable"
	default:
		return http.StatusInternalServerError, "Internal error"
	}
}

func (h *Handler) logger() logrus.FieldLogger {
	if h.Log == nil {
		return logrus.StandardLogger()
	}
	return h.Log
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

func badScenario(id string) error {
	return fmt.Errorf("%w: unknown scenario %q", booking.ErrInvalidArgument, id)
}
