/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /health               Liveness (public)
  /webhook              Payment gateway callback (verified by re-fetch)
  /api/bookings/*       Tourist and guide booking operations (token)
  /api/reviews          Tourist reviews (token)
  /api/admin/*          Reconciliation (ADMIN, SUPER_ADMIN)
  /api/scenarios/*      Demo scenarios (ADMIN, SUPER_ADMIN)

SEE ALSO:
  - handlers.go: Handler implementations
  - auth.go: Token middleware
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/warp/tour-booking/booking"
)

// NewRouter creates a new router with all routes configured. An empty
// origins list allows any origin.
func NewRouter(h *Handler, auth *Authenticator, origins []string) *chi.Mux {
	r := chi.NewRouter()

	if len(origins) == 0 {
		origins = []string{"*"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	r.Post("/webhook", h.Webhook)

	admins := RequireRole(booking.RoleAdmin, booking.RoleSuperAdmin)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(auth.Middleware)

		// Booking routes
		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/my", h.ListMyBookings)
			r.Get("/guide", h.ListGuideBookings)
			r.Get("/{id}", h.GetBooking)
			r.Patch("/{id}", h.UpdateBooking)
			r.Post("/{id}/payment", h.InitiatePayment)
		})

		r.Post("/reviews", h.CreateReview)

		// Admin routes
		r.With(admins).Route("/admin", func(r chi.Router) {
			r.Post("/reconciliation/run", h.RunReconciliation)
			r.Get("/reconciliation/runs", h.ListReconciliationRuns)
		})

		// Scenario routes
		r.With(admins).Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}
