/*
scenarios.go - Demo scenario loaders for local development

PURPOSE:

	Seeds the listing catalog with guides and tours so the booking flow
	can be exercised without the catalog service. Bookings are then made
	through the normal API.

AVAILABLE SCENARIOS:

	single-guide:  One guide with a half-day walk and a multi-day trek
	city-guides:   Three guides across two cities, plus one inactive and
	               one deleted listing that cannot be booked

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Save the scenario's listings

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "city-guides"}

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler
  - server.go: Admin-only route group
*/
package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/warp/tour-booking/booking"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

type scenario struct {
	ScenarioDTO
	listings []booking.Listing
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "single-guide",
			Name:        "Single Guide",
			Description: "One guide offering a half-day walk and a three-day trek",
		},
		listings: []booking.Listing{
			listing("lst-walk", "guide-ana", "Alfama Morning Walk", "Lisbon", "45.00"),
			listing("lst-trek", "guide-ana", "Sintra Hills Trek", "Lisbon", "320.00"),
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "city-guides",
			Name:        "City Guides",
			Description: "Three guides in Lisbon and Porto, with unbookable listings for error paths",
		},
		listings: []booking.Listing{
			listing("lst-walk", "guide-ana", "Alfama Morning Walk", "Lisbon", "45.00"),
			listing("lst-food", "guide-rui", "Tascas and Petiscos", "Lisbon", "85.50"),
			listing("lst-wine", "guide-ines", "Douro Valley Wine Day", "Porto", "150.00"),
			func() booking.Listing {
				l := listing("lst-paused", "guide-rui", "Night Fado Tour", "Lisbon", "60.00")
				l.IsActive = false
				return l
			}(),
			func() booking.Listing {
				l := listing("lst-gone", "guide-ines", "Ribeira Boat Trip", "Porto", "30.00")
				l.IsDeleted = true
				return l
			}(),
		},
	},
}

func listing(id, guide, title, city, price string) booking.Listing {
	return booking.Listing{
		ID:       booking.ListingID(id),
		GuideID:  booking.GuideID(guide),
		Title:    title,
		City:     city,
		Price:    decimal.RequireFromString(price),
		IsActive: true,
	}
}

func findScenario(id string) (scenario, bool) {
	for _, s := range scenarios {
		if s.ID == id {
			return s, true
		}
	}
	return scenario{}, false
}

// =============================================================================
// HANDLERS
// =============================================================================

// ListScenarios returns available demo scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	dtos := make([]ScenarioDTO, len(scenarios))
	for i, s := range scenarios {
		dtos[i] = s.ScenarioDTO
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"scenarios": dtos,
		"current":   h.currentScenario,
	})
}

// LoadScenario resets the database and seeds the chosen scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.Catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "Scenario loading is not available", nil)
		return
	}

	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	s, ok := findScenario(req.ScenarioID)
	if !ok {
		h.fail(w, r, badScenario(req.ScenarioID))
		return
	}
	if err := loadScenario(r.Context(), h.Catalog, s); err != nil {
		h.fail(w, r, err)
		return
	}
	h.currentScenario = s.ID

	h.logger().WithField("scenario", s.ID).Info("scenario loaded")
	writeJSON(w, http.StatusOK, map[string]any{
		"scenario_id": s.ID,
		"listings":    len(s.listings),
	})
}

func loadScenario(ctx context.Context, c Catalog, s scenario) error {
	// 1. Reset database
	if err := c.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	// 2. Save listings
	for _, l := range s.listings {
		if err := c.SaveListing(ctx, l); err != nil {
			return fmt.Errorf("save listing %s: %w", l.ID, err)
		}
	}
	return nil
}
