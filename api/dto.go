/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the booking domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Bookings:
    BookingDTO, PaymentDTO, CreateBookingRequest, UpdateBookingRequest

  Reviews:
    ReviewDTO, CreateReviewRequest

  Reconciliation:
    RunDTO

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Request types carry validator/v10 tags for shape checks (required
  fields, lengths). Business rules such as date ordering, rating range and
  role checks stay in the booking package so every caller gets them.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/tour-booking/booking"
)

// =============================================================================
// BOOKINGS
// =============================================================================

type CreateBookingRequest struct {
	ListingID string     `json:"listingId" validate:"required,max=64"`
	StartDate time.Time  `json:"startDate" validate:"required"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

type UpdateBookingRequest struct {
	Status string `json:"status" validate:"required"`
}

type PaymentDTO struct {
	ID            string    `json:"id"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency"`
	Status        string    `json:"status"`
	TransactionID string    `json:"transactionId"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type BookingDTO struct {
	ID            string      `json:"id"`
	ListingID     string      `json:"listingId"`
	GuideID       string      `json:"guideId"`
	TouristID     string      `json:"touristId"`
	StartDate     time.Time   `json:"startDate"`
	EndDate       *time.Time  `json:"endDate,omitempty"`
	Status        string      `json:"status"`
	PaymentStatus string      `json:"paymentStatus"`
	CreatedAt     time.Time   `json:"createdAt"`
	UpdatedAt     time.Time   `json:"updatedAt"`
	Payment       *PaymentDTO `json:"payment,omitempty"`
}

func toBookingDTO(b booking.Booking) BookingDTO {
	dto := BookingDTO{
		ID:            string(b.ID),
		ListingID:     string(b.ListingID),
		GuideID:       string(b.GuideID),
		TouristID:     string(b.TouristID),
		StartDate:     b.StartDate,
		EndDate:       b.EndDate,
		Status:        b.Status.String(),
		PaymentStatus: b.PaymentStatus.String(),
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
	if b.Payment != nil {
		dto.Payment = &PaymentDTO{
			ID:            string(b.Payment.ID),
			Amount:        b.Payment.Amount.StringFixed(2),
			Currency:      b.Payment.Currency,
			Status:        b.Payment.Status.String(),
			TransactionID: b.Payment.TransactionID,
			CreatedAt:     b.Payment.CreatedAt,
			UpdatedAt:     b.Payment.UpdatedAt,
		}
	}
	return dto
}

func toBookingDTOs(bookings []booking.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, b := range bookings {
		dtos[i] = toBookingDTO(b)
	}
	return dtos
}

// =============================================================================
// REVIEWS
// =============================================================================

type CreateReviewRequest struct {
	BookingID string `json:"bookingId" validate:"required,max=64"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment" validate:"max=2000"`
}

type ReviewDTO struct {
	ID        string    `json:"id"`
	BookingID string    `json:"bookingId"`
	GuideID   string    `json:"guideId"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// RECONCILIATION
// =============================================================================

type RunDTO struct {
	ID          string   `json:"id"`
	Cutoff      string   `json:"cutoff"`
	Status      string   `json:"status"`
	Completed   int      `json:"completed"`
	BookingIDs  []string `json:"booking_ids"`
	Error       string   `json:"error,omitempty"`
	StartedAt   string   `json:"started_at"`
	CompletedAt string   `json:"completed_at,omitempty"`
}

func toRunDTO(run booking.ReconciliationRun) RunDTO {
	dto := RunDTO{
		ID:         run.ID,
		Cutoff:     run.Cutoff.Format(time.RFC3339),
		Status:     string(run.Status),
		Completed:  run.Completed,
		BookingIDs: make([]string, len(run.BookingIDs)),
		Error:      run.Error,
		StartedAt:  run.StartedAt.Format(time.RFC3339),
	}
	for i, id := range run.BookingIDs {
		dto.BookingIDs[i] = string(id)
	}
	if run.CompletedAt != nil {
		dto.CompletedAt = run.CompletedAt.Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the request to load a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
