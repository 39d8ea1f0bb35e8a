package dto

import (
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
)

// ReserveRequest represents a synchronous reservation request
type ReserveRequest struct {
	EventID int64   `json:"event_id" binding:"required"`
	SeatIDs []int64 `json:"seat_ids" binding:"required,min=1,max=10"`
}

// ReservationResponse represents a reservation in API responses
type ReservationResponse struct {
	ID        int64     `json:"id"`
	EventID   int64     `json:"event_id"`
	SeatID    int64     `json:"seat_id"`
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// ReservationFromDomain converts a domain Reservation to ReservationResponse
func ReservationFromDomain(r *domain.Reservation) *ReservationResponse {
	return &ReservationResponse{
		ID:        r.ID,
		EventID:   r.EventID,
		SeatID:    r.SeatID,
		UserID:    r.UserID,
		Status:    string(r.Status),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
}

// ReserveResponse represents the outcome of a successful reservation
type ReserveResponse struct {
	Reservations []*ReservationResponse `json:"reservations"`
	ExpiresAt    time.Time              `json:"expires_at"`
	TotalPrice   float64                `json:"total_price"`
}

// CancelBatchRequest represents a batch cancellation
type CancelBatchRequest struct {
	ReservationIDs []int64 `json:"reservation_ids" binding:"required,min=1"`
}

// CancelBatchResponse reports how many reservations were cancelled
type CancelBatchResponse struct {
	Cancelled int `json:"cancelled"`
}
