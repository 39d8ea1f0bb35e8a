package dto

import (
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
)

// CreateBookingRequest represents request to convert reservations into a booking
type CreateBookingRequest struct {
	ReservationIDs []int64 `json:"reservation_ids" binding:"required,min=1"`
}

// PaymentRequest carries the payment provider's identifier for a booking
type PaymentRequest struct {
	PaymentID string `json:"payment_id" binding:"required"`
}

// BookingSeatResponse represents one seat line of a booking
type BookingSeatResponse struct {
	SeatID int64   `json:"seat_id"`
	Price  float64 `json:"price"`
}

// BookingResponse represents a booking in API responses
type BookingResponse struct {
	ID            int64                 `json:"id"`
	Reference     string                `json:"reference"`
	EventID       int64                 `json:"event_id"`
	UserID        string                `json:"user_id"`
	Status        string                `json:"status"`
	PaymentStatus string                `json:"payment_status"`
	PaymentID     string                `json:"payment_id,omitempty"`
	TotalAmount   float64               `json:"total_amount"`
	Seats         []BookingSeatResponse `json:"seats"`
	CreatedAt     time.Time             `json:"created_at"`
}

// BookingFromDomain converts a domain Booking to BookingResponse
func BookingFromDomain(b *domain.Booking) *BookingResponse {
	resp := &BookingResponse{
		ID:            b.ID,
		Reference:     b.Reference,
		EventID:       b.EventID,
		UserID:        b.UserID,
		Status:        string(b.Status),
		PaymentStatus: string(b.PaymentStatus),
		TotalAmount:   b.TotalAmount,
		CreatedAt:     b.CreatedAt,
	}
	if b.PaymentID != nil {
		resp.PaymentID = *b.PaymentID
	}
	for _, line := range b.Seats {
		resp.Seats = append(resp.Seats, BookingSeatResponse{
			SeatID: line.SeatID,
			Price:  line.Price,
		})
	}
	return resp
}
