package domain

import (
	"time"
)

// BookingStatus is the lifecycle state of a booking
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingFailed    BookingStatus = "failed"
)

// PaymentStatus tracks the opaque payment transition of a booking
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

// Booking finalizes one or more reservations into a purchase
type Booking struct {
	ID            int64         `json:"id"`
	EventID       int64         `json:"event_id"`
	UserID        string        `json:"user_id"`
	Reference     string        `json:"booking_reference"`
	TotalAmount   float64       `json:"total_amount"`
	Status        BookingStatus `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentID     *string       `json:"payment_id,omitempty"`
	Seats         []BookingSeat `json:"seats,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// BookingSeat is one seat line of a booking
type BookingSeat struct {
	ID        int64   `json:"id"`
	BookingID int64   `json:"booking_id"`
	SeatID    int64   `json:"seat_id"`
	Price     float64 `json:"price"`
}
