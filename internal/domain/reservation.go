package domain

import (
	"time"
)

// ReservationStatus is the lifecycle state of a reservation
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationExpired   ReservationStatus = "expired"
	ReservationCancelled ReservationStatus = "cancelled"
)

// Reservation is a timed hold of one seat by one user.
// Created atomically with the seat's Available -> Reserved transition.
type Reservation struct {
	ID        int64             `json:"id"`
	EventID   int64             `json:"event_id"`
	SeatID    int64             `json:"seat_id"`
	UserID    string            `json:"user_id"`
	Status    ReservationStatus `json:"status"`
	ExpiresAt time.Time         `json:"expires_at"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Expired reports whether an active reservation's hold has lapsed
func (r *Reservation) Expired(now time.Time) bool {
	return r.Status == ReservationActive && !r.ExpiresAt.After(now)
}
