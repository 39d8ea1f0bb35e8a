package domain

import (
	"time"
)

// SeatStatus is the occupancy state of a seat
type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatReserved  SeatStatus = "reserved"
	SeatBooked    SeatStatus = "booked"
	SeatBlocked   SeatStatus = "blocked"
)

// SeatType is the price class of a seat
type SeatType string

const (
	SeatRegular SeatType = "regular"
	SeatVIP     SeatType = "vip"
	SeatPremium SeatType = "premium"
)

// Seat represents a single sellable seat of an event.
//
// Status, HolderID, HoldExpiresAt and BookingID move together:
// HolderID is set iff reserved or booked, HoldExpiresAt iff reserved,
// BookingID iff booked. Version increments on every mutation and every
// UPDATE carries a version predicate.
type Seat struct {
	ID            int64      `json:"id"`
	EventID       int64      `json:"event_id"`
	Section       string     `json:"section"`
	Row           string     `json:"row"`
	SeatNumber    string     `json:"seat_number"`
	Type          SeatType   `json:"seat_type"`
	Price         float64    `json:"price"`
	Status        SeatStatus `json:"status"`
	Version       int64      `json:"version"`
	HolderID      *string    `json:"holder_id,omitempty"`
	HoldExpiresAt *time.Time `json:"hold_expires_at,omitempty"`
	BookingID     *int64     `json:"booking_id,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Reservable reports whether the seat can be handed to a new holder.
// A reserved seat stays off the market until the sweeper has returned it,
// even after its hold lapsed; the sweep is the only path that restores
// availability, so the event counter is decremented exactly once per hold.
func (s *Seat) Reservable() bool {
	return s.Status == SeatAvailable
}

// HeldBy reports whether the seat is currently reserved by the given user
func (s *Seat) HeldBy(userID string) bool {
	return s.Status == SeatReserved && s.HolderID != nil && *s.HolderID == userID
}
