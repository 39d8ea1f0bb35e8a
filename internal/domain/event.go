package domain

import (
	"time"
)

// EventStatus is the sale lifecycle of an event
type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOnSale    EventStatus = "on_sale"
	EventSoldOut   EventStatus = "sold_out"
	EventCancelled EventStatus = "cancelled"
)

// Event represents an event entity
type Event struct {
	ID             int64       `json:"id"`
	Name           string      `json:"name"`
	Venue          string      `json:"venue"`
	Status         EventStatus `json:"status"`
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
	SaleStartTime  time.Time   `json:"sale_start_time"`
	EventDate      time.Time   `json:"event_date"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// AcceptsReservations reports whether seats can currently be reserved
func (e *Event) AcceptsReservations() bool {
	return e.Status == EventOnSale
}
