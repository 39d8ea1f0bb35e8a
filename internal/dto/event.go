package dto

import (
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
)

// CreateEventRequest represents request to create an event
type CreateEventRequest struct {
	Name          string    `json:"name" binding:"required"`
	Venue         string    `json:"venue" binding:"required"`
	SaleStartTime time.Time `json:"sale_start_time" binding:"required"`
	EventDate     time.Time `json:"event_date" binding:"required"`
}

// UpdateEventRequest represents request to update event metadata
type UpdateEventRequest struct {
	Name          string    `json:"name" binding:"required"`
	Venue         string    `json:"venue" binding:"required"`
	SaleStartTime time.Time `json:"sale_start_time" binding:"required"`
	EventDate     time.Time `json:"event_date" binding:"required"`
}

// SeatSpec describes one seat in a bulk seat-map request
type SeatSpec struct {
	Section    string  `json:"section" binding:"required"`
	Row        string  `json:"row" binding:"required"`
	SeatNumber string  `json:"seat_number" binding:"required"`
	Type       string  `json:"type,omitempty"`
	Price      float64 `json:"price" binding:"min=0"`
}

// CreateSeatsRequest represents request to add seats to an event
type CreateSeatsRequest struct {
	Seats []SeatSpec `json:"seats" binding:"required,min=1,dive"`
}

// EventResponse represents an event in API responses
type EventResponse struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	Venue          string    `json:"venue"`
	Status         string    `json:"status"`
	TotalSeats     int       `json:"total_seats"`
	AvailableSeats int       `json:"available_seats"`
	SaleStartTime  time.Time `json:"sale_start_time"`
	EventDate      time.Time `json:"event_date"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventFromDomain converts a domain Event to EventResponse
func EventFromDomain(e *domain.Event) *EventResponse {
	return &EventResponse{
		ID:             e.ID,
		Name:           e.Name,
		Venue:          e.Venue,
		Status:         string(e.Status),
		TotalSeats:     e.TotalSeats,
		AvailableSeats: e.AvailableSeats,
		SaleStartTime:  e.SaleStartTime,
		EventDate:      e.EventDate,
		CreatedAt:      e.CreatedAt,
	}
}

// SeatResponse represents a seat in API responses
type SeatResponse struct {
	ID         int64   `json:"id"`
	EventID    int64   `json:"event_id"`
	Section    string  `json:"section"`
	Row        string  `json:"row"`
	SeatNumber string  `json:"seat_number"`
	Type       string  `json:"type"`
	Price      float64 `json:"price"`
	Status     string  `json:"status"`
}

// SeatFromDomain converts a domain Seat to SeatResponse
func SeatFromDomain(s *domain.Seat) *SeatResponse {
	return &SeatResponse{
		ID:         s.ID,
		EventID:    s.EventID,
		Section:    s.Section,
		Row:        s.Row,
		SeatNumber: s.SeatNumber,
		Type:       string(s.Type),
		Price:      s.Price,
		Status:     string(s.Status),
	}
}

// AvailabilityResponse represents an event's seat counts per status
type AvailabilityResponse struct {
	EventID        int64          `json:"event_id"`
	Status         string         `json:"status"`
	TotalSeats     int            `json:"total_seats"`
	AvailableSeats int            `json:"available_seats"`
	Counts         map[string]int `json:"counts"`
}
