package dto

import (
	"time"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
)

// SubmitRequest represents an asynchronous reservation request
type SubmitRequest struct {
	EventID  int64   `json:"event_id" binding:"required"`
	SeatIDs  []int64 `json:"seat_ids" binding:"required,min=1,max=10"`
	Priority string  `json:"priority,omitempty"`
}

// QueuedRequestResponse represents a queued request snapshot
type QueuedRequestResponse struct {
	RequestID      string     `json:"request_id"`
	EventID        int64      `json:"event_id"`
	UserID         string     `json:"user_id"`
	SeatIDs        []int64    `json:"seat_ids"`
	Priority       string     `json:"priority"`
	State          string     `json:"state"`
	ReservationIDs []int64    `json:"reservation_ids,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	ErrorKind      string     `json:"error_kind,omitempty"`
	ErrorMsg       string     `json:"error_message,omitempty"`
	EnqueuedAt     time.Time  `json:"enqueued_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// QueuedRequestFromDomain converts a domain QueuedRequest to QueuedRequestResponse
func QueuedRequestFromDomain(r *domain.QueuedRequest) *QueuedRequestResponse {
	resp := &QueuedRequestResponse{
		RequestID:  r.RequestID,
		EventID:    r.EventID,
		UserID:     r.UserID,
		SeatIDs:    r.SeatIDs,
		Priority:   string(r.Priority),
		State:      string(r.State),
		ErrorKind:  r.ErrorKind,
		ErrorMsg:   r.ErrorMsg,
		EnqueuedAt: r.EnqueuedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if r.Result != nil {
		resp.ReservationIDs = r.Result.ReservationIDs
		expiresAt := r.Result.ExpiresAt
		resp.ExpiresAt = &expiresAt
	}
	return resp
}
