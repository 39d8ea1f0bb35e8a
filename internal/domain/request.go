package domain

import (
	"time"
)

// Priority orders queued reservation requests
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ParsePriority validates a client-supplied priority string
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityHigh, PriorityNormal, PriorityLow:
		return Priority(s), nil
	case "":
		return PriorityNormal, nil
	default:
		return "", ErrInvalidPriority
	}
}

// RequestState is the lifecycle state of a queued reservation request
type RequestState string

const (
	RequestPending    RequestState = "pending"
	RequestProcessing RequestState = "processing"
	RequestCompleted  RequestState = "completed"
	RequestFailed     RequestState = "failed"
	RequestCancelled  RequestState = "cancelled"
)

// Terminal reports whether the state can never change again
func (s RequestState) Terminal() bool {
	return s == RequestCompleted || s == RequestFailed || s == RequestCancelled
}

// RequestResult carries the outcome of a completed request
type RequestResult struct {
	ReservationIDs []int64   `json:"reservation_ids"`
	ExpiresAt      time.Time `json:"expires_at"`
}

// QueuedRequest is an asynchronous reservation request flowing through the
// priority queue. The status store holds the authoritative snapshot.
type QueuedRequest struct {
	RequestID  string         `json:"request_id"`
	EventID    int64          `json:"event_id"`
	UserID     string         `json:"user_id"`
	SeatIDs    []int64        `json:"seat_ids"`
	Priority   Priority       `json:"priority"`
	State      RequestState   `json:"state"`
	Result     *RequestResult `json:"result,omitempty"`
	ErrorKind  string         `json:"error_kind,omitempty"`
	ErrorMsg   string         `json:"error_message,omitempty"`
	EnqueuedAt time.Time      `json:"enqueued_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
