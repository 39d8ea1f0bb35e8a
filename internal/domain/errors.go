package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Not found errors
	ErrEventNotFound       = errors.New("event not found")
	ErrSeatNotFound        = errors.New("seat not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrBookingNotFound     = errors.New("booking not found")
	ErrRequestNotFound     = errors.New("request not found")

	// Validation errors
	ErrInvalidEventID   = errors.New("invalid event id")
	ErrInvalidUserID    = errors.New("invalid user id")
	ErrNoSeatsRequested = errors.New("at least one seat is required")
	ErrTooManySeats     = errors.New("seat count exceeds maximum per booking")
	ErrDuplicateSeats   = errors.New("duplicate seat ids in request")
	ErrInvalidPriority  = errors.New("priority must be high, normal or low")
	ErrSaleNotStarted   = errors.New("sale start time is in the future")

	// Availability errors
	ErrSeatUnavailable    = errors.New("seat unavailable")
	ErrEventNotOnSale     = errors.New("event is not on sale")
	ErrAlreadyHeld        = errors.New("seat already held by another user")
	ErrReservationExpired = errors.New("reservation has expired")
	ErrLockTimeout        = errors.New("could not acquire seat lock in time")

	// Conflict errors
	ErrOptimisticConflict    = errors.New("seat version changed concurrently")
	ErrReservationNotActive  = errors.New("reservation is not active")
	ErrBookingNotPending     = errors.New("booking is not pending")
	ErrPaymentMismatch       = errors.New("booking already confirmed with a different payment")
	ErrRequestNotCancellable = errors.New("request is already processing or finished")

	// Ownership errors
	ErrNotOwner = errors.New("resource belongs to a different user")
)

// SeatUnavailableError reports which seat blocked a reservation attempt
type SeatUnavailableError struct {
	SeatID int64
}

func (e *SeatUnavailableError) Error() string {
	return fmt.Sprintf("seat %d unavailable", e.SeatID)
}

// Is makes errors.Is(err, ErrSeatUnavailable) match
func (e *SeatUnavailableError) Is(target error) bool {
	return target == ErrSeatUnavailable
}

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrSeatNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrRequestNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrNoSeatsRequested) ||
		errors.Is(err, ErrTooManySeats) ||
		errors.Is(err, ErrDuplicateSeats) ||
		errors.Is(err, ErrInvalidPriority) ||
		errors.Is(err, ErrSaleNotStarted)
}

// IsUnavailableError checks if the error means the resource is currently taken
func IsUnavailableError(err error) bool {
	return errors.Is(err, ErrSeatUnavailable) ||
		errors.Is(err, ErrEventNotOnSale) ||
		errors.Is(err, ErrAlreadyHeld) ||
		errors.Is(err, ErrReservationExpired) ||
		errors.Is(err, ErrLockTimeout)
}

// IsConflictError checks if the error is a state conflict
func IsConflictError(err error) bool {
	return errors.Is(err, ErrOptimisticConflict) ||
		errors.Is(err, ErrReservationNotActive) ||
		errors.Is(err, ErrBookingNotPending) ||
		errors.Is(err, ErrPaymentMismatch) ||
		errors.Is(err, ErrRequestNotCancellable)
}
