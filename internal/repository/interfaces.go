package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
)

// EventRepository defines event persistence operations
type EventRepository interface {
	Create(ctx context.Context, event *domain.Event) error
	GetByID(ctx context.Context, id int64) (*domain.Event, error)
	List(ctx context.Context, status domain.EventStatus, limit, offset int) ([]*domain.Event, error)
	Update(ctx context.Context, event *domain.Event) error
	UpdateStatus(ctx context.Context, id int64, status domain.EventStatus) error

	// Transactional operations used by the reservation engine
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Event, error)
	AdjustAvailableSeatsTx(ctx context.Context, tx pgx.Tx, id int64, delta int) (int, error)
	AddSeatsTx(ctx context.Context, tx pgx.Tx, id int64, count int) error
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.EventStatus) error
}

// SeatStateUpdate is a versioned seat state transition. The UPDATE carries
// WHERE version = ExpectedVersion; zero affected rows surfaces as
// domain.ErrOptimisticConflict.
type SeatStateUpdate struct {
	SeatID          int64
	ExpectedVersion int64
	Status          domain.SeatStatus
	HolderID        *string
	HoldExpiresAt   *time.Time
	BookingID       *int64
}

// SeatRepository defines seat persistence operations
type SeatRepository interface {
	CreateBatch(ctx context.Context, seats []*domain.Seat) error
	GetByID(ctx context.Context, id int64) (*domain.Seat, error)
	ListByEvent(ctx context.Context, eventID int64, status domain.SeatStatus, limit, offset int) ([]*domain.Seat, error)
	CountByStatus(ctx context.Context, eventID int64, status domain.SeatStatus) (int, error)

	// GetForUpdateTx locks the rows ordered by seat id so every transaction
	// takes row locks in the same order
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, seatIDs []int64) ([]*domain.Seat, error)
	UpdateStateTx(ctx context.Context, tx pgx.Tx, update *SeatStateUpdate) error
}

// ReservationRepository defines reservation persistence operations
type ReservationRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Reservation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, error)

	// ListExpired returns up to limit lapsed active reservations as sweep
	// candidates; each one is re-checked under its seat's lock before expiry
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error)

	CreateTx(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Reservation, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, from, to domain.ReservationStatus) error
	ExtendTx(ctx context.Context, tx pgx.Tx, id int64, expiresAt time.Time) error
}

// BookingRepository defines booking persistence operations
type BookingRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error)

	CreateTx(ctx context.Context, tx pgx.Tx, booking *domain.Booking) error
	GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error)
	UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.BookingStatus, paymentStatus domain.PaymentStatus, paymentID *string) error
}
