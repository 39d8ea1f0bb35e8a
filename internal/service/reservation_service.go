package service

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/pkg/lock"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// ReserveResult is the outcome of a successful reservation
type ReserveResult struct {
	Reservations []*domain.Reservation
	ExpiresAt    time.Time
	TotalPrice   float64
}

// ReservationService is the reservation engine: every seat state transition
// from Available to Reserved and back goes through here, under the seats'
// distributed locks and a single database transaction.
type ReservationService interface {
	Reserve(ctx context.Context, userID string, eventID int64, seatIDs []int64) (*ReserveResult, error)
	Get(ctx context.Context, reservationID int64) (*domain.Reservation, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, error)
	Extend(ctx context.Context, reservationID int64, userID string) (*domain.Reservation, error)
	Cancel(ctx context.Context, reservationID int64, userID string) error
	CancelBatch(ctx context.Context, reservationIDs []int64, userID string) (int, error)

	// ExpireBatch returns lapsed holds to the available pool; the sweeper
	// calls it every cycle
	ExpireBatch(ctx context.Context, limit int) (int, error)
}

// ReservationServiceConfig contains configuration for the reservation engine
type ReservationServiceConfig struct {
	// HoldTimeout is how long a reservation keeps its seats
	HoldTimeout time.Duration
	// MaxSeatsPerBooking bounds one request's seat count
	MaxSeatsPerBooking int
}

type reservationService struct {
	events       repository.EventRepository
	seats        repository.SeatRepository
	reservations repository.ReservationRepository
	tx           repository.TxRunner
	locker       lock.Locker
	holdTimeout  time.Duration
	maxSeats     int
}

// NewReservationService creates the reservation engine
func NewReservationService(
	events repository.EventRepository,
	seats repository.SeatRepository,
	reservations repository.ReservationRepository,
	tx repository.TxRunner,
	locker lock.Locker,
	cfg *ReservationServiceConfig,
) ReservationService {
	holdTimeout := 10 * time.Minute
	maxSeats := 10
	if cfg != nil {
		if cfg.HoldTimeout > 0 {
			holdTimeout = cfg.HoldTimeout
		}
		if cfg.MaxSeatsPerBooking > 0 {
			maxSeats = cfg.MaxSeatsPerBooking
		}
	}
	return &reservationService{
		events:       events,
		seats:        seats,
		reservations: reservations,
		tx:           tx,
		locker:       locker,
		holdTimeout:  holdTimeout,
		maxSeats:     maxSeats,
	}
}

func (s *reservationService) validateSeatIDs(seatIDs []int64) ([]int64, error) {
	if len(seatIDs) == 0 {
		return nil, domain.ErrNoSeatsRequested
	}
	if len(seatIDs) > s.maxSeats {
		return nil, domain.ErrTooManySeats
	}

	sorted := make([]int64, len(seatIDs))
	copy(sorted, seatIDs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for i := 1; i < len(sorted); i++ {
		if sorted[i] == sorted[i-1] {
			return nil, domain.ErrDuplicateSeats
		}
	}
	return sorted, nil
}

// Reserve atomically reserves all requested seats or none of them
func (s *reservationService) Reserve(ctx context.Context, userID string, eventID int64, seatIDs []int64) (*ReserveResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("event_id", eventID),
		attribute.Int("seat_count", len(seatIDs)),
	)

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	sorted, err := s.validateSeatIDs(seatIDs)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !event.AcceptsReservations() {
		span.SetStatus(codes.Error, "event not on sale")
		metrics.RecordReservationFailure(ctx, eventID, "event_not_on_sale")
		return nil, domain.ErrEventNotOnSale
	}

	lockKeys := make([]string, len(sorted))
	for i, id := range sorted {
		lockKeys[i] = lock.SeatKey(id)
	}

	lockStart := time.Now()
	leases, err := s.locker.AcquireMulti(ctx, lockKeys)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, lock.ErrAcquireTimeout) {
			metrics.RecordReservationFailure(ctx, eventID, "lock_timeout")
			return nil, domain.ErrLockTimeout
		}
		return nil, err
	}
	defer func() { _ = s.locker.ReleaseMulti(ctx, leases) }()
	metrics.RecordLockWait(ctx, time.Since(lockStart).Seconds())

	now := time.Now().UTC()
	expiresAt := now.Add(s.holdTimeout)
	result := &ReserveResult{ExpiresAt: expiresAt}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		seats, err := s.seats.GetForUpdateTx(ctx, tx, sorted)
		if err != nil {
			return err
		}

		for _, seat := range seats {
			if seat.EventID != eventID {
				return domain.ErrSeatNotFound
			}
			if !seat.Reservable() {
				return &domain.SeatUnavailableError{SeatID: seat.ID}
			}
		}

		for _, seat := range seats {
			holder := userID
			update := &repository.SeatStateUpdate{
				SeatID:          seat.ID,
				ExpectedVersion: seat.Version,
				Status:          domain.SeatReserved,
				HolderID:        &holder,
				HoldExpiresAt:   &expiresAt,
			}
			if err := s.seats.UpdateStateTx(ctx, tx, update); err != nil {
				return err
			}

			res := &domain.Reservation{
				EventID:   eventID,
				SeatID:    seat.ID,
				UserID:    userID,
				Status:    domain.ReservationActive,
				ExpiresAt: expiresAt,
			}
			if err := s.reservations.CreateTx(ctx, tx, res); err != nil {
				return err
			}
			result.Reservations = append(result.Reservations, res)
			result.TotalPrice += seat.Price
		}

		remaining, err := s.events.AdjustAvailableSeatsTx(ctx, tx, eventID, -len(seats))
		if err != nil {
			return err
		}
		if remaining == 0 {
			if err := s.events.UpdateStatusTx(ctx, tx, eventID, domain.EventSoldOut); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if domain.IsUnavailableError(err) {
			metrics.RecordReservationFailure(ctx, eventID, "seat_unavailable")
		}
		return nil, err
	}

	metrics.RecordReservation(ctx, eventID, len(result.Reservations))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// Get retrieves a reservation
func (s *reservationService) Get(ctx context.Context, reservationID int64) (*domain.Reservation, error) {
	return s.reservations.GetByID(ctx, reservationID)
}

// ListByUser retrieves a user's reservations
func (s *reservationService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, error) {
	return s.reservations.ListByUser(ctx, userID, limit, offset)
}

// Extend resets an active reservation's expiry to a full hold timeout from now
func (s *reservationService) Extend(ctx context.Context, reservationID int64, userID string) (*domain.Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.extend")
	defer span.End()

	span.SetAttributes(attribute.Int64("reservation_id", reservationID))

	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if res.UserID != userID {
		return nil, domain.ErrNotOwner
	}

	lease, err := s.locker.Acquire(ctx, lock.SeatKey(res.SeatID))
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			return nil, domain.ErrLockTimeout
		}
		return nil, err
	}
	defer func() { _ = s.locker.Release(ctx, lease) }()

	now := time.Now().UTC()
	expiresAt := now.Add(s.holdTimeout)

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.reservations.GetForUpdateTx(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if current.Status != domain.ReservationActive {
			return domain.ErrReservationNotActive
		}
		if current.Expired(now) {
			return domain.ErrReservationExpired
		}

		if err := s.reservations.ExtendTx(ctx, tx, reservationID, expiresAt); err != nil {
			return err
		}

		seats, err := s.seats.GetForUpdateTx(ctx, tx, []int64{current.SeatID})
		if err != nil {
			return err
		}
		seat := seats[0]
		if !seat.HeldBy(userID) {
			return domain.ErrReservationExpired
		}

		holder := userID
		return s.seats.UpdateStateTx(ctx, tx, &repository.SeatStateUpdate{
			SeatID:          seat.ID,
			ExpectedVersion: seat.Version,
			Status:          domain.SeatReserved,
			HolderID:        &holder,
			HoldExpiresAt:   &expiresAt,
		})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	res.ExpiresAt = expiresAt
	span.SetStatus(codes.Ok, "")
	return res, nil
}

// Cancel returns a held seat to the available pool
func (s *reservationService) Cancel(ctx context.Context, reservationID int64, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.cancel")
	defer span.End()

	span.SetAttributes(attribute.Int64("reservation_id", reservationID))

	res, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if res.UserID != userID {
		return domain.ErrNotOwner
	}
	if res.Status != domain.ReservationActive {
		return domain.ErrReservationNotActive
	}

	lease, err := s.locker.Acquire(ctx, lock.SeatKey(res.SeatID))
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			return domain.ErrLockTimeout
		}
		return err
	}
	defer func() { _ = s.locker.Release(ctx, lease) }()

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		if err := s.reservations.UpdateStatusTx(ctx, tx, reservationID, domain.ReservationActive, domain.ReservationCancelled); err != nil {
			return err
		}
		return s.releaseSeatTx(ctx, tx, res.SeatID, res.EventID, userID, time.Time{})
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	metrics.RecordCancellation(ctx, res.EventID)
	span.SetStatus(codes.Ok, "")
	return nil
}

// CancelBatch cancels several reservations, skipping ones that already left
// the active state. Returns how many were cancelled.
func (s *reservationService) CancelBatch(ctx context.Context, reservationIDs []int64, userID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.cancel_batch")
	defer span.End()

	cancelled := 0
	for _, id := range reservationIDs {
		err := s.Cancel(ctx, id, userID)
		if err != nil {
			if errors.Is(err, domain.ErrReservationNotActive) || domain.IsNotFoundError(err) {
				continue
			}
			span.SetStatus(codes.Error, err.Error())
			return cancelled, err
		}
		cancelled++
	}

	span.SetAttributes(attribute.Int("cancelled", cancelled))
	span.SetStatus(codes.Ok, "")
	return cancelled, nil
}

// releaseSeatTx returns one seat to the pool if still held by the given user,
// restoring the event's availability and reopening a sold-out sale. A
// non-zero lapsedBy only releases holds that had expired by then; a hold
// renewed past it stays in place.
func (s *reservationService) releaseSeatTx(ctx context.Context, tx pgx.Tx, seatID, eventID int64, userID string, lapsedBy time.Time) error {
	seats, err := s.seats.GetForUpdateTx(ctx, tx, []int64{seatID})
	if err != nil {
		return err
	}
	seat := seats[0]

	// The seat may already be re-reserved by someone else after an expiry;
	// only release what this user still holds
	if !seat.HeldBy(userID) {
		return nil
	}
	if !lapsedBy.IsZero() && (seat.HoldExpiresAt == nil || seat.HoldExpiresAt.After(lapsedBy)) {
		return nil
	}

	if err := s.seats.UpdateStateTx(ctx, tx, &repository.SeatStateUpdate{
		SeatID:          seat.ID,
		ExpectedVersion: seat.Version,
		Status:          domain.SeatAvailable,
	}); err != nil {
		return err
	}

	remaining, err := s.events.AdjustAvailableSeatsTx(ctx, tx, eventID, 1)
	if err != nil {
		return err
	}
	if remaining == 1 {
		// First seat back after a sell-out reopens the sale
		event, err := s.events.GetForUpdateTx(ctx, tx, eventID)
		if err != nil {
			return err
		}
		if event.Status == domain.EventSoldOut {
			if err := s.events.UpdateStatusTx(ctx, tx, eventID, domain.EventOnSale); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExpireBatch transitions up to limit lapsed reservations to Expired and
// returns their seats to the pool. Each reservation resolves in its own
// transaction under its seat's lock, so one contended seat cannot roll back
// the rest of the batch.
func (s *reservationService) ExpireBatch(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.expire_batch")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	candidates, err := s.reservations.ListExpired(ctx, now, limit)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	expired := 0
	perEvent := make(map[int64]int64)
	for _, res := range candidates {
		done, err := s.expireOne(ctx, res, now)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return expired, err
		}
		if done {
			expired++
			perEvent[res.EventID]++
		}
	}

	for eventID, count := range perEvent {
		metrics.RecordExpiration(ctx, eventID, count)
	}

	span.SetAttributes(attribute.Int("expired", expired))
	span.SetStatus(codes.Ok, "")
	return expired, nil
}

// expireOne expires a single lapsed reservation. The expiry is re-checked
// under the seat's lock: an Extend that landed after the candidate scan
// leaves the hold untouched. Returns false when the reservation no longer
// qualifies or its lock is contended.
func (s *reservationService) expireOne(ctx context.Context, res *domain.Reservation, now time.Time) (bool, error) {
	lease, err := s.locker.Acquire(ctx, lock.SeatKey(res.SeatID))
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			// Contended seat; the next sweep picks it up
			return false, nil
		}
		return false, err
	}
	defer func() { _ = s.locker.Release(ctx, lease) }()

	expired := false
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		current, err := s.reservations.GetForUpdateTx(ctx, tx, res.ID)
		if err != nil {
			if domain.IsNotFoundError(err) {
				return nil
			}
			return err
		}
		if current.Status != domain.ReservationActive || current.ExpiresAt.After(now) {
			return nil
		}
		if err := s.reservations.UpdateStatusTx(ctx, tx, res.ID, domain.ReservationActive, domain.ReservationExpired); err != nil {
			return err
		}
		if err := s.releaseSeatTx(ctx, tx, res.SeatID, res.EventID, current.UserID, now); err != nil {
			return err
		}
		expired = true
		return nil
	})
	return expired, err
}
