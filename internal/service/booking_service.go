package service

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/pkg/lock"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// BookingService converts held reservations into bookings and drives the
// payment lifecycle.
type BookingService interface {
	CreateBooking(ctx context.Context, userID string, reservationIDs []int64) (*domain.Booking, error)
	Get(ctx context.Context, bookingID int64) (*domain.Booking, error)
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error)
	ConfirmPayment(ctx context.Context, bookingID int64, userID, paymentID string) (*domain.Booking, error)
	FailPayment(ctx context.Context, bookingID int64, userID, paymentID string) (*domain.Booking, error)
	CancelBooking(ctx context.Context, bookingID int64, userID string) error
}

type bookingService struct {
	events       repository.EventRepository
	seats        repository.SeatRepository
	reservations repository.ReservationRepository
	bookings     repository.BookingRepository
	tx           repository.TxRunner
	locker       lock.Locker
}

// NewBookingService creates a BookingService
func NewBookingService(
	events repository.EventRepository,
	seats repository.SeatRepository,
	reservations repository.ReservationRepository,
	bookings repository.BookingRepository,
	tx repository.TxRunner,
	locker lock.Locker,
) BookingService {
	return &bookingService{
		events:       events,
		seats:        seats,
		reservations: reservations,
		bookings:     bookings,
		tx:           tx,
		locker:       locker,
	}
}

// newBookingReference produces an external identifier like BK-01J8ME9CJR...
func newBookingReference() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return "BK-" + ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// CreateBooking converts a set of active reservations held by the user into a
// pending booking. Seats move to Booked and the reservations to Confirmed; an
// expired or foreign reservation fails the whole call.
func (s *bookingService) CreateBooking(ctx context.Context, userID string, reservationIDs []int64) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int("reservation_count", len(reservationIDs)),
	)

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if len(reservationIDs) == 0 {
		return nil, domain.ErrNoSeatsRequested
	}

	// Load once outside the transaction to learn the seat ids for locking
	seatIDs := make([]int64, 0, len(reservationIDs))
	var eventID int64
	for _, id := range reservationIDs {
		res, err := s.reservations.GetByID(ctx, id)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if res.UserID != userID {
			return nil, domain.ErrNotOwner
		}
		if eventID == 0 {
			eventID = res.EventID
		} else if res.EventID != eventID {
			return nil, domain.ErrInvalidEventID
		}
		seatIDs = append(seatIDs, res.SeatID)
	}
	sort.Slice(seatIDs, func(i, j int) bool { return seatIDs[i] < seatIDs[j] })

	lockKeys := make([]string, len(seatIDs))
	for i, id := range seatIDs {
		lockKeys[i] = lock.SeatKey(id)
	}
	leases, err := s.locker.AcquireMulti(ctx, lockKeys)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, lock.ErrAcquireTimeout) {
			return nil, domain.ErrLockTimeout
		}
		return nil, err
	}
	defer func() { _ = s.locker.ReleaseMulti(ctx, leases) }()

	now := time.Now().UTC()
	booking := &domain.Booking{
		EventID:       eventID,
		UserID:        userID,
		Reference:     newBookingReference(),
		Status:        domain.BookingPending,
		PaymentStatus: domain.PaymentPending,
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		seats, err := s.seats.GetForUpdateTx(ctx, tx, seatIDs)
		if err != nil {
			return err
		}
		seatByID := make(map[int64]*domain.Seat, len(seats))
		for _, seat := range seats {
			seatByID[seat.ID] = seat
		}

		for _, resID := range reservationIDs {
			res, err := s.reservations.GetForUpdateTx(ctx, tx, resID)
			if err != nil {
				return err
			}
			if res.Status != domain.ReservationActive {
				return domain.ErrReservationNotActive
			}
			if res.Expired(now) {
				return domain.ErrReservationExpired
			}

			seat := seatByID[res.SeatID]
			if seat == nil || !seat.HeldBy(userID) {
				return domain.ErrReservationExpired
			}

			booking.Seats = append(booking.Seats, domain.BookingSeat{
				SeatID: seat.ID,
				Price:  seat.Price,
			})
			booking.TotalAmount += seat.Price
		}

		if err := s.bookings.CreateTx(ctx, tx, booking); err != nil {
			return err
		}

		for _, line := range booking.Seats {
			seat := seatByID[line.SeatID]
			bookingID := booking.ID
			if err := s.seats.UpdateStateTx(ctx, tx, &repository.SeatStateUpdate{
				SeatID:          seat.ID,
				ExpectedVersion: seat.Version,
				Status:          domain.SeatBooked,
				HolderID:        &booking.UserID,
				BookingID:       &bookingID,
			}); err != nil {
				return err
			}
		}

		for _, resID := range reservationIDs {
			if err := s.reservations.UpdateStatusTx(ctx, tx, resID, domain.ReservationActive, domain.ReservationConfirmed); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if metrics.BookingsCreated != nil {
		metrics.BookingsCreated.Inc(ctx)
	}
	span.SetAttributes(attribute.String("booking_reference", booking.Reference))
	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// Get retrieves a booking with its seat lines
func (s *bookingService) Get(ctx context.Context, bookingID int64) (*domain.Booking, error) {
	return s.bookings.GetByID(ctx, bookingID)
}

// GetByReference retrieves a booking by its external reference
func (s *bookingService) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	return s.bookings.GetByReference(ctx, reference)
}

// ListByUser retrieves a user's bookings
func (s *bookingService) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	return s.bookings.ListByUser(ctx, userID, limit, offset)
}

// ConfirmPayment marks a pending booking paid. Replaying the same payment id
// is a no-op; a different payment id against a confirmed booking is rejected.
func (s *bookingService) ConfirmPayment(ctx context.Context, bookingID int64, userID, paymentID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.confirm_payment")
	defer span.End()

	span.SetAttributes(attribute.Int64("booking_id", bookingID))

	var booking *domain.Booking
	err := s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		b, err := s.bookings.GetForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.UserID != userID {
			return domain.ErrNotOwner
		}

		if b.Status == domain.BookingConfirmed {
			if b.PaymentID != nil && *b.PaymentID == paymentID {
				booking = b
				return nil
			}
			return domain.ErrPaymentMismatch
		}
		if b.Status != domain.BookingPending {
			return domain.ErrBookingNotPending
		}

		if err := s.bookings.UpdateStatusTx(ctx, tx, bookingID, domain.BookingConfirmed, domain.PaymentSuccess, &paymentID); err != nil {
			return err
		}
		b.Status = domain.BookingConfirmed
		b.PaymentStatus = domain.PaymentSuccess
		b.PaymentID = &paymentID
		booking = b
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if metrics.BookingsConfirmed != nil {
		metrics.BookingsConfirmed.Inc(ctx)
	}
	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// FailPayment marks a pending booking failed and returns its seats to the pool
func (s *bookingService) FailPayment(ctx context.Context, bookingID int64, userID, paymentID string) (*domain.Booking, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.fail_payment")
	defer span.End()

	span.SetAttributes(attribute.Int64("booking_id", bookingID))

	booking, err := s.releaseBooking(ctx, bookingID, userID, domain.BookingFailed, &paymentID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if metrics.BookingsFailed != nil {
		metrics.BookingsFailed.Inc(ctx)
	}
	span.SetStatus(codes.Ok, "")
	return booking, nil
}

// CancelBooking cancels a booking. A pending booking releases its seats back
// to the pool; a confirmed booking is cancelled on record only and its seats
// stay booked pending a refund flow outside this service.
func (s *bookingService) CancelBooking(ctx context.Context, bookingID int64, userID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.booking.cancel")
	defer span.End()

	span.SetAttributes(attribute.Int64("booking_id", bookingID))

	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if current.UserID != userID {
		return domain.ErrNotOwner
	}

	if current.Status == domain.BookingConfirmed {
		err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			b, err := s.bookings.GetForUpdateTx(ctx, tx, bookingID)
			if err != nil {
				return err
			}
			if b.Status != domain.BookingConfirmed {
				return domain.ErrBookingNotPending
			}
			return s.bookings.UpdateStatusTx(ctx, tx, bookingID, domain.BookingCancelled, b.PaymentStatus, nil)
		})
	} else {
		_, err = s.releaseBooking(ctx, bookingID, userID, domain.BookingCancelled, nil)
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if metrics.BookingsCancelled != nil {
		metrics.BookingsCancelled.Inc(ctx)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// releaseBooking moves a pending booking to a terminal state and returns its
// seats to the available pool under the seat locks
func (s *bookingService) releaseBooking(ctx context.Context, bookingID int64, userID string, to domain.BookingStatus, paymentID *string) (*domain.Booking, error) {
	current, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, domain.ErrNotOwner
	}

	seatIDs := make([]int64, 0, len(current.Seats))
	for _, line := range current.Seats {
		seatIDs = append(seatIDs, line.SeatID)
	}
	sort.Slice(seatIDs, func(i, j int) bool { return seatIDs[i] < seatIDs[j] })

	lockKeys := make([]string, len(seatIDs))
	for i, id := range seatIDs {
		lockKeys[i] = lock.SeatKey(id)
	}
	leases, err := s.locker.AcquireMulti(ctx, lockKeys)
	if err != nil {
		if errors.Is(err, lock.ErrAcquireTimeout) {
			return nil, domain.ErrLockTimeout
		}
		return nil, err
	}
	defer func() { _ = s.locker.ReleaseMulti(ctx, leases) }()

	var booking *domain.Booking
	err = s.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		b, err := s.bookings.GetForUpdateTx(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status != domain.BookingPending {
			return domain.ErrBookingNotPending
		}

		paymentStatus := b.PaymentStatus
		if to == domain.BookingFailed {
			paymentStatus = domain.PaymentFailed
		}
		if err := s.bookings.UpdateStatusTx(ctx, tx, bookingID, to, paymentStatus, paymentID); err != nil {
			return err
		}

		seats, err := s.seats.GetForUpdateTx(ctx, tx, seatIDs)
		if err != nil {
			return err
		}

		released := 0
		for _, seat := range seats {
			if seat.Status != domain.SeatBooked || seat.BookingID == nil || *seat.BookingID != bookingID {
				continue
			}
			if err := s.seats.UpdateStateTx(ctx, tx, &repository.SeatStateUpdate{
				SeatID:          seat.ID,
				ExpectedVersion: seat.Version,
				Status:          domain.SeatAvailable,
			}); err != nil {
				return err
			}
			released++
		}

		if released > 0 {
			remaining, err := s.events.AdjustAvailableSeatsTx(ctx, tx, b.EventID, released)
			if err != nil {
				return err
			}
			if remaining == released {
				event, err := s.events.GetForUpdateTx(ctx, tx, b.EventID)
				if err != nil {
					return err
				}
				if event.Status == domain.EventSoldOut {
					if err := s.events.UpdateStatusTx(ctx, tx, b.EventID, domain.EventOnSale); err != nil {
						return err
					}
				}
			}
		}

		b.Status = to
		b.PaymentStatus = paymentStatus
		if paymentID != nil {
			b.PaymentID = paymentID
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}
