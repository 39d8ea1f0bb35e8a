package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/pkg/lock"
)

func newTestReservationService(events *mockEventRepo, seats *mockSeatRepo, reservations *mockReservationRepo, locker lock.Locker) ReservationService {
	return NewReservationService(events, seats, reservations, &fakeTxRunner{}, locker, &ReservationServiceConfig{
		HoldTimeout:        10 * time.Minute,
		MaxSeatsPerBooking: 4,
	})
}

func onSaleEvent(id int64, available int) *domain.Event {
	return &domain.Event{
		ID:             id,
		Name:           "Concert",
		Venue:          "Arena",
		Status:         domain.EventOnSale,
		TotalSeats:     100,
		AvailableSeats: available,
		SaleStartTime:  time.Now().Add(-time.Hour),
		EventDate:      time.Now().Add(24 * time.Hour),
	}
}

func availableSeat(id, eventID int64, price float64) *domain.Seat {
	return &domain.Seat{
		ID:      id,
		EventID: eventID,
		Status:  domain.SeatAvailable,
		Version: 3,
		Price:   price,
	}
}

func TestReserve_Success(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	locker := &fakeLocker{}
	svc := newTestReservationService(events, seats, reservations, locker)

	events.On("GetByID", mock.Anything, int64(1)).Return(onSaleEvent(1, 50), nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10, 20}).Return(
		[]*domain.Seat{availableSeat(10, 1, 100), availableSeat(20, 1, 150)}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.MatchedBy(func(u *repository.SeatStateUpdate) bool {
		return u.Status == domain.SeatReserved && u.ExpectedVersion == 3 && u.HolderID != nil && *u.HolderID == "user-1"
	})).Return(nil).Twice()
	reservations.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()
	events.On("AdjustAvailableSeatsTx", mock.Anything, mock.Anything, int64(1), -2).Return(48, nil)

	// Seat ids arrive unsorted; locks and row locks must be taken in order
	result, err := svc.Reserve(context.Background(), "user-1", 1, []int64{20, 10})
	require.NoError(t, err)
	require.Len(t, result.Reservations, 2)
	assert.Equal(t, 250.0, result.TotalPrice)
	assert.True(t, result.ExpiresAt.After(time.Now()))

	assert.Equal(t, []string{lock.SeatKey(10), lock.SeatKey(20)}, locker.acquired)
	assert.Len(t, locker.released, 2)
	events.AssertExpectations(t)
	seats.AssertExpectations(t)
	reservations.AssertExpectations(t)
}

func TestReserve_LastSeatsFlipEventToSoldOut(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	events.On("GetByID", mock.Anything, int64(1)).Return(onSaleEvent(1, 1), nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{availableSeat(10, 1, 100)}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	reservations.On("CreateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	events.On("AdjustAvailableSeatsTx", mock.Anything, mock.Anything, int64(1), -1).Return(0, nil)
	events.On("UpdateStatusTx", mock.Anything, mock.Anything, int64(1), domain.EventSoldOut).Return(nil)

	_, err := svc.Reserve(context.Background(), "user-1", 1, []int64{10})
	require.NoError(t, err)
	events.AssertExpectations(t)
}

func TestReserve_AllOrNothing(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	holder := "someone-else"
	future := time.Now().Add(5 * time.Minute)
	taken := &domain.Seat{
		ID: 20, EventID: 1, Status: domain.SeatReserved,
		HolderID: &holder, HoldExpiresAt: &future,
	}

	events.On("GetByID", mock.Anything, int64(1)).Return(onSaleEvent(1, 50), nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10, 20}).Return(
		[]*domain.Seat{availableSeat(10, 1, 100), taken}, nil)

	_, err := svc.Reserve(context.Background(), "user-1", 1, []int64{10, 20})
	require.ErrorIs(t, err, domain.ErrSeatUnavailable)

	var unavailable *domain.SeatUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, int64(20), unavailable.SeatID)

	// No seat writes at all when any seat is taken
	seats.AssertNotCalled(t, "UpdateStateTx", mock.Anything, mock.Anything, mock.Anything)
	reservations.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything, mock.Anything)
}

func TestReserve_LapsedHoldStaysUnavailable(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	holder := "previous-holder"
	past := time.Now().Add(-time.Minute)
	lapsed := &domain.Seat{
		ID: 10, EventID: 1, Status: domain.SeatReserved, Version: 7,
		HolderID: &holder, HoldExpiresAt: &past, Price: 80,
	}

	events.On("GetByID", mock.Anything, int64(1)).Return(onSaleEvent(1, 50), nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{lapsed}, nil)

	// The seat stays off the market until the sweeper returns it. Handing
	// it over here would decrement the event counter a second time for the
	// same hold and leave two active reservations on one seat.
	_, err := svc.Reserve(context.Background(), "user-1", 1, []int64{10})
	require.ErrorIs(t, err, domain.ErrSeatUnavailable)

	var unavailable *domain.SeatUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, int64(10), unavailable.SeatID)

	seats.AssertNotCalled(t, "UpdateStateTx", mock.Anything, mock.Anything, mock.Anything)
	reservations.AssertNotCalled(t, "CreateTx", mock.Anything, mock.Anything, mock.Anything)
	events.AssertNotCalled(t, "AdjustAvailableSeatsTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestReserve_Validation(t *testing.T) {
	svc := newTestReservationService(&mockEventRepo{}, &mockSeatRepo{}, &mockReservationRepo{}, &fakeLocker{})
	ctx := context.Background()

	_, err := svc.Reserve(ctx, "", 1, []int64{10})
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	_, err = svc.Reserve(ctx, "user-1", 1, nil)
	assert.ErrorIs(t, err, domain.ErrNoSeatsRequested)

	_, err = svc.Reserve(ctx, "user-1", 1, []int64{1, 2, 3, 4, 5})
	assert.ErrorIs(t, err, domain.ErrTooManySeats)

	_, err = svc.Reserve(ctx, "user-1", 1, []int64{10, 10})
	assert.ErrorIs(t, err, domain.ErrDuplicateSeats)
}

func TestReserve_EventNotOnSale(t *testing.T) {
	events := &mockEventRepo{}
	svc := newTestReservationService(events, &mockSeatRepo{}, &mockReservationRepo{}, &fakeLocker{})

	upcoming := onSaleEvent(1, 50)
	upcoming.Status = domain.EventUpcoming
	events.On("GetByID", mock.Anything, int64(1)).Return(upcoming, nil)

	_, err := svc.Reserve(context.Background(), "user-1", 1, []int64{10})
	assert.ErrorIs(t, err, domain.ErrEventNotOnSale)
}

func TestReserve_LockTimeout(t *testing.T) {
	events := &mockEventRepo{}
	svc := newTestReservationService(events, &mockSeatRepo{}, &mockReservationRepo{},
		&fakeLocker{acquireErr: lock.ErrAcquireTimeout})

	events.On("GetByID", mock.Anything, int64(1)).Return(onSaleEvent(1, 50), nil)

	_, err := svc.Reserve(context.Background(), "user-1", 1, []int64{10})
	assert.ErrorIs(t, err, domain.ErrLockTimeout)
}

func TestReserve_WrongEventSeat(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	svc := newTestReservationService(events, seats, &mockReservationRepo{}, &fakeLocker{})

	events.On("GetByID", mock.Anything, int64(1)).Return(onSaleEvent(1, 50), nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{availableSeat(10, 99, 100)}, nil)

	_, err := svc.Reserve(context.Background(), "user-1", 1, []int64{10})
	assert.ErrorIs(t, err, domain.ErrSeatNotFound)
}

func TestExtend_ResetsExpiry(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	active := &domain.Reservation{
		ID: 5, EventID: 1, SeatID: 10, UserID: "user-1",
		Status: domain.ReservationActive, ExpiresAt: time.Now().Add(time.Minute),
	}
	holder := "user-1"
	held := &domain.Seat{ID: 10, EventID: 1, Status: domain.SeatReserved, Version: 4, HolderID: &holder}

	reservations.On("GetByID", mock.Anything, int64(5)).Return(active, nil)
	reservations.On("GetForUpdateTx", mock.Anything, mock.Anything, int64(5)).Return(active, nil)
	reservations.On("ExtendTx", mock.Anything, mock.Anything, int64(5), mock.Anything).Return(nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return([]*domain.Seat{held}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.MatchedBy(func(u *repository.SeatStateUpdate) bool {
		return u.SeatID == 10 && u.Status == domain.SeatReserved && u.HoldExpiresAt != nil
	})).Return(nil)

	res, err := svc.Extend(context.Background(), 5, "user-1")
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.After(time.Now().Add(9*time.Minute)))
}

func TestExtend_NotOwner(t *testing.T) {
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(&mockEventRepo{}, &mockSeatRepo{}, reservations, &fakeLocker{})

	reservations.On("GetByID", mock.Anything, int64(5)).Return(&domain.Reservation{
		ID: 5, UserID: "someone-else", Status: domain.ReservationActive,
	}, nil)

	_, err := svc.Extend(context.Background(), 5, "user-1")
	assert.ErrorIs(t, err, domain.ErrNotOwner)
}

func TestExtend_LapsedHold(t *testing.T) {
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(&mockEventRepo{}, &mockSeatRepo{}, reservations, &fakeLocker{})

	lapsed := &domain.Reservation{
		ID: 5, UserID: "user-1", SeatID: 10,
		Status: domain.ReservationActive, ExpiresAt: time.Now().Add(-time.Minute),
	}
	reservations.On("GetByID", mock.Anything, int64(5)).Return(lapsed, nil)
	reservations.On("GetForUpdateTx", mock.Anything, mock.Anything, int64(5)).Return(lapsed, nil)

	_, err := svc.Extend(context.Background(), 5, "user-1")
	assert.ErrorIs(t, err, domain.ErrReservationExpired)
}

func TestCancel_ReleasesSeat(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	reservations.On("GetByID", mock.Anything, int64(5)).Return(&domain.Reservation{
		ID: 5, EventID: 1, SeatID: 10, UserID: "user-1", Status: domain.ReservationActive,
	}, nil)
	reservations.On("UpdateStatusTx", mock.Anything, mock.Anything, int64(5),
		domain.ReservationActive, domain.ReservationCancelled).Return(nil)

	holder := "user-1"
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{{ID: 10, EventID: 1, Status: domain.SeatReserved, Version: 2, HolderID: &holder}}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.MatchedBy(func(u *repository.SeatStateUpdate) bool {
		return u.Status == domain.SeatAvailable && u.HolderID == nil && u.HoldExpiresAt == nil
	})).Return(nil)
	events.On("AdjustAvailableSeatsTx", mock.Anything, mock.Anything, int64(1), 1).Return(49, nil)

	err := svc.Cancel(context.Background(), 5, "user-1")
	require.NoError(t, err)
	seats.AssertExpectations(t)
}

func TestCancel_ReopensSoldOutEvent(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	reservations.On("GetByID", mock.Anything, int64(5)).Return(&domain.Reservation{
		ID: 5, EventID: 1, SeatID: 10, UserID: "user-1", Status: domain.ReservationActive,
	}, nil)
	reservations.On("UpdateStatusTx", mock.Anything, mock.Anything, int64(5),
		domain.ReservationActive, domain.ReservationCancelled).Return(nil)

	holder := "user-1"
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{{ID: 10, EventID: 1, Status: domain.SeatReserved, HolderID: &holder}}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	events.On("AdjustAvailableSeatsTx", mock.Anything, mock.Anything, int64(1), 1).Return(1, nil)

	soldOut := onSaleEvent(1, 1)
	soldOut.Status = domain.EventSoldOut
	events.On("GetForUpdateTx", mock.Anything, mock.Anything, int64(1)).Return(soldOut, nil)
	events.On("UpdateStatusTx", mock.Anything, mock.Anything, int64(1), domain.EventOnSale).Return(nil)

	err := svc.Cancel(context.Background(), 5, "user-1")
	require.NoError(t, err)
	events.AssertExpectations(t)
}

func TestCancel_SeatAlreadyRetaken(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	reservations.On("GetByID", mock.Anything, int64(5)).Return(&domain.Reservation{
		ID: 5, EventID: 1, SeatID: 10, UserID: "user-1", Status: domain.ReservationActive,
	}, nil)
	reservations.On("UpdateStatusTx", mock.Anything, mock.Anything, int64(5),
		domain.ReservationActive, domain.ReservationCancelled).Return(nil)

	// Hold lapsed and someone else re-reserved the seat
	other := "other-user"
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{{ID: 10, EventID: 1, Status: domain.SeatReserved, HolderID: &other}}, nil)

	err := svc.Cancel(context.Background(), 5, "user-1")
	require.NoError(t, err)

	// The new holder keeps the seat; no release, no availability change
	seats.AssertNotCalled(t, "UpdateStateTx", mock.Anything, mock.Anything, mock.Anything)
	events.AssertNotCalled(t, "AdjustAvailableSeatsTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCancelBatch_SkipsResolved(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	holder := "user-1"
	reservations.On("GetByID", mock.Anything, int64(1)).Return(&domain.Reservation{
		ID: 1, EventID: 1, SeatID: 10, UserID: "user-1", Status: domain.ReservationActive,
	}, nil)
	reservations.On("GetByID", mock.Anything, int64(2)).Return(&domain.Reservation{
		ID: 2, EventID: 1, SeatID: 11, UserID: "user-1", Status: domain.ReservationExpired,
	}, nil)
	reservations.On("GetByID", mock.Anything, int64(3)).Return(nil, domain.ErrReservationNotFound)

	reservations.On("UpdateStatusTx", mock.Anything, mock.Anything, int64(1),
		domain.ReservationActive, domain.ReservationCancelled).Return(nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{{ID: 10, EventID: 1, Status: domain.SeatReserved, HolderID: &holder}}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	events.On("AdjustAvailableSeatsTx", mock.Anything, mock.Anything, int64(1), 1).Return(49, nil)

	cancelled, err := svc.CancelBatch(context.Background(), []int64{1, 2, 3}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)
}

func TestExpireBatch_ReturnsLapsedHolds(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	locker := &fakeLocker{}
	svc := newTestReservationService(events, seats, reservations, locker)

	userA, userB := "user-a", "user-b"
	past := time.Now().UTC().Add(-time.Minute)
	candidates := []*domain.Reservation{
		{ID: 1, EventID: 1, SeatID: 10, UserID: userA, Status: domain.ReservationActive, ExpiresAt: past},
		{ID: 2, EventID: 1, SeatID: 11, UserID: userB, Status: domain.ReservationActive, ExpiresAt: past},
	}

	reservations.On("ListExpired", mock.Anything, mock.Anything, 100).Return(candidates, nil)
	reservations.On("GetForUpdateTx", mock.Anything, mock.Anything, int64(1)).Return(candidates[0], nil)
	reservations.On("GetForUpdateTx", mock.Anything, mock.Anything, int64(2)).Return(candidates[1], nil)
	reservations.On("UpdateStatusTx", mock.Anything, mock.Anything, mock.Anything,
		domain.ReservationActive, domain.ReservationExpired).Return(nil).Twice()
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{10}).Return(
		[]*domain.Seat{{ID: 10, EventID: 1, Status: domain.SeatReserved, HolderID: &userA, HoldExpiresAt: &past}}, nil)
	seats.On("GetForUpdateTx", mock.Anything, mock.Anything, []int64{11}).Return(
		[]*domain.Seat{{ID: 11, EventID: 1, Status: domain.SeatReserved, HolderID: &userB, HoldExpiresAt: &past}}, nil)
	seats.On("UpdateStateTx", mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()
	events.On("AdjustAvailableSeatsTx", mock.Anything, mock.Anything, int64(1), 1).Return(5, nil).Twice()

	expired, err := svc.ExpireBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 2, expired)

	// Each reservation resolves under its own seat's lock
	assert.Equal(t, []string{lock.SeatKey(10), lock.SeatKey(11)}, locker.acquired)
	reservations.AssertExpectations(t)
}

func TestExpireBatch_SkipsRenewedHold(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations, &fakeLocker{})

	// Lapsed at scan time, extended before the sweep took the seat's lock
	stale := &domain.Reservation{
		ID: 1, EventID: 1, SeatID: 10, UserID: "user-a",
		Status: domain.ReservationActive, ExpiresAt: time.Now().UTC().Add(-time.Second),
	}
	renewed := &domain.Reservation{
		ID: 1, EventID: 1, SeatID: 10, UserID: "user-a",
		Status: domain.ReservationActive, ExpiresAt: time.Now().UTC().Add(10 * time.Minute),
	}

	reservations.On("ListExpired", mock.Anything, mock.Anything, 100).Return(
		[]*domain.Reservation{stale}, nil)
	reservations.On("GetForUpdateTx", mock.Anything, mock.Anything, int64(1)).Return(renewed, nil)

	expired, err := svc.ExpireBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	// The renewed hold keeps its seat
	reservations.AssertNotCalled(t, "UpdateStatusTx",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	seats.AssertNotCalled(t, "UpdateStateTx", mock.Anything, mock.Anything, mock.Anything)
	events.AssertNotCalled(t, "AdjustAvailableSeatsTx", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestExpireBatch_ContendedSeatLeftForNextSweep(t *testing.T) {
	events := &mockEventRepo{}
	seats := &mockSeatRepo{}
	reservations := &mockReservationRepo{}
	svc := newTestReservationService(events, seats, reservations,
		&fakeLocker{acquireErr: lock.ErrAcquireTimeout})

	past := time.Now().UTC().Add(-time.Minute)
	reservations.On("ListExpired", mock.Anything, mock.Anything, 100).Return(
		[]*domain.Reservation{
			{ID: 1, EventID: 1, SeatID: 10, UserID: "user-a", Status: domain.ReservationActive, ExpiresAt: past},
		}, nil)

	expired, err := svc.ExpireBatch(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)
	reservations.AssertNotCalled(t, "GetForUpdateTx", mock.Anything, mock.Anything, mock.Anything)
}
