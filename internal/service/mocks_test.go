package service

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/mock"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/pkg/lock"
)

// fakeTxRunner runs the callback directly; repository mocks ignore the tx
type fakeTxRunner struct{}

func (f *fakeTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	return fn(ctx, nil)
}

// fakeLocker hands out leases without touching Redis
type fakeLocker struct {
	acquireErr error
	acquired   []string
	released   []string
}

func (f *fakeLocker) Acquire(ctx context.Context, key string) (*lock.Lease, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	f.acquired = append(f.acquired, key)
	return &lock.Lease{Key: key, Token: "test"}, nil
}

func (f *fakeLocker) Release(ctx context.Context, lease *lock.Lease) error {
	f.released = append(f.released, lease.Key)
	return nil
}

func (f *fakeLocker) Extend(ctx context.Context, lease *lock.Lease, ttl time.Duration) error {
	return nil
}

func (f *fakeLocker) AcquireMulti(ctx context.Context, keys []string) (*lock.MultiLease, error) {
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	multi := &lock.MultiLease{}
	for _, key := range keys {
		lease, _ := f.Acquire(ctx, key)
		multi.Leases = append(multi.Leases, lease)
	}
	return multi, nil
}

func (f *fakeLocker) ReleaseMulti(ctx context.Context, multi *lock.MultiLease) error {
	for i := len(multi.Leases) - 1; i >= 0; i-- {
		_ = f.Release(ctx, multi.Leases[i])
	}
	return nil
}

type mockEventRepo struct{ mock.Mock }

func (m *mockEventRepo) Create(ctx context.Context, event *domain.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEventRepo) GetByID(ctx context.Context, id int64) (*domain.Event, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func (m *mockEventRepo) List(ctx context.Context, status domain.EventStatus, limit, offset int) ([]*domain.Event, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Event), args.Error(1)
}

func (m *mockEventRepo) Update(ctx context.Context, event *domain.Event) error {
	return m.Called(ctx, event).Error(0)
}

func (m *mockEventRepo) UpdateStatus(ctx context.Context, id int64, status domain.EventStatus) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *mockEventRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Event, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Event), args.Error(1)
}

func (m *mockEventRepo) AdjustAvailableSeatsTx(ctx context.Context, tx pgx.Tx, id int64, delta int) (int, error) {
	args := m.Called(ctx, tx, id, delta)
	return args.Int(0), args.Error(1)
}

func (m *mockEventRepo) AddSeatsTx(ctx context.Context, tx pgx.Tx, id int64, count int) error {
	return m.Called(ctx, tx, id, count).Error(0)
}

func (m *mockEventRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.EventStatus) error {
	return m.Called(ctx, tx, id, status).Error(0)
}

type mockSeatRepo struct{ mock.Mock }

func (m *mockSeatRepo) CreateBatch(ctx context.Context, seats []*domain.Seat) error {
	return m.Called(ctx, seats).Error(0)
}

func (m *mockSeatRepo) GetByID(ctx context.Context, id int64) (*domain.Seat, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Seat), args.Error(1)
}

func (m *mockSeatRepo) ListByEvent(ctx context.Context, eventID int64, status domain.SeatStatus, limit, offset int) ([]*domain.Seat, error) {
	args := m.Called(ctx, eventID, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Seat), args.Error(1)
}

func (m *mockSeatRepo) CountByStatus(ctx context.Context, eventID int64, status domain.SeatStatus) (int, error) {
	args := m.Called(ctx, eventID, status)
	return args.Int(0), args.Error(1)
}

func (m *mockSeatRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, seatIDs []int64) ([]*domain.Seat, error) {
	args := m.Called(ctx, tx, seatIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Seat), args.Error(1)
}

func (m *mockSeatRepo) UpdateStateTx(ctx context.Context, tx pgx.Tx, update *repository.SeatStateUpdate) error {
	return m.Called(ctx, tx, update).Error(0)
}

type mockReservationRepo struct{ mock.Mock }

func (m *mockReservationRepo) GetByID(ctx context.Context, id int64) (*domain.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reservation), args.Error(1)
}

func (m *mockReservationRepo) CreateTx(ctx context.Context, tx pgx.Tx, reservation *domain.Reservation) error {
	args := m.Called(ctx, tx, reservation)
	if args.Error(0) == nil {
		reservation.ID = int64(len(m.Calls)) // distinct ids per insert
	}
	return args.Error(0)
}

func (m *mockReservationRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Reservation, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, from, to domain.ReservationStatus) error {
	return m.Called(ctx, tx, id, from, to).Error(0)
}

func (m *mockReservationRepo) ExtendTx(ctx context.Context, tx pgx.Tx, id int64, expiresAt time.Time) error {
	return m.Called(ctx, tx, id, expiresAt).Error(0)
}

func (m *mockReservationRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reservation), args.Error(1)
}

type mockBookingRepo struct{ mock.Mock }

func (m *mockBookingRepo) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *mockBookingRepo) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	args := m.Called(ctx, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *mockBookingRepo) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Booking, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Booking), args.Error(1)
}

func (m *mockBookingRepo) CreateTx(ctx context.Context, tx pgx.Tx, booking *domain.Booking) error {
	args := m.Called(ctx, tx, booking)
	if args.Error(0) == nil {
		booking.ID = 1
	}
	return args.Error(0)
}

func (m *mockBookingRepo) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id int64) (*domain.Booking, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Booking), args.Error(1)
}

func (m *mockBookingRepo) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id int64, status domain.BookingStatus, paymentStatus domain.PaymentStatus, paymentID *string) error {
	return m.Called(ctx, tx, id, status, paymentStatus, paymentID).Error(0)
}

type mockQueue struct{ mock.Mock }

func (m *mockQueue) Enqueue(ctx context.Context, req *domain.QueuedRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockQueue) ReadBatch(ctx context.Context, eventID int64, consumer string, block time.Duration) ([]queue.Message, error) {
	args := m.Called(ctx, eventID, consumer, block)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Message), args.Error(1)
}

func (m *mockQueue) Ack(ctx context.Context, eventID int64, msg *queue.Message) error {
	return m.Called(ctx, eventID, msg).Error(0)
}

func (m *mockQueue) DeadLetter(ctx context.Context, eventID int64, msg *queue.Message, reason string) error {
	return m.Called(ctx, eventID, msg, reason).Error(0)
}

func (m *mockQueue) Reclaim(ctx context.Context, eventID int64, consumer string, minIdle time.Duration, count int64) ([]queue.Message, error) {
	args := m.Called(ctx, eventID, consumer, minIdle, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]queue.Message), args.Error(1)
}

func (m *mockQueue) Stats(ctx context.Context, eventID int64) (*queue.Stats, error) {
	args := m.Called(ctx, eventID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Stats), args.Error(1)
}

func (m *mockQueue) RegisteredEvents(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *mockQueue) PublishRate(ctx context.Context, eventID int64, perSec float64) error {
	return m.Called(ctx, eventID, perSec).Error(0)
}

type mockStatusStore struct{ mock.Mock }

func (m *mockStatusStore) Init(ctx context.Context, req *domain.QueuedRequest) error {
	return m.Called(ctx, req).Error(0)
}

func (m *mockStatusStore) Get(ctx context.Context, requestID string) (*domain.QueuedRequest, error) {
	args := m.Called(ctx, requestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueuedRequest), args.Error(1)
}

func (m *mockStatusStore) MarkProcessing(ctx context.Context, requestID string) (domain.RequestState, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).(domain.RequestState), args.Error(1)
}

func (m *mockStatusStore) CancelPending(ctx context.Context, requestID string) (domain.RequestState, error) {
	args := m.Called(ctx, requestID)
	return args.Get(0).(domain.RequestState), args.Error(1)
}

func (m *mockStatusStore) Finish(ctx context.Context, req *domain.QueuedRequest) (bool, error) {
	args := m.Called(ctx, req)
	return args.Bool(0), args.Error(1)
}

type mockNotifier struct{ mock.Mock }

func (m *mockNotifier) Notify(ctx context.Context, n *notify.Notification) error {
	return m.Called(ctx, n).Error(0)
}
