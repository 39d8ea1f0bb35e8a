package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/service"
)

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

type mockEngine struct{ mock.Mock }

func (m *mockEngine) Reserve(ctx context.Context, userID string, eventID int64, seatIDs []int64) (*service.ReserveResult, error) {
	args := m.Called(ctx, userID, eventID, seatIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReserveResult), args.Error(1)
}

func (m *mockEngine) Get(ctx context.Context, reservationID int64) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockEngine) ListByUser(ctx context.Context, userID string, limit, offset int) ([]*domain.Reservation, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Reservation), args.Error(1)
}

func (m *mockEngine) Extend(ctx context.Context, reservationID int64, userID string) (*domain.Reservation, error) {
	args := m.Called(ctx, reservationID, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockEngine) Cancel(ctx context.Context, reservationID int64, userID string) error {
	return m.Called(ctx, reservationID, userID).Error(0)
}

func (m *mockEngine) CancelBatch(ctx context.Context, reservationIDs []int64, userID string) (int, error) {
	args := m.Called(ctx, reservationIDs, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockEngine) ExpireBatch(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

func queuedMessage(requestID string) *queue.Message {
	return &queue.Message{
		StreamID: "1700000000000-0",
		Priority: domain.PriorityNormal,
		Request: &domain.QueuedRequest{
			RequestID:  requestID,
			EventID:    1,
			UserID:     "user-1",
			SeatIDs:    []int64{10},
			Priority:   domain.PriorityNormal,
			State:      domain.RequestPending,
			EnqueuedAt: time.Now().Add(-time.Second),
		},
	}
}

func newTestWorker(q *mockQueue, store *mockStatusStore, notifier *mockNotifier, engine *mockEngine) *QueueWorker {
	return NewQueueWorker(q, store, notifier, engine, DefaultQueueWorkerConfig())
}

func TestErrorKind(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"lock timeout stays transient", domain.ErrLockTimeout, ""},
		{"version conflict stays transient", domain.ErrOptimisticConflict, ""},
		{"seat taken", &domain.SeatUnavailableError{SeatID: 10}, "seat_unavailable"},
		{"event not on sale", domain.ErrEventNotOnSale, "seat_unavailable"},
		{"validation", domain.ErrTooManySeats, "validation"},
		{"not found", domain.ErrSeatNotFound, "not_found"},
		{"state conflict", domain.ErrReservationNotActive, "conflict"},
		{"unknown error is transient", errors.New("connection reset"), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, errorKind(tc.err))
		})
	}
}

func TestProcess_CompletesRequest(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	notifier := &mockNotifier{}
	engine := &mockEngine{}
	w := newTestWorker(q, store, notifier, engine)

	msg := queuedMessage("req-1")
	store.On("MarkProcessing", mock.Anything, "req-1").Return(domain.RequestPending, nil)
	engine.On("Reserve", mock.Anything, "user-1", int64(1), []int64{10}).Return(&service.ReserveResult{
		Reservations: []*domain.Reservation{{ID: 42, SeatID: 10}},
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}, nil)
	store.On("Finish", mock.Anything, mock.MatchedBy(func(r *domain.QueuedRequest) bool {
		return r.State == domain.RequestCompleted &&
			r.Result != nil && len(r.Result.ReservationIDs) == 1 && r.Result.ReservationIDs[0] == 42
	})).Return(true, nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	q.On("Ack", mock.Anything, int64(1), msg).Return(nil)

	done := w.process(context.Background(), 1, msg)
	assert.True(t, done)
	assert.Equal(t, int64(1), w.GetStats().TotalProcessed)
	store.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestProcess_PermanentFailure(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	notifier := &mockNotifier{}
	engine := &mockEngine{}
	w := newTestWorker(q, store, notifier, engine)

	msg := queuedMessage("req-1")
	store.On("MarkProcessing", mock.Anything, "req-1").Return(domain.RequestPending, nil)
	engine.On("Reserve", mock.Anything, "user-1", int64(1), []int64{10}).Return(
		nil, &domain.SeatUnavailableError{SeatID: 10})
	store.On("Finish", mock.Anything, mock.MatchedBy(func(r *domain.QueuedRequest) bool {
		return r.State == domain.RequestFailed && r.ErrorKind == "seat_unavailable"
	})).Return(true, nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	q.On("Ack", mock.Anything, int64(1), msg).Return(nil)

	done := w.process(context.Background(), 1, msg)
	assert.True(t, done)
	assert.Equal(t, int64(1), w.GetStats().TotalFailed)
}

func TestProcess_TransientFailureLeavesMessagePending(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	notifier := &mockNotifier{}
	engine := &mockEngine{}
	w := newTestWorker(q, store, notifier, engine)

	msg := queuedMessage("req-1")
	store.On("MarkProcessing", mock.Anything, "req-1").Return(domain.RequestPending, nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	engine.On("Reserve", mock.Anything, "user-1", int64(1), []int64{10}).Return(nil, domain.ErrLockTimeout)

	done := w.process(context.Background(), 1, msg)
	assert.False(t, done)

	// No ack and no terminal status; reclaim will redeliver
	q.AssertNotCalled(t, "Ack", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "Finish", mock.Anything, mock.Anything)
}

func TestProcess_RedeliveredAfterTransientFailureRetries(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	notifier := &mockNotifier{}
	engine := &mockEngine{}
	w := newTestWorker(q, store, notifier, engine)

	// The first delivery hit a transient error, so the record is already
	// Processing when the reclaimer hands the message back
	msg := queuedMessage("req-1")
	msg.Deliveries = 2
	store.On("MarkProcessing", mock.Anything, "req-1").Return(domain.RequestProcessing, nil)
	engine.On("Reserve", mock.Anything, "user-1", int64(1), []int64{10}).Return(&service.ReserveResult{
		Reservations: []*domain.Reservation{{ID: 42, SeatID: 10}},
		ExpiresAt:    time.Now().Add(10 * time.Minute),
	}, nil)
	store.On("Finish", mock.Anything, mock.MatchedBy(func(r *domain.QueuedRequest) bool {
		return r.State == domain.RequestCompleted
	})).Return(true, nil)
	notifier.On("Notify", mock.Anything, mock.Anything).Return(nil)
	q.On("Ack", mock.Anything, int64(1), msg).Return(nil)

	done := w.process(context.Background(), 1, msg)
	assert.True(t, done)
	assert.Equal(t, int64(1), w.GetStats().TotalProcessed)
	engine.AssertExpectations(t)
	q.AssertExpectations(t)
}

func TestProcess_CancelledWhileQueued(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	notifier := &mockNotifier{}
	engine := &mockEngine{}
	w := newTestWorker(q, store, notifier, engine)

	msg := queuedMessage("req-1")
	store.On("MarkProcessing", mock.Anything, "req-1").Return(domain.RequestCancelled, nil)
	q.On("Ack", mock.Anything, int64(1), msg).Return(nil)

	done := w.process(context.Background(), 1, msg)
	assert.True(t, done)
	engine.AssertNotCalled(t, "Reserve", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_MissingStatusRecordDropsMessage(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	w := newTestWorker(q, store, &mockNotifier{}, &mockEngine{})

	msg := queuedMessage("req-1")
	store.On("MarkProcessing", mock.Anything, "req-1").Return(domain.RequestState(""), domain.ErrRequestNotFound)
	q.On("Ack", mock.Anything, int64(1), msg).Return(nil)

	done := w.process(context.Background(), 1, msg)
	assert.True(t, done)
	q.AssertExpectations(t)
}

func TestDeadLetter_WritesTerminalStatus(t *testing.T) {
	q := &mockQueue{}
	store := &mockStatusStore{}
	notifier := &mockNotifier{}
	w := newTestWorker(q, store, notifier, &mockEngine{})

	msg := queuedMessage("req-1")
	msg.Deliveries = 3

	q.On("DeadLetter", mock.Anything, int64(1), msg, "exceeded_retries").Return(nil)
	store.On("Finish", mock.Anything, mock.MatchedBy(func(r *domain.QueuedRequest) bool {
		return r.State == domain.RequestFailed && r.ErrorKind == "exceeded_retries"
	})).Return(true, nil)
	notifier.On("Notify", mock.Anything, mock.MatchedBy(func(n *notify.Notification) bool {
		return n.Type == notify.TypeReservationFailed
	})).Return(nil)

	w.deadLetter(context.Background(), 1, msg)
	assert.Equal(t, int64(1), w.GetStats().TotalDeadLettered)
	q.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestQueueWorker_StartTwice(t *testing.T) {
	q := &mockQueue{}
	q.On("RegisteredEvents", mock.Anything).Return([]int64{}, nil)
	w := newTestWorker(q, &mockStatusStore{}, &mockNotifier{}, &mockEngine{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, w.Start(ctx))
	assert.Error(t, w.Start(ctx))
	w.Stop()
}
