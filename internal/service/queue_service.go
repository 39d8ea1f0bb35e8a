package service

import (
	"context"
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/repository"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// QueueService is the asynchronous reservation path: requests are accepted
// immediately, queued per event and priority, and resolved by workers.
type QueueService interface {
	Submit(ctx context.Context, userID string, eventID int64, seatIDs []int64, priority domain.Priority) (*domain.QueuedRequest, error)
	Status(ctx context.Context, requestID string) (*domain.QueuedRequest, error)
	Cancel(ctx context.Context, requestID, userID string) (*domain.QueuedRequest, error)
	Stats(ctx context.Context, eventID int64) (*queue.Stats, error)
}

// QueueServiceConfig contains configuration for the async path
type QueueServiceConfig struct {
	// MaxSeatsPerBooking bounds one request's seat count
	MaxSeatsPerBooking int
}

type queueService struct {
	events   repository.EventRepository
	queue    queue.Queue
	store    queue.StatusStore
	notifier notify.Notifier
	log      *logger.Logger
	maxSeats int
}

// NewQueueService creates a QueueService
func NewQueueService(
	events repository.EventRepository,
	q queue.Queue,
	store queue.StatusStore,
	notifier notify.Notifier,
	log *logger.Logger,
	cfg *QueueServiceConfig,
) QueueService {
	maxSeats := 10
	if cfg != nil && cfg.MaxSeatsPerBooking > 0 {
		maxSeats = cfg.MaxSeatsPerBooking
	}
	return &queueService{
		events:   events,
		queue:    q,
		store:    store,
		notifier: notifier,
		log:      log,
		maxSeats: maxSeats,
	}
}

// newRequestID produces a sortable request identifier
func newRequestID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Submit validates and enqueues a reservation request. The returned snapshot
// is pending; resolution arrives via Status polling or a notification.
func (s *queueService) Submit(ctx context.Context, userID string, eventID int64, seatIDs []int64, priority domain.Priority) (*domain.QueuedRequest, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.submit")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.Int64("event_id", eventID),
		attribute.Int("seat_count", len(seatIDs)),
		attribute.String("priority", string(priority)),
	)

	if userID == "" {
		return nil, domain.ErrInvalidUserID
	}
	if len(seatIDs) == 0 {
		return nil, domain.ErrNoSeatsRequested
	}
	if len(seatIDs) > s.maxSeats {
		return nil, domain.ErrTooManySeats
	}
	seen := make(map[int64]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		if _, dup := seen[id]; dup {
			return nil, domain.ErrDuplicateSeats
		}
		seen[id] = struct{}{}
	}

	event, err := s.events.GetByID(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !event.AcceptsReservations() {
		span.SetStatus(codes.Error, "event not on sale")
		return nil, domain.ErrEventNotOnSale
	}

	now := time.Now().UTC()
	req := &domain.QueuedRequest{
		RequestID:  newRequestID(),
		EventID:    eventID,
		UserID:     userID,
		SeatIDs:    seatIDs,
		Priority:   priority,
		State:      domain.RequestPending,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}

	// Status record first so a Status call right after Submit always resolves
	if err := s.store.Init(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.RecordEnqueue(ctx, eventID, string(priority))

	if err := s.notifier.Notify(ctx, notify.ForState(req)); err != nil {
		s.log.Warn("failed to publish pending notification",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}

	span.SetAttributes(attribute.String("request_id", req.RequestID))
	span.SetStatus(codes.Ok, "")
	return req, nil
}

// Status loads a request's current snapshot
func (s *queueService) Status(ctx context.Context, requestID string) (*domain.QueuedRequest, error) {
	return s.store.Get(ctx, requestID)
}

// Cancel withdraws a queued request. Only a still-pending request can be
// cancelled; once a worker picked it up the race is lost.
func (s *queueService) Cancel(ctx context.Context, requestID, userID string) (*domain.QueuedRequest, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.cancel")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	req, err := s.store.Get(ctx, requestID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if req.UserID != userID {
		return nil, domain.ErrNotOwner
	}

	prev, err := s.store.CancelPending(ctx, requestID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if prev != domain.RequestPending {
		span.SetStatus(codes.Error, "not cancellable")
		return nil, domain.ErrRequestNotCancellable
	}

	req.State = domain.RequestCancelled
	req.UpdatedAt = time.Now().UTC()

	if err := s.notifier.Notify(ctx, notify.ForState(req)); err != nil {
		s.log.Warn("failed to publish cancel notification",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}

	span.SetStatus(codes.Ok, "")
	return req, nil
}

// Stats reports queue depth and estimated wait for one event
func (s *queueService) Stats(ctx context.Context, eventID int64) (*queue.Stats, error) {
	if _, err := s.events.GetByID(ctx, eventID); err != nil {
		return nil, err
	}
	return s.queue.Stats(ctx, eventID)
}
