package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/internal/metrics"
	"github.com/YeonwooSung/ticketing-system/internal/notify"
	"github.com/YeonwooSung/ticketing-system/internal/queue"
	"github.com/YeonwooSung/ticketing-system/internal/service"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
)

// QueueWorkerConfig contains configuration for the queue worker
type QueueWorkerConfig struct {
	// ConsumerName identifies this worker in the consumer group
	ConsumerName string
	// ReadBlock is how long an idle read waits before re-checking for new events
	ReadBlock time.Duration
	// ReclaimInterval is how often the worker scans for abandoned messages
	ReclaimInterval time.Duration
	// ReclaimIdle is the pending idle time before a message is taken over
	ReclaimIdle time.Duration
	// MaxDeliveries dead-letters a message after this many delivery attempts
	MaxDeliveries int64
	// EventRefreshInterval is how often the worker discovers new event streams
	EventRefreshInterval time.Duration
}

// DefaultQueueWorkerConfig returns default configuration
func DefaultQueueWorkerConfig() *QueueWorkerConfig {
	return &QueueWorkerConfig{
		ConsumerName:         "worker-1",
		ReadBlock:            5 * time.Second,
		ReclaimInterval:      30 * time.Second,
		ReclaimIdle:          60 * time.Second,
		MaxDeliveries:        3,
		EventRefreshInterval: 10 * time.Second,
	}
}

// throughputAlpha is the EWMA smoothing factor for published rates
const throughputAlpha = 0.2

// QueueWorker drains the per-event priority streams and resolves each request
// through the reservation engine. One worker process consumes every
// registered event; horizontal scale comes from running more processes with
// distinct consumer names in the shared group.
type QueueWorker struct {
	queue    queue.Queue
	store    queue.StatusStore
	notifier notify.Notifier
	engine   service.ReservationService
	config   *QueueWorkerConfig
	log      *logger.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
	loops   map[int64]struct{}

	// Stats
	totalProcessed    int64
	totalFailed       int64
	totalDeadLettered int64
}

// NewQueueWorker creates a queue worker
func NewQueueWorker(
	q queue.Queue,
	store queue.StatusStore,
	notifier notify.Notifier,
	engine service.ReservationService,
	config *QueueWorkerConfig,
) *QueueWorker {
	if config == nil {
		config = DefaultQueueWorkerConfig()
	}
	return &QueueWorker{
		queue:    q,
		store:    store,
		notifier: notifier,
		engine:   engine,
		config:   config,
		log:      logger.Get(),
		stopCh:   make(chan struct{}),
		loops:    make(map[int64]struct{}),
	}
}

// Start begins event discovery and consumption
func (w *QueueWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("queue worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting queue worker",
		zap.String("consumer", w.config.ConsumerName),
		zap.Int64("max_deliveries", w.config.MaxDeliveries),
	)

	w.wg.Add(1)
	go w.discoverEvents(ctx)

	return nil
}

// Stop stops the worker and waits for in-flight requests to finish
func (w *QueueWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping queue worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Queue worker stopped")
}

// discoverEvents starts a consume loop for every registered event stream
func (w *QueueWorker) discoverEvents(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.EventRefreshInterval)
	defer ticker.Stop()

	w.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.refresh(ctx)
		}
	}
}

func (w *QueueWorker) refresh(ctx context.Context) {
	eventIDs, err := w.queue.RegisteredEvents(ctx)
	if err != nil {
		w.log.Error("Failed to discover event streams", zap.Error(err))
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, eventID := range eventIDs {
		if _, ok := w.loops[eventID]; ok {
			continue
		}
		w.loops[eventID] = struct{}{}
		w.log.Info("Consuming event queue", zap.Int64("event_id", eventID))

		w.wg.Add(2)
		go w.consume(ctx, eventID)
		go w.reclaim(ctx, eventID)
	}
}

// consume drains one event's streams until shutdown
func (w *QueueWorker) consume(ctx context.Context, eventID int64) {
	defer w.wg.Done()

	// Smoothed throughput for the wait-time estimate
	ewma := 0.0
	windowStart := time.Now()
	windowCount := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		msgs, err := w.queue.ReadBatch(ctx, eventID, w.config.ConsumerName, w.config.ReadBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("Failed to read queue",
				zap.Int64("event_id", eventID),
				zap.Error(err),
			)
			time.Sleep(time.Second)
			continue
		}

		for i := range msgs {
			if w.process(ctx, eventID, &msgs[i]) {
				windowCount++
			}
		}

		if elapsed := time.Since(windowStart); elapsed >= 5*time.Second {
			instant := float64(windowCount) / elapsed.Seconds()
			ewma = throughputAlpha*instant + (1-throughputAlpha)*ewma
			if err := w.queue.PublishRate(ctx, eventID, ewma); err != nil {
				w.log.Warn("Failed to publish throughput", zap.Error(err))
			}
			windowStart = time.Now()
			windowCount = 0
		}
	}
}

// process resolves one message. Returns true when the message reached a
// terminal status and was acknowledged; false leaves it pending for reclaim.
func (w *QueueWorker) process(ctx context.Context, eventID int64, msg *queue.Message) bool {
	req := msg.Request

	prev, err := w.store.MarkProcessing(ctx, req.RequestID)
	if err != nil {
		if errors.Is(err, domain.ErrRequestNotFound) {
			// Status record aged out; nothing left to resolve
			w.ack(ctx, eventID, msg)
			return true
		}
		w.log.Error("Failed to mark request processing",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
		return false
	}
	switch prev {
	case domain.RequestPending:
	case domain.RequestProcessing:
		// Redelivered after a transient failure or a worker crash; the
		// engine run below settles it either way
	default:
		// Cancelled while queued, or a duplicate delivery of a resolved
		// request. The terminal record stands; drop the message.
		w.ack(ctx, eventID, msg)
		return true
	}

	req.State = domain.RequestProcessing
	w.notify(ctx, req)

	result, err := w.engine.Reserve(ctx, req.UserID, req.EventID, req.SeatIDs)
	if err != nil {
		kind := errorKind(err)
		if kind == "" {
			// Transient failure: leave the message pending so reclaim
			// redelivers it
			w.log.Warn("Transient failure processing request",
				zap.String("request_id", req.RequestID),
				zap.Error(err),
			)
			return false
		}
		w.finish(ctx, eventID, msg, domain.RequestFailed, nil, kind, err.Error())
		w.mu.Lock()
		w.totalFailed++
		w.mu.Unlock()
		return true
	}

	ids := make([]int64, len(result.Reservations))
	for i, res := range result.Reservations {
		ids[i] = res.ID
	}
	w.finish(ctx, eventID, msg, domain.RequestCompleted, &domain.RequestResult{
		ReservationIDs: ids,
		ExpiresAt:      result.ExpiresAt,
	}, "", "")
	w.mu.Lock()
	w.totalProcessed++
	w.mu.Unlock()
	return true
}

// finish writes the terminal status, notifies listeners, and acks the message
func (w *QueueWorker) finish(ctx context.Context, eventID int64, msg *queue.Message, state domain.RequestState, result *domain.RequestResult, errorKind, errorMsg string) {
	req := msg.Request
	req.State = state
	req.Result = result
	req.ErrorKind = errorKind
	req.ErrorMsg = errorMsg

	wrote, err := w.store.Finish(ctx, req)
	if err != nil {
		w.log.Error("Failed to write terminal status",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
	if wrote {
		w.notify(ctx, req)
	}

	if !req.EnqueuedAt.IsZero() {
		outcome := string(state)
		metrics.RecordProcessing(ctx, eventID, time.Since(req.EnqueuedAt).Seconds(), outcome)
	}

	w.ack(ctx, eventID, msg)
}

func (w *QueueWorker) ack(ctx context.Context, eventID int64, msg *queue.Message) {
	if err := w.queue.Ack(ctx, eventID, msg); err != nil {
		w.log.Error("Failed to ack message",
			zap.String("stream_id", msg.StreamID),
			zap.Error(err),
		)
	}
}

func (w *QueueWorker) notify(ctx context.Context, req *domain.QueuedRequest) {
	if err := w.notifier.Notify(ctx, notify.ForState(req)); err != nil {
		w.log.Warn("Failed to publish notification",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
}

// reclaim periodically takes over messages left pending by crashed consumers.
// Messages past the delivery budget go to the dead-letter stream.
func (w *QueueWorker) reclaim(ctx context.Context, eventID int64) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ReclaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
		}

		msgs, err := w.queue.Reclaim(ctx, eventID, w.config.ConsumerName, w.config.ReclaimIdle, 100)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error("Failed to reclaim pending messages",
				zap.Int64("event_id", eventID),
				zap.Error(err),
			)
			continue
		}

		for i := range msgs {
			msg := &msgs[i]
			if msg.Deliveries >= w.config.MaxDeliveries {
				w.deadLetter(ctx, eventID, msg)
				continue
			}
			w.process(ctx, eventID, msg)
		}
	}
}

func (w *QueueWorker) deadLetter(ctx context.Context, eventID int64, msg *queue.Message) {
	req := msg.Request
	w.log.Warn("Dead-lettering poison message",
		zap.String("request_id", req.RequestID),
		zap.Int64("deliveries", msg.Deliveries),
	)

	if err := w.queue.DeadLetter(ctx, eventID, msg, "exceeded_retries"); err != nil {
		w.log.Error("Failed to dead-letter message",
			zap.String("stream_id", msg.StreamID),
			zap.Error(err),
		)
		return
	}

	metrics.RecordDeadLetter(ctx, eventID)

	req.State = domain.RequestFailed
	req.ErrorKind = "exceeded_retries"
	req.ErrorMsg = "request could not be processed after repeated attempts"
	wrote, err := w.store.Finish(ctx, req)
	if err != nil && !errors.Is(err, domain.ErrRequestNotFound) {
		w.log.Error("Failed to record dead-letter status",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}
	if wrote {
		w.notify(ctx, req)
	}

	w.mu.Lock()
	w.totalDeadLettered++
	w.mu.Unlock()
}

// errorKind classifies a reservation failure for the status record. Empty
// means transient: the request should be retried, not failed. Lock timeouts
// and version conflicts are contention, not a definitive answer, so they
// stay transient.
func errorKind(err error) string {
	switch {
	case errors.Is(err, domain.ErrLockTimeout), errors.Is(err, domain.ErrOptimisticConflict):
		return ""
	case domain.IsUnavailableError(err):
		return "seat_unavailable"
	case domain.IsValidationError(err):
		return "validation"
	case domain.IsNotFoundError(err):
		return "not_found"
	case domain.IsConflictError(err):
		return "conflict"
	default:
		return ""
	}
}

// GetStats returns worker statistics
func (w *QueueWorker) GetStats() *QueueWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &QueueWorkerStats{
		IsRunning:         w.running,
		TotalProcessed:    w.totalProcessed,
		TotalFailed:       w.totalFailed,
		TotalDeadLettered: w.totalDeadLettered,
	}
}

// QueueWorkerStats contains worker statistics
type QueueWorkerStats struct {
	IsRunning         bool  `json:"is_running"`
	TotalProcessed    int64 `json:"total_processed"`
	TotalFailed       int64 `json:"total_failed"`
	TotalDeadLettered int64 `json:"total_dead_lettered"`
}
