package queue

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	redispkg "github.com/YeonwooSung/ticketing-system/pkg/redis"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

//go:embed scripts/mark_processing.lua
var markProcessingScript string

//go:embed scripts/cancel_pending.lua
var cancelPendingScript string

//go:embed scripts/finish.lua
var finishScript string

// Script names for caching
const (
	scriptMarkProcessing = "status_mark_processing"
	scriptCancelPending  = "status_cancel_pending"
	scriptFinish         = "status_finish"
)

// StatusKey returns the status store key for a request
func StatusKey(requestID string) string {
	return "req:" + requestID
}

// StatusStore is the interface consumed by services and workers
type StatusStore interface {
	Init(ctx context.Context, req *domain.QueuedRequest) error
	Get(ctx context.Context, requestID string) (*domain.QueuedRequest, error)
	MarkProcessing(ctx context.Context, requestID string) (domain.RequestState, error)
	CancelPending(ctx context.Context, requestID string) (domain.RequestState, error)
	Finish(ctx context.Context, req *domain.QueuedRequest) (bool, error)
}

// RedisStatusStore keeps each request's snapshot whole in a single key so
// transitions can be compare-and-set server side.
type RedisStatusStore struct {
	client *redispkg.Client
	ttl    time.Duration
}

// NewRedisStatusStore creates a status store with the given record TTL
func NewRedisStatusStore(client *redispkg.Client, ttl time.Duration) *RedisStatusStore {
	return &RedisStatusStore{client: client, ttl: ttl}
}

// LoadScripts preloads the status transition scripts into Redis
func (s *RedisStatusStore) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptMarkProcessing: markProcessingScript,
		scriptCancelPending:  cancelPendingScript,
		scriptFinish:         finishScript,
	}
	for name, script := range scripts {
		if _, err := s.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load status script %s: %w", name, err)
		}
	}
	return nil
}

// Init writes the initial pending snapshot with the store TTL
func (s *RedisStatusStore) Init(ctx context.Context, req *domain.QueuedRequest) error {
	ctx, span := telemetry.StartSpan(ctx, "queue.status.init")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", req.RequestID))

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request status: %w", err)
	}

	if err := s.client.Set(ctx, StatusKey(req.RequestID), data, s.ttl).Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to write request status: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Get loads a request snapshot
func (s *RedisStatusStore) Get(ctx context.Context, requestID string) (*domain.QueuedRequest, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.status.get")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	raw, err := s.client.Get(ctx, StatusKey(requestID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			span.SetStatus(codes.Error, "not found")
			return nil, domain.ErrRequestNotFound
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read request status: %w", err)
	}

	req := &domain.QueuedRequest{}
	if err := json.Unmarshal(raw, req); err != nil {
		return nil, fmt.Errorf("failed to decode request status: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return req, nil
}

// MarkProcessing transitions pending -> processing and returns the state the
// record was in before. Workers proceed only on domain.RequestPending.
func (s *RedisStatusStore) MarkProcessing(ctx context.Context, requestID string) (domain.RequestState, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.status.mark_processing")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	prev, err := s.client.EvalWithFallback(ctx, scriptMarkProcessing, markProcessingScript,
		[]string{StatusKey(requestID)},
		time.Now().UTC().Format(time.RFC3339Nano),
		int(s.ttl.Seconds()),
	).Text()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to mark request processing: %w", err)
	}
	if prev == "" {
		span.SetStatus(codes.Error, "not found")
		return "", domain.ErrRequestNotFound
	}

	span.SetAttributes(attribute.String("previous_state", prev))
	span.SetStatus(codes.Ok, "")
	return domain.RequestState(prev), nil
}

// CancelPending transitions pending -> cancelled and returns the prior state.
// Any state other than pending means the cancel lost the race.
func (s *RedisStatusStore) CancelPending(ctx context.Context, requestID string) (domain.RequestState, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.status.cancel_pending")
	defer span.End()

	span.SetAttributes(attribute.String("request_id", requestID))

	prev, err := s.client.EvalWithFallback(ctx, scriptCancelPending, cancelPendingScript,
		[]string{StatusKey(requestID)},
		time.Now().UTC().Format(time.RFC3339Nano),
		int(s.ttl.Seconds()),
	).Text()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("failed to cancel request: %w", err)
	}
	if prev == "" {
		span.SetStatus(codes.Error, "not found")
		return "", domain.ErrRequestNotFound
	}

	span.SetAttributes(attribute.String("previous_state", prev))
	span.SetStatus(codes.Ok, "")
	return domain.RequestState(prev), nil
}

// Finish writes a terminal snapshot. Returns false when a terminal state was
// already present, in which case the existing record stands.
func (s *RedisStatusStore) Finish(ctx context.Context, req *domain.QueuedRequest) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.status.finish")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.String("state", string(req.State)),
	)

	if !req.State.Terminal() {
		return false, fmt.Errorf("finish called with non-terminal state %s", req.State)
	}

	req.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(req)
	if err != nil {
		return false, fmt.Errorf("failed to encode request status: %w", err)
	}

	n, err := s.client.EvalWithFallback(ctx, scriptFinish, finishScript,
		[]string{StatusKey(req.RequestID)},
		data,
		int(s.ttl.Seconds()),
	).Int64()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("failed to finish request: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return n == 1, nil
}
