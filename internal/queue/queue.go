// Package queue implements the Redis Streams priority queue that carries
// asynchronous reservation requests, together with the request-status store
// and per-event throughput stats.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	redispkg "github.com/YeonwooSung/ticketing-system/pkg/redis"
	"github.com/YeonwooSung/ticketing-system/pkg/telemetry"
)

// GroupName is the consumer group shared by all queue workers
const GroupName = "reservation_workers"

// eventsKey registers events with at least one stream so workers can
// discover what to consume
const eventsKey = "queue:events"

// Priorities lists the drain order
var Priorities = []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow}

// ReadBudgets is the per-round read budget per priority. High starves the
// others by design; low only drains when high and normal are empty.
var ReadBudgets = map[domain.Priority]int64{
	domain.PriorityHigh:   10,
	domain.PriorityNormal: 3,
	domain.PriorityLow:    1,
}

// StreamKey returns the stream key for an event and priority
func StreamKey(eventID int64, p domain.Priority) string {
	return fmt.Sprintf("queue:%d:%s", eventID, p)
}

// DeadLetterKey returns the dead-letter stream key for an event
func DeadLetterKey(eventID int64) string {
	return fmt.Sprintf("queue:%d:dead", eventID)
}

// RateKey returns the key carrying the workers' observed throughput
func RateKey(eventID int64) string {
	return fmt.Sprintf("queue:%d:rate", eventID)
}

// Message is one queued request as read from a stream
type Message struct {
	StreamID   string
	Priority   domain.Priority
	Deliveries int64
	Request    *domain.QueuedRequest
}

// PriorityStats describes one priority stream
type PriorityStats struct {
	Length  int64 `json:"length"`
	Pending int64 `json:"pending"`
}

// Stats is a point-in-time view of an event's queue
type Stats struct {
	EventID          int64                             `json:"event_id"`
	Priorities       map[domain.Priority]PriorityStats `json:"priorities"`
	TotalBacklog     int64                             `json:"total_backlog"`
	DeadLettered     int64                             `json:"dead_lettered"`
	ThroughputPerSec float64                           `json:"throughput_per_sec"`
	EstimatedWaitSec float64                           `json:"estimated_wait_sec"`
}

// Queue is the priority queue interface consumed by services and workers
type Queue interface {
	Enqueue(ctx context.Context, req *domain.QueuedRequest) error
	ReadBatch(ctx context.Context, eventID int64, consumer string, block time.Duration) ([]Message, error)
	Ack(ctx context.Context, eventID int64, msg *Message) error
	DeadLetter(ctx context.Context, eventID int64, msg *Message, reason string) error
	Reclaim(ctx context.Context, eventID int64, consumer string, minIdle time.Duration, count int64) ([]Message, error)
	Stats(ctx context.Context, eventID int64) (*Stats, error)
	RegisteredEvents(ctx context.Context) ([]int64, error)
	PublishRate(ctx context.Context, eventID int64, perSec float64) error
}

// RedisQueue implements Queue on Redis Streams with one stream per
// (event, priority) and a shared consumer group.
type RedisQueue struct {
	client *redispkg.Client
}

// NewRedisQueue creates a new RedisQueue
func NewRedisQueue(client *redispkg.Client) *RedisQueue {
	return &RedisQueue{client: client}
}

// Enqueue appends a request to its priority stream, creating the stream and
// consumer group on first use. Non-blocking; does not wait for a worker.
func (q *RedisQueue) Enqueue(ctx context.Context, req *domain.QueuedRequest) error {
	ctx, span := telemetry.StartSpan(ctx, "queue.enqueue")
	defer span.End()

	span.SetAttributes(
		attribute.String("request_id", req.RequestID),
		attribute.Int64("event_id", req.EventID),
		attribute.String("priority", string(req.Priority)),
	)

	stream := StreamKey(req.EventID, req.Priority)
	if err := q.ensureGroup(ctx, stream); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if err := q.client.SAdd(ctx, eventsKey, req.EventID).Err(); err != nil {
		return fmt.Errorf("failed to register event stream: %w", err)
	}

	seatIDs, err := json.Marshal(req.SeatIDs)
	if err != nil {
		return fmt.Errorf("failed to encode seat ids: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"request_id":  req.RequestID,
			"event_id":    req.EventID,
			"user_id":     req.UserID,
			"seat_ids":    string(seatIDs),
			"priority":    string(req.Priority),
			"enqueued_at": req.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to enqueue request: %w", err)
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// ensureGroup creates the consumer group, tolerating concurrent creation
func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	err := q.client.XGroupCreateMkStream(ctx, stream, GroupName, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// EnsureStreams creates all priority streams and groups for an event.
// Workers call this on start so reads never fail on missing groups.
func (q *RedisQueue) EnsureStreams(ctx context.Context, eventID int64) error {
	for _, p := range Priorities {
		if err := q.ensureGroup(ctx, StreamKey(eventID, p)); err != nil {
			return err
		}
	}
	return nil
}

// ReadBatch drains up to the per-priority budgets, high first. When every
// stream is empty it falls back to one blocking read across all three so an
// idle worker wakes on the first arrival regardless of priority.
func (q *RedisQueue) ReadBatch(ctx context.Context, eventID int64, consumer string, block time.Duration) ([]Message, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.read_batch")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("consumer", consumer),
	)

	var out []Message
	for _, p := range Priorities {
		msgs, err := q.readPriority(ctx, eventID, p, consumer, ReadBudgets[p], 0)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		out = append(out, msgs...)
	}
	if len(out) > 0 {
		span.SetAttributes(attribute.Int("count", len(out)))
		span.SetStatus(codes.Ok, "")
		return out, nil
	}

	// Blocking read across all priorities, high listed first
	streams := make([]string, 0, len(Priorities)*2)
	for _, p := range Priorities {
		streams = append(streams, StreamKey(eventID, p))
	}
	for range Priorities {
		streams = append(streams, ">")
	}

	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupName,
		Consumer: consumer,
		Streams:  streams,
		Count:    1,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to read queue: %w", err)
	}

	for _, stream := range res {
		p := priorityFromStream(stream.Stream)
		for _, xmsg := range stream.Messages {
			msg, err := decodeMessage(xmsg, p)
			if err != nil {
				return nil, err
			}
			out = append(out, *msg)
		}
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (q *RedisQueue) readPriority(ctx context.Context, eventID int64, p domain.Priority, consumer string, count int64, block time.Duration) ([]Message, error) {
	res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    GroupName,
		Consumer: consumer,
		Streams:  []string{StreamKey(eventID, p), ">"},
		Count:    count,
		Block:    block,
		NoAck:    false,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		if strings.Contains(err.Error(), "NOGROUP") {
			// Stream not created yet for this priority
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s stream: %w", p, err)
	}

	var out []Message
	for _, stream := range res {
		for _, xmsg := range stream.Messages {
			msg, err := decodeMessage(xmsg, p)
			if err != nil {
				return nil, err
			}
			out = append(out, *msg)
		}
	}
	return out, nil
}

// Ack acknowledges a processed message
func (q *RedisQueue) Ack(ctx context.Context, eventID int64, msg *Message) error {
	err := q.client.XAck(ctx, StreamKey(eventID, msg.Priority), GroupName, msg.StreamID).Err()
	if err != nil {
		return fmt.Errorf("failed to ack message %s: %w", msg.StreamID, err)
	}
	return nil
}

// DeadLetter copies a poison message to the event's dead-letter stream and
// acknowledges the original so it stops being redelivered.
func (q *RedisQueue) DeadLetter(ctx context.Context, eventID int64, msg *Message, reason string) error {
	ctx, span := telemetry.StartSpan(ctx, "queue.dead_letter")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("request_id", msg.Request.RequestID),
		attribute.String("reason", reason),
	)

	seatIDs, err := json.Marshal(msg.Request.SeatIDs)
	if err != nil {
		return fmt.Errorf("failed to encode seat ids: %w", err)
	}

	err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterKey(eventID),
		Values: map[string]interface{}{
			"request_id":  msg.Request.RequestID,
			"event_id":    msg.Request.EventID,
			"user_id":     msg.Request.UserID,
			"seat_ids":    string(seatIDs),
			"priority":    string(msg.Priority),
			"source_id":   msg.StreamID,
			"deliveries":  msg.Deliveries,
			"reason":      reason,
			"dead_at":     time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to dead-letter message: %w", err)
	}

	if err := q.Ack(ctx, eventID, msg); err != nil {
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Reclaim takes over messages another consumer left pending past minIdle.
// Delivery counts come from the PEL so the caller can enforce its budget.
func (q *RedisQueue) Reclaim(ctx context.Context, eventID int64, consumer string, minIdle time.Duration, count int64) ([]Message, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.reclaim")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("event_id", eventID),
		attribute.String("consumer", consumer),
	)

	var out []Message
	for _, p := range Priorities {
		stream := StreamKey(eventID, p)

		claimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   stream,
			Group:    GroupName,
			Consumer: consumer,
			MinIdle:  minIdle,
			Start:    "0-0",
			Count:    count,
		}).Result()
		if err != nil {
			if err == redis.Nil || strings.Contains(err.Error(), "NOGROUP") {
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to reclaim %s stream: %w", p, err)
		}

		for _, xmsg := range claimed {
			msg, err := decodeMessage(xmsg, p)
			if err != nil {
				return nil, err
			}
			msg.Deliveries, err = q.deliveryCount(ctx, stream, xmsg.ID)
			if err != nil {
				return nil, err
			}
			out = append(out, *msg)
		}
	}

	span.SetAttributes(attribute.Int("count", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

func (q *RedisQueue) deliveryCount(ctx context.Context, stream, id string) (int64, error) {
	entries, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: stream,
		Group:  GroupName,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read delivery count: %w", err)
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[0].RetryCount, nil
}

// Stats reports backlog depth per priority plus an estimated wait derived
// from the workers' published throughput.
func (q *RedisQueue) Stats(ctx context.Context, eventID int64) (*Stats, error) {
	ctx, span := telemetry.StartSpan(ctx, "queue.stats")
	defer span.End()

	span.SetAttributes(attribute.Int64("event_id", eventID))

	stats := &Stats{
		EventID:    eventID,
		Priorities: make(map[domain.Priority]PriorityStats, len(Priorities)),
	}

	for _, p := range Priorities {
		stream := StreamKey(eventID, p)

		length, err := q.client.XLen(ctx, stream).Result()
		if err != nil && err != redis.Nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to read stream length: %w", err)
		}

		var pending int64
		summary, err := q.client.XPending(ctx, stream, GroupName).Result()
		if err == nil {
			pending = summary.Count
		} else if err != redis.Nil && !strings.Contains(err.Error(), "NOGROUP") {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to read pending summary: %w", err)
		}

		stats.Priorities[p] = PriorityStats{Length: length, Pending: pending}
		stats.TotalBacklog += length
	}

	dead, err := q.client.XLen(ctx, DeadLetterKey(eventID)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to read dead-letter length: %w", err)
	}
	stats.DeadLettered = dead

	rate, err := q.client.Get(ctx, RateKey(eventID)).Float64()
	if err == nil {
		stats.ThroughputPerSec = rate
	} else if err != redis.Nil {
		return nil, fmt.Errorf("failed to read throughput: %w", err)
	}

	if stats.ThroughputPerSec > 0 {
		stats.EstimatedWaitSec = float64(stats.TotalBacklog) / stats.ThroughputPerSec
	}

	span.SetStatus(codes.Ok, "")
	return stats, nil
}

// RegisteredEvents lists events with at least one enqueued request
func (q *RedisQueue) RegisteredEvents(ctx context.Context) ([]int64, error) {
	members, err := q.client.SMembers(ctx, eventsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list registered events: %w", err)
	}

	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// PublishRate stores a worker's smoothed throughput with a short TTL so a
// stalled worker's stale rate ages out of the wait estimate.
func (q *RedisQueue) PublishRate(ctx context.Context, eventID int64, perSec float64) error {
	err := q.client.Set(ctx, RateKey(eventID), perSec, 30*time.Second).Err()
	if err != nil {
		return fmt.Errorf("failed to publish throughput: %w", err)
	}
	return nil
}

func priorityFromStream(stream string) domain.Priority {
	idx := strings.LastIndex(stream, ":")
	if idx < 0 {
		return domain.PriorityNormal
	}
	p, err := domain.ParsePriority(stream[idx+1:])
	if err != nil {
		return domain.PriorityNormal
	}
	return p
}

func decodeMessage(xmsg redis.XMessage, p domain.Priority) (*Message, error) {
	req := &domain.QueuedRequest{
		Priority: p,
		State:    domain.RequestPending,
	}

	get := func(field string) string {
		if v, ok := xmsg.Values[field]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	req.RequestID = get("request_id")
	req.UserID = get("user_id")

	eventID, err := strconv.ParseInt(get("event_id"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("message %s: bad event_id: %w", xmsg.ID, err)
	}
	req.EventID = eventID

	if raw := get("seat_ids"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &req.SeatIDs); err != nil {
			return nil, fmt.Errorf("message %s: bad seat_ids: %w", xmsg.ID, err)
		}
	}

	if raw := get("enqueued_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			req.EnqueuedAt = ts
		}
	}

	return &Message{
		StreamID: xmsg.ID,
		Priority: p,
		Request:  req,
	}, nil
}
