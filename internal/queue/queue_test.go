package queue

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
)

func TestStreamKeys(t *testing.T) {
	assert.Equal(t, "queue:42:high", StreamKey(42, domain.PriorityHigh))
	assert.Equal(t, "queue:42:normal", StreamKey(42, domain.PriorityNormal))
	assert.Equal(t, "queue:42:low", StreamKey(42, domain.PriorityLow))
	assert.Equal(t, "queue:42:dead", DeadLetterKey(42))
	assert.Equal(t, "queue:42:rate", RateKey(42))
}

func TestReadBudgets_HighDrainsFirst(t *testing.T) {
	require.Equal(t, []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow}, Priorities)

	assert.Equal(t, int64(10), ReadBudgets[domain.PriorityHigh])
	assert.Equal(t, int64(3), ReadBudgets[domain.PriorityNormal])
	assert.Equal(t, int64(1), ReadBudgets[domain.PriorityLow])
	assert.Greater(t, ReadBudgets[domain.PriorityHigh], ReadBudgets[domain.PriorityNormal])
	assert.Greater(t, ReadBudgets[domain.PriorityNormal], ReadBudgets[domain.PriorityLow])
}

func TestPriorityFromStream(t *testing.T) {
	assert.Equal(t, domain.PriorityHigh, priorityFromStream("queue:1:high"))
	assert.Equal(t, domain.PriorityLow, priorityFromStream("queue:1:low"))
	assert.Equal(t, domain.PriorityNormal, priorityFromStream("queue:1:dead"))
	assert.Equal(t, domain.PriorityNormal, priorityFromStream("garbage"))
}

func TestDecodeMessage(t *testing.T) {
	enqueued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	xmsg := redis.XMessage{
		ID: "1700000000000-0",
		Values: map[string]interface{}{
			"request_id":  "01HXYZ",
			"event_id":    "42",
			"user_id":     "user-1",
			"seat_ids":    "[10,11]",
			"priority":    "high",
			"enqueued_at": enqueued.Format(time.RFC3339Nano),
		},
	}

	msg, err := decodeMessage(xmsg, domain.PriorityHigh)
	require.NoError(t, err)

	assert.Equal(t, "1700000000000-0", msg.StreamID)
	assert.Equal(t, domain.PriorityHigh, msg.Priority)
	assert.Equal(t, "01HXYZ", msg.Request.RequestID)
	assert.Equal(t, int64(42), msg.Request.EventID)
	assert.Equal(t, "user-1", msg.Request.UserID)
	assert.Equal(t, []int64{10, 11}, msg.Request.SeatIDs)
	assert.Equal(t, domain.RequestPending, msg.Request.State)
	assert.True(t, msg.Request.EnqueuedAt.Equal(enqueued))
}

func TestDecodeMessage_BadEventID(t *testing.T) {
	xmsg := redis.XMessage{
		ID: "1700000000000-1",
		Values: map[string]interface{}{
			"request_id": "01HXYZ",
			"event_id":   "not-a-number",
		},
	}

	_, err := decodeMessage(xmsg, domain.PriorityNormal)
	assert.Error(t, err)
}

func TestStatusKey(t *testing.T) {
	assert.Equal(t, "req:01HXYZ", StatusKey("01HXYZ"))
}
