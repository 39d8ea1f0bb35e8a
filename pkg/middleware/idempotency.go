package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader lets a client replay a write after a network
	// timeout without double-reserving
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// DefaultIdempotencyTTL is how long a finished response stays replayable
	DefaultIdempotencyTTL = 5 * time.Minute

	idemPrefix = "idem:"

	idemInFlight  = "in_flight"
	idemCompleted = "completed"
)

// idemRecord is the Redis value behind one idempotency key. RequestHash
// pins the key to one logical request so a reuse with a different body is
// rejected instead of silently answered from cache.
type idemRecord struct {
	State       string `json:"state"`
	RequestHash string `json:"request_hash"`
	Status      int    `json:"status,omitempty"`
	Body        string `json:"body,omitempty"`
}

// IdempotencyStore is the slice of the Redis API the middleware needs
type IdempotencyStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// IdempotencyConfig configures the dedup window
type IdempotencyConfig struct {
	Redis IdempotencyStore
	// TTL keeps completed responses replayable (default 5 minutes)
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight marker left by a crashed
	// handler can block retries (default 60 seconds)
	ProcessingTTL time.Duration
}

// Idempotency dedupes retried writes by the X-Idempotency-Key header. The
// first request runs and its response is cached; a replay gets the cached
// response back; a concurrent duplicate gets 409. Requests without the
// header pass through untouched, and Redis failures fail open: better to
// risk a duplicate than to reject the sale.
func Idempotency(config *IdempotencyConfig) gin.HandlerFunc {
	ttl := config.TTL
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	processingTTL := config.ProcessingTTL
	if processingTTL <= 0 {
		processingTTL = 60 * time.Second
	}

	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			c.Next()
			return
		}

		// Keys are scoped per user so one client can neither replay nor
		// block another's requests
		userID, _ := GetUserID(c)
		redisKey := idemPrefix + userID + ":" + key

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		hash := requestHash(c.Request.Method, c.Request.URL.Path, body)

		ctx := c.Request.Context()
		record := &idemRecord{State: idemInFlight, RequestHash: hash}

		claimed, err := claimKey(ctx, config.Redis, redisKey, record, processingTTL)
		if err != nil {
			c.Next()
			return
		}
		if !claimed {
			existing, err := loadRecord(ctx, config.Redis, redisKey)
			if err != nil {
				c.Next()
				return
			}
			replay(c, existing, hash)
			return
		}

		writer := &replayWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = writer
		c.Next()

		record.State = idemCompleted
		record.Status = writer.Status()
		record.Body = writer.body.String()
		if data, err := json.Marshal(record); err == nil {
			config.Redis.Set(ctx, redisKey, data, ttl)
		}
	}
}

// replay answers a duplicate request from the stored record
func replay(c *gin.Context, record *idemRecord, hash string) {
	if record == nil {
		// The claim lost to a record that expired in between; run fresh
		c.Next()
		return
	}
	if record.RequestHash != hash {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity,
			errorBody("IDEMPOTENCY_KEY_REUSED", "idempotency key was already used with a different request"))
		return
	}
	if record.State == idemInFlight {
		c.AbortWithStatusJSON(http.StatusConflict,
			errorBody("REQUEST_IN_PROGRESS", "a request with this idempotency key is still being processed"))
		return
	}
	c.Data(record.Status, "application/json", []byte(record.Body))
	c.Abort()
}

func requestHash(method, path string, body []byte) string {
	h := sha256.New()
	io.WriteString(h, method)
	io.WriteString(h, path)
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func claimKey(ctx context.Context, store IdempotencyStore, key string, record *idemRecord, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	return store.SetNX(ctx, key, data, ttl).Result()
}

func loadRecord(ctx context.Context, store IdempotencyStore, key string) (*idemRecord, error) {
	data, err := store.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := &idemRecord{}
	if err := json.Unmarshal([]byte(data), record); err != nil {
		return nil, err
	}
	return record, nil
}

// replayWriter tees the response body so a completed request can be
// answered again from Redis
type replayWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *replayWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}
