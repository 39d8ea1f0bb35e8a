package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/pkg/logger"
	redispkg "github.com/YeonwooSung/ticketing-system/pkg/redis"
)

const (
	requestChannelPrefix = "notify:request:"
	userChannelPrefix    = "notify:user:"
)

// RequestChannel returns the pub/sub channel for one request
func RequestChannel(requestID string) string {
	return requestChannelPrefix + requestID
}

// UserChannel returns the pub/sub channel for one user
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// Notifier publishes notifications for delivery to live listeners
type Notifier interface {
	Notify(ctx context.Context, n *Notification) error
}

// RedisNotifier publishes notifications over Redis pub/sub so listeners on
// any instance receive them, including this one via the bridge.
type RedisNotifier struct {
	client *redispkg.Client
}

// NewRedisNotifier creates a RedisNotifier
func NewRedisNotifier(client *redispkg.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Notify publishes to the request channel and, when a user id is present,
// the user channel
func (p *RedisNotifier) Notify(ctx context.Context, n *Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	if n.RequestID != "" {
		if err := p.client.Publish(ctx, RequestChannel(n.RequestID), data).Err(); err != nil {
			return fmt.Errorf("failed to publish request notification: %w", err)
		}
	}
	if n.UserID != "" {
		if err := p.client.Publish(ctx, UserChannel(n.UserID), data).Err(); err != nil {
			return fmt.Errorf("failed to publish user notification: %w", err)
		}
	}
	return nil
}

// Bridge subscribes to the notification channels and republishes into the
// local hub. One bridge runs per server instance.
type Bridge struct {
	client *redispkg.Client
	hub    *Hub
	log    *logger.Logger
}

// NewBridge creates a Bridge
func NewBridge(client *redispkg.Client, hub *Hub, log *logger.Logger) *Bridge {
	return &Bridge{client: client, hub: hub, log: log}
}

// Run consumes pub/sub messages until the context is cancelled
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.PSubscribe(ctx, requestChannelPrefix+"*", userChannelPrefix+"*")
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				// Connection loss; the caller decides whether to resubscribe
				return fmt.Errorf("notification subscription closed")
			}

			n := &Notification{}
			if err := json.Unmarshal([]byte(msg.Payload), n); err != nil {
				b.log.Warn("dropping malformed notification",
					zap.String("channel", msg.Channel),
					zap.Error(err),
				)
				continue
			}

			// A notification published to both channels arrives twice;
			// deliver only the request-channel copy to request listeners
			// and the user-channel copy to user listeners.
			local := *n
			if strings.HasPrefix(msg.Channel, requestChannelPrefix) {
				local.UserID = ""
			} else {
				local.RequestID = ""
			}
			b.hub.Publish(&local)
		}
	}
}
