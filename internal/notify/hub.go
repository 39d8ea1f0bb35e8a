// Package notify fans request and user notifications out to live listeners
// (WebSocket connections) on this instance, bridged across instances over
// Redis pub/sub.
package notify

import (
	"sync"

	"go.uber.org/zap"

	"github.com/YeonwooSung/ticketing-system/internal/domain"
	"github.com/YeonwooSung/ticketing-system/pkg/logger"
)

// Notification types
const (
	TypeStatusUpdate         = "status_update"
	TypeReservationComplete  = "reservation_complete"
	TypeReservationFailed    = "reservation_failed"
	TypeReservationCancelled = "reservation_cancelled"
)

// Notification is one message delivered to listeners
type Notification struct {
	Type      string                `json:"type"`
	RequestID string                `json:"request_id,omitempty"`
	UserID    string                `json:"user_id,omitempty"`
	State     domain.RequestState   `json:"state,omitempty"`
	Result    *domain.RequestResult `json:"result,omitempty"`
	ErrorKind string                `json:"error_kind,omitempty"`
	ErrorMsg  string                `json:"error_message,omitempty"`
}

// Terminal reports whether this is the last message for the request
func (n *Notification) Terminal() bool {
	switch n.Type {
	case TypeReservationComplete, TypeReservationFailed, TypeReservationCancelled:
		return true
	}
	return false
}

// ForState builds a notification for a request snapshot
func ForState(req *domain.QueuedRequest) *Notification {
	n := &Notification{
		RequestID: req.RequestID,
		UserID:    req.UserID,
		State:     req.State,
		Result:    req.Result,
		ErrorKind: req.ErrorKind,
		ErrorMsg:  req.ErrorMsg,
	}
	switch req.State {
	case domain.RequestCompleted:
		n.Type = TypeReservationComplete
	case domain.RequestFailed:
		n.Type = TypeReservationFailed
	case domain.RequestCancelled:
		n.Type = TypeReservationCancelled
	default:
		n.Type = TypeStatusUpdate
	}
	return n
}

// CloseReason explains why the hub dropped a subscription
type CloseReason string

const (
	// CloseSlowConsumer means the listener's buffer overflowed
	CloseSlowConsumer CloseReason = "slow_consumer"
	// CloseShutdown means the hub is shutting down
	CloseShutdown CloseReason = "shutdown"
)

// subscriptionBuffer bounds how far a listener may lag before being dropped
const subscriptionBuffer = 16

// Subscription is one listener's channel onto the hub
type Subscription struct {
	C <-chan *Notification

	ch     chan *Notification
	hub    *Hub
	key    subKey
	closed bool
	reason CloseReason
}

// Reason returns why the hub closed this subscription, if it did
func (s *Subscription) Reason() CloseReason {
	return s.reason
}

// Close detaches the subscription from the hub
func (s *Subscription) Close() {
	s.hub.pubMu.Lock()
	defer s.hub.pubMu.Unlock()
	s.hub.drop(s, "")
}

type subKey struct {
	kind string // "request" or "user"
	id   string
}

// Hub is the in-process registry from request-id/user-id to live listeners.
// pubMu serializes delivery and channel closes; a send can never interleave
// with a close.
type Hub struct {
	mu    sync.RWMutex
	pubMu sync.Mutex
	subs  map[subKey]map[*Subscription]struct{}
	log   *logger.Logger
}

// NewHub creates an empty hub
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		subs: make(map[subKey]map[*Subscription]struct{}),
		log:  log,
	}
}

// SubscribeRequest attaches a listener for one request's notifications
func (h *Hub) SubscribeRequest(requestID string) *Subscription {
	return h.subscribe(subKey{kind: "request", id: requestID})
}

// SubscribeUser attaches a listener for all of a user's notifications
func (h *Hub) SubscribeUser(userID string) *Subscription {
	return h.subscribe(subKey{kind: "user", id: userID})
}

func (h *Hub) subscribe(key subKey) *Subscription {
	ch := make(chan *Notification, subscriptionBuffer)
	sub := &Subscription{C: ch, ch: ch, hub: h, key: key}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[key] == nil {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}
	return sub
}

// drop removes a subscription and closes its channel. Caller holds pubMu.
func (h *Hub) drop(sub *Subscription, reason CloseReason) {
	if sub.closed {
		return
	}
	sub.closed = true
	sub.reason = reason

	h.mu.Lock()
	if set, ok := h.subs[sub.key]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.key)
		}
	}
	h.mu.Unlock()

	close(sub.ch)
}

// Publish delivers a notification to every listener registered for its
// request id and user id. A listener that cannot keep up is dropped with
// CloseSlowConsumer rather than blocking the publisher.
func (h *Hub) Publish(n *Notification) {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	var targets []*Subscription
	h.mu.RLock()
	if n.RequestID != "" {
		for sub := range h.subs[subKey{kind: "request", id: n.RequestID}] {
			targets = append(targets, sub)
		}
	}
	if n.UserID != "" {
		for sub := range h.subs[subKey{kind: "user", id: n.UserID}] {
			targets = append(targets, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range targets {
		if sub.closed {
			continue
		}
		select {
		case sub.ch <- n:
		default:
			h.log.Warn("dropping slow notification listener",
				zap.String("kind", sub.key.kind),
				zap.String("id", sub.key.id),
			)
			h.drop(sub, CloseSlowConsumer)
		}
	}
}

// Shutdown drops every listener
func (h *Hub) Shutdown() {
	h.pubMu.Lock()
	defer h.pubMu.Unlock()

	h.mu.RLock()
	var all []*Subscription
	for _, set := range h.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range all {
		h.drop(sub, CloseShutdown)
	}
}
