// Package lock implements a Redis-backed distributed lock used to serialize
// seat mutations across server instances. Acquisition is SET NX with a TTL and
// a per-attempt owner token; release and extension are owner-checked Lua
// scripts so a holder can never delete or prolong a lock it lost.
package lock

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	redispkg "github.com/YeonwooSung/ticketing-system/pkg/redis"
)

//go:embed scripts/release.lua
var releaseScript string

//go:embed scripts/extend.lua
var extendScript string

// Script names for caching
const (
	scriptRelease = "lock_release"
	scriptExtend  = "lock_extend"
)

var (
	// ErrAcquireTimeout is returned when a lock could not be acquired within MaxWait
	ErrAcquireTimeout = errors.New("lock acquisition timed out")
	// ErrNotHeld is returned when releasing or extending a lock owned by someone else
	ErrNotHeld = errors.New("lock not held by this owner")
)

// SeatKey returns the lock key for a seat
func SeatKey(seatID int64) string {
	return fmt.Sprintf("lock:seat:%d", seatID)
}

// Lease represents an acquired lock
type Lease struct {
	Key   string
	Token string
}

// MultiLease represents a set of locks acquired together
type MultiLease struct {
	Leases []*Lease
}

// Keys returns the locked keys in acquisition order
func (m *MultiLease) Keys() []string {
	keys := make([]string, len(m.Leases))
	for i, l := range m.Leases {
		keys[i] = l.Key
	}
	return keys
}

// Locker is the lock interface consumed by services
type Locker interface {
	Acquire(ctx context.Context, key string) (*Lease, error)
	Release(ctx context.Context, lease *Lease) error
	Extend(ctx context.Context, lease *Lease, ttl time.Duration) error
	AcquireMulti(ctx context.Context, keys []string) (*MultiLease, error)
	ReleaseMulti(ctx context.Context, lease *MultiLease) error
}

// Options holds lock tuning parameters
type Options struct {
	// TTL is the lock expiry
	TTL time.Duration
	// RetryDelay is the base delay between acquisition attempts
	RetryDelay time.Duration
	// MaxWait bounds the total time spent waiting for a contended lock
	MaxWait time.Duration
}

// DefaultOptions returns default lock options
func DefaultOptions() Options {
	return Options{
		TTL:        30 * time.Second,
		RetryDelay: 100 * time.Millisecond,
		MaxWait:    5 * time.Second,
	}
}

// Manager implements Locker on top of Redis
type Manager struct {
	client *redispkg.Client
	opts   Options
}

// NewManager creates a lock manager
func NewManager(client *redispkg.Client, opts Options) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOptions().TTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultOptions().RetryDelay
	}
	if opts.MaxWait <= 0 {
		opts.MaxWait = DefaultOptions().MaxWait
	}
	return &Manager{client: client, opts: opts}
}

// LoadScripts preloads the lock scripts into Redis
func (m *Manager) LoadScripts(ctx context.Context) error {
	scripts := map[string]string{
		scriptRelease: releaseScript,
		scriptExtend:  extendScript,
	}
	for name, script := range scripts {
		if _, err := m.client.LoadScript(ctx, name, script); err != nil {
			return fmt.Errorf("failed to load lock script %s: %w", name, err)
		}
	}
	return nil
}

// Acquire acquires a single lock, retrying with jitter until MaxWait elapses
func (m *Manager) Acquire(ctx context.Context, key string) (*Lease, error) {
	return m.acquireWithDeadline(ctx, key, time.Now().Add(m.opts.MaxWait))
}

func (m *Manager) acquireWithDeadline(ctx context.Context, key string, deadline time.Time) (*Lease, error) {
	token := uuid.NewString()

	for {
		ok, err := m.client.SetNX(ctx, key, token, m.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock acquire %s: %w", key, err)
		}
		if ok {
			return &Lease{Key: key, Token: token}, nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: %w", key, ErrAcquireTimeout)
		}

		// Jittered retry so contenders do not wake in lockstep
		delay := m.opts.RetryDelay + time.Duration(rand.Int63n(int64(m.opts.RetryDelay)))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Release releases a lock if still owned
func (m *Manager) Release(ctx context.Context, lease *Lease) error {
	result := m.client.EvalWithFallback(ctx, scriptRelease, releaseScript,
		[]string{lease.Key}, lease.Token)
	n, err := result.Int64()
	if err != nil {
		return fmt.Errorf("lock release %s: %w", lease.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock release %s: %w", lease.Key, ErrNotHeld)
	}
	return nil
}

// Extend extends a held lock's TTL
func (m *Manager) Extend(ctx context.Context, lease *Lease, ttl time.Duration) error {
	result := m.client.EvalWithFallback(ctx, scriptExtend, extendScript,
		[]string{lease.Key}, lease.Token, ttl.Milliseconds())
	n, err := result.Int64()
	if err != nil {
		return fmt.Errorf("lock extend %s: %w", lease.Key, err)
	}
	if n == 0 {
		return fmt.Errorf("lock extend %s: %w", lease.Key, ErrNotHeld)
	}
	return nil
}

// AcquireMulti acquires locks on all keys in sorted order to prevent deadlock.
// On any failure the already-acquired prefix is released in reverse order.
func (m *Manager) AcquireMulti(ctx context.Context, keys []string) (*MultiLease, error) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)

	deadline := time.Now().Add(m.opts.MaxWait)
	multi := &MultiLease{Leases: make([]*Lease, 0, len(sorted))}

	for _, key := range sorted {
		lease, err := m.acquireWithDeadline(ctx, key, deadline)
		if err != nil {
			m.releaseReverse(ctx, multi)
			return nil, err
		}
		multi.Leases = append(multi.Leases, lease)
	}

	return multi, nil
}

// ReleaseMulti releases all locks in reverse acquisition order
func (m *Manager) ReleaseMulti(ctx context.Context, lease *MultiLease) error {
	var firstErr error
	for i := len(lease.Leases) - 1; i >= 0; i-- {
		if err := m.Release(ctx, lease.Leases[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Manager) releaseReverse(ctx context.Context, lease *MultiLease) {
	for i := len(lease.Leases) - 1; i >= 0; i-- {
		// Best effort: the TTL reclaims anything we fail to release here
		_ = m.Release(ctx, lease.Leases[i])
	}
}
