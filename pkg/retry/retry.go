// Package retry reruns operations against flaky backends with exponential
// backoff. It exists for long-lived consumers, like the notification bridge,
// that should reconnect patiently instead of giving up on the first error.
package retry

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

var (
	// ErrExhausted reports that every attempt failed
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrContextCanceled reports that the context ended mid-retry
	ErrContextCanceled = errors.New("context canceled during retry")
)

// Config shapes the backoff schedule. Zero values fall back to one second
// doubling up to thirty, with ten percent jitter.
type Config struct {
	// MaxRetries bounds attempts after the first; zero means one attempt
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// JitterFactor spreads waits by up to this fraction either way so
	// restarted consumers do not reconnect in lockstep
	JitterFactor float64
}

func (c *Config) withDefaults() Config {
	cfg := Config{}
	if c != nil {
		cfg = *c
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 30 * time.Second
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.JitterFactor <= 0 || cfg.JitterFactor > 1 {
		cfg.JitterFactor = 0.1
	}
	return cfg
}

// Operation is retried until it returns nil
type Operation func(ctx context.Context) error

// Result reports how a retried operation ended
type Result struct {
	// Err is nil on success, ErrExhausted or ErrContextCanceled otherwise
	Err error
	// LastError is the operation's most recent failure
	LastError error
	// Attempts counts operation runs, including the first
	Attempts int
}

// Do runs op until it succeeds, the attempt budget runs out, or ctx ends.
// The wait doubles after every failure up to the configured ceiling.
func Do(ctx context.Context, config *Config, op Operation) *Result {
	cfg := config.withDefaults()
	result := &Result{}
	wait := cfg.InitialInterval

	for {
		if ctx.Err() != nil {
			result.Err = ErrContextCanceled
			return result
		}

		result.Attempts++
		err := op(ctx)
		if err == nil {
			return result
		}
		result.LastError = err

		if result.Attempts > cfg.MaxRetries {
			result.Err = ErrExhausted
			return result
		}

		select {
		case <-ctx.Done():
			result.Err = ErrContextCanceled
			return result
		case <-time.After(jitter(wait, cfg.JitterFactor)):
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if wait > cfg.MaxInterval {
			wait = cfg.MaxInterval
		}
	}
}

// jitter shifts d by a random amount within ±factor
func jitter(d time.Duration, factor float64) time.Duration {
	if factor == 0 {
		return d
	}
	shift := (rand.Float64()*2 - 1) * factor * float64(d)
	return d + time.Duration(shift)
}
