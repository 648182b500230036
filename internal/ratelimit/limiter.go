// Package ratelimit provides fixed-window, per-client admission control.
//
// A Limiter owns the policy (requests per window) and delegates the counting to a
// Store. The memory store keeps windows in a mutex-protected map with a background
// sweeper; the redis store shares windows between gateway replicas.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrLimitExceeded is returned by Admit when the client has used up its window.
var ErrLimitExceeded = errors.New("rate limit exceeded")

// Store counts requests per key inside fixed windows.
type Store interface {
	// Increment atomically adds one request to the window of key, starting a new
	// window when none is open, and returns the count including this request and
	// the time left until the window resets.
	Increment(ctx context.Context, key string, window time.Duration) (count int64, resetAfter time.Duration, err error)
}

// Decision is the result of an admission check.
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter admits at most Limit requests per client per Window.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// NewLimiter creates a Limiter backed by store.
func NewLimiter(store Store, limit int, window time.Duration) (*Limiter, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("invalid limit: %d (must be positive)", limit)
	}
	if window <= 0 {
		return nil, fmt.Errorf("invalid window: %v (must be positive)", window)
	}
	return &Limiter{store: store, limit: limit, window: window}, nil
}

// Admit records a request for clientKey and decides whether it may proceed.
// A rejected decision is returned together with ErrLimitExceeded.
func (l *Limiter) Admit(ctx context.Context, clientKey string) (Decision, error) {
	count, resetAfter, err := l.store.Increment(ctx, FormatKey(clientKey), l.window)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit store: %w", err)
	}

	remaining := l.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}

	d := Decision{
		Allowed:    count <= int64(l.limit),
		Count:      count,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}
	if !d.Allowed {
		return d, ErrLimitExceeded
	}
	return d, nil
}

// Limit returns the configured requests per window.
func (l *Limiter) Limit() int {
	return l.limit
}

// Window returns the configured window length.
func (l *Limiter) Window() time.Duration {
	return l.window
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit:client:"

// FormatKey returns the store key for a client.
func FormatKey(clientKey string) string {
	return keyPrefix + clientKey
}
