// Package cache defines the result cache capability used by the method
// invoker and provides an in-memory implementation.
package cache

import (
	"context"
	"time"
)

// Provider stores method results under string keys.
//
// Consistency is provider-defined: callers do not rely on Get followed by
// Add being atomic.
type Provider interface {
	// Get returns the value stored under key. ok is false on a miss or when the
	// entry has expired.
	Get(ctx context.Context, key string) (value any, ok bool, err error)
	// Set stores value under key, replacing any existing entry.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Add stores value under key unless a live entry already exists.
	Add(ctx context.Context, key string, value any, expiration time.Duration) error
}
