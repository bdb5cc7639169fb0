package loginguard

import (
	"context"
	"time"
)

// Store counts failures per key.
type Store interface {
	// Increment adds one failure and restarts the key's window. It returns
	// the new count and the remaining window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
	// Get returns the current count and remaining window; zero for unknown
	// or expired keys.
	Get(ctx context.Context, key string) (int64, time.Duration, error)
	Delete(ctx context.Context, key string) error
}
