package repository

import (
	"context"
	"time"
)

// Store is the shared atomic backend consulted for every admission decision.
// Implementations must execute each algorithm step as one indivisible unit per
// key: two concurrent checks on the same key can never both observe the state
// that existed before the other's write.
type Store interface {
	// TokenBucket refills the bucket at key by the time elapsed since the last
	// check and takes one token if at least one is available. Returns whether
	// the request is admitted and the tokens remaining afterwards.
	TokenBucket(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error)

	// SlidingWindow drops entries older than window, then records and admits
	// the request at now if fewer than limit entries remain. Returns whether
	// the request is admitted and the admissions left in the window.
	SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error)

	// Ping probes backend liveness. It is used by health checks, never by the
	// algorithms themselves.
	Ping(ctx context.Context) error

	// Close releases the underlying client.
	Close() error
}
