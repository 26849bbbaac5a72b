package analytics

import (
	"context"
	"time"
)

// Record captures one rate-limit decision for offline analysis.
type Record struct {
	ClientID  string
	Endpoint  string
	Allowed   bool
	Strategy  string
	Limit     int64
	Remaining int64
	Timestamp time.Time
}

// Stats aggregates decisions over a time range.
type Stats struct {
	Total     int64   `json:"total_requests"`
	Allowed   int64   `json:"allowed"`
	Blocked   int64   `json:"blocked"`
	BlockRate float64 `json:"block_rate"`
}

// Sink persists decision records. Implementations must tolerate concurrent
// readers while the writer goroutine inserts.
type Sink interface {
	Store(ctx context.Context, rec Record) error
	StatsSince(ctx context.Context, since time.Time) (Stats, error)
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
	Close() error
}
