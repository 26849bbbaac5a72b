package repository

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newRedisStore(t testing.TB) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	store, err := NewRedisStore(mr.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store, mr
}

// TestRedisTokenBucketMonotonicity verifies that a fresh bucket with limit 5
// admits exactly 5 requests with remaining counting down 4,3,2,1,0 and denies
// the 6th.
func TestRedisTokenBucketMonotonicity(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 5; i++ {
		allowed, remaining, err := store.TokenBucket(ctx, "bucket:client:/api/data", 5, 60*time.Second, now)
		if err != nil {
			t.Fatalf("check %d: unexpected error: %v", i+1, err)
		}
		if !allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
		if want := int64(4 - i); remaining != want {
			t.Fatalf("check %d: expected remaining %d, got %d", i+1, want, remaining)
		}
	}

	allowed, remaining, err := store.TokenBucket(ctx, "bucket:client:/api/data", 5, 60*time.Second, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatal("6th check should be denied")
	}
	if remaining != 0 {
		t.Fatalf("expected remaining 0, got %d", remaining)
	}
}

// TestRedisTokenBucketRefill exhausts a limit=10/window=10s bucket, advances
// the clock 2 seconds and expects exactly 2 more admissions.
func TestRedisTokenBucketRefill(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		allowed, _, err := store.TokenBucket(ctx, "bucket:refill", 10, 10*time.Second, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
	}
	if allowed, _, _ := store.TokenBucket(ctx, "bucket:refill", 10, 10*time.Second, now); allowed {
		t.Fatal("bucket should be empty")
	}

	later := now.Add(2 * time.Second)
	for i := 0; i < 2; i++ {
		allowed, _, err := store.TokenBucket(ctx, "bucket:refill", 10, 10*time.Second, later)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("refilled check %d should be allowed", i+1)
		}
	}
	if allowed, _, _ := store.TokenBucket(ctx, "bucket:refill", 10, 10*time.Second, later); allowed {
		t.Fatal("3rd check after a 2s refill should be denied")
	}
}

// TestRedisSlidingWindowExactness fills a limit=3/window=2s window, then moves
// past the window and expects a fresh admission with remaining 2.
func TestRedisSlidingWindowExactness(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		at := now.Add(time.Duration(i) * 100 * time.Millisecond)
		allowed, _, err := store.SlidingWindow(ctx, "window:exact", 3, 2*time.Second, at)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("check %d should be allowed", i+1)
		}
	}
	if allowed, _, _ := store.SlidingWindow(ctx, "window:exact", 3, 2*time.Second, now.Add(300*time.Millisecond)); allowed {
		t.Fatal("4th check inside the window should be denied")
	}

	allowed, remaining, err := store.SlidingWindow(ctx, "window:exact", 3, 2*time.Second, now.Add(2300*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed {
		t.Fatal("check after the window passed should be allowed")
	}
	if remaining != 2 {
		t.Fatalf("expected remaining 2, got %d", remaining)
	}
}

// TestRedisSlidingWindowDuplicateTimestamps issues checks at an identical
// timestamp; every admission must be recorded as a distinct entry.
func TestRedisSlidingWindowDuplicateTimestamps(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 3; i++ {
		allowed, remaining, err := store.SlidingWindow(ctx, "window:dup", 3, 2*time.Second, now)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !allowed {
			t.Fatalf("check %d at the same timestamp should be allowed", i+1)
		}
		if want := int64(2 - i); remaining != want {
			t.Fatalf("check %d: expected remaining %d, got %d", i+1, want, remaining)
		}
	}
	if allowed, _, _ := store.SlidingWindow(ctx, "window:dup", 3, 2*time.Second, now); allowed {
		t.Fatal("4th check at the same timestamp should be denied")
	}
}

// TestRedisKeyIndependence exhausts one key and expects another to be untouched.
func TestRedisKeyIndependence(t *testing.T) {
	store, _ := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 2; i++ {
		if allowed, _, _ := store.TokenBucket(ctx, "bucket:a", 2, 60*time.Second, now); !allowed {
			t.Fatalf("key a check %d should be allowed", i+1)
		}
	}
	if allowed, _, _ := store.TokenBucket(ctx, "bucket:a", 2, 60*time.Second, now); allowed {
		t.Fatal("key a should be exhausted")
	}

	allowed, remaining, err := store.TokenBucket(ctx, "bucket:b", 2, 60*time.Second, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || remaining != 1 {
		t.Fatalf("key b first check: expected allowed with remaining 1, got allowed=%v remaining=%d", allowed, remaining)
	}
}

// TestRedisStateExpiry checks the TTLs set by the scripts: 2x window for
// buckets, window for windows.
func TestRedisStateExpiry(t *testing.T) {
	store, mr := newRedisStore(t)
	ctx := context.Background()
	now := time.Now()

	if _, _, err := store.TokenBucket(ctx, "bucket:ttl", 5, 60*time.Second, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL("bucket:ttl"); ttl != 120*time.Second {
		t.Fatalf("expected bucket ttl 120s, got %v", ttl)
	}

	if _, _, err := store.SlidingWindow(ctx, "window:ttl", 5, 60*time.Second, now); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ttl := mr.TTL("window:ttl"); ttl != 60*time.Second {
		t.Fatalf("expected window ttl 60s, got %v", ttl)
	}

	// idle past the TTL wipes the state entirely
	mr.FastForward(121 * time.Second)
	if mr.Exists("bucket:ttl") {
		t.Fatal("bucket state should have expired")
	}
}

func TestNewRedisStoreUnreachable(t *testing.T) {
	if _, err := NewRedisStore("127.0.0.1:1", 100*time.Millisecond); err == nil {
		t.Fatal("expected connection error for unreachable redis")
	}
}

// BenchmarkRedisTokenBucket benchmarks the token bucket script round-trip.
func BenchmarkRedisTokenBucket(b *testing.B) {
	store, _ := newRedisStore(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.TokenBucket(ctx, "bucket:bench", 1000000, 60*time.Second, time.Now())
	}
}

// BenchmarkRedisSlidingWindow benchmarks the sliding window script round-trip.
func BenchmarkRedisSlidingWindow(b *testing.B) {
	store, _ := newRedisStore(b)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		store.SlidingWindow(ctx, "window:bench", 1000000, 60*time.Second, time.Now())
	}
}
