package repository

import (
	"context"
	"sync"
	"time"
)

type memBucket struct {
	tokens     int64
	lastRefill time.Time
	expiresAt  time.Time
}

type memWindow struct {
	entries   []time.Time
	expiresAt time.Time
}

// memoryStore runs the same step sequences as the Redis scripts behind one
// mutex, which trivially satisfies the single-indivisible-step contract. It
// serves single-instance deployments and local development; coordination
// across instances requires the Redis store.
type memoryStore struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
	windows map[string]*memWindow
}

// NewMemoryStore returns an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{
		buckets: make(map[string]*memBucket),
		windows: make(map[string]*memWindow),
	}
}

func (m *memoryStore) TokenBucket(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[key]
	if !ok || now.After(b.expiresAt) {
		b = &memBucket{tokens: limit, lastRefill: now}
		m.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	refill := int64(elapsed * float64(limit) / window.Seconds())
	b.tokens += refill
	if b.tokens > limit {
		b.tokens = limit
	}
	b.lastRefill = now

	allowed := false
	if b.tokens >= 1 {
		b.tokens--
		allowed = true
	}
	b.expiresAt = now.Add(2 * window)
	return allowed, b.tokens, nil
}

func (m *memoryStore) SlidingWindow(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.After(w.expiresAt) {
		w = &memWindow{}
		m.windows[key] = w
	}

	// drop entries at or before now-window
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(w.entries); i++ {
		if w.entries[i].After(cutoff) {
			break
		}
	}
	w.entries = w.entries[i:]

	count := int64(len(w.entries))
	allowed := false
	if count < limit {
		w.entries = append(w.entries, now)
		w.expiresAt = now.Add(window)
		count++
		allowed = true
	}
	// a policy update can shrink limit below the live count
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining, nil
}

func (m *memoryStore) Ping(ctx context.Context) error {
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}
