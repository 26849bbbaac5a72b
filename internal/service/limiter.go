package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ratelimit-gateway/internal/repository"

	"github.com/rs/zerolog/log"
)

// Strategy enumerates the supported admission algorithms.
type Strategy string

const (
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategySlidingWindow Strategy = "sliding_window"
)

// FailMode decides what a check returns when the store cannot be reached.
// It is fixed at construction time, never per call.
type FailMode string

const (
	// FailOpen admits requests during store outages: availability over strict
	// enforcement, visible to callers only through the Fallback flag.
	FailOpen FailMode = "open"
	// FailClosed denies requests during store outages.
	FailClosed FailMode = "closed"
)

// CheckResult is the admission decision for a single check, immutable once
// produced. ResetAt is advisory: tokens refill continuously, so it estimates
// when a full window's worth of quota is available again.
type CheckResult struct {
	Allowed   bool
	Strategy  Strategy
	Limit     int64
	Remaining int64
	Window    time.Duration
	ResetAt   time.Time
	Fallback  bool
	Err       string
}

// algorithm is the closed set of admission strategies. Each invocation maps
// to exactly one atomic store operation.
type algorithm interface {
	check(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error)
}

// tokenBucket admits requests while the refillable bucket under
// bucket:<key> holds tokens, tolerating bursts up to limit.
type tokenBucket struct {
	store repository.Store
}

func (a tokenBucket) check(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	return a.store.TokenBucket(ctx, "bucket:"+key, limit, window, now)
}

// slidingWindow admits requests while fewer than limit admissions exist in
// the trailing window under window:<key>.
type slidingWindow struct {
	store repository.Store
}

func (a slidingWindow) check(ctx context.Context, key string, limit int64, window time.Duration, now time.Time) (bool, int64, error) {
	return a.store.SlidingWindow(ctx, "window:"+key, limit, window, now)
}

var (
	_ algorithm = tokenBucket{}
	_ algorithm = slidingWindow{}
)

// Limiter dispatches rate-limit checks to the selected algorithm through the
// circuit breaker and applies the fail-open/fail-closed policy on store
// failures.
type Limiter struct {
	store    repository.Store
	breaker  *CircuitBreaker
	failMode FailMode
	now      func() time.Time
}

// NewLimiter constructs a Limiter. Every store call is wrapped by breaker;
// mode decides the outcome of checks the store could not answer.
func NewLimiter(store repository.Store, breaker *CircuitBreaker, mode FailMode) *Limiter {
	return &Limiter{
		store:    store,
		breaker:  breaker,
		failMode: mode,
		now:      time.Now,
	}
}

// Check decides whether the request identified by key is admitted under the
// given policy. Store and breaker failures never surface as errors: they are
// absorbed into a CheckResult with Fallback set and the cause in Err. The
// returned error is non-nil only for caller bugs (unknown strategy, invalid
// limit or window).
func (l *Limiter) Check(ctx context.Context, key string, limit int64, window time.Duration, strategy Strategy) (CheckResult, error) {
	if limit <= 0 {
		return CheckResult{}, ErrInvalidLimit
	}
	if window <= 0 {
		return CheckResult{}, ErrInvalidWindow
	}
	alg, err := l.algorithm(strategy)
	if err != nil {
		return CheckResult{}, err
	}

	now := l.now()
	var allowed bool
	var remaining int64
	err = l.breaker.Call(func() error {
		var checkErr error
		allowed, remaining, checkErr = alg.check(ctx, key, limit, window, now)
		return checkErr
	})
	if err != nil {
		return l.fallback(key, limit, window, strategy, now, err), nil
	}

	return CheckResult{
		Allowed:   allowed,
		Strategy:  strategy,
		Limit:     limit,
		Remaining: remaining,
		Window:    window,
		ResetAt:   now.Add(window),
	}, nil
}

// algorithm resolves the strategy once per call against the closed set.
func (l *Limiter) algorithm(s Strategy) (algorithm, error) {
	switch s {
	case StrategyTokenBucket:
		return tokenBucket{store: l.store}, nil
	case StrategySlidingWindow:
		return slidingWindow{store: l.store}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// fallback converts a store or breaker failure into the configured degraded
// decision.
func (l *Limiter) fallback(key string, limit int64, window time.Duration, strategy Strategy, now time.Time, cause error) CheckResult {
	if !errors.Is(cause, ErrCircuitBreakerOpen) {
		cause = fmt.Errorf("%w: %v", ErrStoreUnavailable, cause)
	}
	allowed := l.failMode == FailOpen

	log.Warn().
		Str("key", key).
		Str("strategy", string(strategy)).
		Str("fail_mode", string(l.failMode)).
		Bool("allowed", allowed).
		Err(cause).
		Msg("rate limit check fell back")

	return CheckResult{
		Allowed:   allowed,
		Strategy:  strategy,
		Limit:     limit,
		Window:    window,
		ResetAt:   now.Add(window),
		Fallback:  true,
		Err:       cause.Error(),
	}
}

// BreakerState reports the current circuit breaker state.
func (l *Limiter) BreakerState() CircuitState {
	return l.breaker.GetState()
}

// BreakerMetrics reports a snapshot of the circuit breaker.
func (l *Limiter) BreakerMetrics() CircuitMetrics {
	return l.breaker.GetMetrics()
}
