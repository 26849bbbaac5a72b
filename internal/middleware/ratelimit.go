package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"ratelimit-gateway/internal/analytics"
	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/internal/metrics"
	"ratelimit-gateway/internal/service"

	"github.com/rs/zerolog/log"
)

// RateLimiter is the admission middleware: it resolves the route policy,
// asks the limiter service for a decision and translates it into response
// headers, metrics and an analytics record.
type RateLimiter struct {
	limiter   *service.Limiter
	metrics   *metrics.Registry
	policies  *config.PolicyStore
	analytics *analytics.Writer
	timeout   time.Duration
}

// NewRateLimiter wires the middleware. rec may be nil to disable the
// decision log; checkTimeout bounds each rate-limit check.
func NewRateLimiter(limiter *service.Limiter, m *metrics.Registry, policies *config.PolicyStore, rec *analytics.Writer, checkTimeout time.Duration) *RateLimiter {
	return &RateLimiter{
		limiter:   limiter,
		metrics:   m,
		policies:  policies,
		analytics: rec,
		timeout:   checkTimeout,
	}
}

// Handler returns the middleware handler.
func (rl *RateLimiter) Handler() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := IdentityFrom(r.Context())
			if id.ClientID == "" {
				id.ClientID = clientIP(r)
			}
			policy := rl.policies.Lookup(r.URL.Path)
			key := id.ClientID + ":" + r.URL.Path

			ctx, cancel := context.WithTimeout(r.Context(), rl.timeout)
			defer cancel()

			start := time.Now()
			res, err := rl.limiter.Check(ctx, key, policy.Limit, policy.WindowDuration(), service.Strategy(policy.Strategy))
			rl.metrics.CheckDuration.Observe(time.Since(start).Seconds())
			if err != nil {
				// only configuration bugs reach here
				log.Error().Err(err).Str("path", r.URL.Path).Msg("rate limit check rejected policy")
				http.Error(w, "internal", http.StatusInternalServerError)
				return
			}

			rl.observe(id, r.URL.Path, res)
			setRateLimitHeaders(w, res)

			if !res.Allowed {
				rl.metrics.RateLimited.Inc()
				writeRateLimited(w, r, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// observe feeds metrics and the decision log.
func (rl *RateLimiter) observe(id Identity, endpoint string, res service.CheckResult) {
	rl.metrics.Requests.Inc()

	outcome := "allowed"
	if !res.Allowed {
		outcome = "denied"
	}
	rl.metrics.Checks.WithLabelValues(string(res.Strategy), outcome).Inc()
	if res.Fallback {
		rl.metrics.Fallbacks.Inc()
	}
	rl.metrics.BreakerState.Set(breakerStateValue(rl.limiter.BreakerState()))

	if rl.analytics != nil {
		rl.analytics.Record(analytics.Record{
			ClientID:  id.ClientID,
			Endpoint:  endpoint,
			Allowed:   res.Allowed,
			Strategy:  string(res.Strategy),
			Limit:     res.Limit,
			Remaining: res.Remaining,
			Timestamp: time.Now(),
		})
	}
}

func setRateLimitHeaders(w http.ResponseWriter, res service.CheckResult) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.FormatInt(res.Limit, 10))
	h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
	h.Set("X-RateLimit-Strategy", string(res.Strategy))
	if res.Fallback {
		h.Set("X-RateLimit-Fallback", "true")
	}
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, res service.CheckResult) {
	retry := retryAfterSeconds(res.ResetAt)
	w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":       "rate limit exceeded",
		"limit":       res.Limit,
		"window":      int64(res.Window.Seconds()),
		"retry_after": retry,
		"request_id":  r.Header.Get(RequestIDHeader),
	})
}

// retryAfterSeconds rounds the time until reset up to whole seconds, never
// below one.
func retryAfterSeconds(resetAt time.Time) int64 {
	d := time.Until(resetAt)
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

func breakerStateValue(s service.CircuitState) float64 {
	switch s {
	case service.StateOpen:
		return 2
	case service.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
