package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles the gateway's Prometheus metrics. Each Registry owns its
// own collector registry so instances never collide.
type Registry struct {
	Requests      prometheus.Counter
	RateLimited   prometheus.Counter
	Checks        *prometheus.CounterVec
	Fallbacks     prometheus.Counter
	CheckDuration prometheus.Histogram
	BreakerState  prometheus.Gauge

	reg *prometheus.Registry
}

func NewRegistry() *Registry {
	r := &Registry{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total requests received",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Total rate limited responses",
		}),
		Checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_checks_total",
			Help: "Rate limit checks by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_fallback_total",
			Help: "Checks answered by the fail-open/fail-closed policy",
		}),
		CheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratelimit_check_duration_seconds",
			Help:    "Rate limit check latency",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		}),
		reg: prometheus.NewRegistry(),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Requests,
		r.RateLimited,
		r.Checks,
		r.Fallbacks,
		r.CheckDuration,
		r.BreakerState,
	)
	return r
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}
