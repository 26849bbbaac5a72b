package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"ratelimit-gateway/internal/analytics"
	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/internal/repository"
	"ratelimit-gateway/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// AdminHandler manages rate-limit policies and operational status at runtime.
type AdminHandler struct {
	policies *config.PolicyStore
	limiter  *service.Limiter
	store    repository.Store
	sink     analytics.Sink
	started  time.Time
}

// NewAdminHandler wires the admin plane. sink may be nil when analytics is
// disabled.
func NewAdminHandler(policies *config.PolicyStore, limiter *service.Limiter, store repository.Store, sink analytics.Sink) *AdminHandler {
	return &AdminHandler{
		policies: policies,
		limiter:  limiter,
		store:    store,
		sink:     sink,
		started:  time.Now(),
	}
}

// Routes returns the admin subrouter, mounted under /admin.
func (a *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/policies", a.listPolicies)
	r.Put("/policies/*", a.updatePolicy)
	r.Get("/stats", a.stats)
	r.Get("/status", a.status)
	return r
}

func (a *AdminHandler) listPolicies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"default":  a.policies.Default(),
		"policies": a.policies.List(),
	})
}

// updatePolicy upserts the policy for the route named by the wildcard:
// PUT /admin/policies/api/search targets /api/search. Updates apply to new
// checks immediately but do not survive a restart unless the config file is
// changed too.
func (a *AdminHandler) updatePolicy(w http.ResponseWriter, r *http.Request) {
	path := "/" + chi.URLParam(r, "*")

	var payload struct {
		Strategy string `json:"strategy"`
		Limit    int64  `json:"limit"`
		Window   int64  `json:"window"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid payload"})
		return
	}

	p := config.Policy{Path: path, Strategy: payload.Strategy, Limit: payload.Limit, Window: payload.Window}
	if err := config.ValidatePolicy(p); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}

	a.policies.Set(p)
	log.Info().
		Str("path", p.Path).
		Str("strategy", p.Strategy).
		Int64("limit", p.Limit).
		Int64("window_seconds", p.Window).
		Msg("rate limit policy updated")
	writeJSON(w, http.StatusOK, p)
}

// stats reports the last hour of admission decisions.
func (a *AdminHandler) stats(w http.ResponseWriter, r *http.Request) {
	if a.sink == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "analytics disabled"})
		return
	}
	stats, err := a.sink.StatsSince(r.Context(), time.Now().Add(-time.Hour))
	if err != nil {
		log.Error().Err(err).Msg("failed to query decision stats")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "stats unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"last_hour": stats})
}

func (a *AdminHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	storeStatus := "ok"
	if err := a.store.Ping(ctx); err != nil {
		storeStatus = "error: " + err.Error()
	}

	m := a.limiter.BreakerMetrics()
	breaker := map[string]interface{}{
		"state":         string(m.State),
		"failure_count": m.FailureCount,
	}
	if !m.LastFailureTime.IsZero() {
		breaker["last_failure"] = m.LastFailureTime.UTC().Format(time.RFC3339)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"breaker":        breaker,
		"store":          storeStatus,
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
	})
}
