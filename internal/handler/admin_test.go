package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"ratelimit-gateway/internal/analytics"
	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/internal/repository"
	"ratelimit-gateway/internal/service"
)

// stubSink serves canned stats.
type stubSink struct {
	stats analytics.Stats
	since time.Time
}

func (s *stubSink) Store(ctx context.Context, rec analytics.Record) error { return nil }

func (s *stubSink) StatsSince(ctx context.Context, since time.Time) (analytics.Stats, error) {
	s.since = since
	return s.stats, nil
}

func (s *stubSink) Prune(ctx context.Context, olderThan time.Time) (int64, error) { return 0, nil }
func (s *stubSink) Close() error                                                  { return nil }

func newTestAdmin(sink analytics.Sink) (*AdminHandler, *config.PolicyStore) {
	def := config.Policy{Strategy: "token_bucket", Limit: 100, Window: 60}
	policies := config.NewPolicyStore(def, []config.Policy{
		{Path: "/api/search", Strategy: "sliding_window", Limit: 10, Window: 60},
	})
	store := repository.NewMemoryStore()
	limiter := service.NewLimiter(store, service.NewCircuitBreaker(5, time.Minute), service.FailOpen)
	return NewAdminHandler(policies, limiter, store, sink), policies
}

func TestAdmin_ListPolicies(t *testing.T) {
	admin, _ := newTestAdmin(nil)
	srv := httptest.NewServer(admin.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/policies")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Default  config.Policy   `json:"default"`
		Policies []config.Policy `json:"policies"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Default.Limit != 100 {
		t.Errorf("expected default limit 100, got %d", body.Default.Limit)
	}
	if len(body.Policies) != 1 || body.Policies[0].Path != "/api/search" {
		t.Errorf("unexpected policies: %+v", body.Policies)
	}
}

func TestAdmin_UpdatePolicy(t *testing.T) {
	admin, policies := newTestAdmin(nil)
	srv := httptest.NewServer(admin.Routes())
	defer srv.Close()

	payload := `{"strategy":"token_bucket","limit":25,"window":30}`
	req, _ := http.NewRequest(http.MethodPut, srv.URL+"/policies/api/search", strings.NewReader(payload))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	got := policies.Lookup("/api/search")
	if got.Limit != 25 || got.Strategy != "token_bucket" {
		t.Errorf("expected updated policy, got %+v", got)
	}
}

func TestAdmin_UpdatePolicy_Invalid(t *testing.T) {
	admin, policies := newTestAdmin(nil)
	srv := httptest.NewServer(admin.Routes())
	defer srv.Close()

	cases := []struct {
		name    string
		payload string
	}{
		{"bad strategy", `{"strategy":"leaky_bucket","limit":25,"window":30}`},
		{"zero limit", `{"strategy":"token_bucket","limit":0,"window":30}`},
		{"malformed json", `{"strategy":`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPut, srv.URL+"/policies/api/search", strings.NewReader(tc.payload))
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}

	if got := policies.Lookup("/api/search"); got.Limit != 10 {
		t.Errorf("policy should be unchanged, got %+v", got)
	}
}

func TestAdmin_Stats(t *testing.T) {
	sink := &stubSink{stats: analytics.Stats{Total: 40, Allowed: 30, Blocked: 10, BlockRate: 0.25}}
	admin, _ := newTestAdmin(sink)
	srv := httptest.NewServer(admin.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		LastHour analytics.Stats `json:"last_hour"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.LastHour.Total != 40 || body.LastHour.Blocked != 10 {
		t.Errorf("unexpected stats: %+v", body.LastHour)
	}
	if since := time.Since(sink.since); since < 59*time.Minute || since > 61*time.Minute {
		t.Errorf("expected stats window of one hour, got %v", since)
	}
}

func TestAdmin_Stats_Disabled(t *testing.T) {
	admin, _ := newTestAdmin(nil)
	srv := httptest.NewServer(admin.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 with analytics disabled, got %d", resp.StatusCode)
	}
}

func TestAdmin_Status(t *testing.T) {
	admin, _ := newTestAdmin(nil)
	srv := httptest.NewServer(admin.Routes())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var body struct {
		Breaker struct {
			State        string `json:"state"`
			FailureCount int    `json:"failure_count"`
		} `json:"breaker"`
		Store  string `json:"store"`
		Uptime int64  `json:"uptime_seconds"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Breaker.State != "closed" {
		t.Errorf("expected closed breaker, got %q", body.Breaker.State)
	}
	if body.Store != "ok" {
		t.Errorf("expected store ok, got %q", body.Store)
	}
}
