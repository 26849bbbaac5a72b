package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ratelimit-gateway/internal/analytics"
	"ratelimit-gateway/internal/config"
	"ratelimit-gateway/internal/handler"
	"ratelimit-gateway/internal/metrics"
	"ratelimit-gateway/internal/middleware"
	"ratelimit-gateway/internal/repository"
	"ratelimit-gateway/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	if os.Getenv("LOG_PRETTY") == "true" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	configFile := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// storage
	var store repository.Store
	if cfg.RedisAddr != "" {
		store, err = repository.NewRedisStore(cfg.RedisAddr, cfg.RedisTimeout())
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("failed to connect redis")
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("using redis store")
	} else {
		store = repository.NewMemoryStore()
		log.Warn().Msg("no redis configured, using in-memory store (single instance only)")
	}
	defer store.Close()

	// limiter core
	breaker := service.NewCircuitBreaker(cfg.Breaker.FailureThreshold, cfg.Breaker.TimeoutDuration())
	limiter := service.NewLimiter(store, breaker, service.FailMode(cfg.FailMode))

	// decision analytics
	var sink analytics.Sink
	var writer *analytics.Writer
	var retention *analytics.Retention
	if cfg.Analytics.Path != "" {
		s, err := analytics.NewSQLiteSink(cfg.Analytics.Path)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.Analytics.Path).Msg("failed to open analytics sink")
		}
		sink = s
		writer = analytics.NewWriter(sink, cfg.Analytics.Buffer)
		if cfg.Analytics.RetentionDays > 0 {
			retention, err = analytics.StartRetention(sink, cfg.Analytics.PruneSchedule, cfg.Analytics.MaxAge())
			if err != nil {
				log.Fatal().Err(err).Msg("failed to start analytics retention")
			}
		}
	}

	// policies, hot reloaded when the config file changes
	policies := config.NewPolicyStore(cfg.Default, cfg.Policies)
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	if configFile != "" {
		go func() {
			if err := config.WatchPolicies(watchCtx, configFile, policies); err != nil {
				log.Error().Err(err).Msg("policy watcher stopped")
			}
		}()
	}

	metricsRegistry := metrics.NewRegistry()

	proxy, err := handler.NewProxyHandler(cfg.DownstreamURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid downstream url")
	}
	health := handler.NewHealthHandler(store)
	admin := handler.NewAdminHandler(policies, limiter, store, sink)
	rateLimit := middleware.NewRateLimiter(limiter, metricsRegistry, policies, writer, cfg.CheckTimeout())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(middleware.RequestSizeLimit(cfg.MaxRequestBytes))
	r.Use(middleware.ClientIdentity)

	r.Get("/healthz", health.Liveness)
	r.Get("/readyz", health.Readiness)
	r.Handle("/metrics", metricsRegistry.Handler())

	if cfg.JWTSecret != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.JWTAuth([]byte(cfg.JWTSecret), cfg.JWTIssuer))
			r.Use(middleware.RequireRole("admin"))
			r.Mount("/", admin.Routes())
		})
		log.Info().Msg("admin plane protected by JWT")
	} else {
		r.Mount("/admin", admin.Routes())
		log.Warn().Msg("JWT_SECRET not set, admin plane is unauthenticated")
	}

	// everything else is rate limited and proxied downstream
	r.Group(func(r chi.Router) {
		r.Use(rateLimit.Handler())
		r.Handle("/*", proxy)
	})

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		log.Info().
			Str("addr", cfg.ListenAddr).
			Str("fail_mode", cfg.FailMode).
			Str("downstream", cfg.DownstreamURL).
			Msg("gateway listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	stopWatch()
	if retention != nil {
		retention.Stop()
	}
	if writer != nil {
		writer.Close()
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close analytics sink")
		}
	}
	log.Info().Msg("server exited")
}
