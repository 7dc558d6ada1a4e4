package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"changeguard/internal/middleware"
)

// RouterConfig holds the cross-cutting HTTP settings.
type RouterConfig struct {
	CORSAllowedOrigins []string
	RateLimit          middleware.RateLimitConfig
	// Validator enables bearer authentication on /v1. Nil leaves /v1 open.
	Validator middleware.TokenValidator
	Logger    *slog.Logger
}

// NewRouter assembles the middleware chain and routes. ctx bounds the
// background work of the rate limiter.
func NewRouter(ctx context.Context, h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(cfg.Logger.With("component", "http")))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", IdempotencyKeyHeader, middleware.RequestIDHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader, ReplayedHeader},
		MaxAge:         300,
	}))

	rl := cfg.RateLimit
	rl.ExemptPaths = append([]string{"/health", "/metrics"}, rl.ExemptPaths...)
	r.Use(middleware.RateLimiter(ctx, rl))

	// Public endpoints
	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Validator != nil {
			r.Use(middleware.Authenticate(cfg.Validator))
		}
		h.Mount(r)
	})

	return r
}
