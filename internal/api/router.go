// Package api wires the HTTP surface together.
package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/parokia/presence/internal/api/middleware"
	"github.com/parokia/presence/internal/gate"
	"github.com/parokia/presence/internal/handlers"
	"github.com/parokia/presence/internal/store"
)

// NewRouter creates and configures the HTTP router. redisStore may be
// nil, in which case rate limiting is disabled.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, g *gate.Gate, redisStore *store.RedisStore, rateLimitWhitelist []string) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(8 * 1024)) // 8KB max body
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// Rate limiting (requires Redis)
	if redisStore != nil {
		limiter := middleware.NewRateLimiter(redisStore.Client(), logger, rateLimitWhitelist)
		r.Use(limiter.Middleware)
	}

	// CORS - desktop clients call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Client routes, behind the service gate
	r.Group(func(r chi.Router) {
		r.Use(g.Middleware)

		r.Post("/client/register", h.Register)
		r.Post("/client/heartbeat", h.Heartbeat)
		r.Post("/client/disconnect", h.Disconnect)
		r.Get("/client/messages", h.PollMessages)
		r.Post("/client/send-message", h.SendMessage)

		r.Post("/pesan", h.SendMessage)
		r.Get("/pesan", h.ListMessages)
		r.Put("/pesan/{id}/status", h.UpdateMessageStatus)
	})

	// Admin routes stay reachable while the gate is closed, so the
	// operator can turn the service back on.
	r.Get("/admin/active-sessions", h.ActiveSessions)
	r.Get("/admin/client-activity-history", h.ActivityHistory)
	r.Get("/admin/service", h.GetServiceState)
	r.Put("/admin/service", h.SetServiceState)

	return r
}
