package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/transactai/internal/adapter/http/handler"
	"github.com/iho/transactai/internal/adapter/http/middleware"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	SubmitHandler  *handler.SubmitHandler
	MailboxHandler *handler.MailboxHandler
	HealthHandler  *handler.HealthHandler
	LedgerHandler  *handler.LedgerHandler
	// ChainHandler is set only when the chain is simulated.
	ChainHandler *handler.ChainHandler

	// TokenVerifier enables bearer authentication when non-nil.
	TokenVerifier middleware.TokenVerifier
	// Operators may read the /ledger views when authentication is on.
	Operators   []string
	RateLimiter *middleware.RateLimiter
	// MetricsHandler defaults to the default prometheus registry.
	MetricsHandler http.Handler
	Logger         zerolog.Logger
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewLoggingMiddleware(cfg.Logger).Wrap)
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.Metrics)

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	// Agent endpoints
	r.Group(func(r chi.Router) {
		if cfg.TokenVerifier != nil {
			r.Use(middleware.AuthMiddleware(cfg.TokenVerifier))
		}
		if cfg.RateLimiter != nil {
			r.Use(cfg.RateLimiter.Limit)
		}

		r.Post("/submit", cfg.SubmitHandler.Submit)
		r.Get("/mailbox", cfg.MailboxHandler.Connect)

		if cfg.LedgerHandler != nil {
			r.Route("/ledger", func(r chi.Router) {
				if cfg.TokenVerifier != nil {
					r.Use(middleware.RequireAgent(cfg.Operators...))
				}
				r.Get("/consistency", cfg.LedgerHandler.Consistency)
				r.Get("/accounts", cfg.LedgerHandler.ListAccounts)
			})
		}
	})

	// Development chain controls
	if cfg.ChainHandler != nil {
		r.Route("/dev/chain", func(r chi.Router) {
			r.Post("/transfers", cfg.ChainHandler.AddTransfer)
			r.Post("/mine", cfg.ChainHandler.Mine)
		})
	}

	return r
}
