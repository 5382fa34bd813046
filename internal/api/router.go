// Package api provides the HTTP API for Skyboard.
package api

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/skyboard/skyboard/internal/api/handler"
	"github.com/skyboard/skyboard/internal/api/middleware"
	"github.com/skyboard/skyboard/internal/preferences"
	"github.com/skyboard/skyboard/internal/provider/resilience"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/state"
	"github.com/skyboard/skyboard/internal/worker"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	RequireTLS  bool

	Store       *state.Store
	Preferences *preferences.Service
	Refresh     *worker.Orchestrator
	Limiter     *ratelimit.Limiter
	Providers   *resilience.Registry
	Location    *time.Location
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "skyboard-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)            // Generate/propagate request ID first
	r.Use(middleware.Tracing(serviceName)) // Distributed tracing
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a load balancer
	r.Use(middleware.ContentTypeJSON)            // JSON content type
	r.Use(middleware.RequireJSON)                // Reject non-JSON request bodies

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Providers: cfg.Providers,
		Refresh:   cfg.Refresh,
		Limiter:   cfg.Limiter,
	})
	weatherHandler := handler.NewWeatherHandler(handler.WeatherConfig{
		Store:       cfg.Store,
		Preferences: cfg.Preferences,
		Refresh:     cfg.Refresh,
		Limiter:     cfg.Limiter,
		Location:    cfg.Location,
	})
	preferencesHandler := handler.NewPreferencesHandler(cfg.Preferences)

	commandRateLimit := middleware.RateLimitByIP(middleware.CommandRateLimit)   // 20 req/min
	searchRateLimit := middleware.RateLimitByIP(middleware.SearchRateLimit)     // 60 req/min
	standardRateLimit := middleware.RateLimitByIP(middleware.StandardRateLimit) // 100 req/min

	r.Route("/v1", func(r chi.Router) {
		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Get("/status", opsHandler.SystemStatus)
		})

		// Reads served from the state store
		r.Group(func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/dashboard", weatherHandler.Dashboard)
			r.Get("/weather/{cityId}", weatherHandler.GetWeather)
			r.Delete("/search", weatherHandler.ClearSearch)
			r.Delete("/error", weatherHandler.ClearError)
		})

		r.With(searchRateLimit).Get("/search", weatherHandler.Search)

		// Endpoints that may trigger provider fetches
		r.Group(func(r chi.Router) {
			r.Use(commandRateLimit)
			r.Get("/forecasts/{cityId}", weatherHandler.GetForecast)
			r.Post("/selection", weatherHandler.Select)
			r.Post("/refresh", weatherHandler.Refresh)
		})

		r.Route("/preferences", func(r chi.Router) {
			r.Use(standardRateLimit)
			r.Get("/", preferencesHandler.GetPreferences)
			r.Post("/favorites", preferencesHandler.AddFavorite)
			r.Delete("/favorites/{cityId}", preferencesHandler.RemoveFavorite)
			r.Post("/unit:toggle", preferencesHandler.ToggleUnit)
		})
	})

	return r
}
