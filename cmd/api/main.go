// Package main provides the entrypoint for the Skyboard API server.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"code.cloudfoundry.org/clock"
	"github.com/rs/zerolog"

	"github.com/skyboard/skyboard/internal/api"
	"github.com/skyboard/skyboard/internal/api/middleware"
	"github.com/skyboard/skyboard/internal/config"
	"github.com/skyboard/skyboard/internal/database"
	"github.com/skyboard/skyboard/internal/preferences"
	"github.com/skyboard/skyboard/internal/provider/resilience"
	"github.com/skyboard/skyboard/internal/ratelimit"
	"github.com/skyboard/skyboard/internal/state"
	"github.com/skyboard/skyboard/internal/telemetry"
	"github.com/skyboard/skyboard/internal/weather/openweathermap"
	"github.com/skyboard/skyboard/internal/worker"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	const serviceName = "skyboard-api"

	// Setup structured logging
	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()

	cfg, err := config.Load(config.Options{})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	log = log.Level(cfg.LogLevel())

	log.Info().
		Str("build_time", BuildTime).
		Str("env", cfg.Server.Env).
		Msg("starting Skyboard API")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry
	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Server.Env,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if tp.Enabled() {
		log.Info().
			Str("otlp_endpoint", cfg.Telemetry.OTLPEndpoint).
			Float64("sample_ratio", cfg.Telemetry.SampleRatio).
			Msg("OpenTelemetry initialized")
	}

	// Initialize metrics
	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize HTTP metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	providerMetrics, err := telemetry.NewProviderMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize provider metrics")
		os.Exit(1)
	}

	clk := clock.NewClock()

	// Weather provider behind the resilient transport
	registry := resilience.NewRegistry(clk)
	httpCfg := resilience.DefaultClientConfig(openweathermap.ProviderName)
	httpCfg.Timeout = cfg.OpenWeather.Timeout
	httpCfg.Observer = resilience.Observers{registry, providerMetrics}
	httpCfg.Clock = clk
	httpClient := resilience.NewClient(httpCfg)
	registry.Register(httpClient)

	limiter := ratelimit.New(ratelimit.Config{
		Window: cfg.RateLimit.Window,
		Limits: map[ratelimit.Category]int{
			ratelimit.CategoryWeather:  cfg.RateLimit.Weather,
			ratelimit.CategoryForecast: cfg.RateLimit.Forecast,
			ratelimit.CategorySearch:   cfg.RateLimit.Search,
		},
		Clock: clk,
	})

	owm := openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:     cfg.OpenWeather.APIKey,
		BaseURL:    cfg.OpenWeather.BaseURL,
		GeoURL:     cfg.OpenWeather.GeoURL,
		HTTPClient: httpClient,
		CacheTTL:   cfg.OpenWeather.CacheTTL,
		Location:   time.Local,
		Clock:      clk,
		Limiter:    limiter,
		Metrics:    providerMetrics,
		Logger:     log.With().Str("component", "openweathermap").Logger(),
	})

	store := state.New(state.Config{
		Fetcher: owm,
		Clock:   clk,
		Logger:  log.With().Str("component", "state").Logger(),
	})

	// Preferences repository
	var repo preferences.Repository
	switch cfg.Preferences.Store {
	case config.StorePostgres:
		dbConfig := cfg.PostgresConfig()
		pool, err := database.Connect(ctx, dbConfig)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pool.Close()
		log.Info().
			Str("host", dbConfig.Host).
			Int("port", dbConfig.Port).
			Str("database", dbConfig.Database).
			Msg("database connected")

		pgRepo := preferences.NewPostgresRepository(pool)
		if err := pgRepo.EnsureSchema(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to create preferences schema")
		}
		repo = pgRepo
	default:
		repo = preferences.NewInMemoryRepository()
	}

	prefs := preferences.NewService(preferences.Config{
		Repository: repo,
		Logger:     log.With().Str("component", "preferences").Logger(),
	})
	prefs.Load(ctx)
	log.Info().
		Str("store", cfg.Preferences.Store).
		Int("favorites", len(prefs.Favorites())).
		Str("unit", string(prefs.TemperatureUnit())).
		Msg("preferences loaded")

	// Refresh orchestrator
	orchestrator := worker.NewOrchestrator(worker.OrchestratorConfig{
		Config: worker.Config{
			Interval:    cfg.Refresh.Interval,
			Concurrency: cfg.Refresh.Concurrency,
		},
		Store:   store,
		Limiter: limiter,
		Clock:   clk,
		Metrics: providerMetrics,
		Logger:  log.With().Str("component", "refresh").Logger(),
	})
	prefs.OnFavoritesChange(func(favorites []preferences.Favorite) {
		orchestrator.FavoritesChanged(preferences.CityRefs(favorites))
	})
	orchestrator.Start(ctx, preferences.CityRefs(prefs.Favorites()))

	// Optional remote command subscription
	if cfg.PubSubEnabled() {
		commands, err := worker.NewPubSubHandler(ctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Commander:        orchestrator,
			Logger:           log.With().Str("component", "commands").Logger(),
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create command subscriber")
		}
		defer func() { _ = commands.Close() }()

		go func() {
			if err := commands.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("command subscriber stopped")
			}
		}()
	}

	// Create router with configuration
	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     httpMetrics,
		RequireTLS:  cfg.Server.RequireTLS,
		Store:       store,
		Preferences: prefs,
		Refresh:     orchestrator,
		Limiter:     limiter,
		Providers:   registry,
		Location:    time.Local,
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	orchestrator.Stop()
	cancel()

	log.Info().Msg("server stopped")
}
