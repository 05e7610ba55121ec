package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/parokia/presence/internal/api"
	"github.com/parokia/presence/internal/broadcast"
	"github.com/parokia/presence/internal/config"
	"github.com/parokia/presence/internal/gate"
	"github.com/parokia/presence/internal/handlers"
	"github.com/parokia/presence/internal/monitor"
	"github.com/parokia/presence/internal/presence"
	"github.com/parokia/presence/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Pick the store: Postgres when configured, SQLite otherwise
	var (
		db  store.DataStore
		err error
	)
	if cfg.DatabaseURL != "" {
		logger.Info().Msg("running database migrations...")
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			logger.Fatal().Err(err).Msg("migration failed")
		}
		logger.Info().Msg("migrations completed")

		db, err = store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		db, err = store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
	}
	defer db.Close()

	// Initialize Redis (optional: broadcast cache + rate limiting)
	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Wire services
	registry := presence.NewRegistry(db, logger, presence.WithTimeout(cfg.SessionTimeout))

	broadcastOpts := []broadcast.Option{}
	if redisStore != nil {
		broadcastOpts = append(broadcastOpts, broadcast.WithCache(redisStore))
	}
	broadcaster := broadcast.NewService(db, logger, broadcastOpts...)

	mon := monitor.NewMonitor(registry)
	g := gate.New(cfg.ServiceEnabled)

	// Background reclamation sweep
	if cfg.SweepInterval > 0 {
		sweeper := presence.NewSweeper(registry, cfg.SweepInterval, logger)
		go sweeper.Run(ctx)
	} else {
		logger.Warn().Msg("background sweep disabled; stale sessions reclaim only on dashboard reads")
	}

	// Create router
	h := handlers.NewHandler(registry, broadcaster, mon, g, db, redisStore)
	router := api.NewRouter(logger, h, g, redisStore, cfg.RateLimitWhitelist)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Dur("session_timeout", cfg.SessionTimeout).
			Msg("starting presence server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")
	stop() // stops the sweeper

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
