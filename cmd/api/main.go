package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/oddsline/platform/internal/auth"
	"github.com/oddsline/platform/internal/guard"
	"github.com/oddsline/platform/internal/handler"
	"github.com/oddsline/platform/internal/infra"
	"github.com/oddsline/platform/internal/provider"
	"github.com/oddsline/platform/internal/realtime"
	"github.com/oddsline/platform/internal/repository"
	"github.com/oddsline/platform/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load config
	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	// Connect to Postgres
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	logger.Info("connected to postgres")

	if err := infra.RunMigrations(cfg.DSN(), cfg.MigrationsDir, logger); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// Parse duration-valued config
	clientExpiry, err := time.ParseDuration(cfg.JWTClientExpiry)
	if err != nil {
		return fmt.Errorf("parse client JWT expiry: %w", err)
	}
	adminExpiry, err := time.ParseDuration(cfg.JWTAdminExpiry)
	if err != nil {
		return fmt.Errorf("parse admin JWT expiry: %w", err)
	}
	feedTimeout, err := time.ParseDuration(cfg.FeedTimeout)
	if err != nil {
		return fmt.Errorf("parse feed timeout: %w", err)
	}
	feedReset, err := time.ParseDuration(cfg.FeedResetTimeout)
	if err != nil {
		return fmt.Errorf("parse feed reset timeout: %w", err)
	}
	syncInterval, err := time.ParseDuration(cfg.SyncInterval)
	if err != nil {
		return fmt.Errorf("parse sync interval: %w", err)
	}
	staleAfter, err := time.ParseDuration(cfg.StaleAfter)
	if err != nil {
		return fmt.Errorf("parse stale-after window: %w", err)
	}

	// Initialize dependencies
	jwtMgr := auth.NewJWTManager(cfg.JWTSecret, clientExpiry, adminExpiry)

	fixtureRepo := repository.NewFixtureRepository()

	feed := provider.NewFeedClient(cfg.FeedBaseURL, cfg.FeedAPIKey, feedTimeout, logger)
	breaker := guard.NewFeedBreaker(cfg.FeedFailThreshold, feedReset)
	producer := infra.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEnabled, logger)
	defer producer.Close()

	// Services
	syncSvc := service.NewSyncService(pool, fixtureRepo, feed, logger,
		service.WithBreaker(breaker),
		service.WithKafkaMirror(producer),
		service.WithStaleAfter(staleAfter),
	)

	hub := realtime.NewHub(jwtMgr, syncSvc, logger)
	syncSvc.SetBroadcaster(hub)

	scheduler := service.NewScheduler(syncSvc, syncInterval, logger)
	if cfg.SyncAutostart {
		scheduler.Start()
	}

	// Handlers
	syncHandler := handler.NewSyncHandler(scheduler, logger)
	cronHandler := handler.NewCronHandler(scheduler, logger)
	matchHandler := handler.NewMatchHandler(syncSvc, logger)

	// Router
	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORS)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(pool))

	r.Route("/api", func(r chi.Router) {
		r.Get("/matches", matchHandler.HandleList)
		r.Get("/matches/inplay", matchHandler.HandleInplay)
		r.Get("/matches/{id}", matchHandler.HandleGet)
		r.Get("/cron/control", cronHandler.HandleStatus)

		// Realtime handshake carries its own bearer credential.
		r.Get("/ws", hub.HandleWS)

		// Mutating operations require an admin token.
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthenticateAdmin(jwtMgr))
			r.Post("/matches/sync", syncHandler.HandleSync)
			r.Post("/cron/control", cronHandler.HandleControl)
		})
	})

	// Start server
	addr := fmt.Sprintf(":%d", cfg.APIPort)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	// Scheduler first so no new passes start, then the realtime fan-out.
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hub.Shutdown(shutdownCtx)

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	logger.Info("server stopped gracefully")
	return nil
}
