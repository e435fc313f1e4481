// marketpost - Marketplace posting orchestration server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/avoronov/marketpost/internal/api"
	"github.com/avoronov/marketpost/internal/browser"
	"github.com/avoronov/marketpost/internal/config"
	"github.com/avoronov/marketpost/internal/middleware"
	"github.com/avoronov/marketpost/internal/poster"
	"github.com/avoronov/marketpost/internal/secret"
	"github.com/avoronov/marketpost/internal/session"
	"github.com/avoronov/marketpost/internal/store"
	"github.com/avoronov/marketpost/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	sessions, err := session.NewStore(cfg.SessionsDir)
	if err != nil {
		slog.Error("Failed to initialize session store", "error", err)
		os.Exit(1)
	}

	cipher, err := secret.New(cfg.CredentialKey)
	if err != nil {
		slog.Error("Failed to initialize credential cipher", "error", err)
		os.Exit(1)
	}
	if cipher == nil {
		slog.Warn("CREDENTIAL_KEY not set, credentials stored in plaintext")
	}

	mgr, err := browser.NewManager(cfg)
	if err != nil {
		slog.Error("Failed to initialize browser manager", "error", err)
		os.Exit(1)
	}
	slog.Info("Browser manager initialized", "headless", cfg.Headless)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize services.
	loginFlow := browser.NewLoginFlow(mgr, sessions, cfg)
	submitter := browser.NewSubmitter(mgr, sessions, cfg)
	tracker := poster.NewTracker(repo)
	runner := poster.NewRunner(ctx)
	orch := poster.NewOrchestrator(repo, submitter, tracker, runner, cfg)

	if cfg.SchedulerEnabled {
		poster.StartScheduler(ctx, repo, orch, cfg.SchedulerInterval)
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg)
	healthHandler := api.NewHealthHandler(baseHandler)
	accountHandler := api.NewAccountHandler(baseHandler, cipher, sessions, loginFlow, runner)
	listingHandler := api.NewListingHandler(baseHandler)
	postingHandler := api.NewPostingHandler(baseHandler, orch, tracker)
	streamHandler := ws.NewJobStreamHandler(tracker, cfg.FrontendURL, cfg.IsDevelopment())

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	healthHandler.RegisterRoutes(r)
	accountHandler.RegisterRoutes(r)
	listingHandler.RegisterRoutes(r)
	postingHandler.RegisterRoutes(r)

	// WebSocket endpoint.
	r.Get("/ws/jobs/{jobID}", streamHandler.ServeHTTP)

	// Create server.
	// Note: websocket job streams stay open for the whole batch, so no
	// write timeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	// Let in-flight posting jobs finish bookkeeping before the store
	// closes underneath them.
	if err := runner.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Background jobs did not finish before deadline", "error", err)
	}

	slog.Info("Server stopped successfully")
}
