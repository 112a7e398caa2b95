// WhatsApp AI bot webhook server
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

	"github.com/joho/godotenv"
	"github.com/uhwio/whatsappaibot/internal/api"
	"github.com/uhwio/whatsappaibot/internal/config"
	"github.com/uhwio/whatsappaibot/internal/cooldown"
	"github.com/uhwio/whatsappaibot/internal/dedup"
	"github.com/uhwio/whatsappaibot/internal/dispatch"
	"github.com/uhwio/whatsappaibot/internal/gemini"
	"github.com/uhwio/whatsappaibot/internal/identity"
	"github.com/uhwio/whatsappaibot/internal/imagegen"
	"github.com/uhwio/whatsappaibot/internal/memory"
	"github.com/uhwio/whatsappaibot/internal/retention"
	"github.com/uhwio/whatsappaibot/internal/store"
	"github.com/uhwio/whatsappaibot/internal/upstream"
	"github.com/uhwio/whatsappaibot/internal/webhook"
	"github.com/uhwio/whatsappaibot/internal/whatsapp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "model", cfg.Gemini.Model)

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

	// Dedupe markers live in SQLite unless Redis is configured.
	var markers dedup.MarkerStore = repo
	var markerPinger api.Pinger
	if cfg.RedisURL != "" {
		rm, err := dedup.NewRedisMarkersFromURL(context.Background(), cfg.RedisURL)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer rm.Close()
		markers, markerPinger = rm, rm
		slog.Info("Dedupe markers stored in Redis")
	}

	genClient, err := gemini.NewClient(context.Background(), cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.ImageModel)
	if err != nil {
		slog.Error("Failed to initialize Gemini client", "error", err)
		os.Exit(1)
	}

	breaker := upstream.NewBreaker(upstream.BreakerConfig{
		BaseCooldown: cfg.Upstream.BaseCooldown,
		MaxCooldown:  cfg.Upstream.MaxCooldown,
		Factor:       cfg.Upstream.BackoffFactor,
	}, time.Now)
	upstreamClient := upstream.NewClient(genClient, breaker, upstream.Config{
		MaxRetries: cfg.Upstream.MaxRetries,
		BaseSleep:  cfg.Upstream.RetryBaseSleep,
		Timeout:    cfg.Upstream.Timeout,
	}, logger)

	summarizer := memory.NewSummarizer(repo, upstreamClient, genClient, breaker, memory.Config{
		TailWindow:  cfg.Memory.TailWindow,
		MinNewTurns: cfg.Memory.MinNewTurns,
		MaxChunk:    cfg.Memory.MaxChunk,
		MaxChars:    cfg.Memory.SummaryMaxChars,
		Cooldown:    cfg.Memory.SummaryCooldown,
	}, logger)

	wa := whatsapp.NewClient(cfg.WhatsApp.Token, cfg.WhatsApp.PhoneNumberID, cfg.WhatsApp.GraphAPIVersion)
	images := imagegen.NewService(genClient, upstreamClient, wa, logger)

	dispatcher := dispatch.New(dispatch.Deps{
		Dedup:      dedup.New(markers, cfg.DedupRetention, logger),
		Cooldown:   cooldown.New(repo, cfg.UserCooldown),
		Store:      repo,
		Chat:       upstreamClient,
		Summarizer: summarizer,
		Images:     images,
		Intent:     dispatch.NewKeywordClassifier(nil),
		Channel:    wa,
		Identity:   identity.NewHasher(cfg.UIDSalt),
	}, dispatch.Config{
		TailWindow:              cfg.Memory.TailWindow,
		RateLimitNoticeInterval: cfg.RateLimitNoticeInterval,
	}, logger)

	// Initialize handlers.
	webhookHandler := webhook.NewHandler(cfg.WhatsApp.VerifyToken, dispatcher, cfg.EventTimeout, logger)
	healthHandler := api.NewHandler(repo, markerPinger, breaker)

	// Setup router.
	r := newRouter(healthHandler, webhookHandler)

	// Processing an envelope can take several upstream round trips.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.EventTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Start retention sweeper.
	retention.NewSweeper(repo, cfg.SweepInterval, cfg.SessionIdleTTL, logger).Start(ctx)

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
