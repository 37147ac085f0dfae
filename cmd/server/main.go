// SprintBot - conversational task management assistant
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/dcervantes/sprintbot/internal/api"
	"github.com/dcervantes/sprintbot/internal/bot"
	"github.com/dcervantes/sprintbot/internal/chatws"
	"github.com/dcervantes/sprintbot/internal/config"
	"github.com/dcervantes/sprintbot/internal/llm"
	"github.com/dcervantes/sprintbot/internal/middleware"
	"github.com/dcervantes/sprintbot/internal/store"
	"github.com/dcervantes/sprintbot/internal/telegram"
)

// replyRouter dispatches engine replies to the transport that owns the
// conversation: WebSocket ids carry a prefix, everything else is a Telegram
// chat id.
type replyRouter struct {
	hub      *chatws.Hub
	telegram *telegram.Client
	logger   *slog.Logger
}

func (r *replyRouter) Send(ctx context.Context, conversationID, text string) {
	if strings.HasPrefix(conversationID, chatws.ConversationPrefix) {
		r.hub.Send(ctx, conversationID, text)
		return
	}
	if r.telegram == nil {
		r.logger.Warn("Reply dropped, Telegram not configured", "conversation_id", conversationID)
		return
	}
	r.telegram.Send(ctx, conversationID, text)
}

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

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "ai_enabled", cfg.AIEnabled())

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

	if cfg.SeedDemoData {
		if err := repo.SeedDemoData(context.Background()); err != nil {
			slog.Error("Failed to seed demo data", "error", err)
			os.Exit(1)
		}
	}

	// Language-model gateway (optional).
	var gateway llm.Gateway
	if cfg.AIEnabled() {
		gateway = llm.NewClient(llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Timeout:     cfg.LLM.Timeout,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		}, logger)
		slog.Info("Language model gateway initialized", "model", cfg.LLM.Model)
	} else {
		slog.Info("AI features disabled (LLM_API_KEY not set)")
	}

	// Reply transports.
	hub := chatws.NewHub(logger)
	var tgClient *telegram.Client
	if cfg.Telegram.Token != "" {
		tgClient = telegram.NewClient(cfg.Telegram.Token, logger)
	} else {
		slog.Info("Telegram transport disabled (TELEGRAM_BOT_TOKEN not set)")
	}
	sender := &replyRouter{hub: hub, telegram: tgClient, logger: logger}

	// Conversational engine.
	engine := bot.NewEngine(repo, gateway, sender, logger)

	// Handlers.
	statusHandler := api.NewHandler(repo, engine.Sessions(), cfg.AIEnabled())
	wsHandler := chatws.NewHandler(engine, hub, cfg.FrontendURL, cfg.IsDevelopment(), logger)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))

	statusHandler.RegisterRoutes(r)

	if tgClient != nil {
		webhook := telegram.NewWebhook(engine, cfg.Telegram.WebhookSecret, logger)
		r.Post("/telegram/webhook", webhook.ServeHTTP)
	}

	// WebSocket chat endpoint.
	r.Get("/ws/chat", wsHandler.ServeHTTP)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // long-lived WebSocket connections
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

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
