// Agentic Coder - staged AI coding assistant server
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

	"github.com/Amoako419/Agentic-coder/internal/api"
	"github.com/Amoako419/Agentic-coder/internal/assistant"
	"github.com/Amoako419/Agentic-coder/internal/chatws"
	"github.com/Amoako419/Agentic-coder/internal/config"
	"github.com/Amoako419/Agentic-coder/internal/identity"
	"github.com/Amoako419/Agentic-coder/internal/llm"
	"github.com/Amoako419/Agentic-coder/internal/middleware"
	"github.com/Amoako419/Agentic-coder/internal/sandbox"
	"github.com/Amoako419/Agentic-coder/internal/store"
	"github.com/Amoako419/Agentic-coder/web"
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

	// Initialize the assistant pipeline (optional: the rest of the server
	// works without a model key, chat endpoints just stay unregistered).
	var assistantHandler *assistant.Handler
	var assistantService *assistant.Service
	var conversationLogger assistant.ConversationLogger
	aiEnabled := cfg.AIEnabled()
	//nolint:nestif // Startup wiring is intentionally sequential to keep dependency setup explicit.
	if aiEnabled {
		gen, err := llm.NewGemini(context.Background(), llm.GeminiConfig{
			APIKey:          cfg.Gemini.APIKey,
			Model:           cfg.Gemini.Model,
			Temperature:     cfg.Gemini.Temperature,
			MaxOutputTokens: cfg.Gemini.MaxOutputTokens,
			MaxRetries:      cfg.Gemini.MaxRetries,
		})
		if err != nil {
			slog.Error("Failed to initialize model backend", "error", err)
			os.Exit(1)
		}
		slog.Info("Model backend initialized", "model", cfg.Gemini.Model)

		conversationLogger, err = assistant.NewConversationLogger(assistant.ConversationLogConfig{
			Enabled:       cfg.ConversationLog.Enabled,
			Dir:           cfg.ConversationLog.Dir,
			GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
			GlobalPath:    cfg.ConversationLog.GlobalPath,
			QueueSize:     cfg.ConversationLog.QueueSize,
		}, logger)
		if err != nil {
			slog.Error("Failed to initialize conversation logger", "error", err)
			os.Exit(1)
		}

		pipeline := assistant.NewPipeline(gen, repo, cfg.Gemini.Model)
		assistantService, err = assistant.NewService(pipeline)
		if err != nil {
			slog.Error("Failed to initialize assistant service", "error", err)
			os.Exit(1)
		}

		assistantHandler = assistant.NewHandler(assistantService, repo, conversationLogger, cfg)
		defer assistantHandler.Close()
	} else {
		slog.Info("AI features disabled (GEMINI_API_KEY not set)")
	}

	// Initialize the optional snippet sandbox. Chat works without it.
	var runner *sandbox.DockerRunner
	if cfg.Sandbox.Enabled {
		runner, err = sandbox.NewDockerRunner(cfg.Sandbox)
		if err != nil {
			slog.Warn("Failed to initialize sandbox, snippet execution disabled", "error", err)
			runner = nil
		} else if err := runner.Ping(context.Background()); err != nil {
			slog.Warn("Docker daemon unreachable, snippet execution disabled", "error", err)
			_ = runner.Close()
			runner = nil
		} else {
			defer func() {
				if closeErr := runner.Close(); closeErr != nil {
					slog.Error("Failed to close sandbox runner", "error", closeErr)
				}
			}()
			slog.Info("Snippet sandbox initialized", "image", cfg.Sandbox.Image)
		}
	}

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, cfg, aiEnabled)

	var sandboxPinger api.Pinger
	if runner != nil {
		sandboxPinger = runner
	}
	healthHandler := api.NewHealthHandler(repo, sandboxPinger, aiEnabled)

	var sandboxHandler *api.SandboxHandler
	if runner != nil {
		sandboxHandler = api.NewSandboxHandler(runner)
	}

	registry := chatws.NewRegistry()
	var wsHandler *chatws.Handler
	if assistantService != nil {
		// Share the SSE endpoint's limiter so switching transports does not
		// grant a fresh quota.
		wsHandler = chatws.NewHandler(assistantService, repo, registry, conversationLogger, assistantHandler.GetRateLimiter(), cfg.FrontendURL, cfg.IsDevelopment())
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS([]string{"*"}))
	r.Use(identity.Middleware(repo, cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)

	// All routes use identity middleware (no auth needed).
	baseHandler.RegisterRoutes(r)

	// Chat routes (only if AI is enabled).
	if assistantHandler != nil {
		assistantHandler.RegisterRoutes(r)
	}
	if wsHandler != nil {
		r.Get("/ws/chat", wsHandler.ServeHTTP)
	}

	if sandboxHandler != nil {
		sandboxHandler.RegisterRoutes(r)
	}

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Note: SSE responses require long timeouts (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sandbox.StartJanitor(ctx, repo, runner, cfg.SessionTTL)

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

	registry.CloseAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}
