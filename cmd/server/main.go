package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/arturoeanton/support-chat-rag/internal/bootstrap"
	"github.com/arturoeanton/support-chat-rag/internal/handler"
	"github.com/arturoeanton/support-chat-rag/internal/mcp"
	"github.com/arturoeanton/support-chat-rag/internal/middleware"
	"github.com/arturoeanton/support-chat-rag/internal/prompt"
	"github.com/arturoeanton/support-chat-rag/internal/service"
	"github.com/arturoeanton/support-chat-rag/pkg/config"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"
)

const version = "1.0.0"

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("🚀 Starting Support Chat",
		"port", cfg.Port,
		"ai_provider", cfg.AIProvider,
		"chat_model", cfg.ChatModel(),
		"kv", cfg.KVBackend,
		"index", cfg.IndexBackend,
		"namespace", cfg.Namespace,
		"mcp_enabled", cfg.MCPEnabled,
	)

	// ── Storage ──────────────────────────────────────────────────────────
	stores, err := bootstrap.OpenStores(context.Background(), cfg)
	if err != nil {
		slog.Error("failed to open stores", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	// ── Adapters ─────────────────────────────────────────────────────────
	provider, err := bootstrap.NewProvider(cfg)
	if err != nil {
		slog.Error("failed to create AI provider", "error", err)
		os.Exit(1)
	}

	pb, err := prompt.Load(cfg.PromptFile)
	if err != nil {
		slog.Error("failed to load prompt", "error", err)
		os.Exit(1)
	}

	// ── Services ─────────────────────────────────────────────────────────
	assembler := service.NewContextAssembler(provider, stores.Index, service.AssemblerConfig{
		TopK:            cfg.ContextTopK,
		MaxChars:        cfg.ContextMaxChars,
		MinScore:        &cfg.ContextMinScore,
		EnforceMinScore: cfg.ContextEnforceMinScore,
	})
	chatStore := service.NewChatStore(stores.KV)
	temperature := float32(cfg.Temperature)
	chatService := service.NewChatService(assembler, provider, chatStore, pb, service.ChatConfig{
		Namespace:   cfg.Namespace,
		Model:       cfg.ChatModel(),
		Temperature: &temperature,
	})
	ingestService := service.NewIngestService(provider, stores.Index, service.IngestConfig{})

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:     cfg.AppName,
		ReadTimeout: 30 * time.Second,
		// no WriteTimeout: completions stream for up to COMPLETION_TIMEOUT
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  []string{cfg.FrontendURL},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		ExposeHeaders: []string{"X-Chat-Id"},
	}))

	// Audit middleware (logs all requests except health checks)
	app.Use(middleware.AuditMiddleware(stores.Audit, "/api/v1/health"))

	// Health check
	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"app":     cfg.AppName,
			"version": version,
		})
	})

	jwtConfig := middleware.JWTConfig{
		Secret:    cfg.JWTSecret,
		Issuer:    cfg.JWTIssuer,
		ExpiresIn: time.Duration(cfg.JWTExpiration) * time.Hour,
	}
	// The chat endpoint answers 401 itself, so identity is resolved without rejecting.
	optionalJWT := jwtConfig
	optionalJWT.Optional = true

	chatHandler := handler.NewChatHandler(chatService, stores.Audit, cfg.CompletionTimeout)
	chatJWT := middleware.JWTMiddleware(optionalJWT)
	app.Post("/api/chat", chatJWT, chatHandler.Chat)
	app.Post("/api/v1/chat", chatJWT, chatHandler.Chat)

	// ── Protected Routes ─────────────────────────────────────────────────
	api := app.Group("/api/v1", middleware.JWTMiddleware(jwtConfig))

	jobTracker := handler.NewJobTracker()

	loaders := make(map[string]handler.ArticleLoader)
	for name, load := range bootstrap.Loaders(cfg) {
		loaders[name] = handler.ArticleLoader(load)
	}

	handler.NewHistoryHandler(chatStore).Register(api)
	handler.NewContextHandler(assembler, cfg.Namespace, stores.Audit).Register(api)
	handler.NewIngestHandler(ingestService, loaders, jobTracker, cfg.Namespace, stores.Audit).Register(api)
	handler.NewJobsHandler(jobTracker).Register(api)
	handler.NewAuditHandler(stores.Audit).Register(api)

	// ── MCP Server (separate port) ───────────────────────────────────────
	var mcpServer *mcp.Server
	if cfg.MCPEnabled {
		mcpServer = mcp.NewServer(assembler, cfg.Namespace, stores.Audit, cfg.MCPPort)
		go func() {
			if err := mcpServer.Start(); err != nil {
				slog.Error("MCP server failed", "error", err)
			}
		}()
	}

	// ── Start ────────────────────────────────────────────────────────────
	go func() {
		slog.Info("🌐 Fiber listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CompletionTimeout)
	defer cancel()
	if mcpServer != nil {
		if err := mcpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("MCP shutdown", "error", err)
		}
	}
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
}
