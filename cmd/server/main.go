package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/agents"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/billing"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/database"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/ledger"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/logging"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/middleware"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/orchestrator"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/render"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/routes"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/scrape"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/validate"
	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
)

func main() {
	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()

	if cfg.JWTSecret == "" && cfg.JWTJWKSURL == "" {
		slog.Error("JWT_SECRET or JWT_JWKS_URL environment variable is required")
		os.Exit(1)
	}
	if cfg.DBPassword == "" {
		slog.Error("DB_PASSWORD environment variable is required")
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// PostgreSQL log handler (ERROR+ async batch)
	pgLogHandler := logging.NewPGHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		pgLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cleanupDone)

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Core wiring
	accounts := identity.NewService(database.DB)
	quota := ledger.New(database.DB, cfg)
	agentClient := agents.NewClient(cfg)
	fetcher := scrape.NewFetcher(cfg)
	stripeClient := billing.NewStripeClient(cfg)
	reconciler := billing.NewReconciler(database.DB, quota, accounts, stripeClient, cfg)

	validators := []validate.Validator{
		validate.StructureChecker{},
		validate.KeywordCoverageChecker{},
		validate.ContentIntegrityChecker{Auditor: agentClient},
	}
	orch := orchestrator.New(
		database.DB,
		fetcher,
		agentClient,
		validate.NewPipeline(false, validators...),
		validate.NewPipeline(true, validators...),
		render.NewHTMLStore(database.DB),
		quota,
		cfg,
	)
	if err := orch.FailInterrupted(); err != nil {
		slog.Error("failed to settle interrupted runs", "error", err)
		os.Exit(1)
	}
	reporter := orchestrator.NewReporter(database.DB)

	// Handlers
	healthHandler := handlers.NewHealthHandler()
	accountHandler := handlers.NewAccountHandler()
	resumeHandler := handlers.NewResumeHandler(database.DB, agentClient)
	optimizeHandler := handlers.NewOptimizeHandler(database.DB, quota, orch, reporter)
	subscriptionHandler := handlers.NewSubscriptionHandler(quota, stripeClient)
	webhookHandler := handlers.NewWebhookHandler(reconciler)

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	// Sentry middleware
	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, accounts, healthHandler, accountHandler, resumeHandler, optimizeHandler, subscriptionHandler, webhookHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(cleanupDone)
	pgLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	// Close database connections
	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Only expose error details for client errors (4xx), not server errors (5xx)
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
