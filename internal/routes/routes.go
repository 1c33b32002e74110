package routes

import (
	"time"

	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/config"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/handlers"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/identity"
	"github.com/ahmetcoskunkizilkaya/cvforge-backend/internal/middleware"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	accounts *identity.Service,
	healthHandler *handlers.HealthHandler,
	accountHandler *handlers.AccountHandler,
	resumeHandler *handlers.ResumeHandler,
	optimizeHandler *handlers.OptimizeHandler,
	subscriptionHandler *handlers.SubscriptionHandler,
	webhookHandler *handlers.WebhookHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP. Generous enough for the
	// recommended 2s run polling.
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)

	// Webhooks authenticate by signature, not JWT.
	api.Post("/webhooks/stripe", webhookHandler.HandleStripe)

	// Everything else requires a verified identity-provider token.
	protected := api.Group("", middleware.JWTProtected(cfg), middleware.AccountProvisioning(accounts, cfg))

	protected.Get("/users/me", accountHandler.Me)

	protected.Get("/resumes", resumeHandler.List)
	protected.Post("/resumes", resumeHandler.Upload)
	protected.Delete("/resumes/:id", resumeHandler.Delete)

	// Run starts are the expensive path; keep their own tighter bucket.
	protected.Post("/optimize", limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}), optimizeHandler.Start)
	protected.Get("/optimize", optimizeHandler.List)
	protected.Get("/optimize/:id", optimizeHandler.Get)
	protected.Get("/optimize/:id/artifact", optimizeHandler.Artifact)

	protected.Get("/subscription", subscriptionHandler.Status)
	protected.Post("/subscription/checkout/subscription", subscriptionHandler.CheckoutSubscription)
	protected.Post("/subscription/checkout/addon", subscriptionHandler.CheckoutAddon)
}
