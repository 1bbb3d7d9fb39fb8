package routes

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Ananth-NQI/rel8-backend/internal/config"
	"github.com/Ananth-NQI/rel8-backend/internal/handlers"
	"github.com/Ananth-NQI/rel8-backend/internal/middleware"
	"github.com/Ananth-NQI/rel8-backend/internal/services"
)

const Version = "1.0.0"

// SetupRoutes configures all routes
func SetupRoutes(app *fiber.App, cfg *config.Config, messages *services.MessageService, logger *zap.Logger) {
	smsHandler := handlers.NewSMSHandler(messages, logger)
	healthHandler := handlers.NewHealthHandler(Version, messages)

	// Root endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "rel8 backend",
			"version": Version,
			"endpoints": fiber.Map{
				"health":  "/health",
				"webhook": "/sms",
				"api":     "/api",
			},
		})
	})

	app.Get("/health", healthHandler.Check)

	// ========== WEBHOOK ROUTES ==========
	if cfg.Twilio.ValidateWebhook {
		app.Post("/sms",
			middleware.ValidateTwilioSignature(cfg.Twilio.AuthToken, cfg.WebhookURL(), logger),
			smsHandler.HandleWebhook,
		)
	} else {
		logger.Warn("SMS webhook signature validation DISABLED")
		app.Post("/sms", smsHandler.HandleWebhook)
	}

	// ========== TEST ROUTES (Development Only) ==========
	if !cfg.IsProduction() {
		app.Post("/test/sms", smsHandler.HandleTestWebhook)
	}

	// ========== ADMIN ROUTES ==========
	if cfg.AdminToken == "" {
		logger.Info("ADMIN_TOKEN not set, admin API disabled")
		return
	}
	adminHandler := handlers.NewAdminHandler(messages, logger)
	api := app.Group("/api", middleware.RequireAdminToken(cfg.AdminToken))
	users := api.Group("/users")
	users.Put("/:phone/variables", adminHandler.SetVariables)
	users.Get("/:phone/sessions", adminHandler.GetSessions)
}
