package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ringlinehq/ringline/app/controllers"
	"github.com/ringlinehq/ringline/internal/pkg/env"
)

// InstallRouter mounts the webhook ingestion endpoint and the operator
// surface onto the fiber app.
func InstallRouter(app *fiber.App, webhooks *controllers.WebhookController, admin *controllers.EventAdminController) {
	// Provider webhooks (no CSRF, signature-verified in controller)
	app.Post("/webhooks/:provider", webhooks.HandleProviderWebhook)

	ops := app.Group("/admin", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}))
	ops.Get("/events", admin.HandleListEvents)
	ops.Post("/events/:id/reprocess", admin.HandleReprocessEvent)
	ops.Get("/circuits", admin.HandleCircuitStates)
}
