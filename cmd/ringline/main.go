package main

import (
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ringlinehq/ringline/app/controllers"
	"github.com/ringlinehq/ringline/internal/pkg/apiclient"
	"github.com/ringlinehq/ringline/internal/pkg/cache"
	"github.com/ringlinehq/ringline/internal/pkg/circuitbreaker"
	"github.com/ringlinehq/ringline/internal/pkg/database"
	"github.com/ringlinehq/ringline/internal/pkg/env"
	"github.com/ringlinehq/ringline/internal/pkg/events"
	"github.com/ringlinehq/ringline/internal/pkg/jobqueue"
	"github.com/ringlinehq/ringline/internal/pkg/observability"
	"github.com/ringlinehq/ringline/internal/pkg/processors"
	"github.com/ringlinehq/ringline/internal/pkg/realtime"
	"github.com/ringlinehq/ringline/internal/pkg/router"
	"github.com/ringlinehq/ringline/internal/pkg/webhook"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	db := database.GetDB()
	sink := observability.NewLogSink()

	// One breaker registry for all providers; operation names key the state.
	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{})
	caller := apiclient.NewCaller(breakers)
	stripeClient := apiclient.NewStripeClientFromEnv(caller)
	twilioClient := apiclient.NewTwilioClientFromEnv(caller)
	vapiClient := apiclient.NewVapiClientFromEnv(caller)

	publisher := realtime.NewRedisPublisher()
	voiceBaseURL := env.GetEnv("PUBLIC_BASE_URL", "")
	registry := processors.BuildRegistry(db, stripeClient, twilioClient, vapiClient, voiceBaseURL, publisher, sink)

	store := events.NewStoreFromDB(db)
	manager := jobqueue.InitManager(registry, store)
	manager.Start()

	verifier := webhook.NewVerifierFromEnv()
	queue := manager.GetQueue()
	webhookController := controllers.NewWebhookController(verifier, store, queue, sink)
	adminController := controllers.NewEventAdminController(store, queue, breakers)

	// init fiber app
	app := fiber.New(fiber.Config{
		BodyLimit: 1 * 1024 * 1024, // provider webhooks stay small
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("ADMIN_USER", "admin"): env.GetEnv("ADMIN_PASSWORD", "admin"),
		},
	}), monitor.New())

	// ROUTER
	router.InstallRouter(app, webhookController, adminController)

	return app
}
