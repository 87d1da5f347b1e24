package router

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/coursefox/paycore/app/controllers"
	"github.com/coursefox/paycore/internal/pkg/env"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	// Redis-backed limiter so the per-sender budget survives restarts and
	// is shared across instances. Generous ceiling: legitimate providers
	// burst on redelivery, the limiter only blunts floods.
	port, err := strconv.Atoi(env.GetEnv("CACHE_PORT", "6379"))
	if err != nil {
		port = 6379
	}
	storage := redis.New(redis.Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     port,
		Database: 1,
	})

	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Storage:    storage,
	}))
	webhooks.Post("/payment", controllers.HandleProviderWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
