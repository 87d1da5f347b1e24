package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/coursefox/paycore/app/controllers"
	"github.com/coursefox/paycore/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1", middleware.APIKeyAuthMiddleware())
	v1.Post("/transactions", controllers.HandleCreateTransaction)
	v1.Post("/transactions/:publicID/provider-reference", controllers.HandleAttachProviderReference)
	v1.Get("/transactions/:publicID", controllers.HandleGetTransaction)
	v1.Get("/users/:id/subscriptions", controllers.HandleListUserSubscriptions)
	v1.Get("/reconcile/stats", controllers.HandleReconcileStats)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
