package http

import (
	"github.com/Deirmos/tech-shop-api/internal/transport/http/handler"
	"github.com/Deirmos/tech-shop-api/internal/transport/http/middleware"
	"github.com/gofiber/fiber/v2"
)

type Handlers struct {
	Order *handler.OrderHandler
}

func RegisterRoutes(app *fiber.App, h *Handlers) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	api := app.Group("/api", middleware.NewIdentityMiddleware())

	orders := api.Group("/orders")
	orders.Post("", h.Order.Create)
	orders.Post("/checkout", h.Order.Checkout)
	orders.Get("", h.Order.List)
	orders.Get("/:id", h.Order.FindByID)
	orders.Patch("/:id/status", middleware.NewAdminOnlyMiddleware(), h.Order.SetStatus)
}
