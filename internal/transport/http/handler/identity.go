package handler

import (
	"github.com/Deirmos/tech-shop-api/internal/service"
	"github.com/gofiber/fiber/v2"
)

// identityFromCtx pulls the caller identity the middleware stored in Locals.
func identityFromCtx(c *fiber.Ctx) (service.Identity, bool) {
	userID, ok := c.Locals("userId").(int64)
	if !ok {
		return service.Identity{}, false
	}

	isAdmin, _ := c.Locals("isAdmin").(bool)

	return service.Identity{UserID: userID, IsAdmin: isAdmin}, true
}
