package middleware

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// NewIdentityMiddleware trusts the identity headers set by the fronting
// gateway. The core itself performs no authentication.
func NewIdentityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawID := c.Get("X-User-Id")
		if rawID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: missed header"})
		}

		userId, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil || userId == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Unauthorized: invalid user id"})
		}

		c.Locals("userId", userId)
		c.Locals("isAdmin", c.Get("X-Is-Admin") == "true")
		return c.Next()
	}
}

func NewAdminOnlyMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		isAdmin, ok := c.Locals("isAdmin").(bool)
		if !ok || !isAdmin {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin role required"})
		}

		return c.Next()
	}
}
