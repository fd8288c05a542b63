package handler

import (
	"errors"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/internal/repository"
	"github.com/Deirmos/tech-shop-api/internal/service"
	"github.com/gofiber/fiber/v2"
)

// statusFromError maps the service sentinels onto HTTP codes so every
// handler answers the same way for the same failure.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, repository.ErrOrderNotFound),
		errors.Is(err, repository.ErrProductNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, repository.ErrInsufficientStock),
		errors.Is(err, domain.ErrInvalidTransition):
		return fiber.StatusConflict
	case errors.Is(err, service.ErrEmptyCart):
		return fiber.StatusBadRequest
	case errors.Is(err, service.ErrForbidden):
		return fiber.StatusForbidden
	default:
		return fiber.StatusInternalServerError
	}
}
