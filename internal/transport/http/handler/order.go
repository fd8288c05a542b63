package handler

import (
	"strconv"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/internal/repository"
	"github.com/Deirmos/tech-shop-api/internal/service"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orders   service.OrderService
	validate *validator.Validate
	logger   *zap.Logger
}

func NewOrderHandler(orders service.OrderService, logger *zap.Logger) *OrderHandler {
	return &OrderHandler{
		orders:   orders,
		validate: validator.New(),
		logger:   logger,
	}
}

type CreateOrderInput struct {
	Items []OrderItemInput `json:"items" validate:"required,min=1,dive"`
}

type OrderItemInput struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int32 `json:"quantity" validate:"required,gt=0"`
}

type CheckoutInput struct {
	Email string `json:"email" validate:"required,email"`
}

type SetStatusInput struct {
	Status string `json:"status" validate:"required"`
}

type orderItemResponse struct {
	ID              int64 `json:"id"`
	ProductID       int64 `json:"product_id"`
	Quantity        int32 `json:"quantity"`
	PriceAtPurchase int64 `json:"price_at_purchase"`
}

type orderResponse struct {
	ID         int64               `json:"id"`
	UserID     int64               `json:"user_id"`
	Status     string              `json:"status"`
	TotalPrice int64               `json:"total_price"`
	Items      []orderItemResponse `json:"items"`
	CreatedAt  time.Time           `json:"created_at"`
}

func toOrderResponse(order *domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:              item.ID,
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PriceAtPurchase: item.PriceAtPurchase,
		})
	}

	return orderResponse{
		ID:         order.ID,
		UserID:     order.UserID,
		Status:     string(order.Status),
		TotalPrice: order.TotalPrice,
		Items:      items,
		CreatedAt:  order.CreatedAt,
	}
}

func (h *OrderHandler) Create(c *fiber.Ctx) error {
	input := new(CreateOrderInput)

	if err := c.BodyParser(input); err != nil {
		h.logger.Warn(
			"failed to parse body in create order",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	identity, ok := identityFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
	}

	items := make([]service.OrderItemInput, 0, len(input.Items))
	for _, item := range input.Items {
		items = append(items, service.OrderItemInput{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
		})
	}

	order, err := h.orders.CreateOrder(c.UserContext(), identity.UserID, items)
	if err != nil {
		status := statusFromError(err)

		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"create order failed",
			zap.Int64("user_id", identity.UserID),
			zap.Int("http_code", status),
			zap.Error(err),
		)

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
}

func (h *OrderHandler) Checkout(c *fiber.Ctx) error {
	input := new(CheckoutInput)

	if err := c.BodyParser(input); err != nil {
		h.logger.Warn(
			"failed to parse body in checkout",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	identity, ok := identityFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
	}

	order, err := h.orders.CheckoutFromCart(c.UserContext(), identity.UserID, input.Email)
	if err != nil {
		status := statusFromError(err)

		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"checkout failed",
			zap.Int64("user_id", identity.UserID),
			zap.Int("http_code", status),
			zap.Error(err),
		)

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusCreated).JSON(toOrderResponse(order))
}

func (h *OrderHandler) FindByID(c *fiber.Ctx) error {
	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Id is invalid",
		})
	}

	identity, ok := identityFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
	}

	order, err := h.orders.GetOrder(c.UserContext(), orderID, identity)
	if err != nil {
		status := statusFromError(err)

		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"get order failed",
			zap.Int64("order_id", orderID),
			zap.Int("http_code", status),
			zap.Error(err),
		)

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusOK).JSON(toOrderResponse(order))
}

// SetStatus is the admin endpoint behind the whole order lifecycle. The
// middleware guarantees the caller is an admin before we get here.
func (h *OrderHandler) SetStatus(c *fiber.Ctx) error {
	orderID, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Id is invalid",
		})
	}

	input := new(SetStatusInput)
	if err := c.BodyParser(input); err != nil {
		h.logger.Warn(
			"failed to parse body in set status",
			zap.Error(err),
		)

		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "error parsing body",
		})
	}

	if err := h.validate.Struct(input); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	newStatus := domain.OrderStatus(input.Status)
	if !newStatus.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "unknown order status",
		})
	}

	order, err := h.orders.SetOrderStatus(c.UserContext(), orderID, newStatus)
	if err != nil {
		status := statusFromError(err)

		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"set order status failed",
			zap.Int64("order_id", orderID),
			zap.String("new_status", input.Status),
			zap.Int("http_code", status),
			zap.Error(err),
		)

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	mylogger.Info(
		c.UserContext(),
		h.logger,
		"order status updated",
		zap.Int64("order_id", order.ID),
		zap.String("status", string(order.Status)),
	)

	return c.Status(fiber.StatusOK).JSON(toOrderResponse(order))
}

func (h *OrderHandler) List(c *fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "userId parsing error"})
	}

	filter := repository.OrderFilter{
		Limit:  int64(c.QueryInt("limit", 10)),
		Offset: int64(c.QueryInt("offset", 0)),
	}

	// Regular users only ever see their own orders. Admins may filter by
	// any user or list everything.
	if identity.IsAdmin {
		if raw := c.Query("user_id"); raw != "" {
			userID, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "user_id is invalid",
				})
			}
			filter.UserID = &userID
		}
	} else {
		userID := identity.UserID
		filter.UserID = &userID
	}

	if raw := c.Query("status"); raw != "" {
		status := domain.OrderStatus(raw)
		if !status.Valid() {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "unknown order status",
			})
		}
		filter.Status = &status
	}

	orders, err := h.orders.ListOrders(c.UserContext(), filter)
	if err != nil {
		status := statusFromError(err)

		mylogger.Warn(
			c.UserContext(),
			h.logger,
			"list orders failed",
			zap.Int("http_code", status),
			zap.Error(err),
		)

		return c.Status(status).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	responses := make([]orderResponse, 0, len(orders))
	for i := range orders {
		responses = append(responses, toOrderResponse(&orders[i]))
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"orders": responses,
	})
}
