package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/internal/repository"
	"github.com/Deirmos/tech-shop-api/pkg/db"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Identity is whatever the transport layer knows about the caller. The core
// does not authenticate anyone; it only applies the ownership rule.
type Identity struct {
	UserID  int64
	IsAdmin bool
}

type OrderItemInput struct {
	ProductID int64
	Quantity  int32
}

type ConfirmationPublisher interface {
	PublishConfirmation(ctx context.Context, event domain.OrderConfirmationEvent) error
}

type OrderService interface {
	CreateOrder(ctx context.Context, userID int64, items []OrderItemInput) (*domain.Order, error)
	CheckoutFromCart(ctx context.Context, userID int64, email string) (*domain.Order, error)
	GetOrder(ctx context.Context, orderID int64, requester Identity) (*domain.Order, error)
	SetOrderStatus(ctx context.Context, orderID int64, newStatus domain.OrderStatus) (*domain.Order, error)
	ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, error)
}

type orderService struct {
	pool        *pgxpool.Pool
	logger      *zap.Logger
	orderRepo   repository.OrderRepository
	productRepo repository.ProductRepository
	cartRepo    repository.CartRepository
	publisher   ConfirmationPublisher
	tracer      trace.Tracer
}

func NewOrderService(
	pool *pgxpool.Pool,
	logger *zap.Logger,
	orderRepo repository.OrderRepository,
	productRepo repository.ProductRepository,
	cartRepo repository.CartRepository,
	publisher ConfirmationPublisher,
) OrderService {
	return &orderService{
		pool:        pool,
		logger:      logger,
		orderRepo:   orderRepo,
		productRepo: productRepo,
		cartRepo:    cartRepo,
		publisher:   publisher,
		tracer:      otel.Tracer("shop/order_service"),
	}
}

func (s *orderService) CreateOrder(ctx context.Context, userID int64, items []OrderItemInput) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
		attribute.Int("items_count", len(items)),
	)

	var order *domain.Order
	err := db.WithinTx(ctx, s.pool, s.logger, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		order, err = s.buildOrder(ctx, tx, userID, items)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
		zap.Int64("total_price", order.TotalPrice),
	)

	return order, nil
}

func (s *orderService) CheckoutFromCart(ctx context.Context, userID int64, email string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.CheckoutFromCart")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	var order *domain.Order
	err := db.WithinTx(ctx, s.pool, s.logger, func(ctx context.Context, tx pgx.Tx) error {
		cartItems, err := s.cartRepo.GetUserCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		if len(cartItems) == 0 {
			return ErrEmptyCart
		}

		items := make([]OrderItemInput, 0, len(cartItems))
		for _, line := range cartItems {
			items = append(items, OrderItemInput{
				ProductID: line.ProductID,
				Quantity:  line.Quantity,
			})
		}

		order, err = s.buildOrder(ctx, tx, userID, items)
		if err != nil {
			return err
		}

		// The cart is cleared in the same transaction: a failed checkout
		// leaves it untouched.
		return s.cartRepo.DeleteByUser(ctx, tx, userID)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Checkout completed",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", userID),
	)

	s.scheduleConfirmation(ctx, email, order)

	return order, nil
}

// buildOrder is the reservation transaction body shared by both checkout
// paths. Products are locked in ascending id order; any failure aborts the
// surrounding transaction, so stock decrements, the order row and its items
// land together or not at all.
func (s *orderService) buildOrder(ctx context.Context, tx pgx.Tx, userID int64, items []OrderItemInput) (*domain.Order, error) {
	ids := distinctProductIDs(items)

	products, err := s.productRepo.LockForUpdate(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	order := &domain.Order{
		UserID: userID,
		Status: domain.OrderStatusNew,
	}

	remaining := make(map[int64]int32, len(products))
	for id, p := range products {
		remaining[id] = p.Stock
	}

	for _, item := range items {
		product, ok := products[item.ProductID]
		if !ok {
			return nil, fmt.Errorf("product %d: %w", item.ProductID, repository.ErrProductNotFound)
		}

		if remaining[product.ID] < item.Quantity {
			mylogger.Warn(
				ctx,
				s.logger,
				"Insufficient stock",
				zap.Int64("product_id", product.ID),
				zap.Int32("requested", item.Quantity),
				zap.Int32("available", remaining[product.ID]),
			)

			return nil, fmt.Errorf("product %q: %w", product.Name, repository.ErrInsufficientStock)
		}
		remaining[product.ID] -= item.Quantity

		if err := s.productRepo.DecreaseStock(ctx, tx, product.ID, item.Quantity); err != nil {
			return nil, err
		}

		order.Items = append(order.Items, domain.OrderItem{
			ProductID:       product.ID,
			Quantity:        item.Quantity,
			PriceAtPurchase: product.Price,
		})
	}

	order.CalculateTotal()

	if err := s.orderRepo.Create(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	return order, nil
}

// scheduleConfirmation hands the event to the publisher in the background.
// The order is already committed; a lost confirmation is logged, never
// propagated back to the buyer.
func (s *orderService) scheduleConfirmation(ctx context.Context, email string, order *domain.Order) {
	event := domain.NewOrderConfirmationEvent(email, order)
	publishCtx := context.WithoutCancel(ctx)

	go func() {
		if err := s.publisher.PublishConfirmation(publishCtx, event); err != nil {
			mylogger.Error(
				publishCtx,
				s.logger,
				"Failed to publish order confirmation",
				zap.Int64("order_id", order.ID),
				zap.Error(err),
			)
		}
	}()
}

func (s *orderService) GetOrder(ctx context.Context, orderID int64, requester Identity) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.GetOrder")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
	)

	order, err := s.orderRepo.GetByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			mylogger.Warn(
				ctx,
				s.logger,
				"Order not found",
				zap.Int64("order_id", orderID),
			)

			return nil, err
		}

		span.RecordError(err)
		return nil, err
	}

	if !requester.IsAdmin && order.UserID != requester.UserID {
		mylogger.Warn(
			ctx,
			s.logger,
			"Order access denied",
			zap.Int64("order_id", orderID),
			zap.Int64("requester_id", requester.UserID),
		)

		return nil, ErrForbidden
	}

	return order, nil
}

func (s *orderService) SetOrderStatus(ctx context.Context, orderID int64, newStatus domain.OrderStatus) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.SetOrderStatus")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("order_id", orderID),
		attribute.String("new_status", string(newStatus)),
	)

	var order *domain.Order
	err := db.WithinTx(ctx, s.pool, s.logger, func(ctx context.Context, tx pgx.Tx) error {
		var err error
		order, err = s.orderRepo.GetByIDForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := domain.ValidateTransition(order.Status, newStatus); err != nil {
			mylogger.Warn(
				ctx,
				s.logger,
				"Rejected status transition",
				zap.Int64("order_id", orderID),
				zap.String("from", string(order.Status)),
				zap.String("to", string(newStatus)),
			)

			return err
		}

		// Stock goes back inside this same transaction, so a cancellation
		// either fully restores inventory or does not happen.
		if newStatus == domain.OrderStatusCancelled && order.Status != domain.OrderStatusCancelled {
			if err := s.restoreStock(ctx, tx, order); err != nil {
				return err
			}
		}

		return s.orderRepo.UpdateStatus(ctx, tx, orderID, newStatus)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	order.Status = newStatus

	mylogger.Info(
		ctx,
		s.logger,
		"Order status updated",
		zap.Int64("order_id", orderID),
		zap.String("status", string(newStatus)),
	)

	return order, nil
}

func (s *orderService) restoreStock(ctx context.Context, tx pgx.Tx, order *domain.Order) error {
	for _, item := range order.Items {
		err := s.productRepo.IncreaseStock(ctx, tx, item.ProductID, item.Quantity)
		if err != nil {
			// A product deleted since purchase has nothing to restore into.
			if errors.Is(err, repository.ErrProductNotFound) {
				mylogger.Warn(
					ctx,
					s.logger,
					"Skipping stock restore for missing product",
					zap.Int64("product_id", item.ProductID),
				)

				continue
			}

			return err
		}
	}

	return nil
}

func (s *orderService) ListOrders(ctx context.Context, filter repository.OrderFilter) ([]domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "OrderService.ListOrders")
	defer span.End()

	if filter.Limit <= 0 {
		filter.Limit = 10
	}

	orders, err := s.orderRepo.List(ctx, filter)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Failed to list orders",
			zap.Error(err),
		)

		return nil, err
	}

	return orders, nil
}

func distinctProductIDs(items []OrderItemInput) []int64 {
	seen := make(map[int64]struct{}, len(items))
	ids := make([]int64, 0, len(items))

	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}

		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	return ids
}
