package repository

import (
	"context"
	"fmt"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// CartRepository reads and clears cart lines. Cart editing itself belongs to
// the cart API; checkout only consumes it.
type CartRepository interface {
	GetUserCart(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.CartItem, error)
	DeleteByUser(ctx context.Context, tx pgx.Tx, userID int64) error
}

type cartRepo struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
	tracer trace.Tracer
}

func NewCartRepository(pool *pgxpool.Pool, logger *zap.Logger) CartRepository {
	return &cartRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("shop/cart_repo"),
	}
}

func (r *cartRepo) GetUserCart(ctx context.Context, tx pgx.Tx, userID int64) ([]domain.CartItem, error) {
	ctx, span := r.tracer.Start(ctx, "CartRepository.GetUserCart")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	query := `
		SELECT user_id, product_id, quantity
		FROM cart_items
		WHERE user_id = $1
		ORDER BY product_id;
	`

	rows, err := tx.Query(ctx, query, userID)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to query cart items",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("failed to query cart items: %w", err)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.UserID, &item.ProductID, &item.Quantity); err != nil {
			span.RecordError(err)
			return nil, err
		}

		items = append(items, item)
	}

	return items, rows.Err()
}

func (r *cartRepo) DeleteByUser(ctx context.Context, tx pgx.Tx, userID int64) error {
	ctx, span := r.tracer.Start(ctx, "CartRepository.DeleteByUser")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("user_id", userID),
	)

	query := `
		DELETE FROM cart_items
		WHERE user_id = $1;
	`

	if _, err := tx.Exec(ctx, query, userID); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to clear cart",
			zap.Int64("user_id", userID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to clear cart: %w", err)
	}

	return nil
}
