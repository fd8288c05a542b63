package repository

import (
	"context"
	"errors"
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

type ProductRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.Product, error)
	LockForUpdate(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]*domain.Product, error)
	DecreaseStock(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error
	IncreaseStock(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error
}

type productRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewProductRepository(pool *pgxpool.Pool, logger *zap.Logger) ProductRepository {
	return &productRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("shop/product_repo"),
	}
}

func (r *productRepo) GetByID(ctx context.Context, id int64) (*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		SELECT id, name, description, price, stock, is_deleted, created_at, updated_at
		FROM products
		WHERE id = $1 AND is_deleted = FALSE;
	`

	var res domain.Product
	if err := r.pool.QueryRow(ctx, query, id).
		Scan(&res.ID, &res.Name, &res.Description, &res.Price,
			&res.Stock, &res.IsDeleted, &res.CreatedAt, &res.UpdatedAt,
		); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error get product by id",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting product: %w", err)
	}

	return &res, nil
}

// LockForUpdate reads the requested product rows with exclusive row locks.
// Rows come back in ascending id order and are locked in that order, which
// keeps concurrent multi-item checkouts from deadlocking against each other.
// Soft-deleted products are not returned.
func (r *productRepo) LockForUpdate(ctx context.Context, tx pgx.Tx, ids []int64) (map[int64]*domain.Product, error) {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.LockForUpdate")
	defer span.End()

	span.SetAttributes(
		attribute.Int("ids_count", len(ids)),
	)

	query := `
		SELECT id, name, description, price, stock, is_deleted, created_at, updated_at
		FROM products
		WHERE id = ANY($1) AND is_deleted = FALSE
		ORDER BY id
		FOR UPDATE;
	`

	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Failed to lock product rows",
			zap.Error(err),
		)

		return nil, fmt.Errorf("error locking products: %w", err)
	}
	defer rows.Close()

	result := make(map[int64]*domain.Product, len(ids))
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(
			&p.ID,
			&p.Name,
			&p.Description,
			&p.Price,
			&p.Stock,
			&p.IsDeleted,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			span.RecordError(err)

			mylogger.Error(
				ctx,
				r.logger,
				"Failed to scan product row",
				zap.Error(err),
			)

			return nil, err
		}

		result[p.ID] = &p
	}

	if err := rows.Err(); err != nil {
		mylogger.Error(
			ctx,
			r.logger,
			"Rows error",
			zap.Error(err),
		)

		return nil, err
	}

	return result, nil
}

func (r *productRepo) DecreaseStock(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.DecreaseStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1
			AND stock >= $2
			AND is_deleted = FALSE;
	`

	commandTag, err := tx.Exec(ctx, query, id, quantity)
	if err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error decreasing stock",
			zap.Int64("id", id),
			zap.Int("quantity", int(quantity)),
		)

		return fmt.Errorf("error decreasing stock for product %d: %w", id, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (r *productRepo) IncreaseStock(ctx context.Context, tx pgx.Tx, id int64, quantity int32) error {
	ctx, span := r.tracer.Start(ctx, "ProductRepository.IncreaseStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Int("quantity", int(quantity)),
	)

	query := `
		UPDATE products
		SET stock = stock + $1, updated_at = NOW()
		WHERE id = $2
	`

	commandTag, err := tx.Exec(ctx, query, quantity, id)
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to update stock", zap.Error(err))

		return err
	}

	if commandTag.RowsAffected() == 0 {
		mylogger.Warn(ctx, r.logger, "Product not found", zap.Int64("product_id", id))
		return ErrProductNotFound
	}

	return nil
}
