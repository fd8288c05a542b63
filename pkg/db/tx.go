package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// WithinTx runs fn inside a transaction and commits only when fn returns nil.
// The deferred rollback fires on every other exit path, including panics, so
// callers never leave a transaction half-applied.
func WithinTx(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger, fn func(ctx context.Context, tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		mylogger.Warn(
			ctx,
			logger,
			"Failed to begin transaction",
			zap.Error(err),
		)

		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)

		err := tx.Rollback(cleanupCtx)
		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				cleanupCtx,
				logger,
				"Error rolling back transaction",
				zap.Error(err),
			)
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(
			ctx,
			logger,
			"Failed to commit transaction",
			zap.Error(err),
		)

		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
