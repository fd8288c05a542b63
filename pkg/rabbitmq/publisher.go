package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// ErrTransportFailure wraps the last broker error once all publish attempts
// are spent. The order this event belongs to is already committed; the
// caller only decides how loudly to report the lost confirmation.
var ErrTransportFailure = errors.New("broker transport failure")

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher delivers order-confirmation events at least once, retrying with
// capped exponential backoff before giving up.
type Publisher struct {
	cfg      config.Rabbit
	topology *Topology
	logger   *zap.Logger

	openChannel func() (publishChannel, error)
	sleep       func(ctx context.Context, d time.Duration) error
}

func NewPublisher(cfg config.Rabbit, conn *Connector, topology *Topology, logger *zap.Logger) *Publisher {
	return &Publisher{
		cfg:      cfg,
		topology: topology,
		logger:   logger,
		openChannel: func() (publishChannel, error) {
			return conn.Channel()
		},
		sleep: sleepCtx,
	}
}

func (p *Publisher) PublishConfirmation(ctx context.Context, event domain.OrderConfirmationEvent) error {
	if err := p.topology.Ensure(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportFailure, err)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal confirmation event: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	var lastErr error
	for attempt := 1; attempt <= p.cfg.MaxRetries; attempt++ {
		lastErr = p.publishOnce(ctx, msg)
		if lastErr == nil {
			return nil
		}

		delay := backoffDelay(attempt, p.cfg.PublishBackoff)
		mylogger.Warn(
			ctx,
			p.logger,
			"Publish failed, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.MaxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr),
		)

		if err := p.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	mylogger.Error(
		ctx,
		p.logger,
		"Publish failed after all attempts",
		zap.Error(lastErr),
	)

	return fmt.Errorf("%w: %w", ErrTransportFailure, lastErr)
}

// publishOnce opens a fresh channel per attempt; a channel that saw a publish
// error is unusable afterwards.
func (p *Publisher) publishOnce(ctx context.Context, msg amqp.Publishing) error {
	ch, err := p.openChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	return ch.PublishWithContext(
		ctx,
		p.cfg.EmailExchange,
		p.cfg.EmailQueue, // routing key mirrors the queue name
		false,            // mandatory
		false,            // immediate
		msg,
	)
}

// backoffDelay doubles per attempt (2s, 4s, 8s, ...) up to the ceiling.
func backoffDelay(attempt int, ceiling time.Duration) time.Duration {
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > ceiling {
		delay = ceiling
	}

	return delay
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
