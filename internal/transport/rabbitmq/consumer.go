package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/internal/infrastructure/email"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	rabbit "github.com/Deirmos/tech-shop-api/pkg/rabbitmq"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const reconnectDelay = 5 * time.Second

// dlqPublisher is the slice of *amqp.Channel the handler needs to quarantine
// a message.
type dlqPublisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Consumer drains the confirmation queue. Every delivery ends in exactly one
// of three ways: acknowledged after a successful send, quarantined to the DLQ
// (poison payload or retry ceiling reached), or rejected without requeue so
// the broker routes it through the delayed retry loop.
type Consumer struct {
	cfg      config.Rabbit
	conn     *rabbit.Connector
	topology *rabbit.Topology
	sender   email.Sender
	logger   *zap.Logger
	validate *validator.Validate
}

func NewConsumer(
	cfg config.Rabbit,
	conn *rabbit.Connector,
	topology *rabbit.Topology,
	sender email.Sender,
	logger *zap.Logger,
) *Consumer {
	return &Consumer{
		cfg:      cfg,
		conn:     conn,
		topology: topology,
		sender:   sender,
		logger:   logger,
		validate: validator.New(),
	}
}

// Run consumes until the context is cancelled, re-establishing the channel
// after a broker connection loss.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := c.consume(ctx); err != nil {
			mylogger.Warn(
				ctx,
				c.logger,
				"Consumer channel lost, reconnecting",
				zap.Duration("delay", reconnectDelay),
				zap.Error(err),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func (c *Consumer) consume(ctx context.Context) error {
	if err := c.topology.Ensure(ctx); err != nil {
		return err
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	// Bounded prefetch: at most PrefetchCount unacked deliveries in flight.
	if err := ch.Qos(c.cfg.PrefetchCount, 0, false); err != nil {
		return err
	}

	deliveries, err := ch.Consume(
		c.cfg.EmailQueue,
		"",    // consumer tag
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return err
	}

	mylogger.Info(
		ctx,
		c.logger,
		"Consuming order confirmations",
		zap.String("queue", c.cfg.EmailQueue),
		zap.Int("prefetch", c.cfg.PrefetchCount),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}

			c.handle(ctx, d, ch)
		}
	}
}

// handle classifies one delivery. Quarantine paths ack the original message
// off the main queue so it never redelivers; only a transient send failure
// is allowed back into the retry loop.
func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, dlq dlqPublisher) {
	var event domain.OrderConfirmationEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Invalid confirmation payload, sending to DLQ",
			zap.Error(err),
		)

		c.quarantine(ctx, d, dlq, err.Error())
		return
	}

	if err := c.validate.Struct(event); err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Confirmation payload failed validation, sending to DLQ",
			zap.Error(err),
		)

		c.quarantine(ctx, d, dlq, err.Error())
		return
	}

	if retries := deathCount(d.Headers, c.cfg.EmailQueue); retries >= int64(c.cfg.MaxRetries) {
		mylogger.Error(
			ctx,
			c.logger,
			"Confirmation exceeded max retries, sending to DLQ",
			zap.Int64("retries", retries),
			zap.Int64("order_id", event.TemplateData.OrderID),
		)

		c.quarantine(ctx, d, dlq, "max_retries_exceeded")
		return
	}

	if err := c.sender.SendOrderConfirmation(ctx, event.EmailTo, event.TemplateData); err != nil {
		mylogger.Warn(
			ctx,
			c.logger,
			"Confirmation send failed, retrying via TTL loop",
			zap.Int64("order_id", event.TemplateData.OrderID),
			zap.Error(err),
		)

		// Reject without requeue: dead-lettering moves the message into
		// the retry queue, where TTL expiry sends it back here later.
		if err := d.Nack(false, false); err != nil {
			mylogger.Error(ctx, c.logger, "Failed to nack message", zap.Error(err))
		}
		return
	}

	if err := d.Ack(false); err != nil {
		mylogger.Error(ctx, c.logger, "Failed to ack message", zap.Error(err))
	}
}

func (c *Consumer) quarantine(ctx context.Context, d amqp.Delivery, dlq dlqPublisher, reason string) {
	err := dlq.PublishWithContext(
		ctx,
		c.cfg.DLQExchange,
		c.cfg.DLQQueue,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Headers:      amqp.Table{"error": reason},
			Body:         d.Body,
		},
	)
	if err != nil {
		mylogger.Error(
			ctx,
			c.logger,
			"Failed to publish to DLQ, message will redeliver",
			zap.Error(err),
		)

		// Leave the delivery unacked; redelivery will try quarantine again.
		return
	}

	if err := d.Ack(false); err != nil {
		mylogger.Error(ctx, c.logger, "Failed to ack quarantined message", zap.Error(err))
	}
}

// deathCount reports how many times a message already died on the given
// queue, i.e. how many retry cycles it has been through. The broker tracks
// this in the x-death header; everything beyond the per-queue count is
// treated as opaque.
func deathCount(headers amqp.Table, queue string) int64 {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 0
	}

	var count int64
	for _, raw := range deaths {
		death, ok := raw.(amqp.Table)
		if !ok {
			continue
		}

		if death["queue"] != queue {
			continue
		}

		switch v := death["count"].(type) {
		case int64:
			count += v
		case int32:
			count += int64(v)
		case int:
			count += int64(v)
		}
	}

	return count
}
