package rabbitmq

import (
	"context"
	"fmt"
	"sync"

	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Topology declares the confirmation-email exchanges, queues and bindings.
//
// The main queue dead-letters rejected messages into the retry exchange; the
// retry queue holds them for RetryDelay via x-message-ttl and dead-letters
// them back to the main exchange. Expiry plus dead-lettering is the whole
// retry scheduler. The DLQ is a terminal sink.
type Topology struct {
	cfg    config.Rabbit
	conn   *Connector
	logger *zap.Logger

	mu    sync.Mutex
	ready bool
}

func NewTopology(cfg config.Rabbit, conn *Connector, logger *zap.Logger) *Topology {
	return &Topology{
		cfg:    cfg,
		conn:   conn,
		logger: logger,
	}
}

// Ensure declares the topology at most once per process. Declarations are
// idempotent on the broker side, so racing first-users are still safe; the
// ready flag only spares the round-trips.
func (t *Topology) Ensure(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ready {
		return nil
	}

	ch, err := t.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	exchanges := []string{t.cfg.EmailExchange, t.cfg.RetryExchange, t.cfg.DLQExchange}
	for _, name := range exchanges {
		if err := ch.ExchangeDeclare(
			name,
			"direct",
			true,  // durable
			false, // auto-deleted
			false, // internal
			false, // no-wait
			nil,
		); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", name, err)
		}
	}

	if _, err := ch.QueueDeclare(
		t.cfg.EmailQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-dead-letter-exchange":    t.cfg.RetryExchange,
			"x-dead-letter-routing-key": t.cfg.RetryQueue,
		},
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.cfg.EmailQueue, err)
	}

	if _, err := ch.QueueDeclare(
		t.cfg.RetryQueue,
		true,
		false,
		false,
		false,
		amqp.Table{
			"x-message-ttl":             t.cfg.RetryDelay.Milliseconds(),
			"x-dead-letter-exchange":    t.cfg.EmailExchange,
			"x-dead-letter-routing-key": t.cfg.EmailQueue,
		},
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.cfg.RetryQueue, err)
	}

	if _, err := ch.QueueDeclare(
		t.cfg.DLQQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.cfg.DLQQueue, err)
	}

	bindings := []struct {
		queue    string
		exchange string
	}{
		{t.cfg.EmailQueue, t.cfg.EmailExchange},
		{t.cfg.RetryQueue, t.cfg.RetryExchange},
		{t.cfg.DLQQueue, t.cfg.DLQExchange},
	}
	for _, b := range bindings {
		if err := ch.QueueBind(b.queue, b.queue, b.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s to exchange %s: %w", b.queue, b.exchange, err)
		}
	}

	mylogger.Info(
		ctx,
		t.logger,
		"RabbitMQ topology declared",
		zap.String("exchange", t.cfg.EmailExchange),
		zap.String("queue", t.cfg.EmailQueue),
	)

	t.ready = true
	return nil
}
