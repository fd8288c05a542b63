package rabbitmq

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const dialAttempts = 5

// Connector owns one shared broker connection. Callers get the cached
// connection while it is open; a closed connection is redialed under the
// mutex so concurrent publishers don't trigger a reconnect storm.
type Connector struct {
	url    string
	logger *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

func NewConnector(url string, logger *zap.Logger) *Connector {
	return &Connector{
		url:    url,
		logger: logger,
	}
}

func (c *Connector) Connection() (*amqp.Connection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn, nil
	}

	var conn *amqp.Connection
	var err error

	for i := 0; i < dialAttempts; i++ {
		conn, err = amqp.Dial(c.url)
		if err == nil {
			break
		}

		retryTime := time.Duration(i*i)*time.Second + time.Second
		c.logger.Warn(
			"Failed to connect to RabbitMQ, retrying",
			zap.Duration("retry_in", retryTime),
			zap.Error(err),
		)
		time.Sleep(retryTime)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ after retries: %w", err)
	}

	c.conn = conn
	return c.conn, nil
}

// Channel opens a fresh channel on the shared connection. Channels are cheap
// and not safe for concurrent use, so every caller gets its own.
func (c *Connector) Channel() (*amqp.Channel, error) {
	conn, err := c.Connection()
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	return ch, nil
}

func (c *Connector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}

	return c.conn.Close()
}
