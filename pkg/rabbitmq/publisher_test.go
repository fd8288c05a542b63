package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChannel struct {
	publishErr error
	published  []amqp.Publishing
	closed     int
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, _ string, _, _ bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}

	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed++
	return nil
}

func testConfig() config.Rabbit {
	return config.Rabbit{
		EmailExchange:  "email.exchange",
		RetryExchange:  "email.retry.exchange",
		DLQExchange:    "email.dlq.exchange",
		EmailQueue:     "email.order_confirmation",
		RetryQueue:     "email.order_confirmation.retry",
		DLQQueue:       "email.order_confirmation.dlq",
		MaxRetries:     5,
		PublishBackoff: 10 * time.Second,
	}
}

func newTestPublisher(cfg config.Rabbit, ch *fakeChannel, sleeps *[]time.Duration) *Publisher {
	return &Publisher{
		cfg:      cfg,
		topology: &Topology{cfg: cfg, ready: true, logger: zap.NewNop()},
		logger:   zap.NewNop(),
		openChannel: func() (publishChannel, error) {
			return ch, nil
		},
		sleep: func(_ context.Context, d time.Duration) error {
			*sleeps = append(*sleeps, d)
			return nil
		},
	}
}

func testEvent() domain.OrderConfirmationEvent {
	return domain.OrderConfirmationEvent{
		EmailTo: "buyer@example.com",
		TemplateData: domain.TemplateData{
			OrderID:    42,
			TotalPrice: 2050,
			Items:      []domain.ConfirmationItem{},
		},
	}
}

func TestPublishConfirmation_Success(t *testing.T) {
	ch := &fakeChannel{}
	var sleeps []time.Duration
	p := newTestPublisher(testConfig(), ch, &sleeps)

	err := p.PublishConfirmation(context.Background(), testEvent())

	require.NoError(t, err)
	require.Len(t, ch.published, 1)
	assert.Empty(t, sleeps)

	msg := ch.published[0]
	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.NotEmpty(t, msg.MessageId)
	assert.JSONEq(t, `{
		"email_to": "buyer@example.com",
		"template_data": {"order_id": 42, "total_price": 2050, "items": []}
	}`, string(msg.Body))
}

func TestPublishConfirmation_RetriesWithCappedBackoff(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("connection refused")}
	var sleeps []time.Duration
	p := newTestPublisher(testConfig(), ch, &sleeps)

	err := p.PublishConfirmation(context.Background(), testEvent())

	require.ErrorIs(t, err, ErrTransportFailure)
	assert.Contains(t, err.Error(), "connection refused")

	want := []time.Duration{
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		10 * time.Second,
		10 * time.Second,
	}
	assert.Equal(t, want, sleeps)
	// a fresh channel per attempt, closed every time
	assert.Equal(t, 5, ch.closed)
}

func TestPublishConfirmation_RecoversMidway(t *testing.T) {
	attempts := 0
	var sleeps []time.Duration
	ch := &fakeChannel{}

	p := newTestPublisher(testConfig(), ch, &sleeps)
	p.openChannel = func() (publishChannel, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("broker unreachable")
		}
		return ch, nil
	}

	err := p.PublishConfirmation(context.Background(), testEvent())

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps)
	assert.Len(t, ch.published, 1)
}

func TestPublishConfirmation_ContextCancelledDuringBackoff(t *testing.T) {
	ch := &fakeChannel{publishErr: errors.New("connection refused")}
	p := &Publisher{
		cfg:      testConfig(),
		topology: &Topology{cfg: testConfig(), ready: true, logger: zap.NewNop()},
		logger:   zap.NewNop(),
		openChannel: func() (publishChannel, error) {
			return ch, nil
		},
		sleep: func(ctx context.Context, _ time.Duration) error {
			return context.Canceled
		},
	}

	err := p.PublishConfirmation(context.Background(), testEvent())

	require.ErrorIs(t, err, ErrTransportFailure)
	require.ErrorIs(t, err, context.Canceled)
}

func TestBackoffDelay(t *testing.T) {
	ceiling := 10 * time.Second

	assert.Equal(t, 2*time.Second, backoffDelay(1, ceiling))
	assert.Equal(t, 4*time.Second, backoffDelay(2, ceiling))
	assert.Equal(t, 8*time.Second, backoffDelay(3, ceiling))
	assert.Equal(t, 10*time.Second, backoffDelay(4, ceiling))
	assert.Equal(t, 10*time.Second, backoffDelay(5, ceiling))
}
