package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/go-playground/validator/v10"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeAcknowledger struct {
	acked    int
	nacked   int
	requeued bool
}

func (f *fakeAcknowledger) Ack(_ uint64, _ bool) error {
	f.acked++
	return nil
}

func (f *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(_ uint64, requeue bool) error {
	f.nacked++
	f.requeued = requeue
	return nil
}

type fakeDLQ struct {
	published []amqp.Publishing
	exchanges []string
	keys      []string
	err       error
}

func (f *fakeDLQ) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}

	f.published = append(f.published, msg)
	f.exchanges = append(f.exchanges, exchange)
	f.keys = append(f.keys, key)
	return nil
}

type fakeSender struct {
	err   error
	sent  []string
	datas []domain.TemplateData
}

func (f *fakeSender) SendOrderConfirmation(_ context.Context, to string, data domain.TemplateData) error {
	if f.err != nil {
		return f.err
	}

	f.sent = append(f.sent, to)
	f.datas = append(f.datas, data)
	return nil
}

func newTestConsumer(sender *fakeSender) *Consumer {
	return &Consumer{
		cfg: config.Rabbit{
			EmailExchange: "email.exchange",
			DLQExchange:   "email.dlq.exchange",
			EmailQueue:    "email.order_confirmation",
			RetryQueue:    "email.order_confirmation.retry",
			DLQQueue:      "email.order_confirmation.dlq",
			MaxRetries:    5,
		},
		sender:   sender,
		logger:   zap.NewNop(),
		validate: validator.New(),
	}
}

func validBody(t *testing.T) []byte {
	t.Helper()

	body, err := json.Marshal(domain.OrderConfirmationEvent{
		EmailTo: "buyer@example.com",
		TemplateData: domain.TemplateData{
			OrderID:    7,
			TotalPrice: 2050,
			Items: []domain.ConfirmationItem{
				{ProductID: 1, Quantity: 2, PriceAtPurchase: 1000},
			},
		},
	})
	require.NoError(t, err)

	return body
}

func deathHeaders(queue string, count int64) amqp.Table {
	return amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"queue": queue, "count": count},
		},
	}
}

func TestHandle_SuccessAcks(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t),
	}, dlq)

	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 0, ack.nacked)
	assert.Empty(t, dlq.published)
	require.Equal(t, []string{"buyer@example.com"}, sender.sent)
	assert.Equal(t, int64(7), sender.datas[0].OrderID)
}

func TestHandle_MalformedPayloadQuarantined(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	body := []byte("{not json")
	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
	}, dlq)

	// acked off the main queue, exactly one copy lands on the DLQ
	assert.Equal(t, 1, ack.acked)
	assert.Equal(t, 0, ack.nacked)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, []string{"email.dlq.exchange"}, dlq.exchanges)
	assert.Equal(t, []string{"email.order_confirmation.dlq"}, dlq.keys)
	assert.Equal(t, body, dlq.published[0].Body)
	assert.NotEmpty(t, dlq.published[0].Headers["error"])
	assert.Empty(t, sender.sent)
}

func TestHandle_MissingRecipientQuarantined(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	body, err := json.Marshal(map[string]any{
		"template_data": map[string]any{"order_id": 9},
	})
	require.NoError(t, err)

	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         body,
	}, dlq)

	assert.Equal(t, 1, ack.acked)
	require.Len(t, dlq.published, 1)
	assert.Empty(t, sender.sent)
}

func TestHandle_MaxRetriesQuarantined(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t),
		Headers:      deathHeaders("email.order_confirmation", 5),
	}, dlq)

	assert.Equal(t, 1, ack.acked)
	require.Len(t, dlq.published, 1)
	assert.Equal(t, "max_retries_exceeded", dlq.published[0].Headers["error"])
	assert.Empty(t, sender.sent)
}

func TestHandle_BelowRetryCeilingStillSends(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t),
		Headers:      deathHeaders("email.order_confirmation", 4),
	}, dlq)

	assert.Equal(t, 1, ack.acked)
	assert.Empty(t, dlq.published)
	assert.Len(t, sender.sent, 1)
}

func TestHandle_SendFailureNacksWithoutRequeue(t *testing.T) {
	sender := &fakeSender{err: errors.New("smtp down")}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{}

	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         validBody(t),
	}, dlq)

	assert.Equal(t, 0, ack.acked)
	assert.Equal(t, 1, ack.nacked)
	assert.False(t, ack.requeued, "requeue must stay false so dead-lettering runs the retry loop")
	assert.Empty(t, dlq.published)
}

func TestHandle_DLQPublishFailureLeavesDeliveryUnacked(t *testing.T) {
	sender := &fakeSender{}
	c := newTestConsumer(sender)
	ack := &fakeAcknowledger{}
	dlq := &fakeDLQ{err: errors.New("broker gone")}

	c.handle(context.Background(), amqp.Delivery{
		Acknowledger: ack,
		Body:         []byte("{not json"),
	}, dlq)

	assert.Equal(t, 0, ack.acked)
	assert.Equal(t, 0, ack.nacked)
}

func TestDeathCount(t *testing.T) {
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"queue": "email.order_confirmation", "count": int64(3)},
			amqp.Table{"queue": "email.order_confirmation.retry", "count": int64(3)},
			amqp.Table{"queue": "email.order_confirmation", "count": int32(1)},
		},
	}

	assert.Equal(t, int64(4), deathCount(headers, "email.order_confirmation"))
}

func TestDeathCount_NoHeader(t *testing.T) {
	assert.Equal(t, int64(0), deathCount(nil, "email.order_confirmation"))
	assert.Equal(t, int64(0), deathCount(amqp.Table{"x-death": "garbage"}, "email.order_confirmation"))
}
