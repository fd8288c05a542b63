package rabbitmq_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	transport "github.com/Deirmos/tech-shop-api/internal/transport/rabbitmq"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/rabbitmq"
	"github.com/Deirmos/tech-shop-api/pkg/testsuite"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
)

// recordingSender fails a configurable number of times before accepting, so a
// single test can watch a message walk the whole retry loop.
type recordingSender struct {
	mu       sync.Mutex
	failures int
	sent     []domain.TemplateData
}

func (f *recordingSender) SendOrderConfirmation(_ context.Context, _ string, data domain.TemplateData) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return context.DeadlineExceeded
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *recordingSender) Sent() []domain.TemplateData {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.TemplateData, len(f.sent))
	copy(out, f.sent)
	return out
}

type PipelineSuite struct {
	testsuite.BaseSuite

	cfg       config.Rabbit
	connector *rabbitmq.Connector
	topology  *rabbitmq.Topology
	publisher *rabbitmq.Publisher
	cancel    context.CancelFunc
}

func (s *PipelineSuite) SetupSuite() {
	s.BaseSuite.SetupBroker()

	logger := zap.NewNop()
	s.cfg = config.Rabbit{
		URL:            s.AmqpURL,
		EmailExchange:  "email.exchange",
		RetryExchange:  "email.retry.exchange",
		DLQExchange:    "email.dlq.exchange",
		EmailQueue:     "email.order_confirmation",
		RetryQueue:     "email.order_confirmation.retry",
		DLQQueue:       "email.order_confirmation.dlq",
		RetryDelay:     time.Second,
		MaxRetries:     2,
		PrefetchCount:  10,
		PublishBackoff: time.Second,
	}

	s.connector = rabbitmq.NewConnector(s.cfg.URL, logger)
	s.topology = rabbitmq.NewTopology(s.cfg, s.connector, logger)
	s.publisher = rabbitmq.NewPublisher(s.cfg, s.connector, s.topology, logger)

	s.Require().NoError(s.topology.Ensure(s.Ctx))
}

func (s *PipelineSuite) TearDownSuite() {
	if s.connector != nil {
		_ = s.connector.Close()
	}
	s.BaseSuite.TearDownInfrastructure()
}

func (s *PipelineSuite) SetupTest() {
	ch, err := s.connector.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	for _, queue := range []string{s.cfg.EmailQueue, s.cfg.RetryQueue, s.cfg.DLQQueue} {
		_, err := ch.QueuePurge(queue, false)
		s.Require().NoError(err)
	}
}

func (s *PipelineSuite) TearDownTest() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

func (s *PipelineSuite) startConsumer(sender *recordingSender) {
	logger := zap.NewNop()
	consumer := transport.NewConsumer(s.cfg, s.connector, s.topology, sender, logger)

	ctx, cancel := context.WithCancel(s.Ctx)
	s.cancel = cancel

	go func() {
		_ = consumer.Run(ctx)
	}()
}

// getFromDLQ polls the dead letter queue for a single message.
func (s *PipelineSuite) getFromDLQ() (amqp.Delivery, bool) {
	ch, err := s.connector.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	d, ok, err := ch.Get(s.cfg.DLQQueue, true)
	s.Require().NoError(err)
	return d, ok
}

func (s *PipelineSuite) publishRaw(body []byte) {
	ch, err := s.connector.Channel()
	s.Require().NoError(err)
	defer ch.Close()

	err = ch.PublishWithContext(s.Ctx, s.cfg.EmailExchange, s.cfg.EmailQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	s.Require().NoError(err)
}

func testEvent(orderID int64) domain.OrderConfirmationEvent {
	return domain.OrderConfirmationEvent{
		EmailTo: "buyer@example.com",
		TemplateData: domain.TemplateData{
			OrderID:    orderID,
			TotalPrice: 5350,
			Items:      []domain.ConfirmationItem{},
		},
	}
}

func (s *PipelineSuite) TestDeliversConfirmation() {
	sender := &recordingSender{}
	s.startConsumer(sender)

	s.Require().NoError(s.publisher.PublishConfirmation(s.Ctx, testEvent(11)))

	s.Require().Eventually(func() bool {
		sent := sender.Sent()
		return len(sent) == 1 && sent[0].OrderID == 11
	}, 15*time.Second, 100*time.Millisecond)

	_, inDLQ := s.getFromDLQ()
	s.Require().False(inDLQ)
}

func (s *PipelineSuite) TestRetriesThenDelivers() {
	sender := &recordingSender{failures: 1}
	s.startConsumer(sender)

	s.Require().NoError(s.publisher.PublishConfirmation(s.Ctx, testEvent(12)))

	// One failure means one trip through the retry queue before success.
	s.Require().Eventually(func() bool {
		sent := sender.Sent()
		return len(sent) == 1 && sent[0].OrderID == 12
	}, 30*time.Second, 200*time.Millisecond)

	_, inDLQ := s.getFromDLQ()
	s.Require().False(inDLQ)
}

func (s *PipelineSuite) TestExhaustedRetriesLandInDLQ() {
	sender := &recordingSender{failures: 100}
	s.startConsumer(sender)

	event := testEvent(13)
	s.Require().NoError(s.publisher.PublishConfirmation(s.Ctx, event))

	var quarantined amqp.Delivery
	s.Require().Eventually(func() bool {
		d, ok := s.getFromDLQ()
		if ok {
			quarantined = d
		}
		return ok
	}, 60*time.Second, 500*time.Millisecond)

	s.Require().Equal("max_retries_exceeded", quarantined.Headers["error"])

	var got domain.OrderConfirmationEvent
	s.Require().NoError(json.Unmarshal(quarantined.Body, &got))
	s.Require().Equal(event.TemplateData.OrderID, got.TemplateData.OrderID)
}

func (s *PipelineSuite) TestPoisonMessageGoesStraightToDLQ() {
	sender := &recordingSender{}
	s.startConsumer(sender)

	s.publishRaw([]byte("{not json"))

	var quarantined amqp.Delivery
	s.Require().Eventually(func() bool {
		d, ok := s.getFromDLQ()
		if ok {
			quarantined = d
		}
		return ok
	}, 15*time.Second, 200*time.Millisecond)

	s.Require().Equal([]byte("{not json"), quarantined.Body)
	s.Require().NotEmpty(quarantined.Headers["error"])
	s.Require().Empty(sender.Sent())
}

func TestPipelineSuite(t *testing.T) {
	suite.Run(t, new(PipelineSuite))
}
