package email

import (
	"context"
	"fmt"
	"net/smtp"

	"github.com/Deirmos/tech-shop-api/internal/domain"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Sender delivers the order confirmation. Sending must stay safe to repeat:
// a redelivered message after a consumer crash will call it again for the
// same order.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, to string, data domain.TemplateData) error
}

type smtpSender struct {
	from     string
	username string
	password string
	host     string
	port     string
	logger   *zap.Logger
	tracer   trace.Tracer
}

func NewSMTPSender(cfg config.Mail, logger *zap.Logger) Sender {
	return &smtpSender{
		from:     cfg.From,
		username: cfg.Username,
		password: cfg.Password,
		host:     cfg.Host,
		port:     cfg.Port,
		logger:   logger,
		tracer:   otel.Tracer("shop/infrastructure/email"),
	}
}

func (s *smtpSender) SendOrderConfirmation(ctx context.Context, to string, data domain.TemplateData) error {
	ctx, span := s.tracer.Start(ctx, "smtp.SendOrderConfirmation")
	defer span.End()

	span.SetAttributes(
		attribute.String("to.email", to),
		attribute.Int64("order_id", data.OrderID),
	)

	subject := fmt.Sprintf("Subject: Order #%d confirmed - TechShop\n", data.OrderID)
	mime := "MIME-version: 1.0;\nContent-Type: text/html; charset=\"UTF-8\";\n\n"
	body := fmt.Sprintf(`
		<h1>Order #%d has been placed! 🎉</h1>
		<p>Thank you for shopping with us.</p>
		<p><b>Order total:</b> %d.%02d</p>
		<p>We will contact you shortly to arrange delivery.</p>
	`, data.OrderID, data.TotalPrice/100, data.TotalPrice%100)

	msg := []byte(subject + mime + body)
	addr := fmt.Sprintf("%s:%s", s.host, s.port)
	auth := smtp.PlainAuth("", s.username, s.password, s.host)

	mylogger.Info(
		ctx,
		s.logger,
		"Sending order confirmation email",
		zap.String("to", to),
		zap.Int64("order_id", data.OrderID),
	)

	if err := smtp.SendMail(addr, auth, s.from, []string{to}, msg); err != nil {
		span.RecordError(err)

		mylogger.Error(
			ctx,
			s.logger,
			"Error sending order confirmation email",
			zap.String("to", to),
			zap.Int64("order_id", data.OrderID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to send mail: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Order confirmation email sent successfully",
		zap.String("to", to),
	)

	return nil
}
