package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/infrastructure/email"
	transport "github.com/Deirmos/tech-shop-api/internal/transport/rabbitmq"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/rabbitmq"
	"github.com/Deirmos/tech-shop-api/pkg/utils"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "email-worker")
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}

	cfg := config.MustLoad()

	logger, err := config.NewLogger(config.LoggerConfig{
		Level: "info",
		Env:   cfg.Env,
	})
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("error syncing logger: %v", err)
		}
	}()

	connector := rabbitmq.NewConnector(cfg.Rabbit.URL, logger)
	topology := rabbitmq.NewTopology(cfg.Rabbit, connector, logger)
	sender := email.NewSMTPSender(cfg.Mail, logger)

	consumer := transport.NewConsumer(cfg.Rabbit, connector, topology, sender, logger)

	logger.Info("Email worker started!")

	if err := consumer.Run(ctx); err != nil {
		log.Fatalf("consumer stopped with error: %v", err)
	}

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	if err := connector.Close(); err != nil {
		log.Printf("Error closing rabbit connection: %v\n", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error closing telemetry: %v\n", err)
	} else {
		log.Printf("Closed telemetry successfully")
	}
}
