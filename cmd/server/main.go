package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/Deirmos/tech-shop-api/internal/repository"
	"github.com/Deirmos/tech-shop-api/internal/service"
	transport "github.com/Deirmos/tech-shop-api/internal/transport/http"
	"github.com/Deirmos/tech-shop-api/internal/transport/http/handler"
	"github.com/Deirmos/tech-shop-api/pkg/config"
	"github.com/Deirmos/tech-shop-api/pkg/db"
	"github.com/Deirmos/tech-shop-api/pkg/mylogger"
	"github.com/Deirmos/tech-shop-api/pkg/rabbitmq"
	"github.com/Deirmos/tech-shop-api/pkg/utils"
	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf(".env not found: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := utils.InitTracer(ctx, "shop-service")
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

	pool, err := db.NewPostgresDB(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("failed to create pool: %v", err)
	}

	connector := rabbitmq.NewConnector(cfg.Rabbit.URL, logger)
	topology := rabbitmq.NewTopology(cfg.Rabbit, connector, logger)
	publisher := rabbitmq.NewPublisher(cfg.Rabbit, connector, topology, logger)

	orderRepo := repository.NewOrderRepository(pool, logger)
	productRepo := repository.NewProductRepository(pool, logger)
	cartRepo := repository.NewCartRepository(pool, logger)

	orderService := service.NewOrderService(pool, logger, orderRepo, productRepo, cartRepo, publisher)

	app := fiber.New(fiber.Config{
		ReadTimeout: cfg.HTTP.Timeout,
	})
	app.Use(otelfiber.Middleware())

	handlers := &transport.Handlers{
		Order: handler.NewOrderHandler(orderService, logger),
	}

	transport.RegisterRoutes(app, handlers)

	go func() {
		log.Println("HTTP Service listening on: " + cfg.HTTP.Port)
		if err := app.Listen(cfg.HTTP.Port); err != nil {
			log.Fatalf("Error listening on HTTP port %v: %v\n", cfg.HTTP.Port, err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, exit := context.WithTimeout(context.Background(), 5*time.Second)
	defer exit()

	mylogger.Info(
		shutdownCtx,
		logger,
		"Shutting down shop server",
	)

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("Error shutting down HTTP app: %v\n", err)
	} else {
		log.Println("HTTP App stopped gracefully")
	}

	if err := connector.Close(); err != nil {
		log.Printf("Error closing rabbit connection: %v\n", err)
	}

	if err := tp.Shutdown(shutdownCtx); err != nil {
		mylogger.Warn(
			shutdownCtx,
			logger,
			"Failed to shut down telemetry",
			zap.Error(err),
		)
	} else {
		mylogger.Info(
			shutdownCtx,
			logger,
			"Successfully down telemetry",
		)
	}

	pool.Close()
	log.Println("✅ Postgres pool closed")
}
