package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"upscaleworker/internal/adapters/amqpqueue"
	"upscaleworker/internal/app"
	"upscaleworker/internal/config"
)

func main() {
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, dotenv, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if !dotenv {
		logger.Println("No .env file found")
	}
	if cfg.AMQPURL == "" {
		logger.Fatal("AMQP_URL environment variable not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize worker: %v", err)
	}
	defer a.Close()

	conn, err := amqpqueue.NewRabbitMQClient(cfg.AMQPURL)
	if err != nil {
		logger.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer conn.Close()

	ch, err := amqpqueue.NewChannel(conn)
	if err != nil {
		logger.Fatalf("Failed to open channel: %v", err)
	}
	defer ch.Close()

	consumer, err := amqpqueue.NewConsumer(ch, cfg.AMQPQueue, a.Orchestrator, logger)
	if err != nil {
		logger.Fatalf("Failed to set up consumer: %v", err)
	}

	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Printf("Consumer stopped: %v", err)
	}
	logger.Println("Worker stopped")
}
