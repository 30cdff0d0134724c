package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"upscaleworker/internal/app"
	"upscaleworker/internal/config"
	"upscaleworker/internal/transport/httpapi"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize worker: %v", err)
	}
	defer a.Close()

	// Start the media service up front so the first job does not pay for it.
	if err := a.Supervisor.EnsureReady(ctx); err != nil {
		logger.Printf("Media service not ready yet: %v", err)
	}

	e := httpapi.NewServer(httpapi.NewHandler(a.Orchestrator, app.Version))

	logger.Printf("Starting upscale worker v%s on port %s", app.Version, cfg.Port)
	if err := httpapi.Serve(ctx, e, fmt.Sprintf(":%s", cfg.Port), logger); err != nil {
		logger.Printf("Server error: %v", err)
		a.Close()
		os.Exit(1)
	}
}
