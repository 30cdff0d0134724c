package app

import (
	"context"
	"fmt"
	"log"

	"upscaleworker/internal/adapters/comfy"
	"upscaleworker/internal/adapters/localstorage"
	"upscaleworker/internal/adapters/s3publisher"
	"upscaleworker/internal/config"
	"upscaleworker/internal/core/ports"
	"upscaleworker/internal/service"
	"upscaleworker/internal/workflow"
)

// Version is reported by the health endpoint.
const Version = "0.3.0"

// App holds the process-wide components shared by every job.
type App struct {
	Config       *config.Config
	Orchestrator *service.Orchestrator
	Supervisor   *comfy.Supervisor
}

// New wires the pipeline from cfg.
func New(ctx context.Context, cfg *config.Config, logger *log.Logger) (*App, error) {
	template, err := workflow.Load(cfg.WorkflowPath)
	if err != nil {
		return nil, err
	}

	storage := localstorage.NewLocalStorage(cfg.InputDir, cfg.InputSubdir, cfg.OutputDir, cfg.OutputExt)
	if err := storage.EnsureDirs(); err != nil {
		return nil, err
	}

	runner := comfy.NewClient(cfg.ComfyURL, comfy.Options{
		PollInterval: cfg.PollInterval,
		SettleDelay:  cfg.SettleDelay,
		Timeout:      cfg.Timeout,
	}, logger)

	supervisor := comfy.NewSupervisor(cfg.ComfyURL, cfg.LaunchCommand, cfg.ReadyTimeout, logger)

	var publisher ports.Publisher
	if cfg.S3Bucket != "" {
		p, err := s3publisher.New(ctx, cfg.S3Bucket, cfg.S3Prefix, cfg.S3Endpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize output publisher: %w", err)
		}
		publisher = p
		logger.Printf("Publishing outputs to bucket %s", cfg.S3Bucket)
	}

	videoRef := func(name string) string {
		return workflow.VideoRef(cfg.VideoRefPrefix, cfg.InputSubdir, name)
	}

	orchestrator := service.NewOrchestrator(storage, runner, supervisor, publisher, template, videoRef, logger)

	return &App{
		Config:       cfg,
		Orchestrator: orchestrator,
		Supervisor:   supervisor,
	}, nil
}

// Close stops a media service process started by the supervisor.
func (a *App) Close() {
	a.Supervisor.Stop()
}
