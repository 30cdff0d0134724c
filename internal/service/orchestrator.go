package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/core/ports"
	"upscaleworker/internal/workflow"
)

// Orchestrator runs one upscale job end to end: stage, submit, wait, collect.
type Orchestrator struct {
	storage   ports.Storage
	runner    ports.JobRunner
	readiness ports.Readiness
	publisher ports.Publisher
	template  workflow.Graph
	videoRef  func(name string) string
	logger    *log.Logger
}

// NewOrchestrator creates a new Orchestrator. readiness and publisher may be nil.
// videoRef maps a staged file name to the path the load stage reads.
func NewOrchestrator(
	storage ports.Storage,
	runner ports.JobRunner,
	readiness ports.Readiness,
	publisher ports.Publisher,
	template workflow.Graph,
	videoRef func(name string) string,
	logger *log.Logger,
) *Orchestrator {
	return &Orchestrator{
		storage:   storage,
		runner:    runner,
		readiness: readiness,
		publisher: publisher,
		template:  template,
		videoRef:  videoRef,
		logger:    logger,
	}
}

// RunJob executes a complete upscale job. A nil output in the result means
// the media service finished without writing a new file.
//
// Output detection diffs the output directory before and after the job, so
// two jobs running at once against the same directory can pick up each
// other's files.
func (o *Orchestrator) RunJob(ctx context.Context, req domain.Request) (*domain.Result, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	if o.readiness != nil {
		if err := o.readiness.EnsureReady(ctx); err != nil {
			return nil, fmt.Errorf("media service unavailable: %w", err)
		}
	}

	before, err := o.storage.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	inputPath, err := o.storage.Stage(ctx, req.ArtifactName, req.ArtifactPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", req.ArtifactName, err)
	}
	o.logger.Printf("Staged %s (mode=%s, scale=%d)", inputPath, req.Mode, req.Scale)

	graph, err := o.template.Apply(workflow.Overrides{
		VideoPath: o.videoRef(req.ArtifactName),
		Mode:      req.Mode,
		Scale:     req.Scale,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build workflow: %w", err)
	}

	started := time.Now()
	handle, err := o.runner.SubmitAndWait(ctx, graph)
	if err != nil {
		o.logger.Printf("Job for %s failed: %v", req.ArtifactName, err)
		return nil, err
	}
	o.logger.Printf("[JOB %s] Workflow finished in %s", handle, time.Since(started).Round(time.Second))

	result := &domain.Result{
		Handle:    handle,
		InputPath: inputPath,
		Mode:      req.Mode,
		Scale:     req.Scale,
	}

	artifact, err := o.storage.Collect(ctx, before)
	if err != nil {
		o.logger.Printf("[JOB %s] ERROR: %v", handle, err)
		return nil, err
	}
	if artifact == nil {
		o.logger.Printf("[JOB %s] WARNING: no new output file found", handle)
		return result, nil
	}

	result.OutputPath = &artifact.Path
	result.OutputPayloadBase64 = &artifact.PayloadBase64
	o.logger.Printf("[JOB %s] Output: %s (%d bytes)", handle, artifact.Path, len(artifact.Data))

	if o.publisher != nil {
		url, err := o.publisher.Publish(ctx, handle, artifact)
		if err != nil {
			o.logger.Printf("[JOB %s] ERROR: %v", handle, err)
			return nil, err
		}
		result.OutputURL = url
		o.logger.Printf("[JOB %s] Uploaded to %s", handle, url)
	}

	return result, nil
}
