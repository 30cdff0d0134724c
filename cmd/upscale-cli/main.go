package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"upscaleworker/internal/app"
	"upscaleworker/internal/config"
	"upscaleworker/internal/core/domain"
)

func main() {
	jobFile := flag.String("job", "", "Path to a job JSON file ({\"input\": {...}}), or - for stdin")
	videoFile := flag.String("video", "", "Path to a local video; builds the job instead of -job")
	mode := flag.String("mode", string(domain.DefaultMode), "Upscale mode: tiny, full or tiny-long (with -video)")
	scale := flag.Int("scale", domain.DefaultScale, "Upscale factor (with -video)")
	outFile := flag.String("out", "", "Write the upscaled video here instead of printing it")
	flag.Parse()

	if *jobFile == "" && *videoFile == "" {
		fmt.Println("Usage: upscale-cli -job <job.json|-> | -video <file.mp4> [-mode tiny] [-scale 2] [-out result.mp4]")
		fmt.Println("\nExample:")
		fmt.Println("  upscale-cli -video clip.mp4 -mode full -scale 4 -out clip_x4.mp4")
		fmt.Println("  cat job.json | upscale-cli -job -")
		os.Exit(1)
	}

	// Setup logger
	logger := log.New(os.Stdout, "", log.LstdFlags)

	cfg, dotenv, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	if !dotenv {
		logger.Println("No .env file found")
	}

	req, err := buildRequest(*jobFile, *videoFile, *mode, *scale)
	if err != nil {
		logger.Fatalf("Invalid job: %v", err)
	}

	logger.Println("=== Video Upscale CLI ===")
	logger.Printf("Media service: %s", cfg.ComfyURL)
	logger.Printf("Video: %s (mode=%s, scale=%d)", req.ArtifactName, req.Mode, req.Scale)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Println("\nReceived interrupt signal, cancelling...")
		cancel()
	}()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to initialize worker: %v", err)
	}
	defer a.Close()

	result, err := a.Orchestrator.RunJob(ctx, *req)
	if err != nil {
		logger.Printf("Job failed: %v", err)
		a.Close()
		os.Exit(1)
	}

	if *outFile != "" && result.HasOutput() {
		data, err := base64.StdEncoding.DecodeString(*result.OutputPayloadBase64)
		if err == nil {
			err = os.WriteFile(*outFile, data, 0644)
		}
		if err != nil {
			logger.Printf("Failed to write %s: %v", *outFile, err)
		}
	}

	// Print summary
	fmt.Println("\n=== Job Summary ===")
	fmt.Printf("Handle:       %s\n", result.Handle)
	fmt.Printf("Input:        %s\n", result.InputPath)
	fmt.Printf("Mode/Scale:   %s x%d\n", result.Mode, result.Scale)
	if result.HasOutput() {
		fmt.Printf("Output:       %s\n", *result.OutputPath)
	} else {
		fmt.Println("Output:       none (the job produced no new file)")
	}
	if result.OutputURL != "" {
		fmt.Printf("Uploaded:     %s\n", result.OutputURL)
	}
	if *outFile == "" && result.HasOutput() {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
}

func buildRequest(jobFile, videoFile, mode string, scale int) (*domain.Request, error) {
	if videoFile != "" {
		data, err := os.ReadFile(videoFile)
		if err != nil {
			return nil, err
		}
		return &domain.Request{
			ArtifactName:    filepath.Base(videoFile),
			ArtifactPayload: base64.StdEncoding.EncodeToString(data),
			Mode:            domain.Mode(mode),
			Scale:           scale,
		}, nil
	}

	var r io.Reader = os.Stdin
	if jobFile != "-" {
		f, err := os.Open(jobFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var env domain.Envelope
	if err := json.NewDecoder(r).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to parse job: %w", err)
	}
	if env.Input == nil {
		return nil, fmt.Errorf("job has no input")
	}
	if err := env.Input.Normalize(); err != nil {
		return nil, err
	}
	return env.Input, nil
}
