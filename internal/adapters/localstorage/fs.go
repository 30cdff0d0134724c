package localstorage

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/core/ports"
)

// LocalStorage implements ports.Storage on the directories shared with the
// media service.
type LocalStorage struct {
	InputDir    string
	InputSubdir string
	OutputDir   string
	OutputExt   string
}

// NewLocalStorage creates a new LocalStorage instance.
func NewLocalStorage(inputDir, inputSubdir, outputDir, outputExt string) *LocalStorage {
	if outputExt == "" {
		outputExt = ".mp4"
	}
	if !strings.HasPrefix(outputExt, ".") {
		outputExt = "." + outputExt
	}
	return &LocalStorage{
		InputDir:    inputDir,
		InputSubdir: inputSubdir,
		OutputDir:   outputDir,
		OutputExt:   outputExt,
	}
}

// EnsureDirs creates the input and output directories.
func (s *LocalStorage) EnsureDirs() error {
	for _, dir := range []string{s.stagingDir(), s.OutputDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// Stage decodes payload and writes it to the staging directory under name,
// replacing any existing file. It returns the absolute path written.
func (s *LocalStorage) Stage(ctx context.Context, name, payload string) (string, error) {
	data, err := DecodePayload(payload)
	if err != nil {
		return "", err
	}
	if err := s.EnsureDirs(); err != nil {
		return "", err
	}

	path, err := filepath.Abs(filepath.Join(s.stagingDir(), name))
	if err != nil {
		return "", fmt.Errorf("failed to resolve staging path: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write staged video %s: %w", path, err)
	}
	return path, nil
}

// Snapshot lists the output files currently present.
func (s *LocalStorage) Snapshot(ctx context.Context) (ports.Snapshot, error) {
	matches, err := filepath.Glob(filepath.Join(s.OutputDir, "*"+s.OutputExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list output directory: %w", err)
	}
	snap := make(ports.Snapshot, len(matches))
	for _, m := range matches {
		snap[m] = struct{}{}
	}
	return snap, nil
}

// Collect returns the newest output file that is not in before, or nil when
// the job produced nothing new. Among several new files the latest
// modification time wins; equal timestamps resolve to the first in
// lexical order.
func (s *LocalStorage) Collect(ctx context.Context, before ports.Snapshot) (*domain.OutputArtifact, error) {
	after, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var newest *domain.OutputArtifact
	for _, path := range after.Sorted() {
		if _, seen := before[path]; seen {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			// vanished between the glob and the stat
			continue
		}
		if newest == nil || info.ModTime().After(newest.ModTime) {
			newest = &domain.OutputArtifact{Path: path, ModTime: info.ModTime()}
		}
	}
	if newest == nil {
		return nil, nil
	}

	data, err := os.ReadFile(newest.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read output video %s: %w", newest.Path, err)
	}
	newest.Data = data
	newest.PayloadBase64 = base64.StdEncoding.EncodeToString(data)
	return newest, nil
}

func (s *LocalStorage) stagingDir() string {
	return filepath.Join(s.InputDir, s.InputSubdir)
}

// DecodePayload strips an optional data-URI prefix and decodes standard base64.
func DecodePayload(payload string) ([]byte, error) {
	if i := strings.Index(payload, ","); i >= 0 {
		payload = payload[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	return data, nil
}
