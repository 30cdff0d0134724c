package app

import (
	"context"
	"encoding/base64"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaleworker/internal/config"
	"upscaleworker/internal/core/domain"
)

func TestNewWiresPipeline(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "output")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {})
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, os.WriteFile(filepath.Join(outputDir, "flashvsr_00001.mp4"), []byte("done"), 0644))
		io.WriteString(w, `{"prompt_id":"p"}`)
	})
	mux.HandleFunc("GET /history/{handle}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"`+r.PathValue("handle")+`":{"outputs":{}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	cfg, err := config.FromEnv(func(key string) string {
		return map[string]string{
			"COMFY_URL":          srv.URL,
			"COMFY_INPUT_DIR":    filepath.Join(root, "input"),
			"COMFY_INPUT_SUBDIR": "videos",
			"COMFY_OUTPUT_DIR":   outputDir,
		}[key]
	})
	require.NoError(t, err)
	cfg.PollInterval = time.Millisecond
	cfg.SettleDelay = time.Millisecond

	a, err := New(context.Background(), cfg, log.New(io.Discard, "", 0))
	require.NoError(t, err)
	defer a.Close()

	res, err := a.Orchestrator.RunJob(context.Background(), domain.Request{
		ArtifactName:    "x.mp4",
		ArtifactPayload: base64.StdEncoding.EncodeToString([]byte("abc")),
	})
	require.NoError(t, err)
	require.True(t, res.HasOutput())
	assert.Equal(t, filepath.Join(root, "input", "videos", "x.mp4"), res.InputPath)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("done")), *res.OutputPayloadBase64)
}

func TestNewRejectsBadTemplate(t *testing.T) {
	cfg, err := config.FromEnv(func(string) string { return "" })
	require.NoError(t, err)
	cfg.WorkflowPath = filepath.Join(t.TempDir(), "missing.json")

	_, err = New(context.Background(), cfg, log.New(io.Discard, "", 0))
	assert.Error(t, err)
}
