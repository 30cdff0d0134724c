package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upscaleworker/internal/adapters/comfy"
	"upscaleworker/internal/adapters/localstorage"
	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/core/ports"
	"upscaleworker/internal/workflow"
)

var discard = log.New(io.Discard, "", 0)

func defaultTemplate(t *testing.T) workflow.Graph {
	t.Helper()
	g, err := workflow.Default()
	require.NoError(t, err)
	return g
}

func videoRef(name string) string {
	return workflow.VideoRef("input", "", name)
}

// recordingStorage and recordingRunner count how often they are used.
type recordingStorage struct{ calls int }

func (s *recordingStorage) Stage(ctx context.Context, name, payload string) (string, error) {
	s.calls++
	return "", nil
}
func (s *recordingStorage) Snapshot(ctx context.Context) (ports.Snapshot, error) {
	s.calls++
	return ports.Snapshot{}, nil
}
func (s *recordingStorage) Collect(ctx context.Context, before ports.Snapshot) (*domain.OutputArtifact, error) {
	s.calls++
	return nil, nil
}

type recordingRunner struct {
	calls int
	graph workflow.Graph
	err   error
}

func (r *recordingRunner) SubmitAndWait(ctx context.Context, graph workflow.Graph) (string, error) {
	r.calls++
	r.graph = graph
	if r.err != nil {
		return "", r.err
	}
	return "handle-1", nil
}

type recordingReadiness struct{ calls int }

func (r *recordingReadiness) EnsureReady(ctx context.Context) error {
	r.calls++
	return nil
}

type fakePublisher struct {
	handle string
	err    error
}

func (p *fakePublisher) Publish(ctx context.Context, handle string, artifact *domain.OutputArtifact) (string, error) {
	p.handle = handle
	if p.err != nil {
		return "", p.err
	}
	return "s3://bucket/" + handle + "/" + filepath.Base(artifact.Path), nil
}

func TestRunJobMissingPayloadDoesNoIO(t *testing.T) {
	storage := &recordingStorage{}
	runner := &recordingRunner{}
	ready := &recordingReadiness{}
	o := NewOrchestrator(storage, runner, ready, nil, defaultTemplate(t), videoRef, discard)

	_, err := o.RunJob(context.Background(), domain.Request{ArtifactName: "x.mp4"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInput))
	assert.Zero(t, storage.calls)
	assert.Zero(t, runner.calls)
	assert.Zero(t, ready.calls)
}

func TestRunJobAppliesOverrides(t *testing.T) {
	runner := &recordingRunner{}
	template := defaultTemplate(t)
	o := NewOrchestrator(&recordingStorage{}, runner, nil, nil, template, videoRef, discard)

	res, err := o.RunJob(context.Background(), domain.Request{ArtifactName: "clip.mp4", ArtifactPayload: "YWJj", Mode: domain.ModeTinyLong, Scale: 4})
	require.NoError(t, err)

	assert.Equal(t, "handle-1", res.Handle)
	assert.False(t, res.HasOutput())
	assert.Equal(t, "input/clip.mp4", runner.graph[workflow.StageLoadVideo].Inputs["video"])
	assert.Equal(t, "tiny-long", runner.graph[workflow.StageTransform].Inputs["mode"])
	assert.Equal(t, 4, runner.graph[workflow.StageTransform].Inputs["scale"])
	// the shared template is reused across jobs and must stay pristine
	assert.Equal(t, "tiny", template[workflow.StageTransform].Inputs["mode"])
}

func TestRunJobPropagatesRunnerErrors(t *testing.T) {
	runner := &recordingRunner{err: &domain.SubmissionError{StatusCode: 500, Body: "boom"}}
	o := NewOrchestrator(&recordingStorage{}, runner, nil, nil, defaultTemplate(t), videoRef, discard)

	_, err := o.RunJob(context.Background(), domain.Request{ArtifactPayload: "YWJj"})
	var subErr *domain.SubmissionError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, 500, subErr.StatusCode)
}

func TestRunJobDecodeErrorStopsBeforeSubmit(t *testing.T) {
	root := t.TempDir()
	storage := localstorage.NewLocalStorage(filepath.Join(root, "in"), "", filepath.Join(root, "out"), ".mp4")
	runner := &recordingRunner{}
	o := NewOrchestrator(storage, runner, nil, nil, defaultTemplate(t), videoRef, discard)

	_, err := o.RunJob(context.Background(), domain.Request{ArtifactPayload: "%%%"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrDecode))
	assert.Zero(t, runner.calls)
}

// newFakeComfy accepts any prompt, writes produce into outputDir and reports
// completion on the first history query.
func newFakeComfy(t *testing.T, outputDir string, produce map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /prompt", func(w http.ResponseWriter, r *http.Request) {
		for name, content := range produce {
			assert.NoError(t, os.WriteFile(filepath.Join(outputDir, name), []byte(content), 0644))
		}
		io.WriteString(w, `{"prompt_id":"p-1"}`)
	})
	mux.HandleFunc("GET /history/{handle}", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"`+r.PathValue("handle")+`":{"outputs":{"3":{}}}}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRunJobEndToEnd(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "output")
	require.NoError(t, os.MkdirAll(outputDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(outputDir, "old.mp4"), []byte("old"), 0644))

	srv := newFakeComfy(t, outputDir, map[string]string{"y.mp4": "done"})

	storage := localstorage.NewLocalStorage(filepath.Join(root, "input"), "", outputDir, ".mp4")
	runner := comfy.NewClient(srv.URL, comfy.Options{PollInterval: time.Millisecond, SettleDelay: time.Millisecond, Timeout: 5 * time.Second}, discard)
	publisher := &fakePublisher{}
	o := NewOrchestrator(storage, runner, nil, publisher, defaultTemplate(t), videoRef, discard)

	res, err := o.RunJob(context.Background(), domain.Request{
		ArtifactName:    "x.mp4",
		ArtifactPayload: base64.StdEncoding.EncodeToString([]byte("abc")),
		Mode:            domain.ModeFull,
		Scale:           4,
	})
	require.NoError(t, err)
	require.True(t, res.HasOutput())

	assert.True(t, strings.HasSuffix(*res.OutputPath, "y.mp4"))
	decoded, err := base64.StdEncoding.DecodeString(*res.OutputPayloadBase64)
	require.NoError(t, err)
	assert.Equal(t, "done", string(decoded))
	assert.Equal(t, domain.ModeFull, res.Mode)
	assert.Equal(t, 4, res.Scale)
	assert.NotEmpty(t, res.Handle)

	staged, err := os.ReadFile(res.InputPath)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(staged))

	assert.Equal(t, res.Handle, publisher.handle)
	assert.Equal(t, "s3://bucket/"+res.Handle+"/y.mp4", res.OutputURL)
}

func TestRunJobNoNewOutput(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "output")
	srv := newFakeComfy(t, outputDir, nil)

	storage := localstorage.NewLocalStorage(filepath.Join(root, "input"), "", outputDir, ".mp4")
	runner := comfy.NewClient(srv.URL, comfy.Options{PollInterval: time.Millisecond, SettleDelay: time.Millisecond, Timeout: 5 * time.Second}, discard)
	publisher := &fakePublisher{}
	o := NewOrchestrator(storage, runner, nil, publisher, defaultTemplate(t), videoRef, discard)

	res, err := o.RunJob(context.Background(), domain.Request{ArtifactPayload: base64.StdEncoding.EncodeToString([]byte("abc"))})
	require.NoError(t, err)
	assert.False(t, res.HasOutput())
	assert.Nil(t, res.OutputPayloadBase64)
	assert.Empty(t, res.OutputURL)
	assert.Empty(t, publisher.handle)
}

func TestRunJobPublishFailureIsFatal(t *testing.T) {
	root := t.TempDir()
	outputDir := filepath.Join(root, "output")
	require.NoError(t, os.MkdirAll(outputDir, 0755))
	srv := newFakeComfy(t, outputDir, map[string]string{"y.mp4": "done"})

	storage := localstorage.NewLocalStorage(filepath.Join(root, "input"), "", outputDir, ".mp4")
	runner := comfy.NewClient(srv.URL, comfy.Options{PollInterval: time.Millisecond, SettleDelay: time.Millisecond, Timeout: 5 * time.Second}, discard)
	o := NewOrchestrator(storage, runner, nil, &fakePublisher{err: errors.New("denied")}, defaultTemplate(t), videoRef, discard)

	_, err := o.RunJob(context.Background(), domain.Request{ArtifactPayload: base64.StdEncoding.EncodeToString([]byte("abc"))})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}
