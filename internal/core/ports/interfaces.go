package ports

import (
	"context"
	"sort"

	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/workflow"
)

// Snapshot is the set of output file paths seen at one point in time.
type Snapshot map[string]struct{}

// Sorted returns the paths in lexical order.
func (s Snapshot) Sorted() []string {
	paths := make([]string, 0, len(s))
	for p := range s {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Storage defines the contract for the filesystem hand-off with the media service.
type Storage interface {
	// Stage decodes the base64 payload and writes it where the media service
	// reads its inputs. Returns the absolute path written.
	Stage(ctx context.Context, name, payload string) (string, error)

	// Snapshot lists the output files currently present.
	Snapshot(ctx context.Context) (Snapshot, error)

	// Collect returns the newest output file absent from before, or nil if
	// there is none.
	Collect(ctx context.Context, before Snapshot) (*domain.OutputArtifact, error)
}

// JobRunner defines the contract for running a graph on the media service.
type JobRunner interface {
	// SubmitAndWait submits the graph and blocks until the service records a
	// history entry for it. Returns the job handle.
	SubmitAndWait(ctx context.Context, graph workflow.Graph) (string, error)
}

// Readiness defines the contract for bringing the media service up.
type Readiness interface {
	// EnsureReady blocks until the service answers. Safe to call repeatedly.
	EnsureReady(ctx context.Context) error
}

// Publisher copies a finished artifact somewhere outside the worker.
type Publisher interface {
	// Publish uploads the artifact and returns its URL.
	Publish(ctx context.Context, handle string, artifact *domain.OutputArtifact) (string, error)
}

// JobService runs a whole job. Inbound transports depend on it.
type JobService interface {
	RunJob(ctx context.Context, req domain.Request) (*domain.Result, error)
}
