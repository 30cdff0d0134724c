package comfy

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	DefaultReadyTimeout  = 5 * time.Minute
	DefaultReadyInterval = time.Second
)

// Supervisor implements ports.Readiness. It optionally starts the media
// service process and remembers once the service has answered, so one value
// is built per process and shared by every job.
type Supervisor struct {
	baseURL       string
	command       []string
	readyTimeout  time.Duration
	readyInterval time.Duration
	client        *http.Client
	logger        *log.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	ready   bool
	exited  chan struct{}
	exitErr error
}

// NewSupervisor creates a Supervisor. An empty launchCommand means the
// service is managed elsewhere and is only waited for.
func NewSupervisor(baseURL, launchCommand string, readyTimeout time.Duration, logger *log.Logger) *Supervisor {
	if readyTimeout <= 0 {
		readyTimeout = DefaultReadyTimeout
	}
	return &Supervisor{
		baseURL:       strings.TrimRight(baseURL, "/"),
		command:       strings.Fields(launchCommand),
		readyTimeout:  readyTimeout,
		readyInterval: DefaultReadyInterval,
		client:        &http.Client{Timeout: 5 * time.Second},
		logger:        logger,
	}
}

// EnsureReady starts the service if needed and blocks until it answers.
// After the first success it returns immediately.
func (s *Supervisor) EnsureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.startLocked(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.readyTimeout)
	defer cancel()

	for {
		if s.probe(ctx) {
			s.ready = true
			s.logger.Printf("media service ready at %s", s.baseURL)
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("media service at %s not ready: %w", s.baseURL, ctx.Err())
		case <-s.exited:
			s.cmd = nil
			return fmt.Errorf("media service process exited: %v", s.exitErr)
		case <-time.After(s.readyInterval):
		}
	}
}

// Stop terminates a process started by EnsureReady.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	select {
	case <-s.exited:
	default:
		_ = s.cmd.Process.Kill()
		<-s.exited
	}
	s.cmd = nil
	s.ready = false
}

func (s *Supervisor) startLocked() error {
	if len(s.command) == 0 || s.cmd != nil {
		return nil
	}

	// Not tied to a request context: the service outlives single jobs.
	cmd := exec.Command(s.command[0], s.command[1:]...)
	cmd.Stdout = s.logger.Writer()
	cmd.Stderr = s.logger.Writer()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start media service %q: %w", s.command[0], err)
	}
	s.logger.Printf("started media service (pid %d): %s", cmd.Process.Pid, strings.Join(s.command, " "))

	s.cmd = cmd
	s.exited = make(chan struct{})
	go func() {
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()
	return nil
}

func (s *Supervisor) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
