package httpapi

import (
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/core/ports"
)

// Job statuses reported in responses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

// JobResponse is the body returned by /runsync.
type JobResponse struct {
	ID     string         `json:"id"`
	Status string         `json:"status"`
	Output *domain.Result `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// Handler serves jobs over HTTP, one at a time.
type Handler struct {
	jobs    ports.JobService
	version string

	// Output detection assumes a single job writes to the output directory.
	mu sync.Mutex
}

// NewHandler creates a new Handler.
func NewHandler(jobs ports.JobService, version string) *Handler {
	return &Handler{jobs: jobs, version: version}
}

// NewServer builds an echo instance with the job routes registered.
func NewServer(h *Handler) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", h.Health)
	e.POST("/runsync", h.RunSync)
	return e
}

// Health reports liveness.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": h.version,
	})
}

// RunSync runs the job in the request envelope and replies when it is done.
func (h *Handler) RunSync(c echo.Context) error {
	var env domain.Envelope
	if err := c.Bind(&env); err != nil {
		return c.JSON(http.StatusBadRequest, JobResponse{Status: StatusFailed, Error: "invalid request body: " + err.Error()})
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Input == nil {
		return c.JSON(http.StatusBadRequest, JobResponse{ID: env.ID, Status: StatusFailed, Error: "input is required"})
	}

	h.mu.Lock()
	result, err := h.jobs.RunJob(c.Request().Context(), *env.Input)
	h.mu.Unlock()

	if err != nil {
		code := http.StatusInternalServerError
		if domain.IsClientError(err) {
			code = http.StatusBadRequest
		}
		return c.JSON(code, JobResponse{ID: env.ID, Status: StatusFailed, Error: err.Error()})
	}
	return c.JSON(http.StatusOK, JobResponse{ID: env.ID, Status: StatusCompleted, Output: result})
}
