package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInput marks a job payload that cannot be processed at all.
	ErrInput = errors.New("invalid job input")

	// ErrDecode marks an artifact payload that is not valid base64.
	ErrDecode = errors.New("malformed base64 payload")

	// ErrTimeout is returned when the media service never reports completion
	// within the configured ceiling. The submitted job is left running.
	ErrTimeout = errors.New("workflow timed out")
)

// SubmissionError is returned when the media service rejects a job at intake.
type SubmissionError struct {
	StatusCode int
	Body       string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("job submission rejected: status %d, body: %s", e.StatusCode, e.Body)
}

// IsClientError reports whether err was caused by the caller's payload rather
// than by the worker or the media service.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInput) || errors.Is(err, ErrDecode)
}
