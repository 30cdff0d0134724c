package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"upscaleworker/internal/core/domain"
	"upscaleworker/internal/workflow"
)

const (
	DefaultPollInterval = 5 * time.Second
	DefaultSettleDelay  = 5 * time.Second
	DefaultTimeout      = time.Hour

	requestTimeout = 30 * time.Second
)

// Options tunes the wait behaviour of a Client. Zero values use the defaults.
type Options struct {
	PollInterval time.Duration
	SettleDelay  time.Duration
	Timeout      time.Duration
}

// Client implements ports.JobRunner against the media service's HTTP API.
type Client struct {
	baseURL      string
	client       *http.Client
	logger       *log.Logger
	pollInterval time.Duration
	settleDelay  time.Duration
	timeout      time.Duration
}

// NewClient creates a new Client for the service at baseURL.
func NewClient(baseURL string, opts Options, logger *log.Logger) *Client {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout: requestTimeout,
		},
		logger:       logger,
		pollInterval: opts.PollInterval,
		settleDelay:  opts.SettleDelay,
		timeout:      opts.Timeout,
	}
}

type promptRequest struct {
	ClientID string         `json:"client_id"`
	Prompt   workflow.Graph `json:"prompt"`
}

// SubmitAndWait submits graph under a fresh handle and waits for the service
// to record any history for it. The history entry's content is not inspected,
// so a graph that failed inside the service is reported as finished too.
func (c *Client) SubmitAndWait(ctx context.Context, graph workflow.Graph) (string, error) {
	handle := uuid.New().String()

	if err := c.submit(ctx, handle, graph); err != nil {
		return "", err
	}

	if err := c.waitForHistory(ctx, handle); err != nil {
		return "", err
	}

	// The output file is written asynchronously after history appears.
	if err := sleep(ctx, c.settleDelay); err != nil {
		return "", err
	}
	return handle, nil
}

func (c *Client) submit(ctx context.Context, handle string, graph workflow.Graph) error {
	body, err := json.Marshal(promptRequest{ClientID: handle, Prompt: graph})
	if err != nil {
		return fmt.Errorf("failed to encode prompt: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to submit prompt: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Printf("[JOB %s] prompt rejected: status %d, body: %s", handle, resp.StatusCode, string(respBody))
		return &domain.SubmissionError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var accepted struct {
		PromptID string `json:"prompt_id"`
	}
	if json.Unmarshal(respBody, &accepted) == nil && accepted.PromptID != "" {
		c.logger.Printf("[JOB %s] prompt accepted as %s", handle, accepted.PromptID)
	}
	return nil
}

func (c *Client) waitForHistory(ctx context.Context, handle string) error {
	start := time.Now()
	for {
		if time.Since(start) > c.timeout {
			return fmt.Errorf("%w after %v (handle %s)", domain.ErrTimeout, c.timeout, handle)
		}

		if err := sleep(ctx, c.pollInterval); err != nil {
			return err
		}

		done, err := c.historyReady(ctx, handle)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Printf("[JOB %s] history poll failed, retrying: %v", handle, err)
			continue
		}
		if done {
			return nil
		}
	}
}

// historyReady queries the history of handle. Any error is transient for the caller.
func (c *Client) historyReady(ctx context.Context, handle string) (bool, error) {
	historyURL := fmt.Sprintf("%s/history/%s", c.baseURL, url.PathEscape(handle))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, historyURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	var history map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&history); err != nil {
		return false, fmt.Errorf("failed to decode history: %w", err)
	}

	return nonEmpty(history[handle]) || nonEmpty(history["history"]), nil
}

// nonEmpty reports whether raw holds a truthy value: null, false, zero and
// empty objects, arrays or strings all count as absent.
func nonEmpty(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "{}", "[]", `""`:
		return false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t != ""
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
