// Package imagegen provides the image provider client used by the
// illustration and cover stages. The provider is an HTTP JSON endpoint that
// returns a hosted image URL per request.
package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the per-request timeout for image generation calls.
const DefaultTimeout = 120 * time.Second

// ProviderName is recorded in usage stats for every image call.
const ProviderName = "imagesynth"

// Request describes one image generation call.
type Request struct {
	Prompt            string   `json:"prompt"`
	NegativePrompt    string   `json:"negative_prompt,omitempty"`
	Width             int      `json:"width"`
	Height            int      `json:"height"`
	Seed              int64    `json:"seed"`
	References        []string `json:"references,omitempty"`
	ReferenceStrength float64  `json:"reference_strength,omitempty"`
}

// Result is one generated image.
type Result struct {
	ImageURL       string        `json:"image_url"`
	Seed           int64         `json:"seed"`
	ProcessingTime time.Duration `json:"-"`
}

// Error represents a failed image generation call.
type Error struct {
	StatusCode int
	Message    string
	Retryable  bool
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("image generation failed: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("image generation failed: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Provider generates images and supports best-effort cancellation of queued
// work on the remote side.
type Provider interface {
	GenerateImage(ctx context.Context, req Request) (*Result, error)
	CancelGeneration(ctx context.Context, token string) error
}

// Options configures the HTTP client behavior.
type Options struct {
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() *Options {
	return &Options{
		Timeout:     DefaultTimeout,
		MaxAttempts: 3,
		RetryBase:   500 * time.Millisecond,
	}
}

// Client is an HTTP implementation of Provider.
type Client struct {
	endpoint string
	apiKey   string
	options  *Options
	http     *http.Client
}

// NewClient creates an image provider client for the given endpoint.
func NewClient(endpoint, apiKey string, opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		options:  opts,
		http:     &http.Client{Timeout: opts.Timeout},
	}
}

// transientSubstrings marks network failures worth retrying.
var transientSubstrings = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"deadline exceeded",
	"EOF",
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// retryableStatus reports whether an HTTP status justifies a retry:
// 429 and any 5xx. Other 4xx statuses propagate immediately.
func retryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// GenerateImage issues one generation request, retrying transient failures
// with exponential backoff (base delay doubling per attempt).
func (c *Client) GenerateImage(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Message: "failed to encode request", Cause: err}
	}

	var lastErr error
	delay := c.options.RetryBase
	for attempt := 1; attempt <= c.options.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &Error{Message: "context cancelled during retry wait", Cause: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		result, err := c.generateOnce(ctx, body)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var genErr *Error
		if !errors.As(err, &genErr) || !genErr.Retryable {
			return nil, err
		}
	}

	return nil, &Error{
		Message:   fmt.Sprintf("retries exhausted after %d attempts", c.options.MaxAttempts),
		Retryable: true,
		Cause:     lastErr,
	}
}

func (c *Client) generateOnce(ctx context.Context, body []byte) (*Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/generate", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		return nil, &Error{Message: "HTTP request failed", Retryable: isTransient(err), Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Message: "failed to read response body", Retryable: true, Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))),
			Retryable:  retryableStatus(resp.StatusCode),
		}
	}

	var result Result
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &Error{Message: "failed to decode response", Cause: err}
	}
	if result.ImageURL == "" {
		return nil, &Error{Message: "response carried no image URL"}
	}
	result.ProcessingTime = elapsed
	return &result, nil
}

// CancelGeneration asks the provider to drop queued work for a generation
// token. Best effort: a failed cancel is reported but never retried.
func (c *Client) CancelGeneration(ctx context.Context, token string) error {
	body, _ := json.Marshal(map[string]string{"token": token})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/v1/cancel", bytes.NewReader(body))
	if err != nil {
		return &Error{Message: "failed to create cancel request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return &Error{Message: "cancel request failed", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return &Error{StatusCode: resp.StatusCode, Message: fmt.Sprintf("cancel returned HTTP %d", resp.StatusCode)}
	}
	return nil
}
