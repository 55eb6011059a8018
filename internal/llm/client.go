package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Result is one text generation result with its provider-reported token
// counts.
type Result struct {
	Text           string
	InputTokens    int
	OutputTokens   int
	ProcessingTime time.Duration
}

// Client is an abstraction over text providers.
type Client interface {
	// GenerateText generates text, honoring the stage's max output tokens.
	GenerateText(ctx context.Context, prompt string, maxOutputTokens int, tier ModelTier) (*Result, error)
	// Close releases any resources held by the client.
	Close() error
}

// CallError reports a failed provider call with its retry classification.
type CallError struct {
	Provider  string
	Message   string
	Retryable bool
	Cause     error
}

func (e *CallError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s call failed: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s call failed: %s", e.Provider, e.Message)
}

func (e *CallError) Unwrap() error {
	return e.Cause
}

// retryableSubstrings marks transient provider failures. Anything else
// propagates immediately.
var retryableSubstrings = []string{
	"429",
	"500",
	"502",
	"503",
	"rate limit",
	"resource exhausted",
	"connection reset",
	"timeout",
	"deadline exceeded",
}

// IsRetryable classifies an error as a transient provider failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// GeminiClient implements Client for Google Gemini.
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a Gemini-backed text client.
func NewGeminiClient(ctx context.Context, config *Config, apiKey string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if config == nil {
		config = DefaultConfig()
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{client: client, config: config}, nil
}

// GenerateText calls Gemini with retry-with-backoff for transient failures.
// The retry bound here is the provider client's own, distinct from the
// orchestrator's schema-repair retry.
func (c *GeminiClient) GenerateText(ctx context.Context, prompt string, maxOutputTokens int, tier ModelTier) (*Result, error) {
	modelName := c.config.Model(tier)
	if modelName == "" {
		return nil, &CallError{Provider: ProviderGemini, Message: fmt.Sprintf("no model configured for tier %s", tier)}
	}

	model := c.client.GenerativeModel(modelName)
	model.SetTemperature(0.4)
	if maxOutputTokens > 0 {
		model.SetMaxOutputTokens(int32(maxOutputTokens))
	}

	var lastErr error
	delay := c.config.RetryBase
	for attempt := 1; attempt <= c.config.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, &CallError{Provider: ProviderGemini, Message: "context cancelled during retry wait", Cause: ctx.Err()}
			case <-time.After(delay):
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		start := time.Now()
		resp, err := model.GenerateContent(callCtx, genai.Text(prompt))
		elapsed := time.Since(start)
		cancel()

		if err != nil {
			lastErr = err
			if !IsRetryable(err) {
				return nil, &CallError{Provider: ProviderGemini, Message: "generation failed", Cause: err}
			}
			continue
		}

		text, err := extractText(resp)
		if err != nil {
			return nil, &CallError{Provider: ProviderGemini, Message: "empty response", Cause: err}
		}

		// A response cut off at the output token limit is incomplete, not
		// usable text; retry rather than hand truncated JSON downstream.
		if truncated(resp) {
			lastErr = &CallError{Provider: ProviderGemini, Message: "response truncated at max output tokens", Retryable: true}
			continue
		}

		result := &Result{Text: text, ProcessingTime: elapsed}
		if resp.UsageMetadata != nil {
			result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		}
		return result, nil
	}

	return nil, &CallError{Provider: ProviderGemini, Message: fmt.Sprintf("retries exhausted after %d attempts", c.config.MaxAttempts), Retryable: true, Cause: lastErr}
}

// Close releases resources held by the client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// truncated reports whether the provider stopped generating because it hit
// the output token limit.
func truncated(resp *genai.GenerateContentResponse) bool {
	return len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no text parts in response")
	}
	return strings.Join(parts, ""), nil
}
