package imagegen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() *Options {
	return &Options{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		RetryBase:   time.Millisecond,
	}
}

func TestGenerateImage_Success(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/generate", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"image_url": "https://img.example/p1.png",
			"seed":      got.Seed,
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", fastOptions())
	result, err := client.GenerateImage(context.Background(), Request{
		Prompt:            "a lamb by a stream",
		NegativePrompt:    "text",
		Width:             1024,
		Height:            768,
		Seed:              42,
		References:        []string{"https://img.example/ref.png"},
		ReferenceStrength: 0.95,
	})
	require.NoError(t, err)

	assert.Equal(t, "https://img.example/p1.png", result.ImageURL)
	assert.Equal(t, int64(42), result.Seed)
	assert.Greater(t, result.ProcessingTime, time.Duration(0))
	assert.Equal(t, 0.95, got.ReferenceStrength)
	assert.Equal(t, []string{"https://img.example/ref.png"}, got.References)
}

func TestGenerateImage_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"image_url": "https://img.example/ok.png", "seed": 7})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", fastOptions())
	result, err := client.GenerateImage(context.Background(), Request{Prompt: "p", Width: 10, Height: 10})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "https://img.example/ok.png", result.ImageURL)
}

func TestGenerateImage_RetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "slow down", http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"image_url": "https://img.example/ok.png"})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", fastOptions())
	_, err := client.GenerateImage(context.Background(), Request{Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGenerateImage_NoRetryOnBadRequest(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad prompt", http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", fastOptions())
	_, err := client.GenerateImage(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.False(t, genErr.Retryable)
	assert.Equal(t, http.StatusBadRequest, genErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load(), "400 responses must not be retried")
}

func TestGenerateImage_RetriesExhausted(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", fastOptions())
	_, err := client.GenerateImage(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())

	var genErr *Error
	require.ErrorAs(t, err, &genErr)
	assert.True(t, genErr.Retryable)
	assert.Contains(t, genErr.Error(), "retries exhausted")
}

func TestGenerateImage_MissingImageURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"seed": 1})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", fastOptions())
	_, err := client.GenerateImage(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no image URL")
}

func TestCancelGeneration(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/cancel", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", fastOptions())
	assert.NoError(t, client.CancelGeneration(context.Background(), "tok"))
}
