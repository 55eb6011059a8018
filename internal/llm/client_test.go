package llm

import (
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateResponse(text string, reason genai.FinishReason) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			FinishReason: reason,
			Content:      &genai.Content{Parts: []genai.Part{genai.Text(text)}},
		}},
	}
}

func TestExtractText(t *testing.T) {
	text, err := extractText(candidateResponse(`{"a": 1}`, genai.FinishReasonStop))
	require.NoError(t, err)
	assert.Equal(t, `{"a": 1}`, text)

	_, err = extractText(&genai.GenerateContentResponse{})
	assert.Error(t, err)

	_, err = extractText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}})
	assert.Error(t, err)
}

func TestTruncatedDetectsMaxTokenCutoff(t *testing.T) {
	// A response that stopped at the token limit is incomplete even when
	// it carries text; it must be retried, not parsed.
	assert.True(t, truncated(candidateResponse(`{"title": "The Lant`, genai.FinishReasonMaxTokens)))
	assert.False(t, truncated(candidateResponse(`{"title": "done"}`, genai.FinishReasonStop)))
	assert.False(t, truncated(&genai.GenerateContentResponse{}))
}
