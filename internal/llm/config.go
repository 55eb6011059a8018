// Package llm provides the text provider client used by the pipeline's
// structured text stages.
package llm

import "time"

// ModelTier represents the capability level of a model.
type ModelTier string

const (
	// TierStandard is for moderate structured output: JSON repair.
	TierStandard ModelTier = "standard"
	// TierAdvanced is for creative long-form work: outlines, chapters,
	// humanizing.
	TierAdvanced ModelTier = "advanced"
)

// ProviderGemini is the provider name recorded in usage stats for every
// Gemini call.
const ProviderGemini = "gemini"

// Config holds the text provider configuration.
type Config struct {
	Models      map[ModelTier]string
	Timeout     time.Duration
	MaxAttempts int
	RetryBase   time.Duration
}

// DefaultConfig returns the default Gemini configuration.
func DefaultConfig() *Config {
	return &Config{
		Models: map[ModelTier]string{
			TierStandard: "gemini-2.5-flash",
			TierAdvanced: "gemini-2.5-pro",
		},
		Timeout:     90 * time.Second,
		MaxAttempts: 3,
		RetryBase:   time.Second,
	}
}

// Model returns the model name for a tier, falling back to standard.
func (c *Config) Model(tier ModelTier) string {
	if model, ok := c.Models[tier]; ok {
		return model
	}
	return c.Models[TierStandard]
}
