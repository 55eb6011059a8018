// Package config provides configuration loading and validation for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the CLI configuration that can be loaded from a JSON file.
// All fields are optional; missing values use defaults or must be provided via CLI flags.
type Config struct {
	// Identity
	ProjectID string `json:"project_id,omitempty"` // Project UUID to operate on
	AccountID string `json:"account_id,omitempty"` // Credit account billed for AI calls

	// Providers
	APIKey        string `json:"api_key,omitempty"`        // Gemini API key
	ImageEndpoint string `json:"image_endpoint,omitempty"` // Image synthesis API base URL
	ImageAPIKey   string `json:"image_api_key,omitempty"`  // Image synthesis API key
	ModelTier     string `json:"model_tier,omitempty"`     // "standard" or "advanced"

	// Output
	OutputDir string `json:"output_dir,omitempty"` // Export destination directory
	Variants  int    `json:"variants,omitempty"`   // Image variants per illustration

	// Behavior
	Verbose     bool   `json:"verbose,omitempty"`      // Print detailed debug information
	DatabaseURL string `json:"database_url,omitempty"` // PostgreSQL connection URL
}

// LoadConfig loads configuration from a JSON file.
// Returns an error if the file cannot be read or parsed.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config path is empty")
	}

	// Resolve path relative to current directory if not absolute
	if !filepath.IsAbs(path) {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get current directory: %w", err)
		}
		path = filepath.Join(cwd, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	return &cfg, nil
}

// Validate checks that the configuration has valid values.
// Note: This doesn't check for required fields since those are handled
// by CLI flag validation after merging.
func (c *Config) Validate() error {
	if c.Variants < 0 {
		return fmt.Errorf("config error: 'variants' must be non-negative")
	}
	switch c.ModelTier {
	case "", "standard", "advanced":
	default:
		return fmt.Errorf("config error: 'model_tier' must be \"standard\" or \"advanced\", got %q", c.ModelTier)
	}
	return nil
}

// MergeWithDefaults returns a new Config with empty string fields filled from defaults.
// This is used to apply config file values as defaults for CLI flags.
func (c *Config) MergeWithDefaults(defaults Config) Config {
	result := *c

	// String fields: use default if empty
	if result.ProjectID == "" {
		result.ProjectID = defaults.ProjectID
	}
	if result.AccountID == "" {
		result.AccountID = defaults.AccountID
	}
	if result.APIKey == "" {
		result.APIKey = defaults.APIKey
	}
	if result.ImageEndpoint == "" {
		result.ImageEndpoint = defaults.ImageEndpoint
	}
	if result.ImageAPIKey == "" {
		result.ImageAPIKey = defaults.ImageAPIKey
	}
	if result.ModelTier == "" {
		result.ModelTier = defaults.ModelTier
	}
	if result.OutputDir == "" {
		result.OutputDir = defaults.OutputDir
	}
	if result.DatabaseURL == "" {
		result.DatabaseURL = defaults.DatabaseURL
	}

	// Int fields: use default if zero
	if result.Variants == 0 {
		result.Variants = defaults.Variants
	}

	// Bool fields: cannot distinguish unset from false, so we don't merge
	// (CLI flags should always win for bools)

	return result
}
