package main

import (
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storybook-agent/internal/config"
)

func TestRunCommand_MissingProject(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run", "--account", "acct-1")
	cmd.Env = append(withoutEnv("GEMINI_API_KEY", "DATABASE_URL"),
		"GEMINI_API_KEY=dummy", "IMAGE_API_ENDPOINT=http://localhost:9", "DATABASE_URL=postgres://localhost/none")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "--project is required")
}

func TestRunCommand_MissingAPIKey(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run",
		"--project", uuid.NewString(),
		"--account", "acct-1")
	cmd.Env = withoutEnv("GEMINI_API_KEY")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "GEMINI_API_KEY environment variable or --api-key flag is required")
}

func TestRunCommand_InvalidProjectID(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run",
		"--project", "not-a-uuid",
		"--account", "acct-1")
	cmd.Env = append(withoutEnv("GEMINI_API_KEY", "DATABASE_URL"),
		"GEMINI_API_KEY=dummy", "IMAGE_API_ENDPOINT=http://localhost:9", "DATABASE_URL=postgres://localhost/none")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "invalid project ID")
}

func TestRunCommand_ConfigFileSuppliesProject(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cfgPath := filepath.Join(t.TempDir(), "config.json")
	writeConfigFile(t, cfgPath, config.Config{
		ProjectID: uuid.NewString(),
		AccountID: "acct-1",
	})

	cmd := exec.Command(binaryPath, "run", "--config", cfgPath)
	cmd.Env = withoutEnv("GEMINI_API_KEY")
	output, err := cmd.CombinedOutput()

	// The project ID parses from the config file; the failure should be
	// the missing API key, not a missing project flag.
	require.Error(t, err)
	assert.NotContains(t, string(output), "--project is required")
	assert.Contains(t, string(output), "GEMINI_API_KEY")
}

func TestRunCommand_RejectsBadTier(t *testing.T) {
	binaryPath := getBinaryPath(t)

	cmd := exec.Command(binaryPath, "run",
		"--project", uuid.NewString(),
		"--account", "acct-1",
		"--tier", "turbo")
	output, err := cmd.CombinedOutput()

	assert.Error(t, err)
	assert.Contains(t, string(output), "model_tier")
}
