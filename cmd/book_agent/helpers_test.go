package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/storybook-agent/internal/config"
	"github.com/jonathan/storybook-agent/internal/pipeline"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
)

func writeConfigFile(t *testing.T, path string, cfg config.Config) {
	t.Helper()
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestParseProjectFlag(t *testing.T) {
	_, err := parseProjectFlag(config.Config{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "--project is required")

	_, err = parseProjectFlag(config.Config{ProjectID: "garbage"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid project ID")

	id, err := parseProjectFlag(config.Config{ProjectID: "3f1c0a52-0f0e-4b2a-9f5d-6a7b8c9d0e1f"})
	require.NoError(t, err)
	require.Equal(t, "3f1c0a52-0f0e-4b2a-9f5d-6a7b8c9d0e1f", id.String())
}

func TestResolveEnvFallbacks(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-key")
	t.Setenv("IMAGE_API_ENDPOINT", "https://img.example.com")
	t.Setenv("DATABASE_URL", "postgres://env")

	cfg := config.Config{APIKey: "from-config"}
	resolveEnvFallbacks(&cfg)

	// Explicit values win; empty fields fill from the environment.
	require.Equal(t, "from-config", cfg.APIKey)
	require.Equal(t, "https://img.example.com", cfg.ImageEndpoint)
	require.Equal(t, "postgres://env", cfg.DatabaseURL)
}

func TestPrintStageArtifacts_ShowsCompletedStages(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	projectID := uuid.New()

	outline := types.Outline{
		Title:    "The Lantern in the Orchard",
		Chapters: []types.OutlineChapter{{Number: 1, Title: "A Light Appears"}},
	}
	require.NoError(t, s.SaveArtifact(ctx, projectID, types.StageOutline, outline))

	var buf bytes.Buffer
	printStageArtifacts(ctx, s, &buf, projectID, []*pipeline.StageResult{
		{Stage: types.StageOutline, Status: pipeline.StatusOk},
		{Stage: types.StageChapters, Status: pipeline.StatusFailed},
	})

	out := buf.String()
	require.Contains(t, out, "The Lantern in the Orchard")
	require.Contains(t, out, "A Light Appears")

	// Stages that did not complete print nothing, and neither does a
	// completed stage whose artifact is missing from the store.
	buf.Reset()
	printStageArtifacts(ctx, s, &buf, projectID, []*pipeline.StageResult{
		{Stage: types.StageChapters, Status: pipeline.StatusOk},
	})
	require.Empty(t, buf.String())
}

func TestStageNamesCoverPipeline(t *testing.T) {
	names := stageNames()
	require.Equal(t, []string{
		"outline", "chapters", "illustrations", "humanize", "layout", "cover", "export",
	}, names)
}
