package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/storybook-agent/internal/config"
	"github.com/jonathan/storybook-agent/internal/credits"
	"github.com/jonathan/storybook-agent/internal/imagegen"
	"github.com/jonathan/storybook-agent/internal/llm"
	"github.com/jonathan/storybook-agent/internal/observability"
	"github.com/jonathan/storybook-agent/internal/pipeline"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
	"github.com/jonathan/storybook-agent/internal/usage"
)

// resolveEnvFallbacks fills provider and database settings from the
// environment when neither the config file nor a flag supplied them.
func resolveEnvFallbacks(cfg *config.Config) {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.ImageEndpoint == "" {
		cfg.ImageEndpoint = os.Getenv("IMAGE_API_ENDPOINT")
	}
	if cfg.ImageAPIKey == "" {
		cfg.ImageAPIKey = os.Getenv("IMAGE_API_KEY")
	}
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	}
}

// agentDeps bundles the wired collaborators a CLI command needs.
type agentDeps struct {
	store  *store.PostgresStore
	runner *pipeline.Runner
	stats  *usage.Stats
	close  func()
}

// buildDeps connects to Postgres and constructs the text, image, and
// billing clients from the resolved configuration.
func buildDeps(ctx context.Context, cfg config.Config) (*agentDeps, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable or --api-key flag is required")
	}
	if cfg.ImageEndpoint == "" {
		return nil, fmt.Errorf("IMAGE_API_ENDPOINT environment variable or --image-endpoint flag is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}
	if cfg.AccountID == "" {
		return nil, fmt.Errorf("--account is required (via flag or config)")
	}

	projectStore, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	textClient, err := llm.NewGeminiClient(ctx, llm.DefaultConfig(), cfg.APIKey)
	if err != nil {
		projectStore.Close()
		return nil, fmt.Errorf("failed to create text client: %w", err)
	}

	images := imagegen.NewClient(cfg.ImageEndpoint, cfg.ImageAPIKey, nil)
	ledger := credits.NewPostgresLedger(projectStore.Pool())
	stats := usage.NewStats()

	runner := pipeline.NewRunner(pipeline.Config{
		Store:     projectStore,
		Text:      textClient,
		Images:    images,
		Ledger:    ledger,
		Stats:     stats,
		AccountID: cfg.AccountID,
		Tier:      llm.ModelTier(cfg.ModelTier),
	})

	return &agentDeps{
		store:  projectStore,
		runner: runner,
		stats:  stats,
		close: func() {
			_ = textClient.Close()
			projectStore.Close()
		},
	}, nil
}

// parseProjectFlag parses the project UUID shared by most commands.
func parseProjectFlag(cfg config.Config) (uuid.UUID, error) {
	if cfg.ProjectID == "" {
		return uuid.Nil, fmt.Errorf("--project is required (via flag or config)")
	}
	id, err := uuid.Parse(cfg.ProjectID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid project ID %q: %w", cfg.ProjectID, err)
	}
	return id, nil
}

// printResults reports each stage outcome and flags results that need a
// human follow-up.
func printResults(results []*pipeline.StageResult) {
	for _, res := range results {
		line := fmt.Sprintf("%-14s %-13s %s", res.Stage, res.Status, res.Message)
		if res.CreditsCharged > 0 {
			line += fmt.Sprintf(" (%d credits, %d calls, %s)",
				res.CreditsCharged, res.CallsMade, res.Duration.Round(time.Millisecond))
		}
		fmt.Println(line)
	}
}

func printUsageReport(stats *usage.Stats, verbose bool) {
	if !verbose {
		return
	}
	observability.NewPrinter(os.Stdout).PrintUsage(stats)
}

// printStageArtifacts shows the text artifacts produced by this run in
// verbose mode, so a generation can be inspected without a second command.
func printStageArtifacts(ctx context.Context, s store.ProjectStore, w io.Writer, projectID uuid.UUID, results []*pipeline.StageResult) {
	printer := observability.NewPrinter(w)
	for _, res := range results {
		if res.Status != pipeline.StatusOk {
			continue
		}
		switch res.Stage {
		case types.StageOutline:
			var outline types.Outline
			if store.LoadArtifact(ctx, s, projectID, types.StageOutline, &outline) == nil {
				printer.PrintOutline(&outline)
			}
		case types.StageChapters:
			var set types.ChapterSet
			if store.LoadArtifact(ctx, s, projectID, types.StageChapters, &set) == nil {
				printer.PrintChapters(&set)
			}
		case types.StageIllustrations:
			var set types.IllustrationSet
			if store.LoadArtifact(ctx, s, projectID, types.StageIllustrations, &set) == nil {
				printer.PrintIllustrations(&set)
			}
		}
	}
}
