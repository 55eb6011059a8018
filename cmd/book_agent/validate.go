package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/storybook-agent/internal/consistency"
	"github.com/jonathan/storybook-agent/internal/observability"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
)

var validateCommand = &cobra.Command{
	Use:   "validate",
	Short: "Check a project's illustrations for visual consistency",
	Long:  "Loads the saved illustration set and reports seed drift, missing reference chains, and unselected variants. Exits non-zero when a fatal consistency issue is found.",
	RunE:  runValidateCmd,
}

var (
	validateProject     string
	validateDatabaseURL string
	validateVerbose     bool
)

func init() {
	validateCommand.Flags().StringVarP(&validateProject, "project", "p", "", "Project UUID to validate")
	validateCommand.Flags().StringVar(&validateDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")
	validateCommand.Flags().BoolVarP(&validateVerbose, "verbose", "v", false, "Also print the illustration set summary")
	rootCmd.AddCommand(validateCommand)
}

func runValidateCmd(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	if validateProject == "" {
		return fmt.Errorf("--project is required")
	}
	projectID, err := uuid.Parse(validateProject)
	if err != nil {
		return fmt.Errorf("invalid project ID %q: %w", validateProject, err)
	}

	databaseURL := validateDatabaseURL
	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable or --db-url flag is required")
	}

	projectStore, err := store.Connect(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer projectStore.Close()

	var set types.IllustrationSet
	if err := store.LoadArtifact(ctx, projectStore, projectID, types.StageIllustrations, &set); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("project %s has no illustrations yet; run the illustrations stage first", projectID)
		}
		return fmt.Errorf("failed to load illustrations: %w", err)
	}

	report := consistency.ValidateSet(&set)

	printer := observability.NewPrinter(os.Stdout)
	if validateVerbose {
		printer.PrintIllustrations(&set)
	}
	printer.PrintConsistencyReport(report)

	if report.Fatal() {
		return fmt.Errorf("illustration set failed consistency validation")
	}
	return nil
}
