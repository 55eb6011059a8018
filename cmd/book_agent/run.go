package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/storybook-agent/internal/config"
	"github.com/jonathan/storybook-agent/internal/pipeline"
)

var runCommand = &cobra.Command{
	Use:   "run",
	Short: "Run the book generation pipeline from the project's current stage",
	Long: `Executes pipeline stages in order starting from the project's current stage: outline -> chapters -> illustrations -> humanize -> layout -> cover -> export.

Chapters and illustrations are capped per run; re-run the command to continue a partially generated book. Configuration can be loaded from a JSON file using --config. Command-line arguments override config file values.`,
	RunE: runPipelineCmd,
}

var (
	runConfigPath    string
	runProject       string
	runAccount       string
	runAPIKey        string
	runImageEndpoint string
	runImageAPIKey   string
	runTier          string
	runVariants      int
	runOutputDir     string
	runReuse         bool
	runVerbose       bool
	runDatabaseURL   string
)

func init() {
	// Config file flag (processed first)
	runCommand.Flags().StringVar(&runConfigPath, "config", "", "Path to config.json file (values can be overridden by other flags)")

	runCommand.Flags().StringVarP(&runProject, "project", "p", "", "Project UUID to run")
	runCommand.Flags().StringVarP(&runAccount, "account", "a", "", "Credit account billed for AI calls")
	runCommand.Flags().StringVar(&runTier, "tier", "", "Text model tier: standard or advanced")
	runCommand.Flags().IntVar(&runVariants, "variants", 0, "Image variants per illustration (0 uses the default)")
	runCommand.Flags().StringVarP(&runOutputDir, "out", "o", "", "Export destination directory")
	runCommand.Flags().BoolVar(&runReuse, "reuse", false, "Skip stages that already have a saved artifact")
	runCommand.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print detailed debug information")

	// API keys can be passed as flags, or read from env vars
	runCommand.Flags().StringVar(&runAPIKey, "api-key", "", "Gemini API Key (optional, defaults to GEMINI_API_KEY env var)")
	runCommand.Flags().StringVar(&runImageEndpoint, "image-endpoint", "", "Image synthesis API base URL (optional, defaults to IMAGE_API_ENDPOINT env var)")
	runCommand.Flags().StringVar(&runImageAPIKey, "image-api-key", "", "Image synthesis API key (optional, defaults to IMAGE_API_KEY env var)")

	// Database URL for project and artifact persistence
	runCommand.Flags().StringVar(&runDatabaseURL, "db-url", "", "PostgreSQL connection URL (optional, defaults to DATABASE_URL env var)")

	rootCmd.AddCommand(runCommand)
}

// resolveRunConfig merges the config file with CLI overrides. Shared with
// the per-stage commands, which reuse the run flag set.
func resolveRunConfig(cmd *cobra.Command) (config.Config, error) {
	var cfg config.Config
	if runConfigPath != "" {
		loadedCfg, err := config.LoadConfig(runConfigPath)
		if err != nil {
			return cfg, fmt.Errorf("failed to load config: %w", err)
		}
		if err := loadedCfg.Validate(); err != nil {
			return cfg, err
		}
		cfg = *loadedCfg
		if runVerbose {
			_, _ = fmt.Fprintf(os.Stdout, "Loaded config from: %s\n", runConfigPath)
		}
	}

	// Command-line args take priority; only override if the flag was
	// explicitly set.
	if cmd.Flags().Changed("project") {
		cfg.ProjectID = runProject
	}
	if cmd.Flags().Changed("account") {
		cfg.AccountID = runAccount
	}
	if cmd.Flags().Changed("api-key") {
		cfg.APIKey = runAPIKey
	}
	if cmd.Flags().Changed("image-endpoint") {
		cfg.ImageEndpoint = runImageEndpoint
	}
	if cmd.Flags().Changed("image-api-key") {
		cfg.ImageAPIKey = runImageAPIKey
	}
	if cmd.Flags().Changed("tier") {
		cfg.ModelTier = runTier
	}
	if cmd.Flags().Changed("variants") {
		cfg.Variants = runVariants
	}
	if cmd.Flags().Changed("out") {
		cfg.OutputDir = runOutputDir
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = runVerbose
	}
	if cmd.Flags().Changed("db-url") {
		cfg.DatabaseURL = runDatabaseURL
	}

	cfg = cfg.MergeWithDefaults(config.Config{
		ModelTier: "advanced",
		OutputDir: "export",
	})
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	resolveEnvFallbacks(&cfg)
	return cfg, nil
}

func runPipelineCmd(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := resolveRunConfig(cmd)
	if err != nil {
		return err
	}

	projectID, err := parseProjectFlag(cfg)
	if err != nil {
		return err
	}

	deps, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.close()

	opts := pipeline.RunOptions{
		Variants:  cfg.Variants,
		Reuse:     runReuse,
		OutputDir: cfg.OutputDir,
	}
	if cfg.Verbose {
		opts.Progress = func(ev pipeline.ProgressEvent) {
			fmt.Printf("[%s] %s: %s\n", ev.Stage, ev.Phase, ev.Message)
		}
	}

	results, err := deps.runner.Run(ctx, projectID, opts)
	printResults(results)
	if cfg.Verbose {
		printStageArtifacts(ctx, deps.store, os.Stdout, projectID, results)
	}
	printUsageReport(deps.stats, cfg.Verbose)
	if err != nil {
		return err
	}

	for _, res := range results {
		if res.Terminal() {
			return fmt.Errorf("pipeline stopped at stage %s: %s", res.Stage, res.Message)
		}
	}
	return nil
}
