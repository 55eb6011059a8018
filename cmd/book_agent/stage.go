package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jonathan/storybook-agent/internal/pipeline"
	"github.com/jonathan/storybook-agent/internal/types"
)

var stageCommand = &cobra.Command{
	Use:       "stage [outline|chapters|illustrations|humanize|layout|cover|export]",
	Short:     "Run a single pipeline stage for a project",
	Long:      "Runs exactly one stage and reports its outcome. The stage must match the project's current position in the pipeline; earlier stages must already have artifacts.",
	Args:      cobra.ExactArgs(1),
	ValidArgs: stageNames(),
	RunE:      runStageCmd,
}

func init() {
	// The stage command shares the run command's configuration flags.
	stageCommand.Flags().AddFlagSet(runCommand.Flags())
	rootCmd.AddCommand(stageCommand)
}

func stageNames() []string {
	names := make([]string, 0, len(types.PipelineOrder))
	for _, s := range types.PipelineOrder {
		names = append(names, string(s))
	}
	return names
}

func runStageCmd(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	stage := types.Stage(args[0])
	if !stage.Valid() || stage == types.StageJSONRepair {
		return fmt.Errorf("unknown stage %q (expected one of: outline, chapters, illustrations, humanize, layout, cover, export)", args[0])
	}

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

	res, err := deps.runner.RunStage(ctx, projectID, stage, opts)
	if res != nil {
		printResults([]*pipeline.StageResult{res})
		if cfg.Verbose {
			printStageArtifacts(ctx, deps.store, os.Stdout, projectID, []*pipeline.StageResult{res})
		}
	}
	printUsageReport(deps.stats, cfg.Verbose)
	if err != nil {
		return err
	}
	if res.Terminal() {
		return fmt.Errorf("stage %s did not complete: %s", res.Stage, res.Message)
	}
	return nil
}
