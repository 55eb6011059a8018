// Package budget enforces the per-stage token and credit budgets checked
// before any remote AI call is made.
package budget

import (
	"fmt"

	"github.com/jonathan/storybook-agent/internal/types"
)

// StageBudget is the fixed budget for one pipeline stage.
type StageBudget struct {
	MaxOutputTokens int
	MaxPromptTokens int
	CreditCost      int
}

// Global per-run caps. These bound a single pipeline run regardless of the
// stage-local budgets.
const (
	// BookTokenCeiling is the hard cap on tokens requested across one
	// project's full pipeline run (prompt estimate plus requested output).
	BookTokenCeiling = 100000

	// MaxChaptersPerRun bounds chapter generation calls in one run.
	MaxChaptersPerRun = 2

	// MaxIllustrationsPerRun bounds illustration items generated in one run.
	MaxIllustrationsPerRun = 4

	// MaxVariantsPerIllustration bounds image variants per illustration.
	MaxVariantsPerIllustration = 3

	// MaxRetriesPerStage is the hard ceiling on repair attempts per stage,
	// enforced by the orchestrator rather than the provider clients.
	MaxRetriesPerStage = 1
)

// table is the fixed per-stage budget table. Not mutated at runtime.
var table = map[types.Stage]StageBudget{
	types.StageOutline:       {MaxOutputTokens: 1200, MaxPromptTokens: 3000, CreditCost: 1},
	types.StageChapters:      {MaxOutputTokens: 2500, MaxPromptTokens: 4000, CreditCost: 3},
	types.StageHumanize:      {MaxOutputTokens: 2500, MaxPromptTokens: 5000, CreditCost: 2},
	types.StageIllustrations: {MaxOutputTokens: 0, MaxPromptTokens: 1000, CreditCost: 8},
	types.StageCover:         {MaxOutputTokens: 0, MaxPromptTokens: 1000, CreditCost: 5},
	types.StageJSONRepair:    {MaxOutputTokens: 2000, MaxPromptTokens: 4000, CreditCost: 0},
}

// ForStage returns the budget for a stage. Stages with no remote call
// (layout, export) have a zero budget and ok=false.
func ForStage(stage types.Stage) (StageBudget, bool) {
	b, ok := table[stage]
	return b, ok
}

// EstimateTokens estimates the token count of text using the fixed
// characters-divided-by-four heuristic, rounded up. The heuristic is part of
// the budget contract and must stay deterministic.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// Error reports a prompt that exceeds a stage's budget. It is never
// retried and never charged.
type Error struct {
	Stage    types.Stage
	Estimate int
	Limit    int
}

func (e *Error) Error() string {
	return fmt.Sprintf("prompt for stage %q is over budget: estimated %d tokens, limit %d", e.Stage, e.Estimate, e.Limit)
}

// CheckPrompt validates promptText against the stage's max prompt tokens.
// It returns a *Error when the estimate exceeds the limit, and an error for
// stages with no budget entry.
func CheckPrompt(stage types.Stage, promptText string) error {
	b, ok := table[stage]
	if !ok {
		return fmt.Errorf("no budget defined for stage %q", stage)
	}
	estimate := EstimateTokens(promptText)
	if estimate > b.MaxPromptTokens {
		return &Error{Stage: stage, Estimate: estimate, Limit: b.MaxPromptTokens}
	}
	return nil
}
