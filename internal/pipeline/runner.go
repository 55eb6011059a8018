// Package pipeline orchestrates the book generation stages: it assembles
// prompts, enforces budgets and credits, calls the AI providers, validates
// and repairs structured output, and persists one artifact per stage.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/storybook-agent/internal/budget"
	"github.com/jonathan/storybook-agent/internal/credits"
	"github.com/jonathan/storybook-agent/internal/imagegen"
	"github.com/jonathan/storybook-agent/internal/llm"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
	"github.com/jonathan/storybook-agent/internal/usage"
)

// errCancelled is the internal signal that the run's cancel token was set
// before a remote call. It never escapes the package; callers see a
// StageResult with StatusCancelled.
var errCancelled = errors.New("run cancelled before remote call")

// Config carries the collaborators a Runner needs.
type Config struct {
	Store     store.ProjectStore
	Text      llm.Client
	Images    imagegen.Provider
	Ledger    credits.Ledger
	Stats     *usage.Stats
	AccountID string

	// Tier selects the text model tier. Empty means standard.
	Tier llm.ModelTier

	// OnProgress, when set, receives stage progress events.
	OnProgress ProgressFunc
}

// Runner executes pipeline stages for projects. It holds no per-project
// state beyond an in-flight marker; the store is authoritative.
type Runner struct {
	store  store.ProjectStore
	text   llm.Client
	images imagegen.Provider
	ledger credits.Ledger
	stats  *usage.Stats

	accountID  string
	tier       llm.ModelTier
	onProgress ProgressFunc

	mu      sync.Mutex
	running map[uuid.UUID]bool
}

// NewRunner builds a Runner from its collaborators.
func NewRunner(cfg Config) *Runner {
	tier := cfg.Tier
	if tier == "" {
		tier = llm.TierStandard
	}
	stats := cfg.Stats
	if stats == nil {
		stats = usage.NewStats()
	}
	return &Runner{
		store:      cfg.Store,
		text:       cfg.Text,
		images:     cfg.Images,
		ledger:     cfg.Ledger,
		stats:      stats,
		accountID:  cfg.AccountID,
		tier:       tier,
		onProgress: cfg.OnProgress,
		running:    make(map[uuid.UUID]bool),
	}
}

// Stats exposes the usage counters accumulated by this runner.
func (r *Runner) Stats() *usage.Stats {
	return r.stats
}

// RunOptions tune a single run.
type RunOptions struct {
	// Cancel, when set, is polled before every remote call.
	Cancel *types.CancelToken

	// Variants is the number of image variants generated per illustration.
	// Zero means one; values above the per-illustration cap are clamped.
	Variants int

	// Reuse skips a stage whose artifact already exists instead of
	// regenerating it.
	Reuse bool

	// OutputDir is where the export stage writes the book bundle.
	OutputDir string

	// Progress overrides the runner's progress callback for this run.
	Progress ProgressFunc
}

func (o RunOptions) variants() int {
	switch {
	case o.Variants <= 0:
		return 1
	case o.Variants > budget.MaxVariantsPerIllustration:
		return budget.MaxVariantsPerIllustration
	default:
		return o.Variants
	}
}

// runState is the per-run working set shared by the stage methods.
type runState struct {
	r       *Runner
	project *types.Project
	opts    RunOptions
	meter   *budget.Meter
}

func (rs *runState) cancelled() bool {
	return rs.opts.Cancel.Cancelled()
}

func (rs *runState) emit(stage types.Stage, phase, format string, args ...any) {
	cb := rs.opts.Progress
	if cb == nil {
		cb = rs.r.onProgress
	}
	if cb == nil {
		return
	}
	cb(ProgressEvent{Stage: stage, Phase: phase, Message: fmt.Sprintf(format, args...)})
}

// charge deducts the stage's credit cost under a fresh attempt ID. The
// ledger is idempotent per attempt, so a retried provider call within the
// same attempt never double-bills.
func (rs *runState) charge(ctx context.Context, stage types.Stage, cost int, res *StageResult) error {
	if err := rs.r.ledger.Deduct(ctx, rs.r.accountID, uuid.New(), stage, cost); err != nil {
		return err
	}
	res.CreditsCharged += cost
	return nil
}

// persist saves a stage artifact, retrying once on storage failure.
func (rs *runState) persist(ctx context.Context, stage types.Stage, content any) error {
	err := rs.r.store.SaveArtifact(ctx, rs.project.ID, stage, content)
	if err == nil {
		return nil
	}
	rs.emit(stage, "persist_retry", "artifact save failed, retrying: %v", err)
	if err = rs.r.store.SaveArtifact(ctx, rs.project.ID, stage, content); err != nil {
		return &Error{Stage: stage, Message: "artifact save failed after retry", Cause: err}
	}
	return nil
}

// advance moves the project's stage pointer to the stage after from.
func (rs *runState) advance(ctx context.Context, from types.Stage) error {
	next := from.Next()
	if next == "" {
		return nil
	}
	if err := rs.r.store.UpdateProject(ctx, rs.project.ID, types.ProjectPatch{CurrentStage: &next}); err != nil {
		return &Error{Stage: from, Message: "failed to advance stage pointer", Cause: err}
	}
	rs.project.CurrentStage = next
	return nil
}

// lock marks the project as having a run in flight.
func (r *Runner) lock(projectID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[projectID] {
		return ErrRunInFlight
	}
	r.running[projectID] = true
	return nil
}

func (r *Runner) unlock(projectID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, projectID)
}

// RunStage executes a single stage for the project and returns its result.
// The returned error covers infrastructure problems only; stage-level
// failures are reported through the result status.
func (r *Runner) RunStage(ctx context.Context, projectID uuid.UUID, stage types.Stage, opts RunOptions) (*StageResult, error) {
	if !stage.Valid() || stage == types.StageJSONRepair {
		return nil, fmt.Errorf("stage %q cannot be run directly", stage)
	}
	if err := r.lock(projectID); err != nil {
		return nil, err
	}
	defer r.unlock(projectID)

	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rs := &runState{r: r, project: project, opts: opts, meter: budget.NewMeter()}
	return rs.executeStage(ctx, stage), nil
}

// Run executes the pipeline from the project's current stage until the book
// is exported, a stage fails, or a bounded stage leaves work for a later
// run. The token meter spans the whole run.
func (r *Runner) Run(ctx context.Context, projectID uuid.UUID, opts RunOptions) ([]*StageResult, error) {
	if err := r.lock(projectID); err != nil {
		return nil, err
	}
	defer r.unlock(projectID)

	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	rs := &runState{r: r, project: project, opts: opts, meter: budget.NewMeter()}

	var results []*StageResult
	for {
		stage := rs.project.CurrentStage
		if stage == "" {
			stage = types.StageOutline
		}
		res := rs.executeStage(ctx, stage)
		results = append(results, res)
		if res.Terminal() {
			return results, nil
		}
		if stage == types.StageExport {
			return results, nil
		}
		if rs.project.CurrentStage == stage && res.Status == StatusOk {
			// Bounded stage with work remaining; the per-run caps
			// reset on the next run, not mid-run.
			return results, nil
		}
	}
}

// executeStage dispatches one stage and stamps the shared result fields.
func (rs *runState) executeStage(ctx context.Context, stage types.Stage) *StageResult {
	res := &StageResult{Stage: stage, Status: StatusOk}
	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()

	if rs.opts.Reuse {
		if _, err := rs.r.store.GetArtifact(ctx, rs.project.ID, stage); err == nil {
			res.Status = StatusSkipped
			res.Message = "existing artifact reused"
			if res2 := rs.skipAdvance(ctx, stage, res); res2 != nil {
				return res2
			}
			return res
		}
	}

	rs.emit(stage, "start", "running stage %s", stage)
	switch stage {
	case types.StageOutline:
		rs.runOutline(ctx, res)
	case types.StageChapters:
		rs.runChapters(ctx, res)
	case types.StageIllustrations:
		rs.runIllustrations(ctx, res)
	case types.StageHumanize:
		rs.runHumanize(ctx, res)
	case types.StageLayout:
		rs.runLayout(ctx, res)
	case types.StageCover:
		rs.runCover(ctx, res)
	case types.StageExport:
		rs.runExport(ctx, res)
	default:
		res.Status = StatusFailed
		res.Message = fmt.Sprintf("unknown stage %q", stage)
	}
	rs.emit(stage, "done", "stage %s finished: %s", stage, res.Status)
	return res
}

// skipAdvance moves the pointer past a reused stage so the run continues.
func (rs *runState) skipAdvance(ctx context.Context, stage types.Stage, res *StageResult) *StageResult {
	if rs.project.CurrentStage != stage {
		return nil
	}
	if err := rs.advance(ctx, stage); err != nil {
		res.Status = StatusFailed
		res.Message = err.Error()
		return res
	}
	return nil
}

// fail marks the result failed and leaves the stage pointer untouched so a
// retry resumes at the same stage.
func fail(res *StageResult, err error) {
	res.Status = StatusFailed
	res.Message = err.Error()
}

// rejectError wraps a precondition failure, like crossing the book token
// ceiling, so classify reports it as Rejected rather than Failed.
type rejectError struct{ cause error }

func (e *rejectError) Error() string { return e.cause.Error() }
func (e *rejectError) Unwrap() error { return e.cause }

// classify maps an error from the structured-generation path onto a result
// status.
func classify(res *StageResult, err error) {
	switch {
	case errors.Is(err, errCancelled):
		res.Status = StatusCancelled
		res.Message = err.Error()
	case errors.Is(err, credits.ErrInsufficientCredits):
		res.Status = StatusRejected
		res.Message = err.Error()
	default:
		var be *budget.Error
		var re *rejectError
		if errors.As(err, &be) || errors.As(err, &re) {
			res.Status = StatusRejected
			res.Message = err.Error()
			return
		}
		fail(res, err)
	}
}
