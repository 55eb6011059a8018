package pipeline

import (
	"time"

	"github.com/jonathan/storybook-agent/internal/types"
)

// Status classifies the outcome of a single stage run.
type Status string

const (
	// StatusOk means the stage produced and persisted its artifact.
	StatusOk Status = "ok"
	// StatusRejected means the stage was refused before any billable call
	// was made (budget overrun, insufficient credits). Nothing was charged.
	StatusRejected Status = "rejected"
	// StatusNeedsReview means the stage persisted a raw-text artifact that
	// failed structured parsing even after repair.
	StatusNeedsReview Status = "needs_review"
	// StatusCancelled means the run's cancel token was set before a remote
	// call and the stage stopped cooperatively.
	StatusCancelled Status = "cancelled"
	// StatusFailed means a remote call or persistence failed after retries.
	StatusFailed Status = "failed"
	// StatusSkipped means the artifact already existed and the caller asked
	// for it to be reused.
	StatusSkipped Status = "skipped"
)

// StageResult reports one stage execution back to the caller.
type StageResult struct {
	Stage    types.Stage   `json:"stage"`
	Status   Status        `json:"status"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`

	// CreditsCharged is the total deducted during this stage run.
	CreditsCharged int `json:"credits_charged"`
	// CallsMade counts billable remote AI calls issued by this stage.
	CallsMade int `json:"calls_made"`
}

// Terminal reports whether the run should stop after this result.
func (r *StageResult) Terminal() bool {
	switch r.Status {
	case StatusOk, StatusSkipped:
		return false
	default:
		return true
	}
}

// ProgressEvent is emitted as a stage moves through its phases.
type ProgressEvent struct {
	Stage   types.Stage `json:"stage"`
	Phase   string      `json:"phase"`
	Message string      `json:"message"`
}

// ProgressFunc receives progress events. Callbacks must not block.
type ProgressFunc func(ProgressEvent)
