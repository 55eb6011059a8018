package pipeline

import (
	"errors"
	"fmt"

	"github.com/jonathan/storybook-agent/internal/types"
)

// ErrRunInFlight is returned when a second run is started for a project
// that already has one in progress.
var ErrRunInFlight = errors.New("pipeline: a run is already in progress for this project")

// Error wraps a stage failure with enough context to diagnose it.
type Error struct {
	Stage   types.Stage
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("stage %s: %s: %v", e.Stage, e.Message, e.Cause)
	}
	return fmt.Sprintf("stage %s: %s", e.Stage, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}
