package budget

import (
	"fmt"

	"github.com/jonathan/storybook-agent/internal/types"
)

// Meter tracks tokens requested across one project run against the global
// book ceiling. A stage must be refused when its reservation would cross
// the ceiling even if its stage-local budget alone would allow it.
type Meter struct {
	ceiling int
	used    int
}

// NewMeter returns a meter with the global book token ceiling.
func NewMeter() *Meter {
	return &Meter{ceiling: BookTokenCeiling}
}

// NewMeterWithCeiling returns a meter with a custom ceiling, for tests.
func NewMeterWithCeiling(ceiling int) *Meter {
	return &Meter{ceiling: ceiling}
}

// Reserve records the tokens a stage call will request: the prompt estimate
// plus the stage's max output tokens. It fails without recording anything
// when the reservation would cross the ceiling.
func (m *Meter) Reserve(stage types.Stage, promptTokens int) error {
	b, ok := table[stage]
	if !ok {
		return fmt.Errorf("no budget defined for stage %q", stage)
	}
	requested := promptTokens + b.MaxOutputTokens
	if m.used+requested > m.ceiling {
		return fmt.Errorf("stage %q refused: %d tokens already requested this run, %d more would exceed the book ceiling of %d",
			stage, m.used, requested, m.ceiling)
	}
	m.used += requested
	return nil
}

// Used returns the tokens reserved so far.
func (m *Meter) Used() int {
	return m.used
}
