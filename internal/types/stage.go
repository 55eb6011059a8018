// Package types defines the shared data model for the book generation pipeline.
package types

// Stage identifies one step of the book generation pipeline.
type Stage string

// Pipeline stages in their expected execution order.
const (
	StageOutline       Stage = "outline"
	StageChapters      Stage = "chapters"
	StageIllustrations Stage = "illustrations"
	StageHumanize      Stage = "humanize"
	StageLayout        Stage = "layout"
	StageCover         Stage = "cover"
	StageExport        Stage = "export"

	// StageJSONRepair is the synthetic stage used for the single free
	// schema-repair call; it never appears as a project's current stage.
	StageJSONRepair Stage = "json_repair"
)

// PipelineOrder lists the stages a full run executes, in order.
var PipelineOrder = []Stage{
	StageOutline,
	StageChapters,
	StageIllustrations,
	StageHumanize,
	StageLayout,
	StageCover,
	StageExport,
}

// Next returns the stage that follows s in the pipeline, or empty when s is
// the last stage or not part of the pipeline order.
func (s Stage) Next() Stage {
	for i, stage := range PipelineOrder {
		if stage == s && i+1 < len(PipelineOrder) {
			return PipelineOrder[i+1]
		}
	}
	return ""
}

// Valid reports whether s is a known pipeline stage.
func (s Stage) Valid() bool {
	if s == StageJSONRepair {
		return true
	}
	for _, stage := range PipelineOrder {
		if stage == s {
			return true
		}
	}
	return false
}
