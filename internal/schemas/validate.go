// Package schemas provides JSON Schema validation for the structured stage
// artifacts. Schemas are embedded at compile time.
package schemas

import (
	"embed"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/jonathan/storybook-agent/internal/types"
)

//go:embed *.json
var schemaFiles embed.FS

// stageSchemas maps each structured text stage to its embedded schema file.
var stageSchemas = map[types.Stage]string{
	types.StageOutline:  "outline.json",
	types.StageChapters: "chapter.json",
	types.StageHumanize: "humanize.json",
}

// FieldError is a single validation error at a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError reports a document that failed schema validation,
// with field paths.
type ValidationError struct {
	Stage  types.Stage
	Errors []FieldError
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s response failed schema validation:\n", ve.Stage)
	for i, err := range ve.Errors {
		fmt.Fprintf(&sb, "  %d. %s: %s\n", i+1, err.Field, err.Message)
	}
	return sb.String()
}

// ForStage returns the raw schema text for a stage, or empty when the stage
// has no structured schema (image and layout stages).
func ForStage(stage types.Stage) string {
	file, ok := stageSchemas[stage]
	if !ok {
		return ""
	}
	data, err := schemaFiles.ReadFile(file)
	if err != nil {
		// Embedded files cannot go missing at runtime.
		panic(fmt.Sprintf("missing embedded schema %s: %v", file, err))
	}
	return string(data)
}

// ValidateStage validates a JSON document against the stage's schema.
// A malformed document or a schema miss yields a *ValidationError; stages
// without a schema accept anything.
func ValidateStage(stage types.Stage, jsonContent string) error {
	schema := ForStage(stage)
	if schema == "" {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewStringLoader(jsonContent),
	)
	if err != nil {
		// The document did not even parse as JSON.
		return &ValidationError{
			Stage:  stage,
			Errors: []FieldError{{Field: "(root)", Message: err.Error()}},
		}
	}

	if result.Valid() {
		return nil
	}

	ve := &ValidationError{Stage: stage, Errors: make([]FieldError, 0, len(result.Errors()))}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		ve.Errors = append(ve.Errors, FieldError{Field: field, Message: desc.Description()})
	}
	return ve
}
