// Package layout turns finished artifacts into a page plan and exports the
// book bundle to disk.
package layout

import "fmt"

// ExportError represents a failure writing the book bundle.
type ExportError struct {
	Path    string
	Message string
	Cause   error
}

func (e *ExportError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("export error: %s (%s): %v", e.Message, e.Path, e.Cause)
	}
	return fmt.Sprintf("export error: %s (%s)", e.Message, e.Path)
}

func (e *ExportError) Unwrap() error {
	return e.Cause
}
