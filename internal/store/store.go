// Package store provides the project store: the authoritative persistence
// layer for projects, characters, knowledge bases, and stage artifacts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/storybook-agent/internal/types"
)

// ErrNotFound reports a missing project or artifact.
var ErrNotFound = errors.New("not found")

// StorageError wraps a failed store operation. The pipeline retries
// persistence once before surfacing it.
type StorageError struct {
	Op    string
	Cause error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error during %s: %v", e.Op, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// ProjectStore is the narrow interface the pipeline uses. The store is
// authoritative: the pipeline re-reads between stages rather than caching.
type ProjectStore interface {
	GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error)
	UpdateProject(ctx context.Context, id uuid.UUID, patch types.ProjectPatch) error

	// SaveArtifact upserts the artifact for (project, stage).
	SaveArtifact(ctx context.Context, projectID uuid.UUID, stage types.Stage, content any) error
	// GetArtifact returns the raw artifact JSON, or ErrNotFound.
	GetArtifact(ctx context.Context, projectID uuid.UUID, stage types.Stage) ([]byte, error)

	GetCharacters(ctx context.Context, ids []string) ([]types.Character, error)
	GetKnowledgeBase(ctx context.Context, projectID uuid.UUID) (*types.KnowledgeBaseSummary, error)
}

// LoadArtifact fetches and decodes a stage artifact into out. Returns
// ErrNotFound when the stage has not produced one yet.
func LoadArtifact(ctx context.Context, s ProjectStore, projectID uuid.UUID, stage types.Stage, out any) error {
	raw, err := s.GetArtifact(ctx, projectID, stage)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &StorageError{Op: fmt.Sprintf("decode %s artifact", stage), Cause: err}
	}
	return nil
}
