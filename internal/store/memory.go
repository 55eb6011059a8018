package store

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/storybook-agent/internal/types"
)

type artifactKey struct {
	project uuid.UUID
	stage   types.Stage
}

// MemoryStore is an in-memory ProjectStore for tests and DB-less runs.
type MemoryStore struct {
	mu         sync.RWMutex
	projects   map[uuid.UUID]*types.Project
	characters map[string]types.Character
	knowledge  map[uuid.UUID]*types.KnowledgeBaseSummary
	artifacts  map[artifactKey][]byte

	// FailSaves makes the next N SaveArtifact calls fail, for exercising
	// the pipeline's persistence retry.
	FailSaves int
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:   make(map[uuid.UUID]*types.Project),
		characters: make(map[string]types.Character),
		knowledge:  make(map[uuid.UUID]*types.KnowledgeBaseSummary),
		artifacts:  make(map[artifactKey][]byte),
	}
}

// PutProject seeds a project.
func (m *MemoryStore) PutProject(p *types.Project) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *p
	m.projects[p.ID] = &copied
}

// PutCharacter seeds a character.
func (m *MemoryStore) PutCharacter(c types.Character) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.characters[c.ID] = c
}

// PutKnowledgeBase seeds a knowledge base summary.
func (m *MemoryStore) PutKnowledgeBase(projectID uuid.UUID, kb *types.KnowledgeBaseSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.knowledge[projectID] = kb
}

// GetProject returns a copy of the stored project.
func (m *MemoryStore) GetProject(_ context.Context, id uuid.UUID) (*types.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *p
	return &copied, nil
}

// UpdateProject applies the non-nil patch fields.
func (m *MemoryStore) UpdateProject(_ context.Context, id uuid.UUID, patch types.ProjectPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return ErrNotFound
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.CurrentStage != nil {
		p.CurrentStage = *patch.CurrentStage
	}
	return nil
}

// SaveArtifact upserts the artifact JSON for (project, stage).
func (m *MemoryStore) SaveArtifact(_ context.Context, projectID uuid.UUID, stage types.Stage, content any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves > 0 {
		m.FailSaves--
		return &StorageError{Op: "save artifact", Cause: ErrNotFound}
	}
	data, err := json.Marshal(content)
	if err != nil {
		return &StorageError{Op: "marshal artifact", Cause: err}
	}
	m.artifacts[artifactKey{project: projectID, stage: stage}] = data
	return nil
}

// GetArtifact returns the stored artifact JSON.
func (m *MemoryStore) GetArtifact(_ context.Context, projectID uuid.UUID, stage types.Stage) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.artifacts[artifactKey{project: projectID, stage: stage}]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// GetCharacters returns the stored characters for the given IDs, skipping
// unknown IDs.
func (m *MemoryStore) GetCharacters(_ context.Context, ids []string) ([]types.Character, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Character
	for _, id := range ids {
		if c, ok := m.characters[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetKnowledgeBase returns the project's knowledge base, or nil.
func (m *MemoryStore) GetKnowledgeBase(_ context.Context, projectID uuid.UUID) (*types.KnowledgeBaseSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.knowledge[projectID], nil
}
