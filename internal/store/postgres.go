package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jonathan/storybook-agent/internal/types"
)

// PostgresStore is the Postgres-backed ProjectStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect establishes a connection pool and verifies it.
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// Pool exposes the underlying pool so collaborators (the credit ledger)
// can share the connection.
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// Close closes the connection pool.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// GetProject loads one project row.
func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*types.Project, error) {
	var p types.Project
	var characterIDs []string
	err := s.pool.QueryRow(ctx,
		`SELECT id, title, age_range, setting, learning_objective, character_ids,
		        current_stage, illust_width, illust_height, cover_width, cover_height
		 FROM projects WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Title, &p.AgeRange, &p.Setting, &p.LearningObjective, &characterIDs,
		&p.CurrentStage, &p.IllustrationSize.Width, &p.IllustrationSize.Height,
		&p.CoverSize.Width, &p.CoverSize.Height)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: "get project", Cause: err}
	}
	p.CharacterIDs = characterIDs
	return &p, nil
}

// UpdateProject applies the non-nil patch fields.
func (s *PostgresStore) UpdateProject(ctx context.Context, id uuid.UUID, patch types.ProjectPatch) error {
	if patch.Title != nil {
		if _, err := s.pool.Exec(ctx,
			`UPDATE projects SET title = $1, updated_at = NOW() WHERE id = $2`,
			*patch.Title, id,
		); err != nil {
			return &StorageError{Op: "update project title", Cause: err}
		}
	}
	if patch.CurrentStage != nil {
		if _, err := s.pool.Exec(ctx,
			`UPDATE projects SET current_stage = $1, updated_at = NOW() WHERE id = $2`,
			string(*patch.CurrentStage), id,
		); err != nil {
			return &StorageError{Op: "update project stage", Cause: err}
		}
	}
	return nil
}

// SaveArtifact upserts the artifact for (project, stage).
func (s *PostgresStore) SaveArtifact(ctx context.Context, projectID uuid.UUID, stage types.Stage, content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return &StorageError{Op: "marshal artifact", Cause: err}
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO artifacts (project_id, stage, content)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (project_id, stage) DO UPDATE SET content = $3, created_at = NOW()`,
		projectID, string(stage), data,
	)
	if err != nil {
		return &StorageError{Op: fmt.Sprintf("save %s artifact", stage), Cause: err}
	}
	return nil
}

// GetArtifact returns the raw artifact JSON for (project, stage).
func (s *PostgresStore) GetArtifact(ctx context.Context, projectID uuid.UUID, stage types.Stage) ([]byte, error) {
	var content []byte
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM artifacts WHERE project_id = $1 AND stage = $2`,
		projectID, string(stage),
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, &StorageError{Op: fmt.Sprintf("get %s artifact", stage), Cause: err}
	}
	return content, nil
}

// GetCharacters loads the characters with the given IDs.
func (s *PostgresStore) GetCharacters(ctx context.Context, ids []string) ([]types.Character, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, role, traits, speaking_style, visual_dna
		 FROM characters WHERE id = ANY($1)`,
		ids,
	)
	if err != nil {
		return nil, &StorageError{Op: "get characters", Cause: err}
	}
	defer rows.Close()

	var out []types.Character
	for rows.Next() {
		var c types.Character
		var visualDNA []byte
		if err := rows.Scan(&c.ID, &c.Name, &c.Role, &c.Traits, &c.SpeakingStyle, &visualDNA); err != nil {
			return nil, &StorageError{Op: "scan character", Cause: err}
		}
		if len(visualDNA) > 0 {
			if err := json.Unmarshal(visualDNA, &c.VisualDNA); err != nil {
				return nil, &StorageError{Op: "decode visual DNA", Cause: err}
			}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetKnowledgeBase loads the project's trimmed rule summary, or nil when
// the project has none.
func (s *PostgresStore) GetKnowledgeBase(ctx context.Context, projectID uuid.UUID) (*types.KnowledgeBaseSummary, error) {
	var content []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary FROM knowledge_bases WHERE project_id = $1`,
		projectID,
	).Scan(&content)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, &StorageError{Op: "get knowledge base", Cause: err}
	}

	var kb types.KnowledgeBaseSummary
	if err := json.Unmarshal(content, &kb); err != nil {
		return nil, &StorageError{Op: "decode knowledge base", Cause: err}
	}
	return &kb, nil
}
