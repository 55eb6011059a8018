package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"

	"github.com/jonathan/storybook-agent/internal/pipeline"
	"github.com/jonathan/storybook-agent/internal/store"
	"github.com/jonathan/storybook-agent/internal/types"
)

// runTracker holds the cancel token for each project's active run so the
// cancel endpoint can reach it.
type runTracker struct {
	mu     sync.Mutex
	active map[uuid.UUID]*types.CancelToken
}

func newRunTracker() *runTracker {
	return &runTracker{active: make(map[uuid.UUID]*types.CancelToken)}
}

// begin registers a run and returns its cancel token.
func (t *runTracker) begin(projectID uuid.UUID) *types.CancelToken {
	t.mu.Lock()
	defer t.mu.Unlock()
	token := types.NewCancelToken()
	t.active[projectID] = token
	return token
}

func (t *runTracker) end(projectID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, projectID)
}

// cancel sets the project's cancel token if a run is active.
func (t *runTracker) cancel(projectID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	token, ok := t.active[projectID]
	if ok {
		token.Cancel()
	}
	return ok
}

func (t *runTracker) inFlight(projectID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[projectID]
	return ok
}

// runRequest is the optional JSON body accepted by the run endpoints.
type runRequest struct {
	Variants  int    `json:"variants,omitempty"`
	Reuse     bool   `json:"reuse,omitempty"`
	OutputDir string `json:"output_dir,omitempty"`
}

func (s *Server) parseProjectID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid project id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) parseRunOptions(r *http.Request) pipeline.RunOptions {
	var req runRequest
	if r.Body != nil {
		// An empty or malformed body just means default options.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	return pipeline.RunOptions{
		Variants:  req.Variants,
		Reuse:     req.Reuse,
		OutputDir: req.OutputDir,
	}
}

// handleRun executes the pipeline from the project's current stage and
// returns the per-stage results once it stops.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.parseProjectID(w, r)
	if !ok {
		return
	}
	opts := s.parseRunOptions(r)
	opts.Cancel = s.runTracker.begin(projectID)
	defer s.runTracker.end(projectID)

	results, err := s.runner.Run(r.Context(), projectID, opts)
	if err != nil {
		s.runErrorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"results":    results,
	})
}

// handleRunStage executes a single named stage.
func (s *Server) handleRunStage(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.parseProjectID(w, r)
	if !ok {
		return
	}
	stage := types.Stage(r.PathValue("stage"))
	if !stage.Valid() || stage == types.StageJSONRepair {
		s.errorResponse(w, http.StatusBadRequest, "unknown stage")
		return
	}
	opts := s.parseRunOptions(r)
	opts.Cancel = s.runTracker.begin(projectID)
	defer s.runTracker.end(projectID)

	result, err := s.runner.RunStage(r.Context(), projectID, stage, opts)
	if err != nil {
		s.runErrorResponse(w, err)
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"project_id": projectID,
		"result":     result,
	})
}

// handleRunStream executes the pipeline while streaming progress events
// over SSE, ending with a complete event carrying the stage results.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.parseProjectID(w, r)
	if !ok {
		return
	}
	opts := s.parseRunOptions(r)
	opts.Cancel = s.runTracker.begin(projectID)
	defer s.runTracker.end(projectID)

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	var mu sync.Mutex
	opts.Progress = func(event pipeline.ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		_ = sse.WriteEvent("progress", event)
	}

	results, err := s.runner.Run(r.Context(), projectID, opts)
	if err != nil {
		sse.WriteError(err.Error())
		return
	}

	status := "complete"
	if n := len(results); n > 0 && results[n-1].Terminal() {
		status = string(results[n-1].Status)
	}
	sse.WriteComplete(projectID.String(), status, results)
}

// handleCancel sets the cancel token for the project's active run.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.parseProjectID(w, r)
	if !ok {
		return
	}
	if !s.runTracker.cancel(projectID) {
		s.errorResponse(w, http.StatusNotFound, "no active run for project")
		return
	}
	s.jsonResponse(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// handleStatus reports the project's stage pointer and run state.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.parseProjectID(w, r)
	if !ok {
		return
	}
	project, err := s.store.GetProject(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "project not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.jsonResponse(w, http.StatusOK, map[string]any{
		"project":       project,
		"current_stage": project.CurrentStage,
		"run_in_flight": s.runTracker.inFlight(projectID),
	})
}

// handleArtifact returns the stored artifact JSON for a stage.
func (s *Server) handleArtifact(w http.ResponseWriter, r *http.Request) {
	projectID, ok := s.parseProjectID(w, r)
	if !ok {
		return
	}
	stage := types.Stage(r.PathValue("stage"))
	if !stage.Valid() {
		s.errorResponse(w, http.StatusBadRequest, "unknown stage")
		return
	}

	raw, err := s.store.GetArtifact(r.Context(), projectID, stage)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.errorResponse(w, http.StatusNotFound, "artifact not found")
			return
		}
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

// runErrorResponse maps runner errors onto HTTP statuses.
func (s *Server) runErrorResponse(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrRunInFlight):
		s.errorResponse(w, http.StatusConflict, err.Error())
	case errors.Is(err, store.ErrNotFound):
		s.errorResponse(w, http.StatusNotFound, "project not found")
	default:
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
	}
}
