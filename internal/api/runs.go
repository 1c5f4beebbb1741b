package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
)

// listRuns returns all runs with pagination and an optional status filter.
// GET /api/runs?limit=&offset=&status=
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)
	status := r.URL.Query().Get("status")

	runs, total, err := s.runRepo.ListAll(r.Context(), limit, offset, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []*graphrun.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}

// getRun returns the current revision-tagged snapshot of a run. Live runs
// are answered by the engine, terminal runs by the repository.
// GET /api/runs/{id}
func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	record, err := s.engine.Snapshot(r.Context(), id)
	if err != nil {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// cancelRun cancels a running run. Cancelling an already-terminal run is a
// conflict, not an error in the run itself.
// POST /api/runs/{id}/cancel
func (s *Server) cancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Cancel(id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// Not live: either unknown or already terminal.
			record, getErr := s.runRepo.Get(r.Context(), id)
			if getErr != nil {
				http.Error(w, "run not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusConflict, record)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	record, err := s.engine.Snapshot(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// getEngineStats returns current engine load.
// GET /api/engine/stats
func (s *Server) getEngineStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// pagination reads limit/offset query params with sane defaults.
func pagination(r *http.Request) (limit, offset int) {
	limit = 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
