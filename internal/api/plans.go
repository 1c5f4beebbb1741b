package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/graphrun/internal/graphrun"
)

// listPlans returns all registered plans.
// GET /api/plans
func (s *Server) listPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.planRepo.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if plans == nil {
		plans = []*graphrun.Plan{}
	}
	writeJSON(w, http.StatusOK, plans)
}

// getPlan returns a single plan.
// GET /api/plans/{id}
func (s *Server) getPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plan, err := s.planRepo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// deletePlan removes a plan.
// DELETE /api/plans/{id}
func (s *Server) deletePlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.planRepo.Delete(r.Context(), id); err != nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// runPlan starts a manual run of a plan and returns the initial run record.
// POST /api/plans/{id}/run
func (s *Server) runPlan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	plan, err := s.planRepo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}

	var body struct {
		Inputs map[string]any `json:"inputs"`
	}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	record, err := s.engine.Submit(r.Context(), plan, body.Inputs, graphrun.TriggerManual, "")
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusAccepted, record)
}

// listPlanRuns returns runs of one plan, newest first.
// GET /api/plans/{id}/runs?limit=&offset=
func (s *Server) listPlanRuns(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	limit, offset := pagination(r)

	runs, total, err := s.runRepo.ListByPlan(r.Context(), id, limit, offset)
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

// listPlanTriggers returns the triggers bound to one plan.
// GET /api/plans/{id}/triggers
func (s *Server) listPlanTriggers(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	triggers, err := s.triggerRepo.ListByPlan(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if triggers == nil {
		triggers = []*graphrun.TriggerDefinition{}
	}
	writeJSON(w, http.StatusOK, triggers)
}
