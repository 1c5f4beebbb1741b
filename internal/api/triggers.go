package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/soochol/graphrun/internal/graphrun"
)

// createTrigger creates a new trigger for a plan.
// POST /api/triggers
func (s *Server) createTrigger(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}

	var trigger graphrun.TriggerDefinition
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if trigger.PlanID == "" || trigger.Type == "" {
		http.Error(w, "plan_id and type are required", http.StatusBadRequest)
		return
	}
	if trigger.Type == graphrun.TriggerSchedule && trigger.CronExpr == "" {
		http.Error(w, "cron_expr is required for schedule triggers", http.StatusBadRequest)
		return
	}

	// Reject triggers against unknown plans up front.
	if _, err := s.planRepo.Get(r.Context(), trigger.PlanID); err != nil {
		http.Error(w, "plan not found", http.StatusNotFound)
		return
	}

	if err := s.schedulerSvc.AddTrigger(r.Context(), &trigger); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, trigger)
}

// listTriggers returns all triggers.
// GET /api/triggers
func (s *Server) listTriggers(w http.ResponseWriter, r *http.Request) {
	triggers, err := s.triggerRepo.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if triggers == nil {
		triggers = []*graphrun.TriggerDefinition{}
	}
	writeJSON(w, http.StatusOK, triggers)
}

// getTrigger returns a single trigger.
// GET /api/triggers/{id}
func (s *Server) getTrigger(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trigger, err := s.triggerRepo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, trigger)
}

// updateTrigger modifies an existing trigger.
// PUT /api/triggers/{id}
func (s *Server) updateTrigger(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")

	var trigger graphrun.TriggerDefinition
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	trigger.ID = id

	if err := s.schedulerSvc.UpdateTrigger(r.Context(), &trigger); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusOK, trigger)
}

// deleteTrigger removes a trigger and its cron entry.
// DELETE /api/triggers/{id}
func (s *Server) deleteTrigger(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.schedulerSvc.RemoveTrigger(r.Context(), id); err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// pauseTrigger disables a trigger without deleting it.
// POST /api/triggers/{id}/pause
func (s *Server) pauseTrigger(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.schedulerSvc.PauseTrigger(r.Context(), id); err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resumeTrigger re-enables a paused trigger.
// POST /api/triggers/{id}/resume
func (s *Server) resumeTrigger(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.schedulerSvc.ResumeTrigger(r.Context(), id); err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fireTrigger fires a schedule trigger immediately, bypassing the cron timer.
// POST /api/triggers/{id}/fire
func (s *Server) fireTrigger(w http.ResponseWriter, r *http.Request) {
	if s.schedulerSvc == nil {
		http.Error(w, "scheduler not available", http.StatusServiceUnavailable)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.schedulerSvc.FireNow(r.Context(), id); err != nil {
		http.Error(w, "trigger not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "fired",
		"trigger": id,
	})
}
