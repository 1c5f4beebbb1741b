// Package api exposes the compiler, engine, and trigger surface over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/soochol/graphrun/internal/compiler"
	"github.com/soochol/graphrun/internal/engine"
	"github.com/soochol/graphrun/internal/repository"
	"github.com/soochol/graphrun/internal/scheduler"
)

type Server struct {
	compiler     *compiler.Compiler
	planRepo     repository.PlanRepository
	runRepo      repository.RunRepository
	triggerRepo  repository.TriggerRepository
	engine       *engine.Engine
	schedulerSvc *scheduler.SchedulerService
	triggerSvc   *scheduler.TriggerService
}

func NewServer(
	comp *compiler.Compiler,
	planRepo repository.PlanRepository,
	runRepo repository.RunRepository,
	triggerRepo repository.TriggerRepository,
	eng *engine.Engine,
	schedulerSvc *scheduler.SchedulerService,
	triggerSvc *scheduler.TriggerService,
) *Server {
	return &Server{
		compiler:     comp,
		planRepo:     planRepo,
		runRepo:      runRepo,
		triggerRepo:  triggerRepo,
		engine:       eng,
		schedulerSvc: schedulerSvc,
		triggerSvc:   triggerSvc,
	}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE"},
		AllowedHeaders:   []string{"Content-Type", "X-Event-ID", "X-Webhook-Signature"},
		AllowCredentials: true,
	}))
	r.Route("/api", func(r chi.Router) {
		r.Post("/graphs", s.compileGraph)
		r.Route("/plans", func(r chi.Router) {
			r.Get("/", s.listPlans)
			r.Get("/{id}", s.getPlan)
			r.Delete("/{id}", s.deletePlan)
			r.Post("/{id}/run", s.runPlan)
			r.Get("/{id}/runs", s.listPlanRuns)
			r.Get("/{id}/triggers", s.listPlanTriggers)
		})
		r.Route("/runs", func(r chi.Router) {
			r.Get("/", s.listRuns)
			r.Get("/{id}", s.getRun)
			r.Post("/{id}/cancel", s.cancelRun)
		})
		r.Route("/triggers", func(r chi.Router) {
			r.Post("/", s.createTrigger)
			r.Get("/", s.listTriggers)
			r.Get("/{id}", s.getTrigger)
			r.Put("/{id}", s.updateTrigger)
			r.Delete("/{id}", s.deleteTrigger)
			r.Post("/{id}/pause", s.pauseTrigger)
			r.Post("/{id}/resume", s.resumeTrigger)
			r.Post("/{id}/fire", s.fireTrigger)
		})
		r.Post("/hooks/{id}", s.handleWebhook)
		r.Get("/engine/stats", s.getEngineStats)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
