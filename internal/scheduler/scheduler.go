// Package scheduler activates plans from the outside: cron schedules fire
// runs on a timer, event triggers fire runs from ingested payloads. Both
// paths converge on the same dispatcher.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/soochol/graphrun/internal/graphrun"
	"github.com/soochol/graphrun/internal/repository"
)

// Dispatcher starts a run for a compiled plan. Satisfied by the engine.
type Dispatcher interface {
	Submit(ctx context.Context, plan *graphrun.Plan, inputs map[string]any, triggerType graphrun.TriggerType, triggerRef string) (*graphrun.RunRecord, error)
}

// SchedulerService manages cron-based plan activation.
// It wraps robfig/cron and keeps trigger fire timestamps in the repository.
type SchedulerService struct {
	cron        *cron.Cron
	triggerRepo repository.TriggerRepository
	planRepo    repository.PlanRepository
	dispatcher  Dispatcher
	entryMap    map[string]cron.EntryID // trigger ID → cron entry
	mu          sync.RWMutex
}

// NewSchedulerService creates a SchedulerService with all dependencies.
func NewSchedulerService(
	triggerRepo repository.TriggerRepository,
	planRepo repository.PlanRepository,
	dispatcher Dispatcher,
) *SchedulerService {
	return &SchedulerService{
		cron:        cron.New(cron.WithSeconds()),
		triggerRepo: triggerRepo,
		planRepo:    planRepo,
		dispatcher:  dispatcher,
		entryMap:    make(map[string]cron.EntryID),
	}
}

// Start loads enabled schedule triggers from the repository, applies their
// catch-up policy for windows missed while the process was down, and begins
// the cron scheduler.
func (s *SchedulerService) Start(ctx context.Context) error {
	triggers, err := s.triggerRepo.List(ctx)
	if err != nil {
		slog.Warn("scheduler: failed to load triggers", "err", err)
	} else {
		for _, t := range triggers {
			if t.Type != graphrun.TriggerSchedule || !t.Enabled {
				continue
			}
			s.applyCatchUp(ctx, t)
			if err := s.registerCronJob(t); err != nil {
				slog.Warn("scheduler: failed to register trigger",
					"id", t.ID, "err", err)
			}
		}
		slog.Info("scheduler: loaded triggers", "count", len(triggers))
	}

	s.cron.Start()
	slog.Info("scheduler: started")
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *SchedulerService) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler: stopped")
}

// AddTrigger creates a new trigger and, for enabled schedule triggers,
// registers its cron job.
func (s *SchedulerService) AddTrigger(ctx context.Context, trigger *graphrun.TriggerDefinition) error {
	now := time.Now()
	trigger.ID = graphrun.GenerateID("trig")
	trigger.CreatedAt = now
	if trigger.Timezone == "" {
		trigger.Timezone = "UTC"
	}
	if trigger.CatchUp == "" {
		trigger.CatchUp = graphrun.CatchUpSkip
	}

	if trigger.Type == graphrun.TriggerSchedule {
		cronSched, err := parseCronExpr(trigger.CronExpr, trigger.Timezone)
		if err != nil {
			return err
		}
		trigger.NextFireAt = cronSched.Next(now)
	}

	if err := s.triggerRepo.Create(ctx, trigger); err != nil {
		return err
	}

	if trigger.Type == graphrun.TriggerSchedule && trigger.Enabled {
		return s.registerCronJob(trigger)
	}
	return nil
}

// RemoveTrigger removes a trigger and its cron job.
func (s *SchedulerService) RemoveTrigger(ctx context.Context, id string) error {
	s.unregister(id)
	return s.triggerRepo.Delete(ctx, id)
}

// UpdateTrigger updates a trigger and re-registers its cron job.
func (s *SchedulerService) UpdateTrigger(ctx context.Context, trigger *graphrun.TriggerDefinition) error {
	s.unregister(trigger.ID)

	if trigger.Type == graphrun.TriggerSchedule {
		cronSched, err := parseCronExpr(trigger.CronExpr, trigger.Timezone)
		if err != nil {
			return err
		}
		trigger.NextFireAt = cronSched.Next(time.Now())
	}

	if err := s.triggerRepo.Update(ctx, trigger); err != nil {
		return err
	}

	if trigger.Type == graphrun.TriggerSchedule && trigger.Enabled {
		return s.registerCronJob(trigger)
	}
	return nil
}

// PauseTrigger disables a trigger without deleting it.
func (s *SchedulerService) PauseTrigger(ctx context.Context, id string) error {
	trigger, err := s.triggerRepo.Get(ctx, id)
	if err != nil {
		return err
	}

	s.unregister(id)

	trigger.Enabled = false
	return s.triggerRepo.Update(ctx, trigger)
}

// ResumeTrigger re-enables a paused trigger.
func (s *SchedulerService) ResumeTrigger(ctx context.Context, id string) error {
	trigger, err := s.triggerRepo.Get(ctx, id)
	if err != nil {
		return err
	}

	trigger.Enabled = true
	if err := s.triggerRepo.Update(ctx, trigger); err != nil {
		return err
	}

	if trigger.Type != graphrun.TriggerSchedule {
		return nil
	}
	return s.registerCronJob(trigger)
}

// GetTrigger retrieves a trigger by ID.
func (s *SchedulerService) GetTrigger(ctx context.Context, id string) (*graphrun.TriggerDefinition, error) {
	return s.triggerRepo.Get(ctx, id)
}

// ListTriggers returns all triggers.
func (s *SchedulerService) ListTriggers(ctx context.Context) ([]*graphrun.TriggerDefinition, error) {
	return s.triggerRepo.List(ctx)
}

// FireNow immediately fires a schedule trigger, bypassing the cron timer.
// It runs the same dispatch path as a cron fire, including the LastFireAt /
// NextFireAt bookkeeping.
func (s *SchedulerService) FireNow(ctx context.Context, id string) error {
	trigger, err := s.triggerRepo.Get(ctx, id)
	if err != nil {
		return err
	}
	s.executeScheduledFire(trigger)
	return nil
}

func (s *SchedulerService) unregister(id string) {
	s.mu.Lock()
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
	s.mu.Unlock()
}
