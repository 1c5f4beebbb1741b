package scheduler

// dispatch.go — executeScheduledFire is the single path every schedule fire
// goes through, whether it comes from a cron entry, a catch-up make-up run,
// or FireNow.

import (
	"context"
	"log/slog"
	"time"

	"github.com/soochol/graphrun/internal/graphrun"
)

// executeScheduledFire is called when a schedule trigger fires. It looks up
// the plan, submits a run with the trigger's default inputs, and updates the
// trigger's fire timestamps.
func (s *SchedulerService) executeScheduledFire(trigger *graphrun.TriggerDefinition) {
	ctx := context.Background()

	slog.Info("scheduler: executing scheduled fire",
		"trigger", trigger.ID, "plan", trigger.PlanID)

	plan, err := s.planRepo.Get(ctx, trigger.PlanID)
	if err != nil {
		slog.Error("scheduler: plan not found",
			"trigger", trigger.ID, "plan", trigger.PlanID, "err", err)
		return
	}

	record, err := s.dispatcher.Submit(ctx, plan, trigger.DefaultInputs,
		graphrun.TriggerSchedule, trigger.ID)
	if err != nil {
		slog.Error("scheduler: dispatch failed",
			"trigger", trigger.ID, "plan", trigger.PlanID, "err", err)
	} else {
		slog.Info("scheduler: run dispatched",
			"trigger", trigger.ID, "run", record.ID)
	}

	// Update fire timestamps.
	now := time.Now()
	trigger.LastFireAt = &now
	if cronSched, parseErr := parseCronExpr(trigger.CronExpr, trigger.Timezone); parseErr == nil {
		trigger.NextFireAt = cronSched.Next(now)
	}
	if updateErr := s.triggerRepo.Update(ctx, trigger); updateErr != nil {
		slog.Warn("scheduler: failed to update trigger after fire", "err", updateErr)
	}
}
