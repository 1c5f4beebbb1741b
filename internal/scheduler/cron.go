package scheduler

// cron.go — cron expression parsing, entry registration, and the catch-up
// policy for fire windows missed while the process was down.

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/soochol/graphrun/internal/graphrun"
)

// parseCronExpr tries 6-field (with seconds) then 5-field (standard) parsing.
// If timezone is non-empty and non-UTC, it is applied via the CRON_TZ= prefix.
func parseCronExpr(expr string, timezone string) (cron.Schedule, error) {
	if timezone != "" && timezone != "UTC" {
		expr = "CRON_TZ=" + timezone + " " + expr
	}
	parser6 := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser6.Parse(expr)
	if err == nil {
		return sched, nil
	}
	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser5.Parse(expr)
}

// registerCronJob parses the trigger's cron expression, registers a new cron
// entry, and stores the resulting EntryID in entryMap.
func (s *SchedulerService) registerCronJob(trigger *graphrun.TriggerDefinition) error {
	cronSched, err := parseCronExpr(trigger.CronExpr, trigger.Timezone)
	if err != nil {
		return err
	}

	entryID := s.cron.Schedule(cronSched, cron.FuncJob(func() {
		s.executeScheduledFire(trigger)
	}))

	s.mu.Lock()
	s.entryMap[trigger.ID] = entryID
	s.mu.Unlock()

	slog.Info("scheduler: registered cron job",
		"id", trigger.ID, "plan", trigger.PlanID, "cron", trigger.CronExpr)
	return nil
}

// applyCatchUp handles fire windows missed while the process was down.
// CatchUpSkip drops them and recomputes the next fire time. CatchUpOnce
// fires exactly one make-up run no matter how many windows were missed.
func (s *SchedulerService) applyCatchUp(ctx context.Context, trigger *graphrun.TriggerDefinition) {
	now := time.Now()
	if trigger.NextFireAt.IsZero() || trigger.NextFireAt.After(now) {
		return
	}

	if trigger.CatchUp == graphrun.CatchUpOnce {
		slog.Info("scheduler: firing make-up run for missed window",
			"id", trigger.ID, "missed_at", trigger.NextFireAt)
		s.executeScheduledFire(trigger)
		return
	}

	// Skip: advance past the missed windows.
	if cronSched, err := parseCronExpr(trigger.CronExpr, trigger.Timezone); err == nil {
		trigger.NextFireAt = cronSched.Next(now)
		if err := s.triggerRepo.Update(ctx, trigger); err != nil {
			slog.Warn("scheduler: failed to update trigger after catch-up skip",
				"id", trigger.ID, "err", err)
		}
	}
}
