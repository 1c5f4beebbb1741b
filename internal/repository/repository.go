// Package repository defines persistence interfaces for plans, runs, and
// triggers, with in-memory and PostgreSQL-backed implementations.
package repository

import (
	"context"
	"errors"

	"github.com/soochol/graphrun/internal/graphrun"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// PlanRepository abstracts persistence for compiled plans. Plans are
// immutable: there is no Update, and re-compiling an identical graph yields
// the same plan ID.
type PlanRepository interface {
	Create(ctx context.Context, plan *graphrun.Plan) error
	Get(ctx context.Context, id string) (*graphrun.Plan, error)
	List(ctx context.Context) ([]*graphrun.Plan, error)
	Delete(ctx context.Context, id string) error
}

// RunRepository abstracts persistence for plan execution records.
type RunRepository interface {
	Create(ctx context.Context, record *graphrun.RunRecord) error
	Get(ctx context.Context, id string) (*graphrun.RunRecord, error)
	Update(ctx context.Context, record *graphrun.RunRecord) error
	ListByPlan(ctx context.Context, planID string, limit, offset int) ([]*graphrun.RunRecord, int, error)
	// ListAll returns all runs. status filters by run status when non-empty ("" = all).
	ListAll(ctx context.Context, limit, offset int, status string) ([]*graphrun.RunRecord, int, error)
}

// TriggerRepository abstracts persistence for trigger definitions.
type TriggerRepository interface {
	Create(ctx context.Context, trigger *graphrun.TriggerDefinition) error
	Get(ctx context.Context, id string) (*graphrun.TriggerDefinition, error)
	Update(ctx context.Context, trigger *graphrun.TriggerDefinition) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*graphrun.TriggerDefinition, error)
	ListByPlan(ctx context.Context, planID string) ([]*graphrun.TriggerDefinition, error)
}
