package repository

import (
	"context"
	"log/slog"

	"github.com/soochol/graphrun/internal/db"
	"github.com/soochol/graphrun/internal/graphrun"
)

// PersistentPlanRepository wraps a MemoryPlanRepository with a PostgreSQL
// backend. Writes go to both stores (DB failure is logged but non-fatal).
// Reads try memory first, falling back to the database.
type PersistentPlanRepository struct {
	mem *MemoryPlanRepository
	db  *db.DB
}

func NewPersistentPlanRepository(mem *MemoryPlanRepository, database *db.DB) *PersistentPlanRepository {
	return &PersistentPlanRepository{mem: mem, db: database}
}

func (r *PersistentPlanRepository) Create(ctx context.Context, plan *graphrun.Plan) error {
	_ = r.mem.Create(ctx, plan)
	if err := r.db.CreatePlan(ctx, plan); err != nil {
		slog.Warn("db create plan failed, in-memory only", "err", err)
	}
	return nil
}

func (r *PersistentPlanRepository) Get(ctx context.Context, id string) (*graphrun.Plan, error) {
	p, err := r.mem.Get(ctx, id)
	if err == nil {
		return p, nil
	}

	dbPlan, dbErr := r.db.GetPlan(ctx, id)
	if dbErr != nil {
		return nil, err // return original ErrNotFound
	}

	// Cache in memory for future lookups.
	_ = r.mem.Create(ctx, dbPlan)
	return dbPlan, nil
}

func (r *PersistentPlanRepository) List(ctx context.Context) ([]*graphrun.Plan, error) {
	plans, err := r.db.ListPlans(ctx)
	if err == nil {
		return plans, nil
	}
	slog.Warn("db list plans failed, falling back to in-memory", "err", err)
	return r.mem.List(ctx)
}

func (r *PersistentPlanRepository) Delete(ctx context.Context, id string) error {
	_ = r.mem.Delete(ctx, id)
	if err := r.db.DeletePlan(ctx, id); err != nil {
		slog.Warn("db delete plan failed", "err", err)
	}
	return nil
}
