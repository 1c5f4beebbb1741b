package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/soochol/graphrun/internal/graphrun"
	memstore "github.com/soochol/graphrun/internal/repository/memory"
)

// MemoryPlanRepository stores compiled plans in memory.
type MemoryPlanRepository struct {
	store *memstore.Store[*graphrun.Plan]
}

func NewMemoryPlanRepository() *MemoryPlanRepository {
	return &MemoryPlanRepository{
		store: memstore.New[*graphrun.Plan](),
	}
}

func (r *MemoryPlanRepository) Create(ctx context.Context, plan *graphrun.Plan) error {
	// Content-addressed: re-registering the same plan is a no-op, not an error.
	return r.store.Set(ctx, plan.ID, plan)
}

func (r *MemoryPlanRepository) Get(ctx context.Context, id string) (*graphrun.Plan, error) {
	p, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, err
}

func (r *MemoryPlanRepository) List(ctx context.Context) ([]*graphrun.Plan, error) {
	return r.store.All(ctx)
}

func (r *MemoryPlanRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
