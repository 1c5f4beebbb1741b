package repository

import (
	"context"
	"errors"

	"github.com/soochol/graphrun/internal/graphrun"
	memstore "github.com/soochol/graphrun/internal/repository/memory"
)

// MemoryTriggerRepository stores trigger definitions in memory.
type MemoryTriggerRepository struct {
	store *memstore.Store[*graphrun.TriggerDefinition]
}

func NewMemoryTriggerRepository() *MemoryTriggerRepository {
	return &MemoryTriggerRepository{
		store: memstore.New[*graphrun.TriggerDefinition](),
	}
}

func (r *MemoryTriggerRepository) Create(ctx context.Context, trigger *graphrun.TriggerDefinition) error {
	return r.store.Set(ctx, trigger.ID, trigger)
}

func (r *MemoryTriggerRepository) Get(ctx context.Context, id string) (*graphrun.TriggerDefinition, error) {
	t, err := r.store.Get(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	return t, err
}

func (r *MemoryTriggerRepository) Update(ctx context.Context, trigger *graphrun.TriggerDefinition) error {
	err := r.store.Update(ctx, trigger.ID, trigger)
	if errors.Is(err, memstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *MemoryTriggerRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Delete(ctx, id)
	if errors.Is(err, memstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (r *MemoryTriggerRepository) List(ctx context.Context) ([]*graphrun.TriggerDefinition, error) {
	return r.store.All(ctx)
}

func (r *MemoryTriggerRepository) ListByPlan(ctx context.Context, planID string) ([]*graphrun.TriggerDefinition, error) {
	return r.store.Filter(ctx, func(t *graphrun.TriggerDefinition) bool {
		return t.PlanID == planID
	})
}
