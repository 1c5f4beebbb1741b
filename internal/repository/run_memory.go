package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/soochol/graphrun/internal/graphrun"
)

const maxRunRecords = 1000

// MemoryRunRepository stores run records in memory with FIFO eviction.
// Terminal run records are immutable, so evicting the oldest first never
// drops a record the engine still mutates in practice.
type MemoryRunRepository struct {
	mu      sync.RWMutex
	records map[string]*graphrun.RunRecord
	order   []string // insertion order for FIFO eviction
}

func NewMemoryRunRepository() *MemoryRunRepository {
	return &MemoryRunRepository{
		records: make(map[string]*graphrun.RunRecord),
	}
}

func (r *MemoryRunRepository) Create(_ context.Context, record *graphrun.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// FIFO eviction when at capacity.
	if len(r.order) >= maxRunRecords {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.records, oldest)
	}

	r.records[record.ID] = record
	r.order = append(r.order, record.ID)
	return nil
}

func (r *MemoryRunRepository) Get(_ context.Context, id string) (*graphrun.RunRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (r *MemoryRunRepository) Update(_ context.Context, record *graphrun.RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[record.ID]; !ok {
		return ErrNotFound
	}
	r.records[record.ID] = record
	return nil
}

func (r *MemoryRunRepository) ListByPlan(_ context.Context, planID string, limit, offset int) ([]*graphrun.RunRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var filtered []*graphrun.RunRecord
	for _, rec := range r.records {
		if rec.PlanID == planID {
			filtered = append(filtered, rec)
		}
	}
	return paginate(filtered, limit, offset)
}

func (r *MemoryRunRepository) ListAll(_ context.Context, limit, offset int, status string) ([]*graphrun.RunRecord, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*graphrun.RunRecord, 0, len(r.records))
	for _, rec := range r.records {
		if status == "" || string(rec.Status) == status {
			all = append(all, rec)
		}
	}
	return paginate(all, limit, offset)
}

// paginate sorts newest-first and slices out the requested window.
func paginate(records []*graphrun.RunRecord, limit, offset int) ([]*graphrun.RunRecord, int, error) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})

	total := len(records)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return records[offset:end], total, nil
}
