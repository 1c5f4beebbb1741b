package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/soochol/graphrun/internal/graphrun"
)

// CreatePlan stores a compiled plan. Plans are content-addressed, so an
// insert of an already-known ID is a no-op.
func (d *DB) CreatePlan(ctx context.Context, p *graphrun.Plan) error {
	planJSON, _ := json.Marshal(p)
	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO plans (id, name, version, definition, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Name, p.Version, planJSON, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID.
func (d *DB) GetPlan(ctx context.Context, id string) (*graphrun.Plan, error) {
	var planJSON []byte
	err := d.Pool.QueryRowContext(ctx,
		`SELECT definition FROM plans WHERE id = $1`, id,
	).Scan(&planJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("plan not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}

	p := &graphrun.Plan{}
	if err := json.Unmarshal(planJSON, p); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return p, nil
}

// ListPlans returns all stored plans ordered by name.
func (d *DB) ListPlans(ctx context.Context) ([]*graphrun.Plan, error) {
	rows, err := d.Pool.QueryContext(ctx,
		`SELECT definition FROM plans ORDER BY name, version`,
	)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var result []*graphrun.Plan
	for rows.Next() {
		var planJSON []byte
		if err := rows.Scan(&planJSON); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p := &graphrun.Plan{}
		if err := json.Unmarshal(planJSON, p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// DeletePlan removes a plan and, via cascade, its runs and triggers.
func (d *DB) DeletePlan(ctx context.Context, id string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM plans WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete plan: %w", err)
	}
	return nil
}
