package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/soochol/graphrun/internal/graphrun"
)

// CreateRun stores a new run record.
func (d *DB) CreateRun(ctx context.Context, r *graphrun.RunRecord) error {
	inputsJSON, _ := json.Marshal(r.Inputs)
	statesJSON, _ := json.Marshal(r.NodeStates)
	outputsJSON, _ := json.Marshal(r.Outputs)
	errJSON := marshalRunError(r.Error)

	_, err := d.Pool.ExecContext(ctx,
		`INSERT INTO runs (id, plan_id, trigger_type, trigger_ref, status, revision, inputs, node_states, outputs, error, created_at, started_at, completed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.PlanID, r.TriggerType, r.TriggerRef,
		string(r.Status), r.Revision, inputsJSON, statesJSON, outputsJSON, errJSON,
		r.CreatedAt, r.StartedAt, r.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetRun retrieves a run record by ID.
func (d *DB) GetRun(ctx context.Context, id string) (*graphrun.RunRecord, error) {
	r := &graphrun.RunRecord{}
	var status string
	var inputsJSON, statesJSON, outputsJSON []byte
	var errJSON []byte

	err := d.Pool.QueryRowContext(ctx,
		`SELECT id, plan_id, trigger_type, trigger_ref, status, revision, inputs, node_states, outputs, error, created_at, started_at, completed_at
		 FROM runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.PlanID, &r.TriggerType, &r.TriggerRef,
		&status, &r.Revision, &inputsJSON, &statesJSON, &outputsJSON, &errJSON,
		&r.CreatedAt, &r.StartedAt, &r.CompletedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	r.Status = graphrun.RunStatus(status)
	json.Unmarshal(inputsJSON, &r.Inputs)
	json.Unmarshal(statesJSON, &r.NodeStates)
	json.Unmarshal(outputsJSON, &r.Outputs)
	if len(errJSON) > 0 {
		json.Unmarshal(errJSON, &r.Error)
	}
	return r, nil
}

// UpdateRun updates an existing run record.
func (d *DB) UpdateRun(ctx context.Context, r *graphrun.RunRecord) error {
	statesJSON, _ := json.Marshal(r.NodeStates)
	outputsJSON, _ := json.Marshal(r.Outputs)
	errJSON := marshalRunError(r.Error)

	_, err := d.Pool.ExecContext(ctx,
		`UPDATE runs SET status = $1, revision = $2, node_states = $3, outputs = $4, error = $5, started_at = $6, completed_at = $7
		 WHERE id = $8`,
		string(r.Status), r.Revision, statesJSON, outputsJSON, errJSON,
		r.StartedAt, r.CompletedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	return nil
}

// ListRunsByPlan returns runs for a specific plan with pagination.
func (d *DB) ListRunsByPlan(ctx context.Context, planID string, limit, offset int) ([]*graphrun.RunRecord, int, error) {
	var total int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE plan_id = $1`, planID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, plan_id, trigger_type, trigger_ref, status, revision, inputs, node_states, outputs, error, created_at, started_at, completed_at
		 FROM runs WHERE plan_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		planID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows, total)
}

// ListAllRuns returns all runs with pagination and an optional status filter.
func (d *DB) ListAllRuns(ctx context.Context, limit, offset int, status string) ([]*graphrun.RunRecord, int, error) {
	var total int
	err := d.Pool.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE ($1 = '' OR status = $1)`, status,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := d.Pool.QueryContext(ctx,
		`SELECT id, plan_id, trigger_type, trigger_ref, status, revision, inputs, node_states, outputs, error, created_at, started_at, completed_at
		 FROM runs WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		status, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows, total)
}

func scanRuns(rows *sql.Rows, total int) ([]*graphrun.RunRecord, int, error) {
	var result []*graphrun.RunRecord
	for rows.Next() {
		r := &graphrun.RunRecord{}
		var status string
		var inputsJSON, statesJSON, outputsJSON, errJSON []byte

		if err := rows.Scan(&r.ID, &r.PlanID, &r.TriggerType, &r.TriggerRef,
			&status, &r.Revision, &inputsJSON, &statesJSON, &outputsJSON, &errJSON,
			&r.CreatedAt, &r.StartedAt, &r.CompletedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}

		r.Status = graphrun.RunStatus(status)
		json.Unmarshal(inputsJSON, &r.Inputs)
		json.Unmarshal(statesJSON, &r.NodeStates)
		json.Unmarshal(outputsJSON, &r.Outputs)
		if len(errJSON) > 0 {
			json.Unmarshal(errJSON, &r.Error)
		}
		result = append(result, r)
	}
	return result, total, rows.Err()
}

func marshalRunError(e *graphrun.RunError) []byte {
	if e == nil {
		return nil
	}
	b, _ := json.Marshal(e)
	return b
}
