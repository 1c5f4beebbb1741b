package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/soochol/graphrun/internal/graphrun"
)

func (d *DB) CreateTrigger(ctx context.Context, t *graphrun.TriggerDefinition) error {
	mappingJSON, _ := json.Marshal(t.InputMapping)
	defaultsJSON, _ := json.Marshal(t.DefaultInputs)
	secret, err := d.enc.Encrypt(t.Secret)
	if err != nil {
		return fmt.Errorf("encrypt trigger secret: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx,
		`INSERT INTO triggers (id, plan_id, type, cron_expr, timezone, catch_up, event_match, secret, input_mapping, default_inputs, enabled, created_at, last_fire_at, next_fire_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.PlanID, string(t.Type), t.CronExpr, t.Timezone, string(t.CatchUp),
		t.EventMatch, secret, mappingJSON, defaultsJSON, t.Enabled,
		t.CreatedAt, t.LastFireAt, nullableTime(t.NextFireAt),
	)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}
	return nil
}

func (d *DB) GetTrigger(ctx context.Context, id string) (*graphrun.TriggerDefinition, error) {
	row := d.Pool.QueryRowContext(ctx,
		`SELECT id, plan_id, type, cron_expr, timezone, catch_up, event_match, secret, input_mapping, default_inputs, enabled, created_at, last_fire_at, next_fire_at
		 FROM triggers WHERE id = $1`, id,
	)
	t, err := scanTrigger(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("trigger not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	if err := d.decryptSecret(t); err != nil {
		return nil, err
	}
	return t, nil
}

func (d *DB) UpdateTrigger(ctx context.Context, t *graphrun.TriggerDefinition) error {
	mappingJSON, _ := json.Marshal(t.InputMapping)
	defaultsJSON, _ := json.Marshal(t.DefaultInputs)
	secret, err := d.enc.Encrypt(t.Secret)
	if err != nil {
		return fmt.Errorf("encrypt trigger secret: %w", err)
	}

	_, err = d.Pool.ExecContext(ctx,
		`UPDATE triggers SET plan_id=$1, type=$2, cron_expr=$3, timezone=$4, catch_up=$5, event_match=$6, secret=$7, input_mapping=$8, default_inputs=$9, enabled=$10, last_fire_at=$11, next_fire_at=$12
		 WHERE id=$13`,
		t.PlanID, string(t.Type), t.CronExpr, t.Timezone, string(t.CatchUp),
		t.EventMatch, secret, mappingJSON, defaultsJSON, t.Enabled,
		t.LastFireAt, nullableTime(t.NextFireAt), t.ID,
	)
	if err != nil {
		return fmt.Errorf("update trigger: %w", err)
	}
	return nil
}

func (d *DB) DeleteTrigger(ctx context.Context, id string) error {
	_, err := d.Pool.ExecContext(ctx, `DELETE FROM triggers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	return nil
}

func (d *DB) ListTriggers(ctx context.Context) ([]*graphrun.TriggerDefinition, error) {
	return d.queryTriggers(ctx,
		`SELECT id, plan_id, type, cron_expr, timezone, catch_up, event_match, secret, input_mapping, default_inputs, enabled, created_at, last_fire_at, next_fire_at
		 FROM triggers ORDER BY created_at`)
}

func (d *DB) ListTriggersByPlan(ctx context.Context, planID string) ([]*graphrun.TriggerDefinition, error) {
	return d.queryTriggers(ctx,
		`SELECT id, plan_id, type, cron_expr, timezone, catch_up, event_match, secret, input_mapping, default_inputs, enabled, created_at, last_fire_at, next_fire_at
		 FROM triggers WHERE plan_id = $1 ORDER BY created_at`, planID)
}

func (d *DB) queryTriggers(ctx context.Context, query string, args ...any) ([]*graphrun.TriggerDefinition, error) {
	rows, err := d.Pool.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	defer rows.Close()

	var result []*graphrun.TriggerDefinition
	for rows.Next() {
		t, err := scanTrigger(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan trigger: %w", err)
		}
		if err := d.decryptSecret(t); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func (d *DB) decryptSecret(t *graphrun.TriggerDefinition) error {
	if t.Secret == "" {
		return nil
	}
	secret, err := d.enc.Decrypt(t.Secret)
	if err != nil {
		return fmt.Errorf("decrypt trigger secret: %w", err)
	}
	t.Secret = secret
	return nil
}

func scanTrigger(scan func(...any) error) (*graphrun.TriggerDefinition, error) {
	t := &graphrun.TriggerDefinition{}
	var ttype, catchUp string
	var mappingJSON, defaultsJSON []byte
	var nextFireAt sql.NullTime

	err := scan(&t.ID, &t.PlanID, &ttype, &t.CronExpr, &t.Timezone, &catchUp,
		&t.EventMatch, &t.Secret, &mappingJSON, &defaultsJSON, &t.Enabled,
		&t.CreatedAt, &t.LastFireAt, &nextFireAt)
	if err != nil {
		return nil, err
	}

	t.Type = graphrun.TriggerType(ttype)
	t.CatchUp = graphrun.CatchUpPolicy(catchUp)
	if nextFireAt.Valid {
		t.NextFireAt = nextFireAt.Time
	}
	json.Unmarshal(mappingJSON, &t.InputMapping)
	json.Unmarshal(defaultsJSON, &t.DefaultInputs)
	return t, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
