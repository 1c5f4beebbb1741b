// Package db wraps a PostgreSQL connection pool and the SQL persistence for
// plans, runs, and triggers.
package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/soochol/graphrun/internal/crypto"
)

// DB wraps a database/sql connection pool for PostgreSQL. Trigger secrets are
// encrypted at rest when a secret key is configured.
type DB struct {
	Pool *sql.DB
	enc  *crypto.SecretCipher
}

// New creates a new database connection. secretKey enables at-rest encryption
// of trigger secrets; empty stores them as plaintext.
// The caller must import a PostgreSQL driver (e.g., _ "github.com/lib/pq").
func New(ctx context.Context, databaseURL string, secretKey []byte) (*DB, error) {
	enc, err := crypto.NewSecretCipher(secretKey)
	if err != nil {
		return nil, fmt.Errorf("init secret cipher: %w", err)
	}

	pool, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pool.SetMaxOpenConns(25)
	pool.SetMaxIdleConns(5)

	if err := pool.PingContext(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool, enc: enc}, nil
}

// Close closes the connection pool.
func (d *DB) Close() error {
	return d.Pool.Close()
}

// Migrate runs the database schema migrations.
func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

const migrationSQL = `
CREATE TABLE IF NOT EXISTS plans (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL,
    version     INTEGER NOT NULL DEFAULT 1,
    definition  JSONB NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS runs (
    id           TEXT PRIMARY KEY,
    plan_id      TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    trigger_type TEXT NOT NULL DEFAULT 'manual',
    trigger_ref  TEXT NOT NULL DEFAULT '',
    status       TEXT NOT NULL DEFAULT 'created',
    revision     BIGINT NOT NULL DEFAULT 0,
    inputs       JSONB NOT NULL DEFAULT '{}',
    node_states  JSONB NOT NULL DEFAULT '{}',
    outputs      JSONB NOT NULL DEFAULT '{}',
    error        JSONB,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    started_at   TIMESTAMPTZ,
    completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS triggers (
    id             TEXT PRIMARY KEY,
    plan_id        TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
    type           TEXT NOT NULL,
    cron_expr      TEXT NOT NULL DEFAULT '',
    timezone       TEXT NOT NULL DEFAULT 'UTC',
    catch_up       TEXT NOT NULL DEFAULT 'skip',
    event_match    TEXT NOT NULL DEFAULT '',
    secret         TEXT NOT NULL DEFAULT '',
    input_mapping  JSONB NOT NULL DEFAULT '{}',
    default_inputs JSONB NOT NULL DEFAULT '{}',
    enabled        BOOLEAN NOT NULL DEFAULT TRUE,
    created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    last_fire_at   TIMESTAMPTZ,
    next_fire_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_runs_plan_id ON runs(plan_id);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
CREATE INDEX IF NOT EXISTS idx_triggers_plan_id ON triggers(plan_id);
`
