// Package migration applies the schema in order, tracking the applied
// version in schema_migrations.
package migration

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tradeflow-hq/tradeflow/internal/platform/database"
	"github.com/tradeflow-hq/tradeflow/internal/platform/logger"
)

type migration struct {
	version int
	name    string
	stmt    string
}

var migrations = []migration{
	{1, "create_workflows", `
		CREATE TABLE IF NOT EXISTS workflows (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			name             TEXT NOT NULL,
			nodes            JSONB NOT NULL DEFAULT '[]',
			edges            JSONB NOT NULL DEFAULT '[]',
			is_active        BOOLEAN NOT NULL DEFAULT false,
			schedule_cron    TEXT,
			project_id       TEXT,
			persistent_state JSONB NOT NULL DEFAULT '{}',
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_workflows_scheduled
			ON workflows (is_active) WHERE schedule_cron IS NOT NULL`},
	{2, "create_workflow_runs", `
		CREATE TABLE IF NOT EXISTS workflow_runs (
			id            TEXT PRIMARY KEY,
			workflow_id   TEXT NOT NULL REFERENCES workflows (id) ON DELETE CASCADE,
			status        TEXT NOT NULL,
			started_at    TIMESTAMPTZ NOT NULL,
			completed_at  TIMESTAMPTZ,
			initiated_by  TEXT,
			error_message TEXT,
			result        JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_workflow_runs_workflow
			ON workflow_runs (workflow_id, started_at DESC)`},
	{3, "create_node_executions", `
		CREATE TABLE IF NOT EXISTS node_executions (
			id             TEXT PRIMARY KEY,
			run_id         TEXT NOT NULL REFERENCES workflow_runs (id) ON DELETE CASCADE,
			node_id        TEXT NOT NULL,
			status         TEXT NOT NULL,
			input_payload  JSONB,
			output_payload JSONB,
			error_message  TEXT,
			started_at     TIMESTAMPTZ NOT NULL,
			finished_at    TIMESTAMPTZ,
			attempt        INT NOT NULL DEFAULT 1
		);
		CREATE INDEX IF NOT EXISTS idx_node_executions_run
			ON node_executions (run_id, started_at)`},
	{4, "create_webhooks", `
		CREATE TABLE IF NOT EXISTS webhooks (
			id             TEXT PRIMARY KEY,
			user_id        TEXT NOT NULL,
			name           TEXT NOT NULL,
			url            TEXT NOT NULL,
			secret         TEXT,
			events         TEXT[] NOT NULL DEFAULT '{}',
			headers        JSONB NOT NULL DEFAULT '{}',
			active         BOOLEAN NOT NULL DEFAULT true,
			retry_attempts INT NOT NULL DEFAULT 3,
			timeout        INT NOT NULL DEFAULT 30,
			created_at     TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_webhooks_user ON webhooks (user_id) WHERE active`},
	{5, "create_webhook_deliveries", `
		CREATE TABLE IF NOT EXISTS webhook_deliveries (
			id            TEXT PRIMARY KEY,
			webhook_id    TEXT NOT NULL REFERENCES webhooks (id) ON DELETE CASCADE,
			payload       JSONB,
			success       BOOLEAN NOT NULL,
			status_code   INT NOT NULL DEFAULT 0,
			error_message TEXT,
			attempts      INT NOT NULL,
			delivered_at  TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_webhook
			ON webhook_deliveries (webhook_id, delivered_at DESC)`},
	{6, "create_credentials", `
		CREATE TABLE IF NOT EXISTS credentials (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			service_type TEXT NOT NULL,
			name         TEXT NOT NULL,
			data         BYTEA NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL,
			UNIQUE (user_id, service_type, name)
		)`},
}

// Migrator applies pending migrations on service start.
type Migrator struct {
	db  *database.DB
	log logger.Logger
}

func New(db *database.DB, log logger.Logger) *Migrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Migrator{db: db, log: log}
}

// Up applies every migration newer than the recorded version.
func (m *Migrator) Up(ctx context.Context) error {
	if _, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INT PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, mig := range migrations {
		if mig.version <= current {
			continue
		}
		// Each migration and its version record commit together.
		err := m.db.Transaction(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, mig.stmt); err != nil {
				return fmt.Errorf("apply migration %d (%s): %w", mig.version, mig.name, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`,
				mig.version, mig.name); err != nil {
				return fmt.Errorf("record migration %d: %w", mig.version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.log.Info("migration applied", "version", mig.version, "name", mig.name)
	}
	return nil
}

// Version returns the highest applied migration version.
func (m *Migrator) Version(ctx context.Context) (int, error) {
	var current int
	err := m.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return current, nil
}
