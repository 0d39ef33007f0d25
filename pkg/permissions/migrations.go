package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/pms/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns the PostgreSQL schema migrations in order
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create projects, users and project_assignments tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS projects (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS users (
					id TEXT PRIMARY KEY,
					email TEXT NOT NULL DEFAULT '',
					created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS project_assignments (
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role TEXT NOT NULL,
					assigned_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					PRIMARY KEY (project_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_project_assignments_user_id ON project_assignments(user_id);
			`,
		},
		{
			Version:     2,
			Description: "Create role_templates table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_templates (
					role TEXT PRIMARY KEY,
					permissions JSONB NOT NULL DEFAULT '{}',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_by TEXT
				);
			`,
		},
		{
			Version:     3,
			Description: "Create project_role_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS project_role_overrides (
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					role TEXT NOT NULL,
					permissions JSONB NOT NULL DEFAULT '{}',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_by TEXT,
					PRIMARY KEY (project_id, role)
				);
			`,
		},
		{
			Version:     4,
			Description: "Create user_permission_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_permission_overrides (
					project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
					user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					permissions JSONB NOT NULL DEFAULT '{}',
					updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
					updated_by TEXT,
					PRIMARY KEY (project_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_user_permission_overrides_user_id ON user_permission_overrides(user_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					occurred_at TIMESTAMPTZ NOT NULL,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					actor_id TEXT NOT NULL DEFAULT '',
					project_id TEXT NOT NULL DEFAULT '',
					resource_type TEXT NOT NULL DEFAULT '',
					resource_id TEXT NOT NULL DEFAULT '',
					ip_address TEXT NOT NULL DEFAULT '',
					request_id TEXT NOT NULL DEFAULT '',
					method TEXT NOT NULL DEFAULT '',
					path TEXT NOT NULL DEFAULT '',
					message TEXT NOT NULL DEFAULT '',
					metadata JSONB,
					changes JSONB
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_project_id ON audit_events(project_id, occurred_at DESC);
				CREATE INDEX IF NOT EXISTS idx_audit_events_actor_id ON audit_events(actor_id);
			`,
		},
	}
}

// RunMigrations applies pending migrations, each in its own transaction,
// and records them in pms_migrations
func RunMigrations(ctx context.Context, db *sql.DB, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}

	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS pms_migrations (
			version INT PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, "SELECT version FROM pms_migrations ORDER BY version")
	if err != nil {
		return fmt.Errorf("failed to query migrations: %w", err)
	}

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	rows.Close()

	for _, migration := range GetMigrations() {
		if applied[migration.Version] {
			continue
		}

		logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Running migration")

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}

		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to execute migration %d: %w", migration.Version, err)
		}

		if _, err := tx.ExecContext(ctx,
			"INSERT INTO pms_migrations (version, description) VALUES ($1, $2)",
			migration.Version, migration.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// InitializeRoleTemplates seeds role_templates with the catalog defaults.
// Rows that already exist are left untouched so admin edits survive restarts.
func InitializeRoleTemplates(ctx context.Context, store *Store) (int, error) {
	seeded := 0
	now := time.Now().UTC()
	for _, role := range store.catalog.Roles() {
		blob, err := json.Marshal(store.catalog.DefaultTemplate(role))
		if err != nil {
			return seeded, fmt.Errorf("failed to marshal template for %s: %w", role, err)
		}

		res, err := store.db.ExecContext(ctx, `
			INSERT INTO role_templates (role, permissions, updated_at, updated_by)
			VALUES ($1, $2, $3, NULL)
			ON CONFLICT (role) DO NOTHING
		`, string(role), string(blob), now)
		if err != nil {
			return seeded, unavailable("seed role template", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			seeded++
		}
	}
	return seeded, nil
}
