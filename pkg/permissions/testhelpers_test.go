package permissions

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/pms/pkg/observability"
)

const sqliteSchema = `
	CREATE TABLE projects (id TEXT PRIMARY KEY, name TEXT NOT NULL DEFAULT '');
	CREATE TABLE users (id TEXT PRIMARY KEY, email TEXT NOT NULL DEFAULT '');
	CREATE TABLE project_assignments (
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		PRIMARY KEY (project_id, user_id)
	);
	CREATE TABLE role_templates (
		role TEXT PRIMARY KEY,
		permissions TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP,
		updated_by TEXT
	);
	CREATE TABLE project_role_overrides (
		project_id TEXT NOT NULL,
		role TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL,
		updated_by TEXT,
		PRIMARY KEY (project_id, role)
	);
	CREATE TABLE user_permission_overrides (
		project_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		permissions TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL,
		updated_by TEXT,
		PRIMARY KEY (project_id, user_id)
	);
	CREATE TABLE audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		occurred_at TIMESTAMP NOT NULL,
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
		metadata TEXT,
		changes TEXT
	);
`

// setupTestDB opens an in-memory SQLite database with the permission schema
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, &bytes.Buffer{})
}

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db := setupTestDB(t)
	return NewStore(db, DefaultCatalog(), testLogger()), db
}

func seedProject(t *testing.T, db *sql.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := db.Exec(`INSERT INTO projects (id) VALUES ($1)`, id)
		require.NoError(t, err)
	}
}

func seedUser(t *testing.T, db *sql.DB, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := db.Exec(`INSERT INTO users (id) VALUES ($1)`, id)
		require.NoError(t, err)
	}
}

func assignMember(t *testing.T, db *sql.DB, projectID, userID string, role Role) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO project_assignments (project_id, user_id, role) VALUES ($1, $2, $3)`,
		projectID, userID, string(role))
	require.NoError(t, err)
}

// fakeSources serves fixed layers for resolver tests
type fakeSources struct {
	template *RoleTemplate
	project  *ProjectOverride
	user     *UserOverride
	role     Role
	member   bool
	err      error
}

func (f *fakeSources) GetTemplate(ctx context.Context, role Role) (*RoleTemplate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.template, nil
}

func (f *fakeSources) GetProjectOverride(ctx context.Context, projectID string, role Role) (*ProjectOverride, error) {
	return f.project, nil
}

func (f *fakeSources) GetUserOverride(ctx context.Context, projectID, userID string) (*UserOverride, error) {
	return f.user, nil
}

func (f *fakeSources) GetMemberRole(ctx context.Context, projectID, userID string) (Role, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	return f.role, f.member, nil
}
