package permissions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/pms/pkg/observability"
)

// Store handles persistence of role templates, project overrides, user
// overrides and project membership. Permission blobs are stored as JSON and
// are normalized against the catalog on the way in and on the way out.
type Store struct {
	db      *sql.DB
	catalog *Catalog
	logger  *observability.Logger
}

// NewStore creates a new permission store
func NewStore(db *sql.DB, catalog *Catalog, logger *observability.Logger) *Store {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Store{db: db, catalog: catalog, logger: logger}
}

// Catalog returns the catalog the store normalizes against
func (s *Store) Catalog() *Catalog {
	return s.catalog
}

func unavailable(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, ErrStoreUnavailable, err)
}

func nullableString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func stringPtr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

// decodeBlob parses a stored JSON blob. Malformed blobs yield nil and a warning.
func (s *Store) decodeBlob(blob string, fields map[string]interface{}) map[string]any {
	if blob == "" {
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		s.logger.WithFields(fields).WithError(err).Warn("ignoring malformed permission blob")
		return nil
	}
	return raw
}

// ProjectExists reports whether a project row exists
func (s *Store) ProjectExists(ctx context.Context, projectID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = $1`, projectID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable("check project", err)
	}
	return true, nil
}

// UserExists reports whether a user row exists
func (s *Store) UserExists(ctx context.Context, userID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM users WHERE id = $1`, userID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, unavailable("check user", err)
	}
	return true, nil
}

func (s *Store) requireProject(ctx context.Context, projectID string) error {
	ok, err := s.ProjectExists(ctx, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrProjectNotFound, projectID)
	}
	return nil
}

func (s *Store) requireUser(ctx context.Context, userID string) error {
	ok, err := s.UserExists(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	return nil
}

// GetMemberRole returns the user's role in a project and whether the user is
// a member at all
func (s *Store) GetMemberRole(ctx context.Context, projectID, userID string) (Role, bool, error) {
	if projectID == "" || userID == "" {
		return "", false, ErrMissingIdentifier
	}

	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM project_assignments WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	).Scan(&role)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("get member role", err)
	}
	return Role(role), true, nil
}

// GetStoredTemplate returns the persisted template for a role, or nil when
// the role has no row
func (s *Store) GetStoredTemplate(ctx context.Context, role Role) (*RoleTemplate, error) {
	query := `
		SELECT role, permissions, updated_at, updated_by
		FROM role_templates
		WHERE role = $1
	`

	var (
		name      string
		blob      string
		updatedAt sql.NullTime
		updatedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, string(role)).Scan(&name, &blob, &updatedAt, &updatedBy)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get role template", err)
	}

	return s.templateFromRow(name, blob, updatedAt, updatedBy), nil
}

// ListStoredTemplates returns every persisted template ordered by role
func (s *Store) ListStoredTemplates(ctx context.Context) ([]*RoleTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, permissions, updated_at, updated_by
		FROM role_templates
		ORDER BY role
	`)
	if err != nil {
		return nil, unavailable("list role templates", err)
	}
	defer rows.Close()

	var templates []*RoleTemplate
	for rows.Next() {
		var (
			name      string
			blob      string
			updatedAt sql.NullTime
			updatedBy sql.NullString
		)
		if err := rows.Scan(&name, &blob, &updatedAt, &updatedBy); err != nil {
			return nil, unavailable("scan role template", err)
		}
		templates = append(templates, s.templateFromRow(name, blob, updatedAt, updatedBy))
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list role templates", err)
	}
	return templates, nil
}

func (s *Store) templateFromRow(name, blob string, updatedAt sql.NullTime, updatedBy sql.NullString) *RoleTemplate {
	raw := s.decodeBlob(blob, map[string]interface{}{"role": name})
	t := &RoleTemplate{
		Role:        Role(name),
		Permissions: NormalizeProjectMatrix(s.catalog, raw),
		UpdatedBy:   stringPtr(updatedBy),
	}
	if updatedAt.Valid {
		ts := updatedAt.Time
		t.UpdatedAt = &ts
	}
	return t
}

// UpsertTemplate normalizes and stores the template for a catalog role
func (s *Store) UpsertTemplate(ctx context.Context, role Role, raw any, updatedBy string) (*RoleTemplate, error) {
	if role == "" {
		return nil, ErrMissingIdentifier
	}
	if !s.catalog.HasRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}

	matrix := NormalizeProjectMatrix(s.catalog, raw)
	blob, err := json.Marshal(matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO role_templates (role, permissions, updated_at, updated_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (role) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, string(role), string(blob), now, nullableString(updatedBy))
	if err != nil {
		return nil, unavailable("upsert role template", err)
	}

	return &RoleTemplate{
		Role:        role,
		Permissions: matrix,
		UpdatedAt:   &now,
		UpdatedBy:   stringPtr(nullableString(updatedBy)),
	}, nil
}

// GetProjectOverride returns the override for (project, role). A missing row
// yields an empty override rather than an error.
func (s *Store) GetProjectOverride(ctx context.Context, projectID string, role Role) (*ProjectOverride, error) {
	if projectID == "" || role == "" {
		return nil, ErrMissingIdentifier
	}

	query := `
		SELECT permissions, updated_at, updated_by
		FROM project_role_overrides
		WHERE project_id = $1 AND role = $2
	`

	var (
		blob      string
		updatedAt time.Time
		updatedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, projectID, string(role)).Scan(&blob, &updatedAt, &updatedBy)
	if err == sql.ErrNoRows {
		return &ProjectOverride{ProjectID: projectID, Role: role, Permissions: Matrix{}}, nil
	}
	if err != nil {
		return nil, unavailable("get project override", err)
	}

	raw := s.decodeBlob(blob, map[string]interface{}{"project_id": projectID, "role": role})
	return &ProjectOverride{
		ProjectID:   projectID,
		Role:        role,
		Permissions: NormalizeProjectMatrix(s.catalog, raw),
		UpdatedAt:   &updatedAt,
		UpdatedBy:   stringPtr(updatedBy),
	}, nil
}

// ListProjectOverrides returns every role override stored for a project
func (s *Store) ListProjectOverrides(ctx context.Context, projectID string) ([]*ProjectOverride, error) {
	if projectID == "" {
		return nil, ErrMissingIdentifier
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, permissions, updated_at, updated_by
		FROM project_role_overrides
		WHERE project_id = $1
		ORDER BY role
	`, projectID)
	if err != nil {
		return nil, unavailable("list project overrides", err)
	}
	defer rows.Close()

	overrides := []*ProjectOverride{}
	for rows.Next() {
		var (
			role      string
			blob      string
			updatedAt time.Time
			updatedBy sql.NullString
		)
		if err := rows.Scan(&role, &blob, &updatedAt, &updatedBy); err != nil {
			return nil, unavailable("scan project override", err)
		}
		raw := s.decodeBlob(blob, map[string]interface{}{"project_id": projectID, "role": role})
		overrides = append(overrides, &ProjectOverride{
			ProjectID:   projectID,
			Role:        Role(role),
			Permissions: NormalizeProjectMatrix(s.catalog, raw),
			UpdatedAt:   &updatedAt,
			UpdatedBy:   stringPtr(updatedBy),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list project overrides", err)
	}
	return overrides, nil
}

// UpsertProjectOverride normalizes raw and stores it as the override for
// (project, role). The normalized override is returned.
func (s *Store) UpsertProjectOverride(ctx context.Context, projectID string, role Role, raw any, updatedBy string) (*ProjectOverride, error) {
	if projectID == "" || role == "" {
		return nil, ErrMissingIdentifier
	}
	if !s.catalog.HasRole(role) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRole, role)
	}
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}

	matrix := NormalizeProjectMatrix(s.catalog, raw)
	blob, err := json.Marshal(matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO project_role_overrides (project_id, role, permissions, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, role) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, projectID, string(role), string(blob), now, nullableString(updatedBy))
	if err != nil {
		return nil, unavailable("upsert project override", err)
	}

	return &ProjectOverride{
		ProjectID:   projectID,
		Role:        role,
		Permissions: matrix,
		UpdatedAt:   &now,
		UpdatedBy:   stringPtr(nullableString(updatedBy)),
	}, nil
}

// ResetProjectOverride deletes the override for (project, role) so the role
// falls back to its template. Resetting a missing override is not an error.
func (s *Store) ResetProjectOverride(ctx context.Context, projectID string, role Role) error {
	if projectID == "" || role == "" {
		return ErrMissingIdentifier
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM project_role_overrides WHERE project_id = $1 AND role = $2`,
		projectID, string(role),
	)
	if err != nil {
		return unavailable("reset project override", err)
	}
	return nil
}

// GetUserOverride returns the deny-only override for (project, user). A
// missing row yields an empty override.
func (s *Store) GetUserOverride(ctx context.Context, projectID, userID string) (*UserOverride, error) {
	if projectID == "" || userID == "" {
		return nil, ErrMissingIdentifier
	}

	query := `
		SELECT permissions, updated_at, updated_by
		FROM user_permission_overrides
		WHERE project_id = $1 AND user_id = $2
	`

	var (
		blob      string
		updatedAt time.Time
		updatedBy sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, projectID, userID).Scan(&blob, &updatedAt, &updatedBy)
	if err == sql.ErrNoRows {
		return &UserOverride{ProjectID: projectID, UserID: userID, Permissions: UserMatrix{}}, nil
	}
	if err != nil {
		return nil, unavailable("get user override", err)
	}

	raw := s.decodeBlob(blob, map[string]interface{}{"project_id": projectID, "user_id": userID})
	return &UserOverride{
		ProjectID:   projectID,
		UserID:      userID,
		Permissions: NormalizeUserMatrix(s.catalog, raw),
		UpdatedAt:   &updatedAt,
		UpdatedBy:   stringPtr(updatedBy),
	}, nil
}

// ListUserOverrides returns every user override stored for a project
func (s *Store) ListUserOverrides(ctx context.Context, projectID string) ([]*UserOverride, error) {
	if projectID == "" {
		return nil, ErrMissingIdentifier
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, permissions, updated_at, updated_by
		FROM user_permission_overrides
		WHERE project_id = $1
		ORDER BY user_id
	`, projectID)
	if err != nil {
		return nil, unavailable("list user overrides", err)
	}
	defer rows.Close()

	overrides := []*UserOverride{}
	for rows.Next() {
		var (
			userID    string
			blob      string
			updatedAt time.Time
			updatedBy sql.NullString
		)
		if err := rows.Scan(&userID, &blob, &updatedAt, &updatedBy); err != nil {
			return nil, unavailable("scan user override", err)
		}
		raw := s.decodeBlob(blob, map[string]interface{}{"project_id": projectID, "user_id": userID})
		overrides = append(overrides, &UserOverride{
			ProjectID:   projectID,
			UserID:      userID,
			Permissions: NormalizeUserMatrix(s.catalog, raw),
			UpdatedAt:   &updatedAt,
			UpdatedBy:   stringPtr(updatedBy),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list user overrides", err)
	}
	return overrides, nil
}

// UpsertUserOverride normalizes raw (inherit/deny cells, guardrails applied)
// and stores it for (project, user). The normalized override is returned.
func (s *Store) UpsertUserOverride(ctx context.Context, projectID, userID string, raw any, updatedBy string) (*UserOverride, error) {
	if projectID == "" || userID == "" {
		return nil, ErrMissingIdentifier
	}
	if err := s.requireProject(ctx, projectID); err != nil {
		return nil, err
	}
	if err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	matrix := NormalizeUserMatrix(s.catalog, raw)
	blob, err := json.Marshal(matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal permissions: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO user_permission_overrides (project_id, user_id, permissions, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (project_id, user_id) DO UPDATE SET
			permissions = EXCLUDED.permissions,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`, projectID, userID, string(blob), now, nullableString(updatedBy))
	if err != nil {
		return nil, unavailable("upsert user override", err)
	}

	return &UserOverride{
		ProjectID:   projectID,
		UserID:      userID,
		Permissions: matrix,
		UpdatedAt:   &now,
		UpdatedBy:   stringPtr(nullableString(updatedBy)),
	}, nil
}

// ResetUserOverride deletes the user's override row, returning every cell to
// inherit
func (s *Store) ResetUserOverride(ctx context.Context, projectID, userID string) error {
	if projectID == "" || userID == "" {
		return ErrMissingIdentifier
	}

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM user_permission_overrides WHERE project_id = $1 AND user_id = $2`,
		projectID, userID,
	)
	if err != nil {
		return unavailable("reset user override", err)
	}
	return nil
}

// IsClientError reports whether err is caused by bad caller input rather than
// a store failure
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingIdentifier) ||
		errors.Is(err, ErrUnknownRole) ||
		errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrUserNotFound)
}
