package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DBLogger persists audit events in the audit_events table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-backed audit logger. The audit_events
// table is created by the permissions migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

func marshalNullable(v interface{}, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	metadata, err := marshalNullable(event.Metadata, len(event.Metadata) == 0)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	changes, err := marshalNullable(event.Changes, event.Changes == nil)
	if err != nil {
		return fmt.Errorf("failed to marshal changes: %w", err)
	}

	query := `
		INSERT INTO audit_events (
			occurred_at, event_type, status, actor_id, project_id,
			resource_type, resource_id, ip_address, request_id,
			method, path, message, metadata, changes
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id
	`

	err = l.db.QueryRowContext(ctx, query,
		event.Timestamp, string(event.EventType), string(event.Status), event.UserID, event.ProjectID,
		string(event.ResourceType), event.ResourceID, event.IPAddress, event.RequestID,
		event.Method, event.Path, event.Message, metadata, changes,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns events matching the filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter *SearchFilter) ([]*AuditEvent, error) {
	if filter == nil {
		filter = &SearchFilter{}
	}

	var (
		where []string
		args  []interface{}
	)
	add := func(clause string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if filter.ProjectID != "" {
		add("project_id = $%d", filter.ProjectID)
	}
	if filter.UserID != "" {
		add("actor_id = $%d", filter.UserID)
	}
	if filter.StartTime != nil {
		add("occurred_at >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("occurred_at <= $%d", *filter.EndTime)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, 0, len(filter.EventTypes))
		for _, et := range filter.EventTypes {
			args = append(args, string(et))
			placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}

	query := `
		SELECT id, occurred_at, event_type, status, actor_id, project_id,
			resource_type, resource_id, ip_address, request_id,
			method, path, message, metadata, changes
		FROM audit_events`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	args = append(args, limit, filter.Offset)
	query += fmt.Sprintf("\n\t\tORDER BY occurred_at DESC, id DESC\n\t\tLIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	events := []*AuditEvent{}
	for rows.Next() {
		var (
			event             AuditEvent
			eventType, status string
			resourceType      string
			metadata, changes sql.NullString
		)
		if err := rows.Scan(
			&event.ID, &event.Timestamp, &eventType, &status, &event.UserID, &event.ProjectID,
			&resourceType, &event.ResourceID, &event.IPAddress, &event.RequestID,
			&event.Method, &event.Path, &event.Message, &metadata, &changes,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.EventType = EventType(eventType)
		event.Status = EventStatus(status)
		event.ResourceType = ResourceType(resourceType)

		if metadata.Valid {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
			}
		}
		if changes.Valid {
			event.Changes = &ChangeDetails{}
			if err := json.Unmarshal([]byte(changes.String), event.Changes); err != nil {
				return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
			}
		}
		events = append(events, &event)
	}
	return events, rows.Err()
}

// Purge deletes events that occurred before cutoff and returns how many
// were removed
func (l *DBLogger) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged audit events: %w", err)
	}
	return n, nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}
