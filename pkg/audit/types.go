package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAuthzAccessDenied EventType = "authz.access_denied"

	// Permission administration events
	EventTypeTemplateReplace       EventType = "permissions.template_replace"
	EventTypeProjectOverrideUpsert EventType = "permissions.project_override_upsert"
	EventTypeProjectOverrideReset  EventType = "permissions.project_override_reset"
	EventTypeUserOverrideUpsert    EventType = "permissions.user_override_upsert"
	EventTypeUserOverrideReset     EventType = "permissions.user_override_reset"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource being accessed
type ResourceType string

const (
	ResourceTypeRoleTemplate    ResourceType = "role_template"
	ResourceTypeProjectOverride ResourceType = "project_override"
	ResourceTypeUserOverride    ResourceType = "user_override"
	ResourceTypeModuleAction    ResourceType = "module_action"
)

// AuditEvent represents a single audit log entry
type AuditEvent struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor
	UserID string `json:"user_id,omitempty"`

	// Scope and resource
	ProjectID    string       `json:"project_id,omitempty"`
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request context
	IPAddress string `json:"ip_address,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Before/after values for permission edits
	Changes *ChangeDetails `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// SearchFilter represents filters for searching audit logs
type SearchFilter struct {
	ProjectID  string
	UserID     string
	EventTypes []EventType
	StartTime  *time.Time
	EndTime    *time.Time

	Limit  int
	Offset int
}
