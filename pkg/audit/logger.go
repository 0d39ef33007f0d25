package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/pms/pkg/contextkeys"
	"github.com/platinummonkey/pms/pkg/observability"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an audit event
	Log(ctx context.Context, event *AuditEvent) error

	// Close flushes and releases resources
	Close() error
}

// LogrusLogger writes audit events as structured log lines
type LogrusLogger struct {
	logger *observability.Logger
}

// NewLogrusLogger creates an audit logger backed by the service logger
func NewLogrusLogger(logger *observability.Logger) *LogrusLogger {
	return &LogrusLogger{logger: logger.WithField("component", "audit")}
}

// Log logs an audit event
func (l *LogrusLogger) Log(ctx context.Context, event *AuditEvent) error {
	fields := map[string]interface{}{
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	}
	if event.UserID != "" {
		fields["actor_id"] = event.UserID
	}
	if event.ProjectID != "" {
		fields["project_id"] = event.ProjectID
	}
	if event.ResourceType != "" {
		fields["resource_type"] = string(event.ResourceType)
		fields["resource_id"] = event.ResourceID
	}
	if event.RequestID != "" {
		fields["request_id"] = event.RequestID
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusDenied || event.Status == EventStatusFailure {
		entry.Warn(event.Message)
		return nil
	}
	entry.Info(event.Message)
	return nil
}

// Close is a no-op
func (l *LogrusLogger) Close() error {
	return nil
}

// NewEvent creates an event populated from the request: actor, request ID,
// method, path and client IP
func NewEvent(r *http.Request, actorID string, eventType EventType, status EventStatus) *AuditEvent {
	event := &AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		UserID:    actorID,
		Metadata:  make(map[string]interface{}),
	}

	if r != nil {
		event.Method = r.Method
		event.Path = r.URL.Path
		event.IPAddress = getClientIP(r)
		event.RequestID = contextkeys.GetRequestID(r.Context())
	}

	return event
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
