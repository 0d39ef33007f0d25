// Package audit records permission administration and access denials.
//
// Events are written through the Logger interface. LogrusLogger emits them
// as structured log lines, DBLogger stores them in the audit_events table
// and supports Search, and MultiLogger fans out to both:
//
//	logger := audit.NewMultiLogger(audit.NewLogrusLogger(log), dbLogger)
//	event := audit.NewEvent(r, actorID, audit.EventTypeUserOverrideUpsert, audit.EventStatusSuccess)
//	event.ProjectID = projectID
//	event.Changes = &audit.ChangeDetails{Before: before, After: after}
//	logger.Log(ctx, event)
package audit
