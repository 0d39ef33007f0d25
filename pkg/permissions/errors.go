package permissions

import "errors"

var (
	// ErrMissingIdentifier is returned when a project, user or role identifier is empty
	ErrMissingIdentifier = errors.New("missing identifier")

	// ErrUnknownRole is returned when writing for a role the catalog does not know
	ErrUnknownRole = errors.New("unknown role")

	// ErrProjectNotFound is returned when writing an override for a missing project
	ErrProjectNotFound = errors.New("project not found")

	// ErrUserNotFound is returned when writing an override for a missing user
	ErrUserNotFound = errors.New("user not found")

	// ErrStoreUnavailable wraps any persistence failure
	ErrStoreUnavailable = errors.New("permission store unavailable")
)
