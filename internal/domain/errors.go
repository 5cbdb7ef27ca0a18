package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidFormat is returned when data is not in the expected format.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidProviderKind is returned for provider kinds this engine cannot sync.
	ErrInvalidProviderKind = errors.New("invalid provider kind")

	// ErrInvalidRegion is returned when a geofence region is out of range.
	ErrInvalidRegion = errors.New("invalid geofence region")

	// ErrTaskDeleted is returned when a mutation targets a soft-deleted task.
	ErrTaskDeleted = errors.New("task is deleted")
)
