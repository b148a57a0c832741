// Package domain contains domain models and business logic errors.
package domain

import "errors"

// Common domain errors
var (
	// ErrNotFound is returned when a requested catalog entity is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when trying to create an entity that already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrDisabled is returned when the scheduling target is disabled.
	ErrDisabled = errors.New("target is disabled")

	// ErrNothingToSchedule is returned when a run cannot place a single guest.
	ErrNothingToSchedule = errors.New("nothing to schedule")
)
