package tasks

import "errors"

var (
	// ErrNotFound is returned when no task has the requested id.
	ErrNotFound = errors.New("task not found")
	// ErrWrongKind is returned when a task exists but is not of the requested kind.
	ErrWrongKind = errors.New("task has the wrong kind")
	// ErrInvalidTask is returned when a task fails envelope or payload validation.
	ErrInvalidTask = errors.New("invalid task")
)
