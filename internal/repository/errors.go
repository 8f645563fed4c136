package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrInvalidArgument indicates the store rejected the provided values.
	ErrInvalidArgument = errors.New("repository: invalid argument")
	// ErrConflict indicates a guarded state transition did not apply.
	ErrConflict = errors.New("repository: conflict")
)
