package domain

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the services and mapped to HTTP statuses.
var (
	ErrNotFound           = errors.New("not found")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrInvalidPath        = errors.New("invalid path")
	ErrInvalidConfig      = errors.New("invalid config")
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrAdapter            = errors.New("adapter error")
	ErrResolutionNotFound = errors.New("resolution not found")
)

// AdapterError wraps a failure surfaced by an adapter operation.
type AdapterError struct {
	Adapter string
	Op      string
	Err     error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter %s %s: %v", e.Adapter, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrAdapter) hold for every AdapterError.
func (e *AdapterError) Is(target error) bool { return target == ErrAdapter }

// Resolution miss reasons. They are logged, never returned to public clients.
const (
	ReasonNoActiveDeployment = "no_active_deployment"
	ReasonDeletedInPatch     = "deleted_in_patch"
	ReasonFileNotFound       = "file_not_found"
)

// ResolutionError is a read-path miss.
type ResolutionError struct {
	Reason string
}

func (e *ResolutionError) Error() string {
	return "resolution not found: " + e.Reason
}

// Is makes errors.Is(err, ErrResolutionNotFound) hold.
func (e *ResolutionError) Is(target error) bool { return target == ErrResolutionNotFound }
