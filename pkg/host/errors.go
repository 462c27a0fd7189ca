package host

import (
	"errors"
	"fmt"
)

var (
	// ErrNotAllowed is returned when the user or a policy refused access.
	ErrNotAllowed = errors.New("not allowed")
	// ErrNotReadable is returned when the hardware exists but cannot be read.
	ErrNotReadable = errors.New("not readable")
	// ErrSecurity is returned when construction is blocked by an access policy.
	ErrSecurity = errors.New("blocked by permissions policy")
	// ErrNotSupported is returned when the capability is absent on this host.
	ErrNotSupported = errors.New("not supported")
)

// NamedError is implemented by platform errors that carry a well known name such as
// "NotAllowedError" or "SecurityError".
type NamedError interface {
	error
	ErrorName() string
}

// PlatformError is a NamedError built from a name and message.
type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return fmt.Sprintf("%s: %s", e.Name, e.Message)
}

// ErrorName returns the platform error name.
func (e *PlatformError) ErrorName() string { return e.Name }

// Position error codes.
const (
	PositionPermissionDenied = 1
	PositionUnavailable      = 2
	PositionTimeout          = 3
)

// PositionError is reported by a position watch.
type PositionError struct {
	Code    int
	Message string
}

func (e *PositionError) Error() string {
	return fmt.Sprintf("position error %d: %s", e.Code, e.Message)
}
