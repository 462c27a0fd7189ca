package sensor

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// Kind is the normalized failure taxonomy.
type Kind int

// Failure kinds.
const (
	Unknown Kind = iota
	PermissionDenied
	Unreadable
	PolicyBlocked
	Unsupported
)

func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "PermissionDenied"
	case Unreadable:
		return "Unreadable"
	case PolicyBlocked:
		return "PolicyBlocked"
	case Unsupported:
		return "Unsupported"
	default:
		return "Unknown"
	}
}

// Error is a normalized failure of one sensor operation.
type Error struct {
	Kind   Kind
	Sensor string
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s %s: %s", e.Sensor, e.Op, e.Kind)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Sensor, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Classify maps a host failure onto a Kind.
func Classify(err error) Kind {
	if err == nil {
		return Unknown
	}
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	switch {
	case errors.Is(err, host.ErrNotAllowed):
		return PermissionDenied
	case errors.Is(err, host.ErrNotReadable):
		return Unreadable
	case errors.Is(err, host.ErrSecurity):
		return PolicyBlocked
	case errors.Is(err, host.ErrNotSupported):
		return Unsupported
	}
	var pe *host.PositionError
	if errors.As(err, &pe) {
		switch pe.Code {
		case host.PositionPermissionDenied:
			return PermissionDenied
		case host.PositionUnavailable:
			return Unreadable
		default:
			return Unknown
		}
	}
	var ne host.NamedError
	if errors.As(err, &ne) {
		switch ne.ErrorName() {
		case "NotAllowedError":
			return PermissionDenied
		case "NotReadableError":
			return Unreadable
		case "SecurityError":
			return PolicyBlocked
		case "ReferenceError", "NotSupportedError":
			return Unsupported
		}
	}
	return Unknown
}

// normalize classifies err for sensor/op and logs it. Unknown failures are logged at
// error level with the full error chain.
func normalize(logger *zap.SugaredLogger, sensor, op string, err error) *Error {
	e := &Error{Kind: Classify(err), Sensor: sensor, Op: op, Err: err}
	switch e.Kind {
	case Unknown:
		logger.Errorw("sensor failure", "sensor", sensor, "op", op, "kind", e.Kind.String(), "error", fmt.Sprintf("%+v", err))
	case Unsupported:
		logger.Debugw("sensor not supported", "sensor", sensor, "op", op, "kind", e.Kind.String())
	default:
		logger.Infow("sensor unavailable", "sensor", sensor, "op", op, "kind", e.Kind.String(), "error", err)
	}
	return e
}
