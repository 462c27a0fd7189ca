package sensor

import (
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"

	"github.com/ericogr/sensorprobe/pkg/host"
)

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		kind Kind
	}{
		{"nil", nil, Unknown},
		{"not allowed", fmt.Errorf("start: %w", host.ErrNotAllowed), PermissionDenied},
		{"not readable", host.ErrNotReadable, Unreadable},
		{"security", host.ErrSecurity, PolicyBlocked},
		{"not supported", host.ErrNotSupported, Unsupported},
		{"named not allowed", &host.PlatformError{Name: "NotAllowedError"}, PermissionDenied},
		{"named not readable", &host.PlatformError{Name: "NotReadableError"}, Unreadable},
		{"named security", &host.PlatformError{Name: "SecurityError"}, PolicyBlocked},
		{"reference", &host.PlatformError{Name: "ReferenceError"}, Unsupported},
		{"named other", &host.PlatformError{Name: "TypeError"}, Unknown},
		{"position denied", &host.PositionError{Code: host.PositionPermissionDenied}, PermissionDenied},
		{"position unavailable", &host.PositionError{Code: host.PositionUnavailable}, Unreadable},
		{"position timeout", &host.PositionError{Code: host.PositionTimeout}, Unknown},
		{"plain", errors.New("boom"), Unknown},
		{"already normalized", &Error{Kind: PolicyBlocked, Err: errors.New("x")}, PolicyBlocked},
	} {
		t.Run(tc.name, func(t *testing.T) {
			test.That(t, Classify(tc.err), test.ShouldEqual, tc.kind)
		})
	}
}

func TestErrorWraps(t *testing.T) {
	e := &Error{Kind: PermissionDenied, Sensor: "Gyroscope", Op: "start", Err: host.ErrNotAllowed}
	test.That(t, errors.Is(e, host.ErrNotAllowed), test.ShouldBeTrue)
	test.That(t, e.Error(), test.ShouldContainSubstring, "Gyroscope start: PermissionDenied")
	test.That(t, (&Error{Kind: Unsupported, Sensor: "x", Op: "detect"}).Error(), test.ShouldEqual, "x detect: Unsupported")
}

func TestNormalizeLogLevels(t *testing.T) {
	logger, logs := observedLogger()

	e := normalize(logger, "Gyroscope", "construct", errors.New("boom"))
	test.That(t, e.Kind, test.ShouldEqual, Unknown)
	normalize(logger, "Gyroscope", "detect", host.ErrNotSupported)
	normalize(logger, "Gyroscope", "read", host.ErrNotReadable)

	entries := logs.All()
	test.That(t, entries, test.ShouldHaveLength, 3)
	test.That(t, entries[0].Level, test.ShouldEqual, zapcore.ErrorLevel)
	test.That(t, entries[0].ContextMap()["kind"], test.ShouldEqual, "Unknown")
	test.That(t, entries[1].Level, test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, entries[2].Level, test.ShouldEqual, zapcore.InfoLevel)
	test.That(t, entries[2].ContextMap()["sensor"], test.ShouldEqual, "Gyroscope")
}
