// Package host describes the capability surface a platform exposes to the sensor core:
// constructible polling sensors, permission queries, position watches and battery status.
package host

import (
	"context"
	"time"

	"periph.io/x/conn/v3/physic"
)

// Host is the capability-bearing platform. Implementations report a missing surface by
// returning ErrNotSupported from the corresponding method.
type Host interface {
	// Has reports whether the named capability symbol exists on this host.
	Has(name string) bool
	// NewSensor constructs a polling sensor handle for the given API name. The handle is idle
	// until Start is called.
	NewSensor(apiName string, opts SensorOptions) (Sensor, error)
	// QueryPermission blocks until the permission state for name is known or ctx is done.
	QueryPermission(ctx context.Context, name string) (PermissionState, error)
	// WatchPosition opens a continuous position watch. Callbacks fire on a host goroutine
	// until ClearWatch is called with the returned id.
	WatchPosition(onPosition func(Position), onError func(error), opts WatchOptions) (WatchID, error)
	// ClearWatch cancels a watch. Unknown ids are ignored.
	ClearWatch(id WatchID)
	// Battery blocks until the battery manager is available or ctx is done.
	Battery(ctx context.Context) (Battery, error)
}

// SensorOptions configures a polling sensor at construction.
type SensorOptions struct {
	// Frequency is the requested sampling rate; zero lets the host pick.
	Frequency physic.Frequency
}

// Sensor is a started/stopped handle that emits reading and error events.
type Sensor interface {
	Start()
	Stop()
	// OnReading registers fn for every new sample. The returned func detaches it.
	OnReading(fn func()) (remove func())
	// OnError registers fn for runtime failures. The returned func detaches it.
	OnError(fn func(error)) (remove func())
	// Property returns the current value of a named sample property.
	Property(name string) (interface{}, bool)
}

// BatteryEvent names a battery change notification.
type BatteryEvent string

// Battery change notifications.
const (
	ChargingChange        BatteryEvent = "chargingchange"
	LevelChange           BatteryEvent = "levelchange"
	ChargingTimeChange    BatteryEvent = "chargingtimechange"
	DischargingTimeChange BatteryEvent = "dischargingtimechange"
)

// BatteryEvents lists every battery change notification.
var BatteryEvents = []BatteryEvent{ChargingChange, LevelChange, ChargingTimeChange, DischargingTimeChange}

// Battery exposes battery status properties and change events.
type Battery interface {
	Property(name string) (interface{}, bool)
	OnChange(event BatteryEvent, fn func()) (remove func())
}

// PermissionState is the answer of a permission query.
type PermissionState string

// Permission states.
const (
	Granted PermissionState = "granted"
	Prompt  PermissionState = "prompt"
	Denied  PermissionState = "denied"
)

// WatchID identifies an open position watch.
type WatchID int64

// WatchOptions mirrors the positional API tuning knobs.
type WatchOptions struct {
	EnableHighAccuracy bool
	MaximumAge         time.Duration
	// Timeout of zero means no timeout.
	Timeout time.Duration
}

// Coordinates of a position fix. Nullable fields are nil when the host has no value.
type Coordinates struct {
	Latitude         float64
	Longitude        float64
	Accuracy         float64
	Altitude         *float64
	AltitudeAccuracy *float64
	Heading          *float64
	// Speed in metres per second.
	Speed *float64
}

// Position is a single position fix.
type Position struct {
	Timestamp time.Time
	Coords    Coordinates
}
