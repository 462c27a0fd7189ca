package sensor

import (
	"slices"
	"sort"
	"strings"

	"github.com/samber/lo"
	"periph.io/x/conn/v3/physic"
)

// Strategy is the access pattern used for a sensor.
type Strategy int

// Access strategies.
const (
	GenericPolling Strategy = iota
	PermissionQuery
	StaticPresence
	Custom
)

func (s Strategy) String() string {
	switch s {
	case GenericPolling:
		return "generic-polling"
	case PermissionQuery:
		return "permission-query"
	case StaticPresence:
		return "static-presence"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// Descriptor describes how one sensor is reached on the host.
type Descriptor struct {
	ID        string
	Strategy  Strategy
	APIName   string
	Frequency physic.Frequency
	// Fields is the allow-list of properties copied into a Reading.
	Fields  []string
	Aliases []string
}

var commonFields = []string{"activated", "hasReading", "timestamp"}

func fields(names ...string) []string {
	return append(names, commonFields...)
}

func polling(id string, hz int64, f []string, aliases ...string) Descriptor {
	return Descriptor{
		ID:        id,
		Strategy:  GenericPolling,
		APIName:   id,
		Frequency: physic.Frequency(hz) * physic.Hertz,
		Fields:    f,
		Aliases:   aliases,
	}
}

func presence(id, apiName string, aliases ...string) Descriptor {
	return Descriptor{ID: id, Strategy: StaticPresence, APIName: apiName, Aliases: aliases}
}

var descriptors = []Descriptor{
	{
		ID:       "Geolocation",
		Strategy: PermissionQuery,
		APIName:  "geolocation",
		Fields:   []string{"timestamp", "coords"},
	},
	polling("Accelerometer", 60, fields("x", "y", "z")),
	polling("LinearAccelerationSensor", 60, fields("x", "y", "z"), "linearacceleration"),
	polling("GravitySensor", 60, fields("x", "y", "z"), "gravity"),
	polling("Gyroscope", 60, fields("x", "y", "z")),
	polling("Magnetometer", 10, fields("x", "y", "z")),
	polling("UncalibratedMagnetometer", 10, fields("x", "y", "z", "xBias", "yBias", "zBias")),
	polling("AbsoluteOrientationSensor", 60, fields("quaternion"), "absoluteorientation"),
	polling("RelativeOrientationSensor", 60, fields("quaternion"), "relativeorientation"),
	polling("AmbientLightSensor", 0, fields("illuminance"), "ambientlight"),
	polling("PressureSensor", 0, fields("pressure"), "barometer"),
	polling("ProximitySensor", 0, fields("distance", "max", "near"), "proximity"),
	polling("Thermometer", 1, fields("temperature")),
	presence("DeviceMotionEvent", "DeviceMotionEvent", "devicemotion"),
	presence("DeviceOrientationEvent", "DeviceOrientationEvent", "deviceorientation"),
	presence("HeartRateSensor", "HeartRateSensor", "heart-rate"),
	presence("Pedometer", "Pedometer"),
	presence("FaceDetector", "FaceDetector", "face-recognition"),
	presence("Fingerprint", "credentials.create"),
	{
		ID:       "Battery",
		Strategy: Custom,
		APIName:  "getBattery",
		Fields:   []string{"charging", "chargingTime", "dischargingTime", "level"},
	},
}

// lookup maps lowercase identifiers and aliases to descriptors. Built once, never mutated.
var lookup = func() map[string]Descriptor {
	m := make(map[string]Descriptor, len(descriptors)*2)
	for _, d := range descriptors {
		m[strings.ToLower(d.ID)] = d
		for _, a := range d.Aliases {
			m[strings.ToLower(a)] = d
		}
	}
	return m
}()

// Resolve returns the descriptor for identifier, matched case-insensitively against
// canonical identifiers and aliases.
func Resolve(identifier string) (Descriptor, bool) {
	d, ok := lookup[strings.ToLower(strings.TrimSpace(identifier))]
	if !ok {
		return Descriptor{}, false
	}
	d.Fields = slices.Clone(d.Fields)
	d.Aliases = slices.Clone(d.Aliases)
	return d, true
}

// Names returns every canonical identifier, sorted.
func Names() []string {
	names := lo.Map(descriptors, func(d Descriptor, _ int) string { return d.ID })
	sort.Strings(names)
	return names
}

// Identifiers returns every accepted lowercase identifier, aliases included, sorted.
func Identifiers() []string {
	ids := lo.Keys(lookup)
	sort.Strings(ids)
	return ids
}
