// Package simulated is a host that fabricates sensor samples, positions and battery status.
package simulated

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	geo "github.com/kellydunn/golang-geo"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// DefaultCapabilities is what a simulated host exposes when Config.Capabilities is empty.
var DefaultCapabilities = []string{
	"geolocation",
	"Accelerometer",
	"LinearAccelerationSensor",
	"GravitySensor",
	"Gyroscope",
	"Magnetometer",
	"AbsoluteOrientationSensor",
	"RelativeOrientationSensor",
	"AmbientLightSensor",
	"Thermometer",
	"DeviceMotionEvent",
	"DeviceOrientationEvent",
	"getBattery",
}

// Config tunes a simulated host.
type Config struct {
	Capabilities []string
	// Permission answers every permission query. Empty means granted.
	Permission host.PermissionState
	// DefaultFrequency is used when a sensor is constructed without one.
	DefaultFrequency physic.Frequency
	// ConstructErrors fails construction of the named APIs.
	ConstructErrors map[string]error
	// ReadErrors makes the named APIs report this error on every sample instead of a reading.
	ReadErrors map[string]error
	Latitude   float64
	Longitude  float64
	// Speed in metres per second of the simulated walk; heading in degrees.
	Speed        float64
	Heading      float64
	FixInterval  time.Duration
	BatteryLevel float64
	Charging     bool
	Seed         int64
}

// Host is a simulated host.Host.
type Host struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.SugaredLogger
	caps   map[string]bool

	randMu sync.Mutex
	rand   *rand.Rand

	mu        sync.Mutex
	watches   map[host.WatchID]chan struct{}
	nextWatch host.WatchID
	battery   *battery
	closed    chan struct{}
	closeOnce sync.Once
}

// New returns a simulated host. A nil clk uses the wall clock.
func New(cfg Config, clk clock.Clock, logger *zap.SugaredLogger) *Host {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.DefaultFrequency == 0 {
		cfg.DefaultFrequency = 10 * physic.Hertz
	}
	if cfg.FixInterval == 0 {
		cfg.FixInterval = time.Second
	}
	if cfg.Permission == "" {
		cfg.Permission = host.Granted
	}
	caps := cfg.Capabilities
	if len(caps) == 0 {
		caps = DefaultCapabilities
	}
	set := make(map[string]bool, len(caps))
	for _, c := range caps {
		set[strings.ToLower(c)] = true
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Host{
		cfg:     cfg,
		clock:   clk,
		logger:  logger.Named("simulated"),
		caps:    set,
		rand:    rand.New(rand.NewSource(seed)),
		watches: map[host.WatchID]chan struct{}{},
		closed:  make(chan struct{}),
	}
}

// Has reports whether name is one of the configured capabilities.
func (h *Host) Has(name string) bool {
	return h.caps[strings.ToLower(name)]
}

func (h *Host) float(lo, hi float64) float64 {
	h.randMu.Lock()
	defer h.randMu.Unlock()
	return lo + h.rand.Float64()*(hi-lo)
}

// period converts a frequency into a ticker interval.
func period(f physic.Frequency) time.Duration {
	return time.Duration(float64(time.Second) * float64(physic.Hertz) / float64(f))
}

// NewSensor constructs a simulated polling sensor.
func (h *Host) NewSensor(apiName string, opts host.SensorOptions) (host.Sensor, error) {
	if err, ok := h.cfg.ConstructErrors[apiName]; ok {
		return nil, err
	}
	if !h.Has(apiName) {
		return nil, &host.PlatformError{Name: "ReferenceError", Message: apiName + " is not defined"}
	}
	freq := opts.Frequency
	if freq <= 0 {
		freq = h.cfg.DefaultFrequency
	}
	return &sensor{
		host:     h,
		apiName:  apiName,
		interval: period(freq),
		props:    map[string]interface{}{"activated": false, "hasReading": false},
		readers:  map[int]func(){},
		errorers: map[int]func(error){},
	}, nil
}

// sample fabricates the properties of one reading for apiName.
func (h *Host) sample(apiName string) map[string]interface{} {
	p := map[string]interface{}{
		"activated":  true,
		"hasReading": true,
		"timestamp":  float64(h.clock.Now().UnixNano()) / float64(time.Millisecond),
	}
	switch apiName {
	case "Accelerometer":
		p["x"], p["y"], p["z"] = h.float(-0.2, 0.2), h.float(-0.2, 0.2), 9.81+h.float(-0.1, 0.1)
	case "LinearAccelerationSensor":
		p["x"], p["y"], p["z"] = h.float(-0.2, 0.2), h.float(-0.2, 0.2), h.float(-0.2, 0.2)
	case "GravitySensor":
		p["x"], p["y"], p["z"] = 0.0, 0.0, 9.81
	case "Gyroscope":
		p["x"], p["y"], p["z"] = h.float(-0.05, 0.05), h.float(-0.05, 0.05), h.float(-0.05, 0.05)
	case "Magnetometer", "UncalibratedMagnetometer":
		p["x"], p["y"], p["z"] = h.float(-50, 50), h.float(-50, 50), h.float(-50, 50)
		if apiName == "UncalibratedMagnetometer" {
			p["xBias"], p["yBias"], p["zBias"] = 0.5, -0.25, 0.1
		}
	case "AbsoluteOrientationSensor", "RelativeOrientationSensor":
		yaw := h.float(-math.Pi, math.Pi)
		p["quaternion"] = []float64{0, 0, math.Sin(yaw / 2), math.Cos(yaw / 2)}
	case "AmbientLightSensor":
		p["illuminance"] = h.float(0, 1000)
	case "PressureSensor":
		p["pressure"] = 1013.25 + h.float(-5, 5)
	case "ProximitySensor":
		d := h.float(0, 5)
		p["distance"], p["max"], p["near"] = d, 5.0, d < 1
	case "Thermometer":
		p["temperature"] = 21 + h.float(-0.5, 0.5)
	}
	return p
}

// QueryPermission answers with the configured state.
func (h *Host) QueryPermission(ctx context.Context, name string) (host.PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !h.Has(name) {
		return "", fmt.Errorf("query %s: %w", name, host.ErrNotSupported)
	}
	return h.cfg.Permission, nil
}

// WatchPosition walks from the configured start point at the configured speed and heading,
// reporting one fix immediately and then every FixInterval.
func (h *Host) WatchPosition(onPosition func(host.Position), onError func(error), opts host.WatchOptions) (host.WatchID, error) {
	if !h.Has("geolocation") {
		return 0, host.ErrNotSupported
	}
	stop := make(chan struct{})
	h.mu.Lock()
	h.nextWatch++
	id := h.nextWatch
	h.watches[id] = stop
	h.mu.Unlock()

	accuracy := 25.0
	if opts.EnableHighAccuracy {
		accuracy = 5
	}
	go func() {
		ticker := h.clock.Ticker(h.cfg.FixInterval)
		defer ticker.Stop()
		point := geo.NewPoint(h.cfg.Latitude, h.cfg.Longitude)
		for {
			speed, heading := h.cfg.Speed, h.cfg.Heading
			altitude := 10.0
			onPosition(host.Position{
				Timestamp: h.clock.Now(),
				Coords: host.Coordinates{
					Latitude:  point.Lat(),
					Longitude: point.Lng(),
					Accuracy:  accuracy,
					Altitude:  &altitude,
					Heading:   &heading,
					Speed:     &speed,
				},
			})
			select {
			case <-stop:
				return
			case <-h.closed:
				return
			case <-ticker.C:
			}
			km := h.cfg.Speed * h.cfg.FixInterval.Seconds() / 1000
			point = point.PointAtDistanceAndBearing(km, h.cfg.Heading)
		}
	}()
	return id, nil
}

// ClearWatch stops a watch. It is safe to call from inside the position callback.
func (h *Host) ClearWatch(id host.WatchID) {
	h.mu.Lock()
	stop, ok := h.watches[id]
	delete(h.watches, id)
	h.mu.Unlock()
	if ok {
		close(stop)
	}
}

// Battery returns the shared simulated battery, starting its drain on first use.
func (h *Host) Battery(ctx context.Context) (host.Battery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !h.Has("getBattery") {
		return nil, host.ErrNotSupported
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.battery == nil {
		level := h.cfg.BatteryLevel
		if level <= 0 || level > 1 {
			level = 1
		}
		h.battery = newBattery(level, h.cfg.Charging)
		go h.battery.run(h.clock, h.closed)
	}
	return h.battery, nil
}

// Close stops every watch, sensor and the battery drain.
func (h *Host) Close() error {
	h.closeOnce.Do(func() { close(h.closed) })
	return nil
}
