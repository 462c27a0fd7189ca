// Package sysfs is a Linux host backed by industrial-I/O devices, thermal zones and power
// supplies exposed under /sys.
package sysfs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"
	periphhost "periph.io/x/host/v3"
	periphsysfs "periph.io/x/host/v3/sysfs"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// Config locates the sysfs tree.
type Config struct {
	// Root defaults to /sys.
	Root string
	// DefaultFrequency is used when a sensor is constructed without one.
	DefaultFrequency physic.Frequency
	// BatteryPoll is how often power supplies are re-read for change events.
	BatteryPoll time.Duration
}

// iioChannel maps an API name to the IIO channel type and the reading fields it fills.
type iioChannel struct {
	channel string
	axes    []string
	field   string
}

var iioChannels = map[string]iioChannel{
	"Accelerometer":      {channel: "accel", axes: []string{"x", "y", "z"}},
	"Gyroscope":          {channel: "anglvel", axes: []string{"x", "y", "z"}},
	"Magnetometer":       {channel: "magn", axes: []string{"x", "y", "z"}},
	"AmbientLightSensor": {channel: "illuminance", field: "illuminance"},
	"PressureSensor":     {channel: "pressure", field: "pressure"},
	"ProximitySensor":    {channel: "proximity", field: "distance"},
}

const (
	thermometerAPI = "Thermometer"
	batteryAPI     = "getBattery"
)

// Host is a Linux host.Host.
type Host struct {
	cfg    Config
	clock  clock.Clock
	logger *zap.SugaredLogger

	mu       sync.Mutex
	devices  map[string]string
	zones    []*zone
	supplies []string
	battery  *battery
	closers  []func() error
}

// New initializes periph drivers and scans the sysfs tree. An error means sensor access is
// not attemptable on this machine.
func New(cfg Config, clk clock.Clock, logger *zap.SugaredLogger) (*Host, error) {
	if cfg.Root == "" {
		cfg.Root = "/sys"
	}
	if cfg.DefaultFrequency == 0 {
		cfg.DefaultFrequency = 5 * physic.Hertz
	}
	if cfg.BatteryPoll == 0 {
		cfg.BatteryPoll = 30 * time.Second
	}
	if clk == nil {
		clk = clock.New()
	}
	state, err := periphhost.Init()
	if err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	logger = logger.Named("sysfs")
	for _, f := range state.Failed {
		logger.Debugw("periph driver failed", "driver", f.D.String(), "error", f.Err)
	}

	h := &Host{cfg: cfg, clock: clk, logger: logger}
	for _, ts := range periphsysfs.ThermalSensors {
		h.zones = append(h.zones, newZone(ts))
	}
	if h.devices, err = scanIIO(filepath.Join(cfg.Root, "bus", "iio", "devices")); err != nil {
		return nil, fmt.Errorf("scan iio: %w", err)
	}
	if h.supplies, err = scanBatteries(filepath.Join(cfg.Root, "class", "power_supply")); err != nil {
		return nil, fmt.Errorf("scan power supplies: %w", err)
	}
	logger.Infow("sysfs host ready", "iio", len(h.devices), "thermal", len(h.zones), "batteries", len(h.supplies))
	return h, nil
}

// scanIIO maps each IIO channel type to the first device directory exposing it.
func scanIIO(dir string) (map[string]string, error) {
	out := map[string]string{}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		dev := filepath.Join(dir, e.Name())
		files, err := os.ReadDir(dev)
		if err != nil {
			continue
		}
		for _, f := range files {
			name := f.Name()
			if !strings.HasPrefix(name, "in_") {
				continue
			}
			for _, ch := range iioChannels {
				if strings.HasPrefix(name, "in_"+ch.channel+"_") {
					if _, seen := out[ch.channel]; !seen {
						out[ch.channel] = dev
					}
				}
			}
		}
	}
	return out, nil
}

func scanBatteries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		supply := filepath.Join(dir, e.Name())
		typ, err := readString(filepath.Join(supply, "type"))
		if err == nil && typ == "Battery" {
			out = append(out, supply)
		}
	}
	return out, nil
}

// Has reports whether a device backing name was found.
func (h *Host) Has(name string) bool {
	switch name {
	case thermometerAPI:
		return len(h.zones) > 0
	case batteryAPI:
		return len(h.supplies) > 0
	}
	ch, ok := iioChannels[name]
	if !ok {
		return false
	}
	_, ok = h.devices[ch.channel]
	return ok
}

// NewSensor constructs an IIO or thermal sensor handle.
func (h *Host) NewSensor(apiName string, opts host.SensorOptions) (host.Sensor, error) {
	freq := opts.Frequency
	if freq <= 0 {
		freq = h.cfg.DefaultFrequency
	}
	interval := time.Duration(float64(time.Second) * float64(physic.Hertz) / float64(freq))
	if apiName == thermometerAPI {
		if len(h.zones) == 0 {
			return nil, fmt.Errorf("%s: %w", apiName, host.ErrNotSupported)
		}
		return newThermal(h.zones[0], interval), nil
	}
	ch, ok := iioChannels[apiName]
	if !ok {
		return nil, &host.PlatformError{Name: "ReferenceError", Message: apiName + " is not defined"}
	}
	dev, ok := h.devices[ch.channel]
	if !ok {
		return nil, &host.PlatformError{Name: "NotReadableError", Message: "no " + ch.channel + " device"}
	}
	return newIIO(h.clock, dev, ch, interval), nil
}

// QueryPermission grants every capability present on the machine; file permissions are
// enforced when the device is read.
func (h *Host) QueryPermission(ctx context.Context, name string) (host.PermissionState, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !h.Has(name) {
		return "", fmt.Errorf("query %s: %w", name, host.ErrNotSupported)
	}
	return host.Granted, nil
}

// WatchPosition is not available on sysfs.
func (h *Host) WatchPosition(func(host.Position), func(error), host.WatchOptions) (host.WatchID, error) {
	return 0, host.ErrNotSupported
}

// ClearWatch is a no-op.
func (h *Host) ClearWatch(host.WatchID) {}

// Battery returns the first battery power supply.
func (h *Host) Battery(ctx context.Context) (host.Battery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(h.supplies) == 0 {
		return nil, host.ErrNotSupported
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.battery == nil {
		b, err := newBattery(h.supplies[0])
		if err != nil {
			return nil, fmt.Errorf("battery %s: %w", h.supplies[0], err)
		}
		stop := make(chan struct{})
		go b.run(h.clock, h.cfg.BatteryPoll, stop, h.logger)
		h.battery = b
		h.closers = append(h.closers, func() error { close(stop); return nil })
	}
	return h.battery, nil
}

// Close halts thermal sensors and the battery poller.
func (h *Host) Close() error {
	h.mu.Lock()
	closers := h.closers
	h.closers = nil
	h.mu.Unlock()
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c())
	}
	for _, z := range h.zones {
		err = multierr.Append(err, z.halt())
	}
	return err
}

func readString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// readErr maps file errors to host sentinels.
func readErr(err error) error {
	switch {
	case os.IsPermission(err):
		return fmt.Errorf("%w: %v", host.ErrNotAllowed, err)
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %v", host.ErrNotSupported, err)
	default:
		return fmt.Errorf("%w: %v", host.ErrNotReadable, err)
	}
}
