package sysfs

import (
	"math"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// batteryState is one reading of a power_supply directory.
type batteryState struct {
	level           float64
	charging        bool
	chargingTime    float64
	dischargingTime float64
}

// battery polls a power_supply directory and raises change events on differences.
type battery struct {
	dir string

	mu        sync.Mutex
	state     batteryState
	listeners map[host.BatteryEvent]map[int]func()
	next      int
}

func newBattery(dir string) (*battery, error) {
	state, err := readBattery(dir)
	if err != nil {
		return nil, err
	}
	return &battery{dir: dir, state: state, listeners: map[host.BatteryEvent]map[int]func(){}}, nil
}

// readBattery reads capacity, status and the optional time estimates. Missing estimates
// read as +Inf.
func readBattery(dir string) (batteryState, error) {
	capacity, err := readFloat(filepath.Join(dir, "capacity"))
	if err != nil {
		return batteryState{}, readErr(err)
	}
	status, err := readString(filepath.Join(dir, "status"))
	if err != nil {
		return batteryState{}, readErr(err)
	}
	s := batteryState{
		level:           capacity / 100,
		charging:        status == "Charging" || status == "Full",
		chargingTime:    math.Inf(1),
		dischargingTime: math.Inf(1),
	}
	if s.charging {
		if status == "Full" {
			s.chargingTime = 0
		} else if v, err := readSeconds(filepath.Join(dir, "time_to_full_now")); err == nil {
			s.chargingTime = v
		}
	} else if v, err := readSeconds(filepath.Join(dir, "time_to_empty_now")); err == nil {
		s.dischargingTime = v
	}
	return s, nil
}

func readSeconds(path string) (float64, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}

func (b *battery) Property(name string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case "level":
		return b.state.level, true
	case "charging":
		return b.state.charging, true
	case "chargingTime":
		return b.state.chargingTime, true
	case "dischargingTime":
		return b.state.dischargingTime, true
	}
	return nil, false
}

func (b *battery) OnChange(event host.BatteryEvent, fn func()) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners[event] == nil {
		b.listeners[event] = map[int]func(){}
	}
	id := b.next
	b.next++
	b.listeners[event][id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[event], id)
	}
}

// update stores s and returns the events it implies.
func (b *battery) update(s batteryState) []host.BatteryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	old := b.state
	b.state = s
	var events []host.BatteryEvent
	if old.level != s.level {
		events = append(events, host.LevelChange)
	}
	if old.charging != s.charging {
		events = append(events, host.ChargingChange)
	}
	if old.chargingTime != s.chargingTime {
		events = append(events, host.ChargingTimeChange)
	}
	if old.dischargingTime != s.dischargingTime {
		events = append(events, host.DischargingTimeChange)
	}
	return events
}

func (b *battery) fire(events []host.BatteryEvent) {
	b.mu.Lock()
	var fns []func()
	for _, ev := range events {
		for _, fn := range b.listeners[ev] {
			fns = append(fns, fn)
		}
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (b *battery) run(clk clock.Clock, poll time.Duration, stop <-chan struct{}, logger *zap.SugaredLogger) {
	ticker := clk.Ticker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		s, err := readBattery(b.dir)
		if err != nil {
			logger.Debugw("battery read failed", "supply", b.dir, "error", err)
			continue
		}
		b.fire(b.update(s))
	}
}
