package simulated

import (
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// drainStep is how much charge the simulated battery loses or gains per minute.
const drainStep = 0.01

type battery struct {
	mu        sync.Mutex
	level     float64
	charging  bool
	listeners map[host.BatteryEvent]map[int]func()
	next      int
}

func newBattery(level float64, charging bool) *battery {
	return &battery{level: level, charging: charging, listeners: map[host.BatteryEvent]map[int]func(){}}
}

// remaining estimates seconds to full or empty at the simulated rate.
func (b *battery) remaining(target float64) float64 {
	return math.Round(math.Abs(target-b.level) / drainStep * 60)
}

func (b *battery) Property(name string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case "level":
		return b.level, true
	case "charging":
		return b.charging, true
	case "chargingTime":
		if !b.charging {
			return math.Inf(1), true
		}
		return b.remaining(1), true
	case "dischargingTime":
		if b.charging {
			return math.Inf(1), true
		}
		return b.remaining(0), true
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

func (b *battery) fire(events ...host.BatteryEvent) {
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

// step moves the level one notch and flips charging at either end.
func (b *battery) step() []host.BatteryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	events := []host.BatteryEvent{host.LevelChange}
	if b.charging {
		b.level = math.Min(1, b.level+drainStep)
		events = append(events, host.ChargingTimeChange)
	} else {
		b.level = math.Max(0, b.level-drainStep)
		events = append(events, host.DischargingTimeChange)
	}
	if b.level >= 1 || b.level <= 0 {
		b.charging = !b.charging
		events = append(events, host.ChargingChange)
	}
	return events
}

func (b *battery) run(clk clock.Clock, closed <-chan struct{}) {
	ticker := clk.Ticker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			b.fire(b.step()...)
		}
	}
}
