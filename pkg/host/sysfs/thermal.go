package sysfs

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// thermalSource is the part of a periph ThermalSensor a zone drives.
type thermalSource interface {
	SenseContinuous(interval time.Duration) (<-chan physic.Env, error)
	Halt() error
}

// errZoneBusy is returned when the zone is already sensing for someone outside this host.
var errZoneBusy = errors.New("thermal zone already sensing")

// zone shares one continuous reading of a thermal zone between every handle started on it.
// The first handle to start picks the interval; the last one to stop halts the zone.
type zone struct {
	src thermalSource

	mu   sync.Mutex
	subs map[*thermal]struct{}
	gen  int
	on   bool
}

func newZone(src thermalSource) *zone {
	return &zone{src: src, subs: map[*thermal]struct{}{}}
}

func (z *zone) subscribe(t *thermal, interval time.Duration) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.on {
		c, err := z.src.SenseContinuous(interval)
		if err != nil {
			return err
		}
		if c == nil {
			return errZoneBusy
		}
		z.on = true
		z.gen++
		go z.pump(c, z.gen)
	}
	z.subs[t] = struct{}{}
	return nil
}

func (z *zone) unsubscribe(t *thermal) error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if _, ok := z.subs[t]; !ok {
		return nil
	}
	delete(z.subs, t)
	if len(z.subs) > 0 || !z.on {
		return nil
	}
	return z.haltLocked()
}

// halt stops the zone regardless of subscribers.
func (z *zone) halt() error {
	z.mu.Lock()
	defer z.mu.Unlock()
	if !z.on {
		return nil
	}
	z.subs = map[*thermal]struct{}{}
	return z.haltLocked()
}

func (z *zone) haltLocked() error {
	z.on = false
	z.gen++
	return z.src.Halt()
}

// pump forwards samples until the source closes c. Samples from a halted generation are
// dropped.
func (z *zone) pump(c <-chan physic.Env, gen int) {
	for env := range c {
		celsius := float64(env.Temperature-physic.ZeroCelsius) / float64(physic.Celsius)
		props := map[string]interface{}{
			"temperature": math.Round(celsius*100) / 100,
			"timestamp":   float64(time.Now().UnixNano()) / float64(time.Millisecond),
		}
		z.mu.Lock()
		if z.gen != gen {
			z.mu.Unlock()
			continue
		}
		subs := make([]*thermal, 0, len(z.subs))
		for t := range z.subs {
			subs = append(subs, t)
		}
		z.mu.Unlock()
		for _, t := range subs {
			t.publish(props)
		}
	}
}

// thermal is one Thermometer handle on a shared zone.
type thermal struct {
	emitter
	zone     *zone
	interval time.Duration

	stopMu  sync.Mutex
	running bool
}

func newThermal(z *zone, interval time.Duration) *thermal {
	t := &thermal{zone: z, interval: interval}
	t.init()
	return t
}

func (t *thermal) Start() {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if t.running {
		return
	}
	if err := t.zone.subscribe(t, t.interval); err != nil {
		go t.fail(fmt.Errorf("%w: %v", host.ErrNotReadable, err))
		return
	}
	t.running = true
}

func (t *thermal) Stop() {
	t.stopMu.Lock()
	defer t.stopMu.Unlock()
	if !t.running {
		return
	}
	t.running = false
	if err := t.zone.unsubscribe(t); err != nil {
		go t.fail(fmt.Errorf("%w: %v", host.ErrNotReadable, err))
	}
}

var _ host.Sensor = (*thermal)(nil)
