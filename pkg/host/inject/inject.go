// Package inject provides a Host whose behaviour is set by func fields, for tests.
package inject

import (
	"context"
	"sync"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// Host is an injectable host.Host. Unset funcs behave like a host lacking the surface.
type Host struct {
	HasFunc             func(name string) bool
	NewSensorFunc       func(apiName string, opts host.SensorOptions) (host.Sensor, error)
	QueryPermissionFunc func(ctx context.Context, name string) (host.PermissionState, error)
	WatchPositionFunc   func(onPosition func(host.Position), onError func(error), opts host.WatchOptions) (host.WatchID, error)
	ClearWatchFunc      func(id host.WatchID)
	BatteryFunc         func(ctx context.Context) (host.Battery, error)

	mu    sync.Mutex
	calls map[string]int
}

func (h *Host) record(method string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.calls == nil {
		h.calls = map[string]int{}
	}
	h.calls[method]++
}

// Calls returns how many times method was invoked.
func (h *Host) Calls(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[method]
}

// Has calls the injected HasFunc or returns false.
func (h *Host) Has(name string) bool {
	h.record("Has")
	if h.HasFunc == nil {
		return false
	}
	return h.HasFunc(name)
}

// NewSensor calls the injected NewSensorFunc or returns host.ErrNotSupported.
func (h *Host) NewSensor(apiName string, opts host.SensorOptions) (host.Sensor, error) {
	h.record("NewSensor")
	if h.NewSensorFunc == nil {
		return nil, host.ErrNotSupported
	}
	return h.NewSensorFunc(apiName, opts)
}

// QueryPermission calls the injected QueryPermissionFunc or returns host.ErrNotSupported.
func (h *Host) QueryPermission(ctx context.Context, name string) (host.PermissionState, error) {
	h.record("QueryPermission")
	if h.QueryPermissionFunc == nil {
		return "", host.ErrNotSupported
	}
	return h.QueryPermissionFunc(ctx, name)
}

// WatchPosition calls the injected WatchPositionFunc or returns host.ErrNotSupported.
func (h *Host) WatchPosition(onPosition func(host.Position), onError func(error), opts host.WatchOptions) (host.WatchID, error) {
	h.record("WatchPosition")
	if h.WatchPositionFunc == nil {
		return 0, host.ErrNotSupported
	}
	return h.WatchPositionFunc(onPosition, onError, opts)
}

// ClearWatch calls the injected ClearWatchFunc if set.
func (h *Host) ClearWatch(id host.WatchID) {
	h.record("ClearWatch")
	if h.ClearWatchFunc != nil {
		h.ClearWatchFunc(id)
	}
}

// Battery calls the injected BatteryFunc or returns host.ErrNotSupported.
func (h *Host) Battery(ctx context.Context) (host.Battery, error) {
	h.record("Battery")
	if h.BatteryFunc == nil {
		return nil, host.ErrNotSupported
	}
	return h.BatteryFunc(ctx)
}

// Sensor is a host.Sensor driven by the test through Emit and Fail.
type Sensor struct {
	mu         sync.Mutex
	props      map[string]interface{}
	readers    map[int]func()
	errorers   map[int]func(error)
	next       int
	started    bool
	starts     int
	stops      int
	callsAfter int
}

// NewSensor returns an idle injectable sensor.
func NewSensor() *Sensor {
	return &Sensor{
		props:    map[string]interface{}{},
		readers:  map[int]func(){},
		errorers: map[int]func(error){},
	}
}

// Start marks the sensor running.
func (s *Sensor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.started = true
	s.starts++
}

// Stop marks the sensor stopped.
func (s *Sensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.started = false
	s.stops++
}

// touch counts any call arriving after the sensor was stopped. Callers hold mu.
func (s *Sensor) touch() {
	if s.stops > 0 {
		s.callsAfter++
	}
}

// OnReading registers a reading listener.
func (s *Sensor) OnReading(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	id := s.next
	s.next++
	s.readers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.readers, id)
	}
}

// OnError registers an error listener.
func (s *Sensor) OnError(fn func(error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	id := s.next
	s.next++
	s.errorers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.errorers, id)
	}
}

// Property returns a property set by Emit.
func (s *Sensor) Property(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[name]
	return v, ok
}

// Emit stores props and fires every reading listener, as the platform does on a new sample.
// Listeners are invoked without holding the sensor lock.
func (s *Sensor) Emit(props map[string]interface{}) {
	s.mu.Lock()
	for k, v := range props {
		s.props[k] = v
	}
	fns := make([]func(), 0, len(s.readers))
	for _, fn := range s.readers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Fail fires every error listener with err.
func (s *Sensor) Fail(err error) {
	s.mu.Lock()
	fns := make([]func(error), 0, len(s.errorers))
	for _, fn := range s.errorers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// Running reports whether Start was called without a later Stop.
func (s *Sensor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Stops returns how many times Stop was called.
func (s *Sensor) Stops() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stops
}

// CallsAfterStop returns how many handle calls arrived after the first Stop, Stop included.
func (s *Sensor) CallsAfterStop() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callsAfter
}

// Listeners returns the number of attached reading and error listeners.
func (s *Sensor) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.readers) + len(s.errorers)
}

// Battery is a host.Battery driven by the test through Set.
type Battery struct {
	mu        sync.Mutex
	props     map[string]interface{}
	listeners map[host.BatteryEvent]map[int]func()
	next      int
}

// NewBattery returns a battery with the given initial properties.
func NewBattery(props map[string]interface{}) *Battery {
	b := &Battery{props: map[string]interface{}{}, listeners: map[host.BatteryEvent]map[int]func(){}}
	for k, v := range props {
		b.props[k] = v
	}
	return b
}

// Property returns a battery property.
func (b *Battery) Property(name string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.props[name]
	return v, ok
}

// OnChange registers a change listener.
func (b *Battery) OnChange(event host.BatteryEvent, fn func()) func() {
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

// Set updates a property and fires the listeners of event.
func (b *Battery) Set(event host.BatteryEvent, name string, value interface{}) {
	b.mu.Lock()
	b.props[name] = value
	fns := make([]func(), 0, len(b.listeners[event]))
	for _, fn := range b.listeners[event] {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Listeners returns the number of attached change listeners across all events.
func (b *Battery) Listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, l := range b.listeners {
		n += len(l)
	}
	return n
}
