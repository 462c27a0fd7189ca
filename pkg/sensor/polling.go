package sensor

import (
	"fmt"
	"reflect"
	"sync"

	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// propertySource is anything that exposes named sample properties.
type propertySource interface {
	Property(name string) (interface{}, bool)
}

// snapshot copies the allow-listed fields of src into a Reading. Function values are dropped.
func snapshot(src propertySource, fields []string) Reading {
	r := make(Reading, len(fields))
	for _, f := range fields {
		v, ok := src.Property(f)
		if !ok {
			continue
		}
		if v != nil && reflect.ValueOf(v).Kind() == reflect.Func {
			continue
		}
		r[f] = v
	}
	return r
}

// PollingAdapter serves sensors exposed as constructible, event-emitting handles.
type PollingAdapter struct {
	host   host.Host
	logger *zap.SugaredLogger
}

// NewPollingAdapter returns a PollingAdapter bound to h.
func NewPollingAdapter(h host.Host, logger *zap.SugaredLogger) *PollingAdapter {
	return &PollingAdapter{host: h, logger: logger.Named("polling")}
}

func (a *PollingAdapter) construct(d Descriptor) (s host.Sensor, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic constructing %s: %v", d.APIName, r)
		}
	}()
	return a.host.NewSensor(d.APIName, host.SensorOptions{Frequency: d.Frequency})
}

// Start detects d and, when present, starts its handle. Absence and construction failures
// are reported synchronously.
func (a *PollingAdapter) Start(d Descriptor, onResult ResultFunc, mode Mode) Disposer {
	if dsp := a.start(d, newEmitter(onResult), mode); dsp != nil {
		return dsp
	}
	return noopDisposer
}

func (a *PollingAdapter) start(d Descriptor, em *emitter, mode Mode) Disposer {
	if !a.host.Has(d.APIName) {
		normalize(a.logger, d.ID, "detect", host.ErrNotSupported)
		em.emitLast(false, nil)
		return nil
	}
	s, err := a.construct(d)
	if err != nil {
		normalize(a.logger, d.ID, "construct", err)
		em.emitLast(false, nil)
		return nil
	}
	if s == nil {
		normalize(a.logger, d.ID, "construct", fmt.Errorf("host returned no handle for %s", d.APIName))
		em.emitLast(false, nil)
		return nil
	}

	var (
		mu       sync.Mutex
		released bool
		detach   []func()
	)
	// release detaches the listeners and stops the handle exactly once.
	release := func() {
		mu.Lock()
		if released {
			mu.Unlock()
			return
		}
		released = true
		fns := detach
		detach = nil
		mu.Unlock()
		for _, fn := range fns {
			fn()
		}
		s.Stop()
	}

	onError := func(err error) {
		normalize(a.logger, d.ID, "read", err)
		if mode == ProbeOnce {
			release()
			em.emitLast(false, nil)
			return
		}
		em.emit(false, nil)
	}
	onReading := func() {
		if em.isClosed() {
			return
		}
		reading := snapshot(s, d.Fields)
		if mode == ProbeOnce {
			release()
			em.emitLast(true, reading)
			return
		}
		em.emit(true, reading)
	}

	removeErr := s.OnError(onError)
	removeReading := s.OnReading(onReading)
	mu.Lock()
	if released {
		mu.Unlock()
		removeErr()
		removeReading()
		return nil
	}
	detach = append(detach, removeErr, removeReading)
	mu.Unlock()

	a.logger.Debugw("starting sensor", "sensor", d.ID, "mode", mode.String(), "frequency", d.Frequency.String())
	s.Start()

	return once(func() {
		em.close()
		release()
	})
}
