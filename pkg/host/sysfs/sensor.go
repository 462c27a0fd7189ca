package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// emitter holds properties and listeners shared by the sysfs handles.
type emitter struct {
	mu       sync.Mutex
	props    map[string]interface{}
	readers  map[int]func()
	errorers map[int]func(error)
	next     int
}

func (e *emitter) init() {
	e.props = map[string]interface{}{"activated": false, "hasReading": false}
	e.readers = map[int]func(){}
	e.errorers = map[int]func(error){}
}

func (e *emitter) OnReading(fn func()) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.readers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.readers, id)
	}
}

func (e *emitter) OnError(fn func(error)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.next
	e.next++
	e.errorers[id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.errorers, id)
	}
}

func (e *emitter) Property(name string) (interface{}, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.props[name]
	return v, ok
}

func (e *emitter) publish(props map[string]interface{}) {
	e.mu.Lock()
	for k, v := range props {
		e.props[k] = v
	}
	e.props["activated"] = true
	e.props["hasReading"] = true
	fns := make([]func(), 0, len(e.readers))
	for _, fn := range e.readers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (e *emitter) fail(err error) {
	e.mu.Lock()
	fns := make([]func(error), 0, len(e.errorers))
	for _, fn := range e.errorers {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

// iio polls the raw and scale attributes of one IIO channel.
type iio struct {
	emitter
	clock    clock.Clock
	dev      string
	ch       iioChannel
	interval time.Duration

	stopMu sync.Mutex
	stop   chan struct{}
}

func newIIO(clk clock.Clock, dev string, ch iioChannel, interval time.Duration) *iio {
	s := &iio{clock: clk, dev: dev, ch: ch, interval: interval}
	s.init()
	return s
}

func (s *iio) Start() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	go s.run(s.stop)
}

func (s *iio) Stop() {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
}

func (s *iio) run(stop chan struct{}) {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		props, err := s.read()
		select {
		case <-stop:
			return
		default:
		}
		if err != nil {
			s.fail(err)
			continue
		}
		props["timestamp"] = float64(s.clock.Now().UnixNano()) / float64(time.Millisecond)
		s.publish(props)
	}
}

// read returns scaled channel values. Processed "_input" attributes win over raw*scale.
func (s *iio) read() (map[string]interface{}, error) {
	props := map[string]interface{}{}
	if len(s.ch.axes) == 0 {
		v, err := s.value("")
		if err != nil {
			return nil, err
		}
		props[s.ch.field] = v
		return props, nil
	}
	for _, axis := range s.ch.axes {
		v, err := s.value("_" + axis)
		if err != nil {
			return nil, err
		}
		props[axis] = v
	}
	return props, nil
}

func (s *iio) value(suffix string) (float64, error) {
	base := filepath.Join(s.dev, "in_"+s.ch.channel+suffix)
	if v, err := readFloat(base + "_input"); err == nil {
		return v, nil
	}
	raw, err := readFloat(base + "_raw")
	if err != nil {
		return 0, readErr(err)
	}
	scale, err := readFloat(filepath.Join(s.dev, "in_"+s.ch.channel+"_scale"))
	if errors.Is(err, os.ErrNotExist) {
		scale = 1
	} else if err != nil {
		return 0, readErr(err)
	}
	return raw * scale, nil
}

func readFloat(path string) (float64, error) {
	s, err := readString(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", path, err)
	}
	return v, nil
}

var _ host.Sensor = (*iio)(nil)
