package sensor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.viam.com/test"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/sensorprobe/pkg/host"
	"github.com/ericogr/sensorprobe/pkg/host/inject"
)

// pollingHost returns a host exposing apiNames, handing out s on construction.
func pollingHost(s *inject.Sensor, apiNames ...string) *inject.Host {
	present := map[string]bool{}
	for _, n := range apiNames {
		present[n] = true
	}
	return &inject.Host{
		HasFunc: func(name string) bool { return present[name] },
		NewSensorFunc: func(string, host.SensorOptions) (host.Sensor, error) {
			return s, nil
		},
	}
}

func mustResolve(t *testing.T, id string) Descriptor {
	t.Helper()
	d, ok := Resolve(id)
	test.That(t, ok, test.ShouldBeTrue)
	return d
}

var sample = map[string]interface{}{
	"x":          0.1,
	"y":          0.2,
	"z":          9.8,
	"activated":  true,
	"hasReading": true,
	"timestamp":  1234.5,
	"secret":     "not in the allow-list",
	"callback":   func() {},
}

func TestPollingAbsent(t *testing.T) {
	h := &inject.Host{HasFunc: func(string) bool { return false }}
	c := newCollector()
	dispose := NewPollingAdapter(h, zaptest.NewLogger(t).Sugar()).Start(mustResolve(t, "Gyroscope"), c.fn, Stream)

	test.That(t, c.pending(), test.ShouldEqual, 1)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, h.Calls("NewSensor"), test.ShouldEqual, 0)
	dispose()
	dispose()
}

func TestPollingConstructFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		fn   func(string, host.SensorOptions) (host.Sensor, error)
		kind string
	}{
		{"not allowed", func(string, host.SensorOptions) (host.Sensor, error) {
			return nil, &host.PlatformError{Name: "NotAllowedError"}
		}, "PermissionDenied"},
		{"policy", func(string, host.SensorOptions) (host.Sensor, error) {
			return nil, &host.PlatformError{Name: "SecurityError"}
		}, "PolicyBlocked"},
		{"reference", func(string, host.SensorOptions) (host.Sensor, error) {
			return nil, &host.PlatformError{Name: "ReferenceError"}
		}, "Unsupported"},
		{"panic", func(string, host.SensorOptions) (host.Sensor, error) {
			panic("platform exploded")
		}, "Unknown"},
		{"nil handle", func(string, host.SensorOptions) (host.Sensor, error) {
			return nil, nil
		}, "Unknown"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logger, logs := observedLogger()
			h := &inject.Host{HasFunc: func(string) bool { return true }, NewSensorFunc: tc.fn}
			c := newCollector()
			NewPollingAdapter(h, logger).Start(mustResolve(t, "Accelerometer"), c.fn, Stream)

			test.That(t, c.pending(), test.ShouldEqual, 1)
			test.That(t, c.next(t), test.ShouldResemble, Result{})
			entries := logs.FilterField(zap.String("kind", tc.kind)).All()
			test.That(t, entries, test.ShouldHaveLength, 1)
		})
	}
}

func TestPollingStream(t *testing.T) {
	s := inject.NewSensor()
	var freq physic.Frequency
	h := pollingHost(s, "Accelerometer")
	h.NewSensorFunc = func(_ string, opts host.SensorOptions) (host.Sensor, error) {
		freq = opts.Frequency
		return s, nil
	}
	c := newCollector()
	dispose := NewPollingAdapter(h, zaptest.NewLogger(t).Sugar()).Start(mustResolve(t, "Accelerometer"), c.fn, Stream)

	test.That(t, freq, test.ShouldEqual, 60*physic.Hertz)
	test.That(t, s.Running(), test.ShouldBeTrue)
	test.That(t, c.pending(), test.ShouldEqual, 0)

	s.Emit(sample)
	r := c.next(t)
	test.That(t, r.Available, test.ShouldBeTrue)
	test.That(t, r.Reading, test.ShouldResemble, Reading{
		"x": 0.1, "y": 0.2, "z": 9.8, "activated": true, "hasReading": true, "timestamp": 1234.5,
	})

	s.Fail(host.ErrNotReadable)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, s.Running(), test.ShouldBeTrue)

	s.Emit(map[string]interface{}{"x": 0.5})
	test.That(t, c.next(t).Reading["x"], test.ShouldEqual, 0.5)

	dispose()
	test.That(t, s.Running(), test.ShouldBeFalse)
	test.That(t, s.Listeners(), test.ShouldEqual, 0)
	s.Emit(sample)
	c.none(t, 20*time.Millisecond)

	dispose()
	test.That(t, s.Stops(), test.ShouldEqual, 1)
	test.That(t, s.CallsAfterStop(), test.ShouldEqual, 0)
}

func TestPollingProbeOnce(t *testing.T) {
	s := inject.NewSensor()
	c := newCollector()
	dispose := NewPollingAdapter(pollingHost(s, "Magnetometer"), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "Magnetometer"), c.fn, ProbeOnce)

	s.Emit(sample)
	r := c.next(t)
	test.That(t, r.Available, test.ShouldBeTrue)
	test.That(t, r.Reading["z"], test.ShouldEqual, 9.8)
	test.That(t, s.Stops(), test.ShouldEqual, 1)
	test.That(t, s.Listeners(), test.ShouldEqual, 0)

	s.Emit(sample)
	c.none(t, 20*time.Millisecond)

	dispose()
	test.That(t, s.Stops(), test.ShouldEqual, 1)
	test.That(t, s.CallsAfterStop(), test.ShouldEqual, 0)
}

func TestPollingProbeOnceError(t *testing.T) {
	s := inject.NewSensor()
	c := newCollector()
	NewPollingAdapter(pollingHost(s, "Gyroscope"), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "Gyroscope"), c.fn, ProbeOnce)

	s.Fail(&host.PlatformError{Name: "NotReadableError"})
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, s.Stops(), test.ShouldEqual, 1)
	s.Emit(sample)
	c.none(t, 20*time.Millisecond)
}

func TestPollingDisposeFromCallback(t *testing.T) {
	s := inject.NewSensor()
	var (
		mu      sync.Mutex
		calls   int
		dispose Disposer
	)
	dispose = NewPollingAdapter(pollingHost(s, "Gyroscope"), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "Gyroscope"), func(bool, Reading) {
			mu.Lock()
			calls++
			d := dispose
			mu.Unlock()
			d()
		}, Stream)

	s.Emit(sample)
	s.Emit(sample)
	mu.Lock()
	defer mu.Unlock()
	test.That(t, calls, test.ShouldEqual, 1)
	test.That(t, s.Stops(), test.ShouldEqual, 1)
}

// emitLoop keeps emitting sample on s from several goroutines until the returned func is
// called.
func emitLoop(s *inject.Sensor, workers int) (stop func()) {
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					s.Emit(sample)
				}
			}
		}()
	}
	return func() {
		close(done)
		wg.Wait()
	}
}

func TestPollingDisposeWhileEmitting(t *testing.T) {
	s := inject.NewSensor()
	var (
		calls    atomic.Int32
		late     atomic.Int32
		disposed atomic.Bool
	)
	dispose := NewPollingAdapter(pollingHost(s, "Accelerometer"), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "Accelerometer"), func(bool, Reading) {
			if disposed.Load() {
				late.Add(1)
			}
			calls.Add(1)
		}, Stream)

	stop := emitLoop(s, 4)
	waitFor(t, func() bool { return calls.Load() > 100 })
	dispose()
	disposed.Store(true)
	settled := calls.Load()
	time.Sleep(20 * time.Millisecond)
	stop()

	// Deliveries are serialized, so only the one admitted before dispose can still run.
	test.That(t, late.Load(), test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, calls.Load()-settled, test.ShouldBeLessThanOrEqualTo, 1)
	test.That(t, s.Running(), test.ShouldBeFalse)
	test.That(t, s.Listeners(), test.ShouldEqual, 0)
}

func TestSnapshot(t *testing.T) {
	s := inject.NewSensor()
	s.Emit(map[string]interface{}{"x": 1.0, "fn": func() {}, "nothing": nil})
	r := snapshot(s, []string{"x", "fn", "nothing", "missing"})
	test.That(t, r, test.ShouldResemble, Reading{"x": 1.0, "nothing": nil})
}

func TestPollingStreamRecoversAfterError(t *testing.T) {
	boom := errors.New("boom")
	s := inject.NewSensor()
	c := newCollector()
	NewPollingAdapter(pollingHost(s, "AmbientLightSensor"), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "ambientlight"), c.fn, Stream)
	s.Fail(boom)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	s.Emit(map[string]interface{}{"illuminance": 300.0})
	test.That(t, c.next(t).Reading["illuminance"], test.ShouldEqual, 300.0)
}
