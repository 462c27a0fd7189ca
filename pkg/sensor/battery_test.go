package sensor

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/ericogr/sensorprobe/pkg/host"
	"github.com/ericogr/sensorprobe/pkg/host/inject"
)

func batteryHost(b host.Battery, err error) *inject.Host {
	return &inject.Host{
		HasFunc: func(name string) bool { return name == "getBattery" },
		BatteryFunc: func(context.Context) (host.Battery, error) {
			return b, err
		},
	}
}

func newTestBattery() *inject.Battery {
	return inject.NewBattery(map[string]interface{}{
		"level":           0.5,
		"charging":        false,
		"chargingTime":    math.Inf(1),
		"dischargingTime": 3600.0,
		"onlevelchange":   func() {},
	})
}

func TestBatteryAbsent(t *testing.T) {
	h := &inject.Host{}
	c := newCollector()
	NewBatteryAdapter(h, zaptest.NewLogger(t).Sugar()).Start(mustResolve(t, "Battery"), c.fn, Stream)
	test.That(t, c.pending(), test.ShouldEqual, 1)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, h.Calls("Battery"), test.ShouldEqual, 0)
}

func TestBatteryStream(t *testing.T) {
	b := newTestBattery()
	c := newCollector()
	dispose := NewBatteryAdapter(batteryHost(b, nil), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "Battery"), c.fn, Stream)

	r := c.next(t)
	test.That(t, r.Available, test.ShouldBeTrue)
	test.That(t, r.Reading, test.ShouldResemble, Reading{
		"level":           0.5,
		"charging":        false,
		"chargingTime":    math.Inf(1),
		"dischargingTime": 3600.0,
	})

	waitFor(t, func() bool { return b.Listeners() == len(host.BatteryEvents) })
	b.Set(host.LevelChange, "level", 0.4)
	test.That(t, c.next(t).Reading["level"], test.ShouldEqual, 0.4)
	b.Set(host.ChargingChange, "charging", true)
	test.That(t, c.next(t).Reading["charging"], test.ShouldBeTrue)

	dispose()
	test.That(t, b.Listeners(), test.ShouldEqual, 0)
	b.Set(host.LevelChange, "level", 0.3)
	c.none(t, 20*time.Millisecond)
	dispose()
}

func TestBatteryProbeOnce(t *testing.T) {
	b := newTestBattery()
	c := newCollector()
	NewBatteryAdapter(batteryHost(b, nil), zaptest.NewLogger(t).Sugar()).
		Start(mustResolve(t, "battery"), c.fn, ProbeOnce)

	r := c.next(t)
	test.That(t, r.Available, test.ShouldBeTrue)
	test.That(t, r.Reading["level"], test.ShouldEqual, 0.5)
	c.none(t, 20*time.Millisecond)
	test.That(t, b.Listeners(), test.ShouldEqual, 0)
}

func TestBatteryAcquireFailures(t *testing.T) {
	for _, tc := range []struct {
		name string
		b    host.Battery
		err  error
	}{
		{"error", nil, &host.PlatformError{Name: "NotAllowedError"}},
		{"nil manager", nil, nil},
		{"plain error", nil, errors.New("boom")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newCollector()
			NewBatteryAdapter(batteryHost(tc.b, tc.err), zaptest.NewLogger(t).Sugar()).
				Start(mustResolve(t, "Battery"), c.fn, Stream)
			test.That(t, c.next(t), test.ShouldResemble, Result{})
			c.none(t, 20*time.Millisecond)
		})
	}
}

func TestBatteryDisposeBeforeAcquire(t *testing.T) {
	b := newTestBattery()
	release := make(chan struct{})
	h := batteryHost(b, nil)
	h.BatteryFunc = func(context.Context) (host.Battery, error) {
		<-release
		return b, nil
	}
	c := newCollector()
	dispose := NewBatteryAdapter(h, zaptest.NewLogger(t).Sugar()).Start(mustResolve(t, "Battery"), c.fn, Stream)
	dispose()
	close(release)

	c.none(t, 50*time.Millisecond)
	test.That(t, b.Listeners(), test.ShouldEqual, 0)
}
