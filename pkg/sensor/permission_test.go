package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"github.com/ericogr/sensorprobe/pkg/host"
	"github.com/ericogr/sensorprobe/pkg/host/inject"
)

// geoHost is an injectable host with a geolocation surface whose watch callbacks are
// captured for the test to drive.
type geoHost struct {
	*inject.Host

	mu         sync.Mutex
	onPosition func(host.Position)
	onError    func(error)
	options    host.WatchOptions
	cleared    []host.WatchID
}

func newGeoHost(state host.PermissionState) *geoHost {
	g := &geoHost{}
	g.Host = &inject.Host{
		HasFunc: func(name string) bool { return name == "geolocation" },
		QueryPermissionFunc: func(context.Context, string) (host.PermissionState, error) {
			return state, nil
		},
		WatchPositionFunc: func(onPosition func(host.Position), onError func(error), opts host.WatchOptions) (host.WatchID, error) {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.onPosition, g.onError, g.options = onPosition, onError, opts
			return 7, nil
		},
		ClearWatchFunc: func(id host.WatchID) {
			g.mu.Lock()
			defer g.mu.Unlock()
			g.cleared = append(g.cleared, id)
		},
	}
	return g
}

func (g *geoHost) watching() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.onPosition != nil
}

func (g *geoHost) position(p host.Position) {
	g.mu.Lock()
	fn := g.onPosition
	g.mu.Unlock()
	fn(p)
}

func (g *geoHost) fail(err error) {
	g.mu.Lock()
	fn := g.onError
	g.mu.Unlock()
	fn(err)
}

func (g *geoHost) clearedIDs() []host.WatchID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]host.WatchID(nil), g.cleared...)
}

func fix(speed *float64) host.Position {
	return host.Position{
		Timestamp: time.UnixMilli(1700000000000),
		Coords:    host.Coordinates{Latitude: 1, Longitude: 2, Accuracy: 5, Speed: speed},
	}
}

func ptr(v float64) *float64 { return &v }

func TestPermissionAbsent(t *testing.T) {
	h := &inject.Host{}
	c := newCollector()
	NewPermissionAdapter(h, zaptest.NewLogger(t).Sugar(), DefaultWatchOptions).Start(mustResolve(t, "Geolocation"), c.fn, Stream)
	test.That(t, c.pending(), test.ShouldEqual, 1)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, h.Calls("QueryPermission"), test.ShouldEqual, 0)
}

func TestPermissionDenied(t *testing.T) {
	logger, logs := observedLogger()
	g := newGeoHost(host.Denied)
	c := newCollector()
	NewPermissionAdapter(g, logger, DefaultWatchOptions).Start(mustResolve(t, "Geolocation"), c.fn, Stream)

	test.That(t, c.next(t), test.ShouldResemble, Result{})
	c.none(t, 20*time.Millisecond)
	test.That(t, g.Calls("QueryPermission"), test.ShouldEqual, 1)
	test.That(t, g.Calls("WatchPosition"), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("sensor unavailable").Len(), test.ShouldEqual, 1)
}

func TestPermissionQueryError(t *testing.T) {
	g := newGeoHost(host.Granted)
	g.QueryPermissionFunc = func(context.Context, string) (host.PermissionState, error) {
		return "", &host.PlatformError{Name: "TypeError", Message: "no such permission"}
	}
	c := newCollector()
	NewPermissionAdapter(g, zaptest.NewLogger(t).Sugar(), DefaultWatchOptions).Start(mustResolve(t, "Geolocation"), c.fn, Stream)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, g.Calls("WatchPosition"), test.ShouldEqual, 0)
}

func TestPermissionStream(t *testing.T) {
	for _, state := range []host.PermissionState{host.Granted, host.Prompt} {
		t.Run(string(state), func(t *testing.T) {
			g := newGeoHost(state)
			c := newCollector()
			dispose := NewPermissionAdapter(g, zaptest.NewLogger(t).Sugar(), DefaultWatchOptions).
				Start(mustResolve(t, "Geolocation"), c.fn, Stream)

			waitFor(t, g.watching)
			test.That(t, g.options, test.ShouldResemble, host.WatchOptions{EnableHighAccuracy: true})

			g.position(fix(ptr(10)))
			r := c.next(t)
			test.That(t, r.Available, test.ShouldBeTrue)
			test.That(t, r.Reading["timestamp"], test.ShouldEqual, int64(1700000000000))
			coords := r.Reading["coords"].(map[string]interface{})
			test.That(t, coords["speedKph"], test.ShouldEqual, "36 /kph")
			test.That(t, coords["speedMph"], test.ShouldEqual, "22 /mph")

			g.fail(&host.PositionError{Code: host.PositionUnavailable})
			test.That(t, c.next(t), test.ShouldResemble, Result{})

			g.position(fix(nil))
			coords = c.next(t).Reading["coords"].(map[string]interface{})
			test.That(t, coords["speed"], test.ShouldBeNil)
			test.That(t, coords["speedKph"], test.ShouldBeNil)
			test.That(t, coords["speedMph"], test.ShouldBeNil)

			dispose()
			waitFor(t, func() bool { return len(g.clearedIDs()) == 1 })
			test.That(t, g.clearedIDs(), test.ShouldResemble, []host.WatchID{7})
			g.position(fix(ptr(1)))
			c.none(t, 20*time.Millisecond)

			dispose()
			test.That(t, g.clearedIDs(), test.ShouldHaveLength, 1)
		})
	}
}

func TestPermissionProbeOnce(t *testing.T) {
	g := newGeoHost(host.Granted)
	c := newCollector()
	NewPermissionAdapter(g, zaptest.NewLogger(t).Sugar(), DefaultWatchOptions).
		Start(mustResolve(t, "Geolocation"), c.fn, ProbeOnce)

	waitFor(t, g.watching)
	g.position(fix(ptr(0)))
	r := c.next(t)
	test.That(t, r.Available, test.ShouldBeTrue)
	coords := r.Reading["coords"].(map[string]interface{})
	test.That(t, coords["speed"], test.ShouldEqual, 0.0)
	test.That(t, coords["speedKph"], test.ShouldBeNil)

	waitFor(t, func() bool { return len(g.clearedIDs()) == 1 })
	g.position(fix(ptr(1)))
	c.none(t, 20*time.Millisecond)
	test.That(t, g.clearedIDs(), test.ShouldHaveLength, 1)
}

func TestPermissionProbeOnceWatchError(t *testing.T) {
	g := newGeoHost(host.Granted)
	c := newCollector()
	NewPermissionAdapter(g, zaptest.NewLogger(t).Sugar(), DefaultWatchOptions).
		Start(mustResolve(t, "Geolocation"), c.fn, ProbeOnce)

	waitFor(t, g.watching)
	g.fail(&host.PositionError{Code: host.PositionPermissionDenied})
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	waitFor(t, func() bool { return len(g.clearedIDs()) == 1 })
}

func TestPermissionDisposeBeforeQueryResolves(t *testing.T) {
	g := newGeoHost(host.Granted)
	returned := make(chan struct{})
	g.QueryPermissionFunc = func(ctx context.Context, _ string) (host.PermissionState, error) {
		defer close(returned)
		<-ctx.Done()
		return "", ctx.Err()
	}
	logger, logs := observedLogger()
	c := newCollector()
	dispose := NewPermissionAdapter(g, logger, DefaultWatchOptions).Start(mustResolve(t, "Geolocation"), c.fn, Stream)
	waitFor(t, func() bool { return g.Calls("QueryPermission") == 1 })
	dispose()

	select {
	case <-returned:
	case <-time.After(waitTimeout):
		t.Fatal("query was not cancelled")
	}
	c.none(t, 20*time.Millisecond)
	test.That(t, g.Calls("WatchPosition"), test.ShouldEqual, 0)
	test.That(t, logs.FilterMessage("sensor failure").Len(), test.ShouldEqual, 0)
}

func TestPermissionWatchFails(t *testing.T) {
	g := newGeoHost(host.Granted)
	g.WatchPositionFunc = func(func(host.Position), func(error), host.WatchOptions) (host.WatchID, error) {
		return 0, &host.PlatformError{Name: "SecurityError"}
	}
	c := newCollector()
	NewPermissionAdapter(g, zaptest.NewLogger(t).Sugar(), DefaultWatchOptions).Start(mustResolve(t, "Geolocation"), c.fn, Stream)
	test.That(t, c.next(t), test.ShouldResemble, Result{})
	test.That(t, g.Calls("ClearWatch"), test.ShouldEqual, 0)
}
