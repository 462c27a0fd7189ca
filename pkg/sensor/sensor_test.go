package sensor

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
)

const waitTimeout = 5 * time.Second

// collector records every result delivered to its fn.
type collector struct {
	ch chan Result
}

func newCollector() *collector {
	return &collector{ch: make(chan Result, 64)}
}

func (c *collector) fn(available bool, reading Reading) {
	c.ch <- Result{Available: available, Reading: reading}
}

func (c *collector) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a result")
		return Result{}
	}
}

// none asserts no result arrives within d.
func (c *collector) none(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case r := <-c.ch:
		t.Fatalf("unexpected result %+v", r)
	case <-time.After(d):
	}
}

func (c *collector) pending() int { return len(c.ch) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}

func observedLogger() (*zap.SugaredLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core).Sugar(), logs
}

func TestParseMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		mode Mode
		ok   bool
	}{
		{"", Stream, true},
		{"stream", Stream, true},
		{"probe", ProbeOnce, true},
		{"probe-once", ProbeOnce, true},
		{"sometimes", Stream, false},
	} {
		m, ok := ParseMode(tc.in)
		test.That(t, ok, test.ShouldEqual, tc.ok)
		test.That(t, m, test.ShouldEqual, tc.mode)
	}
	test.That(t, ProbeOnce.String(), test.ShouldEqual, "probe")
	test.That(t, Stream.String(), test.ShouldEqual, "stream")
}

func TestOnceDisposer(t *testing.T) {
	n := 0
	d := once(func() { n++ })
	d()
	d()
	test.That(t, n, test.ShouldEqual, 1)
}
