package sensor

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Subscription describes one live request.
type Subscription struct {
	ID      string    `json:"id"`
	Sensor  string    `json:"sensor"`
	Mode    string    `json:"mode"`
	Started time.Time `json:"started"`
}

type subscription struct {
	info Subscription
	// drain waits out a delivery already running. Nil when nothing delivers.
	drain func()

	mu      sync.Mutex
	dispose Disposer
	ended   bool
}

// Lifecycle owns every live subscription until it is stopped or ends on its own.
type Lifecycle struct {
	clock clock.Clock

	mu   sync.Mutex
	subs map[string]*subscription
}

// NewLifecycle returns an empty Lifecycle. A nil clk uses the wall clock.
func NewLifecycle(clk clock.Clock) *Lifecycle {
	if clk == nil {
		clk = clock.New()
	}
	return &Lifecycle{clock: clk, subs: map[string]*subscription{}}
}

// begin registers a subscription before its adapter starts, so a result delivered during
// start can already end it.
func (l *Lifecycle) begin(sensor string, mode Mode, drain func()) *subscription {
	s := &subscription{drain: drain, info: Subscription{
		ID:      uuid.NewString(),
		Sensor:  sensor,
		Mode:    mode.String(),
		Started: l.clock.Now(),
	}}
	l.mu.Lock()
	l.subs[s.info.ID] = s
	l.mu.Unlock()
	return s
}

// attach hands the adapter's disposer to s. If s already ended, dsp runs right away.
func (l *Lifecycle) attach(s *subscription, dsp Disposer) Disposer {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		dsp()
		return noopDisposer
	}
	s.dispose = dsp
	s.mu.Unlock()
	id := s.info.ID
	return once(func() { l.Stop(id) })
}

// finish forgets s after its terminal result and releases whatever the adapter still holds.
func (l *Lifecycle) finish(s *subscription) {
	l.mu.Lock()
	delete(l.subs, s.info.ID)
	l.mu.Unlock()
	l.end(s)
}

// Stop disposes the subscription with the given id. It reports whether it was live.
func (l *Lifecycle) Stop(id string) bool {
	l.mu.Lock()
	s, ok := l.subs[id]
	delete(l.subs, id)
	l.mu.Unlock()
	if !ok {
		return false
	}
	l.end(s)
	return true
}

func (l *Lifecycle) end(s *subscription) {
	s.mu.Lock()
	s.ended = true
	dsp := s.dispose
	s.dispose = nil
	s.mu.Unlock()
	if dsp != nil {
		dsp()
	}
}

// StopSensor disposes every subscription to sensor and returns how many were stopped.
func (l *Lifecycle) StopSensor(sensor string) int {
	return len(l.stopWhere(func(s *subscription) bool { return s.info.Sensor == sensor }))
}

// StopAll disposes every live subscription and returns how many were stopped.
func (l *Lifecycle) StopAll() int {
	return len(l.stopWhere(func(*subscription) bool { return true }))
}

// StopAllAndWait is StopAll followed by waiting for deliveries that were already running, so
// no callback of a stopped subscription is running or can start once it returns. It must not
// be called from inside a callback.
func (l *Lifecycle) StopAllAndWait() int {
	stopped := l.stopWhere(func(*subscription) bool { return true })
	for _, s := range stopped {
		if s.drain != nil {
			s.drain()
		}
	}
	return len(stopped)
}

func (l *Lifecycle) stopWhere(match func(*subscription) bool) []*subscription {
	l.mu.Lock()
	var stopped []*subscription
	for id, s := range l.subs {
		if match(s) {
			stopped = append(stopped, s)
			delete(l.subs, id)
		}
	}
	l.mu.Unlock()
	for _, s := range stopped {
		l.end(s)
	}
	return stopped
}

// Active returns the number of live subscriptions to sensor.
func (l *Lifecycle) Active(sensor string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, s := range l.subs {
		if s.info.Sensor == sensor {
			n++
		}
	}
	return n
}

// Subscriptions lists live subscriptions ordered by start time.
func (l *Lifecycle) Subscriptions() []Subscription {
	l.mu.Lock()
	out := make([]Subscription, 0, len(l.subs))
	for _, s := range l.subs {
		out = append(out, s.info)
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Started.Equal(out[j].Started) {
			return out[i].ID < out[j].ID
		}
		return out[i].Started.Before(out[j].Started)
	})
	return out
}
