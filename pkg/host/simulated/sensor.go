package simulated

import (
	"sync"
	"time"
)

type sensor struct {
	host     *Host
	apiName  string
	interval time.Duration

	mu       sync.Mutex
	props    map[string]interface{}
	readers  map[int]func()
	errorers map[int]func(error)
	next     int
	stop     chan struct{}
}

func (s *sensor) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	go s.run(s.stop)
}

// Stop halts sampling. It does not wait for the sampling goroutine, so it may be called
// from a reading listener.
func (s *sensor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	close(s.stop)
	s.stop = nil
	s.props["activated"] = false
}

func (s *sensor) run(stop chan struct{}) {
	ticker := s.host.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-s.host.closed:
			return
		case <-ticker.C:
		}
		if err, ok := s.host.cfg.ReadErrors[s.apiName]; ok {
			s.fail(stop, err)
			continue
		}
		sample := s.host.sample(s.apiName)

		s.mu.Lock()
		select {
		case <-stop:
			s.mu.Unlock()
			return
		default:
		}
		for k, v := range sample {
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
}

func (s *sensor) fail(stop chan struct{}, err error) {
	s.mu.Lock()
	select {
	case <-stop:
		s.mu.Unlock()
		return
	default:
	}
	fns := make([]func(error), 0, len(s.errorers))
	for _, fn := range s.errorers {
		fns = append(fns, fn)
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(err)
	}
}

func (s *sensor) OnReading(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.readers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.readers, id)
	}
}

func (s *sensor) OnError(fn func(error)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.errorers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.errorers, id)
	}
}

func (s *sensor) Property(name string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.props[name]
	return v, ok
}
