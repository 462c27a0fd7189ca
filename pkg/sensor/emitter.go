package sensor

import "sync"

// emitter gates the caller's callback for one subscription. Deliveries are serialized and
// none is admitted once close has returned. close may be called from inside the callback, so
// it never waits; a delivery admitted just before it may still run. drain waits that one out.
type emitter struct {
	deliverMu sync.Mutex

	mu     sync.Mutex
	closed bool
	fn     ResultFunc
	// done runs after a terminal delivery.
	done func()
}

func newEmitter(fn ResultFunc) *emitter {
	return &emitter{fn: fn}
}

// emit delivers one result unless the emitter is closed. It reports whether the callback ran.
func (e *emitter) emit(available bool, reading Reading) bool {
	if !available {
		reading = nil
	}
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	fn := e.fn
	e.mu.Unlock()

	fn(available, reading)
	return true
}

// emitLast delivers one result and closes the emitter in the same step, so no other
// delivery can follow it.
func (e *emitter) emitLast(available bool, reading Reading) bool {
	if !available {
		reading = nil
	}
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.closed = true
	fn := e.fn
	e.mu.Unlock()

	fn(available, reading)
	if e.done != nil {
		e.done()
	}
	return true
}

// close stops all further deliveries. It reports whether this call did the closing.
func (e *emitter) close() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}
	e.closed = true
	return true
}

// drain blocks until no delivery is running. Calling it from inside the callback deadlocks.
func (e *emitter) drain() {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()
}

func (e *emitter) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
