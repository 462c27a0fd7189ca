// Package sensor resolves sensor names to host access strategies and delivers their
// availability and readings through one callback contract.
package sensor

import "sync"

// Reading is a normalized snapshot of one sample, keyed by documented field names.
type Reading map[string]interface{}

// Result is a single availability answer.
type Result struct {
	Available bool    `json:"available"`
	Reading   Reading `json:"reading"`
}

// ResultFunc receives availability answers. reading is nil whenever available is false.
type ResultFunc func(available bool, reading Reading)

// Mode selects how readings are delivered.
type Mode int

const (
	// Stream keeps the underlying resource running and delivers every sample.
	Stream Mode = iota
	// ProbeOnce delivers at most one successful reading and releases the resource.
	ProbeOnce
)

func (m Mode) String() string {
	switch m {
	case Stream:
		return "stream"
	case ProbeOnce:
		return "probe"
	default:
		return "unknown"
	}
}

// ParseMode converts "stream" or "probe" to a Mode.
func ParseMode(s string) (Mode, bool) {
	switch s {
	case "", "stream":
		return Stream, true
	case "probe", "probe-once", "probeonce":
		return ProbeOnce, true
	default:
		return Stream, false
	}
}

// Disposer releases everything held by one subscription. Calling it more than once is a no-op.
type Disposer func()

func noopDisposer() {}

// once makes fn idempotent.
func once(fn func()) Disposer {
	var o sync.Once
	return func() { o.Do(fn) }
}
