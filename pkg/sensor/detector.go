package sensor

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// Options configures a Detector.
type Options struct {
	// Interactive reports whether sensor access is attemptable in this process at all. When
	// false, Request returns a no-op Disposer and never calls onResult.
	Interactive bool
	Logger      *zap.SugaredLogger
	Clock       clock.Clock
	// Watch overrides DefaultWatchOptions for positional watches.
	Watch *host.WatchOptions
}

// Detector is the caller-facing entry point: it applies the environment precondition,
// dispatches requests and keeps every live subscription in its Lifecycle.
type Detector struct {
	interactive bool
	logger      *zap.SugaredLogger
	dispatcher  *Dispatcher
	lifecycle   *Lifecycle
}

// NewDetector returns a Detector for h.
func NewDetector(h host.Host, opts Options) *Detector {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	watch := DefaultWatchOptions
	if opts.Watch != nil {
		watch = *opts.Watch
	}
	return &Detector{
		interactive: opts.Interactive,
		logger:      logger,
		dispatcher:  NewDispatcher(h, logger, watch),
		lifecycle:   NewLifecycle(opts.Clock),
	}
}

// Request asks for the sensor named identifier. onResult receives (false, nil) for unknown or
// unavailable sensors and (true, reading) for each sample. Once the returned Disposer returns
// no further delivery is admitted; it may be called from inside onResult.
func (d *Detector) Request(identifier string, onResult ResultFunc, mode Mode) Disposer {
	if !d.interactive {
		d.logger.Debugw("sensor access not attemptable, ignoring request", "sensor", identifier)
		return noopDisposer
	}
	desc, ok := Resolve(identifier)
	if !ok {
		d.dispatcher.unknown(identifier)
		onResult(false, nil)
		return noopDisposer
	}

	em := newEmitter(onResult)
	sub := d.lifecycle.begin(desc.ID, mode, em.drain)
	em.done = func() { d.lifecycle.finish(sub) }

	dsp := d.dispatcher.start(desc, em, mode)
	if dsp == nil {
		d.lifecycle.finish(sub)
		return noopDisposer
	}
	return d.lifecycle.attach(sub, dsp)
}

// Detect probes identifier once and blocks until the first result or ctx is done.
func (d *Detector) Detect(ctx context.Context, identifier string) (Result, error) {
	results := make(chan Result, 1)
	dispose := d.Request(identifier, func(available bool, reading Reading) {
		select {
		case results <- Result{Available: available, Reading: reading}:
		default:
		}
	}, ProbeOnce)
	defer dispose()

	if !d.interactive {
		return Result{}, nil
	}
	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Lifecycle returns the subscription manager.
func (d *Detector) Lifecycle() *Lifecycle { return d.lifecycle }

// StopAll disposes every live subscription and waits for callbacks already running. No
// callback runs once it returns. It must not be called from inside onResult.
func (d *Detector) StopAll() int {
	n := d.lifecycle.StopAllAndWait()
	if n > 0 {
		d.logger.Infow("stopped subscriptions", "count", n)
	}
	return n
}
