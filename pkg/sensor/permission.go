package sensor

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// DefaultWatchOptions asks for high accuracy, no cached fixes and no timeout.
var DefaultWatchOptions = host.WatchOptions{EnableHighAccuracy: true}

// PermissionAdapter serves capabilities gated by an asynchronous permission query,
// streaming positions once access is granted or promptable.
type PermissionAdapter struct {
	host    host.Host
	logger  *zap.SugaredLogger
	options host.WatchOptions
}

// NewPermissionAdapter returns a PermissionAdapter bound to h.
func NewPermissionAdapter(h host.Host, logger *zap.SugaredLogger, opts host.WatchOptions) *PermissionAdapter {
	return &PermissionAdapter{host: h, logger: logger.Named("permission"), options: opts}
}

func (a *PermissionAdapter) query(ctx context.Context, name string) (state host.PermissionState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic querying permission %s: %v", name, r)
		}
	}()
	return a.host.QueryPermission(ctx, name)
}

// Start reports absence synchronously. Otherwise the permission query and the watch run in
// the background and results arrive on host goroutines.
func (a *PermissionAdapter) Start(d Descriptor, onResult ResultFunc, mode Mode) Disposer {
	if dsp := a.start(d, newEmitter(onResult), mode); dsp != nil {
		return dsp
	}
	return noopDisposer
}

func (a *PermissionAdapter) start(d Descriptor, em *emitter, mode Mode) Disposer {
	if !a.host.Has(d.APIName) {
		normalize(a.logger, d.ID, "detect", host.ErrNotSupported)
		em.emitLast(false, nil)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu       sync.Mutex
		disposed bool
		watching bool
		watchID  host.WatchID
	)
	clearWatch := func() {
		mu.Lock()
		if !watching {
			mu.Unlock()
			return
		}
		watching = false
		id := watchID
		mu.Unlock()
		a.host.ClearWatch(id)
	}

	onPosition := func(p host.Position) {
		if mode == ProbeOnce {
			if em.emitLast(true, positionReading(p)) {
				clearWatch()
			}
			return
		}
		em.emit(true, positionReading(p))
	}
	onError := func(err error) {
		normalize(a.logger, d.ID, "watch", err)
		if mode == ProbeOnce {
			if em.emitLast(false, nil) {
				clearWatch()
			}
			return
		}
		em.emit(false, nil)
	}

	go func() {
		state, err := a.query(ctx, d.APIName)
		if err != nil {
			if ctx.Err() == nil {
				normalize(a.logger, d.ID, "query", err)
			}
			em.emitLast(false, nil)
			return
		}
		if state != host.Granted && state != host.Prompt {
			normalize(a.logger, d.ID, "query", fmt.Errorf("%w: permission %s", host.ErrNotAllowed, state))
			em.emitLast(false, nil)
			return
		}

		mu.Lock()
		stop := disposed
		mu.Unlock()
		if stop {
			return
		}
		id, err := a.host.WatchPosition(onPosition, onError, a.options)
		if err != nil {
			normalize(a.logger, d.ID, "watch", err)
			em.emitLast(false, nil)
			return
		}
		mu.Lock()
		if disposed || em.isClosed() {
			mu.Unlock()
			a.host.ClearWatch(id)
			return
		}
		watching = true
		watchID = id
		mu.Unlock()
		a.logger.Debugw("watching position", "sensor", d.ID, "state", string(state), "watch", int64(id))
	}()

	return once(func() {
		mu.Lock()
		disposed = true
		mu.Unlock()
		em.close()
		cancel()
		clearWatch()
	})
}
