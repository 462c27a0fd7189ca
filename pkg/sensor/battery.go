package sensor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// BatteryAdapter serves battery status: an asynchronous accessor followed by change events.
type BatteryAdapter struct {
	host   host.Host
	logger *zap.SugaredLogger
}

// NewBatteryAdapter returns a BatteryAdapter bound to h.
func NewBatteryAdapter(h host.Host, logger *zap.SugaredLogger) *BatteryAdapter {
	return &BatteryAdapter{host: h, logger: logger.Named("battery")}
}

func (a *BatteryAdapter) acquire(ctx context.Context) (b host.Battery, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic acquiring battery: %v", r)
		}
	}()
	return a.host.Battery(ctx)
}

// Start reports absence synchronously, then resolves the battery manager in the background,
// emits its current status and, in Stream mode, re-emits on every change event.
func (a *BatteryAdapter) Start(d Descriptor, onResult ResultFunc, mode Mode) Disposer {
	if dsp := a.start(d, newEmitter(onResult), mode); dsp != nil {
		return dsp
	}
	return noopDisposer
}

func (a *BatteryAdapter) start(d Descriptor, em *emitter, mode Mode) Disposer {
	if !a.host.Has(d.APIName) {
		normalize(a.logger, d.ID, "detect", host.ErrNotSupported)
		em.emitLast(false, nil)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	var (
		mu       sync.Mutex
		disposed bool
		detach   []func()
	)
	release := func() {
		mu.Lock()
		disposed = true
		fns := detach
		detach = nil
		mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	}

	go func() {
		b, err := a.acquire(ctx)
		if err != nil {
			if ctx.Err() == nil {
				normalize(a.logger, d.ID, "acquire", err)
			}
			em.emitLast(false, nil)
			return
		}
		if b == nil {
			normalize(a.logger, d.ID, "acquire", errors.New("host returned no battery manager"))
			em.emitLast(false, nil)
			return
		}
		if mode == ProbeOnce {
			em.emitLast(true, snapshot(b, d.Fields))
			return
		}

		update := func() { em.emit(true, snapshot(b, d.Fields)) }
		update()

		removes := make([]func(), 0, len(host.BatteryEvents))
		for _, ev := range host.BatteryEvents {
			removes = append(removes, b.OnChange(ev, update))
		}
		mu.Lock()
		if disposed {
			mu.Unlock()
			for _, fn := range removes {
				fn()
			}
			return
		}
		detach = removes
		mu.Unlock()
	}()

	return once(func() {
		em.close()
		cancel()
		release()
	})
}
