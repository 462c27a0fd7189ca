package sensor

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// Dispatcher resolves sensor identifiers and hands them to the matching strategy adapter.
// It performs no host-environment check; see Detector for that.
type Dispatcher struct {
	logger     *zap.SugaredLogger
	polling    *PollingAdapter
	permission *PermissionAdapter
	presence   *PresenceAdapter
	battery    *BatteryAdapter
}

// NewDispatcher returns a Dispatcher whose adapters talk to h.
func NewDispatcher(h host.Host, logger *zap.SugaredLogger, watch host.WatchOptions) *Dispatcher {
	logger = logger.Named("dispatcher")
	return &Dispatcher{
		logger:     logger,
		polling:    NewPollingAdapter(h, logger),
		permission: NewPermissionAdapter(h, logger, watch),
		presence:   NewPresenceAdapter(h, logger),
		battery:    NewBatteryAdapter(h, logger),
	}
}

// Request resolves identifier and starts the matching adapter. Unknown identifiers call
// onResult(false, nil) before returning. The returned Disposer is never nil.
func (d *Dispatcher) Request(identifier string, onResult ResultFunc, mode Mode) Disposer {
	desc, ok := Resolve(identifier)
	if !ok {
		d.unknown(identifier)
		onResult(false, nil)
		return noopDisposer
	}
	if dsp := d.start(desc, newEmitter(onResult), mode); dsp != nil {
		return dsp
	}
	return noopDisposer
}

func (d *Dispatcher) unknown(identifier string) {
	normalize(d.logger, identifier, "resolve", fmt.Errorf("%w: unknown sensor %q", host.ErrNotSupported, identifier))
}

// start switches on the strategy tag. A nil Disposer means nothing is held.
func (d *Dispatcher) start(desc Descriptor, em *emitter, mode Mode) Disposer {
	switch desc.Strategy {
	case GenericPolling:
		return d.polling.start(desc, em, mode)
	case PermissionQuery:
		return d.permission.start(desc, em, mode)
	case StaticPresence:
		res := d.presence.Check(desc)
		em.emitLast(res.Available, nil)
		return nil
	case Custom:
		return d.battery.start(desc, em, mode)
	default:
		d.logger.Errorw("no adapter for strategy", "sensor", desc.ID, "strategy", desc.Strategy.String())
		em.emitLast(false, nil)
		return nil
	}
}
