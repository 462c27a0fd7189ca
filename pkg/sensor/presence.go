package sensor

import (
	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/host"
)

// PresenceAdapter answers capabilities fully determined by a symbol check.
type PresenceAdapter struct {
	host   host.Host
	logger *zap.SugaredLogger
}

// NewPresenceAdapter returns a PresenceAdapter bound to h.
func NewPresenceAdapter(h host.Host, logger *zap.SugaredLogger) *PresenceAdapter {
	return &PresenceAdapter{host: h, logger: logger.Named("presence")}
}

// Check reports whether d's symbol is present. The reading is always nil.
func (a *PresenceAdapter) Check(d Descriptor) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorw("presence check panicked", "sensor", d.ID, "panic", r)
			res = Result{}
		}
	}()
	present := a.host.Has(d.APIName)
	if !present {
		normalize(a.logger, d.ID, "detect", host.ErrNotSupported)
	}
	return Result{Available: present}
}
