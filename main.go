package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"periph.io/x/conn/v3/physic"

	"github.com/ericogr/sensorprobe/pkg/config"
	"github.com/ericogr/sensorprobe/pkg/host"
	"github.com/ericogr/sensorprobe/pkg/host/simulated"
	"github.com/ericogr/sensorprobe/pkg/host/sysfs"
	"github.com/ericogr/sensorprobe/pkg/logging"
	"github.com/ericogr/sensorprobe/pkg/output"
	"github.com/ericogr/sensorprobe/pkg/output/console"
	"github.com/ericogr/sensorprobe/pkg/output/kafka"
	"github.com/ericogr/sensorprobe/pkg/output/mqtt"
	"github.com/ericogr/sensorprobe/pkg/sensor"
)

func main() {
	cfg, err := config.LoadFromFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logger, err := logging.NewLogger("sensorprobe", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, clock.New(), logger); err != nil {
		logger.Errorw("exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, clk clock.Clock, logger *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, ok, closeHost := newHost(cfg, clk, logger)
	det := sensor.NewDetector(h, sensor.Options{
		Interactive: cfg.Interactive && ok,
		Logger:      logger,
		Clock:       clk,
	})

	requests, err := sensorRequests(cfg)
	if err != nil {
		return multierr.Append(err, closeHost())
	}
	entries, err := initOutputs(&cfg, cfg.IntervalMs, requestNames(requests), logger)
	if err != nil {
		return multierr.Append(err, closeHost())
	}
	hub := newHub(entries, clk, logger)
	hub.start()

	for _, r := range requests {
		det.Request(r.name, func(available bool, reading sensor.Reading) {
			hub.deliver(output.Event{Sensor: r.name, Available: available, Reading: reading, Timestamp: clk.Now()}, r.mode == sensor.ProbeOnce)
		}, r.mode)
	}
	logger.Infow("started", "sensors", len(requests), "outputs", len(entries), "host", cfg.Host)

	<-ctx.Done()
	logger.Infow("shutting down", "subscriptions", det.StopAll())
	return multierr.Combine(hub.close(), closeHost())
}

// newHost builds the configured host. ok is false when sensor access cannot be attempted on
// this machine, in which case the returned host is nil and must not be used.
func newHost(cfg config.Config, clk clock.Clock, logger *zap.SugaredLogger) (h host.Host, ok bool, closeHost func() error) {
	switch cfg.Host {
	case config.HostSysfs:
		s, err := sysfs.New(sysfs.Config{
			Root:        cfg.Sysfs.Root,
			BatteryPoll: time.Duration(cfg.Sysfs.BatteryPollMs) * time.Millisecond,
		}, clk, logger)
		if err != nil {
			logger.Warnw("sensor access not attemptable", "host", cfg.Host, "error", err)
			return nil, false, func() error { return nil }
		}
		return s, true, s.Close
	default:
		sc := cfg.Simulation
		s := simulated.New(simulated.Config{
			Capabilities:     sc.Capabilities,
			Permission:       host.PermissionState(strings.ToLower(sc.Permission)),
			DefaultFrequency: physic.Frequency(sc.SampleRate) * physic.Hertz,
			Latitude:         sc.Latitude,
			Longitude:        sc.Longitude,
			Speed:            sc.Speed,
			Heading:          sc.Heading,
			FixInterval:      time.Duration(sc.FixIntervalMs) * time.Millisecond,
			BatteryLevel:     sc.BatteryLevel,
			Charging:         sc.Charging,
			Seed:             sc.Seed,
		}, clk, logger)
		return s, true, s.Close
	}
}

type request struct {
	name string
	mode sensor.Mode
}

// sensorRequests resolves the enabled sensors and their modes.
func sensorRequests(cfg config.Config) ([]request, error) {
	var out []request
	for _, s := range cfg.EnabledSensors() {
		mode, ok := sensor.ParseMode(strings.ToLower(s.Mode))
		if !ok {
			return nil, fmt.Errorf("sensor %s: unknown mode %q", s.Name, s.Mode)
		}
		out = append(out, request{name: s.Name, mode: mode})
	}
	return out, nil
}

func requestNames(rs []request) []string {
	names := make([]string, 0, len(rs))
	for _, r := range rs {
		names = append(names, r.name)
	}
	return names
}

type outputEntry struct {
	Type       string
	Out        output.Output
	IntervalMs int
}

// initOutputs builds every configured output. Outputs without an interval inherit
// defaultInterval, which is written back into cfg.
func initOutputs(cfg *config.Config, defaultInterval int, sensors []string, logger *zap.SugaredLogger) ([]outputEntry, error) {
	entries := make([]outputEntry, 0, len(cfg.Outputs))
	for i := range cfg.Outputs {
		o := &cfg.Outputs[i]
		if o.IntervalMs <= 0 {
			o.IntervalMs = defaultInterval
		}
		var (
			out output.Output
			err error
		)
		switch strings.ToLower(o.Type) {
		case "console":
			out = console.NewConsole()
		case "mqtt":
			mc := config.MQTTConfig{}
			if o.MQTT != nil {
				mc = *o.MQTT
			}
			out, err = mqtt.NewMQTT(mc, sensors, logger)
		case "kafka":
			kc := config.KafkaConfig{}
			if o.Kafka != nil {
				kc = *o.Kafka
			}
			out, err = kafka.NewKafka(kc)
		default:
			err = fmt.Errorf("unknown output type %q", o.Type)
		}
		if err != nil {
			for _, e := range entries {
				err = multierr.Append(err, e.Out.Close())
			}
			return nil, fmt.Errorf("output %s: %w", o.Type, err)
		}
		entries = append(entries, outputEntry{Type: o.Type, Out: out, IntervalMs: o.IntervalMs})
	}
	return entries, nil
}

// sink buffers the latest event per sensor for one output and publishes them on its interval.
type sink struct {
	entry outputEntry

	mu      sync.Mutex
	pending map[string]output.Event
	kick    chan struct{}
}

// hub fans events out to every sink.
type hub struct {
	sinks  []*sink
	clock  clock.Clock
	logger *zap.SugaredLogger
	done   chan struct{}
	wg     sync.WaitGroup
}

func newHub(entries []outputEntry, clk clock.Clock, logger *zap.SugaredLogger) *hub {
	h := &hub{clock: clk, logger: logger.Named("outputs"), done: make(chan struct{})}
	for _, e := range entries {
		h.sinks = append(h.sinks, &sink{entry: e, pending: map[string]output.Event{}, kick: make(chan struct{}, 1)})
	}
	return h
}

// deliver records e on every sink. Immediate events are flushed without waiting for the
// next tick.
func (h *hub) deliver(e output.Event, immediate bool) {
	for _, s := range h.sinks {
		s.mu.Lock()
		s.pending[e.Sensor] = e
		s.mu.Unlock()
		if immediate {
			select {
			case s.kick <- struct{}{}:
			default:
			}
		}
	}
}

func (h *hub) start() {
	for _, s := range h.sinks {
		h.wg.Add(1)
		go func(s *sink) {
			defer h.wg.Done()
			h.loop(s)
		}(s)
	}
}

func (h *hub) loop(s *sink) {
	ticker := h.clock.Ticker(time.Duration(s.entry.IntervalMs) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-h.done:
			h.flush(s)
			return
		case <-ticker.C:
		case <-s.kick:
		}
		h.flush(s)
	}
}

// flush publishes the pending events of s ordered by sensor.
func (h *hub) flush(s *sink) {
	s.mu.Lock()
	events := make([]output.Event, 0, len(s.pending))
	for _, e := range s.pending {
		events = append(events, e)
	}
	s.pending = map[string]output.Event{}
	s.mu.Unlock()
	if len(events) == 0 {
		return
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Sensor < events[j].Sensor })
	if err := s.entry.Out.Publish(events); err != nil {
		h.logger.Warnw("publish failed", "output", s.entry.Type, "events", len(events), "error", err)
	}
}

// close stops the loops after a final flush and closes every output.
func (h *hub) close() error {
	close(h.done)
	h.wg.Wait()
	var err error
	for _, s := range h.sinks {
		err = multierr.Append(err, s.entry.Out.Close())
	}
	return err
}
