package config

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/ericogr/sensorprobe/pkg/sensor"
)

// Host kinds.
const (
	HostSimulated = "simulated"
	HostSysfs     = "sysfs"
)

type MQTTConfig struct {
	Server            string `json:"server"`
	Username          string `json:"username"`
	Password          string `json:"password"`
	ClientID          string `json:"client_id"`
	StateTopic        string `json:"state_topic"`
	DiscoveryTopic    string `json:"discovery_topic"`
	DiscoveryName     string `json:"discovery_name"`
	DiscoveryUniqueID string `json:"discovery_unique_id"`
}

type KafkaConfig struct {
	Brokers []string `json:"brokers"`
	Topic   string   `json:"topic"`
}

type OutputConfig struct {
	Type       string       `json:"type"`
	IntervalMs int          `json:"interval_ms,omitempty"`
	MQTT       *MQTTConfig  `json:"mqtt,omitempty"`
	Kafka      *KafkaConfig `json:"kafka,omitempty"`
}

// SensorConfig selects one sensor and how it is delivered.
type SensorConfig struct {
	Name    string `json:"name"`
	Mode    string `json:"mode,omitempty"`
	Enabled bool   `json:"enabled"`
}

// SimulationConfig tunes the simulated host.
type SimulationConfig struct {
	Capabilities  []string `json:"capabilities,omitempty"`
	Permission    string   `json:"permission,omitempty"`
	SampleRate    int      `json:"sample_rate,omitempty"`
	Latitude      float64  `json:"latitude"`
	Longitude     float64  `json:"longitude"`
	Speed         float64  `json:"speed"`
	Heading       float64  `json:"heading"`
	FixIntervalMs int      `json:"fix_interval_ms,omitempty"`
	BatteryLevel  float64  `json:"battery_level,omitempty"`
	Charging      bool     `json:"charging"`
	Seed          int64    `json:"seed,omitempty"`
}

type SysfsConfig struct {
	Root          string `json:"root,omitempty"`
	BatteryPollMs int    `json:"battery_poll_ms,omitempty"`
}

type Config struct {
	Host        string           `json:"host"`
	Interactive bool             `json:"interactive"`
	Sensors     []SensorConfig   `json:"sensors"`
	Outputs     []OutputConfig   `json:"outputs"`
	Simulation  SimulationConfig `json:"simulation"`
	Sysfs       SysfsConfig      `json:"sysfs"`
	LogLevel    string           `json:"log_level"`
	IntervalMs  int              `json:"interval_ms"`
}

func DefaultConfig() Config {
	return Config{
		Host:        HostSimulated,
		Interactive: true,
		Sensors: []SensorConfig{
			{Name: "Accelerometer", Mode: "stream", Enabled: true},
			{Name: "Geolocation", Mode: "stream", Enabled: true},
			{Name: "Battery", Mode: "stream", Enabled: true},
			{Name: "DeviceMotionEvent", Mode: "probe", Enabled: true},
		},
		Outputs: []OutputConfig{{Type: "console", IntervalMs: 1000}},
		Simulation: SimulationConfig{
			Latitude:     -23.5505,
			Longitude:    -46.6333,
			Speed:        1.4,
			BatteryLevel: 0.8,
		},
		LogLevel:   "info",
		IntervalMs: 1000,
	}
}

// EnabledSensors returns the sensors marked enabled.
func (c Config) EnabledSensors() []SensorConfig {
	return lo.Filter(c.Sensors, func(s SensorConfig, _ int) bool { return s.Enabled })
}

// Validate checks values that cannot be defaulted.
func (c Config) Validate() error {
	switch c.Host {
	case HostSimulated, HostSysfs:
	default:
		return fmt.Errorf("host must be %s or %s, got %q", HostSimulated, HostSysfs, c.Host)
	}
	if c.IntervalMs <= 0 {
		return errors.New("interval-ms must be > 0")
	}
	for _, s := range c.Sensors {
		if strings.TrimSpace(s.Name) == "" {
			return errors.New("sensor name must not be empty")
		}
		if _, ok := sensor.ParseMode(strings.ToLower(s.Mode)); !ok {
			return fmt.Errorf("sensor %s: mode must be stream or probe, got %q", s.Name, s.Mode)
		}
	}
	for _, o := range c.Outputs {
		switch strings.ToLower(o.Type) {
		case "console", "mqtt":
		case "kafka":
			if o.Kafka == nil || len(o.Kafka.Brokers) == 0 || o.Kafka.Topic == "" {
				return errors.New("kafka output needs brokers and a topic")
			}
		default:
			return fmt.Errorf("unknown output type %q", o.Type)
		}
	}
	return nil
}

// LoadFromFlags loads configuration from a JSON file (optional) and flags.
// Flags override values present in the JSON file.
func LoadFromFlags() (Config, error) {
	return Load(flag.CommandLine, os.Args[1:])
}

// Load is LoadFromFlags on an explicit flag set and argument list.
func Load(fs *flag.FlagSet, args []string) (Config, error) {
	cfgPath := fs.String("config", "", "Path to JSON config file")
	flagHost := fs.String("host", "", "host: simulated|sysfs")
	flagInteractive := fs.String("interactive", "", "whether sensor access is attemptable (true|false)")
	flagSensors := fs.String("sensors", "", "Comma-separated sensors e.g. Accelerometer,Geolocation")
	flagModes := fs.String("modes", "", "Comma-separated sensor modes e.g. Geolocation=probe,Battery=stream")
	flagOutputs := fs.String("outputs", "", "Comma-separated outputs (console,mqtt,kafka)")
	flagOutputIntervals := fs.String("output-intervals", "", "Comma-separated output intervals e.g. console=1000,mqtt=5000")
	flagMQTTServer := fs.String("mqtt-server", "", "MQTT server (tcp://host:port)")
	flagMQTTUser := fs.String("mqtt-user", "", "MQTT username")
	flagMQTTPass := fs.String("mqtt-pass", "", "MQTT password")
	flagClientID := fs.String("mqtt-client-id", "", "MQTT client id")
	flagTopic := fs.String("mqtt-topic", "", "MQTT state topic, %s is replaced by the sensor id")
	flagKafkaBrokers := fs.String("kafka-brokers", "", "Comma-separated Kafka brokers")
	flagKafkaTopic := fs.String("kafka-topic", "", "Kafka topic")
	flagLogLevel := fs.String("log-level", "", "log level: debug|info|warn|error")
	flagInterval := fs.Int("interval-ms", -1, "Publish interval in ms")
	flagSampleRate := fs.Int("sample-rate", -1, "Simulated sample rate (Hz) for sensors without one")
	flagSpeed := fs.Float64("speed", math.NaN(), "Simulated walking speed (m/s)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := DefaultConfig()

	if *cfgPath != "" {
		b, err := os.ReadFile(*cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if *flagHost != "" {
		cfg.Host = strings.ToLower(*flagHost)
	}
	if *flagInteractive != "" {
		v, err := strconv.ParseBool(*flagInteractive)
		if err != nil {
			return cfg, fmt.Errorf("interactive: %w", err)
		}
		cfg.Interactive = v
	}
	if *flagSensors != "" {
		cfg.Sensors = lo.Map(parseCSV(*flagSensors), func(name string, _ int) SensorConfig {
			return SensorConfig{Name: name, Mode: "stream", Enabled: true}
		})
	}
	if *flagModes != "" {
		modes, err := parseKeyMap(*flagModes)
		if err != nil {
			return cfg, fmt.Errorf("modes: %w", err)
		}
		for i := range cfg.Sensors {
			for name, mode := range modes {
				if strings.EqualFold(name, cfg.Sensors[i].Name) {
					cfg.Sensors[i].Mode = strings.ToLower(mode)
				}
			}
		}
	}
	if *flagInterval != -1 {
		cfg.IntervalMs = *flagInterval
	}
	if *flagOutputs != "" {
		cfg.Outputs = lo.Map(parseCSV(*flagOutputs), func(p string, _ int) OutputConfig {
			return OutputConfig{Type: strings.ToLower(p), IntervalMs: cfg.IntervalMs}
		})
	}
	if *flagOutputIntervals != "" {
		intervals, err := parseKeyIntMap(*flagOutputIntervals)
		if err != nil {
			return cfg, fmt.Errorf("output-intervals: %w", err)
		}
		for i := range cfg.Outputs {
			if v, ok := intervals[cfg.Outputs[i].Type]; ok {
				cfg.Outputs[i].IntervalMs = v
			}
		}
	}
	if *flagMQTTServer != "" || *flagMQTTUser != "" || *flagMQTTPass != "" || *flagClientID != "" || *flagTopic != "" {
		m := outputOf(&cfg, "mqtt")
		if m.MQTT == nil {
			m.MQTT = &MQTTConfig{}
		}
		if *flagMQTTServer != "" {
			m.MQTT.Server = *flagMQTTServer
		}
		if *flagMQTTUser != "" {
			m.MQTT.Username = *flagMQTTUser
		}
		if *flagMQTTPass != "" {
			m.MQTT.Password = *flagMQTTPass
		}
		if *flagClientID != "" {
			m.MQTT.ClientID = *flagClientID
		}
		if *flagTopic != "" {
			m.MQTT.StateTopic = *flagTopic
		}
	}
	if *flagKafkaBrokers != "" || *flagKafkaTopic != "" {
		k := outputOf(&cfg, "kafka")
		if k.Kafka == nil {
			k.Kafka = &KafkaConfig{}
		}
		if *flagKafkaBrokers != "" {
			k.Kafka.Brokers = parseCSV(*flagKafkaBrokers)
		}
		if *flagKafkaTopic != "" {
			k.Kafka.Topic = *flagKafkaTopic
		}
	}
	if *flagLogLevel != "" {
		cfg.LogLevel = *flagLogLevel
	}
	if *flagSampleRate != -1 {
		cfg.Simulation.SampleRate = *flagSampleRate
	}
	if !math.IsNaN(*flagSpeed) {
		cfg.Simulation.Speed = *flagSpeed
	}
	// ensure outputs have interval default
	for i := range cfg.Outputs {
		if cfg.Outputs[i].IntervalMs == 0 {
			cfg.Outputs[i].IntervalMs = cfg.IntervalMs
		}
	}

	return cfg, cfg.Validate()
}

// outputOf returns the first output of type typ, appending one if missing.
func outputOf(cfg *Config, typ string) *OutputConfig {
	for i := range cfg.Outputs {
		if strings.EqualFold(cfg.Outputs[i].Type, typ) {
			return &cfg.Outputs[i]
		}
	}
	cfg.Outputs = append(cfg.Outputs, OutputConfig{Type: typ, IntervalMs: cfg.IntervalMs})
	return &cfg.Outputs[len(cfg.Outputs)-1]
}

func parseCSV(s string) []string {
	return lo.Compact(lo.Map(strings.Split(s, ","), func(p string, _ int) string {
		return strings.TrimSpace(p)
	}))
}

// parseKeyMap parses "k=v,k2=v2".
func parseKeyMap(s string) (map[string]string, error) {
	out := map[string]string{}
	for _, p := range parseCSV(s) {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid pair '%s'", p)
		}
		k, v := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		if k == "" {
			return nil, fmt.Errorf("invalid pair '%s'", p)
		}
		out[k] = v
	}
	return out, nil
}

func parseKeyIntMap(s string) (map[string]int, error) {
	kv, err := parseKeyMap(s)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(kv))
	for k, v := range kv {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid value for '%s': %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}
