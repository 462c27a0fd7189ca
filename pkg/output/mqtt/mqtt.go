package mqtt

import (
	"fmt"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ericogr/sensorprobe/pkg/config"
	"github.com/ericogr/sensorprobe/pkg/output"
)

const (
	// defaults
	DefaultServer     = "tcp://localhost:1883"
	DefaultClientID   = "sensorprobe-client"
	perSensorTopicFmt = "sensorprobe/sensor/%s"
	// discovery payload keys/values
	keyName                = "name"
	keyStateTopic          = "state_topic"
	keyValueTemplate       = "value_template"
	keyPayloadOn           = "payload_on"
	keyPayloadOff          = "payload_off"
	keyJSONAttributesTopic = "json_attributes_topic"
	keyJSONAttributesTmpl  = "json_attributes_template"
	keyUniqueID            = "unique_id"
	valueTemplateAvailable = "{{ value_json.available }}"
	attributesTemplate     = "{{ value_json.reading | tojson }}"
)

type MQTTOutput struct {
	client     mqtt.Client
	stateTopic string
	logger     *zap.SugaredLogger
}

// NewMQTT connects to the broker and, when a discovery topic is configured, publishes one
// retained Home Assistant binary_sensor entry per sensor.
func NewMQTT(cfg config.MQTTConfig, sensors []string, logger *zap.SugaredLogger) (output.Output, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	return newMQTT(client, cfg, sensors, logger), nil
}

func newMQTT(client mqtt.Client, cfg config.MQTTConfig, sensors []string, logger *zap.SugaredLogger) *MQTTOutput {
	m := &MQTTOutput{client: client, stateTopic: cfg.StateTopic, logger: logger.Named("mqtt")}
	if cfg.DiscoveryTopic == "" {
		return m
	}
	for _, s := range sensors {
		dTopic := cfg.DiscoveryTopic
		if strings.Contains(dTopic, "%s") {
			dTopic = fmt.Sprintf(dTopic, discoveryKey(s))
		}
		payload := baseDiscoveryPayload(discoveryName(cfg, s), m.topic(s), discoveryUniqueID(cfg, s))
		if err := m.publishJSON(dTopic, true, payload); err != nil {
			m.logger.Warnw("mqtt discovery publish error", "sensor", s, "topic", dTopic, "error", err)
		}
	}
	return m
}

// topic returns the state topic of sensor. A %s in the configured topic is replaced by the
// sensor id.
func (m *MQTTOutput) topic(sensor string) string {
	if m.stateTopic == "" {
		return fmt.Sprintf(perSensorTopicFmt, sensor)
	}
	if strings.Contains(m.stateTopic, "%s") {
		return fmt.Sprintf(m.stateTopic, sensor)
	}
	return m.stateTopic
}

func (m *MQTTOutput) Publish(events []output.Event) error {
	for _, e := range events {
		if err := m.publishJSON(m.topic(e.Sensor), false, e); err != nil {
			return fmt.Errorf("publish %s: %w", e.Sensor, err)
		}
	}
	return nil
}

func (m *MQTTOutput) Close() error {
	if m.client != nil {
		m.client.Disconnect(250)
	}
	return nil
}

func discoveryKey(sensor string) string {
	return strings.ToLower(sensor)
}

// helper: build a human-friendly discovery name
func discoveryName(cfg config.MQTTConfig, sensor string) string {
	name := cfg.DiscoveryName
	if name == "" {
		name = fmt.Sprintf("Sensorprobe %s", cfg.ClientID)
	}
	return fmt.Sprintf("%s %s", name, sensor)
}

// helper: build a unique id for discovery
func discoveryUniqueID(cfg config.MQTTConfig, sensor string) string {
	uid := cfg.DiscoveryUniqueID
	if uid == "" {
		uid = cfg.ClientID
	}
	if uid == "" {
		return ""
	}
	return fmt.Sprintf("%s_%s", uid, discoveryKey(sensor))
}

// helper: base discovery payload map common to all entries
func baseDiscoveryPayload(name, stateTopic, uniqueID string) map[string]interface{} {
	payload := map[string]interface{}{
		keyName:                name,
		keyStateTopic:          stateTopic,
		keyValueTemplate:       valueTemplateAvailable,
		keyPayloadOn:           "True",
		keyPayloadOff:          "False",
		keyJSONAttributesTopic: stateTopic,
		keyJSONAttributesTmpl:  attributesTemplate,
	}
	if uniqueID != "" {
		payload[keyUniqueID] = uniqueID
	}
	return payload
}

// helper: marshal and publish JSON payload
func (m *MQTTOutput) publishJSON(topic string, retained bool, payload interface{}) error {
	b, err := output.Marshal(payload)
	if err != nil {
		return err
	}
	token := m.client.Publish(topic, 0, retained, b)
	token.Wait()
	return token.Error()
}
