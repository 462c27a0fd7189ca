package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ericogr/sensorprobe/pkg/config"
	"github.com/ericogr/sensorprobe/pkg/output"
)

const writeTimeout = 5 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaOutput writes events as JSON messages keyed by sensor id, so one sensor's events stay
// ordered within a partition.
type KafkaOutput struct {
	w messageWriter
}

func NewKafka(cfg config.KafkaConfig) (output.Output, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka output needs brokers and a topic")
	}
	return &KafkaOutput{w: &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}}, nil
}

func (k *KafkaOutput) Publish(events []output.Event) error {
	if len(events) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		b, err := output.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode %s: %w", e.Sensor, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Sensor), Value: b, Time: e.Timestamp})
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := k.w.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

func (k *KafkaOutput) Close() error { return k.w.Close() }
