package notifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"logx-detector/internal/alerts"
	"logx-detector/internal/kafkautil"
)

// messageWriter is the subset of *kafka.Writer used by Kafka.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Kafka publishes envelopes to a topic keyed by tenant id.
type Kafka struct {
	writer messageWriter
	topic  string
}

var _ Notifier = (*Kafka)(nil)

// NewKafka creates a Kafka notifier for topic.
func NewKafka(brokers, topic string) (*Kafka, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	brokerList := kafkautil.ParseBrokers(brokers)
	slog.Info("Initializing Kafka notifier", "brokers", brokerList, "topic", topic)
	return &Kafka{writer: kafkautil.NewWriter(brokerList, topic), topic: topic}, nil
}

// NotifyAlert publishes a single alert.
func (k *Kafka) NotifyAlert(ctx context.Context, a *alerts.Alert) error {
	return k.publish(ctx, alertEnvelope(a))
}

// NotifySummary publishes a tenant summary.
func (k *Kafka) NotifySummary(ctx context.Context, s alerts.Summary) error {
	return k.publish(ctx, summaryEnvelope(s))
}

func buildMessage(env Envelope) (kafka.Message, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal %s envelope: %w", env.Type, err)
	}
	return kafka.Message{
		Key:   []byte(env.TenantID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(env.Type)},
			{Key: "schema_version", Value: []byte(strconv.Itoa(env.SchemaVersion))},
		},
		Time: time.Now(),
	}, nil
}

func (k *Kafka) publish(ctx context.Context, env Envelope) error {
	msg, err := buildMessage(env)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("failed to write %s to Kafka topic %s: %w", env.Type, k.topic, err)
	}
	slog.Debug("Published notification", "type", env.Type, "tenant_id", env.TenantID, "topic", k.topic)
	return nil
}

// Close closes the underlying writer.
func (k *Kafka) Close() error {
	slog.Info("Closing Kafka notifier", "topic", k.topic)
	return k.writer.Close()
}
