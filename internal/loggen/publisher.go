package loggen

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"

	"logx-detector/internal/events"
	"logx-detector/internal/kafkautil"
)

// Encodings accepted by NewKafkaPublisher.
const (
	EncodingJSON  = "json"
	EncodingProto = "proto"
)

// Publisher sends events.
type Publisher interface {
	Publish(ctx context.Context, evs ...*events.Event) error
	Close() error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to the logs topic keyed by tenant and system, so one
// system's events stay ordered within a partition.
type KafkaPublisher struct {
	writer   messageWriter
	topic    string
	encoding string
}

var _ Publisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher creates a publisher for topic using the given encoding.
func NewKafkaPublisher(brokers, topic, encoding string) (*KafkaPublisher, error) {
	if err := kafkautil.ValidateProducerParams(brokers, topic); err != nil {
		return nil, err
	}
	if encoding != EncodingJSON && encoding != EncodingProto {
		return nil, fmt.Errorf("unknown encoding %q", encoding)
	}
	brokerList := kafkautil.ParseBrokers(brokers)
	slog.Info("Initializing Kafka producer",
		"brokers", brokerList,
		"topic", topic,
		"encoding", encoding,
	)
	return &KafkaPublisher{
		writer:   kafkautil.NewWriter(brokerList, topic),
		topic:    topic,
		encoding: encoding,
	}, nil
}

func (p *KafkaPublisher) message(ev *events.Event) (kafka.Message, error) {
	var (
		payload     []byte
		contentType string
		err         error
	)
	if p.encoding == EncodingProto {
		payload, err = events.EncodeProto(ev)
		contentType = events.ContentTypeProtobuf
	} else {
		payload, err = events.EncodeJSON(ev)
		contentType = events.ContentTypeJSON
	}
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(ev.TenantID + ":" + ev.SystemID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: events.ContentTypeHeader, Value: []byte(contentType)},
		},
		Time: ev.Timestamp,
	}, nil
}

// Publish encodes and writes events synchronously.
func (p *KafkaPublisher) Publish(ctx context.Context, evs ...*events.Event) error {
	msgs := make([]kafka.Message, 0, len(evs))
	for _, ev := range evs {
		msg, err := p.message(ev)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to write %d events to Kafka: %w", len(msgs), err)
	}
	return nil
}

// Close closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	slog.Info("Closing Kafka producer", "topic", p.topic)
	return p.writer.Close()
}

// MockPublisher records events instead of sending them.
type MockPublisher struct {
	mu     sync.Mutex
	events []*events.Event
}

var _ Publisher = (*MockPublisher)(nil)

// Publish records evs.
func (m *MockPublisher) Publish(_ context.Context, evs ...*events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evs...)
	for _, ev := range evs {
		slog.Debug("Mock publish",
			"tenant_id", ev.TenantID,
			"system_id", ev.SystemID,
			"level", ev.Level,
			"operation", ev.Operation,
		)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (m *MockPublisher) Events() []*events.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*events.Event(nil), m.events...)
}

// Close does nothing.
func (m *MockPublisher) Close() error { return nil }
