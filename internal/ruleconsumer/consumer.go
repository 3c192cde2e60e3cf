// Package ruleconsumer applies rule.changed events to the running detector: it drops
// the cached rules of the changed system and clears detection state of modified rules.
package ruleconsumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"logx-detector/internal/events"
	"logx-detector/internal/kafkautil"
)

// MessageConsumer reads rule change messages.
type MessageConsumer interface {
	ReadMessage(ctx context.Context) (*events.RuleChanged, *kafka.Message, error)
	CommitMessage(ctx context.Context, msg *kafka.Message) error
	Close() error
}

type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps a Kafka reader for the rule.changed topic.
type Consumer struct {
	reader fetcher
	topic  string
}

// Compile-time check that Consumer implements MessageConsumer.
var _ MessageConsumer = (*Consumer)(nil)

// NewConsumer creates a consumer-group reader for the rule.changed topic.
func NewConsumer(brokers, topic, groupID string) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing rule.changed consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := kafkautil.NewReaderConfig(brokerList, topic, groupID)
	reader := kafka.NewReader(cfg)
	kafkautil.LogReaderConfig(cfg)

	return &Consumer{reader: reader, topic: topic}, nil
}

// ReadMessage fetches the next message and decodes it. A message that cannot be decoded
// is returned alongside the error so its offset can still be committed.
func (c *Consumer) ReadMessage(ctx context.Context) (*events.RuleChanged, *kafka.Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}

	var changed events.RuleChanged
	if err := json.Unmarshal(msg.Value, &changed); err != nil {
		return nil, &msg, fmt.Errorf("failed to unmarshal rule.changed event: %w", err)
	}
	return &changed, &msg, nil
}

// CommitMessage commits the offset for msg.
func (c *Consumer) CommitMessage(ctx context.Context, msg *kafka.Message) error {
	return c.reader.CommitMessages(ctx, *msg)
}

// Close closes the Kafka reader.
func (c *Consumer) Close() error {
	slog.Info("Closing Kafka consumer", "topic", c.topic)
	if err := c.reader.Close(); err != nil {
		slog.Error("Error closing Kafka consumer", "error", err)
		return err
	}
	slog.Info("Kafka consumer closed successfully")
	return nil
}
