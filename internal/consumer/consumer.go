// Package consumer reads log events from Kafka in batches with manual offset commits.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"logx-detector/internal/events"
	"logx-detector/internal/kafkautil"
)

// Batch defaults.
const (
	DefaultBatchSize = 500
	DefaultBatchWait = 200 * time.Millisecond
)

// Record is one fetched message. Err is set when the payload could not be decoded.
type Record struct {
	Event   *events.Event
	Message kafka.Message
	Err     error
}

// fetcher is the subset of *kafka.Reader used by Consumer.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer wraps a Kafka reader for the log events topic.
type Consumer struct {
	reader    fetcher
	topic     string
	batchSize int
	batchWait time.Duration
}

// Option is a functional option for configuring a Consumer.
type Option func(*Consumer)

// WithBatch sets the maximum batch size and how long to wait for a batch to fill
// once its first message has arrived.
func WithBatch(size int, wait time.Duration) Option {
	return func(c *Consumer) {
		if size > 0 {
			c.batchSize = size
		}
		if wait > 0 {
			c.batchWait = wait
		}
	}
}

// NewConsumer creates a consumer-group reader for topic.
func NewConsumer(brokers, topic, groupID string, opts ...Option) (*Consumer, error) {
	if err := kafkautil.ValidateConsumerParams(brokers, topic, groupID); err != nil {
		return nil, err
	}
	brokerList := kafkautil.ParseBrokers(brokers)

	slog.Info("Initializing Kafka consumer",
		"brokers", brokerList,
		"topic", topic,
		"group_id", groupID,
	)

	cfg := kafkautil.NewReaderConfig(brokerList, topic, groupID)
	c := newConsumer(kafka.NewReader(cfg), topic, opts...)
	kafkautil.LogReaderConfig(cfg)
	return c, nil
}

func newConsumer(r fetcher, topic string, opts ...Option) *Consumer {
	c := &Consumer{
		reader:    r,
		topic:     topic,
		batchSize: DefaultBatchSize,
		batchWait: DefaultBatchWait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ReadBatch blocks for the first message, then collects more until the batch is full
// or the batch wait elapses. Decode failures are returned as records with Err set so
// their offsets are still committed.
func (c *Consumer) ReadBatch(ctx context.Context) ([]Record, error) {
	first, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read message from Kafka: %w", err)
	}
	batch := []Record{decode(first)}

	fillCtx, cancel := context.WithTimeout(ctx, c.batchWait)
	defer cancel()
	for len(batch) < c.batchSize {
		msg, err := c.reader.FetchMessage(fillCtx)
		if err != nil {
			if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
				slog.Warn("Kafka fetch failed while filling batch", "topic", c.topic, "error", err)
			}
			break
		}
		batch = append(batch, decode(msg))
	}
	return batch, nil
}

func decode(msg kafka.Message) Record {
	ev, err := events.Decode(msg.Value, contentType(msg))
	if err != nil {
		err = fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
	}
	return Record{Event: ev, Message: msg, Err: err}
}

func contentType(msg kafka.Message) string {
	for _, h := range msg.Headers {
		if h.Key == events.ContentTypeHeader {
			return string(h.Value)
		}
	}
	return events.ContentTypeJSON
}

// Commit commits the offsets of a processed batch.
func (c *Consumer) Commit(ctx context.Context, batch []Record) error {
	if len(batch) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, len(batch))
	for i, r := range batch {
		msgs[i] = r.Message
	}
	if err := c.reader.CommitMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to commit %d offsets: %w", len(msgs), err)
	}
	return nil
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
