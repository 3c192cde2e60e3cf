// Package kafkautil holds the Kafka reader and writer settings shared by the detector's
// consumers and producers.
package kafkautil

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// MaxPollWait is the longest a fetch waits for data before returning.
	MaxPollWait = 500 * time.Millisecond
	// WriteTimeout bounds a single produce request.
	WriteTimeout = 10 * time.Second
	// MaxBytes is the fetch size limit.
	MaxBytes = 10e6
)

// ParseBrokers splits a comma-separated broker list and trims whitespace.
func ParseBrokers(brokers string) []string {
	if brokers == "" {
		return nil
	}
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

// ValidateConsumerParams validates common consumer parameters.
func ValidateConsumerParams(brokers, topic, groupID string) error {
	if err := ValidateProducerParams(brokers, topic); err != nil {
		return err
	}
	if groupID == "" {
		return fmt.Errorf("groupID cannot be empty")
	}
	return nil
}

// ValidateProducerParams validates common producer parameters.
func ValidateProducerParams(brokers, topic string) error {
	if len(ParseBrokers(brokers)) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	if topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	return nil
}

// NewReaderConfig returns a consumer-group reader configuration with explicit,
// synchronous offset commits: offsets only move when the caller commits them.
func NewReaderConfig(brokers []string, topic, groupID string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       MaxBytes,
		MaxWait:        MaxPollWait,
		CommitInterval: 0,
		StartOffset:    kafka.FirstOffset,
	}
}

// LogReaderConfig logs the effective reader settings.
func LogReaderConfig(cfg kafka.ReaderConfig) {
	slog.Info("Kafka consumer configured",
		"topic", cfg.Topic,
		"group_id", cfg.GroupID,
		"min_bytes", cfg.MinBytes,
		"max_bytes", cfg.MaxBytes,
		"max_wait", cfg.MaxWait.String(),
		"commit", "manual",
	)
}

// NewWriter returns a synchronous writer that hashes message keys to partitions and
// waits for the leader's acknowledgement.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		WriteTimeout: WriteTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        false,
	}
}
