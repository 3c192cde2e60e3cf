// Package config provides configuration parsing and validation for the detector.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"logx-detector/internal/rules"
)

// State backends.
const (
	StateMemory = "memory"
	StateRedis  = "redis"
)

// Config holds all configuration parameters for the detector.
type Config struct {
	KafkaBrokers       string
	EventsTopic        string
	ConsumerGroupID    string
	RuleChangedTopic   string
	RuleChangedGroupID string
	NotifyTopic        string
	WebhookURL         string
	PostgresDSN        string
	RedisAddr          string
	StateBackend       string
	WindowBuckets      time.Duration

	Workers          int
	BatchSize        int
	BatchWait        time.Duration
	TriggerWorkers   int
	TriggerQueueSize int
	ImmediateLevels  string
	BatchCapacity    int

	RuleRefreshInterval time.Duration
	CleanupInterval     time.Duration
	FlushInterval       time.Duration
	StateRetention      time.Duration
	StateShards         int

	HTTPPort string
	LogLevel string
}

// Validate checks that all required configuration fields are set and have valid values.
// Returns an error if validation fails, nil otherwise.
func (c *Config) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.EventsTopic == "" {
		return fmt.Errorf("events-topic cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.RuleChangedTopic != "" && c.RuleChangedGroupID == "" {
		return fmt.Errorf("rule-changed-group-id cannot be empty when rule-changed-topic is set")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.NotifyTopic == "" && c.WebhookURL == "" {
		return fmt.Errorf("notify-topic or webhook-url must be set")
	}
	switch c.StateBackend {
	case StateMemory:
	case StateRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("redis-addr cannot be empty with the redis state backend")
		}
	default:
		return fmt.Errorf("state-backend must be %q or %q, got %q", StateMemory, StateRedis, c.StateBackend)
	}
	if c.WindowBuckets < 0 {
		return fmt.Errorf("window-buckets must be >= 0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be > 0")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch-size must be > 0")
	}
	if c.BatchWait <= 0 {
		return fmt.Errorf("batch-wait must be > 0")
	}
	if c.TriggerWorkers <= 0 {
		return fmt.Errorf("trigger-workers must be > 0")
	}
	if c.TriggerQueueSize <= 0 {
		return fmt.Errorf("trigger-queue-size must be > 0")
	}
	if c.BatchCapacity <= 0 {
		return fmt.Errorf("batch-capacity must be > 0")
	}
	if _, err := ParseLevels(c.ImmediateLevels); err != nil {
		return fmt.Errorf("invalid immediate-levels: %w", err)
	}
	if c.RuleRefreshInterval < time.Second {
		return fmt.Errorf("rule-refresh-interval must be >= 1s")
	}
	if c.CleanupInterval < time.Second {
		return fmt.Errorf("cleanup-interval must be >= 1s")
	}
	if c.FlushInterval < time.Second {
		return fmt.Errorf("flush-interval must be >= 1s")
	}
	if c.StateRetention <= 0 {
		return fmt.Errorf("state-retention must be > 0")
	}
	if c.StateShards <= 0 {
		return fmt.Errorf("state-shards must be > 0")
	}
	if c.HTTPPort == "" {
		return fmt.Errorf("http-port cannot be empty")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevels parses a comma-separated list of severity levels. An empty list is
// allowed and means nothing is delivered immediately.
func ParseLevels(s string) ([]string, error) {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		level := rules.NormalizeLevel(part)
		switch level {
		case rules.LevelCritical, rules.LevelWarning, rules.LevelInfo:
			out = append(out, level)
		default:
			return nil, fmt.Errorf("unknown level %q", part)
		}
	}
	return out, nil
}

// ParseLogLevel maps DEBUG, INFO, WARN and ERROR to slog levels, ignoring case.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug, nil
	case "", "INFO":
		return slog.LevelInfo, nil
	case "WARN", "WARNING":
		return slog.LevelWarn, nil
	case "ERROR":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log-level must be DEBUG, INFO, WARN or ERROR, got %q", s)
}

// GetEnvOrDefault returns the environment variable value or a default if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MaskDSN masks the password of a URL-style DSN for logging. DSNs that do not parse
// as URLs are masked entirely.
func MaskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
