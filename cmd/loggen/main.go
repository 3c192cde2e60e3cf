// Package main is a load generator that publishes synthetic log events to the
// detector's input topic.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"logx-detector/internal/config"
	"logx-detector/internal/loggen"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	var (
		brokers   string
		topic     string
		encoding  string
		systems   string
		rps       float64
		duration  time.Duration
		burst     int
		streakOp  string
		streakLen int
		mockMode  bool
	)
	cfg := loggen.Config{}
	flag.StringVar(&brokers, "kafka-brokers", config.GetEnvOrDefault("KAFKA_BROKERS", "localhost:9092"), "Kafka broker addresses (comma-separated)")
	flag.StringVar(&topic, "topic", config.GetEnvOrDefault("EVENTS_TOPIC", "logs.events"), "Kafka topic for log events")
	flag.StringVar(&encoding, "encoding", loggen.EncodingJSON, "Payload encoding: json or proto")
	flag.StringVar(&cfg.TenantID, "tenant", "tenant-1", "Tenant id stamped on every event")
	flag.StringVar(&systems, "systems", "system-1,system-2", "Comma-separated system ids")
	flag.Int64Var(&cfg.Seed, "seed", 0, "Random seed for deterministic generation (0 = random)")
	flag.StringVar(&cfg.LevelDist, "level-dist", loggen.DefaultLevelDist, "Level distribution (format: LEVEL:percent,...)")
	flag.StringVar(&cfg.OpDist, "op-dist", loggen.DefaultOpDist, "Operation distribution (format: /path:percent,...)")
	flag.Float64Var(&cfg.FailureRate, "failure-rate", 0.05, "Probability that a request fails with a 5xx status")
	flag.IntVar(&cfg.Users, "users", 50, "Number of distinct user ids")
	flag.Float64Var(&rps, "rps", 10, "Events per second in continuous mode")
	flag.DurationVar(&duration, "duration", 60*time.Second, "Duration of continuous mode")
	flag.IntVar(&burst, "burst", 0, "Burst mode: send N events immediately, then stop (0 = continuous)")
	flag.StringVar(&streakOp, "streak-op", "", "Send a failure streak for this operation before the main run")
	flag.IntVar(&streakLen, "streak-len", 5, "Number of consecutive failures in the streak")
	flag.BoolVar(&mockMode, "mock", false, "Use mock publisher (no Kafka required)")
	flag.Parse()

	for _, s := range strings.Split(systems, ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.SystemIDs = append(cfg.SystemIDs, s)
		}
	}

	slog.Info("Starting loggen",
		"kafka_brokers", brokers,
		"topic", topic,
		"encoding", encoding,
		"tenant_id", cfg.TenantID,
		"systems", cfg.SystemIDs,
		"rps", rps,
		"duration", duration,
		"burst_size", burst,
		"seed", cfg.Seed,
	)

	gen, err := loggen.NewGenerator(cfg)
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("Received shutdown signal, shutting down gracefully...")
		cancel()
	}()

	var pub loggen.Publisher
	if mockMode {
		slog.Info("Using mock mode - events will be logged but not sent to Kafka")
		pub = &loggen.MockPublisher{}
	} else {
		kp, err := loggen.NewKafkaPublisher(brokers, topic, encoding)
		if err != nil {
			slog.Error("Failed to create Kafka producer", "error", err)
			slog.Info("Tip: Start Kafka with 'docker compose up -d' or use --mock flag to test without Kafka")
			os.Exit(1)
		}
		pub = kp
	}
	defer pub.Close()

	runner := loggen.NewRunner(gen, pub)

	if streakOp != "" {
		if _, err := runner.Streak(ctx, streakOp, streakLen); err != nil {
			slog.Error("Failure streak failed", "error", err)
			os.Exit(1)
		}
	}

	if burst > 0 {
		_, err = runner.Burst(ctx, burst)
	} else {
		_, err = runner.Continuous(ctx, rps, duration)
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("Generation failed", "error", err)
		os.Exit(1)
	}

	slog.Info("loggen completed")
}
