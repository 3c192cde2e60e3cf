package loggen

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"logx-detector/internal/events"
)

const (
	burstChunk          = 100
	progressLogInterval = 5 * time.Second
)

// Runner drives a Generator into a Publisher.
type Runner struct {
	gen *Generator
	pub Publisher
}

// NewRunner creates a Runner.
func NewRunner(gen *Generator, pub Publisher) *Runner {
	return &Runner{gen: gen, pub: pub}
}

// Burst publishes n events as fast as the publisher accepts them.
func (r *Runner) Burst(ctx context.Context, n int) (int, error) {
	slog.Info("Starting burst mode", "burst_size", n)
	start := time.Now()
	sent := 0
	for sent < n {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		size := min(burstChunk, n-sent)
		evs := make([]*events.Event, size)
		for i := range evs {
			evs[i] = r.gen.Generate()
		}
		if err := r.pub.Publish(ctx, evs...); err != nil {
			return sent, fmt.Errorf("publish burst after %d events: %w", sent, err)
		}
		sent += size
	}
	slog.Info("Burst completed",
		"total_sent", sent,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return sent, nil
}

// Continuous publishes events at rps until duration elapses or ctx is cancelled.
func (r *Runner) Continuous(ctx context.Context, rps float64, duration time.Duration) (int, error) {
	if rps <= 0 {
		return 0, fmt.Errorf("rps must be > 0")
	}
	slog.Info("Starting continuous mode", "target_rps", rps, "duration", duration)

	ticker := time.NewTicker(time.Duration(float64(time.Second) / rps))
	defer ticker.Stop()

	start := time.Now()
	deadline := start.Add(duration)
	lastLog := start
	sent := 0
	for {
		select {
		case <-ctx.Done():
			slog.Warn("Continuous mode cancelled", "sent", sent)
			return sent, ctx.Err()
		case now := <-ticker.C:
			if now.After(deadline) {
				slog.Info("Duration reached",
					"total_sent", sent,
					"actual_rps", fmt.Sprintf("%.1f", float64(sent)/time.Since(start).Seconds()),
				)
				return sent, nil
			}
			if err := r.pub.Publish(ctx, r.gen.Generate()); err != nil {
				return sent, fmt.Errorf("publish event %d: %w", sent+1, err)
			}
			sent++
			if now.Sub(lastLog) >= progressLogInterval {
				slog.Info("Progress", "sent", sent, "elapsed", time.Since(start).Round(time.Second))
				lastLog = now
			}
		}
	}
}

// Streak publishes n consecutive failures for op on a single system, enough to trip a
// continuous-request rule whose threshold is at most n.
func (r *Runner) Streak(ctx context.Context, op string, n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	failures := make([]*events.Event, n)
	for i := range failures {
		failures[i] = r.gen.GenerateFailure(op)
		failures[i].SystemID = failures[0].SystemID
	}
	slog.Info("Publishing failure streak",
		"operation", op,
		"system_id", failures[0].SystemID,
		"count", n,
	)
	if err := r.pub.Publish(ctx, failures...); err != nil {
		return 0, fmt.Errorf("publish failure streak: %w", err)
	}
	return n, nil
}
