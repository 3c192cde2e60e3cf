// Package batcher queues non-immediate alerts and delivers them as one summary per
// tenant on each flush.
package batcher

import (
	"context"
	"log/slog"
	"time"

	"logx-detector/internal/alerts"
)

// Defaults for queue capacity, flush size and per-summary send timeout.
const (
	DefaultCapacity    = 10000
	DefaultFlushSize   = 1000
	DefaultSendTimeout = 10 * time.Second
)

// SummaryNotifier delivers a batched summary.
type SummaryNotifier interface {
	NotifySummary(ctx context.Context, s alerts.Summary) error
}

// MetricsRecorder defines the metrics operations needed by the batcher.
type MetricsRecorder interface {
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

// IncrementCustom does nothing.
func (NoOpMetrics) IncrementCustom(string) {}

// Batcher is a bounded, non-blocking alert queue.
type Batcher struct {
	queue       chan *alerts.Alert
	notifier    SummaryNotifier
	flushSize   int
	sendTimeout time.Duration
	metrics     MetricsRecorder
}

// Option is a functional option for configuring a Batcher.
type Option func(*Batcher)

// WithCapacity sets the queue capacity.
func WithCapacity(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.queue = make(chan *alerts.Alert, n)
		}
	}
}

// WithFlushSize sets the maximum number of alerts drained per flush.
func WithFlushSize(n int) Option {
	return func(b *Batcher) {
		if n > 0 {
			b.flushSize = n
		}
	}
}

// WithSendTimeout bounds each summary delivery.
func WithSendTimeout(d time.Duration) Option {
	return func(b *Batcher) {
		if d > 0 {
			b.sendTimeout = d
		}
	}
}

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(b *Batcher) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New creates a Batcher delivering through notifier.
func New(notifier SummaryNotifier, opts ...Option) *Batcher {
	b := &Batcher{
		queue:       make(chan *alerts.Alert, DefaultCapacity),
		notifier:    notifier,
		flushSize:   DefaultFlushSize,
		sendTimeout: DefaultSendTimeout,
		metrics:     NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue adds an alert without blocking. When the queue is full the alert is dropped
// and false is returned.
func (b *Batcher) Enqueue(a *alerts.Alert) bool {
	select {
	case b.queue <- a:
		return true
	default:
		b.metrics.IncrementCustom("notifications_dropped")
		slog.Warn("Notification queue full, dropping alert",
			"alert_id", a.ID,
			"tenant_id", a.TenantID,
			"capacity", cap(b.queue),
		)
		return false
	}
}

// Len returns the number of queued alerts.
func (b *Batcher) Len() int {
	return len(b.queue)
}

// Flush drains up to the flush size, sends one summary per tenant and returns the
// number of alerts delivered. Alerts of a tenant whose summary fails are put back
// for the next flush, space permitting.
func (b *Batcher) Flush(ctx context.Context) int {
	batch := b.drain()
	if len(batch) == 0 {
		return 0
	}

	delivered := 0
	for _, summary := range alerts.Summarize(batch) {
		sctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
		err := b.notifier.NotifySummary(sctx, summary)
		cancel()
		if err != nil {
			b.metrics.IncrementCustom("summaries_failed")
			requeued := b.requeue(summary.Alerts)
			slog.Error("Failed to send notification summary",
				"tenant_id", summary.TenantID,
				"alerts", summary.Total,
				"requeued", requeued,
				"error", err,
			)
			continue
		}
		delivered += summary.Total
		b.metrics.IncrementCustom("summaries_sent")
		slog.Info("Sent notification summary",
			"tenant_id", summary.TenantID,
			"alerts", summary.Total,
			"suppressed", summary.Suppressed,
		)
	}
	return delivered
}

func (b *Batcher) drain() []*alerts.Alert {
	var batch []*alerts.Alert
	for len(batch) < b.flushSize {
		select {
		case a := <-b.queue:
			batch = append(batch, a)
		default:
			return batch
		}
	}
	return batch
}

func (b *Batcher) requeue(failed []*alerts.Alert) int {
	n := 0
	for _, a := range failed {
		select {
		case b.queue <- a:
			n++
		default:
			b.metrics.IncrementCustom("notifications_dropped")
		}
	}
	return n
}
