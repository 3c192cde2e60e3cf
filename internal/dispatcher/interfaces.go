package dispatcher

import (
	"context"

	"logx-detector/internal/alerts"
)

// AlertStore persists alerts.
type AlertStore interface {
	// InsertAlert stores a new alert.
	InsertAlert(ctx context.Context, a *alerts.Alert) error

	// SelectAlertByID returns the alert or an error wrapping database.ErrNotFound.
	SelectAlertByID(ctx context.Context, id string) (*alerts.Alert, error)

	// UpdateAlertByID overwrites the mutable fields of an alert.
	UpdateAlertByID(ctx context.Context, a *alerts.Alert) error

	// MarkAlertsProcessing moves the PENDING alerts among ids to PROCESSING and
	// returns how many changed.
	MarkAlertsProcessing(ctx context.Context, ids []string) (int, error)
}

// ImmediateNotifier delivers a single alert right away.
type ImmediateNotifier interface {
	NotifyAlert(ctx context.Context, a *alerts.Alert) error
}

// Enqueuer accepts alerts for batched delivery. Enqueue must not block.
type Enqueuer interface {
	Enqueue(a *alerts.Alert) bool
}

// MetricsRecorder defines the metrics operations needed by the dispatcher.
type MetricsRecorder interface {
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

// Compile-time check that NoOpMetrics implements MetricsRecorder.
var _ MetricsRecorder = NoOpMetrics{}

// IncrementCustom does nothing.
func (NoOpMetrics) IncrementCustom(string) {}
