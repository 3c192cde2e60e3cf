// Package notifier delivers alerts and batched summaries to downstream channels.
// It carries envelopes only; channel-specific rendering happens downstream.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"logx-detector/internal/alerts"
)

// Envelope types.
const (
	TypeAlert   = "alert"
	TypeSummary = "summary"
)

// SchemaVersion of the envelope payload.
const SchemaVersion = 1

// Notifier delivers alerts.
type Notifier interface {
	NotifyAlert(ctx context.Context, a *alerts.Alert) error
	NotifySummary(ctx context.Context, s alerts.Summary) error
}

// Envelope is the JSON payload sent by every transport.
type Envelope struct {
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	TenantID      string          `json:"tenant_id"`
	Alert         *alerts.Alert   `json:"alert,omitempty"`
	Summary       *alerts.Summary `json:"summary,omitempty"`
}

func alertEnvelope(a *alerts.Alert) Envelope {
	return Envelope{Type: TypeAlert, SchemaVersion: SchemaVersion, TenantID: a.TenantID, Alert: a}
}

func summaryEnvelope(s alerts.Summary) Envelope {
	return Envelope{Type: TypeSummary, SchemaVersion: SchemaVersion, TenantID: s.TenantID, Summary: &s}
}

// NoOp discards everything. Used when no transport is configured.
type NoOp struct{}

var _ Notifier = NoOp{}

// NotifyAlert logs the alert at debug level.
func (NoOp) NotifyAlert(_ context.Context, a *alerts.Alert) error {
	slog.Debug("No notifier configured, discarding alert", "alert_id", a.ID)
	return nil
}

// NotifySummary logs the summary at debug level.
func (NoOp) NotifySummary(_ context.Context, s alerts.Summary) error {
	slog.Debug("No notifier configured, discarding summary", "tenant_id", s.TenantID, "alerts", s.Total)
	return nil
}

// Multi fans out to several notifiers. A delivery fails only when every target fails.
type Multi []Notifier

var _ Notifier = Multi(nil)

// NotifyAlert sends a to every target.
func (m Multi) NotifyAlert(ctx context.Context, a *alerts.Alert) error {
	return m.each(func(n Notifier) error { return n.NotifyAlert(ctx, a) })
}

// NotifySummary sends s to every target.
func (m Multi) NotifySummary(ctx context.Context, s alerts.Summary) error {
	return m.each(func(n Notifier) error { return n.NotifySummary(ctx, s) })
}

func (m Multi) each(send func(Notifier) error) error {
	if len(m) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m {
		if err := send(n); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(m) {
		return fmt.Errorf("all %d notifiers failed: %w", len(m), errors.Join(errs...))
	}
	for _, err := range errs {
		slog.Warn("Notifier target failed", "error", err)
	}
	return nil
}
