// Package admin serves the detector's operator HTTP API.
package admin

import (
	"context"
	"time"

	"logx-detector/internal/alerts"
	"logx-detector/internal/engine"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
)

// Detector is the set of engine operations exposed over HTTP.
type Detector interface {
	RefreshRules(ctx context.Context) error
	ClearCache(tenantID, systemID string)
	ClearRuleState(ctx context.Context, ruleID int64) error
	Evaluate(ctx context.Context, rule rules.Rule, ev *events.Event) engine.Evaluation

	SilenceStatus(ruleID int64, tenantID, systemID string, scope rules.Scope, silenceSeconds int, targetKey string) engine.SilenceStatus
	ResetSilence(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) bool
	ShouldEscalate(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, newLevel string) bool

	HandleAlert(ctx context.Context, alertID, user, remark string) error
	MarkAsRead(ctx context.Context, ids []string) (int, error)
	PendingAlerts(ctx context.Context, tenantID string) ([]*alerts.Alert, error)
	RecentAlerts(ctx context.Context, tenantID, systemID string, since time.Time, limit int) ([]*alerts.Alert, error)
	CountAlerts(ctx context.Context, tenantID string, since, until time.Time) (int64, error)

	Statistics() engine.Stats
}

// Compile-time check that the engine satisfies Detector.
var _ Detector = (*engine.Engine)(nil)

// MetricsRecorder defines the metrics operations needed by the HTTP middleware.
type MetricsRecorder interface {
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

var _ MetricsRecorder = NoOpMetrics{}

// IncrementCustom does nothing.
func (NoOpMetrics) IncrementCustom(string) {}
