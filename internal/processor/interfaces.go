// Package processor runs the stream dispatch loop: it reads event batches, evaluates
// the rules of each event's tenant system, consults the silencer and hands emitted
// alerts to the trigger pool.
package processor

import (
	"context"

	"logx-detector/internal/alerts"
	"logx-detector/internal/consumer"
	"logx-detector/internal/dispatcher"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
	"logx-detector/internal/silencer"
)

// BatchReader reads event batches and commits their offsets.
type BatchReader interface {
	// ReadBatch blocks until at least one record is available.
	ReadBatch(ctx context.Context) ([]consumer.Record, error)

	// Commit commits the offsets of every record in the batch.
	Commit(ctx context.Context, batch []consumer.Record) error

	Close() error
}

// RuleSource resolves the enabled rules of a tenant system.
type RuleSource interface {
	Get(ctx context.Context, tenantID, systemID string) ([]rules.Rule, error)
}

// Matcher decides whether a rule matches an event.
type Matcher interface {
	AppliesTo(rule rules.Rule, ev *events.Event) bool
	Evaluate(ctx context.Context, rule rules.Rule, ev *events.Event) bool
}

// Silencer decides whether a matched rule may raise an alert.
type Silencer interface {
	Check(rule rules.Rule, tenantID, systemID, targetKey string) (silencer.Decision, int)
	RecordAlertTriggered(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, level string)
}

// Trigger persists and routes an alert.
type Trigger interface {
	Trigger(ctx context.Context, rule rules.Rule, ev *events.Event, suppressed int) (*alerts.Alert, error)
}

// Submitter runs trigger tasks off the stream path.
type Submitter interface {
	Submit(task dispatcher.Task) bool
}
