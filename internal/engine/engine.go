// Package engine is the operator-facing surface of the detector. It ties the rule
// cache, evaluator, tracker, silencer, dispatcher and batcher together for the admin
// API, the rule change consumer and the scheduled maintenance jobs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"logx-detector/internal/alerts"
	"logx-detector/internal/batcher"
	"logx-detector/internal/database"
	"logx-detector/internal/dispatcher"
	"logx-detector/internal/evaluator"
	"logx-detector/internal/events"
	"logx-detector/internal/rulecache"
	"logx-detector/internal/rules"
	"logx-detector/internal/silencer"
	"logx-detector/internal/tracker"
)

// ErrRuleNotFound is returned when a rule id is neither cached nor stored and holds
// no detection state.
var ErrRuleNotFound = errors.New("rule not found")

// RuleStore looks up a single rule.
type RuleStore interface {
	SelectByID(ctx context.Context, id int64) (rules.Rule, error)
}

// AlertQuerier reads persisted alerts.
type AlertQuerier interface {
	SelectPendingAlerts(ctx context.Context, tenantID string) ([]*alerts.Alert, error)
	SelectRecentAlerts(ctx context.Context, tenantID, systemID string, since time.Time, limit int) ([]*alerts.Alert, error)
	CountAlerts(ctx context.Context, tenantID string, since, until time.Time) (int64, error)
}

// Deps are the components the engine exposes. Pool may be nil.
type Deps struct {
	Cache      *rulecache.Cache
	Tracker    tracker.Tracker
	Silencer   *silencer.Silencer
	Dispatcher *dispatcher.Dispatcher
	Batcher    *batcher.Batcher
	Pool       *dispatcher.Pool
	Rules      RuleStore
	Alerts     AlertQuerier
}

// Engine exposes the detector's administrative operations.
type Engine struct {
	Deps
}

// New creates an Engine.
func New(d Deps) *Engine {
	return &Engine{Deps: d}
}

// Evaluation is the result of a dry-run evaluation.
type Evaluation struct {
	Applies bool   `json:"applies"`
	Matched bool   `json:"matched"`
	Content string `json:"content,omitempty"`
}

// Evaluate runs rule against ev on a scratch tracker, leaving live state untouched.
// Stateful kinds therefore see the event as the first of its key.
func (e *Engine) Evaluate(ctx context.Context, rule rules.Rule, ev *events.Event) Evaluation {
	scratch := evaluator.New(tracker.NewMemory())
	res := Evaluation{Applies: scratch.AppliesTo(rule, ev)}
	if !res.Applies {
		return res
	}
	res.Matched = scratch.Evaluate(ctx, rule, ev)
	if res.Matched {
		res.Content = evaluator.Explain(rule, ev)
	}
	return res
}

// TriggerAlert raises an alert for rule and ev outside the stream, folding in the
// pending suppressed count, and opens a new silence window.
func (e *Engine) TriggerAlert(ctx context.Context, rule rules.Rule, ev *events.Event) (*alerts.Alert, error) {
	target := evaluator.SilenceTarget(rule, ev)
	suppressed := 0
	if agg, ok := e.Silencer.GetAggregation(rule.ID, ev.TenantID, ev.SystemID, rule.SilenceScope, target); ok {
		suppressed = agg.Count
	}
	alert, err := e.Dispatcher.Trigger(ctx, rule, ev, suppressed)
	if err != nil {
		return nil, err
	}
	e.Silencer.RecordAlertTriggered(rule.ID, ev.TenantID, ev.SystemID, rule.SilenceScope, target, rule.Level)
	return alert, nil
}

// SilenceStatus describes one silence key.
type SilenceStatus struct {
	Silenced    bool                   `json:"silenced"`
	Silence     *silencer.SilenceState `json:"silence,omitempty"`
	Aggregation *silencer.Aggregation  `json:"aggregation,omitempty"`
}

// SilenceStatus reports the silence and pending aggregation of a key without
// counting a suppression.
func (e *Engine) SilenceStatus(ruleID int64, tenantID, systemID string, scope rules.Scope, silenceSeconds int, targetKey string) SilenceStatus {
	var st SilenceStatus
	if s, ok := e.Silencer.GetSilence(ruleID, tenantID, systemID, scope, targetKey); ok {
		st.Silence = &s
		st.Silenced = e.Silencer.Silenced(ruleID, tenantID, systemID, scope, silenceSeconds, targetKey)
	}
	if a, ok := e.Silencer.GetAggregation(ruleID, tenantID, systemID, scope, targetKey); ok {
		st.Aggregation = &a
	}
	return st
}

// IsInSilencePeriod checks the key and counts a suppression when silenced.
func (e *Engine) IsInSilencePeriod(ruleID int64, tenantID, systemID string, scope rules.Scope, silenceSeconds int, targetKey string) bool {
	return e.Silencer.IsInSilencePeriod(ruleID, tenantID, systemID, scope, silenceSeconds, targetKey)
}

// ShouldEscalate reports whether newLevel would escalate the key's silence.
func (e *Engine) ShouldEscalate(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, newLevel string) bool {
	return e.Silencer.ShouldEscalate(ruleID, tenantID, systemID, scope, targetKey, newLevel)
}

// RecordAlertTriggered opens a silence window for the key.
func (e *Engine) RecordAlertTriggered(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, level string) {
	e.Silencer.RecordAlertTriggered(ruleID, tenantID, systemID, scope, targetKey, level)
}

// GetAggregation returns the key's pending suppressed-trigger aggregation.
func (e *Engine) GetAggregation(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) (silencer.Aggregation, bool) {
	return e.Silencer.GetAggregation(ruleID, tenantID, systemID, scope, targetKey)
}

// ResetSilence removes the key's silence and aggregation.
func (e *Engine) ResetSilence(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) bool {
	return e.Silencer.ResetSilence(ruleID, tenantID, systemID, scope, targetKey)
}

// RefreshRules reloads every enabled rule.
func (e *Engine) RefreshRules(ctx context.Context) error {
	return e.Cache.Refresh(ctx)
}

// ClearCache drops the cached rules of one system, or of every system when both
// tenantID and systemID are empty.
func (e *Engine) ClearCache(tenantID, systemID string) {
	if tenantID == "" && systemID == "" {
		e.Cache.Clear()
		return
	}
	e.Cache.Invalidate(tenantID, systemID)
}

// ClearRuleState removes the tracker and silence state of ruleID. It returns
// ErrRuleNotFound when the rule is unknown and had no state.
func (e *Engine) ClearRuleState(ctx context.Context, ruleID int64) error {
	if ruleID <= 0 {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, ruleID)
	}

	id := rules.Rule{ID: ruleID}.IDString()
	tracked := e.Tracker.ClearRule(ctx, id)
	silences := e.Silencer.ResetRuleSilence(ruleID)

	slog.Info("Cleared rule state",
		"rule_id", ruleID,
		"tracker_keys", tracked,
		"silences", silences,
	)
	if tracked > 0 || silences > 0 {
		return nil
	}

	if _, ok := e.Cache.Lookup(ruleID); ok {
		return nil
	}
	if e.Rules == nil {
		return fmt.Errorf("%w: %d", ErrRuleNotFound, ruleID)
	}
	if _, err := e.Rules.SelectByID(ctx, ruleID); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %d", ErrRuleNotFound, ruleID)
		}
		return fmt.Errorf("look up rule %d: %w", ruleID, err)
	}
	return nil
}

// HandleAlert resolves an alert.
func (e *Engine) HandleAlert(ctx context.Context, alertID, user, remark string) error {
	return e.Dispatcher.Handle(ctx, alertID, user, remark)
}

// MarkAsRead moves PENDING alerts to PROCESSING.
func (e *Engine) MarkAsRead(ctx context.Context, ids []string) (int, error) {
	return e.Dispatcher.MarkAsRead(ctx, ids)
}

// PendingAlerts lists a tenant's PENDING alerts.
func (e *Engine) PendingAlerts(ctx context.Context, tenantID string) ([]*alerts.Alert, error) {
	return e.Alerts.SelectPendingAlerts(ctx, tenantID)
}

// RecentAlerts lists a tenant's alerts triggered since the given time, newest first.
func (e *Engine) RecentAlerts(ctx context.Context, tenantID, systemID string, since time.Time, limit int) ([]*alerts.Alert, error) {
	return e.Alerts.SelectRecentAlerts(ctx, tenantID, systemID, since, limit)
}

// CountAlerts counts a tenant's alerts triggered in [since, until).
func (e *Engine) CountAlerts(ctx context.Context, tenantID string, since, until time.Time) (int64, error) {
	return e.Alerts.CountAlerts(ctx, tenantID, since, until)
}

// Cleanup prunes idle tracker keys and expired silences.
func (e *Engine) Cleanup(ctx context.Context) {
	keys := e.Tracker.CleanupExpired(ctx)
	silences := e.Silencer.CleanupExpiredSilences()
	slog.Info("Detection state cleanup completed",
		"tracker_keys_removed", keys,
		"silences_removed", silences,
	)
}

// FlushNotifications sends the batched notification summaries.
func (e *Engine) FlushNotifications(ctx context.Context) int {
	return e.Batcher.Flush(ctx)
}

// Stats is a diagnostic snapshot of the detector.
type Stats struct {
	silencer.Stats
	LifetimeSuppressed   int64 `json:"lifetime_suppressed"`
	TrackedKeys          int   `json:"tracked_keys"`
	CachedSystems        int   `json:"cached_systems"`
	CachedRules          int   `json:"cached_rules"`
	PendingNotifications int   `json:"pending_notifications"`
	QueuedTriggers       int   `json:"queued_triggers"`
}

// Statistics returns a diagnostic snapshot. TrackedKeys is -1 for trackers that
// cannot count their keys.
func (e *Engine) Statistics() Stats {
	st := Stats{
		Stats:                e.Silencer.Statistics(),
		LifetimeSuppressed:   e.Silencer.LifetimeSuppressed(),
		TrackedKeys:          -1,
		CachedSystems:        e.Cache.Len(),
		CachedRules:          e.Cache.RuleCount(),
		PendingNotifications: e.Batcher.Len(),
	}
	if l, ok := e.Tracker.(interface{ Len() int }); ok {
		st.TrackedKeys = l.Len()
	}
	if e.Pool != nil {
		st.QueuedTriggers = e.Pool.Len()
	}
	return st
}
