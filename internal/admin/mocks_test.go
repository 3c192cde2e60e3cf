package admin

import (
	"context"
	"fmt"
	"time"

	"logx-detector/internal/alerts"
	"logx-detector/internal/dispatcher"
	"logx-detector/internal/engine"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
)

// mockDetector is a test double for Detector that records calls.
type mockDetector struct {
	refreshErr   error
	clearedCache []string
	clearedRules []int64
	knownRules   map[int64]bool
	evaluation   engine.Evaluation
	evaluated    *events.Event
	silence      engine.SilenceStatus
	silenceArgs  []any
	resetOK      bool
	escalate     bool
	handled      map[string]string
	knownAlerts  map[string]bool
	markedIDs    []string
	pending      []*alerts.Alert
	recentSince  time.Time
	recentLimit  int
	countRange   [2]time.Time
	stats        engine.Stats
}

func newMockDetector() *mockDetector {
	return &mockDetector{
		knownRules:  map[int64]bool{1: true},
		knownAlerts: map[string]bool{"a-1": true},
		handled:     map[string]string{},
	}
}

func (m *mockDetector) RefreshRules(ctx context.Context) error { return m.refreshErr }

func (m *mockDetector) ClearCache(tenantID, systemID string) {
	m.clearedCache = append(m.clearedCache, tenantID+"/"+systemID)
}

func (m *mockDetector) ClearRuleState(ctx context.Context, ruleID int64) error {
	if !m.knownRules[ruleID] {
		return fmt.Errorf("%w: %d", engine.ErrRuleNotFound, ruleID)
	}
	m.clearedRules = append(m.clearedRules, ruleID)
	return nil
}

func (m *mockDetector) Evaluate(ctx context.Context, rule rules.Rule, ev *events.Event) engine.Evaluation {
	m.evaluated = ev
	return m.evaluation
}

func (m *mockDetector) SilenceStatus(ruleID int64, tenantID, systemID string, scope rules.Scope, silenceSeconds int, targetKey string) engine.SilenceStatus {
	m.silenceArgs = []any{ruleID, tenantID, systemID, scope, silenceSeconds, targetKey}
	return m.silence
}

func (m *mockDetector) ResetSilence(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) bool {
	return m.resetOK
}

func (m *mockDetector) ShouldEscalate(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, newLevel string) bool {
	return m.escalate
}

func (m *mockDetector) HandleAlert(ctx context.Context, alertID, user, remark string) error {
	if !m.knownAlerts[alertID] {
		return fmt.Errorf("%w: %s", dispatcher.ErrAlertNotFound, alertID)
	}
	if _, done := m.handled[alertID]; done {
		return fmt.Errorf("%w: %s", dispatcher.ErrAlreadyResolved, alertID)
	}
	m.handled[alertID] = user
	return nil
}

func (m *mockDetector) MarkAsRead(ctx context.Context, ids []string) (int, error) {
	m.markedIDs = ids
	return len(ids), nil
}

func (m *mockDetector) PendingAlerts(ctx context.Context, tenantID string) ([]*alerts.Alert, error) {
	return m.pending, nil
}

func (m *mockDetector) RecentAlerts(ctx context.Context, tenantID, systemID string, since time.Time, limit int) ([]*alerts.Alert, error) {
	m.recentSince = since
	m.recentLimit = limit
	return m.pending, nil
}

func (m *mockDetector) CountAlerts(ctx context.Context, tenantID string, since, until time.Time) (int64, error) {
	m.countRange = [2]time.Time{since, until}
	return 3, nil
}

func (m *mockDetector) Statistics() engine.Stats { return m.stats }

// mockMetrics counts custom metrics.
type mockMetrics struct {
	custom map[string]int
}

func (m *mockMetrics) IncrementCustom(name string) { m.custom[name]++ }
