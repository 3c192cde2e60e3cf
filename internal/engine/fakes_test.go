package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"logx-detector/internal/alerts"
	"logx-detector/internal/database"
	"logx-detector/internal/rules"
)

// FakeRuleStore serves rules from memory. It implements rulecache.RuleStore and RuleStore.
type FakeRuleStore struct {
	Rules []rules.Rule
	Err   error
}

func (f *FakeRuleStore) SelectAllEnabledRules(ctx context.Context) ([]rules.Rule, error) {
	return f.Rules, f.Err
}

func (f *FakeRuleStore) SelectEnabledRulesBySystem(ctx context.Context, tenantID, systemID string) ([]rules.Rule, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	var out []rules.Rule
	for _, r := range f.Rules {
		if r.TenantID == tenantID && r.SystemID == systemID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *FakeRuleStore) SelectByID(ctx context.Context, id int64) (rules.Rule, error) {
	if f.Err != nil {
		return rules.Rule{}, f.Err
	}
	for _, r := range f.Rules {
		if r.ID == id {
			return r, nil
		}
	}
	return rules.Rule{}, fmt.Errorf("rule %d: %w", id, database.ErrNotFound)
}

// FakeAlertStore keeps alerts in memory. It implements dispatcher.AlertStore and AlertQuerier.
type FakeAlertStore struct {
	mu     sync.Mutex
	Alerts map[string]*alerts.Alert
}

func NewFakeAlertStore() *FakeAlertStore {
	return &FakeAlertStore{Alerts: make(map[string]*alerts.Alert)}
}

func (f *FakeAlertStore) InsertAlert(ctx context.Context, a *alerts.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	f.Alerts[a.ID] = &cp
	return nil
}

func (f *FakeAlertStore) SelectAlertByID(ctx context.Context, id string) (*alerts.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, database.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *FakeAlertStore) UpdateAlertByID(ctx context.Context, a *alerts.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Alerts[a.ID]; !ok {
		return fmt.Errorf("alert %s: %w", a.ID, database.ErrNotFound)
	}
	cp := *a
	f.Alerts[a.ID] = &cp
	return nil
}

func (f *FakeAlertStore) MarkAlertsProcessing(ctx context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if a, ok := f.Alerts[id]; ok && a.Status == alerts.StatusPending {
			a.Status = alerts.StatusProcessing
			n++
		}
	}
	return n, nil
}

func (f *FakeAlertStore) SelectPendingAlerts(ctx context.Context, tenantID string) ([]*alerts.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*alerts.Alert
	for _, a := range f.Alerts {
		if a.TenantID == tenantID && a.Status == alerts.StatusPending {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeAlertStore) SelectRecentAlerts(ctx context.Context, tenantID, systemID string, since time.Time, limit int) ([]*alerts.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*alerts.Alert
	for _, a := range f.Alerts {
		if a.TenantID == tenantID && (systemID == "" || a.SystemID == systemID) && !a.TriggeredAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *FakeAlertStore) CountAlerts(ctx context.Context, tenantID string, since, until time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, a := range f.Alerts {
		if a.TenantID == tenantID && !a.TriggeredAt.Before(since) && a.TriggeredAt.Before(until) {
			n++
		}
	}
	return n, nil
}

// FakeNotifier records deliveries.
type FakeNotifier struct {
	mu        sync.Mutex
	Alerts    []*alerts.Alert
	Summaries []alerts.Summary
}

func (f *FakeNotifier) NotifyAlert(ctx context.Context, a *alerts.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Alerts = append(f.Alerts, a)
	return nil
}

func (f *FakeNotifier) NotifySummary(ctx context.Context, s alerts.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Summaries = append(f.Summaries, s)
	return nil
}
