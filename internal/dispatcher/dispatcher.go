// Package dispatcher turns matched rules into persisted alerts and routes them to
// immediate delivery or to the notification batcher.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"logx-detector/internal/alerts"
	"logx-detector/internal/database"
	"logx-detector/internal/evaluator"
	"logx-detector/internal/events"
	"logx-detector/internal/retry"
	"logx-detector/internal/rules"
)

var (
	// ErrAlertNotFound is returned by Handle for an unknown alert id.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrAlreadyResolved is returned by Handle for an alert that is already RESOLVED.
	ErrAlreadyResolved = errors.New("alert already resolved")
)

const (
	defaultPersistTimeout = 3 * time.Second
	defaultNotifyTimeout  = 5 * time.Second
)

// Dispatcher creates alerts for matched rules.
type Dispatcher struct {
	store          AlertStore
	notifier       ImmediateNotifier
	batcher        Enqueuer
	immediate      map[string]bool
	persistTimeout time.Duration
	notifyTimeout  time.Duration
	retryCfg       retry.Config
	now            func() time.Time
	metrics        MetricsRecorder
}

// Option is a functional option for configuring a Dispatcher.
type Option func(*Dispatcher)

// WithImmediateLevels sets the levels delivered without batching. The default is
// CRITICAL only.
func WithImmediateLevels(levels ...string) Option {
	return func(d *Dispatcher) {
		d.immediate = make(map[string]bool, len(levels))
		for _, l := range levels {
			if l = rules.NormalizeLevel(l); l != "" {
				d.immediate[l] = true
			}
		}
	}
}

// WithPersistTimeout bounds each alert insert, retries included.
func WithPersistTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.persistTimeout = t
		}
	}
}

// WithNotifyTimeout bounds an immediate notification.
func WithNotifyTimeout(t time.Duration) Option {
	return func(d *Dispatcher) {
		if t > 0 {
			d.notifyTimeout = t
		}
	}
}

// WithRetryConfig overrides retry.DefaultConfig for alert inserts.
func WithRetryConfig(cfg retry.Config) Option {
	return func(d *Dispatcher) { d.retryCfg = cfg }
}

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(d *Dispatcher) {
		if m != nil {
			d.metrics = m
		}
	}
}

// New creates a Dispatcher.
func New(store AlertStore, notifier ImmediateNotifier, batcher Enqueuer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:          store,
		notifier:       notifier,
		batcher:        batcher,
		immediate:      map[string]bool{rules.LevelCritical: true},
		persistTimeout: defaultPersistTimeout,
		notifyTimeout:  defaultNotifyTimeout,
		retryCfg:       retry.DefaultConfig(),
		now:            time.Now,
		metrics:        NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Trigger persists an alert for a matched rule and routes it for delivery. suppressed
// is the number of silenced triggers folded into this alert. A persistence failure
// abandons the alert; a delivery failure is logged only.
func (d *Dispatcher) Trigger(ctx context.Context, rule rules.Rule, ev *events.Event, suppressed int) (*alerts.Alert, error) {
	alert := &alerts.Alert{
		ID:              uuid.NewString(),
		TenantID:        ev.TenantID,
		SystemID:        ev.SystemID,
		RuleID:          rule.ID,
		RuleName:        rule.Name,
		Level:           rules.NormalizeLevel(rule.Level),
		Kind:            rule.Kind.String(),
		Content:         evaluator.Explain(rule, ev),
		TriggeredAt:     d.now().UTC(),
		Status:          alerts.StatusPending,
		SuppressedCount: suppressed,
	}

	if err := d.persist(ctx, alert); err != nil {
		d.metrics.IncrementCustom("alerts_persist_failed")
		slog.Error("Failed to persist alert, dropping",
			"rule_id", rule.ID,
			"tenant_id", alert.TenantID,
			"system_id", alert.SystemID,
			"error", err,
		)
		return nil, fmt.Errorf("persist alert: %w", err)
	}
	d.metrics.IncrementCustom("alerts_triggered")

	slog.Info("Alert triggered",
		"alert_id", alert.ID,
		"rule_id", rule.ID,
		"tenant_id", alert.TenantID,
		"system_id", alert.SystemID,
		"level", alert.Level,
		"suppressed", suppressed,
	)

	d.route(ctx, alert)
	return alert, nil
}

func (d *Dispatcher) persist(ctx context.Context, alert *alerts.Alert) error {
	pctx, cancel := context.WithTimeout(ctx, d.persistTimeout)
	defer cancel()
	return retry.WithRetry(pctx, d.retryCfg, "insert_alert", func() error {
		return d.store.InsertAlert(pctx, alert)
	})
}

func (d *Dispatcher) route(ctx context.Context, alert *alerts.Alert) {
	if !d.immediate[alert.Level] {
		if d.batcher.Enqueue(alert) {
			d.metrics.IncrementCustom("alerts_batched")
		}
		return
	}

	nctx, cancel := context.WithTimeout(ctx, d.notifyTimeout)
	defer cancel()
	if err := d.notifier.NotifyAlert(nctx, alert); err != nil {
		d.metrics.IncrementCustom("notifications_failed")
		slog.Warn("Immediate notification failed",
			"alert_id", alert.ID,
			"tenant_id", alert.TenantID,
			"error", err,
		)
		return
	}
	d.metrics.IncrementCustom("notifications_sent")
}

// Handle resolves an alert on behalf of user.
func (d *Dispatcher) Handle(ctx context.Context, alertID, user, remark string) error {
	alert, err := d.store.SelectAlertByID(ctx, alertID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			slog.Warn("Cannot handle unknown alert", "alert_id", alertID, "handled_by", user)
			return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		return fmt.Errorf("load alert: %w", err)
	}
	if alert.Status == alerts.StatusResolved {
		return d.alreadyResolved(alert, user)
	}

	handledAt := d.now().UTC()
	alert.Status = alerts.StatusResolved
	alert.HandledBy = user
	alert.HandledAt = &handledAt
	alert.Remark = remark

	if err := d.store.UpdateAlertByID(ctx, alert); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		if errors.Is(err, database.ErrAlreadyResolved) {
			return d.alreadyResolved(alert, user)
		}
		return fmt.Errorf("update alert: %w", err)
	}

	slog.Info("Alert handled", "alert_id", alertID, "handled_by", user)
	return nil
}

func (d *Dispatcher) alreadyResolved(alert *alerts.Alert, user string) error {
	slog.Warn("Alert already resolved, keeping original handler",
		"alert_id", alert.ID,
		"handled_by", user,
	)
	return fmt.Errorf("%w: %s", ErrAlreadyResolved, alert.ID)
}

// MarkAsRead moves PENDING alerts to PROCESSING and returns how many changed.
// Alerts in any other status are left alone.
func (d *Dispatcher) MarkAsRead(ctx context.Context, ids []string) (int, error) {
	cleaned := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			cleaned = append(cleaned, id)
		}
	}
	if len(cleaned) == 0 {
		return 0, nil
	}
	n, err := d.store.MarkAlertsProcessing(ctx, cleaned)
	if err != nil {
		return 0, fmt.Errorf("mark alerts read: %w", err)
	}
	return n, nil
}
