// Package silencer deduplicates alerts per silence key. After an alert is emitted for a
// key, identical triggers inside the rule's silence window are suppressed and counted,
// unless the new trigger is more severe than the one that opened the window.
package silencer

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"logx-detector/internal/rules"
	"logx-detector/internal/state"
)

// DefaultRetention is how long a silence entry is kept after its last alert.
const DefaultRetention = 2 * time.Hour

// SilenceState is the per-key record of the last emitted alert.
type SilenceState struct {
	LastAlertTime   time.Time `json:"last_alert_time"`
	LastLevel       string    `json:"last_level"`
	SuppressedCount int       `json:"suppressed_count"`
}

// Aggregation counts the triggers suppressed since the last emitted alert.
type Aggregation struct {
	Count           int       `json:"count"`
	FirstOccurrence time.Time `json:"first_occurrence"`
	LastOccurrence  time.Time `json:"last_occurrence"`
}

// Stats is a diagnostic snapshot.
type Stats struct {
	ActiveSilences        int `json:"active_silences"`
	PendingAggregations   int `json:"pending_aggregations"`
	TotalSuppressedAlerts int `json:"total_suppressed_alerts"`
}

// MetricsRecorder defines the metrics operations needed by the silencer.
type MetricsRecorder interface {
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

// IncrementCustom does nothing.
func (NoOpMetrics) IncrementCustom(string) {}

// Silencer tracks silence windows and suppression counts.
type Silencer struct {
	silences     state.Store[SilenceState]
	aggregations state.Store[Aggregation]
	now          func() time.Time
	retention    time.Duration
	suppressed   atomic.Int64
	metrics      MetricsRecorder
}

// Option is a functional option for configuring a Silencer.
type Option func(*Silencer)

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Silencer) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(s *Silencer) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *Silencer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithStores replaces the default in-process stores.
func WithStores(silences state.Store[SilenceState], aggregations state.Store[Aggregation]) Option {
	return func(s *Silencer) {
		if silences != nil && aggregations != nil {
			s.silences = silences
			s.aggregations = aggregations
		}
	}
}

// New creates a Silencer.
func New(opts ...Option) *Silencer {
	s := &Silencer{
		silences:     state.NewMap[SilenceState](state.DefaultShards),
		aggregations: state.NewMap[Aggregation](state.DefaultShards),
		now:          time.Now,
		retention:    DefaultRetention,
		metrics:      NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key builds the composite silence key. The dimension is only part of the key for
// TARGET and USER scopes.
func Key(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ruleID, 10))
	b.WriteByte(':')
	b.WriteString(tenantID)
	b.WriteByte(':')
	b.WriteString(systemID)
	switch scope {
	case rules.ScopeTarget, rules.ScopeUser:
		b.WriteByte(':')
		b.WriteString(targetKey)
	}
	return b.String()
}

// IsInSilencePeriod reports whether the key is silenced. A silenced check counts one
// suppression in the key's aggregation.
func (s *Silencer) IsInSilencePeriod(ruleID int64, tenantID, systemID string, scope rules.Scope, silenceSeconds int, targetKey string) bool {
	key := Key(ruleID, tenantID, systemID, scope, targetKey)
	now := s.now()
	window := rules.SilenceWindow(silenceSeconds)

	silenced := false
	s.silences.Compute(key, func(cur SilenceState, exists bool) (SilenceState, bool) {
		if !exists {
			return cur, false
		}
		if now.Before(cur.LastAlertTime.Add(window)) {
			silenced = true
			cur.SuppressedCount++
		}
		return cur, true
	})
	if !silenced {
		return false
	}

	s.aggregations.Compute(key, func(cur Aggregation, exists bool) (Aggregation, bool) {
		if !exists {
			cur.FirstOccurrence = now
		}
		cur.Count++
		cur.LastOccurrence = now
		return cur, true
	})
	s.suppressed.Add(1)
	s.metrics.IncrementCustom("alerts_suppressed")
	return true
}

// Silenced reports whether the key is inside its silence window without counting a
// suppression.
func (s *Silencer) Silenced(ruleID int64, tenantID, systemID string, scope rules.Scope, silenceSeconds int, targetKey string) bool {
	cur, ok := s.silences.Get(Key(ruleID, tenantID, systemID, scope, targetKey))
	if !ok {
		return false
	}
	return s.now().Before(cur.LastAlertTime.Add(rules.SilenceWindow(silenceSeconds)))
}

// RecordAlertTriggered opens a new silence window at level and clears the key's
// pending aggregation.
func (s *Silencer) RecordAlertTriggered(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, level string) {
	key := Key(ruleID, tenantID, systemID, scope, targetKey)
	s.silences.Put(key, SilenceState{
		LastAlertTime: s.now(),
		LastLevel:     rules.NormalizeLevel(level),
	})
	s.aggregations.Delete(key)
}

// ShouldEscalate reports whether newLevel is more severe than the level of the key's
// current silence. It does not modify the silence.
func (s *Silencer) ShouldEscalate(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey, newLevel string) bool {
	cur, ok := s.silences.Get(Key(ruleID, tenantID, systemID, scope, targetKey))
	if !ok {
		return false
	}
	return rules.MoreSevere(newLevel, cur.LastLevel)
}

// GetAggregation returns the pending aggregation for the key.
func (s *Silencer) GetAggregation(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) (Aggregation, bool) {
	return s.aggregations.Get(Key(ruleID, tenantID, systemID, scope, targetKey))
}

// GetSilence returns the silence state for the key.
func (s *Silencer) GetSilence(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) (SilenceState, bool) {
	return s.silences.Get(Key(ruleID, tenantID, systemID, scope, targetKey))
}

// ResetSilence removes the key's silence and aggregation. It reports whether a
// silence existed.
func (s *Silencer) ResetSilence(ruleID int64, tenantID, systemID string, scope rules.Scope, targetKey string) bool {
	key := Key(ruleID, tenantID, systemID, scope, targetKey)
	s.aggregations.Delete(key)
	return s.silences.Delete(key)
}

// ResetRuleSilence removes every silence and aggregation of ruleID and returns the
// number of silences removed.
func (s *Silencer) ResetRuleSilence(ruleID int64) int {
	prefix := strconv.FormatInt(ruleID, 10) + ":"
	s.aggregations.DeleteFunc(func(k string, _ Aggregation) bool {
		return strings.HasPrefix(k, prefix)
	})
	return s.silences.DeleteFunc(func(k string, _ SilenceState) bool {
		return strings.HasPrefix(k, prefix)
	})
}

// CleanupExpiredSilences removes silences whose last alert is older than the retention
// period, along with stale aggregations. It returns the number of silences removed.
func (s *Silencer) CleanupExpiredSilences() int {
	cutoff := s.now().Add(-s.retention)
	removed := s.silences.DeleteFunc(func(_ string, st SilenceState) bool {
		return st.LastAlertTime.Before(cutoff)
	})
	s.aggregations.DeleteFunc(func(_ string, a Aggregation) bool {
		return a.LastOccurrence.Before(cutoff)
	})
	return removed
}

// Statistics returns the number of tracked silences, the number of pending
// aggregations and the number of suppressed triggers they hold.
func (s *Silencer) Statistics() Stats {
	stats := Stats{
		ActiveSilences:      s.silences.Len(),
		PendingAggregations: s.aggregations.Len(),
	}
	s.aggregations.Range(func(_ string, a Aggregation) bool {
		stats.TotalSuppressedAlerts += a.Count
		return true
	})
	return stats
}

// LifetimeSuppressed returns the number of suppressions since start.
func (s *Silencer) LifetimeSuppressed() int64 {
	return s.suppressed.Load()
}
