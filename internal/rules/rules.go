// Package rules defines the detection rule model: rule kinds, their typed conditions,
// monitor targets and severity levels.
package rules

import (
	"strconv"
	"strings"
	"time"
)

// Rule is a tenant-scoped detection rule as stored by the management surface.
// Rules are treated as immutable values once loaded.
type Rule struct {
	ID                int64     `json:"id"`
	TenantID          string    `json:"tenant_id"`
	SystemID          string    `json:"system_id"`
	Name              string    `json:"name"`
	Kind              Kind      `json:"kind"`
	MonitorTarget     string    `json:"monitor_target"`
	MonitorMetric     string    `json:"monitor_metric"`
	ConditionOperator string    `json:"condition_operator"`
	ConditionValue    string    `json:"condition_value"`
	Level             string    `json:"level"`
	Enabled           bool      `json:"enabled"`
	SilenceSeconds    int       `json:"silence_seconds"`
	SilenceScope      Scope     `json:"silence_scope"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DefaultSilence is the silence window applied when a rule does not configure one.
const DefaultSilence = 300 * time.Second

// SilenceWindow returns the rule's silence window, falling back to DefaultSilence.
func (r Rule) SilenceWindow() time.Duration {
	return SilenceWindow(r.SilenceSeconds)
}

// SilenceWindow converts a configured silence in seconds to a duration.
// Non-positive values mean DefaultSilence.
func SilenceWindow(seconds int) time.Duration {
	if seconds <= 0 {
		return DefaultSilence
	}
	return time.Duration(seconds) * time.Second
}

// IDString returns the rule id in the form used for state keys.
func (r Rule) IDString() string {
	return strconv.FormatInt(r.ID, 10)
}

// Target returns the parsed monitor target.
func (r Rule) Target() Target {
	return ParseTarget(r.MonitorTarget)
}

// Scope selects which dimension, if any, is added to a silence key.
type Scope string

const (
	// ScopeRule silences per rule, tenant and system.
	ScopeRule Scope = "RULE"
	// ScopeTarget additionally separates silences by the target dimension value.
	ScopeTarget Scope = "TARGET"
	// ScopeUser additionally separates silences by user.
	ScopeUser Scope = "USER"
)

// ParseScope parses a scope name case-insensitively. Unknown or empty values map to ScopeRule.
func ParseScope(s string) Scope {
	switch Scope(strings.ToUpper(strings.TrimSpace(s))) {
	case ScopeTarget:
		return ScopeTarget
	case ScopeUser:
		return ScopeUser
	default:
		return ScopeRule
	}
}

// UnmarshalText accepts any case and defaults to ScopeRule.
func (s *Scope) UnmarshalText(text []byte) error {
	*s = ParseScope(string(text))
	return nil
}
