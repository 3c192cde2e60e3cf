package silencer

import "logx-detector/internal/rules"

// Decision is the outcome of a silence check for a matched rule.
type Decision int

const (
	// Emit means no silence is active and an alert should be raised.
	Emit Decision = iota
	// Suppress means the trigger fell inside an active silence window.
	Suppress
	// Escalate means a silence is active but the new trigger is more severe.
	Escalate
)

func (d Decision) String() string {
	switch d {
	case Emit:
		return "emit"
	case Suppress:
		return "suppress"
	case Escalate:
		return "escalate"
	}
	return "unknown"
}

// Emits reports whether the decision raises an alert.
func (d Decision) Emits() bool {
	return d == Emit || d == Escalate
}

// Check combines ShouldEscalate and IsInSilencePeriod for a matched rule. When the
// decision emits, suppressed is the number of triggers folded into the new alert,
// read before the caller resets the aggregation with RecordAlertTriggered.
func (s *Silencer) Check(rule rules.Rule, tenantID, systemID, targetKey string) (d Decision, suppressed int) {
	scope := rule.SilenceScope
	if s.ShouldEscalate(rule.ID, tenantID, systemID, scope, targetKey, rule.Level) {
		d = Escalate
	} else if s.IsInSilencePeriod(rule.ID, tenantID, systemID, scope, rule.SilenceSeconds, targetKey) {
		return Suppress, 0
	}
	if agg, ok := s.GetAggregation(rule.ID, tenantID, systemID, scope, targetKey); ok {
		suppressed = agg.Count
	}
	return d, suppressed
}
