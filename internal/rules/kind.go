package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Kind enumerates the supported rule kinds.
type Kind int

const (
	KindUnknown Kind = iota
	KindFieldCompare
	KindBatchOperation
	KindContinuousRequest
	KindResponseTime
	KindErrorRate
)

var kindNames = map[Kind]string{
	KindFieldCompare:      "field_compare",
	KindBatchOperation:    "batch_operation",
	KindContinuousRequest: "continuous_request",
	KindResponseTime:      "response_time",
	KindErrorRate:         "error_rate",
}

// ParseKind parses a stored kind name. Matching ignores case and treats '-' as '_'.
func ParseKind(s string) Kind {
	norm := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_")
	for k, name := range kindNames {
		if name == norm {
			return k
		}
	}
	return KindUnknown
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText never fails; unrecognised names decode to KindUnknown so that the
// rule is reported at evaluation time instead of breaking a whole reload.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = ParseKind(string(text))
	return nil
}

// DefaultWindow is the batch window used when the condition value omits one.
const DefaultWindow = 60 * time.Second

// Condition is the typed payload of a rule kind. The set of implementations is closed.
type Condition interface {
	isCondition()
}

// CompareCondition compares one event field against a literal value.
type CompareCondition struct {
	Field    string
	Operator string
	Value    string
}

// WindowCondition counts events per key in a trailing window.
type WindowCondition struct {
	Operator  string
	Threshold int
	Window    time.Duration
}

// StreakCondition counts consecutive failing events per key.
type StreakCondition struct {
	Operator      string
	Threshold     int
	FailureMetric string
}

func (CompareCondition) isCondition() {}
func (WindowCondition) isCondition()  {}
func (StreakCondition) isCondition()  {}

// ErrUnknownKind is returned for rules whose kind is not recognised.
var ErrUnknownKind = errors.New("unknown rule kind")

// Condition parses the rule's condition into the payload for its kind.
func (r Rule) Condition() (Condition, error) {
	switch r.Kind {
	case KindFieldCompare:
		if strings.TrimSpace(r.MonitorMetric) == "" {
			return nil, fmt.Errorf("field compare rule %d: monitor metric is required", r.ID)
		}
		return CompareCondition{Field: strings.TrimSpace(r.MonitorMetric), Operator: r.ConditionOperator, Value: r.ConditionValue}, nil
	case KindResponseTime:
		return CompareCondition{Field: "responseTime", Operator: r.ConditionOperator, Value: r.ConditionValue}, nil
	case KindErrorRate:
		field := strings.TrimSpace(r.MonitorMetric)
		if field == "" {
			field = "errorRate"
		}
		return CompareCondition{Field: field, Operator: r.ConditionOperator, Value: r.ConditionValue}, nil
	case KindBatchOperation:
		threshold, window, err := ParseWindow(r.ConditionValue)
		if err != nil {
			return nil, fmt.Errorf("batch operation rule %d: %w", r.ID, err)
		}
		return WindowCondition{Operator: countOperator(r.ConditionOperator), Threshold: threshold, Window: window}, nil
	case KindContinuousRequest:
		threshold, err := parseThreshold(r.ConditionValue)
		if err != nil {
			return nil, fmt.Errorf("continuous request rule %d: %w", r.ID, err)
		}
		return StreakCondition{Operator: countOperator(r.ConditionOperator), Threshold: threshold, FailureMetric: strings.TrimSpace(r.MonitorMetric)}, nil
	case KindUnknown:
		return nil, fmt.Errorf("rule %d: %w", r.ID, ErrUnknownKind)
	}
	return nil, fmt.Errorf("rule %d: %w %d", r.ID, ErrUnknownKind, int(r.Kind))
}

// ParseWindow parses "threshold:windowSeconds". The window defaults to DefaultWindow.
func ParseWindow(value string) (int, time.Duration, error) {
	head, tail, hasWindow := strings.Cut(strings.TrimSpace(value), ":")
	threshold, err := parseThreshold(head)
	if err != nil {
		return 0, 0, err
	}
	if !hasWindow || strings.TrimSpace(tail) == "" {
		return threshold, DefaultWindow, nil
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(tail))
	if err != nil {
		return 0, 0, fmt.Errorf("malformed window %q: %w", tail, err)
	}
	if seconds <= 0 {
		return 0, 0, fmt.Errorf("window must be > 0, got %d", seconds)
	}
	return threshold, time.Duration(seconds) * time.Second, nil
}

func parseThreshold(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("malformed threshold %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("threshold must be >= 0, got %d", n)
	}
	return n, nil
}

// countOperator defaults count-based kinds to "exceeds threshold".
func countOperator(op string) string {
	if strings.TrimSpace(op) == "" {
		return OpGreater
	}
	return op
}
