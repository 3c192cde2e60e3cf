// Package evaluator matches log events against detection rules.
//
// Evaluation never fails from the caller's point of view: malformed conditions,
// bad regular expressions and tracker errors are logged, counted as evaluation
// faults and reported as a non-match.
package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"logx-detector/internal/events"
	"logx-detector/internal/rules"
	"logx-detector/internal/state"
	"logx-detector/internal/tracker"
)

// MetricsRecorder defines the metrics operations needed by the evaluator.
type MetricsRecorder interface {
	IncrementCustom(name string)
}

// NoOpMetrics is a null-object implementation of MetricsRecorder.
type NoOpMetrics struct{}

// Compile-time check that NoOpMetrics implements MetricsRecorder.
var _ MetricsRecorder = NoOpMetrics{}

// IncrementCustom does nothing.
func (NoOpMetrics) IncrementCustom(string) {}

// Evaluator evaluates rules against events, using a Tracker for stateful kinds.
type Evaluator struct {
	tracker tracker.Tracker
	regexes *regexCache
	metrics MetricsRecorder
}

// Option is a functional option for configuring an Evaluator.
type Option func(*Evaluator)

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(e *Evaluator) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates an Evaluator backed by the given tracker.
func New(t tracker.Tracker, opts ...Option) *Evaluator {
	e := &Evaluator{
		tracker: t,
		regexes: newRegexCache(state.NewMap[*regexEntry](8)),
		metrics: NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AppliesTo reports whether the rule's monitor target selects the event.
// An empty target selects every event.
func (e *Evaluator) AppliesTo(rule rules.Rule, ev *events.Event) bool {
	target := rule.Target()
	switch target.Dimension {
	case rules.DimensionNone:
		return true
	case rules.DimensionLiteral:
		return strings.Contains(ev.RequestURL, target.Value) ||
			strings.Contains(ev.Module, target.Value) ||
			strings.Contains(ev.Operation, target.Value)
	}
	actual := dimensionValue(target.Dimension, ev)
	if actual == "" {
		return false
	}
	if target.Value == "*" {
		return true
	}
	return strings.Contains(actual, target.Value)
}

// TargetKey returns the dimension value that identifies the event within the rule's
// target: the event's user, module, ip or operation for dimension targets, and the
// literal itself for literal targets.
func TargetKey(rule rules.Rule, ev *events.Event) string {
	target := rule.Target()
	switch target.Dimension {
	case rules.DimensionNone:
		return ""
	case rules.DimensionLiteral:
		return target.Value
	}
	return dimensionValue(target.Dimension, ev)
}

func dimensionValue(d rules.Dimension, ev *events.Event) string {
	switch d {
	case rules.DimensionUser:
		return ev.UserID
	case rules.DimensionModule:
		return ev.Module
	case rules.DimensionIP:
		return ev.IP
	case rules.DimensionOperation:
		return ev.Operation
	}
	return ""
}

// StateKey is the tracker key for a rule and an event.
func StateKey(rule rules.Rule, ev *events.Event) string {
	return tracker.Key(rule.IDString(), ev.TenantID, ev.SystemID, TargetKey(rule, ev))
}

// Evaluate reports whether the event satisfies the rule's condition. Target
// applicability is checked separately with AppliesTo.
func (e *Evaluator) Evaluate(ctx context.Context, rule rules.Rule, ev *events.Event) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			e.fault(rule, fmt.Errorf("panic during evaluation: %v", r))
			matched = false
		}
	}()

	cond, err := rule.Condition()
	if err != nil {
		e.fault(rule, err)
		return false
	}

	switch c := cond.(type) {
	case rules.CompareCondition:
		matched, err = e.evaluateCompare(c, ev)
	case rules.WindowCondition:
		matched, err = e.evaluateWindow(ctx, rule, c, ev)
	case rules.StreakCondition:
		matched, err = e.evaluateStreak(ctx, rule, c, ev)
	default:
		err = fmt.Errorf("unhandled condition type %T", cond)
	}
	if err != nil {
		e.fault(rule, err)
		return false
	}
	if matched {
		e.metrics.IncrementCustom("rules_matched")
	}
	return matched
}

func (e *Evaluator) evaluateCompare(c rules.CompareCondition, ev *events.Event) (bool, error) {
	actual, ok := ev.Field(c.Field)
	if !ok {
		return false, nil
	}
	return compareValues(actual, c.Operator, c.Value, e.regexes)
}

func (e *Evaluator) evaluateWindow(ctx context.Context, rule rules.Rule, c rules.WindowCondition, ev *events.Event) (bool, error) {
	count, err := e.tracker.RecordBatchOperation(ctx, StateKey(rule, ev), c.Window)
	if err != nil {
		return false, err
	}
	return compareInts(count, c.Operator, c.Threshold)
}

// evaluateStreak records the event's outcome and matches only failing events whose
// post-update streak satisfies the threshold.
func (e *Evaluator) evaluateStreak(ctx context.Context, rule rules.Rule, c rules.StreakCondition, ev *events.Event) (bool, error) {
	failed := IsFailure(c.FailureMetric, ev)
	count, err := e.tracker.RecordContinuousFailure(ctx, StateKey(rule, ev), failed)
	if err != nil {
		return false, err
	}
	if !failed {
		return false, nil
	}
	return compareInts(count, c.Operator, c.Threshold)
}

// IsFailure classifies an event for continuous-request rules. metric narrows the
// signal to the status code, the level or the exception; by default an ERROR or
// FATAL level or a status code of 500 or above counts as a failure.
func IsFailure(metric string, ev *events.Event) bool {
	switch strings.ToLower(strings.TrimSpace(metric)) {
	case "statuscode", "status":
		return serverError(ev)
	case "level":
		return errorLevel(ev)
	case "exception":
		return ev.Exception != ""
	default:
		return errorLevel(ev) || serverError(ev)
	}
}

func errorLevel(ev *events.Event) bool {
	switch strings.ToUpper(ev.Level) {
	case "ERROR", "FATAL":
		return true
	}
	return false
}

func serverError(ev *events.Event) bool {
	return ev.StatusCode != nil && *ev.StatusCode >= 500
}

func (e *Evaluator) fault(rule rules.Rule, err error) {
	e.metrics.IncrementCustom("evaluation_faults")
	slog.Warn("Rule evaluation fault, treating as non-match",
		"rule_id", rule.ID,
		"rule_name", rule.Name,
		"kind", rule.Kind.String(),
		"error", err,
	)
}

// SilenceTarget returns the dimension used to scope the rule's silences for the
// event: the target key for TARGET scope, the user id for USER scope, and nothing
// for RULE scope.
func SilenceTarget(rule rules.Rule, ev *events.Event) string {
	switch rule.SilenceScope {
	case rules.ScopeTarget:
		return TargetKey(rule, ev)
	case rules.ScopeUser:
		return ev.UserID
	}
	return ""
}
