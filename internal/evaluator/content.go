package evaluator

import (
	"fmt"
	"strings"
	"time"

	"logx-detector/internal/events"
	"logx-detector/internal/rules"
)

const maxExceptionLen = 500

// Explain builds the human-readable alert content for a matched rule.
func Explain(rule rules.Rule, ev *events.Event) string {
	var b strings.Builder

	fmt.Fprintf(&b, "[%s] %s\n", rules.NormalizeLevel(rule.Level), rule.Name)
	fmt.Fprintf(&b, "Rule type: %s\n", rule.Kind)
	if rule.MonitorTarget != "" {
		fmt.Fprintf(&b, "Target: %s\n", rule.MonitorTarget)
	}
	fmt.Fprintf(&b, "Condition: %s\n", describeCondition(rule))

	b.WriteString("Event:\n")
	if !ev.Timestamp.IsZero() {
		fmt.Fprintf(&b, "  time: %s\n", ev.Timestamp.UTC().Format(time.RFC3339))
	}
	writeIf(&b, "level", ev.Level)
	writeIf(&b, "module", ev.Module)
	writeIf(&b, "operation", ev.Operation)
	writeIf(&b, "userId", ev.UserID)
	writeIf(&b, "ip", ev.IP)
	writeIf(&b, "requestUrl", ev.RequestURL)
	if ev.StatusCode != nil {
		fmt.Fprintf(&b, "  statusCode: %d\n", *ev.StatusCode)
	}
	if ev.ResponseTime != nil {
		fmt.Fprintf(&b, "  responseTime: %dms\n", *ev.ResponseTime)
	}
	if ev.Exception != "" {
		exc := ev.Exception
		if len(exc) > maxExceptionLen {
			exc = exc[:maxExceptionLen] + "..."
		}
		fmt.Fprintf(&b, "  exception: %s\n", exc)
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeIf(b *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(b, "  %s: %s\n", name, value)
	}
}

func describeCondition(rule rules.Rule) string {
	cond, err := rule.Condition()
	if err != nil {
		return fmt.Sprintf("%s %s %s", rule.MonitorMetric, rule.ConditionOperator, rule.ConditionValue)
	}
	switch c := cond.(type) {
	case rules.CompareCondition:
		return fmt.Sprintf("%s %s %s", c.Field, c.Operator, c.Value)
	case rules.WindowCondition:
		return fmt.Sprintf("count within %s %s %d", c.Window, c.Operator, c.Threshold)
	case rules.StreakCondition:
		return fmt.Sprintf("consecutive failures %s %d", c.Operator, c.Threshold)
	}
	return rule.ConditionValue
}
