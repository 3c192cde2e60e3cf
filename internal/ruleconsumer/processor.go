package ruleconsumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"logx-detector/internal/engine"
	"logx-detector/internal/events"
)

// Invalidator is the part of the detector a rule change touches.
type Invalidator interface {
	ClearCache(tenantID, systemID string)
	ClearRuleState(ctx context.Context, ruleID int64) error
}

// MetricsRecorder defines the metrics operations needed by the processor.
type MetricsRecorder interface {
	RecordReceived()
	RecordProcessed(latency time.Duration)
	RecordError()
	IncrementCustom(name string)
}

type noOpMetrics struct{}

func (noOpMetrics) RecordReceived()               {}
func (noOpMetrics) RecordProcessed(time.Duration) {}
func (noOpMetrics) RecordError()                  {}
func (noOpMetrics) IncrementCustom(string)        {}

// Processor consumes rule.changed events.
type Processor struct {
	consumer MessageConsumer
	target   Invalidator
	metrics  MetricsRecorder
}

// NewProcessor creates a rule change processor. m may be nil.
func NewProcessor(c MessageConsumer, target Invalidator, m MetricsRecorder) *Processor {
	if m == nil {
		m = noOpMetrics{}
	}
	return &Processor{consumer: c, target: target, metrics: m}
}

// ProcessRuleChanges reads rule.changed events until ctx is cancelled. A change that
// cannot be applied stops the loop with an error and is left uncommitted.
func (p *Processor) ProcessRuleChanges(ctx context.Context) error {
	slog.Info("Starting rule change processing loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Rule change processing loop stopped")
			return nil
		default:
		}

		changed, msg, err := p.consumer.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Error("Failed to read rule.changed event", "error", err)
			if msg != nil {
				// Undecodable payloads are never going to succeed.
				p.metrics.RecordError()
				p.commit(ctx, msg, nil)
			}
			continue
		}

		p.metrics.RecordReceived()
		start := time.Now()

		if err := p.apply(ctx, changed); err != nil {
			p.metrics.RecordError()
			slog.Error("Failed to apply rule change",
				"rule_id", changed.RuleID,
				"action", changed.Action,
				"error", err,
			)
			// Commits are cumulative, so reading on would let a later commit skip this
			// change. Stop uncommitted and let the group redeliver it.
			return fmt.Errorf("apply rule %d %s: %w", changed.RuleID, changed.Action, err)
		}

		p.metrics.RecordProcessed(time.Since(start))
		p.metrics.IncrementCustom("rules_" + changed.Action)
		p.commit(ctx, msg, changed)
	}
}

// apply invalidates the changed system's cached rules and, for modifications, the
// rule's tracker and silence state.
func (p *Processor) apply(ctx context.Context, changed *events.RuleChanged) error {
	if changed.TenantID == "" || changed.SystemID == "" {
		slog.Warn("Rule change without tenant or system, cache left as is", "rule_id", changed.RuleID)
	} else {
		p.target.ClearCache(changed.TenantID, changed.SystemID)
	}

	if changed.ClearsState() {
		err := p.target.ClearRuleState(ctx, changed.RuleID)
		if err != nil && !errors.Is(err, engine.ErrRuleNotFound) {
			return fmt.Errorf("clear state of rule %d: %w", changed.RuleID, err)
		}
	}

	slog.Info("Rule change applied",
		"rule_id", changed.RuleID,
		"tenant_id", changed.TenantID,
		"system_id", changed.SystemID,
		"action", changed.Action,
	)
	return nil
}

func (p *Processor) commit(ctx context.Context, msg *kafka.Message, changed *events.RuleChanged) {
	if err := p.consumer.CommitMessage(ctx, msg); err != nil {
		args := []any{"error", err}
		if changed != nil {
			args = append(args, "rule_id", changed.RuleID, "action", changed.Action)
		}
		slog.Error("Failed to commit offset", args...)
	}
}
