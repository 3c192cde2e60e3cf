package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"logx-detector/internal/consumer"
	"logx-detector/internal/evaluator"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
)

const (
	defaultCommitTimeout = 5 * time.Second
	readErrorBackoff     = time.Second
)

// Processor drives one event reader. Several processors sharing a consumer group run
// in parallel, each owning its own partitions.
type Processor struct {
	reader   BatchReader
	rules    RuleSource
	matcher  Matcher
	silencer Silencer
	trigger  Trigger
	pool     Submitter
	metrics  MetricsRecorder

	commitTimeout time.Duration
}

// Option is a functional option for configuring a Processor.
type Option func(*Processor)

// WithMetrics sets a custom metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(p *Processor) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithCommitTimeout bounds the offset commit that follows a batch.
func WithCommitTimeout(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.commitTimeout = d
		}
	}
}

// NewProcessor creates a processor.
func NewProcessor(reader BatchReader, rs RuleSource, m Matcher, s Silencer, t Trigger, pool Submitter, opts ...Option) *Processor {
	p := &Processor{
		reader:        reader,
		rules:         rs,
		matcher:       m,
		silencer:      s,
		trigger:       t,
		pool:          pool,
		metrics:       &NoOpMetrics{},
		commitTimeout: defaultCommitTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run reads and processes batches until ctx is cancelled.
func (p *Processor) Run(ctx context.Context) error {
	slog.Info("Starting event processing loop")

	for {
		select {
		case <-ctx.Done():
			slog.Info("Event processing loop stopped")
			return nil
		default:
		}

		batch, err := p.reader.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Event processing loop stopped")
				return nil
			}
			slog.Error("Failed to read event batch", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(readErrorBackoff):
			}
			continue
		}

		if !p.processBatch(ctx, batch) {
			p.metrics.IncrementCustom("batches_uncommitted")
			continue
		}
		p.commit(ctx, batch)
	}
}

// processBatch attempts every record of the batch and reports whether the batch may
// be committed. A fault that escapes per-event handling or a cancellation before the
// last record withholds the commit so the batch is redelivered.
func (p *Processor) processBatch(ctx context.Context, batch []consumer.Record) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordError()
			slog.Error("Unhandled fault in event batch, withholding commit",
				"batch_size", len(batch),
				"panic", r,
			)
			ok = false
		}
	}()

	for i, rec := range batch {
		if ctx.Err() != nil {
			slog.Warn("Batch interrupted by shutdown, withholding commit",
				"processed", i,
				"batch_size", len(batch),
			)
			return false
		}
		p.metrics.RecordReceived()
		if rec.Err != nil {
			p.metrics.RecordError()
			p.metrics.IncrementCustom("events_malformed")
			slog.Warn("Skipping undecodable event", "error", rec.Err)
			continue
		}
		p.processRecord(ctx, rec.Event)
	}
	return true
}

// processRecord isolates one event: a panic while handling it is logged and the event
// is treated as non-matching.
func (p *Processor) processRecord(ctx context.Context, ev *events.Event) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.metrics.RecordError()
			slog.Error("Event processing fault, treating as non-matching",
				"tenant_id", ev.TenantID,
				"system_id", ev.SystemID,
				"panic", r,
			)
		}
	}()

	if err := p.processEvent(ctx, ev); err != nil {
		p.metrics.RecordError()
		slog.Error("Failed to process event",
			"tenant_id", ev.TenantID,
			"system_id", ev.SystemID,
			"error", err,
		)
		return
	}
	p.metrics.RecordProcessed(time.Since(start))
}

// processEvent evaluates every enabled rule of the event's tenant system.
func (p *Processor) processEvent(ctx context.Context, ev *events.Event) error {
	if ev == nil || ev.TenantID == "" || ev.SystemID == "" {
		p.metrics.IncrementCustom("events_unscoped")
		return nil
	}

	rs, err := p.rules.Get(ctx, ev.TenantID, ev.SystemID)
	if err != nil {
		return fmt.Errorf("resolve rules: %w", err)
	}
	if len(rs) == 0 {
		return nil
	}

	for _, rule := range rs {
		if !p.matcher.AppliesTo(rule, ev) {
			continue
		}
		if !p.matcher.Evaluate(ctx, rule, ev) {
			continue
		}
		p.onMatch(rule, ev)
	}
	return nil
}

// onMatch consults the silencer and submits a trigger task. The silence window opens
// only once the task is accepted, so a rejected trigger is retried by the next match.
func (p *Processor) onMatch(rule rules.Rule, ev *events.Event) {
	target := evaluator.SilenceTarget(rule, ev)
	decision, suppressed := p.silencer.Check(rule, ev.TenantID, ev.SystemID, target)
	if !decision.Emits() {
		slog.Debug("Alert suppressed",
			"rule_id", rule.ID,
			"tenant_id", ev.TenantID,
			"system_id", ev.SystemID,
			"target", target,
		)
		return
	}

	task := func(ctx context.Context) {
		// Failures are logged and counted by the dispatcher.
		_, _ = p.trigger.Trigger(ctx, rule, ev, suppressed)
	}
	if !p.pool.Submit(task) {
		slog.Warn("Trigger queue full, alert rejected",
			"rule_id", rule.ID,
			"tenant_id", ev.TenantID,
			"system_id", ev.SystemID,
		)
		return
	}

	p.silencer.RecordAlertTriggered(rule.ID, ev.TenantID, ev.SystemID, rule.SilenceScope, target, rule.Level)
	p.metrics.IncrementCustom("rules_triggered")
	slog.Debug("Alert submitted",
		"rule_id", rule.ID,
		"tenant_id", ev.TenantID,
		"system_id", ev.SystemID,
		"decision", decision.String(),
		"suppressed", suppressed,
	)
}

func (p *Processor) commit(ctx context.Context, batch []consumer.Record) {
	// A fully processed batch is committed even when shutdown has begun.
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.commitTimeout)
	defer cancel()
	if err := p.reader.Commit(cctx, batch); err != nil {
		p.metrics.RecordError()
		slog.Error("Failed to commit event batch", "batch_size", len(batch), "error", err)
	}
}
