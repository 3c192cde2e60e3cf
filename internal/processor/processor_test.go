package processor

import (
	"context"
	"testing"
	"time"

	"logx-detector/internal/consumer"
	"logx-detector/internal/evaluator"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
	"logx-detector/internal/silencer"
	"logx-detector/internal/tracker"
)

func intPtr(v int) *int { return &v }

type fixture struct {
	reader   *FakeReader
	rules    *FakeRules
	trigger  *FakeTrigger
	pool     *FakePool
	silencer *silencer.Silencer
	metrics  *FakeMetrics
	proc     *Processor
}

func newFixture(rs ...rules.Rule) *fixture {
	f := &fixture{
		reader:   &FakeReader{},
		rules:    &FakeRules{Rules: map[string][]rules.Rule{}},
		trigger:  &FakeTrigger{},
		pool:     &FakePool{},
		silencer: silencer.New(),
		metrics:  NewFakeMetrics(),
	}
	for _, r := range rs {
		key := r.TenantID + "/" + r.SystemID
		f.rules.Rules[key] = append(f.rules.Rules[key], r)
	}
	f.proc = NewProcessor(f.reader, f.rules, evaluator.New(tracker.NewMemory()), f.silencer, f.trigger, f.pool, WithMetrics(f.metrics))
	return f
}

func records(evs ...*events.Event) []consumer.Record {
	out := make([]consumer.Record, len(evs))
	for i, ev := range evs {
		out[i] = consumer.Record{Event: ev}
	}
	return out
}

func levelRule(id int64) rules.Rule {
	return rules.Rule{
		ID: id, TenantID: "t1", SystemID: "s1", Name: "errors",
		Kind: rules.KindFieldCompare, MonitorMetric: "level",
		ConditionOperator: "==", ConditionValue: "ERROR",
		Level: rules.LevelWarning, Enabled: true,
	}
}

func TestProcessBatch_TriggersOnMatch(t *testing.T) {
	f := newFixture(levelRule(1))
	batch := records(
		&events.Event{TenantID: "t1", SystemID: "s1", Level: "INFO"},
		&events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"},
	)

	if !f.proc.processBatch(context.Background(), batch) {
		t.Fatal("processBatch() = false, want true")
	}
	if len(f.trigger.Calls) != 1 || f.trigger.Calls[0].RuleID != 1 {
		t.Errorf("trigger calls = %+v, want one call for rule 1", f.trigger.Calls)
	}
	if f.metrics.Received != 2 || f.metrics.Processed != 2 {
		t.Errorf("received=%d processed=%d, want 2/2", f.metrics.Received, f.metrics.Processed)
	}
}

func TestProcessBatch_SilencesRepeatedMatches(t *testing.T) {
	f := newFixture(levelRule(1))
	ev := &events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"}

	f.proc.processBatch(context.Background(), records(ev, ev, ev))

	if len(f.trigger.Calls) != 1 {
		t.Fatalf("trigger calls = %d, want 1", len(f.trigger.Calls))
	}
	agg, ok := f.silencer.GetAggregation(1, "t1", "s1", rules.ScopeRule, "")
	if !ok || agg.Count != 2 {
		t.Errorf("aggregation = %+v (ok=%v), want count 2", agg, ok)
	}
}

func TestProcessBatch_SkipsUnscopedAndUnknownSystems(t *testing.T) {
	f := newFixture(levelRule(1))
	batch := records(
		&events.Event{SystemID: "s1", Level: "ERROR"},
		&events.Event{TenantID: "t1", Level: "ERROR"},
		&events.Event{TenantID: "t9", SystemID: "s9", Level: "ERROR"},
	)

	if !f.proc.processBatch(context.Background(), batch) {
		t.Fatal("processBatch() = false, want true")
	}
	if len(f.trigger.Calls) != 0 {
		t.Errorf("trigger calls = %d, want 0", len(f.trigger.Calls))
	}
	if f.rules.Calls != 1 {
		t.Errorf("rule lookups = %d, want 1", f.rules.Calls)
	}
	if f.metrics.Custom["events_unscoped"] != 2 {
		t.Errorf("events_unscoped = %d, want 2", f.metrics.Custom["events_unscoped"])
	}
}

func TestProcessBatch_MalformedEventDoesNotBlockBatch(t *testing.T) {
	f := newFixture(levelRule(1))
	batch := []consumer.Record{
		{Err: errStore},
		{Event: &events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"}},
	}

	if !f.proc.processBatch(context.Background(), batch) {
		t.Fatal("processBatch() = false, want true")
	}
	if len(f.trigger.Calls) != 1 {
		t.Errorf("trigger calls = %d, want 1", len(f.trigger.Calls))
	}
	if f.metrics.Custom["events_malformed"] != 1 {
		t.Errorf("events_malformed = %d, want 1", f.metrics.Custom["events_malformed"])
	}
}

func TestProcessBatch_PanickingEvaluationIsContained(t *testing.T) {
	f := newFixture(levelRule(1))
	f.proc.matcher = PanicMatcher{}
	batch := records(
		&events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"},
		&events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"},
	)

	if !f.proc.processBatch(context.Background(), batch) {
		t.Fatal("processBatch() = false, per-event faults must not withhold the commit")
	}
	if f.metrics.Errors != 2 {
		t.Errorf("errors = %d, want 2", f.metrics.Errors)
	}
}

func TestProcessBatch_RuleLookupErrorIsPerEvent(t *testing.T) {
	f := newFixture(levelRule(1))
	f.rules.Err = errStore

	if !f.proc.processBatch(context.Background(), records(&events.Event{TenantID: "t1", SystemID: "s1"})) {
		t.Fatal("processBatch() = false, want true")
	}
	if f.metrics.Errors != 1 {
		t.Errorf("errors = %d, want 1", f.metrics.Errors)
	}
}

func TestProcessBatch_CancelledContextWithholdsCommit(t *testing.T) {
	f := newFixture(levelRule(1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if f.proc.processBatch(ctx, records(&events.Event{TenantID: "t1", SystemID: "s1"})) {
		t.Error("processBatch() = true for an interrupted batch")
	}
}

func TestOnMatch_RejectedTriggerLeavesSilenceOpen(t *testing.T) {
	f := newFixture(levelRule(1))
	f.pool.Reject = true
	ev := &events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"}

	f.proc.processBatch(context.Background(), records(ev))
	if _, ok := f.silencer.GetSilence(1, "t1", "s1", rules.ScopeRule, ""); ok {
		t.Fatal("silence recorded for a rejected trigger")
	}

	f.pool.Reject = false
	f.proc.processBatch(context.Background(), records(ev))
	if len(f.trigger.Calls) != 1 {
		t.Errorf("trigger calls = %d, want 1 after the queue drains", len(f.trigger.Calls))
	}
}

func TestOnMatch_EscalationAndSuppressedCount(t *testing.T) {
	f := newFixture(levelRule(1))
	ev := &events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"}

	f.proc.processBatch(context.Background(), records(ev, ev, ev))

	// Same silence key, higher severity: escalates and carries the suppressed count.
	f.proc.onMatch(rules.Rule{ID: 1, TenantID: "t1", SystemID: "s1", Level: rules.LevelCritical}, ev)

	if len(f.trigger.Calls) != 2 {
		t.Fatalf("trigger calls = %d, want 2", len(f.trigger.Calls))
	}
	if got := f.trigger.Calls[1].Suppressed; got != 2 {
		t.Errorf("escalated alert suppressed = %d, want 2", got)
	}
}

func TestProcessBatch_ContinuousFailureScenario(t *testing.T) {
	rule := rules.Rule{
		ID: 10, TenantID: "t1", SystemID: "s1", Name: "order create failing",
		Kind: rules.KindContinuousRequest, MonitorTarget: "/api/order/create",
		ConditionOperator: ">", ConditionValue: "5", Level: rules.LevelCritical, Enabled: true,
	}
	f := newFixture(rule)
	failing := &events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR", RequestURL: "/api/order/create", StatusCode: intPtr(500)}
	other := &events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR", RequestURL: "/api/pay", StatusCode: intPtr(500)}

	batch := records(failing, failing, other, failing, failing, failing)
	f.proc.processBatch(context.Background(), batch)
	if len(f.trigger.Calls) != 0 {
		t.Fatalf("trigger calls after 5 failures = %d, want 0", len(f.trigger.Calls))
	}

	f.proc.processBatch(context.Background(), records(failing, failing))
	if len(f.trigger.Calls) != 1 {
		t.Errorf("trigger calls after 7 failures = %d, want 1 (second is silenced)", len(f.trigger.Calls))
	}
}

func TestRun_CommitsProcessedBatches(t *testing.T) {
	f := newFixture(levelRule(1))
	f.reader.Batches = [][]consumer.Record{
		records(&events.Event{TenantID: "t1", SystemID: "s1", Level: "ERROR"}),
		records(&events.Event{TenantID: "t1", SystemID: "s1", Level: "INFO"}),
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.proc.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for f.reader.CommittedCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := f.reader.CommittedCount(); got != 2 {
		t.Errorf("committed batches = %d, want 2", got)
	}
}

func TestRun_ReadErrorDoesNotStopLoop(t *testing.T) {
	f := newFixture()
	f.reader.ReadErr = errStore

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := f.proc.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if f.reader.CommittedCount() != 0 {
		t.Error("nothing should be committed after read errors")
	}
}
