package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"logx-detector/internal/alerts"
	"logx-detector/internal/consumer"
	"logx-detector/internal/dispatcher"
	"logx-detector/internal/events"
	"logx-detector/internal/rules"
)

// FakeReader is a test fake for BatchReader. It serves Batches in order, then blocks
// until the context is cancelled.
type FakeReader struct {
	mu        sync.Mutex
	Batches   [][]consumer.Record
	ReadErr   error
	CommitErr error
	Committed [][]consumer.Record
	Reads     int
}

func (f *FakeReader) ReadBatch(ctx context.Context) ([]consumer.Record, error) {
	f.mu.Lock()
	f.Reads++
	if f.ReadErr != nil {
		err := f.ReadErr
		f.mu.Unlock()
		return nil, err
	}
	if len(f.Batches) > 0 {
		b := f.Batches[0]
		f.Batches = f.Batches[1:]
		f.mu.Unlock()
		return b, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *FakeReader) Commit(ctx context.Context, batch []consumer.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = append(f.Committed, batch)
	return nil
}

func (f *FakeReader) Close() error { return nil }

func (f *FakeReader) CommittedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Committed)
}

// FakeRules is a test fake for RuleSource.
type FakeRules struct {
	Rules map[string][]rules.Rule // keyed by tenant + "/" + system
	Err   error
	Calls int
}

func (f *FakeRules) Get(ctx context.Context, tenantID, systemID string) ([]rules.Rule, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	return f.Rules[tenantID+"/"+systemID], nil
}

// FakeTrigger is a test fake for Trigger.
type FakeTrigger struct {
	mu         sync.Mutex
	Calls      []TriggerCall
	TriggerErr error
}

type TriggerCall struct {
	RuleID     int64
	TenantID   string
	Suppressed int
}

func (f *FakeTrigger) Trigger(ctx context.Context, rule rules.Rule, ev *events.Event, suppressed int) (*alerts.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, TriggerCall{RuleID: rule.ID, TenantID: ev.TenantID, Suppressed: suppressed})
	if f.TriggerErr != nil {
		return nil, f.TriggerErr
	}
	return &alerts.Alert{RuleID: rule.ID, TenantID: ev.TenantID}, nil
}

// FakePool runs accepted tasks synchronously.
type FakePool struct {
	Reject    bool
	Submitted int
}

func (f *FakePool) Submit(task dispatcher.Task) bool {
	if f.Reject {
		return false
	}
	f.Submitted++
	task(context.Background())
	return true
}

// PanicMatcher panics on every evaluation.
type PanicMatcher struct{}

func (PanicMatcher) AppliesTo(rules.Rule, *events.Event) bool { return true }

func (PanicMatcher) Evaluate(context.Context, rules.Rule, *events.Event) bool {
	panic("boom")
}

// FakeMetrics is a test fake for MetricsRecorder.
type FakeMetrics struct {
	mu        sync.Mutex
	Received  int
	Processed int
	Errors    int
	Custom    map[string]int
}

func NewFakeMetrics() *FakeMetrics {
	return &FakeMetrics{Custom: make(map[string]int)}
}

func (f *FakeMetrics) RecordReceived() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Received++
}

func (f *FakeMetrics) RecordProcessed(time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Processed++
}

func (f *FakeMetrics) RecordError() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Errors++
}

func (f *FakeMetrics) IncrementCustom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Custom[name]++
}

var errStore = errors.New("rule store unavailable")
