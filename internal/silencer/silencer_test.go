package silencer

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logx-detector/internal/rules"
	"logx-detector/internal/state"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *countingMetrics) IncrementCustom(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[name]++
}

func TestKey(t *testing.T) {
	tests := []struct {
		name  string
		scope rules.Scope
		want  string
	}{
		{"rule scope ignores target", rules.ScopeRule, "7:t1:s1"},
		{"empty scope behaves as rule", "", "7:t1:s1"},
		{"target scope", rules.ScopeTarget, "7:t1:s1:/api/pay"},
		{"user scope", rules.ScopeUser, "7:t1:s1:/api/pay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(7, "t1", "s1", tt.scope, "/api/pay"))
		})
	}
}

func TestIsInSilencePeriod_NoStateIsNotSilenced(t *testing.T) {
	s := New()
	assert.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))
	_, ok := s.GetAggregation(1, "t1", "s1", rules.ScopeRule, "")
	assert.False(t, ok)
}

func TestSilenceIdempotence(t *testing.T) {
	clock := newFakeClock()
	metrics := &countingMetrics{}
	s := New(WithClock(clock.Now), WithMetrics(metrics))

	// First trigger emits and opens the window.
	require.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)

	// Second trigger inside the window is suppressed and aggregated.
	clock.Advance(10 * time.Second)
	assert.True(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))
	agg, ok := s.GetAggregation(1, "t1", "s1", rules.ScopeRule, "")
	require.True(t, ok)
	assert.Equal(t, 1, agg.Count)
	assert.Equal(t, clock.Now(), agg.FirstOccurrence)

	st, ok := s.GetSilence(1, "t1", "s1", rules.ScopeRule, "")
	require.True(t, ok)
	assert.Equal(t, 1, st.SuppressedCount)

	// After the window the next trigger emits again and resets the aggregation.
	clock.Advance(300 * time.Second)
	assert.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	_, ok = s.GetAggregation(1, "t1", "s1", rules.ScopeRule, "")
	assert.False(t, ok)

	st, _ = s.GetSilence(1, "t1", "s1", rules.ScopeRule, "")
	assert.Equal(t, 0, st.SuppressedCount)
	assert.Equal(t, 1, metrics.counts["alerts_suppressed"])
	assert.Equal(t, int64(1), s.LifetimeSuppressed())
}

func TestSilenceWindowDefaultsTo300Seconds(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelInfo)

	clock.Advance(299 * time.Second)
	assert.True(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 0, ""))
	clock.Advance(time.Second)
	assert.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 0, ""))
}

func TestScopesSeparateKeys(t *testing.T) {
	s := New()
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeUser, "u-1", rules.LevelWarning)

	assert.True(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeUser, 300, "u-1"))
	assert.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeUser, 300, "u-2"))
	assert.False(t, s.IsInSilencePeriod(1, "t2", "s1", rules.ScopeUser, 300, "u-1"))
}

func TestShouldEscalate(t *testing.T) {
	s := New()
	assert.False(t, s.ShouldEscalate(1, "t1", "s1", rules.ScopeRule, "", rules.LevelCritical),
		"no silence means nothing to escalate")

	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	assert.True(t, s.ShouldEscalate(1, "t1", "s1", rules.ScopeRule, "", rules.LevelCritical))
	assert.True(t, s.ShouldEscalate(1, "t1", "s1", rules.ScopeRule, "", "critical"))
	assert.False(t, s.ShouldEscalate(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning))
	assert.False(t, s.ShouldEscalate(1, "t1", "s1", rules.ScopeRule, "", rules.LevelInfo))
	assert.False(t, s.ShouldEscalate(1, "t1", "s1", rules.ScopeRule, "", "BOGUS"))
}

func TestCheck(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	rule := rules.Rule{ID: 3, Level: rules.LevelWarning, SilenceSeconds: 60}

	d, suppressed := s.Check(rule, "t1", "s1", "")
	assert.Equal(t, Emit, d)
	assert.Equal(t, 0, suppressed)
	s.RecordAlertTriggered(rule.ID, "t1", "s1", rule.SilenceScope, "", rule.Level)

	for i := 0; i < 3; i++ {
		d, _ = s.Check(rule, "t1", "s1", "")
		assert.Equal(t, Suppress, d)
	}

	// The rule was edited to CRITICAL while the WARNING silence is active.
	critical := rule
	critical.Level = rules.LevelCritical
	d, suppressed = s.Check(critical, "t1", "s1", "")
	assert.Equal(t, Escalate, d)
	assert.True(t, d.Emits())
	assert.Equal(t, 3, suppressed)

	clock.Advance(61 * time.Second)
	d, suppressed = s.Check(rule, "t1", "s1", "")
	assert.Equal(t, Emit, d)
	assert.Equal(t, 3, suppressed, "aggregation survives until the next emission is recorded")
}

func TestResetSilence(t *testing.T) {
	s := New()
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	require.True(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))

	assert.True(t, s.ResetSilence(1, "t1", "s1", rules.ScopeRule, ""))
	assert.False(t, s.ResetSilence(1, "t1", "s1", rules.ScopeRule, ""))
	assert.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))
	_, ok := s.GetAggregation(1, "t1", "s1", rules.ScopeRule, "")
	assert.False(t, ok)
}

func TestResetRuleSilence_MatchesWholeIDSegment(t *testing.T) {
	s := New()
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	s.RecordAlertTriggered(1, "t2", "s9", rules.ScopeTarget, "/x", rules.LevelWarning)
	s.RecordAlertTriggered(12, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)

	assert.Equal(t, 2, s.ResetRuleSilence(1))
	assert.False(t, s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, ""))
	assert.True(t, s.IsInSilencePeriod(12, "t1", "s1", rules.ScopeRule, 300, ""))
}

func TestCleanupExpiredSilences(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	clock.Advance(90 * time.Minute)
	s.RecordAlertTriggered(2, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, s.CleanupExpiredSilences())
	_, ok := s.GetSilence(1, "t1", "s1", rules.ScopeRule, "")
	assert.False(t, ok)
	_, ok = s.GetSilence(2, "t1", "s1", rules.ScopeRule, "")
	assert.True(t, ok)
}

func TestStatistics(t *testing.T) {
	s := New()
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	s.RecordAlertTriggered(2, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)
	s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, "")
	s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, "")
	s.IsInSilencePeriod(2, "t1", "s1", rules.ScopeRule, 300, "")

	assert.Equal(t, Stats{
		ActiveSilences:        2,
		PendingAggregations:   2,
		TotalSuppressedAlerts: 3,
	}, s.Statistics())
}

func TestConcurrentSuppressionCountsEveryTrigger(t *testing.T) {
	s := New()
	s.RecordAlertTriggered(1, "t1", "s1", rules.ScopeRule, "", rules.LevelWarning)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.IsInSilencePeriod(1, "t1", "s1", rules.ScopeRule, 300, "")
		}()
	}
	wg.Wait()

	agg, ok := s.GetAggregation(1, "t1", "s1", rules.ScopeRule, "")
	require.True(t, ok)
	assert.Equal(t, 50, agg.Count)
}

func TestSilencedDoesNotCount(t *testing.T) {
	clock := newFakeClock()
	s := New(WithClock(clock.Now))
	s.RecordAlertTriggered(1, "t", "s", rules.ScopeRule, "", rules.LevelWarning)

	clock.Advance(59 * time.Second)
	assert.True(t, s.Silenced(1, "t", "s", rules.ScopeRule, 60, ""))
	_, ok := s.GetAggregation(1, "t", "s", rules.ScopeRule, "")
	assert.False(t, ok, "Silenced must not record a suppression")
	assert.Zero(t, s.LifetimeSuppressed())

	clock.Advance(time.Second)
	assert.False(t, s.Silenced(1, "t", "s", rules.ScopeRule, 60, ""))
	assert.False(t, s.Silenced(2, "t", "s", rules.ScopeRule, 60, ""))
}

func TestWithStores(t *testing.T) {
	silences := state.NewMap[SilenceState](1)
	aggregations := state.NewMap[Aggregation](1)
	clock := newFakeClock()
	s := New(WithClock(clock.Now), WithStores(silences, aggregations))

	s.RecordAlertTriggered(3, "t", "s", rules.ScopeUser, "u1", rules.LevelInfo)
	require.True(t, s.IsInSilencePeriod(3, "t", "s", rules.ScopeUser, 300, "u1"))

	st, ok := silences.Get("3:t:s:u1")
	require.True(t, ok, "silence written to the injected store")
	assert.Equal(t, clock.Now(), st.LastAlertTime)
	agg, ok := aggregations.Get("3:t:s:u1")
	require.True(t, ok, "aggregation written to the injected store")
	assert.Equal(t, 1, agg.Count)

	// A nil store keeps the defaults.
	d := New(WithStores(nil, aggregations))
	d.RecordAlertTriggered(4, "t", "s", rules.ScopeRule, "", rules.LevelInfo)
	_, ok = silences.Get("4:t:s")
	assert.False(t, ok)
}
