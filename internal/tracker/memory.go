package tracker

import (
	"context"
	"strings"
	"time"

	"logx-detector/internal/state"
)

type streak struct {
	count       int
	lastFailure time.Time
	touched     time.Time
}

type window struct {
	stamps  []time.Time // exact mode, ascending
	buckets []bucket    // bucketed mode, ascending by start
	touched time.Time
}

type bucket struct {
	start time.Time
	count int
}

// Memory is the in-process Tracker.
type Memory struct {
	streaks     state.Store[streak]
	windows     state.Store[window]
	now         func() time.Time
	idleTTL     time.Duration
	bucketWidth time.Duration
}

// Compile-time check that Memory implements Tracker.
var _ Tracker = (*Memory)(nil)

// Option configures a Memory tracker.
type Option func(*Memory)

// WithClock sets the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) {
		if now != nil {
			m.now = now
		}
	}
}

// WithIdleTTL overrides DefaultIdleTTL.
func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Memory) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

// WithBuckets switches windows to fixed-width time buckets. Memory per key is then
// bounded by window/width instead of by the event rate, and counts are exact only to
// the bucket width at the trailing edge.
func WithBuckets(width time.Duration) Option {
	return func(m *Memory) {
		if width > 0 {
			m.bucketWidth = width
		}
	}
}

// NewMemory creates an in-process tracker.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		streaks: state.NewMap[streak](state.DefaultShards),
		windows: state.NewMap[window](state.DefaultShards),
		now:     time.Now,
		idleTTL: DefaultIdleTTL,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// RecordContinuousFailure updates the key's streak atomically.
func (m *Memory) RecordContinuousFailure(_ context.Context, key string, isFailure bool) (int, error) {
	now := m.now()
	s := m.streaks.Compute(key, func(cur streak, _ bool) (streak, bool) {
		cur.touched = now
		if isFailure {
			cur.count++
			cur.lastFailure = now
		} else {
			cur.count = 0
		}
		return cur, true
	})
	return s.count, nil
}

// RecordBatchOperation appends now, prunes entries older than now-window and returns the count.
func (m *Memory) RecordBatchOperation(_ context.Context, key string, w time.Duration) (int, error) {
	now := m.now()
	cutoff := now.Add(-w)
	count := 0
	m.windows.Compute(key, func(cur window, _ bool) (window, bool) {
		cur.touched = now
		if m.bucketWidth > 0 {
			cur.buckets = addToBucket(cur.buckets, now.Truncate(m.bucketWidth))
			cur.buckets = pruneBuckets(cur.buckets, cutoff, m.bucketWidth)
			for _, b := range cur.buckets {
				count += b.count
			}
		} else {
			cur.stamps = append(cur.stamps, now)
			cur.stamps = pruneStamps(cur.stamps, cutoff)
			count = len(cur.stamps)
		}
		return cur, true
	})
	return count, nil
}

// pruneStamps drops timestamps strictly before cutoff. Stamps are ascending.
func pruneStamps(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && stamps[i].Before(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}

func addToBucket(buckets []bucket, start time.Time) []bucket {
	if n := len(buckets); n > 0 && buckets[n-1].start.Equal(start) {
		buckets[n-1].count++
		return buckets
	}
	return append(buckets, bucket{start: start, count: 1})
}

// pruneBuckets drops buckets that end at or before cutoff.
func pruneBuckets(buckets []bucket, cutoff time.Time, width time.Duration) []bucket {
	i := 0
	for i < len(buckets) && !buckets[i].start.Add(width).After(cutoff) {
		i++
	}
	if i == 0 {
		return buckets
	}
	return append(buckets[:0], buckets[i:]...)
}

// CleanupExpired removes streaks and windows idle for longer than the idle TTL.
func (m *Memory) CleanupExpired(_ context.Context) int {
	cutoff := m.now().Add(-m.idleTTL)
	removed := m.streaks.DeleteFunc(func(_ string, s streak) bool {
		return s.touched.Before(cutoff)
	})
	removed += m.windows.DeleteFunc(func(_ string, w window) bool {
		return w.touched.Before(cutoff)
	})
	return removed
}

// ClearRule drops every key of ruleID.
func (m *Memory) ClearRule(_ context.Context, ruleID string) int {
	prefix := rulePrefix(ruleID)
	removed := m.streaks.DeleteFunc(func(k string, _ streak) bool {
		return strings.HasPrefix(k, prefix)
	})
	removed += m.windows.DeleteFunc(func(k string, _ window) bool {
		return strings.HasPrefix(k, prefix)
	})
	return removed
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	return m.streaks.Len() + m.windows.Len()
}
