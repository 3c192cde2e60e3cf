// Package tracker holds per-key temporal state for stateful rule kinds:
// consecutive-failure streaks and trailing-window operation counts.
package tracker

import (
	"context"
	"strings"
	"time"
)

// DefaultIdleTTL is how long a key may go untouched before cleanup removes it.
const DefaultIdleTTL = time.Hour

// Tracker records per-key temporal state. Implementations must be safe for concurrent
// use; callers serialize calls for the same key in event-arrival order.
type Tracker interface {
	// RecordContinuousFailure increments the key's streak on failure and resets it to 0
	// on success. It returns the post-update count.
	RecordContinuousFailure(ctx context.Context, key string, isFailure bool) (int, error)
	// RecordBatchOperation records one occurrence now and returns the number of
	// occurrences whose age is within window.
	RecordBatchOperation(ctx context.Context, key string, window time.Duration) (int, error)
	// CleanupExpired removes keys idle for longer than the idle TTL and returns the count.
	CleanupExpired(ctx context.Context) int
	// ClearRule removes every key that belongs to ruleID and returns the count.
	ClearRule(ctx context.Context, ruleID string) int
}

// Key builds the state key for a rule, a tenant, a system and a dimension value.
// The rule id is always the leading segment so that ClearRule can match by prefix.
func Key(ruleID, tenantID, systemID, dimension string) string {
	var b strings.Builder
	b.Grow(len(ruleID) + len(tenantID) + len(systemID) + len(dimension) + 3)
	b.WriteString(ruleID)
	b.WriteByte(':')
	b.WriteString(tenantID)
	b.WriteByte(':')
	b.WriteString(systemID)
	b.WriteByte(':')
	b.WriteString(dimension)
	return b.String()
}

// rulePrefix is the key prefix shared by all keys of one rule.
func rulePrefix(ruleID string) string {
	return ruleID + ":"
}
