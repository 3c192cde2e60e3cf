package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	streakKeyPrefix = "detector:streak:"
	windowKeyPrefix = "detector:window:"
)

// Lua scripts keep each read-modify-write atomic on the Redis side.
const (
	// streakScript increments or resets a consecutive-failure counter.
	streakScript = `
		local key = KEYS[1]
		local failure = ARGV[1]
		local ttl = tonumber(ARGV[2])

		if failure == '1' then
			local n = redis.call('INCR', key)
			redis.call('EXPIRE', key, ttl)
			return n
		end

		redis.call('SET', key, 0, 'EX', ttl)
		return 0
	`

	// windowScript appends one occurrence, prunes everything older than the window and
	// returns the remaining cardinality.
	windowScript = `
		local key = KEYS[1]
		local now_ms = tonumber(ARGV[1])
		local window_ms = tonumber(ARGV[2])
		local member = ARGV[3]
		local ttl = tonumber(ARGV[4])

		redis.call('ZADD', key, now_ms, member)
		redis.call('ZREMRANGEBYSCORE', key, '-inf', '(' .. tostring(now_ms - window_ms))
		redis.call('EXPIRE', key, ttl)
		return redis.call('ZCARD', key)
	`
)

// Redis is a Tracker backed by Redis, for deployments that share state between
// detector instances. Idle expiry is delegated to key TTLs.
type Redis struct {
	client       *redis.Client
	streak       *redis.Script
	window       *redis.Script
	now          func() time.Time
	idleTTL      time.Duration
	scanPageSize int64
}

// Compile-time check that Redis implements Tracker.
var _ Tracker = (*Redis)(nil)

// NewRedis creates a Redis-backed tracker.
func NewRedis(client *redis.Client, idleTTL time.Duration) *Redis {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Redis{
		client:       client,
		streak:       redis.NewScript(streakScript),
		window:       redis.NewScript(windowScript),
		now:          time.Now,
		idleTTL:      idleTTL,
		scanPageSize: 500,
	}
}

func (r *Redis) ttlSeconds() int64 {
	return int64(r.idleTTL / time.Second)
}

// RecordContinuousFailure runs the streak script for key.
func (r *Redis) RecordContinuousFailure(ctx context.Context, key string, isFailure bool) (int, error) {
	flag := "0"
	if isFailure {
		flag = "1"
	}
	n, err := r.streak.Run(ctx, r.client, []string{streakKeyPrefix + key}, flag, r.ttlSeconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to record continuous failure: %w", err)
	}
	return int(n), nil
}

// RecordBatchOperation runs the window script for key.
func (r *Redis) RecordBatchOperation(ctx context.Context, key string, window time.Duration) (int, error) {
	nowMs := r.now().UnixMilli()
	ttl := r.ttlSeconds()
	if w := int64(window / time.Second); w > ttl {
		ttl = w
	}
	n, err := r.window.Run(ctx, r.client, []string{windowKeyPrefix + key},
		nowMs, window.Milliseconds(), strconv.FormatInt(nowMs, 10)+"-"+uuid.NewString(), ttl,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to record batch operation: %w", err)
	}
	return int(n), nil
}

// CleanupExpired is a no-op: Redis expires idle keys by TTL.
func (r *Redis) CleanupExpired(_ context.Context) int {
	return 0
}

// ClearRule deletes every streak and window key of ruleID using SCAN.
func (r *Redis) ClearRule(ctx context.Context, ruleID string) int {
	removed := 0
	for _, prefix := range []string{streakKeyPrefix, windowKeyPrefix} {
		iter := r.client.Scan(ctx, 0, prefix+rulePrefix(ruleID)+"*", r.scanPageSize).Iterator()
		var batch []string
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
		}
		if err := iter.Err(); err != nil {
			slog.Error("Failed to scan tracker keys", "rule_id", ruleID, "error", err)
			continue
		}
		if len(batch) == 0 {
			continue
		}
		n, err := r.client.Del(ctx, batch...).Result()
		if err != nil {
			slog.Error("Failed to delete tracker keys", "rule_id", ruleID, "error", err)
			continue
		}
		removed += int(n)
	}
	return removed
}
