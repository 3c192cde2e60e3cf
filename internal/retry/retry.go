// Package retry retries transient persistence failures with exponential backoff.
package retry

import (
	"context"
	"database/sql/driver"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Config defines retry behavior.
type Config struct {
	MaxRetries     int           // retries after the first attempt (0 = no retries)
	InitialBackoff time.Duration // backoff before the first retry
	MaxBackoff     time.Duration // backoff cap
	BackoffFactor  float64       // multiplier between retries
}

// DefaultConfig is used for alert persistence: at most two retries, kept short so a
// trigger task never holds a pool worker for long.
func DefaultConfig() Config {
	return Config{
		MaxRetries:     2,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
		BackoffFactor:  2.0,
	}
}

// Postgres error classes worth another attempt: connection exceptions, transaction
// rollbacks (serialization failure, deadlock), insufficient resources and operator
// intervention (admin shutdown).
var retryableClasses = map[pq.ErrorClass]bool{
	"08": true,
	"40": true,
	"53": true,
	"57": true,
}

// IsRetryable reports whether err is a transient failure. Constraint violations,
// bad input and cancelled contexts are permanent.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return retryableClasses[pqErr.Code.Class()]
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, s := range []string{"invalid", "malformed", "violates", "not found"} {
		if strings.Contains(errStr, s) {
			return false
		}
	}
	for _, s := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"broken pipe",
		"temporary",
		"too many connections",
		"try again",
	} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// WithRetry runs fn, retrying transient errors as decided by IsRetryable.
func WithRetry(ctx context.Context, cfg Config, operation string, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 0 {
				slog.Info("Operation succeeded after retry",
					"operation", operation,
					"attempt", attempt+1,
				)
			}
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			slog.Debug("Error is not retryable, failing immediately",
				"operation", operation,
				"error", err,
			)
			return err
		}
		if attempt >= cfg.MaxRetries {
			slog.Warn("Max retries exceeded",
				"operation", operation,
				"attempts", attempt+1,
				"error", err,
			)
			return err
		}

		backoff := Backoff(cfg, attempt)
		slog.Warn("Operation failed, retrying",
			"operation", operation,
			"attempt", attempt+1,
			"max_attempts", cfg.MaxRetries+1,
			"backoff", backoff,
			"error", err,
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

// Backoff returns the delay before retry number attempt+1, with ±25% jitter.
func Backoff(cfg Config, attempt int) time.Duration {
	backoff := float64(cfg.InitialBackoff) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if backoff > float64(cfg.MaxBackoff) {
		backoff = float64(cfg.MaxBackoff)
	}
	backoff += backoff * 0.25 * (rand.Float64()*2 - 1)
	return time.Duration(backoff)
}
