// Package scheduler runs the detector's periodic maintenance jobs: rule refresh,
// state cleanup and notification flushes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Task is a periodic job. ctx is cancelled when the scheduler stops.
type Task func(ctx context.Context)

// Scheduler runs named tasks at fixed intervals.
type Scheduler interface {
	Every(name string, interval time.Duration, task Task) error
	Start()
	Stop(ctx context.Context) error
}

// Cron implements Scheduler on robfig/cron. A run that overlaps the previous run of the
// same job is skipped, and a panicking run is recovered and logged.
type Cron struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

var _ Scheduler = (*Cron)(nil)

// NewCron creates a stopped scheduler.
func NewCron() *Cron {
	logger := slogLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cron{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(
				cron.SkipIfStillRunning(logger),
				cron.Recover(logger),
			),
		),
		ctx:    ctx,
		cancel: cancel,
		jobs:   make(map[string]cron.EntryID),
	}
}

// Every schedules task to run every interval. Intervals are whole seconds, at least one.
func (s *Cron) Every(name string, interval time.Duration, task Task) error {
	if name == "" {
		return fmt.Errorf("job name cannot be empty")
	}
	if interval < time.Second {
		return fmt.Errorf("job %s: interval must be at least 1s, got %v", name, interval)
	}
	if task == nil {
		return fmt.Errorf("job %s: task cannot be nil", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already scheduled", name)
	}

	id := s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		start := time.Now()
		task(s.ctx)
		slog.Debug("Scheduled job finished", "job", name, "duration", time.Since(start))
	}))
	s.jobs[name] = id

	slog.Info("Job scheduled", "job", name, "interval", interval.String())
	return nil
}

// Start starts running jobs in the background.
func (s *Cron) Start() {
	s.cron.Start()
	slog.Info("Scheduler started", "jobs", len(s.jobs))
}

// Stop cancels the jobs' context and waits for running jobs, up to ctx's deadline.
func (s *Cron) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled jobs: %w", ctx.Err())
	}
}

// Jobs returns the names of the scheduled jobs.
func (s *Cron) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

// slogLogger adapts cron's logger to slog.
type slogLogger struct{}

func (slogLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (slogLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append([]interface{}{"error", err}, keysAndValues...)...)
}
