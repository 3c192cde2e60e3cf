package dispatcher

import (
	"context"
	"log/slog"
	"sync"
)

// Pool defaults.
const (
	DefaultPoolWorkers  = 8
	DefaultPoolCapacity = 1024
)

// Task is a unit of trigger work run by the pool.
type Task func(ctx context.Context)

// Pool runs trigger tasks on a fixed number of workers fed by a bounded queue.
// Submit never blocks: when the queue is full the task is rejected.
type Pool struct {
	tasks   chan Task
	workers int
	metrics MetricsRecorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// PoolOption is a functional option for configuring a Pool.
type PoolOption func(*Pool)

// WithPoolMetrics sets a custom metrics recorder.
func WithPoolMetrics(m MetricsRecorder) PoolOption {
	return func(p *Pool) {
		if m != nil {
			p.metrics = m
		}
	}
}

// NewPool creates a pool. Non-positive sizes fall back to the defaults.
func NewPool(workers, capacity int, opts ...PoolOption) *Pool {
	if workers <= 0 {
		workers = DefaultPoolWorkers
	}
	if capacity <= 0 {
		capacity = DefaultPoolCapacity
	}
	p := &Pool{
		tasks:   make(chan Task, capacity),
		workers: workers,
		metrics: NoOpMetrics{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Tasks receive ctx.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	slog.Info("Trigger pool started", "workers", p.workers, "capacity", cap(p.tasks))
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for task := range p.tasks {
		p.run(ctx, id, task)
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.metrics.IncrementCustom("trigger_panics")
			slog.Error("Trigger task panicked", "worker_id", id, "panic", r)
		}
	}()
	task(ctx)
}

// Submit queues task. It returns false, counting the rejection, when the queue is
// full or the pool is stopped.
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.reject("stopped")
		return false
	}
	select {
	case p.tasks <- task:
		return true
	default:
		p.reject("full")
		return false
	}
}

func (p *Pool) reject(reason string) {
	p.metrics.IncrementCustom("trigger_rejected")
	slog.Warn("Trigger task rejected", "reason", reason, "capacity", cap(p.tasks))
}

// Len returns the number of queued tasks.
func (p *Pool) Len() int {
	return len(p.tasks)
}

// Stop stops accepting tasks, drains the queue and waits for the workers.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	slog.Info("Trigger pool stopped")
}
