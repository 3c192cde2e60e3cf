// Package metrics collects detector counters. Counters are published two ways: a
// periodic JSON snapshot in Redis under metrics:<service>, and a Prometheus registry
// served by the admin API.
package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	// KeyPrefix is the Redis key prefix for service snapshots.
	KeyPrefix = "metrics:"
	// SnapshotTTL is how long a snapshot stays in Redis if not refreshed.
	SnapshotTTL = 2 * time.Minute
	// DefaultReportInterval is the default interval for writing snapshots to Redis.
	DefaultReportInterval = 30 * time.Second
)

// Snapshot is the JSON document written to Redis.
type Snapshot struct {
	ServiceName string    `json:"service_name"`
	StartedAt   time.Time `json:"started_at"`
	LastUpdated time.Time `json:"last_updated"`
	Status      string    `json:"status"`

	EventsReceived  uint64 `json:"events_received"`
	EventsProcessed uint64 `json:"events_processed"`
	EventFaults     uint64 `json:"event_faults"`

	EventsPerSecond        float64 `json:"events_per_second"`
	AvgProcessingLatencyNs float64 `json:"avg_processing_latency_ns"`

	CustomCounters map[string]uint64 `json:"custom_counters,omitempty"`
}

// Collector collects and reports metrics for the detector.
type Collector struct {
	serviceName    string
	redis          *redis.Client
	startedAt      time.Time
	reportInterval time.Duration

	received  atomic.Uint64
	processed atomic.Uint64
	faults    atomic.Uint64

	totalLatencyNs atomic.Uint64
	latencyCount   atomic.Uint64

	rateMu             sync.Mutex
	lastReportTime     time.Time
	lastProcessedCount uint64

	customMu       sync.RWMutex
	customCounters map[string]*atomic.Uint64

	registry    *prometheus.Registry
	promEvents  *prometheus.CounterVec
	promCustom  *prometheus.CounterVec
	promLatency prometheus.Histogram

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewCollector creates a collector. redisClient may be nil, in which case snapshots
// are only available in process.
func NewCollector(serviceName string, redisClient *redis.Client) *Collector {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	now := time.Now().UTC()

	return &Collector{
		serviceName:    serviceName,
		redis:          redisClient,
		startedAt:      now,
		reportInterval: DefaultReportInterval,
		lastReportTime: now,
		customCounters: make(map[string]*atomic.Uint64),
		registry:       reg,
		promEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_events_total",
			Help: "Log events seen by the detector, by stage.",
		}, []string{"stage"}),
		promCustom: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "detector_custom_total",
			Help: "Named detector counters (matches, suppressions, rejections, drops).",
		}, []string{"name"}),
		promLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "detector_event_processing_seconds",
			Help:    "Time spent evaluating one event against its rules.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		stopCh: make(chan struct{}),
	}
}

// SetReportInterval sets the interval for writing snapshots to Redis.
func (c *Collector) SetReportInterval(interval time.Duration) {
	if interval > 0 {
		c.reportInterval = interval
	}
}

// Start begins periodic snapshot reporting to Redis.
func (c *Collector) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.reportInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				c.writeSnapshot(context.Background())
				return
			case <-c.stopCh:
				c.writeSnapshot(context.Background())
				return
			case <-ticker.C:
				c.writeSnapshot(ctx)
			}
		}
	}()
}

// Stop stops reporting and writes a final snapshot.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

// RecordReceived counts an event read from the stream.
func (c *Collector) RecordReceived() {
	c.received.Add(1)
	c.promEvents.WithLabelValues("received").Inc()
}

// RecordProcessed counts an evaluated event and its latency.
func (c *Collector) RecordProcessed(latency time.Duration) {
	c.processed.Add(1)
	c.totalLatencyNs.Add(uint64(latency.Nanoseconds()))
	c.latencyCount.Add(1)
	c.promEvents.WithLabelValues("processed").Inc()
	c.promLatency.Observe(latency.Seconds())
}

// RecordError counts an event that could not be processed.
func (c *Collector) RecordError() {
	c.faults.Add(1)
	c.promEvents.WithLabelValues("faulted").Inc()
}

// IncrementCustom increments a named counter.
func (c *Collector) IncrementCustom(name string) {
	c.AddCustom(name, 1)
}

// AddCustom adds value to a named counter.
func (c *Collector) AddCustom(name string, value uint64) {
	c.customMu.RLock()
	counter, exists := c.customCounters[name]
	c.customMu.RUnlock()

	if !exists {
		c.customMu.Lock()
		if counter, exists = c.customCounters[name]; !exists {
			counter = &atomic.Uint64{}
			c.customCounters[name] = counter
		}
		c.customMu.Unlock()
	}
	counter.Add(value)
	c.promCustom.WithLabelValues(name).Add(float64(value))
}

// Custom returns the current value of a named counter.
func (c *Collector) Custom(name string) uint64 {
	c.customMu.RLock()
	defer c.customMu.RUnlock()
	if counter, ok := c.customCounters[name]; ok {
		return counter.Load()
	}
	return 0
}

// RegisterGauge exposes fn as a Prometheus gauge. Used for queue depths and cache sizes.
func (c *Collector) RegisterGauge(name, help string, fn func() float64) error {
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn)
	if err := c.registry.Register(g); err != nil {
		return fmt.Errorf("register gauge %s: %w", name, err)
	}
	return nil
}

// Handler serves the Prometheus registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// GetSnapshot returns current metrics without writing to Redis.
func (c *Collector) GetSnapshot() *Snapshot {
	now := time.Now().UTC()
	processed := c.processed.Load()

	c.rateMu.Lock()
	elapsed := now.Sub(c.lastReportTime).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(processed-c.lastProcessedCount) / elapsed
	}
	c.rateMu.Unlock()

	var avgLatencyNs float64
	if n := c.latencyCount.Load(); n > 0 {
		avgLatencyNs = float64(c.totalLatencyNs.Load()) / float64(n)
	}

	c.customMu.RLock()
	custom := make(map[string]uint64, len(c.customCounters))
	for name, counter := range c.customCounters {
		custom[name] = counter.Load()
	}
	c.customMu.RUnlock()

	return &Snapshot{
		ServiceName:            c.serviceName,
		StartedAt:              c.startedAt,
		LastUpdated:            now,
		Status:                 "healthy",
		EventsReceived:         c.received.Load(),
		EventsProcessed:        processed,
		EventFaults:            c.faults.Load(),
		EventsPerSecond:        rate,
		AvgProcessingLatencyNs: avgLatencyNs,
		CustomCounters:         custom,
	}
}

func (c *Collector) writeSnapshot(ctx context.Context) {
	if c.redis == nil {
		return
	}

	snap := c.GetSnapshot()

	c.rateMu.Lock()
	c.lastReportTime = snap.LastUpdated
	c.lastProcessedCount = snap.EventsProcessed
	c.rateMu.Unlock()

	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("Failed to marshal metrics", "service", c.serviceName, "error", err)
		return
	}

	key := KeyPrefix + c.serviceName
	if err := c.redis.Set(ctx, key, data, SnapshotTTL).Err(); err != nil {
		slog.Error("Failed to write metrics to Redis", "service", c.serviceName, "error", err)
		return
	}
	slog.Debug("Metrics written to Redis", "service", c.serviceName, "key", key)
}

// ConnectRedis creates and validates a Redis connection.
func ConnectRedis(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	return client, nil
}
