package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logx-detector/internal/alerts"
)

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []alerts.Summary
	failFor   map[string]bool
}

func (f *fakeNotifier) NotifySummary(_ context.Context, s alerts.Summary) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor[s.TenantID] {
		return errors.New("connection refused")
	}
	f.summaries = append(f.summaries, s)
	return nil
}

type fakeMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func (m *fakeMetrics) IncrementCustom(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int)
	}
	m.counts[name]++
}

func alert(id, tenant, level string) *alerts.Alert {
	return &alerts.Alert{ID: id, TenantID: tenant, Level: level}
}

func TestFlush_EmptyQueueIsNoOp(t *testing.T) {
	n := &fakeNotifier{}
	b := New(n)
	assert.Equal(t, 0, b.Flush(context.Background()))
	assert.Empty(t, n.summaries)
}

func TestFlush_GroupsByTenant(t *testing.T) {
	n := &fakeNotifier{}
	b := New(n)
	require.True(t, b.Enqueue(alert("a1", "t2", "WARNING")))
	require.True(t, b.Enqueue(alert("a2", "t1", "INFO")))
	a3 := alert("a3", "t1", "WARNING")
	a3.SuppressedCount = 7
	require.True(t, b.Enqueue(a3))

	assert.Equal(t, 3, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
	require.Len(t, n.summaries, 2)

	t1 := n.summaries[0]
	assert.Equal(t, "t1", t1.TenantID)
	assert.Equal(t, 2, t1.Total)
	assert.Equal(t, map[string]int{"INFO": 1, "WARNING": 1}, t1.ByLevel)
	assert.Equal(t, 7, t1.Suppressed)
	assert.Equal(t, "a2", t1.Alerts[0].ID)

	t2 := n.summaries[1]
	assert.Equal(t, "t2", t2.TenantID)
	assert.Equal(t, 1, t2.Total)
}

func TestFlush_DrainsAtMostFlushSize(t *testing.T) {
	n := &fakeNotifier{}
	b := New(n, WithFlushSize(3))
	for i := 0; i < 5; i++ {
		b.Enqueue(alert(fmt.Sprintf("a%d", i), "t1", "INFO"))
	}

	assert.Equal(t, 3, b.Flush(context.Background()))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 2, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
}

func TestEnqueue_DropsWhenFull(t *testing.T) {
	m := &fakeMetrics{}
	b := New(&fakeNotifier{}, WithCapacity(2), WithMetrics(m))

	assert.True(t, b.Enqueue(alert("a1", "t1", "INFO")))
	assert.True(t, b.Enqueue(alert("a2", "t1", "INFO")))
	assert.False(t, b.Enqueue(alert("a3", "t1", "INFO")))
	assert.Equal(t, 2, b.Len())
	assert.Equal(t, 1, m.counts["notifications_dropped"])
}

func TestFlush_FailedTenantIsRequeued(t *testing.T) {
	n := &fakeNotifier{failFor: map[string]bool{"t2": true}}
	m := &fakeMetrics{}
	b := New(n, WithMetrics(m))
	b.Enqueue(alert("a1", "t1", "INFO"))
	b.Enqueue(alert("a2", "t2", "INFO"))
	b.Enqueue(alert("a3", "t2", "WARNING"))

	assert.Equal(t, 1, b.Flush(context.Background()))
	assert.Equal(t, 2, b.Len(), "failed tenant group goes back on the queue")
	assert.Equal(t, 1, m.counts["summaries_failed"])

	n.failFor = nil
	assert.Equal(t, 2, b.Flush(context.Background()))
	assert.Equal(t, 0, b.Len())
}

func TestEnqueue_ConcurrentProducers(t *testing.T) {
	b := New(&fakeNotifier{}, WithCapacity(100))
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				b.Enqueue(alert(fmt.Sprintf("a%d-%d", i, j), "t1", "INFO"))
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 100, b.Len())
}
