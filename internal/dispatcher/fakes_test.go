package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"logx-detector/internal/alerts"
	"logx-detector/internal/database"
)

// FakeStore is a test fake for AlertStore.
type FakeStore struct {
	mu          sync.Mutex
	Alerts      map[string]*alerts.Alert
	InsertCalls int
	InsertErrs  []error // returned in order by successive InsertAlert calls
	UpdateErr   error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{Alerts: make(map[string]*alerts.Alert)}
}

func (f *FakeStore) InsertAlert(ctx context.Context, a *alerts.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.InsertCalls++
	if len(f.InsertErrs) > 0 {
		err := f.InsertErrs[0]
		f.InsertErrs = f.InsertErrs[1:]
		if err != nil {
			return err
		}
	}
	cp := *a
	f.Alerts[a.ID] = &cp
	return nil
}

func (f *FakeStore) SelectAlertByID(ctx context.Context, id string) (*alerts.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.Alerts[id]
	if !ok {
		return nil, fmt.Errorf("alert %s: %w", id, database.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *FakeStore) UpdateAlertByID(ctx context.Context, a *alerts.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UpdateErr != nil {
		return f.UpdateErr
	}
	cur, ok := f.Alerts[a.ID]
	if !ok {
		return fmt.Errorf("alert %s: %w", a.ID, database.ErrNotFound)
	}
	if cur.Status == alerts.StatusResolved {
		return fmt.Errorf("alert %s: %w", a.ID, database.ErrAlreadyResolved)
	}
	cp := *a
	f.Alerts[a.ID] = &cp
	return nil
}

// staleReadStore returns an outdated copy on load, as if another handler resolved
// the alert in between.
type staleReadStore struct {
	*FakeStore
	stale *alerts.Alert
}

func (s *staleReadStore) SelectAlertByID(ctx context.Context, id string) (*alerts.Alert, error) {
	cp := *s.stale
	return &cp, nil
}

func (f *FakeStore) MarkAlertsProcessing(ctx context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range ids {
		if a, ok := f.Alerts[id]; ok && a.Status == alerts.StatusPending {
			a.Status = alerts.StatusProcessing
			n++
		}
	}
	return n, nil
}

// FakeNotifier is a test fake for ImmediateNotifier.
type FakeNotifier struct {
	mu       sync.Mutex
	Sent     []*alerts.Alert
	NotifyFn func(ctx context.Context, a *alerts.Alert) error
}

func (f *FakeNotifier) NotifyAlert(ctx context.Context, a *alerts.Alert) error {
	if f.NotifyFn != nil {
		if err := f.NotifyFn(ctx, a); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.Sent = append(f.Sent, a)
	f.mu.Unlock()
	return nil
}

// FakeBatcher is a test fake for Enqueuer.
type FakeBatcher struct {
	mu     sync.Mutex
	Queued []*alerts.Alert
	Full   bool
}

func (f *FakeBatcher) Enqueue(a *alerts.Alert) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Full {
		return false
	}
	f.Queued = append(f.Queued, a)
	return true
}

// FakeMetrics counts custom metric increments.
type FakeMetrics struct {
	mu     sync.Mutex
	Custom map[string]int
}

func (f *FakeMetrics) IncrementCustom(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Custom == nil {
		f.Custom = make(map[string]int)
	}
	f.Custom[name]++
}

func (f *FakeMetrics) Get(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Custom[name]
}
