// Package rulecache keeps the enabled rules of every tenant system in memory.
// Readers see an immutable snapshot through an atomic pointer; writers build a new
// snapshot and swap it in.
package rulecache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"logx-detector/internal/rules"
)

// RuleStore loads enabled rules.
type RuleStore interface {
	SelectAllEnabledRules(ctx context.Context) ([]rules.Rule, error)
	SelectEnabledRulesBySystem(ctx context.Context, tenantID, systemID string) ([]rules.Rule, error)
}

type snapshot struct {
	bySystem map[string][]rules.Rule
	rules    int
}

func newSnapshot(bySystem map[string][]rules.Rule) *snapshot {
	s := &snapshot{bySystem: bySystem}
	for _, rs := range bySystem {
		s.rules += len(rs)
	}
	return s
}

// Cache maps tenant systems to their enabled rules.
type Cache struct {
	store   RuleStore
	current atomic.Pointer[snapshot]

	mu         sync.Mutex
	generation uint64 // bumped by every Refresh, Invalidate and Clear
}

// New creates an empty cache backed by store.
func New(store RuleStore) *Cache {
	c := &Cache{store: store}
	c.current.Store(newSnapshot(map[string][]rules.Rule{}))
	return c
}

func cacheKey(tenantID, systemID string) string {
	return tenantID + "\x00" + systemID
}

// Get returns the enabled rules of a tenant system, loading them on a miss. A system
// without rules is cached as empty and yields nil.
func (c *Cache) Get(ctx context.Context, tenantID, systemID string) ([]rules.Rule, error) {
	key := cacheKey(tenantID, systemID)
	if rs, ok := c.current.Load().bySystem[key]; ok {
		return rs, nil
	}

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()

	loaded, err := c.store.SelectEnabledRulesBySystem(ctx, tenantID, systemID)
	if err != nil {
		return nil, fmt.Errorf("load rules for %s/%s: %w", tenantID, systemID, err)
	}
	loaded = enabledOnly(loaded)

	c.mu.Lock()
	defer c.mu.Unlock()
	// A refresh or invalidation during the load may have made it stale.
	if c.generation != gen {
		return loaded, nil
	}
	cur := c.current.Load()
	if rs, ok := cur.bySystem[key]; ok {
		return rs, nil
	}
	next := make(map[string][]rules.Rule, len(cur.bySystem)+1)
	for k, v := range cur.bySystem {
		next[k] = v
	}
	next[key] = loaded
	c.current.Store(newSnapshot(next))

	slog.Debug("Rule cache backfilled",
		"tenant_id", tenantID,
		"system_id", systemID,
		"rules_count", len(loaded),
	)
	return loaded, nil
}

// Refresh reloads every enabled rule and replaces the whole cache. On error the
// current cache is kept.
func (c *Cache) Refresh(ctx context.Context) error {
	all, err := c.store.SelectAllEnabledRules(ctx)
	if err != nil {
		return fmt.Errorf("refresh rules: %w", err)
	}

	bySystem := make(map[string][]rules.Rule)
	for _, r := range enabledOnly(all) {
		key := cacheKey(r.TenantID, r.SystemID)
		bySystem[key] = append(bySystem[key], r)
	}
	snap := newSnapshot(bySystem)

	c.mu.Lock()
	c.generation++
	c.current.Store(snap)
	c.mu.Unlock()

	slog.Info("Rule cache refreshed",
		"systems_count", len(bySystem),
		"rules_count", snap.rules,
	)
	return nil
}

// Invalidate drops one tenant system so the next Get reloads it.
func (c *Cache) Invalidate(tenantID, systemID string) {
	key := cacheKey(tenantID, systemID)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	cur := c.current.Load()
	if _, ok := cur.bySystem[key]; !ok {
		return
	}
	next := make(map[string][]rules.Rule, len(cur.bySystem))
	for k, v := range cur.bySystem {
		if k != key {
			next[k] = v
		}
	}
	c.current.Store(newSnapshot(next))
	slog.Debug("Rule cache entry invalidated", "tenant_id", tenantID, "system_id", systemID)
}

// Clear empties the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.generation++
	c.current.Store(newSnapshot(map[string][]rules.Rule{}))
	c.mu.Unlock()
	slog.Info("Rule cache cleared")
}

// Len returns the number of cached tenant systems.
func (c *Cache) Len() int {
	return len(c.current.Load().bySystem)
}

// RuleCount returns the number of cached rules.
func (c *Cache) RuleCount() int {
	return c.current.Load().rules
}

// Lookup returns a cached rule by id without touching the store.
func (c *Cache) Lookup(ruleID int64) (rules.Rule, bool) {
	for _, rs := range c.current.Load().bySystem {
		for _, r := range rs {
			if r.ID == ruleID {
				return r, true
			}
		}
	}
	return rules.Rule{}, false
}

func enabledOnly(in []rules.Rule) []rules.Rule {
	var out []rules.Rule
	for _, r := range in {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
