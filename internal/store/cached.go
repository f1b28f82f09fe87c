package store

import (
	"context"

	"github.com/onstaq/automation-engine/internal/automation"
)

// RulesCache is the subset of cache.RulesCache CachedRuleStore needs.
type RulesCache interface {
	Get() []*automation.Rule
	Set(rules []*automation.Rule)
	Invalidate()
}

// ruleStore is the persistence surface CachedRuleStore wraps; *RuleStore
// satisfies it.
type ruleStore interface {
	CreateRule(ctx context.Context, rule *automation.Rule) error
	GetRule(ctx context.Context, ruleID string) (*automation.Rule, error)
	ListRules(ctx context.Context, enabledOnly bool) ([]*automation.Rule, error)
	UpdateRule(ctx context.Context, rule *automation.Rule) error
	SetEnabled(ctx context.Context, ruleID string, enabled bool) error
	DeleteRule(ctx context.Context, ruleID string) error
}

// CachedRuleStore wraps a RuleStore with a RulesCache so a hot ListRules
// path (the trigger manager's startup scan, the agent-tools schema surface)
// doesn't round-trip to Postgres on every call. Writes invalidate eagerly;
// ListRules refills the cache on a miss.
type CachedRuleStore struct {
	underlying ruleStore
	cache      RulesCache
}

// NewCachedRuleStore wraps rules with cache.
func NewCachedRuleStore(rules *RuleStore, cache RulesCache) *CachedRuleStore {
	return &CachedRuleStore{underlying: rules, cache: cache}
}

func (c *CachedRuleStore) CreateRule(ctx context.Context, rule *automation.Rule) error {
	if err := c.underlying.CreateRule(ctx, rule); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

// GetRule resolves a single rule directly from the underlying store; it is
// not cached since agent callers typically already have the id.
func (c *CachedRuleStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	return c.underlying.GetRule(ctx, ruleID)
}

// ListRules serves from cache on a hit. enabledOnly filters the cached (or
// freshly loaded) full list rather than caching per-filter results, so a
// write only has to invalidate one entry.
func (c *CachedRuleStore) ListRules(ctx context.Context, enabledOnly bool) ([]*automation.Rule, error) {
	all := c.cache.Get()
	if all == nil {
		fresh, err := c.underlying.ListRules(ctx, false)
		if err != nil {
			return nil, err
		}
		c.cache.Set(fresh)
		all = fresh
	}
	if !enabledOnly {
		return all, nil
	}
	var filtered []*automation.Rule
	for _, r := range all {
		if r.Enabled {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (c *CachedRuleStore) UpdateRule(ctx context.Context, rule *automation.Rule) error {
	if err := c.underlying.UpdateRule(ctx, rule); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

func (c *CachedRuleStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	if err := c.underlying.SetEnabled(ctx, ruleID, enabled); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}

func (c *CachedRuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	if err := c.underlying.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	c.cache.Invalidate()
	return nil
}
