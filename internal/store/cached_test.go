package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/cache"
)

type fakeRuleStore struct {
	listCalls int
	rules     []*automation.Rule
}

func (f *fakeRuleStore) CreateRule(ctx context.Context, rule *automation.Rule) error {
	f.rules = append(f.rules, rule)
	return nil
}
func (f *fakeRuleStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	for _, r := range f.rules {
		if r.ID == ruleID {
			return r, nil
		}
	}
	return nil, &ErrNotFound{Kind: "automation", ID: ruleID}
}
func (f *fakeRuleStore) ListRules(ctx context.Context, enabledOnly bool) ([]*automation.Rule, error) {
	f.listCalls++
	return f.rules, nil
}
func (f *fakeRuleStore) UpdateRule(ctx context.Context, rule *automation.Rule) error { return nil }
func (f *fakeRuleStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	return nil
}
func (f *fakeRuleStore) DeleteRule(ctx context.Context, ruleID string) error { return nil }

func TestCachedRuleStoreServesListFromCache(t *testing.T) {
	underlying := &fakeRuleStore{rules: []*automation.Rule{
		{ID: "r1", Enabled: true},
		{ID: "r2", Enabled: false},
	}}
	wrapped := &CachedRuleStore{underlying: underlying, cache: cache.NewInMemory(cache.DefaultConfig())}

	list, err := wrapped.ListRules(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 1, underlying.listCalls)

	list, err = wrapped.ListRules(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, 1, underlying.listCalls, "second call should be served from cache")

	enabled, err := wrapped.ListRules(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	require.Equal(t, "r1", enabled[0].ID)
}

func TestCachedRuleStoreInvalidatesOnWrite(t *testing.T) {
	underlying := &fakeRuleStore{rules: []*automation.Rule{{ID: "r1", Enabled: true}}}
	wrapped := &CachedRuleStore{underlying: underlying, cache: cache.NewInMemory(cache.DefaultConfig())}

	_, err := wrapped.ListRules(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 1, underlying.listCalls)

	require.NoError(t, wrapped.CreateRule(context.Background(), &automation.Rule{ID: "r2"}))

	_, err = wrapped.ListRules(context.Background(), false)
	require.NoError(t, err)
	require.Equal(t, 2, underlying.listCalls, "create should invalidate the cache, forcing a refill")
}
