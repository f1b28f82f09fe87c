package trigger

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/upstream"
)

type fakeUpstream struct {
	mu      sync.Mutex
	items   map[string][]automation.Item
	history map[string][]upstream.HistoryEntry
	byID    map[string]*automation.Item
	query   *template.QueryResult
	queryErr error
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		items:   map[string][]automation.Item{},
		history: map[string][]upstream.HistoryEntry{},
		byID:    map[string]*automation.Item{},
	}
}

func (f *fakeUpstream) ListItems(ctx context.Context, catalogID string, window upstream.ListWindow) ([]automation.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[catalogID], nil
}

func (f *fakeUpstream) GetItem(ctx context.Context, itemID string) (*automation.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.byID[itemID]
	if !ok {
		return nil, errNotFound(itemID)
	}
	return item, nil
}

func (f *fakeUpstream) ListHistory(ctx context.Context, catalogID, sinceID string, limit int) ([]upstream.HistoryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history[catalogID], nil
}

func (f *fakeUpstream) ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.query, nil
}

type errNotFound string

func (e errNotFound) Error() string { return "item not found: " + string(e) }

type fakeStates struct {
	mu     sync.Mutex
	states map[string]*automation.TriggerState
}

func newFakeStates() *fakeStates {
	return &fakeStates{states: map[string]*automation.TriggerState{}}
}

func (f *fakeStates) GetTriggerState(ctx context.Context, ruleID string) (*automation.TriggerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[ruleID], nil
}

func (f *fakeStates) SaveTriggerState(ctx context.Context, state *automation.TriggerState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *state
	f.states[state.RuleID] = &cp
	return nil
}

func (f *fakeStates) get(ruleID string) *automation.TriggerState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.states[ruleID]
}

type fakeRules struct {
	rules map[string]*automation.Rule
}

func (f *fakeRules) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	r, ok := f.rules[ruleID]
	if !ok {
		return nil, errNotFound(ruleID)
	}
	return r, nil
}

type recordingFire struct {
	mu     sync.Mutex
	events []automation.TriggerEvent
}

func (r *recordingFire) fire(ctx context.Context, rule *automation.Rule, event automation.TriggerEvent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return "exec-1", nil
}

func (r *recordingFire) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func TestPollItemCreatedEmitsEventAndDeduplicates(t *testing.T) {
	up := newFakeUpstream()
	up.items["cat-1"] = []automation.Item{{ID: "item-1", CatalogID: "cat-1", CreatedAt: time.Now()}}
	states := newFakeStates()
	rules := &fakeRules{rules: map[string]*automation.Rule{}}
	recorder := &recordingFire{}
	m := New(up, states, rules, recorder.fire, time.Minute)

	rule := &automation.Rule{ID: "rule-1", Trigger: automation.Trigger{Kind: automation.TriggerItemCreated, CatalogID: "cat-1"}}
	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 1, recorder.count())

	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 1, recorder.count(), "second poll must not refire an already-seen item")
}

func TestPollOQLMatchNewResultsPrimesWithoutFiring(t *testing.T) {
	up := newFakeUpstream()
	up.query = &template.QueryResult{TotalCount: 3}
	states := newFakeStates()
	rules := &fakeRules{}
	recorder := &recordingFire{}
	m := New(up, states, rules, recorder.fire, time.Minute)

	rule := &automation.Rule{ID: "rule-1", WorkspaceID: "ws-1", Trigger: automation.Trigger{
		Kind: automation.TriggerOQLMatch, Query: "find items", TriggerOn: automation.OQLPolicyNewResults,
	}}

	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 0, recorder.count(), "first observation primes without firing")

	up.query = &template.QueryResult{TotalCount: 5}
	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 1, recorder.count(), "count increased past primed baseline")

	up.query = &template.QueryResult{TotalCount: 2}
	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 1, recorder.count(), "count decreased, new_results must not fire")
}

func TestPollOQLMatchCountChangeFiresOnAnyDelta(t *testing.T) {
	up := newFakeUpstream()
	up.query = &template.QueryResult{TotalCount: 3}
	states := newFakeStates()
	rules := &fakeRules{}
	recorder := &recordingFire{}
	m := New(up, states, rules, recorder.fire, time.Minute)

	rule := &automation.Rule{ID: "rule-1", WorkspaceID: "ws-1", Trigger: automation.Trigger{
		Kind: automation.TriggerOQLMatch, Query: "find items", TriggerOn: automation.OQLPolicyCountChange,
	}}

	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 0, recorder.count())

	up.query = &template.QueryResult{TotalCount: 1}
	m.pollOnce(context.Background(), rule)
	assert.Equal(t, 1, recorder.count())
}

func TestPollFailureDoesNotAdvanceBookmark(t *testing.T) {
	up := newFakeUpstream()
	up.queryErr = errNotFound("upstream down")
	states := newFakeStates()
	rules := &fakeRules{}
	recorder := &recordingFire{}
	m := New(up, states, rules, recorder.fire, time.Minute)

	rule := &automation.Rule{ID: "rule-1", WorkspaceID: "ws-1", Trigger: automation.Trigger{
		Kind: automation.TriggerOQLMatch, Query: "find items", TriggerOn: automation.OQLPolicyAnyResults,
	}}

	m.pollOnce(context.Background(), rule)
	assert.Nil(t, states.get("rule-1"), "failed poll must not persist a bookmark")
}

func TestStartOneInstallsPollerAndStopOneCancelsIt(t *testing.T) {
	up := newFakeUpstream()
	up.items["cat-1"] = []automation.Item{{ID: "item-1", CatalogID: "cat-1", CreatedAt: time.Now()}}
	states := newFakeStates()
	rules := &fakeRules{}
	recorder := &recordingFire{}
	m := New(up, states, rules, recorder.fire, time.Minute)
	m.running = true

	rule := &automation.Rule{ID: "rule-1", Enabled: true, Trigger: automation.Trigger{Kind: automation.TriggerItemCreated, CatalogID: "cat-1"}}
	m.StartOne(context.Background(), rule)

	require.Eventually(t, func() bool { return recorder.count() >= 1 }, time.Second, 5*time.Millisecond)
	m.StopOne(rule.ID)

	m.mu.Lock()
	_, stillWatched := m.watchers[rule.ID]
	m.mu.Unlock()
	assert.False(t, stillWatched)
}

func TestManualAndWebhookTriggersGetNoWatcher(t *testing.T) {
	up := newFakeUpstream()
	states := newFakeStates()
	rules := &fakeRules{}
	recorder := &recordingFire{}
	m := New(up, states, rules, recorder.fire, time.Minute)
	m.running = true

	rule := &automation.Rule{ID: "rule-1", Enabled: true, Trigger: automation.Trigger{Kind: automation.TriggerManual}}
	m.StartOne(context.Background(), rule)

	hook := &automation.Rule{ID: "rule-2", Enabled: true, Trigger: automation.Trigger{Kind: automation.TriggerWebhookReceived, WebhookPath: "abc"}}
	m.StartOne(context.Background(), hook)

	m.mu.Lock()
	_, watched := m.watchers[rule.ID]
	_, hookWatched := m.watchers[hook.ID]
	m.mu.Unlock()
	assert.False(t, watched)
	assert.False(t, hookWatched)
}

func TestCronNextComputesNextMinuteMatch(t *testing.T) {
	schedule, err := parseCron("30 9 * * *", "UTC")
	require.NoError(t, err)

	from := time.Date(2026, 8, 3, 9, 0, 0, 0, time.UTC)
	next := schedule.next(from)
	assert.Equal(t, 9, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.Equal(t, 3, next.Day())
}

func TestParseCronRejectsMalformedExpression(t *testing.T) {
	_, err := parseCron("not a cron", "UTC")
	require.Error(t, err)
}
