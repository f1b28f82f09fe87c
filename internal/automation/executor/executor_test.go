package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/condition"
	"github.com/onstaq/automation-engine/internal/automation/template"
)

type fakeRuleStore struct {
	rules map[string]*automation.Rule
}

func (f *fakeRuleStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	r, ok := f.rules[ruleID]
	if !ok {
		return nil, assertNotFoundErr(ruleID)
	}
	return r, nil
}

type assertNotFoundErr string

func (e assertNotFoundErr) Error() string { return "rule not found: " + string(e) }

type fakeExecutionStore struct {
	mu    sync.Mutex
	execs map[string]*automation.Execution
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{execs: map[string]*automation.Execution{}}
}

func (f *fakeExecutionStore) CreateExecution(ctx context.Context, exec *automation.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *exec
	f.execs[exec.ID] = &cp
	return nil
}

func (f *fakeExecutionStore) UpdateExecution(ctx context.Context, exec *automation.Execution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *exec
	f.execs[exec.ID] = &cp
	return nil
}

func (f *fakeExecutionStore) get(id string) *automation.Execution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.execs[id]
}

type recordingActionRunner struct {
	mu         sync.Mutex
	calls      []string
	sleep      time.Duration
	fail       map[string]bool
	inFlight   int
	maxInFlight int
}

func (r *recordingActionRunner) Run(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode) (any, error) {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > r.maxInFlight {
		r.maxInFlight = r.inFlight
	}
	r.calls = append(r.calls, node.Name)
	r.mu.Unlock()

	if r.sleep > 0 {
		time.Sleep(r.sleep)
	}

	r.mu.Lock()
	r.inFlight--
	r.mu.Unlock()

	if r.fail != nil && r.fail[node.Name] {
		return nil, assertNotFoundErr("boom")
	}
	return map[string]any{"ok": true}, nil
}

func (r *recordingActionRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func simpleRule(id string, names ...string) *automation.Rule {
	components := make([]automation.Component, len(names))
	for i, n := range names {
		components[i] = automation.Component{
			ID:     n,
			Type:   automation.ComponentAction,
			Action: &automation.ActionNode{Type: automation.ActionLog, Name: n, Config: map[string]any{}},
		}
	}
	return &automation.Rule{ID: id, Name: id, WorkspaceID: "ws-1", Components: components}
}

func newTestExecutor(t *testing.T, rules *fakeRuleStore, execs *fakeExecutionStore, actions ActionRunner, maxConcurrency int) *Executor {
	t.Helper()
	conditions := condition.New(template.NewResolver(nil), nil)
	e := New(Config{MaxConcurrency: maxConcurrency}, rules, execs, conditions, actions, template.NewResolver(nil), nil)
	e.Start()
	t.Cleanup(e.Stop)
	return e
}

func TestTriggerManuallyRunsActionsAndPersistsSuccess(t *testing.T) {
	rules := &fakeRuleStore{rules: map[string]*automation.Rule{"rule-1": simpleRule("rule-1", "a", "b")}}
	execs := newFakeExecutionStore()
	actions := &recordingActionRunner{}
	e := newTestExecutor(t, rules, execs, actions, 2)

	execID, err := e.TriggerManually(context.Background(), "rule-1", map[string]any{}, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		exec := execs.get(execID)
		return exec != nil && exec.Status == automation.ExecutionSuccess
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, actions.callCount())
}

func TestActionFailureMarksExecutionFailed(t *testing.T) {
	rules := &fakeRuleStore{rules: map[string]*automation.Rule{"rule-1": simpleRule("rule-1", "a", "b")}}
	execs := newFakeExecutionStore()
	actions := &recordingActionRunner{fail: map[string]bool{"a": true}}
	e := newTestExecutor(t, rules, execs, actions, 2)

	execID, err := e.TriggerManually(context.Background(), "rule-1", map[string]any{}, 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		exec := execs.get(execID)
		return exec != nil && exec.Status == automation.ExecutionFailed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, actions.callCount(), "halted after first action failed")
}

func TestConcurrencyCapNeverExceeded(t *testing.T) {
	rules := &fakeRuleStore{rules: map[string]*automation.Rule{"rule-1": simpleRule("rule-1", "a")}}
	execs := newFakeExecutionStore()
	actions := &recordingActionRunner{sleep: 50 * time.Millisecond}
	e := newTestExecutor(t, rules, execs, actions, 2)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.TriggerManually(context.Background(), "rule-1", map[string]any{}, 0)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 10, actions.callCount())
	actions.mu.Lock()
	defer actions.mu.Unlock()
	assert.LessOrEqual(t, actions.maxInFlight, 2)
}

func TestTriggerManuallyRejectsExcessiveChainDepth(t *testing.T) {
	rules := &fakeRuleStore{rules: map[string]*automation.Rule{"rule-1": simpleRule("rule-1", "a")}}
	execs := newFakeExecutionStore()
	actions := &recordingActionRunner{}
	e := newTestExecutor(t, rules, execs, actions, 2)

	_, err := e.TriggerManually(context.Background(), "rule-1", map[string]any{}, automation.MaxChainDepth+1)
	require.Error(t, err)
}

func TestTestDryRunProducesOutlineWithoutRunningActions(t *testing.T) {
	rules := &fakeRuleStore{rules: map[string]*automation.Rule{"rule-1": simpleRule("rule-1", "a", "b")}}
	execs := newFakeExecutionStore()
	actions := &recordingActionRunner{}
	e := newTestExecutor(t, rules, execs, actions, 2)

	outline, err := e.Test(context.Background(), "rule-1", automation.TriggerEvent{Type: automation.TriggerManual})
	require.NoError(t, err)
	assert.Equal(t, []string{"action:log", "action:log"}, outline.WouldExecuteComponents)
	assert.Equal(t, 0, actions.callCount())
}
