package httpapi

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/executor"
	"github.com/onstaq/automation-engine/internal/store"
)

type fakeRuleStore struct {
	rules map[string]*automation.Rule
}

func newFakeRuleStore() *fakeRuleStore { return &fakeRuleStore{rules: map[string]*automation.Rule{}} }

func (f *fakeRuleStore) CreateRule(ctx context.Context, rule *automation.Rule) error {
	if rule.ID == "" {
		rule.ID = "rule-" + rule.Name
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	rule, ok := f.rules[ruleID]
	if !ok {
		return nil, &store.ErrNotFound{Kind: "automation", ID: ruleID}
	}
	return rule, nil
}

func (f *fakeRuleStore) ListRules(ctx context.Context, enabledOnly bool) ([]*automation.Rule, error) {
	var out []*automation.Rule
	for _, r := range f.rules {
		if enabledOnly && !r.Enabled {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeRuleStore) UpdateRule(ctx context.Context, rule *automation.Rule) error {
	if _, ok := f.rules[rule.ID]; !ok {
		return &store.ErrNotFound{Kind: "automation", ID: rule.ID}
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	rule, ok := f.rules[ruleID]
	if !ok {
		return &store.ErrNotFound{Kind: "automation", ID: ruleID}
	}
	rule.Enabled = enabled
	return nil
}

func (f *fakeRuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	if _, ok := f.rules[ruleID]; !ok {
		return &store.ErrNotFound{Kind: "automation", ID: ruleID}
	}
	delete(f.rules, ruleID)
	return nil
}

type fakeExecutionStore struct {
	execs map[string]*automation.Execution
}

func (f *fakeExecutionStore) GetExecution(ctx context.Context, executionID string) (*automation.Execution, error) {
	e, ok := f.execs[executionID]
	if !ok {
		return nil, &store.ErrNotFound{Kind: "execution", ID: executionID}
	}
	return e, nil
}

func (f *fakeExecutionStore) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*automation.Execution, error) {
	var out []*automation.Execution
	for _, e := range f.execs {
		if ruleID != "" && e.RuleID != ruleID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (f *fakeExecutionStore) Stats(ctx context.Context, ruleID string) (*store.Stats, error) {
	return &store.Stats{RuleID: ruleID, TotalRuns: len(f.execs)}, nil
}

type fakeWebhookStore struct {
	byPath map[string]*automation.WebhookSubscription
}

func (f *fakeWebhookStore) GetByPath(ctx context.Context, path string) (*automation.WebhookSubscription, error) {
	sub, ok := f.byPath[path]
	if !ok {
		return nil, &store.ErrNotFound{Kind: "webhook", ID: path}
	}
	return sub, nil
}

type fakeAuthenticator struct {
	allow bool
}

func (f fakeAuthenticator) VerifyToken(ctx context.Context, token string) (any, error) {
	if !f.allow {
		return nil, errors.New("invalid token")
	}
	return map[string]string{"id": "user-1"}, nil
}

type fakeExecutorAPI struct {
	firedRuleIDs []string
}

func (f *fakeExecutorAPI) Fire(ctx context.Context, rule *automation.Rule, trigger automation.TriggerEvent) (string, error) {
	f.firedRuleIDs = append(f.firedRuleIDs, rule.ID)
	return "exec-1", nil
}

func (f *fakeExecutorAPI) TriggerManually(ctx context.Context, ruleID string, parameters map[string]any, chainDepth int) (string, error) {
	return "exec-manual-1", nil
}

func (f *fakeExecutorAPI) Test(ctx context.Context, ruleID string, mockTrigger automation.TriggerEvent) (*executor.TestOutline, error) {
	return &executor.TestOutline{WouldExecuteComponents: []string{"log-1"}}, nil
}

func (f *fakeExecutorAPI) Reload(ctx context.Context, ruleID string) error { return nil }
func (f *fakeExecutorAPI) ActiveCount() int64                             { return 0 }
func (f *fakeExecutorAPI) QueueDepth() int                                { return 0 }

func newTestServer() (*Server, *fakeRuleStore, *fakeExecutionStore, *fakeExecutorAPI) {
	rules := newFakeRuleStore()
	execs := &fakeExecutionStore{execs: map[string]*automation.Execution{}}
	hooks := &fakeWebhookStore{byPath: map[string]*automation.WebhookSubscription{}}
	exec := &fakeExecutorAPI{}
	s := New(rules, execs, hooks, fakeAuthenticator{allow: true}, exec, nil, "default-secret")
	return s, rules, execs, exec
}

func TestHandleHealth(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateAndGetAutomationRequiresAuth(t *testing.T) {
	s, _, _, _ := newTestServer()

	body, _ := json.Marshal(&automation.Rule{
		Name:        "notify",
		WorkspaceID: "ws-1",
		Trigger:     automation.Trigger{Kind: automation.TriggerItemCreated},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/automations/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/automations/", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestHandleListAutomations(t *testing.T) {
	s, rules, _, _ := newTestServer()
	rules.rules["rule-1"] = &automation.Rule{ID: "rule-1", Name: "a", Enabled: true}

	req := httptest.NewRequest(http.MethodGet, "/api/automations/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "rule-1")
}

func TestHandleGetAutomationNotFound(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/automations/missing", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, rec.Body.String(), `"code":"not_found"`)
}

func TestHandleExecuteAutomation(t *testing.T) {
	s, rules, _, _ := newTestServer()
	rules.rules["rule-1"] = &automation.Rule{ID: "rule-1", Name: "a"}

	req := httptest.NewRequest(http.MethodPost, "/api/automations/rule-1/execute", bytes.NewReader([]byte(`{"parameters":{"x":1}}`)))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "exec-manual-1")
}

func TestHandleReloadAutomation(t *testing.T) {
	s, rules, _, _ := newTestServer()
	rules.rules["rule-1"] = &automation.Rule{ID: "rule-1", Name: "a"}

	req := httptest.NewRequest(http.MethodPost, "/api/automations/rule-1/reload", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "reloaded")
}

func TestHandleInboundWebhookValidatesSignature(t *testing.T) {
	s, rules, _, exec := newTestServer()
	rules.rules["rule-1"] = &automation.Rule{
		ID:      "rule-1",
		Name:    "on-webhook",
		Enabled: true,
		Trigger: automation.Trigger{Kind: automation.TriggerWebhookReceived, WebhookPath: "abc"},
	}

	payload := []byte(`{"hello":"world"}`)
	mac := hmac.New(sha256.New, []byte("default-secret"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound/abc", bytes.NewReader(payload))
	req.Header.Set("X-Webhook-Signature", sig)
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, exec.firedRuleIDs, 1)
	require.Equal(t, "rule-1", exec.firedRuleIDs[0])

	req2 := httptest.NewRequest(http.MethodPost, "/api/webhooks/inbound/abc", bytes.NewReader(payload))
	req2.Header.Set("X-Webhook-Signature", "deadbeef")
	rec2 := httptest.NewRecorder()
	s.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestHandleListAgentTools(t *testing.T) {
	s, _, _, _ := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/agent-tools", nil)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "list_automations")
}

func TestInvokeAgentToolExecuteAutomation(t *testing.T) {
	s, rules, _, _ := newTestServer()
	rules.rules["rule-1"] = &automation.Rule{ID: "rule-1", Name: "a"}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/agent-tools/execute_automation", bytes.NewReader([]byte(`{"id":"rule-1"}`)))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)
}
