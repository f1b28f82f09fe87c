package action

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/upstream"
)

type fakeUpstream struct {
	items     map[string]*automation.Item
	created   []map[string]any
	queryRows []map[string]any
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{items: map[string]*automation.Item{}}
}

func (f *fakeUpstream) ListItems(ctx context.Context, catalogID string, window upstream.ListWindow) ([]automation.Item, error) {
	return nil, nil
}

func (f *fakeUpstream) GetItem(ctx context.Context, itemID string) (*automation.Item, error) {
	it, ok := f.items[itemID]
	if !ok {
		return nil, assertNotFound(itemID)
	}
	return it, nil
}

func (f *fakeUpstream) LookupItemByKey(ctx context.Context, workspaceID, key string) (*automation.Item, error) {
	for _, it := range f.items {
		if it.Key == key {
			return it, nil
		}
	}
	return nil, assertNotFound(key)
}

func (f *fakeUpstream) CreateItem(ctx context.Context, catalogID string, attributes map[string]any) (*automation.Item, error) {
	f.created = append(f.created, attributes)
	id := "new-item"
	item := &automation.Item{ID: id, Key: "NEW-1", CatalogID: catalogID, AttributeValues: attributes}
	f.items[id] = item
	return item, nil
}

func (f *fakeUpstream) UpdateItem(ctx context.Context, itemID string, attributes map[string]any) (*automation.Item, error) {
	it, ok := f.items[itemID]
	if !ok {
		return nil, assertNotFound(itemID)
	}
	for k, v := range attributes {
		it.AttributeValues[k] = v
	}
	return it, nil
}

func (f *fakeUpstream) DeleteItem(ctx context.Context, itemID string) error {
	delete(f.items, itemID)
	return nil
}

func (f *fakeUpstream) ImportItems(ctx context.Context, catalogID string, rows []map[string]any, keyColumn string) (*upstream.ImportResult, error) {
	return &upstream.ImportResult{Created: len(rows)}, nil
}

func (f *fakeUpstream) AddReference(ctx context.Context, fromID, toID, kind, label string) (*upstream.Reference, error) {
	return &upstream.Reference{ID: "ref-1", FromID: fromID, ToID: toID, Kind: kind}, nil
}

func (f *fakeUpstream) RemoveReference(ctx context.Context, itemID, referenceID string) error {
	return nil
}

func (f *fakeUpstream) AddComment(ctx context.Context, itemID, body string) (string, error) {
	return "comment-1", nil
}

func (f *fakeUpstream) CreateCatalog(ctx context.Context, workspaceID, name string, options map[string]any) (string, string, error) {
	return "catalog-1", name, nil
}

func (f *fakeUpstream) FindCatalogByName(ctx context.Context, workspaceID, name string) (string, error) {
	return "catalog-1", nil
}

func (f *fakeUpstream) CreateAttribute(ctx context.Context, catalogID, name, attrType string, options map[string]any) (string, error) {
	return "attr-1", nil
}

func (f *fakeUpstream) AddWorkspaceMember(ctx context.Context, workspaceID, userID, role string) (string, error) {
	return "member-1", nil
}

func (f *fakeUpstream) ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error) {
	return &template.QueryResult{TotalCount: len(f.queryRows), Rows: f.queryRows}, nil
}

func assertNotFound(id string) error {
	return &notFoundError{id: id}
}

type notFoundError struct{ id string }

func (e *notFoundError) Error() string { return "not found: " + e.id }

type fakeManualTrigger struct {
	calls int
}

func (f *fakeManualTrigger) TriggerManually(ctx context.Context, ruleID string, parameters map[string]any, chainDepth int) (string, error) {
	f.calls++
	return "execution-1", nil
}

func newTestCtx() *automation.ExecutionContext {
	return &automation.ExecutionContext{
		WorkspaceID: "ws-1",
		Variables:   map[string]any{},
		Trigger: automation.TriggerEvent{
			Item: &automation.Item{ID: "item-1", Key: "TCK-1", CatalogID: "cat-1", AttributeValues: map[string]any{"Reporter": "Alice"}},
		},
	}
}

func TestRunItemCreateAppendsCreatedItems(t *testing.T) {
	up := newFakeUpstream()
	r := New(up, template.NewResolver(nil), nil)
	execCtx := newTestCtx()
	node := &automation.ActionNode{Type: automation.ActionItemCreate, Config: map[string]any{
		"catalogId":  "cat-1",
		"attributes": map[string]any{"Name": "{{trigger.item.attributes.Reporter}}"},
	}}
	result, err := r.Run(context.Background(), execCtx, node)
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, "new-item", m["itemId"])
	require.Len(t, execCtx.CreatedItems, 1)
	assert.Equal(t, "Alice", execCtx.CreatedItems[0].AttributeValues["Name"])
}

func TestRunAttributeSetUsesTriggeredItemByDefault(t *testing.T) {
	up := newFakeUpstream()
	up.items["item-1"] = &automation.Item{ID: "item-1", AttributeValues: map[string]any{}}
	r := New(up, template.NewResolver(nil), nil)
	execCtx := newTestCtx()
	node := &automation.ActionNode{Type: automation.ActionAttributeSet, Config: map[string]any{
		"attributeName": "Status",
		"value":         "Blocked",
	}}
	result, err := r.Run(context.Background(), execCtx, node)
	require.NoError(t, err)
	m := result.(map[string]any)
	assert.Equal(t, "Blocked", m["value"])
	assert.Equal(t, "Blocked", up.items["item-1"].AttributeValues["Status"])
}

func TestRunVariableSetUpdatesContext(t *testing.T) {
	up := newFakeUpstream()
	r := New(up, template.NewResolver(nil), nil)
	execCtx := newTestCtx()
	node := &automation.ActionNode{Type: automation.ActionVariableSet, Config: map[string]any{"name": "counter", "value": float64(1)}}
	_, err := r.Run(context.Background(), execCtx, node)
	require.NoError(t, err)
	assert.Equal(t, float64(1), execCtx.Variables["counter"])
}

func TestRunAutomationTriggerRejectsOverDepth(t *testing.T) {
	up := newFakeUpstream()
	mt := &fakeManualTrigger{}
	r := New(up, template.NewResolver(nil), mt)
	execCtx := newTestCtx()
	execCtx.ChainDepth = automation.MaxChainDepth
	node := &automation.ActionNode{Type: automation.ActionAutomationTrigger, Config: map[string]any{"ruleId": "rule-2"}}
	_, err := r.Run(context.Background(), execCtx, node)
	require.Error(t, err)
	assert.Equal(t, 0, mt.calls)
}

func TestRunUnknownActionTypeFails(t *testing.T) {
	up := newFakeUpstream()
	r := New(up, template.NewResolver(nil), nil)
	execCtx := newTestCtx()
	node := &automation.ActionNode{Type: automation.ActionType("bogus")}
	_, err := r.Run(context.Background(), execCtx, node)
	require.Error(t, err)
}
