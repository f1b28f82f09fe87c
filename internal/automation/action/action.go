// Package action implements the ActionRunner: dispatch of the closed set
// of action types onto the upstream REST surface, with every string and
// structured config value resolved through the template engine first.
package action

import (
	"context"
	"fmt"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
	"github.com/onstaq/automation-engine/internal/upstream"
)

// Upstream is the full upstream surface the action handlers collectively
// need; *upstream.Client satisfies it.
type Upstream interface {
	ListItems(ctx context.Context, catalogID string, window upstream.ListWindow) ([]automation.Item, error)
	GetItem(ctx context.Context, itemID string) (*automation.Item, error)
	LookupItemByKey(ctx context.Context, workspaceID, key string) (*automation.Item, error)
	CreateItem(ctx context.Context, catalogID string, attributes map[string]any) (*automation.Item, error)
	UpdateItem(ctx context.Context, itemID string, attributes map[string]any) (*automation.Item, error)
	DeleteItem(ctx context.Context, itemID string) error
	ImportItems(ctx context.Context, catalogID string, rows []map[string]any, keyColumn string) (*upstream.ImportResult, error)
	AddReference(ctx context.Context, fromID, toID, kind, label string) (*upstream.Reference, error)
	RemoveReference(ctx context.Context, itemID, referenceID string) error
	AddComment(ctx context.Context, itemID, body string) (string, error)
	CreateCatalog(ctx context.Context, workspaceID, name string, options map[string]any) (string, string, error)
	FindCatalogByName(ctx context.Context, workspaceID, name string) (string, error)
	CreateAttribute(ctx context.Context, catalogID, name, attrType string, options map[string]any) (string, error)
	AddWorkspaceMember(ctx context.Context, workspaceID, userID, role string) (string, error)
	ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error)
}

// Handler executes one ActionNode against ctx and returns its result value
// (stored verbatim on the ComponentResult) or an error.
type Handler func(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error)

// Runner dispatches ActionNodes by type through a closed-set registry.
type Runner struct {
	upstream  Upstream
	resolver  *template.Resolver
	executor  ManualTrigger
	webhook   *webhookSender
	handlers  map[automation.ActionType]Handler
}

// ManualTrigger is the executor's manual-trigger entry point, needed by the
// automation.trigger action; satisfied by *executor.Executor.
type ManualTrigger interface {
	TriggerManually(ctx context.Context, ruleID string, parameters map[string]any, chainDepth int) (string, error)
}

// New builds a Runner wired to upstream, resolver, and the executor's
// manual-trigger hook (for the recursive automation.trigger action).
func New(upstream Upstream, resolver *template.Resolver, manualTrigger ManualTrigger) *Runner {
	r := &Runner{
		upstream: upstream,
		resolver: resolver,
		executor: manualTrigger,
		webhook:  newWebhookSender(),
	}
	r.handlers = map[automation.ActionType]Handler{
		automation.ActionItemCreate:         handleItemCreate,
		automation.ActionItemUpdate:         handleItemUpdate,
		automation.ActionItemDelete:         handleItemDelete,
		automation.ActionItemClone:          handleItemClone,
		automation.ActionItemTransition:     handleItemTransition,
		automation.ActionItemLookup:         handleItemLookup,
		automation.ActionAttributeSet:       handleAttributeSet,
		automation.ActionReferenceAdd:       handleReferenceAdd,
		automation.ActionReferenceRemove:    handleReferenceRemove,
		automation.ActionCommentAdd:         handleCommentAdd,
		automation.ActionItemImport:         handleItemImport,
		automation.ActionCatalogCreate:      handleCatalogCreate,
		automation.ActionAttributeCreate:    handleAttributeCreate,
		automation.ActionWorkspaceMemberAdd: handleWorkspaceMemberAdd,
		automation.ActionOQLExecute:         handleOQLExecute,
		automation.ActionWebhookSend:        handleWebhookSend,
		automation.ActionAutomationTrigger:  handleAutomationTrigger,
		automation.ActionVariableSet:        handleVariableSet,
		automation.ActionLog:                handleLog,
		automation.ActionRefetchData:        handleRefetchData,
	}
	return r
}

// Run resolves node's config against execCtx and dispatches by ActionType.
func (r *Runner) Run(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode) (any, error) {
	h, ok := r.handlers[node.Type]
	if !ok {
		return nil, fmt.Errorf("unknown action type %q", node.Type)
	}
	return h(ctx, execCtx, node, r)
}

// resolvedConfig deep-resolves every templated string in node.Config.
func (r *Runner) resolvedConfig(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode) (map[string]any, error) {
	resolved, err := r.resolver.ResolveDeep(ctx, execCtx, node.Config)
	if err != nil {
		return nil, fmt.Errorf("resolving action config: %w", err)
	}
	m, ok := resolved.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("resolved action config is not an object")
	}
	return m, nil
}
