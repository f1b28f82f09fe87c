package action

import (
	"context"
	"fmt"

	"github.com/onstaq/automation-engine/internal/automation"
)

// resolveItem implements the shared item-addressing rule: explicit itemId,
// else itemKey (resolved via workspace-scoped lookup), else
// useTriggeredItem (default true) preferring ctx.currentItem over
// ctx.trigger.item.
func (r *Runner) resolveItem(ctx context.Context, execCtx *automation.ExecutionContext, cfg map[string]any) (*automation.Item, error) {
	if id, ok := cfg["itemId"].(string); ok && id != "" {
		return r.upstream.GetItem(ctx, id)
	}
	if key, ok := cfg["itemKey"].(string); ok && key != "" {
		return r.upstream.LookupItemByKey(ctx, execCtx.WorkspaceID, key)
	}
	useTriggered := true
	if v, ok := cfg["useTriggeredItem"].(bool); ok {
		useTriggered = v
	}
	if useTriggered {
		if item := execCtx.EffectiveItem(); item != nil {
			return item, nil
		}
	}
	return nil, fmt.Errorf("action has no addressable item (itemId/itemKey/useTriggeredItem all unresolved)")
}

// resolveCatalogID implements the catalog-addressing rule: explicit
// catalogId, else catalogName resolved case-insensitively within
// execCtx.WorkspaceID.
func (r *Runner) resolveCatalogID(ctx context.Context, execCtx *automation.ExecutionContext, cfg map[string]any) (string, error) {
	if id, ok := cfg["catalogId"].(string); ok && id != "" {
		return id, nil
	}
	if name, ok := cfg["catalogName"].(string); ok && name != "" {
		return r.upstream.FindCatalogByName(ctx, execCtx.WorkspaceID, name)
	}
	return "", fmt.Errorf("action has no addressable catalog (catalogId/catalogName both unresolved)")
}

// resolveWorkspaceID defaults to the rule's own workspace when the config
// doesn't override it.
func resolveWorkspaceID(execCtx *automation.ExecutionContext, cfg map[string]any) string {
	if id, ok := cfg["workspaceId"].(string); ok && id != "" {
		return id
	}
	return execCtx.WorkspaceID
}

func attributesFromConfig(cfg map[string]any) map[string]any {
	if m, ok := cfg["attributes"].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func stringField(cfg map[string]any, key string) string {
	s, _ := cfg[key].(string)
	return s
}
