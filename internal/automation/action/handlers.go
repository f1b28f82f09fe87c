package action

import (
	"context"
	"fmt"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/logger"
)

func handleItemCreate(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	catalogID, err := r.resolveCatalogID(ctx, execCtx, cfg)
	if err != nil {
		return nil, err
	}
	item, err := r.upstream.CreateItem(ctx, catalogID, attributesFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("item.create: %w", err)
	}
	execCtx.CreatedItems = append(execCtx.CreatedItems, item)
	return map[string]any{"itemId": item.ID, "itemKey": item.Key}, nil
}

func handleItemUpdate(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	item, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("item.update: %w", err)
	}
	updated, err := r.upstream.UpdateItem(ctx, item.ID, attributesFromConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("item.update: %w", err)
	}
	return map[string]any{"itemId": updated.ID, "itemKey": updated.Key}, nil
}

func handleItemDelete(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	item, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("item.delete: %w", err)
	}
	if err := r.upstream.DeleteItem(ctx, item.ID); err != nil {
		return nil, fmt.Errorf("item.delete: %w", err)
	}
	return map[string]any{"deletedItemId": item.ID}, nil
}

func handleItemClone(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	source, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("item.clone: resolving source: %w", err)
	}
	targetCatalog := source.CatalogID
	if id, ok := cfg["targetCatalogId"].(string); ok && id != "" {
		targetCatalog = id
	}
	merged := make(map[string]any, len(source.AttributeValues))
	for k, v := range source.AttributeValues {
		merged[k] = v
	}
	if overrides, ok := cfg["overrides"].(map[string]any); ok {
		for k, v := range overrides {
			merged[k] = v
		}
	}
	clone, err := r.upstream.CreateItem(ctx, targetCatalog, merged)
	if err != nil {
		return nil, fmt.Errorf("item.clone: %w", err)
	}
	execCtx.CreatedItems = append(execCtx.CreatedItems, clone)
	return map[string]any{"itemId": clone.ID, "itemKey": clone.Key, "sourceItemId": source.ID}, nil
}

func handleItemTransition(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	item, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("item.transition: %w", err)
	}
	status := stringField(cfg, "status")
	if status == "" {
		return nil, fmt.Errorf("item.transition: status is required")
	}
	updated, err := r.upstream.UpdateItem(ctx, item.ID, map[string]any{"STATUS": status})
	if err != nil {
		return nil, fmt.Errorf("item.transition: %w", err)
	}
	return map[string]any{"itemId": updated.ID, "itemKey": updated.Key, "status": status}, nil
}

func handleItemLookup(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	query := stringField(cfg, "query")
	if query == "" {
		return nil, fmt.Errorf("item.lookup: query is required")
	}
	workspaceID := resolveWorkspaceID(execCtx, cfg)
	result, err := r.upstream.ExecuteQuery(ctx, workspaceID, query)
	if err != nil {
		return nil, fmt.Errorf("item.lookup: %w", err)
	}
	storeAs := stringField(cfg, "storeResultAs")
	if storeAs != "" {
		if execCtx.Variables == nil {
			execCtx.Variables = map[string]any{}
		}
		execCtx.Variables[storeAs] = result.Rows
	}
	return map[string]any{"totalCount": result.TotalCount, "storeResultAs": storeAs}, nil
}

func handleAttributeSet(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	item, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("attribute.set: %w", err)
	}
	name := stringField(cfg, "attributeName")
	if name == "" {
		return nil, fmt.Errorf("attribute.set: attributeName is required")
	}
	value := cfg["value"]
	updated, err := r.upstream.UpdateItem(ctx, item.ID, map[string]any{name: value})
	if err != nil {
		return nil, fmt.Errorf("attribute.set: %w", err)
	}
	return map[string]any{"itemId": updated.ID, "itemKey": updated.Key, "attributeName": name, "value": value}, nil
}

func handleReferenceAdd(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	from, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("reference.add: resolving from item: %w", err)
	}
	toID := stringField(cfg, "toItemId")
	if toID == "" {
		return nil, fmt.Errorf("reference.add: toItemId is required")
	}
	ref, err := r.upstream.AddReference(ctx, from.ID, toID, stringField(cfg, "kind"), stringField(cfg, "label"))
	if err != nil {
		return nil, fmt.Errorf("reference.add: %w", err)
	}
	return map[string]any{"referenceId": ref.ID}, nil
}

func handleReferenceRemove(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	item, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("reference.remove: %w", err)
	}
	refID := stringField(cfg, "referenceId")
	if refID == "" {
		return nil, fmt.Errorf("reference.remove: referenceId is required")
	}
	if err := r.upstream.RemoveReference(ctx, item.ID, refID); err != nil {
		return nil, fmt.Errorf("reference.remove: %w", err)
	}
	return map[string]any{"deletedReferenceId": refID}, nil
}

func handleCommentAdd(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	item, err := r.resolveItem(ctx, execCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("comment.add: %w", err)
	}
	body := stringField(cfg, "body")
	id, err := r.upstream.AddComment(ctx, item.ID, body)
	if err != nil {
		return nil, fmt.Errorf("comment.add: %w", err)
	}
	return map[string]any{"commentId": id}, nil
}

func handleItemImport(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	catalogID, err := r.resolveCatalogID(ctx, execCtx, cfg)
	if err != nil {
		return nil, err
	}
	rawRows, _ := cfg["rows"].([]any)
	rows := make([]map[string]any, 0, len(rawRows))
	for _, rr := range rawRows {
		if m, ok := rr.(map[string]any); ok {
			rows = append(rows, m)
		}
	}
	result, err := r.upstream.ImportItems(ctx, catalogID, rows, stringField(cfg, "keyColumn"))
	if err != nil {
		return nil, fmt.Errorf("item.import: %w", err)
	}
	return map[string]any{"created": result.Created, "updated": result.Updated, "failed": result.Failed}, nil
}

func handleCatalogCreate(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	workspaceID := resolveWorkspaceID(execCtx, cfg)
	name := stringField(cfg, "name")
	options, _ := cfg["options"].(map[string]any)
	id, resultName, err := r.upstream.CreateCatalog(ctx, workspaceID, name, options)
	if err != nil {
		return nil, fmt.Errorf("catalog.create: %w", err)
	}
	return map[string]any{"catalogId": id, "catalogName": resultName}, nil
}

func handleAttributeCreate(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	catalogID, err := r.resolveCatalogID(ctx, execCtx, cfg)
	if err != nil {
		return nil, err
	}
	options, _ := cfg["options"].(map[string]any)
	id, err := r.upstream.CreateAttribute(ctx, catalogID, stringField(cfg, "name"), stringField(cfg, "attributeType"), options)
	if err != nil {
		return nil, fmt.Errorf("attribute.create: %w", err)
	}
	return map[string]any{"attributeId": id}, nil
}

func handleWorkspaceMemberAdd(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	workspaceID := resolveWorkspaceID(execCtx, cfg)
	id, err := r.upstream.AddWorkspaceMember(ctx, workspaceID, stringField(cfg, "userId"), stringField(cfg, "role"))
	if err != nil {
		return nil, fmt.Errorf("workspace.member.add: %w", err)
	}
	return map[string]any{"memberId": id}, nil
}

func handleOQLExecute(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	query := stringField(cfg, "query")
	workspaceID := resolveWorkspaceID(execCtx, cfg)
	result, err := r.upstream.ExecuteQuery(ctx, workspaceID, query)
	if err != nil {
		return nil, fmt.Errorf("oql.execute: %w", err)
	}
	storeAs := stringField(cfg, "storeResultAs")
	if storeAs != "" {
		if execCtx.Variables == nil {
			execCtx.Variables = map[string]any{}
		}
		execCtx.Variables[storeAs] = result.Rows
	}
	return map[string]any{"totalCount": result.TotalCount, "rows": result.Rows}, nil
}

func handleWebhookSend(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	url := stringField(cfg, "url")
	if url == "" {
		return nil, fmt.Errorf("webhook.send: url is required")
	}
	method := stringField(cfg, "method")
	if method == "" {
		method = "POST"
	}
	headers, _ := cfg["headers"].(map[string]any)
	status, statusText, err := r.webhook.send(ctx, method, url, headers, cfg["body"])
	if err != nil {
		return nil, fmt.Errorf("webhook.send: %w", err)
	}
	return map[string]any{"status": status, "statusText": statusText}, nil
}

func handleAutomationTrigger(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	if execCtx.ChainDepth+1 > automation.MaxChainDepth {
		return nil, fmt.Errorf("automation.trigger: chain depth exceeds %d", automation.MaxChainDepth)
	}
	ruleID := stringField(cfg, "ruleId")
	parameters, _ := cfg["parameters"].(map[string]any)
	if r.executor == nil {
		return nil, fmt.Errorf("automation.trigger: no executor wired")
	}
	executionID, err := r.executor.TriggerManually(ctx, ruleID, parameters, execCtx.ChainDepth+1)
	if err != nil {
		return nil, fmt.Errorf("automation.trigger: %w", err)
	}
	return map[string]any{"triggeredAutomationId": executionID}, nil
}

func handleVariableSet(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	name := stringField(cfg, "name")
	if name == "" {
		return nil, fmt.Errorf("variable.set: name is required")
	}
	value := cfg["value"]
	if execCtx.Variables == nil {
		execCtx.Variables = map[string]any{}
	}
	execCtx.Variables[name] = value
	return map[string]any{"name": name, "value": value}, nil
}

func handleLog(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	cfg, err := r.resolvedConfig(ctx, execCtx, node)
	if err != nil {
		return nil, err
	}
	message := stringField(cfg, "message")
	logger.Info("rule log", "ruleId", execCtx.RuleID, "ruleName", execCtx.RuleName, "message", message)
	return map[string]any{"message": message}, nil
}

func handleRefetchData(ctx context.Context, execCtx *automation.ExecutionContext, node *automation.ActionNode, r *Runner) (any, error) {
	item := execCtx.EffectiveItem()
	if item == nil {
		return nil, fmt.Errorf("refetch_data: no item in context")
	}
	fresh, err := r.upstream.GetItem(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("refetch_data: %w", err)
	}
	if execCtx.CurrentItem != nil {
		execCtx.CurrentItem = fresh
	} else {
		execCtx.Trigger.Item = fresh
	}
	return map[string]any{"itemId": fresh.ID, "itemKey": fresh.Key}, nil
}
