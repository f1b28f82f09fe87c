package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onstaq/automation-engine/internal/automation"
)

// walkComponents runs components in order against execCtx, appending one
// ComponentResult per node to execCtx.ComponentResults. A failed action
// halts remaining siblings unless it opts into continueOnError; a false
// condition halts remaining siblings without being an error; branch and
// if_else components never halt their own sibling list regardless of what
// happens inside them.
func (e *Executor) walkComponents(ctx context.Context, execCtx *automation.ExecutionContext, components []automation.Component) ([]automation.ComponentResult, error) {
	for _, c := range components {
		result, haltSiblings, err := e.runComponent(ctx, execCtx, c)
		execCtx.ComponentResults = append(execCtx.ComponentResults, result)
		if err != nil && c.Type == automation.ComponentAction {
			return execCtx.ComponentResults, err
		}
		if haltSiblings {
			break
		}
	}
	return execCtx.ComponentResults, nil
}

func (e *Executor) runComponent(ctx context.Context, execCtx *automation.ExecutionContext, c automation.Component) (automation.ComponentResult, bool, error) {
	started := time.Now()

	switch c.Type {
	case automation.ComponentAction:
		return e.runAction(ctx, execCtx, c, started)

	case automation.ComponentCondition:
		return e.runCondition(ctx, execCtx, c, started)

	case automation.ComponentBranch:
		return e.runBranch(ctx, execCtx, c, started)

	case automation.ComponentIfElse:
		return e.runIfElse(ctx, execCtx, c, started)

	default:
		return automation.ComponentResult{
			ComponentID: c.ID,
			Type:        c.Type,
			Status:      automation.ResultFailed,
			Error:       fmt.Sprintf("unknown component type %q", c.Type),
			DurationMs:  time.Since(started).Milliseconds(),
		}, false, nil
	}
}

func (e *Executor) runAction(ctx context.Context, execCtx *automation.ExecutionContext, c automation.Component, started time.Time) (automation.ComponentResult, bool, error) {
	result, err := e.actions.Run(ctx, execCtx, c.Action)
	res := automation.ComponentResult{
		ComponentID: c.ID,
		Type:        c.Type,
		ActionType:  c.Action.Type,
		Result:      result,
		DurationMs:  time.Since(started).Milliseconds(),
	}
	if err != nil {
		res.Status = automation.ResultFailed
		res.Error = err.Error()
		if c.Action.ContinueOnError {
			return res, false, nil
		}
		return res, true, err
	}
	res.Status = automation.ResultSuccess
	return res, false, nil
}

func (e *Executor) runCondition(ctx context.Context, execCtx *automation.ExecutionContext, c automation.Component, started time.Time) (automation.ComponentResult, bool, error) {
	verdict := e.conditions.Evaluate(ctx, execCtx, *c.Condition)
	res := automation.ComponentResult{
		ComponentID: c.ID,
		Type:        c.Type,
		DurationMs:  time.Since(started).Milliseconds(),
	}
	if verdict.Passed {
		res.Status = automation.ResultSuccess
		return res, false, nil
	}
	res.Status = automation.ResultSkipped
	res.Error = verdict.Reason
	return res, true, nil
}

func (e *Executor) runIfElse(ctx context.Context, execCtx *automation.ExecutionContext, c automation.Component, started time.Time) (automation.ComponentResult, bool, error) {
	verdict := e.conditions.Evaluate(ctx, execCtx, c.IfElse.Conditions)
	branch := c.IfElse.Else
	if verdict.Passed {
		branch = c.IfElse.Then
	}

	child := execCtx.DeriveChildContext(execCtx.CurrentItem)
	children, _ := e.walkComponents(ctx, child, branch)
	execCtx.MergeCreatedItems(child.CreatedItems)

	return automation.ComponentResult{
		ComponentID: c.ID,
		Type:        c.Type,
		Status:      automation.ResultSuccess,
		Children:    children,
		DurationMs:  time.Since(started).Milliseconds(),
	}, false, nil
}

func (e *Executor) runBranch(ctx context.Context, execCtx *automation.ExecutionContext, c automation.Component, started time.Time) (automation.ComponentResult, bool, error) {
	items, err := e.resolveBranchItems(ctx, execCtx, c.Branch)
	if err != nil {
		return automation.ComponentResult{
			ComponentID: c.ID,
			Type:        c.Type,
			Status:      automation.ResultFailed,
			Error:       err.Error(),
			DurationMs:  time.Since(started).Milliseconds(),
		}, false, nil
	}

	var allChildren []automation.ComponentResult
	for _, item := range items {
		child := execCtx.DeriveChildContext(item)
		childResults, _ := e.walkComponents(ctx, child, c.Branch.Components)
		execCtx.MergeCreatedItems(child.CreatedItems)
		allChildren = append(allChildren, automation.ComponentResult{
			ComponentID: uuid.NewString(),
			Type:        automation.ComponentAction,
			Status:      automation.ResultSuccess,
			Children:    childResults,
		})
	}

	return automation.ComponentResult{
		ComponentID: c.ID,
		Type:        c.Type,
		Status:      automation.ResultSuccess,
		Children:    allChildren,
		DurationMs:  time.Since(started).Milliseconds(),
	}, false, nil
}

// rowToItem adapts a query result row (id/key/attributeValues shape) into
// an *automation.Item so lookup_items branches can drive the same
// DeriveChildContext path as related_items/created_items.
func rowToItem(row map[string]any) *automation.Item {
	item := &automation.Item{AttributeValues: map[string]any{}}
	for k, v := range row {
		switch k {
		case "id":
			item.ID, _ = v.(string)
		case "key":
			item.Key, _ = v.(string)
		case "catalogId":
			item.CatalogID, _ = v.(string)
		default:
			item.AttributeValues[k] = v
		}
	}
	return item
}

// resolveBranchItems resolves the items a branch iterates over. For
// related_items, upstream.ListReferences has no catalogId parameter, so
// b.CatalogID is applied as a post-filter on the resolved items instead.
func (e *Executor) resolveBranchItems(ctx context.Context, execCtx *automation.ExecutionContext, b *automation.BranchNode) ([]*automation.Item, error) {
	switch b.Kind {
	case automation.BranchCreatedItems:
		return execCtx.CreatedItems, nil

	case automation.BranchRelatedItems:
		if e.items == nil {
			return nil, fmt.Errorf("related_items branch requires an item resolver")
		}
		anchor := execCtx.EffectiveItem()
		if anchor == nil {
			return nil, fmt.Errorf("related_items branch has no anchor item")
		}
		refs, err := e.items.ListReferences(ctx, anchor.ID, b.Direction, b.ReferenceKind)
		if err != nil {
			return nil, err
		}
		out := make([]*automation.Item, 0, len(refs))
		for i := range refs {
			if b.CatalogID != "" && refs[i].CatalogID != b.CatalogID {
				continue
			}
			out = append(out, &refs[i])
		}
		return out, nil

	case automation.BranchLookupItems:
		if e.resolver == nil || e.items == nil {
			return nil, fmt.Errorf("lookup_items branch requires a template resolver and query-capable upstream")
		}
		query, err := e.resolver.ResolveString(ctx, execCtx, b.OQLQuery)
		if err != nil {
			return nil, err
		}
		result, err := e.items.ExecuteQuery(ctx, execCtx.WorkspaceID, query)
		if err != nil {
			return nil, err
		}
		out := make([]*automation.Item, 0, len(result.Rows))
		for _, row := range result.Rows {
			out = append(out, rowToItem(row))
		}
		return out, nil

	default:
		return nil, fmt.Errorf("unknown branch kind %q", b.Kind)
	}
}
