// Package condition implements the boolean condition tree the executor
// walks before running a branch, if/else, or standalone condition
// component: attribute / query / reference / template leaves combined by
// AND/OR/NOT inner nodes.
package condition

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
)

// Upstream is the subset of upstream access condition leaves need: ad-hoc
// query execution and reference listing.
type Upstream interface {
	ExecuteQuery(ctx context.Context, workspaceID, query string) (*template.QueryResult, error)
	ListReferences(ctx context.Context, itemID, direction, kind string) ([]automation.Item, error)
}

// Result is the diagnostic record returned alongside pass/fail.
type Result struct {
	Passed bool
	Reason string
}

// Evaluator evaluates a ConditionNode tree against an ExecutionContext.
type Evaluator struct {
	resolver *template.Resolver
	upstream Upstream
}

// New builds an Evaluator. upstream may be nil if query/reference leaves
// are never expected to run (e.g. validation-only contexts).
func New(resolver *template.Resolver, upstream Upstream) *Evaluator {
	return &Evaluator{resolver: resolver, upstream: upstream}
}

// Evaluate returns pass/fail for the given tree. Any evaluation exception
// causes the whole condition to evaluate false with a diagnostic recorded,
// per the propagation policy — evaluation errors never bubble out of
// Evaluate itself.
func (e *Evaluator) Evaluate(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) Result {
	passed, err := e.eval(ctx, execCtx, node)
	if err != nil {
		return Result{Passed: false, Reason: err.Error()}
	}
	return Result{Passed: passed}
}

func (e *Evaluator) eval(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) (bool, error) {
	if node.Operator != "" {
		return e.evalInner(ctx, execCtx, node)
	}
	switch node.Leaf {
	case automation.LeafAttribute:
		return e.evalAttribute(execCtx, node)
	case automation.LeafQuery:
		return e.evalQuery(ctx, execCtx, node)
	case automation.LeafReference:
		return e.evalReference(ctx, execCtx, node)
	case automation.LeafTemplate:
		return e.evalTemplate(ctx, execCtx, node)
	default:
		return false, fmt.Errorf("condition node has neither operator nor leaf kind")
	}
}

func (e *Evaluator) evalInner(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) (bool, error) {
	switch node.Operator {
	case automation.OpAnd:
		for _, child := range node.Children {
			ok, err := e.eval(ctx, execCtx, child)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case automation.OpOr:
		for _, child := range node.Children {
			ok, err := e.eval(ctx, execCtx, child)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case automation.OpNot:
		if len(node.Children) != 1 {
			return false, fmt.Errorf("NOT requires exactly one child, got %d", len(node.Children))
		}
		ok, err := e.eval(ctx, execCtx, node.Children[0])
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		return false, fmt.Errorf("unknown condition operator %q", node.Operator)
	}
}

func (e *Evaluator) evalAttribute(execCtx *automation.ExecutionContext, node automation.ConditionNode) (bool, error) {
	item := execCtx.Trigger.Item
	var current any
	if item != nil && item.AttributeValues != nil {
		current = item.AttributeValues[node.Field]
	}
	previous := execCtx.Trigger.PreviousValues[node.Field]

	switch node.AttrOp {
	case automation.AttrEquals:
		return looseEquals(current, node.Value), nil
	case automation.AttrNotEquals:
		return !looseEquals(current, node.Value), nil
	case automation.AttrContains:
		return strings.Contains(strings.ToLower(toStr(current)), strings.ToLower(toStr(node.Value))), nil
	case automation.AttrNotContains:
		return !strings.Contains(strings.ToLower(toStr(current)), strings.ToLower(toStr(node.Value))), nil
	case automation.AttrStartsWith:
		return strings.HasPrefix(strings.ToLower(toStr(current)), strings.ToLower(toStr(node.Value))), nil
	case automation.AttrEndsWith:
		return strings.HasSuffix(strings.ToLower(toStr(current)), strings.ToLower(toStr(node.Value))), nil
	case automation.AttrGreaterThan:
		return toNum(current) > toNum(node.Value), nil
	case automation.AttrLessThan:
		return toNum(current) < toNum(node.Value), nil
	case automation.AttrGreaterThanOrEqual:
		return toNum(current) >= toNum(node.Value), nil
	case automation.AttrLessThanOrEqual:
		return toNum(current) <= toNum(node.Value), nil
	case automation.AttrIn:
		return inSlice(current, node.Value), nil
	case automation.AttrNotIn:
		return !inSlice(current, node.Value), nil
	case automation.AttrIsNull:
		return isNullOrEmpty(current), nil
	case automation.AttrIsNotNull:
		return !isNullOrEmpty(current), nil
	case automation.AttrChangedTo:
		return looseEquals(current, node.ToVal) && !looseEquals(previous, node.ToVal), nil
	case automation.AttrChangedFrom:
		return looseEquals(previous, node.FromVal) && !looseEquals(current, node.FromVal), nil
	case automation.AttrMatchesRegex:
		re, err := regexp.Compile(toStr(node.Value))
		if err != nil {
			return false, fmt.Errorf("matches_regex: invalid pattern: %w", err)
		}
		return re.MatchString(toStr(current)), nil
	default:
		return false, nil
	}
}

func (e *Evaluator) evalQuery(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) (bool, error) {
	if e.upstream == nil {
		return false, fmt.Errorf("query condition requires an upstream client")
	}
	query, err := e.resolver.ResolveString(ctx, execCtx, node.Query)
	if err != nil {
		return false, fmt.Errorf("query condition template: %w", err)
	}
	result, err := e.upstream.ExecuteQuery(ctx, execCtx.WorkspaceID, query)
	if err != nil {
		return false, fmt.Errorf("query condition execution: %w", err)
	}
	if node.ExpectCount != nil {
		return result.TotalCount == *node.ExpectCount, nil
	}
	return result.TotalCount > 0, nil
}

func (e *Evaluator) evalReference(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) (bool, error) {
	if e.upstream == nil {
		return false, fmt.Errorf("reference condition requires an upstream client")
	}
	item := execCtx.EffectiveItem()
	if item == nil {
		return false, fmt.Errorf("reference condition has no item to inspect")
	}
	refs, err := e.upstream.ListReferences(ctx, item.ID, node.Direction, node.ReferenceKind)
	if err != nil {
		return false, fmt.Errorf("reference condition: %w", err)
	}
	exists := len(refs) > 0
	return exists == node.Exists, nil
}

func (e *Evaluator) evalTemplate(ctx context.Context, execCtx *automation.ExecutionContext, node automation.ConditionNode) (bool, error) {
	resolved, err := e.resolver.ResolveString(ctx, execCtx, node.Template)
	if err != nil {
		return false, fmt.Errorf("template condition: %w", err)
	}
	switch resolved {
	case "", "false", "0", "null", "undefined":
		return false, nil
	default:
		return true, nil
	}
}

func toStr(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func toNum(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	default:
		return 0
	}
}

// looseEquals reproduces the spec's case-insensitive string-coerced
// equality exactly: a == b || String(a).toLowerCase() == String(b).toLowerCase().
func looseEquals(a, b any) bool {
	if a == b {
		return true
	}
	return strings.EqualFold(toStr(a), toStr(b))
}

func isNullOrEmpty(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func inSlice(v, list any) bool {
	slice, ok := list.([]any)
	if !ok {
		return false
	}
	for _, e := range slice {
		if looseEquals(v, e) {
			return true
		}
	}
	return false
}
