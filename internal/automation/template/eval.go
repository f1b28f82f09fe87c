package template

import (
	"context"
	"fmt"

	"github.com/onstaq/automation-engine/internal/automation"
)

// Upstream is the subset of upstream access the template engine needs for
// `oql:` inline queries and the `lookup(key)` special form.
type Upstream interface {
	ExecuteQuery(ctx context.Context, workspaceID, query string) (*QueryResult, error)
	LookupItemByKey(ctx context.Context, workspaceID, key string) (*automation.Item, error)
}

// QueryResult is the tabular shape OQL execution returns.
type QueryResult struct {
	TotalCount int
	Rows       []map[string]any
}

type evalState struct {
	ctx      context.Context
	execCtx  *automation.ExecutionContext
	upstream Upstream

	// hasLoopItem/loopItem override the "item"/"currentItem" root inside an
	// {{#each}} body; unlike ctx.CurrentItem (a branch-level *automation.Item)
	// a loop element can be any JSON-like value (row map, string, number).
	hasLoopItem bool
	loopItem    any
}

// withLoopItem returns a shallow copy of s bound to a new loop element.
func (s *evalState) withLoopItem(v any) *evalState {
	clone := *s
	clone.hasLoopItem = true
	clone.loopItem = v
	return &clone
}

func (s *evalState) eval(n node) (any, error) {
	switch t := n.(type) {
	case *literalNode:
		return t.value, nil

	case *pathNode:
		return s.resolveRoot(t.name)

	case *propertyNode:
		target, err := s.eval(t.target)
		if err != nil {
			return nil, err
		}
		return s.getProperty(target, t.name)

	case *indexNode:
		target, err := s.eval(t.target)
		if err != nil {
			return nil, err
		}
		idx, err := s.eval(t.index)
		if err != nil {
			return nil, err
		}
		return indexInto(target, idx)

	case *callNode:
		var value any
		var err error
		if t.target != nil {
			value, err = s.eval(t.target)
			if err != nil {
				return nil, err
			}
		}
		args := make([]any, len(t.args))
		for i, a := range t.args {
			args[i], err = s.eval(a)
			if err != nil {
				return nil, err
			}
		}
		f, ok := registry[t.name]
		if !ok {
			return nil, fmt.Errorf("unknown function %q", t.name)
		}
		return f(value, args)

	case *binaryNode:
		return s.evalBinary(t)

	case *pipeNode:
		left, err := s.eval(t.left)
		if call, ok := t.right.(*callNode); ok && call.target == nil {
			if err != nil {
				return nil, err
			}
			return s.eval(&callNode{target: &literalNode{value: left}, name: call.name, args: call.args})
		}
		if p, ok := t.right.(*pathNode); ok {
			if f, isFn := registry[p.name]; isFn {
				if err != nil {
					return nil, err
				}
				return f(left, nil)
			}
		}
		if err == nil && !isNullish(left) {
			return left, nil
		}
		return s.eval(t.right)

	case *oqlNode:
		return s.evalOQL(t.query)

	case *lookupNode:
		key, err := s.eval(t.key)
		if err != nil {
			return nil, err
		}
		if s.upstream == nil {
			return nil, fmt.Errorf("lookup() unavailable: no upstream configured")
		}
		item, err := s.upstream.LookupItemByKey(s.ctx, s.execCtx.WorkspaceID, asString(key))
		if err != nil {
			return nil, fmt.Errorf("lookup(%q): %w", asString(key), err)
		}
		return itemToValue(item), nil

	default:
		return nil, fmt.Errorf("unhandled expression node %T", n)
	}
}

func isNullish(v any) bool {
	if v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return s == ""
	}
	return false
}

func (s *evalState) evalBinary(b *binaryNode) (any, error) {
	left, err := s.eval(b.left)
	if err != nil {
		return nil, err
	}
	right, err := s.eval(b.right)
	if err != nil {
		return nil, err
	}

	switch b.op {
	case "==":
		return looseEquals(left, right), nil
	case "!=":
		return !looseEquals(left, right), nil
	case "<":
		return asNumber(left) < asNumber(right), nil
	case ">":
		return asNumber(left) > asNumber(right), nil
	case "<=":
		return asNumber(left) <= asNumber(right), nil
	case ">=":
		return asNumber(left) >= asNumber(right), nil
	case "+":
		if _, ok := left.(string); ok {
			return asString(left) + asString(right), nil
		}
		if _, ok := right.(string); ok {
			return asString(left) + asString(right), nil
		}
		return asNumber(left) + asNumber(right), nil
	case "-":
		return asNumber(left) - asNumber(right), nil
	case "*":
		return asNumber(left) * asNumber(right), nil
	case "/":
		r := asNumber(right)
		if r == 0 {
			return nil, fmt.Errorf("division by zero")
		}
		return asNumber(left) / r, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", b.op)
	}
}

func (s *evalState) evalOQL(query string) (any, error) {
	if s.upstream == nil {
		return nil, fmt.Errorf("oql: unavailable: no upstream configured")
	}
	result, err := s.upstream.ExecuteQuery(s.ctx, s.execCtx.WorkspaceID, query)
	if err != nil {
		return nil, fmt.Errorf("oql query failed: %w", err)
	}
	rows := make([]any, len(result.Rows))
	for i, r := range result.Rows {
		rows[i] = map[string]any(r)
	}
	if len(rows) == 1 {
		row := rows[0].(map[string]any)
		if len(row) == 1 {
			for _, v := range row {
				return v, nil
			}
		}
		return row, nil
	}
	return rows, nil
}

// getProperty implements the attributes->attributeValues rewrite and the
// "property access OR zero-arg function call" dual meaning of ".name".
func (s *evalState) getProperty(target any, name string) (any, error) {
	if m, ok := target.(map[string]any); ok {
		if name == "attributes" {
			if av, has := m["attributeValues"]; has {
				return av, nil
			}
		}
		if v, has := m[name]; has {
			return v, nil
		}
	}
	if f, ok := registry[name]; ok {
		return f(target, nil)
	}
	return nil, nil
}

func indexInto(target, idx any) (any, error) {
	switch t := target.(type) {
	case []any:
		i := int(asNumber(idx))
		if i < 0 || i >= len(t) {
			return nil, nil
		}
		return t[i], nil
	case map[string]any:
		return t[asString(idx)], nil
	default:
		return nil, nil
	}
}

// resolveDottedPath applies the attributes->attributeValues rewrite at
// each segment; used by map/filter/sum/avg.
func resolveDottedPath(value any, path string) any {
	cur := value
	for _, seg := range splitPath(path) {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		if seg == "attributes" {
			if av, has := m["attributeValues"]; has {
				cur = av
				continue
			}
		}
		cur = m[seg]
	}
	return cur
}

func splitPath(path string) []string {
	var out []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out = append(out, path[start:i])
			start = i + 1
		}
	}
	out = append(out, path[start:])
	return out
}
