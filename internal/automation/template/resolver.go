// Package template implements the embedded expression/templating mini
// language used by every string-valued action parameter: dotted path
// navigation, function chaining with pipes, {{#each}}/{{#if}} block
// helpers, and oql:/lookup() inline upstream queries.
package template

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/logger"
)

// maxBlockExpansions bounds {{#each}}/{{#if}} processing per ResolveString
// call, per the block-processor loop-limit safeguard.
const maxBlockExpansions = 100

// Resolver parses and caches templates by source string, mirroring the
// compiled-program cache discipline the teacher's Engine uses for CEL
// programs: parse once, cache forever (template strings read off a
// persisted Rule never mutate in place — a Rule update replaces the whole
// string, which simply becomes a new cache key).
type Resolver struct {
	upstream Upstream

	mu    sync.RWMutex
	cache map[string]*template
}

// NewResolver creates a Resolver. upstream may be nil if oql:/lookup()
// expressions are never expected (e.g. in dry-run "test" mode).
func NewResolver(upstream Upstream) *Resolver {
	return &Resolver{
		upstream: upstream,
		cache:    make(map[string]*template),
	}
}

func (r *Resolver) parse(src string) (*template, error) {
	r.mu.RLock()
	t, ok := r.cache[src]
	r.mu.RUnlock()
	if ok {
		return t, nil
	}

	t, err := parseTemplate(src)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[src] = t
	r.mu.Unlock()
	return t, nil
}

// ResolveString substitutes every `{{…}}` expression in raw against
// execCtx. On a parse error for the whole template it falls back to the
// legacy dotted-path-only resolver, applied to every `{{…}}` expression
// in raw (the error policy documented for the resolver).
func (r *Resolver) ResolveString(ctx context.Context, execCtx *automation.ExecutionContext, raw string) (string, error) {
	if !strings.Contains(raw, "{{") {
		return raw, nil
	}

	t, err := r.parse(raw)
	if err != nil {
		return r.legacyResolveString(ctx, execCtx, raw)
	}

	s := &evalState{ctx: ctx, execCtx: execCtx, upstream: r.upstream}
	budget := maxBlockExpansions
	out, err := renderSegments(t.segments, s, &budget)
	if err != nil {
		return "", err
	}
	return out, nil
}

func (r *Resolver) legacyResolveString(ctx context.Context, execCtx *automation.ExecutionContext, raw string) (string, error) {
	s := &evalState{ctx: ctx, execCtx: execCtx, upstream: r.upstream}
	var out strings.Builder
	i := 0
	for i < len(raw) {
		start := strings.Index(raw[i:], "{{")
		if start < 0 {
			out.WriteString(raw[i:])
			break
		}
		out.WriteString(raw[i : i+start])
		i += start
		end := strings.Index(raw[i:], "}}")
		if end < 0 {
			out.WriteString(raw[i:])
			break
		}
		expr := strings.TrimSpace(raw[i+2 : i+end])
		i += end + 2

		val, err := s.legacyResolve(expr)
		if err != nil {
			return "", err
		}
		out.WriteString(asString(val))
	}
	return out.String(), nil
}

func renderSegments(segs []segment, s *evalState, budget *int) (string, error) {
	var out strings.Builder
	for _, seg := range segs {
		rendered, err := renderSegment(seg, s, budget)
		if err != nil {
			return "", err
		}
		out.WriteString(rendered)
	}
	return out.String(), nil
}

func renderSegment(seg segment, s *evalState, budget *int) (string, error) {
	switch t := seg.(type) {
	case *textSegment:
		return t.text, nil

	case *exprSegment:
		if t.expr == nil {
			return s.legacyExprFallback(t.raw)
		}
		val, err := s.eval(t.expr)
		if err != nil {
			return "", fmt.Errorf("template expression %q: %w", t.raw, err)
		}
		return asString(val), nil

	case *eachSegment:
		if *budget <= 0 {
			logger.Warn("template block expansion budget exceeded, leaving block unexpanded", "collection", t.collectionRaw)
			return "", nil
		}
		var coll any
		var err error
		if t.collection != nil {
			coll, err = s.eval(t.collection)
		} else {
			coll, err = s.legacyResolve(t.collectionRaw)
		}
		if err != nil {
			return "", err
		}
		items := asSlice(coll)
		var out strings.Builder
		for i, item := range items {
			if *budget <= 0 {
				logger.Warn("template block expansion budget exceeded mid-loop", "collection", t.collectionRaw)
				break
			}
			*budget--
			childState := s.withLoopItem(item)
			rendered, err := renderSegments(expandIndexPseudoVars(t.body, i, i == 0, i == len(items)-1), childState, budget)
			if err != nil {
				return "", err
			}
			out.WriteString(rendered)
		}
		return out.String(), nil

	case *ifSegment:
		if *budget <= 0 {
			logger.Warn("template block expansion budget exceeded, leaving #if unexpanded")
			return "", nil
		}
		*budget--
		cond, err := evalIfCondition(s, t.conditionRaw)
		if err != nil {
			return "", err
		}
		if cond {
			return renderSegments(t.thenBody, s, budget)
		}
		return renderSegments(t.elseBody, s, budget)

	default:
		return "", fmt.Errorf("unhandled template segment %T", seg)
	}
}

func (s *evalState) legacyExprFallback(raw string) (string, error) {
	val, err := s.legacyResolve(raw)
	if err != nil {
		return "", err
	}
	return asString(val), nil
}

// expandIndexPseudoVars eagerly substitutes {{@index}}/{{@first}}/{{@last}}
// in a copy of body's text segments before the body is otherwise evaluated,
// per the each-helper's pseudo-variable rule.
func expandIndexPseudoVars(body []segment, index int, first, last bool) []segment {
	out := make([]segment, len(body))
	for i, seg := range body {
		switch t := seg.(type) {
		case *textSegment:
			text := t.text
			text = strings.ReplaceAll(text, "{{@index}}", strconv.Itoa(index))
			text = strings.ReplaceAll(text, "{{@first}}", strconv.FormatBool(first))
			text = strings.ReplaceAll(text, "{{@last}}", strconv.FormatBool(last))
			out[i] = &textSegment{text: text}
		case *exprSegment:
			if t.raw == "@index" {
				out[i] = &textSegment{text: strconv.Itoa(index)}
			} else if t.raw == "@first" {
				out[i] = &textSegment{text: strconv.FormatBool(first)}
			} else if t.raw == "@last" {
				out[i] = &textSegment{text: strconv.FormatBool(last)}
			} else {
				out[i] = t
			}
		default:
			out[i] = seg
		}
	}
	return out
}

// evalIfCondition implements the two condition forms: "X op Y" comparisons
// and plain truthiness.
func evalIfCondition(s *evalState, raw string) (bool, error) {
	for _, op := range []string{"==", "!=", ">=", "<=", ">", "<"} {
		if idx := strings.Index(raw, op); idx > 0 {
			leftRaw := strings.TrimSpace(raw[:idx])
			rightRaw := strings.TrimSpace(raw[idx+len(op):])
			left, err := evalConditionOperand(s, leftRaw)
			if err != nil {
				return false, err
			}
			right, err := evalConditionOperand(s, rightRaw)
			if err != nil {
				return false, err
			}
			return compareOp(op, left, right), nil
		}
	}
	val, err := evalConditionOperand(s, raw)
	if err != nil {
		return false, err
	}
	return isTruthy(val), nil
}

func evalConditionOperand(s *evalState, raw string) (any, error) {
	n, err := parseExpression(raw)
	if err != nil {
		return s.legacyResolve(raw)
	}
	return s.eval(n)
}

func compareOp(op string, left, right any) bool {
	switch op {
	case "==":
		return looseEquals(left, right)
	case "!=":
		return !looseEquals(left, right)
	case ">":
		return asNumber(left) > asNumber(right)
	case "<":
		return asNumber(left) < asNumber(right)
	case ">=":
		return asNumber(left) >= asNumber(right)
	case "<=":
		return asNumber(left) <= asNumber(right)
	}
	return false
}

// ResolveDeep walks an arbitrary JSON-like structure (maps, slices,
// strings, scalars) resolving every string leaf through ResolveString and
// preserving the structure otherwise — used for action configs like
// `attributes`, `rows`, `body`, `headers`.
func (r *Resolver) ResolveDeep(ctx context.Context, execCtx *automation.ExecutionContext, value any) (any, error) {
	switch t := value.(type) {
	case string:
		return r.ResolveString(ctx, execCtx, t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, v := range t {
			resolved, err := r.ResolveDeep(ctx, execCtx, v)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, v := range t {
			resolved, err := r.ResolveDeep(ctx, execCtx, v)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return value, nil
	}
}
