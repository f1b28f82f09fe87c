package template

import (
	"fmt"
	"time"

	"github.com/onstaq/automation-engine/internal/automation"
)

// resolveRoot binds the context-root identifiers documented in the
// expression grammar: trigger, item/currentItem, env, context/variables,
// action.
func (s *evalState) resolveRoot(name string) (any, error) {
	switch name {
	case "trigger":
		return triggerToValue(&s.execCtx.Trigger), nil
	case "item", "currentItem":
		if s.hasLoopItem {
			return toGenericValue(s.loopItem), nil
		}
		return itemToValue(s.execCtx.EffectiveItem()), nil
	case "env":
		now := time.Now().UTC()
		return map[string]any{
			"NOW":   now.Format(time.RFC3339),
			"TODAY": now.Format("2006-01-02"),
		}, nil
	case "context", "variables":
		if s.execCtx.Variables == nil {
			return map[string]any{}, nil
		}
		return s.execCtx.Variables, nil
	case "action":
		out := make([]any, len(s.execCtx.ComponentResults))
		for i, r := range s.execCtx.ComponentResults {
			out[i] = componentResultToValue(r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown context root %q", name)
	}
}

func itemToValue(item *automation.Item) map[string]any {
	if item == nil {
		return nil
	}
	return map[string]any{
		"id":              item.ID,
		"key":             item.Key,
		"catalogId":       item.CatalogID,
		"attributeValues": item.AttributeValues,
		"createdBy":       item.CreatedBy,
		"updatedBy":       item.UpdatedBy,
		"createdAt":       item.CreatedAt,
		"updatedAt":       item.UpdatedAt,
	}
}

func triggerToValue(t *automation.TriggerEvent) map[string]any {
	user := ""
	if t.Item != nil {
		user = t.Item.CreatedBy
		if t.Item.UpdatedBy != "" {
			user = t.Item.UpdatedBy
		}
	}
	previous := make(map[string]any, len(t.PreviousValues))
	for k, v := range t.PreviousValues {
		previous[k] = v
	}
	oqlResults := make([]any, len(t.OQLResults))
	for i, r := range t.OQLResults {
		oqlResults[i] = map[string]any(r)
	}
	return map[string]any{
		"item":             itemToValue(t.Item),
		"previous":         previous,
		"previousValues":   previous,
		"user":             user,
		"timestamp":        t.Timestamp,
		"type":             string(t.Type),
		"manualParameters": anyMap(t.ManualParameters),
		"webhookPayload":   anyMap(t.WebhookPayload),
		"oqlResults":       oqlResults,
	}
}

func componentResultToValue(r automation.ComponentResult) map[string]any {
	children := make([]any, len(r.Children))
	for i, c := range r.Children {
		children[i] = componentResultToValue(c)
	}
	return map[string]any{
		"componentId": r.ComponentID,
		"componentType": string(r.Type),
		"actionType":  string(r.ActionType),
		"status":      string(r.Status),
		"result":      r.Result,
		"error":       r.Error,
		"durationMs":  float64(r.DurationMs),
		"children":    children,
	}
}

func anyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// toGenericValue normalizes a loop element into the JSON-like value space
// (map/slice/string/number/bool/nil) the evaluator operates on.
func toGenericValue(v any) any {
	if item, ok := v.(*automation.Item); ok {
		return itemToValue(item)
	}
	return v
}
