package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onstaq/automation-engine/internal/automation"
	"github.com/onstaq/automation-engine/internal/automation/template"
)

func newCtx() *automation.ExecutionContext {
	return &automation.ExecutionContext{
		WorkspaceID: "ws-1",
		Trigger: automation.TriggerEvent{
			Item: &automation.Item{
				ID: "item-1",
				AttributeValues: map[string]any{
					"Status":   "Open",
					"Priority": float64(3),
					"Tags":     []any{"urgent", "billing"},
				},
			},
			PreviousValues: map[string]any{
				"Status": "New",
			},
		},
	}
}

func attrLeaf(field string, op automation.AttributeOperator, value any) automation.ConditionNode {
	return automation.ConditionNode{Leaf: automation.LeafAttribute, Field: field, AttrOp: op, Value: value}
}

func TestEvaluateAttributeEqualsCaseInsensitive(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := attrLeaf("Status", automation.AttrEquals, "open")
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateAttributeGreaterThan(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := attrLeaf("Priority", automation.AttrGreaterThan, float64(1))
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateAttributeChangedTo(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{
		Leaf: automation.LeafAttribute, Field: "Status", AttrOp: automation.AttrChangedTo, ToVal: "Open",
	}
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateAndShortCircuits(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{
		Operator: automation.OpAnd,
		Children: []automation.ConditionNode{
			attrLeaf("Priority", automation.AttrEquals, float64(99)),
			// With no upstream client this leaf would error if evaluated.
			{Leaf: automation.LeafQuery, Query: "SELECT 1"},
		},
	}
	r := e.Evaluate(nil, newCtx(), node)
	assert.False(t, r.Passed)
	assert.Empty(t, r.Reason)
}

func TestEvaluateOrPassesOnFirstTrue(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{
		Operator: automation.OpOr,
		Children: []automation.ConditionNode{
			attrLeaf("Priority", automation.AttrEquals, float64(99)),
			attrLeaf("Status", automation.AttrEquals, "Open"),
		},
	}
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateNotInvertsChild(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{
		Operator: automation.OpNot,
		Children: []automation.ConditionNode{attrLeaf("Status", automation.AttrEquals, "Closed")},
	}
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateNotWithWrongChildCountFails(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{Operator: automation.OpNot, Children: []automation.ConditionNode{}}
	r := e.Evaluate(nil, newCtx(), node)
	assert.False(t, r.Passed)
	assert.NotEmpty(t, r.Reason)
}

func TestEvaluateAttributeIn(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := attrLeaf("Status", automation.AttrIn, []any{"Closed", "Open"})
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateAttributeIsNull(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := attrLeaf("Missing", automation.AttrIsNull, nil)
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}

func TestEvaluateQueryLeafWithoutUpstreamFails(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{Leaf: automation.LeafQuery, Query: "SELECT 1"}
	r := e.Evaluate(nil, newCtx(), node)
	assert.False(t, r.Passed)
	assert.Contains(t, r.Reason, "upstream")
}

func TestEvaluateTemplateLeafTruthiness(t *testing.T) {
	e := New(template.NewResolver(nil), nil)
	node := automation.ConditionNode{Leaf: automation.LeafTemplate, Template: "{{trigger.item.attributes.Status}}"}
	r := e.Evaluate(nil, newCtx(), node)
	assert.True(t, r.Passed)
}
