package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onstaq/automation-engine/internal/automation"
)

func validRule() *automation.Rule {
	return &automation.Rule{
		ID:          "rule-1",
		Name:        "Notify on create",
		WorkspaceID: "ws-1",
		Enabled:     true,
		Trigger: automation.Trigger{
			Kind:      automation.TriggerItemCreated,
			CatalogID: "cat-1",
		},
		Components: []automation.Component{
			{
				ID:   "c1",
				Type: automation.ComponentAction,
				Action: &automation.ActionNode{
					Type:   automation.ActionLog,
					Config: map[string]any{"message": "hi"},
				},
			},
		},
	}
}

func TestRuleAcceptsWellFormedRule(t *testing.T) {
	assert.NoError(t, Rule(validRule()))
}

func TestRuleRejectsMissingName(t *testing.T) {
	rule := validRule()
	rule.Name = ""
	err := Rule(rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name is required")
}

func TestRuleRejectsEmptyComponents(t *testing.T) {
	rule := validRule()
	rule.Components = nil
	err := Rule(rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one component")
}

func TestTriggerRejectsUnknownKind(t *testing.T) {
	err := Trigger(automation.Trigger{Kind: "bogus"})
	require.Error(t, err)
}

func TestTriggerRequiresCatalogForItemCreated(t *testing.T) {
	err := Trigger(automation.Trigger{Kind: automation.TriggerItemCreated})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "catalogId")
}

func TestTriggerOQLMatchRequiresQueryAndPolicy(t *testing.T) {
	err := Trigger(automation.Trigger{Kind: automation.TriggerOQLMatch})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query")

	err = Trigger(automation.Trigger{Kind: automation.TriggerOQLMatch, Query: "find x", TriggerOn: "bogus"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "triggerOn")
}

func TestConditionAndRequiresAtLeastOneChild(t *testing.T) {
	err := Condition(automation.ConditionNode{Operator: automation.OpAnd})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one child")
}

func TestConditionNotRequiresExactlyOneChild(t *testing.T) {
	leaf := automation.ConditionNode{Leaf: automation.LeafAttribute, Field: "status", AttrOp: automation.AttrEquals, Value: "open"}
	err := Condition(automation.ConditionNode{Operator: automation.OpNot, Children: []automation.ConditionNode{leaf, leaf}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exactly one child")
}

func TestConditionAttributeLeafRequiresKnownOperator(t *testing.T) {
	err := Condition(automation.ConditionNode{Leaf: automation.LeafAttribute, Field: "status", AttrOp: "bogus"})
	require.Error(t, err)
}

func TestActionRejectsUnknownType(t *testing.T) {
	err := Action(automation.ActionNode{Type: "bogus.action"})
	require.Error(t, err)
}

func TestBranchLookupItemsRequiresOQLQuery(t *testing.T) {
	err := Branch(automation.BranchNode{
		Kind:       automation.BranchLookupItems,
		Components: []automation.Component{{ID: "c1", Type: automation.ComponentAction, Action: &automation.ActionNode{Type: automation.ActionLog}}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oqlQuery")
}

func TestIfElseRequiresNonEmptyThen(t *testing.T) {
	err := IfElse(automation.IfElseNode{
		Conditions: automation.ConditionNode{Leaf: automation.LeafAttribute, Field: "status", AttrOp: automation.AttrEquals, Value: "open"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "then")
}
