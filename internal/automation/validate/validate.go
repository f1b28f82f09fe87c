// Package validate rejects malformed Rule definitions before they are
// persisted: struct-tag field validation plus the tree invariants
// go-playground/validator's tag language can't express (exactly-one-child
// NOT nodes, closed type sets, at-least-one-child AND/OR).
package validate

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"github.com/onstaq/automation-engine/internal/automation"
)

var v = validator.New()

// Rule validates a Rule struct-tag-deep, then its Trigger and Components
// tree, aggregating every violation found rather than stopping at the
// first one so a caller can report the whole list back to the editor.
func Rule(rule *automation.Rule) error {
	var errs *multierror.Error

	if err := v.Struct(rule); err != nil {
		errs = multierror.Append(errs, flattenValidatorErr(err)...)
	}
	if rule.Name == "" {
		errs = multierror.Append(errs, fmt.Errorf("rule name is required"))
	}
	if rule.WorkspaceID == "" {
		errs = multierror.Append(errs, fmt.Errorf("rule workspaceId is required"))
	}

	if err := Trigger(rule.Trigger); err != nil {
		errs = multierror.Append(errs, err)
	}
	if len(rule.Components) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("rule must contain at least one component"))
	}
	for i, c := range rule.Components {
		if err := Component(c); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("components[%d]: %w", i, err))
		}
	}

	return errs.ErrorOrNil()
}

func flattenValidatorErr(err error) []error {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []error{err}
	}
	out := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fmt.Errorf("%s failed %q validation", fe.Namespace(), fe.Tag()))
	}
	return out
}

var pollableTriggerKinds = map[automation.TriggerKind]bool{
	automation.TriggerItemCreated:      true,
	automation.TriggerItemUpdated:      true,
	automation.TriggerItemDeleted:      true,
	automation.TriggerAttributeChanged: true,
	automation.TriggerStatusChanged:    true,
	automation.TriggerReferenceAdded:   true,
	automation.TriggerItemLinked:       true,
	automation.TriggerItemUnlinked:     true,
	automation.TriggerItemCommented:    true,
	automation.TriggerOQLMatch:         true,
	automation.TriggerSchedule:         true,
	automation.TriggerManual:           true,
	automation.TriggerWebhookReceived:  true,
}

// Trigger checks trigger.Kind is a member of the closed set and that
// kind-specific required fields are present.
func Trigger(t automation.Trigger) error {
	if !pollableTriggerKinds[t.Kind] {
		return fmt.Errorf("trigger: unknown kind %q", t.Kind)
	}

	needsCatalog := map[automation.TriggerKind]bool{
		automation.TriggerItemCreated:      true,
		automation.TriggerItemUpdated:      true,
		automation.TriggerItemDeleted:      true,
		automation.TriggerAttributeChanged: true,
		automation.TriggerStatusChanged:    true,
		automation.TriggerReferenceAdded:   true,
		automation.TriggerItemLinked:       true,
		automation.TriggerItemUnlinked:     true,
		automation.TriggerItemCommented:    true,
	}
	if needsCatalog[t.Kind] && t.CatalogID == "" {
		return fmt.Errorf("trigger %q requires catalogId", t.Kind)
	}

	switch t.Kind {
	case automation.TriggerAttributeChanged:
		if t.AttributeName == "" {
			return fmt.Errorf("trigger attribute.changed requires attributeName")
		}
	case automation.TriggerOQLMatch:
		if t.Query == "" {
			return fmt.Errorf("trigger oql.match requires query")
		}
		switch t.TriggerOn {
		case automation.OQLPolicyAnyResults, automation.OQLPolicyNewResults, automation.OQLPolicyCountChange:
		default:
			return fmt.Errorf("trigger oql.match has unknown triggerOn %q", t.TriggerOn)
		}
	case automation.TriggerSchedule:
		if t.Cron == "" {
			return fmt.Errorf("trigger schedule requires cron")
		}
	case automation.TriggerWebhookReceived:
		if t.WebhookPath == "" {
			return fmt.Errorf("trigger webhook.received requires webhookPath")
		}
	}
	return nil
}

// Component validates exactly one of Action/Condition/Branch/IfElse is
// populated, matching Type, and recurses into nested component trees.
func Component(c automation.Component) error {
	switch c.Type {
	case automation.ComponentAction:
		if c.Action == nil {
			return fmt.Errorf("componentType action requires an action node")
		}
		return Action(*c.Action)
	case automation.ComponentCondition:
		if c.Condition == nil {
			return fmt.Errorf("componentType condition requires a condition node")
		}
		return Condition(*c.Condition)
	case automation.ComponentBranch:
		if c.Branch == nil {
			return fmt.Errorf("componentType branch requires a branch node")
		}
		return Branch(*c.Branch)
	case automation.ComponentIfElse:
		if c.IfElse == nil {
			return fmt.Errorf("componentType if_else requires an ifElse node")
		}
		return IfElse(*c.IfElse)
	default:
		return fmt.Errorf("unknown componentType %q", c.Type)
	}
}

var validActionTypes = map[automation.ActionType]bool{
	automation.ActionItemCreate:         true,
	automation.ActionItemUpdate:         true,
	automation.ActionItemDelete:         true,
	automation.ActionItemClone:          true,
	automation.ActionItemTransition:     true,
	automation.ActionItemLookup:         true,
	automation.ActionAttributeSet:       true,
	automation.ActionReferenceAdd:       true,
	automation.ActionReferenceRemove:    true,
	automation.ActionCommentAdd:         true,
	automation.ActionItemImport:         true,
	automation.ActionCatalogCreate:      true,
	automation.ActionAttributeCreate:    true,
	automation.ActionWorkspaceMemberAdd: true,
	automation.ActionOQLExecute:         true,
	automation.ActionWebhookSend:        true,
	automation.ActionAutomationTrigger:  true,
	automation.ActionVariableSet:        true,
	automation.ActionLog:                true,
	automation.ActionRefetchData:        true,
}

// Action checks node.Type is a member of the closed 20-value action set.
func Action(node automation.ActionNode) error {
	if !validActionTypes[node.Type] {
		return fmt.Errorf("unknown action type %q", node.Type)
	}
	return nil
}

// Condition recursively validates a condition tree: inner AND/OR nodes
// need at least one child, NOT needs exactly one, and leaves must carry a
// known leaf kind with the fields that kind requires.
func Condition(node automation.ConditionNode) error {
	if node.Leaf != "" {
		return validateLeaf(node)
	}

	switch node.Operator {
	case automation.OpAnd, automation.OpOr:
		if len(node.Children) == 0 {
			return fmt.Errorf("operator %q requires at least one child", node.Operator)
		}
	case automation.OpNot:
		if len(node.Children) != 1 {
			return fmt.Errorf("operator NOT requires exactly one child, got %d", len(node.Children))
		}
	default:
		return fmt.Errorf("condition node has neither a leaf kind nor a known operator")
	}
	for i, child := range node.Children {
		if err := Condition(child); err != nil {
			return fmt.Errorf("children[%d]: %w", i, err)
		}
	}
	return nil
}

var validAttrOps = map[automation.AttributeOperator]bool{
	automation.AttrEquals: true, automation.AttrNotEquals: true,
	automation.AttrContains: true, automation.AttrNotContains: true,
	automation.AttrStartsWith: true, automation.AttrEndsWith: true,
	automation.AttrGreaterThan: true, automation.AttrLessThan: true,
	automation.AttrGreaterThanOrEqual: true, automation.AttrLessThanOrEqual: true,
	automation.AttrIn: true, automation.AttrNotIn: true,
	automation.AttrIsNull: true, automation.AttrIsNotNull: true,
	automation.AttrChangedTo: true, automation.AttrChangedFrom: true,
	automation.AttrMatchesRegex: true,
}

func validateLeaf(node automation.ConditionNode) error {
	switch node.Leaf {
	case automation.LeafAttribute:
		if node.Field == "" {
			return fmt.Errorf("attribute leaf requires field")
		}
		if !validAttrOps[node.AttrOp] {
			return fmt.Errorf("attribute leaf has unknown operator %q", node.AttrOp)
		}
	case automation.LeafQuery:
		if node.Query == "" {
			return fmt.Errorf("query leaf requires query")
		}
	case automation.LeafReference:
		if node.ReferenceKind == "" {
			return fmt.Errorf("reference leaf requires referenceKind")
		}
	case automation.LeafTemplate:
		if node.Template == "" {
			return fmt.Errorf("template leaf requires template")
		}
	default:
		return fmt.Errorf("unknown leaf kind %q", node.Leaf)
	}
	return nil
}

var validBranchKinds = map[automation.BranchKind]bool{
	automation.BranchRelatedItems: true,
	automation.BranchCreatedItems: true,
	automation.BranchLookupItems:  true,
}

// Branch checks b.Kind is a member of the closed set, kind-specific
// required fields, and recurses into its nested components.
func Branch(b automation.BranchNode) error {
	if !validBranchKinds[b.Kind] {
		return fmt.Errorf("unknown branch kind %q", b.Kind)
	}
	if b.Kind == automation.BranchLookupItems && b.OQLQuery == "" {
		return fmt.Errorf("lookup_items branch requires oqlQuery")
	}
	if len(b.Components) == 0 {
		return fmt.Errorf("branch must contain at least one component")
	}
	for i, c := range b.Components {
		if err := Component(c); err != nil {
			return fmt.Errorf("components[%d]: %w", i, err)
		}
	}
	return nil
}

// IfElse validates the guard condition and both branches (Else may be
// empty: a no-op branch is not a validation error).
func IfElse(node automation.IfElseNode) error {
	if err := Condition(node.Conditions); err != nil {
		return fmt.Errorf("conditions: %w", err)
	}
	if len(node.Then) == 0 {
		return fmt.Errorf("if_else.then must contain at least one component")
	}
	for i, c := range node.Then {
		if err := Component(c); err != nil {
			return fmt.Errorf("then[%d]: %w", i, err)
		}
	}
	for i, c := range node.Else {
		if err := Component(c); err != nil {
			return fmt.Errorf("else[%d]: %w", i, err)
		}
	}
	return nil
}
