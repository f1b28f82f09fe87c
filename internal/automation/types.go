// Package automation holds the data model shared by the trigger manager,
// executor, template resolver, condition evaluator, and action runner.
package automation

import "time"

// Rule is a persisted automation: a trigger paired with a component tree.
type Rule struct {
	ID             string      `json:"id"`
	Name           string      `json:"name" validate:"required,max=200"`
	Description    string      `json:"description,omitempty"`
	WorkspaceID    string      `json:"workspaceId" validate:"required"`
	WorkspaceKey   string      `json:"workspaceKey,omitempty"`
	Enabled        bool        `json:"enabled"`
	Trigger        Trigger     `json:"trigger"`
	Components     []Component `json:"components"`
	ExecutionOrder int         `json:"executionOrder"`
	CreatedBy      string      `json:"createdBy,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// TriggerKind enumerates the closed set of trigger variants a Rule may carry.
type TriggerKind string

const (
	TriggerItemCreated      TriggerKind = "item.created"
	TriggerItemUpdated      TriggerKind = "item.updated"
	TriggerItemDeleted      TriggerKind = "item.deleted"
	TriggerAttributeChanged TriggerKind = "attribute.changed"
	TriggerStatusChanged    TriggerKind = "status.changed"
	TriggerReferenceAdded   TriggerKind = "reference.added"
	TriggerItemLinked       TriggerKind = "item.linked"
	TriggerItemUnlinked     TriggerKind = "item.unlinked"
	TriggerItemCommented    TriggerKind = "item.commented"
	TriggerOQLMatch         TriggerKind = "oql.match"
	TriggerSchedule         TriggerKind = "schedule"
	TriggerManual           TriggerKind = "manual"
	TriggerWebhookReceived  TriggerKind = "webhook.received"
)

// OQLMatchPolicy controls when an oql.match trigger fires relative to its
// previous observed row count.
type OQLMatchPolicy string

const (
	OQLPolicyAnyResults  OQLMatchPolicy = "any_results"
	OQLPolicyNewResults  OQLMatchPolicy = "new_results"
	OQLPolicyCountChange OQLMatchPolicy = "count_change"
)

// Trigger is a tagged variant describing how a Rule is woken up.
type Trigger struct {
	Kind TriggerKind `json:"kind"`

	CatalogID string `json:"catalogId,omitempty"`

	// attribute.changed
	AttributeName string `json:"attributeName,omitempty"`

	// status.changed
	FromStatus string `json:"fromStatus,omitempty"`
	ToStatus   string `json:"toStatus,omitempty"`

	// reference.added / item.linked / item.unlinked
	ReferenceKind string `json:"referenceKind,omitempty"`

	// oql.match
	Query     string         `json:"query,omitempty"`
	TriggerOn OQLMatchPolicy `json:"triggerOn,omitempty"`

	// schedule
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`

	// webhook.received
	WebhookPath string `json:"webhookPath,omitempty"`
}

// ComponentType is the closed set of program-tree node kinds.
type ComponentType string

const (
	ComponentAction    ComponentType = "action"
	ComponentCondition ComponentType = "condition"
	ComponentBranch    ComponentType = "branch"
	ComponentIfElse    ComponentType = "if_else"
)

// Component is a node in a Rule's program tree. Exactly one of Action,
// Condition, Branch, IfElse is populated, matching ComponentType.
type Component struct {
	ID   string        `json:"id"`
	Type ComponentType `json:"componentType"`

	Action    *ActionNode    `json:"action,omitempty"`
	Condition *ConditionNode `json:"condition,omitempty"`
	Branch    *BranchNode    `json:"branch,omitempty"`
	IfElse    *IfElseNode    `json:"ifElse,omitempty"`
}

// ActionType is the closed set of action kinds the ActionRunner dispatches.
type ActionType string

const (
	ActionItemCreate         ActionType = "item.create"
	ActionItemUpdate         ActionType = "item.update"
	ActionItemDelete         ActionType = "item.delete"
	ActionItemClone          ActionType = "item.clone"
	ActionItemTransition     ActionType = "item.transition"
	ActionItemLookup         ActionType = "item.lookup"
	ActionAttributeSet       ActionType = "attribute.set"
	ActionReferenceAdd       ActionType = "reference.add"
	ActionReferenceRemove    ActionType = "reference.remove"
	ActionCommentAdd         ActionType = "comment.add"
	ActionItemImport         ActionType = "item.import"
	ActionCatalogCreate      ActionType = "catalog.create"
	ActionAttributeCreate    ActionType = "attribute.create"
	ActionWorkspaceMemberAdd ActionType = "workspace.member.add"
	ActionOQLExecute         ActionType = "oql.execute"
	ActionWebhookSend        ActionType = "webhook.send"
	ActionAutomationTrigger  ActionType = "automation.trigger"
	ActionVariableSet        ActionType = "variable.set"
	ActionLog                ActionType = "log"
	ActionRefetchData        ActionType = "refetch_data"
)

// ActionNode is a tagged action component.
type ActionNode struct {
	Type            ActionType     `json:"type"`
	Name            string         `json:"name,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty"`
	Config          map[string]any `json:"config"`
}

// ConditionOperator is the closed set of inner-node boolean operators.
type ConditionOperator string

const (
	OpAnd ConditionOperator = "AND"
	OpOr  ConditionOperator = "OR"
	OpNot ConditionOperator = "NOT"
)

// ConditionLeafKind distinguishes the four leaf condition shapes.
type ConditionLeafKind string

const (
	LeafAttribute ConditionLeafKind = "attribute"
	LeafQuery     ConditionLeafKind = "query"
	LeafReference ConditionLeafKind = "reference"
	LeafTemplate  ConditionLeafKind = "template"
)

// AttributeOperator is the closed set of attribute-leaf comparison operators.
type AttributeOperator string

const (
	AttrEquals             AttributeOperator = "equals"
	AttrNotEquals          AttributeOperator = "not_equals"
	AttrContains           AttributeOperator = "contains"
	AttrNotContains        AttributeOperator = "not_contains"
	AttrStartsWith         AttributeOperator = "starts_with"
	AttrEndsWith           AttributeOperator = "ends_with"
	AttrGreaterThan        AttributeOperator = "greater_than"
	AttrLessThan           AttributeOperator = "less_than"
	AttrGreaterThanOrEqual AttributeOperator = "greater_than_or_equal"
	AttrLessThanOrEqual    AttributeOperator = "less_than_or_equal"
	AttrIn                 AttributeOperator = "in"
	AttrNotIn              AttributeOperator = "not_in"
	AttrIsNull             AttributeOperator = "is_null"
	AttrIsNotNull          AttributeOperator = "is_not_null"
	AttrChangedTo          AttributeOperator = "changed_to"
	AttrChangedFrom        AttributeOperator = "changed_from"
	AttrMatchesRegex       AttributeOperator = "matches_regex"
)

// ConditionNode is either a leaf or an inner AND/OR/NOT node.
type ConditionNode struct {
	// Inner node fields.
	Operator ConditionOperator `json:"operator,omitempty"`
	Children []ConditionNode   `json:"children,omitempty"`

	// Leaf discriminator; empty for inner nodes.
	Leaf ConditionLeafKind `json:"leaf,omitempty"`

	// attribute leaf
	Field   string            `json:"field,omitempty"`
	AttrOp  AttributeOperator `json:"attributeOperator,omitempty"`
	Value   any               `json:"value,omitempty"`
	FromVal any               `json:"from,omitempty"`
	ToVal   any               `json:"to,omitempty"`

	// query leaf
	Query       string `json:"query,omitempty"`
	ExpectCount *int   `json:"expectCount,omitempty"`

	// reference leaf
	Direction     string `json:"direction,omitempty"`
	ReferenceKind string `json:"referenceKind,omitempty"`
	Exists        bool   `json:"exists,omitempty"`

	// template leaf
	Template string `json:"template,omitempty"`
}

// BranchKind is the closed set of branch iteration sources.
type BranchKind string

const (
	BranchRelatedItems BranchKind = "related_items"
	BranchCreatedItems BranchKind = "created_items"
	BranchLookupItems  BranchKind = "lookup_items"
)

// BranchNode iterates its Components once per resolved item.
type BranchNode struct {
	Kind BranchKind `json:"kind"`

	// related_items
	Direction     string `json:"direction,omitempty"`
	ReferenceKind string `json:"referenceKind,omitempty"`
	CatalogID     string `json:"catalogId,omitempty"`

	// lookup_items
	OQLQuery string `json:"oqlQuery,omitempty"`

	Components []Component `json:"components"`
}

// IfElseNode evaluates Conditions and runs Then or Else accordingly.
type IfElseNode struct {
	Conditions ConditionNode `json:"conditions"`
	Then       []Component   `json:"then"`
	Else       []Component   `json:"else,omitempty"`
}

// TriggerEvent is a runtime value produced by the TriggerManager describing
// one firing of a rule's trigger.
type TriggerEvent struct {
	Type             TriggerKind      `json:"type"`
	Item             *Item            `json:"item,omitempty"`
	PreviousValues   map[string]any   `json:"previousValues,omitempty"`
	OQLResults       []map[string]any `json:"oqlResults,omitempty"`
	WebhookPayload   map[string]any   `json:"webhookPayload,omitempty"`
	ManualParameters map[string]any   `json:"manualParameters,omitempty"`
	ScheduleTime     *time.Time       `json:"scheduleTime,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// Item mirrors a record from the upstream item-management service.
type Item struct {
	ID              string         `json:"id"`
	Key             string         `json:"key,omitempty"`
	CatalogID       string         `json:"catalogId"`
	AttributeValues map[string]any `json:"attributeValues"`
	CreatedBy       string         `json:"createdBy,omitempty"`
	UpdatedBy       string         `json:"updatedBy,omitempty"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// ExecutionContext is the mutable per-run state threaded through the
// component walk, ConditionEvaluator, ActionRunner, and TemplateResolver.
type ExecutionContext struct {
	RuleID      string
	RuleName    string
	WorkspaceID string
	Trigger     TriggerEvent

	ComponentResults []ComponentResult
	Variables        map[string]any
	CreatedItems     []*Item
	CurrentItem      *Item

	StartedAt  time.Time
	ChainDepth int
}

// ComponentResultStatus is the closed set of per-component outcomes.
type ComponentResultStatus string

const (
	ResultSuccess ComponentResultStatus = "success"
	ResultFailed  ComponentResultStatus = "failed"
	ResultSkipped ComponentResultStatus = "skipped"
)

// ComponentResult mirrors the program tree with one record per executed
// (or skipped) component.
type ComponentResult struct {
	ComponentID string                `json:"componentId"`
	Type        ComponentType         `json:"componentType"`
	ActionType  ActionType            `json:"actionType,omitempty"`
	Status      ComponentResultStatus `json:"status"`
	Result      any                   `json:"result,omitempty"`
	Error       string                `json:"error,omitempty"`
	DurationMs  int64                 `json:"durationMs"`
	Children    []ComponentResult     `json:"children,omitempty"`
}

// ExecutionStatus is the closed set of persisted Execution states.
type ExecutionStatus string

const (
	ExecutionPending ExecutionStatus = "PENDING"
	ExecutionRunning ExecutionStatus = "RUNNING"
	ExecutionSuccess ExecutionStatus = "SUCCESS"
	ExecutionFailed  ExecutionStatus = "FAILED"
	ExecutionSkipped ExecutionStatus = "SKIPPED"
)

// Execution is the persisted record of one RuleProgramExecutor run.
type Execution struct {
	ID               string            `json:"id"`
	RuleID           string            `json:"automationId"`
	Status           ExecutionStatus   `json:"status"`
	Trigger          TriggerEvent      `json:"triggerData"`
	ComponentResults []ComponentResult `json:"componentResults"`
	Error            string            `json:"error,omitempty"`
	StartedAt        time.Time         `json:"startedAt"`
	CompletedAt      *time.Time        `json:"completedAt,omitempty"`
	DurationMs       *int64            `json:"durationMs,omitempty"`
}

// TriggerState is the per-rule bookmark persisted across restarts.
type TriggerState struct {
	ID            string         `json:"id"`
	RuleID        string         `json:"automationId"`
	LastCheckedAt time.Time      `json:"lastCheckedAt"`
	LastSeenData  map[string]any `json:"lastSeenData"`
	Checksum      string         `json:"checksum,omitempty"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// WebhookSubscription is a persisted inbound webhook registration.
type WebhookSubscription struct {
	ID        string         `json:"id"`
	URL       string         `json:"url"`
	Events    []string       `json:"events"`
	Secret    string         `json:"secret"`
	Active    bool           `json:"active"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

// MaxChainDepth bounds automation.trigger recursion (spec.md §9's
// recommended bound; the upstream source has no such limit).
const MaxChainDepth = 8

// DeriveChildContext produces the per-iteration child context used by
// branch execution: structural copy of ctx with CurrentItem replaced and
// ComponentResults reset, but Variables shared by reference (documented
// behavior: writes from one iteration are visible to the next).
func (ctx *ExecutionContext) DeriveChildContext(item *Item) *ExecutionContext {
	child := &ExecutionContext{
		RuleID:           ctx.RuleID,
		RuleName:         ctx.RuleName,
		WorkspaceID:      ctx.WorkspaceID,
		Trigger:          ctx.Trigger,
		ComponentResults: nil,
		Variables:        ctx.Variables,
		CreatedItems:     ctx.CreatedItems,
		CurrentItem:      item,
		StartedAt:        ctx.StartedAt,
		ChainDepth:       ctx.ChainDepth,
	}
	return child
}

// MergeCreatedItems folds items created inside a branch iteration back
// into the parent's CreatedItems by id uniqueness.
func (ctx *ExecutionContext) MergeCreatedItems(fromChild []*Item) {
	seen := make(map[string]bool, len(ctx.CreatedItems))
	for _, it := range ctx.CreatedItems {
		seen[it.ID] = true
	}
	for _, it := range fromChild {
		if !seen[it.ID] {
			ctx.CreatedItems = append(ctx.CreatedItems, it)
			seen[it.ID] = true
		}
	}
}

// EffectiveItem returns CurrentItem if set, else the triggered item —
// the "useTriggeredItem" resolution rule shared by most action handlers.
func (ctx *ExecutionContext) EffectiveItem() *Item {
	if ctx.CurrentItem != nil {
		return ctx.CurrentItem
	}
	return ctx.Trigger.Item
}
