package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/onstaq/automation-engine/internal/automation"
)

// RuleStore persists Rule rows, satisfying both executor.RuleStore and
// trigger.RuleStore by method-signature structural typing.
type RuleStore struct {
	db *sql.DB
}

// NewRuleStore wraps db for Rule persistence.
func NewRuleStore(db *sql.DB) *RuleStore {
	return &RuleStore{db: db}
}

// CreateRule inserts rule, assigning an id if unset and setting both
// timestamps to now.
func (s *RuleStore) CreateRule(ctx context.Context, rule *automation.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("marshaling trigger: %w", err)
	}
	componentsJSON, err := json.Marshal(rule.Components)
	if err != nil {
		return fmt.Errorf("marshaling components: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO automations
			(id, name, description, workspace_id, workspace_key, enabled, trigger, components, execution_order, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, rule.ID, rule.Name, rule.Description, rule.WorkspaceID, rule.WorkspaceKey, rule.Enabled,
		triggerJSON, componentsJSON, rule.ExecutionOrder, rule.CreatedBy, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting automation: %w", err)
	}
	return nil
}

// GetRule fetches a single rule by id, migrating a legacy conditions/actions
// row into the unified components tree on read.
func (s *RuleStore) GetRule(ctx context.Context, ruleID string) (*automation.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, workspace_id, workspace_key, enabled, trigger, components,
		       conditions, actions, execution_order, created_by, created_at, updated_at
		FROM automations WHERE id = $1
	`, ruleID)
	rule, err := scanRule(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "automation", ID: ruleID}
		}
		return nil, fmt.Errorf("getting automation %s: %w", ruleID, err)
	}
	return rule, nil
}

// ListRules returns every rule, optionally filtered to enabled-only.
func (s *RuleStore) ListRules(ctx context.Context, enabledOnly bool) ([]*automation.Rule, error) {
	query := `
		SELECT id, name, description, workspace_id, workspace_key, enabled, trigger, components,
		       conditions, actions, execution_order, created_by, created_at, updated_at
		FROM automations`
	if enabledOnly {
		query += " WHERE enabled = true"
	}
	query += " ORDER BY execution_order ASC, created_at ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing automations: %w", err)
	}
	defer rows.Close()

	var out []*automation.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning automation: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// UpdateRule overwrites rule's mutable fields, always writing the unified
// components column and clearing the legacy pair so subsequent reads no
// longer need to migrate this row.
func (s *RuleStore) UpdateRule(ctx context.Context, rule *automation.Rule) error {
	rule.UpdatedAt = time.Now().UTC()
	triggerJSON, err := json.Marshal(rule.Trigger)
	if err != nil {
		return fmt.Errorf("marshaling trigger: %w", err)
	}
	componentsJSON, err := json.Marshal(rule.Components)
	if err != nil {
		return fmt.Errorf("marshaling components: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE automations
		SET name = $1, description = $2, workspace_id = $3, workspace_key = $4, enabled = $5,
		    trigger = $6, components = $7, conditions = NULL, actions = NULL,
		    execution_order = $8, updated_at = $9
		WHERE id = $10
	`, rule.Name, rule.Description, rule.WorkspaceID, rule.WorkspaceKey, rule.Enabled,
		triggerJSON, componentsJSON, rule.ExecutionOrder, rule.UpdatedAt, rule.ID)
	if err != nil {
		return fmt.Errorf("updating automation %s: %w", rule.ID, err)
	}
	return requireRowsAffected(result, "automation", rule.ID)
}

// SetEnabled toggles a rule's enabled flag without touching its program.
func (s *RuleStore) SetEnabled(ctx context.Context, ruleID string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE automations SET enabled = $1, updated_at = $2 WHERE id = $3`,
		enabled, time.Now().UTC(), ruleID)
	if err != nil {
		return fmt.Errorf("toggling automation %s: %w", ruleID, err)
	}
	return requireRowsAffected(result, "automation", ruleID)
}

// DeleteRule removes rule by id.
func (s *RuleStore) DeleteRule(ctx context.Context, ruleID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM automations WHERE id = $1`, ruleID)
	if err != nil {
		return fmt.Errorf("deleting automation %s: %w", ruleID, err)
	}
	return requireRowsAffected(result, "automation", ruleID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*automation.Rule, error) {
	var rule automation.Rule
	var description, workspaceKey, createdBy sql.NullString
	var triggerJSON, componentsJSON, conditionsJSON, actionsJSON []byte

	if err := row.Scan(
		&rule.ID, &rule.Name, &description, &rule.WorkspaceID, &workspaceKey, &rule.Enabled,
		&triggerJSON, &componentsJSON, &conditionsJSON, &actionsJSON,
		&rule.ExecutionOrder, &createdBy, &rule.CreatedAt, &rule.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rule.Description = description.String
	rule.WorkspaceKey = workspaceKey.String
	rule.CreatedBy = createdBy.String

	if err := json.Unmarshal(triggerJSON, &rule.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger: %w", err)
	}

	if len(componentsJSON) > 0 {
		if err := json.Unmarshal(componentsJSON, &rule.Components); err != nil {
			return nil, fmt.Errorf("unmarshaling components: %w", err)
		}
		return &rule, nil
	}

	// Legacy row: conditions+actions instead of a unified tree. Per
	// spec.md §9, accept either shape at read and migrate to components
	// on the next write.
	components, err := legacyToComponents(conditionsJSON, actionsJSON)
	if err != nil {
		return nil, err
	}
	rule.Components = components
	return &rule, nil
}

// legacyToComponents converts a pre-tree (conditions, actions) pair into a
// single gating condition followed by the action sequence, the simplest
// program tree with equivalent semantics.
func legacyToComponents(conditionsJSON, actionsJSON []byte) ([]automation.Component, error) {
	var components []automation.Component

	if len(conditionsJSON) > 0 {
		var cond automation.ConditionNode
		if err := json.Unmarshal(conditionsJSON, &cond); err != nil {
			return nil, fmt.Errorf("unmarshaling legacy conditions: %w", err)
		}
		components = append(components, automation.Component{
			ID:        "legacy-condition",
			Type:      automation.ComponentCondition,
			Condition: &cond,
		})
	}

	if len(actionsJSON) > 0 {
		var actions []automation.ActionNode
		if err := json.Unmarshal(actionsJSON, &actions); err != nil {
			return nil, fmt.Errorf("unmarshaling legacy actions: %w", err)
		}
		for i := range actions {
			components = append(components, automation.Component{
				ID:     fmt.Sprintf("legacy-action-%d", i),
				Type:   automation.ComponentAction,
				Action: &actions[i],
			})
		}
	}

	return components, nil
}

func requireRowsAffected(result sql.Result, kind, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return &ErrNotFound{Kind: kind, ID: id}
	}
	return nil
}
