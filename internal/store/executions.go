package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/onstaq/automation-engine/internal/automation"
)

// ExecutionStore persists Execution rows, satisfying executor.ExecutionStore.
type ExecutionStore struct {
	db *sql.DB
}

// NewExecutionStore wraps db for Execution persistence.
func NewExecutionStore(db *sql.DB) *ExecutionStore {
	return &ExecutionStore{db: db}
}

// CreateExecution inserts the initial PENDING record, assigning an id if unset.
func (s *ExecutionStore) CreateExecution(ctx context.Context, exec *automation.Execution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	triggerJSON, err := json.Marshal(exec.Trigger)
	if err != nil {
		return fmt.Errorf("marshaling trigger data: %w", err)
	}
	resultsJSON, err := json.Marshal(exec.ComponentResults)
	if err != nil {
		return fmt.Errorf("marshaling component results: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO executions
			(id, automation_id, status, trigger_data, component_results, error, started_at, completed_at, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, exec.ID, exec.RuleID, exec.Status, triggerJSON, resultsJSON, nullIfEmpty(exec.Error), exec.StartedAt, exec.CompletedAt, exec.DurationMs)
	if err != nil {
		return fmt.Errorf("inserting execution %s: %w", exec.ID, err)
	}
	return nil
}

// UpdateExecution rewrites the mutable fields of an in-flight or completed
// execution.
func (s *ExecutionStore) UpdateExecution(ctx context.Context, exec *automation.Execution) error {
	resultsJSON, err := json.Marshal(exec.ComponentResults)
	if err != nil {
		return fmt.Errorf("marshaling component results: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = $1, component_results = $2, error = $3, completed_at = $4, duration_ms = $5
		WHERE id = $6
	`, exec.Status, resultsJSON, nullIfEmpty(exec.Error), exec.CompletedAt, exec.DurationMs, exec.ID)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", exec.ID, err)
	}
	return requireRowsAffected(result, "execution", exec.ID)
}

// GetExecution fetches a single execution by id, migrating a legacy
// conditionResult/actionResults split into the unified componentResults
// tree on read.
func (s *ExecutionStore) GetExecution(ctx context.Context, executionID string) (*automation.Execution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, automation_id, status, trigger_data, component_results,
		       condition_result, action_results, error, started_at, completed_at, duration_ms
		FROM executions WHERE id = $1
	`, executionID)
	exec, err := scanExecution(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "execution", ID: executionID}
		}
		return nil, fmt.Errorf("getting execution %s: %w", executionID, err)
	}
	return exec, nil
}

// ListExecutions returns the most recent executions for ruleID, newest
// first, bounded by limit.
func (s *ExecutionStore) ListExecutions(ctx context.Context, ruleID string, limit int) ([]*automation.Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, automation_id, status, trigger_data, component_results,
		       condition_result, action_results, error, started_at, completed_at, duration_ms
		FROM executions WHERE automation_id = $1
		ORDER BY started_at DESC LIMIT $2
	`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing executions for %s: %w", ruleID, err)
	}
	defer rows.Close()

	var out []*automation.Execution
	for rows.Next() {
		exec, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, exec)
	}
	return out, rows.Err()
}

// Stats is an aggregate summary over a rule's execution history.
type Stats struct {
	RuleID         string  `json:"automationId"`
	TotalRuns      int     `json:"totalRuns"`
	SuccessCount   int     `json:"successCount"`
	FailureCount   int     `json:"failureCount"`
	AvgDurationMs  float64 `json:"avgDurationMs"`
}

// Stats aggregates success/failure counts and average duration for ruleID.
func (s *ExecutionStore) Stats(ctx context.Context, ruleID string) (*Stats, error) {
	stats := &Stats{RuleID: ruleID}
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'SUCCESS'),
			COUNT(*) FILTER (WHERE status = 'FAILED'),
			COALESCE(AVG(duration_ms) FILTER (WHERE duration_ms IS NOT NULL), 0)
		FROM executions WHERE automation_id = $1
	`, ruleID)
	if err := row.Scan(&stats.TotalRuns, &stats.SuccessCount, &stats.FailureCount, &stats.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("aggregating stats for %s: %w", ruleID, err)
	}
	return stats, nil
}

func scanExecution(row rowScanner) (*automation.Execution, error) {
	var exec automation.Execution
	var triggerJSON, resultsJSON, conditionResultJSON, actionResultsJSON []byte
	var errStr sql.NullString

	if err := row.Scan(
		&exec.ID, &exec.RuleID, &exec.Status, &triggerJSON, &resultsJSON,
		&conditionResultJSON, &actionResultsJSON, &errStr,
		&exec.StartedAt, &exec.CompletedAt, &exec.DurationMs,
	); err != nil {
		return nil, err
	}
	exec.Error = errStr.String

	if err := json.Unmarshal(triggerJSON, &exec.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshaling trigger data: %w", err)
	}

	if len(resultsJSON) > 0 {
		if err := json.Unmarshal(resultsJSON, &exec.ComponentResults); err != nil {
			return nil, fmt.Errorf("unmarshaling component results: %w", err)
		}
		return &exec, nil
	}

	results, err := legacyToComponentResults(conditionResultJSON, actionResultsJSON)
	if err != nil {
		return nil, err
	}
	exec.ComponentResults = results
	return &exec, nil
}

// legacyToComponentResults converts a pre-tree (conditionResult,
// actionResults) pair into the unified ComponentResult list, mirroring
// legacyToComponents' shape so the two stay in lockstep.
func legacyToComponentResults(conditionResultJSON, actionResultsJSON []byte) ([]automation.ComponentResult, error) {
	var results []automation.ComponentResult

	if len(conditionResultJSON) > 0 {
		var cr automation.ComponentResult
		if err := json.Unmarshal(conditionResultJSON, &cr); err != nil {
			return nil, fmt.Errorf("unmarshaling legacy condition result: %w", err)
		}
		cr.Type = automation.ComponentCondition
		results = append(results, cr)
	}

	if len(actionResultsJSON) > 0 {
		var actionResults []automation.ComponentResult
		if err := json.Unmarshal(actionResultsJSON, &actionResults); err != nil {
			return nil, fmt.Errorf("unmarshaling legacy action results: %w", err)
		}
		for _, ar := range actionResults {
			ar.Type = automation.ComponentAction
			results = append(results, ar)
		}
	}

	return results, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
