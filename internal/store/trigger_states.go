package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/onstaq/automation-engine/internal/automation"
)

// TriggerStateStore persists one poll bookmark row per rule, satisfying
// trigger.TriggerStateStore.
type TriggerStateStore struct {
	db *sql.DB
}

// NewTriggerStateStore wraps db for TriggerState persistence.
func NewTriggerStateStore(db *sql.DB) *TriggerStateStore {
	return &TriggerStateStore{db: db}
}

// GetTriggerState returns ruleID's bookmark, or (nil, nil) if the rule has
// never been polled.
func (s *TriggerStateStore) GetTriggerState(ctx context.Context, ruleID string) (*automation.TriggerState, error) {
	var state automation.TriggerState
	var lastSeenJSON []byte
	var checksum sql.NullString

	err := s.db.QueryRowContext(ctx, `
		SELECT id, automation_id, last_checked_at, last_seen_data, checksum, updated_at
		FROM trigger_states WHERE automation_id = $1
	`, ruleID).Scan(&state.ID, &state.RuleID, &state.LastCheckedAt, &lastSeenJSON, &checksum, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting trigger state for %s: %w", ruleID, err)
	}
	state.Checksum = checksum.String
	if len(lastSeenJSON) > 0 {
		if err := json.Unmarshal(lastSeenJSON, &state.LastSeenData); err != nil {
			return nil, fmt.Errorf("unmarshaling last seen data: %w", err)
		}
	}
	return &state, nil
}

// SaveTriggerState upserts state, keyed by the unique automation_id.
func (s *TriggerStateStore) SaveTriggerState(ctx context.Context, state *automation.TriggerState) error {
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	lastSeenJSON, err := json.Marshal(state.LastSeenData)
	if err != nil {
		return fmt.Errorf("marshaling last seen data: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trigger_states (id, automation_id, last_checked_at, last_seen_data, checksum, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (automation_id) DO UPDATE SET
			last_checked_at = EXCLUDED.last_checked_at,
			last_seen_data = EXCLUDED.last_seen_data,
			checksum = EXCLUDED.checksum,
			updated_at = EXCLUDED.updated_at
	`, state.ID, state.RuleID, state.LastCheckedAt, lastSeenJSON, nullIfEmpty(state.Checksum), state.UpdatedAt)
	if err != nil {
		return fmt.Errorf("saving trigger state for %s: %w", state.RuleID, err)
	}
	return nil
}
