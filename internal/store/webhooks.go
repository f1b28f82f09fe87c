package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/onstaq/automation-engine/internal/automation"
)

// WebhookSubscriptionStore persists inbound webhook registrations.
type WebhookSubscriptionStore struct {
	db *sql.DB
}

// NewWebhookSubscriptionStore wraps db for WebhookSubscription persistence.
func NewWebhookSubscriptionStore(db *sql.DB) *WebhookSubscriptionStore {
	return &WebhookSubscriptionStore{db: db}
}

// Create inserts a new subscription.
func (s *WebhookSubscriptionStore) Create(ctx context.Context, sub *automation.WebhookSubscription) error {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now

	metadataJSON, err := json.Marshal(sub.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, url, events, secret, active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sub.ID, sub.URL, pq.Array(sub.Events), sub.Secret, sub.Active, metadataJSON, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("inserting webhook subscription: %w", err)
	}
	return nil
}

// GetByPath resolves the active subscription whose URL path matches path,
// used by the inbound webhook handler to locate the signing secret.
func (s *WebhookSubscriptionStore) GetByPath(ctx context.Context, path string) (*automation.WebhookSubscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, events, secret, active, metadata, created_at, updated_at
		FROM webhook_subscriptions WHERE url = $1 AND active = true
	`, path)
	sub, err := scanWebhookSubscription(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &ErrNotFound{Kind: "webhook_subscription", ID: path}
		}
		return nil, fmt.Errorf("getting webhook subscription for %s: %w", path, err)
	}
	return sub, nil
}

// List returns every subscription.
func (s *WebhookSubscriptionStore) List(ctx context.Context) ([]*automation.WebhookSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, events, secret, active, metadata, created_at, updated_at
		FROM webhook_subscriptions ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("listing webhook subscriptions: %w", err)
	}
	defer rows.Close()

	var out []*automation.WebhookSubscription
	for rows.Next() {
		sub, err := scanWebhookSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning webhook subscription: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func scanWebhookSubscription(row rowScanner) (*automation.WebhookSubscription, error) {
	var sub automation.WebhookSubscription
	var metadataJSON []byte

	if err := row.Scan(&sub.ID, &sub.URL, pq.Array(&sub.Events), &sub.Secret, &sub.Active, &metadataJSON, &sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &sub.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &sub, nil
}
