// Package store persists Rules, Executions, TriggerStates, and
// WebhookSubscriptions to Postgres via database/sql + lib/pq, following
// the teacher's raw-SQL (no ORM) style.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
)

// Open opens and pings a Postgres connection pool at dataSourceName.
func Open(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

// ErrNotFound is returned by Get-style lookups when no row matches.
type ErrNotFound struct {
	Kind string
	ID   string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}
