package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"apiguard/pkg/platform/audit"
)

// Store implements audit.Store using an outbox table. Events are written to
// guard_audit_outbox and shipped downstream by whatever drains the table;
// the guard never blocks on a remote sink.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store that writes to the outbox.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON structure stored alongside the row columns.
type outboxPayload struct {
	ID        string `json:"ID"`
	Category  string `json:"Category"`
	Timestamp string `json:"Timestamp"`
	Action    string `json:"Action"`
	Route     string `json:"Route,omitempty"`
	Identity  string `json:"Identity,omitempty"`
	Reason    string `json:"Reason,omitempty"`
	RequestID string `json:"RequestID,omitempty"`
}

// Append writes an audit event to the outbox table.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	eventID := uuid.New()

	// Category is always derived from the action so callers cannot misfile
	// a security event.
	category := event.Action.Category()

	payload := outboxPayload{
		ID:        eventID.String(),
		Category:  string(category),
		Timestamp: event.Timestamp.Format(time.RFC3339Nano),
		Action:    string(event.Action),
		Route:     event.Route,
		Identity:  event.Identity,
		Reason:    event.Reason,
		RequestID: event.RequestID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	const q = `
		INSERT INTO guard_audit_outbox (id, category, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.db.ExecContext(ctx, q, eventID, string(category), string(event.Action), body, event.Timestamp); err != nil {
		return fmt.Errorf("insert audit outbox row: %w", err)
	}
	return nil
}
