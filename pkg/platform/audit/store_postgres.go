package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists audit events in PostgreSQL. Append-only; rows are
// never updated or deleted by the engine.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_events (ts, principal_id, actor, action, subject, decision, reason, request_id)
		VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8)
	`, event.Timestamp, event.PrincipalID, event.Actor, event.Action,
		event.Subject, event.Decision, event.Reason, event.RequestID)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByPrincipal(ctx context.Context, principalID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, COALESCE(principal_id::text, ''), actor, action, subject, decision, reason, request_id
		FROM audit_events
		WHERE principal_id = $1
		ORDER BY ts
	`, principalID)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.Timestamp, &e.PrincipalID, &e.Actor, &e.Action,
			&e.Subject, &e.Decision, &e.Reason, &e.RequestID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
