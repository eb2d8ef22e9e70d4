package dispatchlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"custodia/pkg/platform/sentinel"
)

// PostgresStore persists dispatch entries in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, entry Entry) error {
	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal dispatch detail: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notification_dispatch_log
			(principal_id, action, urgency, recipients, delivered, failed, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.PrincipalID, entry.Action, entry.Urgency,
		entry.Recipients, entry.Delivered, entry.Failed, detail, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append dispatch entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) LastOfAction(ctx context.Context, principalID string, action Action) (Entry, error) {
	query := `
		SELECT principal_id, action, urgency, recipients, delivered, failed, detail, created_at
		FROM notification_dispatch_log
		WHERE principal_id = $1 AND action = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	var (
		e      Entry
		detail []byte
	)
	err := s.db.QueryRowContext(ctx, query, principalID, action).Scan(
		&e.PrincipalID, &e.Action, &e.Urgency, &e.Recipients, &e.Delivered, &e.Failed, &detail, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, fmt.Errorf("dispatch entry %s/%s: %w", principalID, action, sentinel.ErrNotFound)
		}
		return Entry{}, fmt.Errorf("last dispatch entry: %w", err)
	}
	if err := json.Unmarshal(detail, &e.Detail); err != nil {
		return Entry{}, fmt.Errorf("unmarshal dispatch detail: %w", err)
	}
	return e, nil
}
