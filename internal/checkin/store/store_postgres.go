package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodia/internal/checkin/models"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
)

// PostgresStore persists check-in records in PostgreSQL. The current record
// is tracked by an explicit pointer row updated in the same transaction as
// the history append, not by an order-by-timestamp query.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed check-in store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, record models.Record) error {
	return tx.Within(ctx, s.db, func(ctx context.Context) error {
		q := tx.Resolve(ctx, s.db)
		_, err := q.ExecContext(ctx, `
			INSERT INTO checkin_records (id, principal_id, checked_in_at, next_check_in, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, record.ID, record.PrincipalID, record.CheckedInAt, record.NextCheckIn, record.Status, record.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert check-in record: %w", err)
		}
		_, err = q.ExecContext(ctx, `
			INSERT INTO checkin_current (principal_id, record_id, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (principal_id) DO UPDATE SET
				record_id = EXCLUDED.record_id,
				updated_at = NOW()
		`, record.PrincipalID, record.ID)
		if err != nil {
			return fmt.Errorf("repoint current check-in: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) Current(ctx context.Context, principalID string) (models.Record, error) {
	q := tx.Resolve(ctx, s.db)
	query := `
		SELECT r.id, r.principal_id, r.checked_in_at, r.next_check_in, r.status, r.created_at
		FROM checkin_current c
		JOIN checkin_records r ON r.id = c.record_id
		WHERE c.principal_id = $1
	`
	var r models.Record
	err := q.QueryRowContext(ctx, query, principalID).Scan(
		&r.ID, &r.PrincipalID, &r.CheckedInAt, &r.NextCheckIn, &r.Status, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Record{}, fmt.Errorf("current check-in for %s: %w", principalID, sentinel.ErrNotFound)
		}
		return models.Record{}, fmt.Errorf("get current check-in: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) History(ctx context.Context, principalID string, limit int) ([]models.Record, error) {
	query := `
		SELECT id, principal_id, checked_in_at, next_check_in, status, created_at
		FROM checkin_records
		WHERE principal_id = $1
		ORDER BY created_at DESC
	`
	args := []any{principalID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list check-in history: %w", err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		var r models.Record
		if err := rows.Scan(&r.ID, &r.PrincipalID, &r.CheckedInAt, &r.NextCheckIn, &r.Status, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan check-in record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MarkVerificationTriggered uses a conditional UPDATE so a racing check-in
// (which repoints current to a fresh record) makes this a no-op failure
// instead of flagging a stale record.
func (s *PostgresStore) MarkVerificationTriggered(ctx context.Context, principalID, recordID string) error {
	q := tx.Resolve(ctx, s.db)
	result, err := q.ExecContext(ctx, `
		UPDATE checkin_records r
		SET status = $1
		FROM checkin_current c
		WHERE r.id = $2
		  AND c.principal_id = $3
		  AND c.record_id = r.id
		  AND r.status = $4
	`, models.StatusVerificationTriggered, recordID, principalID, models.StatusAlive)
	if err != nil {
		return fmt.Errorf("mark verification triggered: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark verification triggered rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("check-in record superseded or not alive: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresStore) Reset(ctx context.Context, principalID string) error {
	q := tx.Resolve(ctx, s.db)
	if _, err := q.ExecContext(ctx, `DELETE FROM checkin_current WHERE principal_id = $1`, principalID); err != nil {
		return fmt.Errorf("reset current check-in: %w", err)
	}
	return nil
}
