package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodia/internal/unlock/models"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
)

// PostgresReleaseStore persists releases in PostgreSQL. The request-id
// primary key plus ON CONFLICT DO NOTHING gives exactly-once semantics.
type PostgresReleaseStore struct {
	db *sql.DB
}

func NewPostgresReleaseStore(db *sql.DB) *PostgresReleaseStore {
	return &PostgresReleaseStore{db: db}
}

func (s *PostgresReleaseStore) Create(ctx context.Context, release models.Release) (bool, error) {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		INSERT INTO payload_releases (request_id, principal_id, payload_ref, rule, released_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, release.RequestID, release.PrincipalID, release.PayloadRef, release.Rule, release.ReleasedAt)
	if err != nil {
		return false, fmt.Errorf("create release: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create release rows affected: %w", err)
	}
	return rows == 1, nil
}

func (s *PostgresReleaseStore) Get(ctx context.Context, requestID string) (models.Release, error) {
	q := tx.Resolve(ctx, s.db)
	var r models.Release
	err := q.QueryRowContext(ctx, `
		SELECT request_id, principal_id, payload_ref, rule, released_at
		FROM payload_releases
		WHERE request_id = $1
	`, requestID).Scan(&r.RequestID, &r.PrincipalID, &r.PayloadRef, &r.Rule, &r.ReleasedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Release{}, fmt.Errorf("release for request %s: %w", requestID, sentinel.ErrNotFound)
		}
		return models.Release{}, fmt.Errorf("get release: %w", err)
	}
	return r, nil
}
