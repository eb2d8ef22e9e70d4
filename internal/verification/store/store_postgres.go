package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"custodia/internal/verification/models"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
)

// PostgresRequestStore persists verification requests in PostgreSQL.
// The single-pending invariant is backed by a partial unique index; every
// transition is a conditional UPDATE checked via RowsAffected.
type PostgresRequestStore struct {
	db *sql.DB
}

func NewPostgresRequestStore(db *sql.DB) *PostgresRequestStore {
	return &PostgresRequestStore{db: db}
}

const requestColumns = `
	id, principal_id, status, result, initiated_at, expires_at,
	resolved_at, resolved_by, pins_issued_at,
	unlock_status, unlocked_at, failsafe_sent`

func (s *PostgresRequestStore) CreatePending(ctx context.Context, request models.Request) error {
	q := tx.Resolve(ctx, s.db)
	_, err := q.ExecContext(ctx, `
		INSERT INTO verification_requests
			(id, principal_id, status, result, initiated_at, expires_at, unlock_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, request.ID, request.PrincipalID, request.Status, request.Result,
		request.InitiatedAt, request.ExpiresAt, request.UnlockStatus)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("pending verification request exists for %s: %w", request.PrincipalID, sentinel.ErrConflict)
		}
		return fmt.Errorf("create verification request: %w", err)
	}
	return nil
}

func (s *PostgresRequestStore) Get(ctx context.Context, id string) (models.Request, error) {
	q := tx.Resolve(ctx, s.db)
	query := `SELECT` + requestColumns + ` FROM verification_requests WHERE id = $1`
	r, err := scanRequest(q.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, fmt.Errorf("verification request %s: %w", id, sentinel.ErrNotFound)
		}
		return models.Request{}, fmt.Errorf("get verification request: %w", err)
	}
	return r, nil
}

func (s *PostgresRequestStore) GetPending(ctx context.Context, principalID string) (models.Request, error) {
	query := `SELECT` + requestColumns + ` FROM verification_requests WHERE principal_id = $1 AND status = 'pending'`
	r, err := scanRequest(s.db.QueryRowContext(ctx, query, principalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, fmt.Errorf("pending verification request for %s: %w", principalID, sentinel.ErrNotFound)
		}
		return models.Request{}, fmt.Errorf("get pending verification request: %w", err)
	}
	return r, nil
}

func (s *PostgresRequestStore) LatestDeceased(ctx context.Context, principalID string) (models.Request, error) {
	query := `SELECT` + requestColumns + `
		FROM verification_requests
		WHERE principal_id = $1 AND status = 'completed' AND result = 'confirmed_deceased'
		ORDER BY initiated_at DESC
		LIMIT 1`
	r, err := scanRequest(s.db.QueryRowContext(ctx, query, principalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, fmt.Errorf("deceased verification request for %s: %w", principalID, sentinel.ErrNotFound)
		}
		return models.Request{}, fmt.Errorf("get deceased verification request: %w", err)
	}
	return r, nil
}

// Resolve is the first-writer-wins transition out of pending. The expiry
// check rides in the same UPDATE so a report racing the expiry sweep
// cannot resolve a closed window.
func (s *PostgresRequestStore) Resolve(ctx context.Context, id string, result models.Result, resolvedBy string, now time.Time) (models.Request, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = 'completed', result = $2, resolved_at = $3, resolved_by = $4
		WHERE id = $1 AND status = 'pending' AND expires_at > $3
	`, id, result, now, resolvedBy)
	if err != nil {
		return models.Request{}, fmt.Errorf("resolve verification request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return models.Request{}, fmt.Errorf("resolve rows affected: %w", err)
	}
	if rows == 0 {
		return models.Request{}, s.classifyResolveFailure(ctx, id, now)
	}
	return s.Get(ctx, id)
}

// classifyResolveFailure distinguishes why a CAS resolve matched nothing.
func (s *PostgresRequestStore) classifyResolveFailure(ctx context.Context, id string, now time.Time) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == models.StatusPending && current.IsExpired(now) {
		return fmt.Errorf("verification request expired: %w", sentinel.ErrExpired)
	}
	return fmt.Errorf("verification request already %s: %w", current.Status, sentinel.ErrInvalidState)
}

func (s *PostgresRequestStore) CancelPending(ctx context.Context, principalID string, now time.Time) (models.Request, bool, error) {
	query := `
		UPDATE verification_requests
		SET status = 'completed', result = 'confirmed_alive', resolved_at = $2, resolved_by = 'principal'
		WHERE principal_id = $1 AND status = 'pending'
		RETURNING` + requestColumns
	r, err := scanRequest(s.db.QueryRowContext(ctx, query, principalID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Request{}, false, nil
		}
		return models.Request{}, false, fmt.Errorf("cancel pending verification request: %w", err)
	}
	return r, true, nil
}

func (s *PostgresRequestStore) MarkExpired(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET status = 'expired'
		WHERE id = $1 AND status = 'pending' AND expires_at <= $2
	`, id, now)
	if err != nil {
		return fmt.Errorf("expire verification request: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("expire rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("verification request not expirable: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresRequestStore) ListPendingExpired(ctx context.Context, now time.Time) ([]models.Request, error) {
	query := `SELECT` + requestColumns + `
		FROM verification_requests
		WHERE status = 'pending' AND expires_at <= $1
		ORDER BY id`
	return s.list(ctx, query, now)
}

func (s *PostgresRequestStore) MarkPinsIssued(ctx context.Context, id string, now time.Time) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE verification_requests
		SET pins_issued_at = $2
		WHERE id = $1 AND status = 'completed' AND result = 'confirmed_deceased' AND pins_issued_at IS NULL
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark pins issued: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark pins issued rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("pins already issued or request not deceased: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresRequestStore) ListFailsafeDue(ctx context.Context, cutoff time.Time) ([]models.Request, error) {
	query := `SELECT` + requestColumns + `
		FROM verification_requests
		WHERE status = 'completed' AND result = 'confirmed_deceased'
		  AND unlock_status = 'locked' AND failsafe_sent = FALSE
		  AND pins_issued_at IS NOT NULL AND pins_issued_at <= $1
		ORDER BY id`
	return s.list(ctx, query, cutoff)
}

func (s *PostgresRequestStore) MarkFailsafeSent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE verification_requests
		SET failsafe_sent = TRUE
		WHERE id = $1 AND failsafe_sent = FALSE
	`, id)
	if err != nil {
		return fmt.Errorf("mark failsafe sent: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark failsafe rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("failsafe already sent: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresRequestStore) MarkUnlocked(ctx context.Context, id string, now time.Time) error {
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE verification_requests
		SET unlock_status = 'unlocked', unlocked_at = $2
		WHERE id = $1 AND unlock_status = 'locked'
	`, id, now)
	if err != nil {
		return fmt.Errorf("mark unlocked: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark unlocked rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("verification request already unlocked: %w", sentinel.ErrInvalidState)
	}
	return nil
}

func (s *PostgresRequestStore) list(ctx context.Context, query string, args ...any) ([]models.Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list verification requests: %w", err)
	}
	defer rows.Close()

	var out []models.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification request: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (models.Request, error) {
	var r models.Request
	err := row.Scan(
		&r.ID, &r.PrincipalID, &r.Status, &r.Result, &r.InitiatedAt, &r.ExpiresAt,
		&r.ResolvedAt, &r.ResolvedBy, &r.PinsIssuedAt,
		&r.UnlockStatus, &r.UnlockedAt, &r.FailsafeSent,
	)
	return r, err
}
