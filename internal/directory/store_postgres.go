package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"custodia/pkg/platform/sentinel"
)

// PostgresDirectory reads principals and parties from Postgres. The tables
// are written by the account-management surface; this store is read-only.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgres constructs a Postgres-backed directory.
func NewPostgres(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const principalColumns = `
	id, name, email, check_in_enabled, check_in_interval_days, grace_period_days,
	verification_window_hours, notify_email, notify_push,
	pin_system_enabled, executor_override_enabled, trusted_contact_override_enabled,
	failsafe_enabled, created_at`

func (d *PostgresDirectory) Get(ctx context.Context, id string) (Principal, error) {
	query := `SELECT` + principalColumns + ` FROM principals WHERE id = $1`
	p, err := scanPrincipal(d.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Principal{}, fmt.Errorf("principal %s: %w", id, sentinel.ErrNotFound)
		}
		return Principal{}, fmt.Errorf("get principal: %w", err)
	}
	return p, nil
}

func (d *PostgresDirectory) ListCheckInEnabled(ctx context.Context) ([]Principal, error) {
	query := `SELECT` + principalColumns + ` FROM principals WHERE check_in_enabled ORDER BY id`
	rows, err := d.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list principals: %w", err)
	}
	defer rows.Close()

	var out []Principal
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan principal: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) ListByPrincipal(ctx context.Context, principalID string) ([]Party, error) {
	query := `
		SELECT id, principal_id, role, name, email, is_primary_executor, is_executor, created_at
		FROM parties
		WHERE principal_id = $1
		ORDER BY id
	`
	rows, err := d.db.QueryContext(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("list parties: %w", err)
	}
	defer rows.Close()

	var out []Party
	for rows.Next() {
		var p Party
		if err := rows.Scan(&p.ID, &p.PrincipalID, &p.Role, &p.Name, &p.Email,
			&p.IsPrimaryExecutor, &p.IsExecutor, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan party: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) GetParty(ctx context.Context, id string) (Party, error) {
	query := `
		SELECT id, principal_id, role, name, email, is_primary_executor, is_executor, created_at
		FROM parties
		WHERE id = $1
	`
	var p Party
	err := d.db.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.PrincipalID, &p.Role,
		&p.Name, &p.Email, &p.IsPrimaryExecutor, &p.IsExecutor, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Party{}, fmt.Errorf("party %s: %w", id, sentinel.ErrNotFound)
		}
		return Party{}, fmt.Errorf("get party: %w", err)
	}
	return p, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(row rowScanner) (Principal, error) {
	var p Principal
	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.CheckInEnabled, &p.CheckInIntervalDays,
		&p.GracePeriodDays, &p.VerificationWindowHours,
		&p.Notifications.Email, &p.Notifications.Push,
		&p.Unlock.PINSystem, &p.Unlock.ExecutorOverride,
		&p.Unlock.TrustedContactOverride, &p.Unlock.Failsafe,
		&p.CreatedAt,
	)
	return p, err
}
