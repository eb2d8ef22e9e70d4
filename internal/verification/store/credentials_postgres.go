package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"custodia/internal/verification/models"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
)

// PostgresCredentialStore persists unlock credentials in PostgreSQL.
type PostgresCredentialStore struct {
	db *sql.DB
}

func NewPostgresCredentialStore(db *sql.DB) *PostgresCredentialStore {
	return &PostgresCredentialStore{db: db}
}

const credentialColumns = `id, request_id, party_id, party_role, pin_hash, used, used_at, created_at`

func (s *PostgresCredentialStore) CreateBatch(ctx context.Context, credentials []models.Credential) error {
	return tx.Within(ctx, s.db, func(ctx context.Context) error {
		q := tx.Resolve(ctx, s.db)
		for _, c := range credentials {
			_, err := q.ExecContext(ctx, `
				INSERT INTO unlock_credentials (id, request_id, party_id, party_role, pin_hash, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)
			`, c.ID, c.RequestID, c.PartyID, c.PartyRole, c.PINHash, c.CreatedAt)
			if err != nil {
				return fmt.Errorf("create credential for party %s: %w", c.PartyID, err)
			}
		}
		return nil
	})
}

func (s *PostgresCredentialStore) ListByRequest(ctx context.Context, requestID string) ([]models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM unlock_credentials WHERE request_id = $1 ORDER BY created_at, party_id`
	rows, err := s.db.QueryContext(ctx, query, requestID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var out []models.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresCredentialStore) GetByParty(ctx context.Context, requestID, partyID string) (models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM unlock_credentials WHERE request_id = $1 AND party_id = $2`
	c, err := scanCredential(s.db.QueryRowContext(ctx, query, requestID, partyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Credential{}, fmt.Errorf("credential for party %s: %w", partyID, sentinel.ErrNotFound)
		}
		return models.Credential{}, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// MarkUsedBatch consumes the listed credentials in one UPDATE guarded by
// used = FALSE. A short row count means some credential was already
// consumed; the ambient transaction rolls the rest back.
func (s *PostgresCredentialStore) MarkUsedBatch(ctx context.Context, requestID string, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	q := tx.Resolve(ctx, s.db)
	res, err := q.ExecContext(ctx, `
		UPDATE unlock_credentials
		SET used = TRUE, used_at = $3
		WHERE request_id = $1 AND id = ANY($2) AND used = FALSE
	`, requestID, ids, now)
	if err != nil {
		return fmt.Errorf("mark credentials used: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark credentials rows affected: %w", err)
	}
	if rows != int64(len(ids)) {
		return fmt.Errorf("consumed %d of %d credentials: %w", rows, len(ids), sentinel.ErrAlreadyUsed)
	}
	return nil
}

func (s *PostgresCredentialStore) InvalidateByRequest(ctx context.Context, requestID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM unlock_credentials WHERE request_id = $1`, requestID)
	if err != nil {
		return fmt.Errorf("invalidate credentials: %w", err)
	}
	return nil
}

func scanCredential(row rowScanner) (models.Credential, error) {
	var c models.Credential
	err := row.Scan(&c.ID, &c.RequestID, &c.PartyID, &c.PartyRole, &c.PINHash, &c.Used, &c.UsedAt, &c.CreatedAt)
	return c, err
}
