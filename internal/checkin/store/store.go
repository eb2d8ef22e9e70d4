package store

import (
	"context"

	"custodia/internal/checkin/models"
)

// Store persists check-in history and the per-principal current pointer.
//
// Error Contract:
// - Return sentinel.ErrNotFound when no current record exists
// - Return sentinel.ErrInvalidState when a CAS precondition fails
// - Return wrapped errors with context for infrastructure failures
type Store interface {
	// Append writes a new record and atomically repoints the principal's
	// current record to it. Last write wins.
	Append(ctx context.Context, record models.Record) error
	// Current returns the record the current pointer designates.
	Current(ctx context.Context, principalID string) (models.Record, error)
	// History returns records newest first, capped at limit (0 = no cap).
	History(ctx context.Context, principalID string, limit int) ([]models.Record, error)
	// MarkVerificationTriggered CASes the current record from alive to
	// verification_triggered. Returns sentinel.ErrInvalidState if the
	// current record is not the given one or not alive, so a racing
	// check-in wins over a concurrent overdue scan.
	MarkVerificationTriggered(ctx context.Context, principalID, recordID string) error
	// Reset removes the current pointer for an administrative reset.
	// History is retained for audit.
	Reset(ctx context.Context, principalID string) error
}
