package store

import (
	"context"
	"time"

	"custodia/internal/verification/models"
)

// RequestStore persists verification requests. All transitions out of
// pending are compare-and-set: the WHERE clause carries the precondition
// and zero rows affected means another writer won.
//
// Error Contract:
// - Return sentinel.ErrNotFound when the request does not exist
// - Return sentinel.ErrConflict when a second pending request would be created
// - Return sentinel.ErrInvalidState when a CAS precondition fails
// - Return sentinel.ErrExpired when a resolve hits a request past expiry
type RequestStore interface {
	CreatePending(ctx context.Context, request models.Request) error
	Get(ctx context.Context, id string) (models.Request, error)
	GetPending(ctx context.Context, principalID string) (models.Request, error)
	// LatestDeceased returns the most recent confirmed-deceased request
	// for the principal; the unlock gate operates on this.
	LatestDeceased(ctx context.Context, principalID string) (models.Request, error)
	// Resolve CASes pending -> completed with the given result, enforcing
	// expiry at the same time. First writer wins.
	Resolve(ctx context.Context, id string, result models.Result, resolvedBy string, now time.Time) (models.Request, error)
	// CancelPending resolves the principal's pending request to
	// confirmed_alive on a check-in. Reports ok=false when nothing was
	// pending.
	CancelPending(ctx context.Context, principalID string, now time.Time) (models.Request, bool, error)
	// MarkExpired CASes pending -> expired once past expires_at.
	MarkExpired(ctx context.Context, id string, now time.Time) error
	// ListPendingExpired returns pending requests whose window has closed.
	ListPendingExpired(ctx context.Context, now time.Time) ([]models.Request, error)
	// MarkPinsIssued stamps pins_issued_at exactly once per request.
	MarkPinsIssued(ctx context.Context, id string, now time.Time) error
	// ListFailsafeDue returns deceased-resolved requests still locked with
	// pins issued at or before cutoff and no failsafe notice sent yet.
	ListFailsafeDue(ctx context.Context, cutoff time.Time) ([]models.Request, error)
	// MarkFailsafeSent CASes failsafe_sent false -> true.
	MarkFailsafeSent(ctx context.Context, id string) error
	// MarkUnlocked CASes unlock_status locked -> unlocked.
	MarkUnlocked(ctx context.Context, id string, now time.Time) error
}

// CredentialStore persists unlock credentials.
//
// Error Contract:
// - Return sentinel.ErrNotFound when no credential matches
// - MarkUsedBatch is all-or-nothing and returns sentinel.ErrAlreadyUsed
//   if any listed credential is already consumed
type CredentialStore interface {
	CreateBatch(ctx context.Context, credentials []models.Credential) error
	ListByRequest(ctx context.Context, requestID string) ([]models.Credential, error)
	GetByParty(ctx context.Context, requestID, partyID string) (models.Credential, error)
	// MarkUsedBatch consumes the listed credentials atomically.
	MarkUsedBatch(ctx context.Context, requestID string, ids []string, now time.Time) error
	// InvalidateByRequest destroys credentials on verification reset.
	InvalidateByRequest(ctx context.Context, requestID string) error
}
