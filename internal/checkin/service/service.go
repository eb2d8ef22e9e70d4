package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"custodia/internal/checkin/models"
	"custodia/internal/checkin/store"
	"custodia/internal/directory"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
)

// PendingCanceller cancels an in-flight verification request when the
// principal proves alive by checking in. Wired to the verification service;
// nil disables cancellation (tests that only exercise the tracker).
type PendingCanceller interface {
	CancelPendingOnCheckin(ctx context.Context, principalID string, now time.Time) error
}

// Tracker owns the single current check-in record per principal.
type Tracker struct {
	store      store.Store
	principals directory.PrincipalDirectory
	canceller  PendingCanceller
	auditor    *audit.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures the Tracker.
type Option func(*Tracker)

// WithCanceller wires the verification-request canceller.
func WithCanceller(c PendingCanceller) Option {
	return func(t *Tracker) { t.canceller = c }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New constructs the check-in tracker.
func New(st store.Store, principals directory.PrincipalDirectory, auditor *audit.Publisher, logger *slog.Logger, opts ...Option) *Tracker {
	t := &Tracker{
		store:      st,
		principals: principals,
		auditor:    auditor,
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// RecordCheckin appends a fresh current record with a deadline derived from
// the principal's interval. Each call resets the effective deadline; last
// write wins. A check-in while a verification request is pending cancels
// that request.
func (t *Tracker) RecordCheckin(ctx context.Context, principalID string) (models.Record, error) {
	principal, err := t.principals.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Record{}, dErrors.New(dErrors.CodeNotFound, "principal not found")
		}
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principal")
	}
	if !principal.CheckInEnabled {
		return models.Record{}, dErrors.New(dErrors.CodeConflict, "check-ins are not enabled for this principal")
	}

	now := t.now()
	record := models.NewRecord(uuid.NewString(), principalID, now, principal.Interval())
	if err := t.store.Append(ctx, record); err != nil {
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record check-in")
	}

	if t.canceller != nil {
		if err := t.canceller.CancelPendingOnCheckin(ctx, principalID, now); err != nil {
			// The check-in itself stands; the scheduler stops selecting
			// this principal, so a stale pending request only lingers
			// until its own expiry sweep.
			t.logger.ErrorContext(ctx, "failed to cancel pending verification on check-in",
				"principal_id", principalID,
				"error", err,
			)
		}
	}

	t.auditor.Emit(ctx, audit.Event{
		PrincipalID: principalID,
		Actor:       "principal",
		Action:      audit.EventCheckinRecorded,
		Subject:     record.ID,
	})

	return record, nil
}

// Current returns the authoritative check-in record for the principal.
func (t *Tracker) Current(ctx context.Context, principalID string) (models.Record, error) {
	record, err := t.store.Current(ctx, principalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Record{}, dErrors.New(dErrors.CodeNotFound, "no check-in recorded")
		}
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load check-in")
	}
	return record, nil
}

// History returns the append-only check-in history, newest first.
func (t *Tracker) History(ctx context.Context, principalID string, limit int) ([]models.Record, error) {
	records, err := t.store.History(ctx, principalID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load check-in history")
	}
	return records, nil
}

// Reset clears the current pointer as part of an administrative reset.
// History stays for audit.
func (t *Tracker) Reset(ctx context.Context, principalID string) error {
	if err := t.store.Reset(ctx, principalID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset check-in state")
	}
	t.auditor.Emit(ctx, audit.Event{
		PrincipalID: principalID,
		Actor:       "admin",
		Action:      audit.EventAdministrativeReset,
		Subject:     "checkin",
	})
	return nil
}
