package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	checkinmodels "custodia/internal/checkin/models"
	checkinstore "custodia/internal/checkin/store"
	"custodia/internal/directory"
	"custodia/internal/notify"
	"custodia/internal/notify/dispatchlog"
	"custodia/internal/verification/models"
	"custodia/internal/verification/store"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
)

// sendConcurrency bounds parallel notification sends per batch.
const sendConcurrency = 4

// CheckinRecorder records a fresh check-in when a party confirms the
// principal alive. Wired to the check-in tracker after construction to
// break the mutual dependency between the two services.
type CheckinRecorder interface {
	RecordCheckin(ctx context.Context, principalID string) (checkinmodels.Record, error)
}

// Service owns the verification request lifecycle: opening a request when
// the principal stays unreachable past grace, collecting party reports,
// expiring unanswered windows, and issuing unlock credentials on a
// deceased resolution.
type Service struct {
	requests    store.RequestStore
	credentials store.CredentialStore
	checkins    checkinstore.Store
	principals  directory.PrincipalDirectory
	parties     directory.PartyDirectory
	notifier    notify.Notifier
	dispatch    dispatchlog.Store
	tokens      *TokenCodec
	reportBase  string
	auditor     *audit.Publisher
	logger      *slog.Logger
	now         func() time.Time

	mu       sync.RWMutex
	recorder CheckinRecorder
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source for tests. The token codec follows
// the same clock so expiry checks stay deterministic.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		if s.tokens != nil {
			s.tokens.now = now
		}
	}
}

// New constructs the verification service. reportBase is the externally
// reachable URL prefix report links are built on.
func New(
	requests store.RequestStore,
	credentials store.CredentialStore,
	checkins checkinstore.Store,
	principals directory.PrincipalDirectory,
	parties directory.PartyDirectory,
	notifier notify.Notifier,
	dispatch dispatchlog.Store,
	tokens *TokenCodec,
	reportBase string,
	auditor *audit.Publisher,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	s := &Service{
		requests:    requests,
		credentials: credentials,
		checkins:    checkins,
		principals:  principals,
		parties:     parties,
		notifier:    notifier,
		dispatch:    dispatch,
		tokens:      tokens,
		reportBase:  reportBase,
		auditor:     auditor,
		logger:      logger,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// SetCheckinRecorder wires the check-in tracker. Must be called before
// serving; reports that confirm the principal alive record a check-in
// through it.
func (s *Service) SetCheckinRecorder(r CheckinRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder = r
}

func (s *Service) checkinRecorder() CheckinRecorder {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recorder
}

// Trigger opens a verification request for a principal whose current
// record sits past deadline plus grace. The current record is flagged
// first under compare-and-set, so a check-in racing the overdue scan wins
// and no request opens. Trigger is a no-op when a request is already
// pending.
func (s *Service) Trigger(ctx context.Context, principal directory.Principal, record checkinmodels.Record) error {
	if err := s.checkins.MarkVerificationTriggered(ctx, principal.ID, record.ID); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			// A fresh check-in superseded the record, or a previous scan
			// already flagged it.
			return s.retriggerIfUnanswered(ctx, principal)
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to flag check-in record")
	}
	return s.openRequest(ctx, principal)
}

// retriggerIfUnanswered re-opens a request when the record was already
// flagged but the earlier request expired unanswered. A pending request
// stays untouched.
func (s *Service) retriggerIfUnanswered(ctx context.Context, principal directory.Principal) error {
	if _, err := s.requests.GetPending(ctx, principal.ID); err == nil {
		return nil
	} else if !errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check pending request")
	}

	record, err := s.checkins.Current(ctx, principal.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load current record")
	}
	if record.Status != checkinmodels.StatusVerificationTriggered {
		return nil
	}
	return s.openRequest(ctx, principal)
}

func (s *Service) openRequest(ctx context.Context, principal directory.Principal) error {
	now := s.now()
	request := models.NewRequest(uuid.NewString(), principal.ID, now, principal.VerificationWindow())
	if err := s.requests.CreatePending(ctx, request); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create verification request")
	}

	parties, err := s.parties.ListByPrincipal(ctx, principal.ID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parties")
	}

	results := s.sendReportLinks(ctx, principal, request, parties)
	s.logDispatch(ctx, principal.ID, dispatchlog.ActionVerificationRequested, "", results)

	s.auditor.Emit(ctx, audit.Event{
		PrincipalID: principal.ID,
		Actor:       "scheduler",
		Action:      audit.EventVerificationTriggered,
		Subject:     request.ID,
		Reason:      "overdue past grace period",
	})
	return nil
}

func (s *Service) sendReportLinks(ctx context.Context, principal directory.Principal, request models.Request, parties []directory.Party) []dispatchlog.RecipientResult {
	results := make([]dispatchlog.RecipientResult, len(parties))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for i, party := range parties {
		g.Go(func() error {
			result := dispatchlog.RecipientResult{
				Recipient: party.Email,
				Template:  string(notify.TemplateVerificationRequest),
			}
			token, err := s.tokens.Issue(request.ID, party.ID, request.ExpiresAt)
			if err != nil {
				result.Error = err.Error()
				results[i] = result
				return nil
			}
			receipt, err := s.notifier.Send(gctx, notify.Message{
				Recipient:     party.Email,
				RecipientName: party.Name,
				Template:      notify.TemplateVerificationRequest,
				Urgency:       notify.UrgencySevere,
				Context: map[string]string{
					"principal_name": principal.Name,
					"report_link":    fmt.Sprintf("%s/v1/verification/report?token=%s", s.reportBase, token),
					"expires_at":     request.ExpiresAt.Format(time.RFC1123),
				},
			})
			if err != nil {
				// One unreachable party never blocks the rest; the
				// failure lands in the dispatch log.
				result.Error = err.Error()
			} else {
				result.MessageID = receipt.MessageID
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait() // workers record failures instead of returning them
	return results
}

func (s *Service) logDispatch(ctx context.Context, principalID string, action dispatchlog.Action, urgency string, results []dispatchlog.RecipientResult) {
	entry := dispatchlog.Entry{
		PrincipalID: principalID,
		Action:      action,
		Urgency:     urgency,
		Recipients:  len(results),
		Detail:      results,
		CreatedAt:   s.now(),
	}
	for _, r := range results {
		if r.Error == "" {
			entry.Delivered++
		} else {
			entry.Failed++
		}
	}
	if err := s.dispatch.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append dispatch log entry",
			"principal_id", principalID,
			"action", action,
			"error", err,
		)
	}
}

// SubmitReport resolves a pending request from a party's signed report
// link. First writer wins; later reports for the same request fail with a
// conflict regardless of their claimed status.
func (s *Service) SubmitReport(ctx context.Context, token string, reported models.Result) (models.Request, error) {
	if reported != models.ResultConfirmedAlive && reported != models.ResultConfirmedDeceased {
		return models.Request{}, dErrors.New(dErrors.CodeValidation, "status must be confirmed_alive or confirmed_deceased")
	}

	requestID, partyID, err := s.tokens.Parse(token)
	if err != nil {
		return models.Request{}, dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid report token")
	}

	request, err := s.requests.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Request{}, dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return models.Request{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}

	party, err := s.parties.GetParty(ctx, partyID)
	if err != nil || party.PrincipalID != request.PrincipalID {
		return models.Request{}, dErrors.New(dErrors.CodeUnauthorized, "report token does not match a designated party")
	}

	resolved, err := s.requests.Resolve(ctx, requestID, reported, partyID, s.now())
	if err != nil {
		switch {
		case errors.Is(err, sentinel.ErrExpired):
			return models.Request{}, dErrors.New(dErrors.CodeConflict, "the verification window has closed")
		case errors.Is(err, sentinel.ErrInvalidState):
			return models.Request{}, dErrors.New(dErrors.CodeConflict, "the verification request is already resolved")
		default:
			return models.Request{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve verification request")
		}
	}

	if reported == models.ResultConfirmedAlive {
		s.auditor.Emit(ctx, audit.Event{
			PrincipalID: request.PrincipalID,
			Actor:       partyID,
			Action:      audit.EventVerificationResolvedAlive,
			Subject:     requestID,
		})
		// An alive confirmation counts as a check-in: it restarts the
		// deadline cycle and re-arms the scheduler.
		if recorder := s.checkinRecorder(); recorder != nil {
			if _, err := recorder.RecordCheckin(ctx, request.PrincipalID); err != nil {
				s.logger.ErrorContext(ctx, "failed to record check-in after alive report",
					"principal_id", request.PrincipalID,
					"error", err,
				)
			}
		}
		return resolved, nil
	}

	s.auditor.Emit(ctx, audit.Event{
		PrincipalID: request.PrincipalID,
		Actor:       partyID,
		Action:      audit.EventVerificationResolvedDeceased,
		Subject:     requestID,
	})
	if err := s.issuePINs(ctx, resolved); err != nil {
		// The resolution stands. Credentials can be re-issued through an
		// administrative reset and a fresh cycle.
		s.logger.ErrorContext(ctx, "failed to issue unlock credentials",
			"principal_id", request.PrincipalID,
			"request_id", requestID,
			"error", err,
		)
	}
	return resolved, nil
}

// issuePINs generates one single-use credential per eligible party and
// delivers the plaintext PINs. Credentials issue for every deceased
// resolution regardless of which unlock rules are enabled; the override
// rules consume them too. The pins_issued_at stamp is taken first under
// compare-and-set so concurrent deceased resolutions issue exactly one
// batch.
func (s *Service) issuePINs(ctx context.Context, request models.Request) error {
	principal, err := s.principals.Get(ctx, request.PrincipalID)
	if err != nil {
		return fmt.Errorf("load principal: %w", err)
	}
	if err := s.requests.MarkPinsIssued(ctx, request.ID, s.now()); err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return nil
		}
		return fmt.Errorf("mark pins issued: %w", err)
	}

	parties, err := s.parties.ListByPrincipal(ctx, request.PrincipalID)
	if err != nil {
		return fmt.Errorf("load parties: %w", err)
	}
	holders := pinHolders(principal, parties)

	credentials := make([]models.Credential, 0, len(holders))
	pins := make(map[string]string, len(holders))
	now := s.now()
	for _, party := range holders {
		pin, err := models.GeneratePIN()
		if err != nil {
			return err
		}
		hash, err := models.HashPIN(pin)
		if err != nil {
			return err
		}
		credentials = append(credentials, models.Credential{
			ID:        uuid.NewString(),
			RequestID: request.ID,
			PartyID:   party.ID,
			PartyRole: party.Role,
			PINHash:   hash,
			CreatedAt: now,
		})
		pins[party.ID] = pin
	}
	if err := s.credentials.CreateBatch(ctx, credentials); err != nil {
		return fmt.Errorf("store credentials: %w", err)
	}

	for _, party := range holders {
		if _, err := s.notifier.Send(ctx, notify.Message{
			Recipient:     party.Email,
			RecipientName: party.Name,
			Template:      notify.TemplateUnlockCredential,
			Urgency:       notify.UrgencySevere,
			Context: map[string]string{
				"principal_name": principal.Name,
				"pin":            pins[party.ID],
			},
		}); err != nil {
			s.logger.ErrorContext(ctx, "failed to deliver unlock credential",
				"principal_id", request.PrincipalID,
				"party_id", party.ID,
				"error", err,
			)
		}
	}

	s.auditor.Emit(ctx, audit.Event{
		PrincipalID: request.PrincipalID,
		Actor:       "scheduler",
		Action:      audit.EventPinsIssued,
		Subject:     request.ID,
		Reason:      strconv.Itoa(len(credentials)) + " credentials issued",
	})
	return nil
}

// pinHolders selects the parties that receive unlock credentials: every
// beneficiary and executor, plus trusted contacts when the trusted-contact
// override is enabled.
func pinHolders(principal directory.Principal, parties []directory.Party) []directory.Party {
	var holders []directory.Party
	for _, p := range parties {
		switch p.Role {
		case directory.RoleBeneficiary, directory.RoleExecutor:
			holders = append(holders, p)
		case directory.RoleTrustedContact:
			if principal.Unlock.TrustedContactOverride || p.IsExecutor {
				holders = append(holders, p)
			}
		}
	}
	return holders
}

// CancelPendingOnCheckin resolves the principal's pending request to
// confirmed_alive because the principal checked in themselves. No-op when
// nothing is pending.
func (s *Service) CancelPendingOnCheckin(ctx context.Context, principalID string, now time.Time) error {
	request, ok, err := s.requests.CancelPending(ctx, principalID, now)
	if err != nil {
		return fmt.Errorf("cancel pending verification: %w", err)
	}
	if !ok {
		return nil
	}
	s.auditor.Emit(ctx, audit.Event{
		PrincipalID: principalID,
		Actor:       "principal",
		Action:      audit.EventVerificationResolvedAlive,
		Subject:     request.ID,
		Reason:      "principal checked in",
	})
	return nil
}

// Get returns one verification request.
func (s *Service) Get(ctx context.Context, id string) (models.Request, error) {
	request, err := s.requests.Get(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Request{}, dErrors.New(dErrors.CodeNotFound, "verification request not found")
		}
		return models.Request{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	return request, nil
}

// ExpireSweep closes pending requests whose window has passed. Expiry is
// terminal and never auto-confirms death; the principal stays flagged, so
// the next scan opens a fresh request.
func (s *Service) ExpireSweep(ctx context.Context) (int, error) {
	now := s.now()
	due, err := s.requests.ListPendingExpired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list expired requests: %w", err)
	}
	expired := 0
	for _, request := range due {
		if err := s.requests.MarkExpired(ctx, request.ID, now); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				continue // a report beat the sweep
			}
			s.logger.ErrorContext(ctx, "failed to expire verification request",
				"request_id", request.ID,
				"error", err,
			)
			continue
		}
		expired++
		s.auditor.Emit(ctx, audit.Event{
			PrincipalID: request.PrincipalID,
			Actor:       "scheduler",
			Action:      audit.EventVerificationExpired,
			Subject:     request.ID,
			Reason:      "no party responded within the window",
		})
	}
	return expired, nil
}

// Reset cancels any pending request and destroys outstanding unlock
// credentials as part of an administrative reset.
func (s *Service) Reset(ctx context.Context, principalID string) error {
	now := s.now()
	if _, _, err := s.requests.CancelPending(ctx, principalID, now); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to cancel pending request")
	}

	deceased, err := s.requests.LatestDeceased(ctx, principalID)
	switch {
	case err == nil:
		if err := s.credentials.InvalidateByRequest(ctx, deceased.ID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to invalidate credentials")
		}
	case errors.Is(err, sentinel.ErrNotFound):
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load deceased request")
	}

	s.auditor.Emit(ctx, audit.Event{
		PrincipalID: principalID,
		Actor:       "admin",
		Action:      audit.EventAdministrativeReset,
		Subject:     "verification",
	})
	return nil
}
