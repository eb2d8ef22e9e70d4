package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"custodia/internal/directory"
	"custodia/internal/notify"
	"custodia/internal/notify/dispatchlog"
	"custodia/internal/payload"
	"custodia/internal/unlock/metrics"
	"custodia/internal/unlock/models"
	"custodia/internal/unlock/store"
	verificationmodels "custodia/internal/verification/models"
	verificationstore "custodia/internal/verification/store"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/platform/tx"
)

// Gate evaluates unlock attempts against a principal's enabled rules and
// releases the protected payload exactly once. A failed attempt changes
// nothing: credentials stay valid and unused until an attempt succeeds.
type Gate struct {
	principals  directory.PrincipalDirectory
	parties     directory.PartyDirectory
	requests    verificationstore.RequestStore
	credentials verificationstore.CredentialStore
	releases    store.ReleaseStore
	payloads    payload.Store
	notifier    notify.Notifier
	dispatch    dispatchlog.Store
	auditor     *audit.Publisher
	logger      *slog.Logger
	metrics     *metrics.Metrics

	db            *sql.DB // nil outside postgres-backed deployments
	failsafeAfter time.Duration
	now           func() time.Time
}

// Option configures the Gate.
type Option func(*Gate)

// WithDB wires the database handle so the consume-and-release step runs in
// one transaction. Without it each store call commits on its own.
func WithDB(db *sql.DB) Option {
	return func(g *Gate) { g.db = db }
}

// WithMetrics wires gate metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) { g.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// New constructs the unlock gate. failsafeAfter is how long a
// deceased-resolved request may stay locked after credential issuance
// before the failsafe notice goes out.
func New(
	principals directory.PrincipalDirectory,
	parties directory.PartyDirectory,
	requests verificationstore.RequestStore,
	credentials verificationstore.CredentialStore,
	releases store.ReleaseStore,
	payloads payload.Store,
	notifier notify.Notifier,
	dispatch dispatchlog.Store,
	auditor *audit.Publisher,
	logger *slog.Logger,
	failsafeAfter time.Duration,
	opts ...Option,
) *Gate {
	g := &Gate{
		principals:    principals,
		parties:       parties,
		requests:      requests,
		credentials:   credentials,
		releases:      releases,
		payloads:      payloads,
		notifier:      notifier,
		dispatch:      dispatch,
		auditor:       auditor,
		logger:        logger,
		failsafeAfter: failsafeAfter,
		now:           time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Unlock evaluates the submitted PINs against the principal's enabled
// unlock rules, in order: full PIN set, executor override, trusted-contact
// override. On the first satisfied rule the payload releases and the
// consumed credentials burn atomically. Repeating an unlock for an
// already-released request returns the original release.
func (g *Gate) Unlock(ctx context.Context, principalID string, submissions []models.Submission) (models.Result, error) {
	if len(submissions) == 0 {
		return models.Result{}, dErrors.New(dErrors.CodeValidation, "at least one credential submission is required")
	}

	principal, err := g.principals.Get(ctx, principalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Result{}, dErrors.New(dErrors.CodeNotFound, "principal not found")
		}
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load principal")
	}

	request, err := g.requests.LatestDeceased(ctx, principalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			g.metrics.IncrementAttempt("denied", "none")
			return models.Result{}, dErrors.New(dErrors.CodeForbidden, "unlock requires a confirmed deceased resolution")
		}
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load verification request")
	}
	if request.UnlockStatus == verificationmodels.UnlockUnlocked {
		return g.alreadyUnlocked(ctx, request.ID)
	}

	issued, err := g.credentials.ListByRequest(ctx, request.ID)
	if err != nil {
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load credentials")
	}
	if len(issued) == 0 {
		g.metrics.IncrementAttempt("denied", "none")
		return models.Result{}, dErrors.New(dErrors.CodeForbidden, "no unlock credentials have been issued")
	}

	valid, err := validateSubmissions(issued, submissions)
	if err != nil {
		g.metrics.IncrementAttempt("denied", "none")
		g.emitAttempt(ctx, principalID, request.ID, "denied", "credential validation failed")
		return models.Result{}, err
	}

	rule, consumed, satisfied, err := g.evaluateRules(ctx, principal, issued, valid)
	if err != nil {
		return models.Result{}, err
	}
	if !satisfied {
		g.metrics.IncrementAttempt("denied", "none")
		g.emitAttempt(ctx, principalID, request.ID, "denied", "no enabled unlock rule satisfied")
		return models.Result{}, dErrors.New(dErrors.CodeForbidden, "the submitted credentials do not satisfy any enabled unlock rule")
	}

	return g.release(ctx, principal, request, rule, consumed)
}

// validateSubmissions checks every submission against its stored
// credential. Any unknown party, consumed credential, or wrong PIN fails
// the whole attempt without touching state.
func validateSubmissions(issued []verificationmodels.Credential, submissions []models.Submission) (map[string]verificationmodels.Credential, error) {
	byParty := make(map[string]verificationmodels.Credential, len(issued))
	for _, c := range issued {
		byParty[c.PartyID] = c
	}

	valid := make(map[string]verificationmodels.Credential, len(submissions))
	for _, sub := range submissions {
		credential, ok := byParty[sub.PartyID]
		if !ok {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "no credential was issued to party "+sub.PartyID)
		}
		if credential.Used {
			return nil, dErrors.New(dErrors.CodeConflict, "the credential for party "+sub.PartyID+" is already consumed")
		}
		if !credential.Matches(sub.PIN) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "invalid credential for party "+sub.PartyID)
		}
		valid[sub.PartyID] = credential
	}
	return valid, nil
}

// evaluateRules walks the enabled rules in precedence order and returns
// the first satisfied one with the credentials it consumes.
func (g *Gate) evaluateRules(ctx context.Context, principal directory.Principal, issued []verificationmodels.Credential, valid map[string]verificationmodels.Credential) (models.Rule, []verificationmodels.Credential, bool, error) {
	// Full PIN set: every issued credential presented and matched.
	if principal.Unlock.PINSystem && len(valid) == len(issued) {
		complete := true
		for _, c := range issued {
			if _, ok := valid[c.PartyID]; !ok {
				complete = false
				break
			}
		}
		if complete {
			return models.RuleFullPIN, issued, true, nil
		}
	}

	if !principal.Unlock.ExecutorOverride && !principal.Unlock.TrustedContactOverride {
		return "", nil, false, nil
	}

	parties, err := g.parties.ListByPrincipal(ctx, principal.ID)
	if err != nil {
		return "", nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parties")
	}
	partyByID := make(map[string]directory.Party, len(parties))
	hasPrimary := false
	for _, p := range parties {
		partyByID[p.ID] = p
		if p.IsPrimaryExecutor {
			hasPrimary = true
		}
	}

	// Executor override: the primary executor's credential alone, or any
	// executor's when no primary is designated.
	if principal.Unlock.ExecutorOverride {
		for partyID, credential := range valid {
			party, ok := partyByID[partyID]
			if !ok || !party.CanExecute() {
				continue
			}
			if party.IsPrimaryExecutor || !hasPrimary {
				return models.RuleExecutorOverride, []verificationmodels.Credential{credential}, true, nil
			}
		}
	}

	// Trusted-contact override: a single trusted contact's credential.
	if principal.Unlock.TrustedContactOverride {
		for partyID, credential := range valid {
			if party, ok := partyByID[partyID]; ok && party.Role == directory.RoleTrustedContact {
				return models.RuleTrustedContactOverride, []verificationmodels.Credential{credential}, true, nil
			}
		}
	}

	return "", nil, false, nil
}

// release makes the payload retrievable, then burns the consumed
// credentials, flips the request to unlocked, and records the release in
// one transaction. The payload copy runs first: it is idempotent per
// request id, so a crash between the copy and the commit re-releases the
// same object on retry.
func (g *Gate) release(ctx context.Context, principal directory.Principal, request verificationmodels.Request, rule models.Rule, consumed []verificationmodels.Credential) (models.Result, error) {
	ref, err := g.payloads.Release(ctx, principal.ID, request.ID)
	if err != nil {
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to release payload")
	}

	now := g.now()
	ids := make([]string, len(consumed))
	for i, c := range consumed {
		ids[i] = c.ID
	}

	err = g.inTx(ctx, func(ctx context.Context) error {
		if err := g.credentials.MarkUsedBatch(ctx, request.ID, ids, now); err != nil {
			return err
		}
		if err := g.requests.MarkUnlocked(ctx, request.ID, now); err != nil {
			return err
		}
		_, err := g.releases.Create(ctx, models.Release{
			RequestID:   request.ID,
			PrincipalID: principal.ID,
			PayloadRef:  ref,
			Rule:        rule,
			ReleasedAt:  now,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) || errors.Is(err, sentinel.ErrInvalidState) {
			// A concurrent attempt won the race and already released.
			return g.alreadyUnlocked(ctx, request.ID)
		}
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to finalize unlock")
	}

	g.metrics.IncrementAttempt("granted", string(rule))
	g.metrics.IncrementRelease()
	g.emitAttempt(ctx, principal.ID, request.ID, "granted", string(rule))
	g.auditor.Emit(ctx, audit.Event{
		PrincipalID: principal.ID,
		Actor:       "party",
		Action:      audit.EventUnlockReleased,
		Subject:     request.ID,
		Decision:    string(rule),
	})

	return models.Result{
		RequestID:  request.ID,
		Rule:       rule,
		PayloadRef: ref,
		ReleasedAt: now,
	}, nil
}

func (g *Gate) inTx(ctx context.Context, fn func(context.Context) error) error {
	if g.db == nil {
		return fn(ctx)
	}
	return tx.Within(ctx, g.db, fn)
}

func (g *Gate) alreadyUnlocked(ctx context.Context, requestID string) (models.Result, error) {
	release, err := g.releases.Get(ctx, requestID)
	if err != nil {
		return models.Result{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load release")
	}
	g.metrics.IncrementAttempt("already_unlocked", string(release.Rule))
	return models.Result{
		RequestID:       release.RequestID,
		Rule:            release.Rule,
		PayloadRef:      release.PayloadRef,
		ReleasedAt:      release.ReleasedAt,
		AlreadyUnlocked: true,
	}, nil
}

func (g *Gate) emitAttempt(ctx context.Context, principalID, requestID, decision, reason string) {
	g.auditor.Emit(ctx, audit.Event{
		PrincipalID: principalID,
		Actor:       "party",
		Action:      audit.EventUnlockAttempted,
		Subject:     requestID,
		Decision:    decision,
		Reason:      reason,
	})
}

// FailsafeSweep sends the one-time out-of-band notice for deceased-resolved
// requests that stayed locked past the failsafe period. The failsafe never
// changes unlock policy: the gate still demands a satisfied rule.
func (g *Gate) FailsafeSweep(ctx context.Context) (int, error) {
	now := g.now()
	due, err := g.requests.ListFailsafeDue(ctx, now.Add(-g.failsafeAfter))
	if err != nil {
		return 0, fmt.Errorf("list failsafe-due requests: %w", err)
	}

	sent := 0
	for _, request := range due {
		principal, err := g.principals.Get(ctx, request.PrincipalID)
		if err != nil {
			g.logger.ErrorContext(ctx, "failed to load principal for failsafe",
				"principal_id", request.PrincipalID,
				"error", err,
			)
			continue
		}
		if !principal.Unlock.Failsafe {
			continue
		}
		if err := g.requests.MarkFailsafeSent(ctx, request.ID); err != nil {
			if errors.Is(err, sentinel.ErrInvalidState) {
				continue // another instance sent it
			}
			g.logger.ErrorContext(ctx, "failed to mark failsafe sent",
				"request_id", request.ID,
				"error", err,
			)
			continue
		}
		g.sendFailsafe(ctx, principal, request, now)
		sent++
	}
	return sent, nil
}

func (g *Gate) sendFailsafe(ctx context.Context, principal directory.Principal, request verificationmodels.Request, now time.Time) {
	parties, err := g.parties.ListByPrincipal(ctx, principal.ID)
	if err != nil {
		g.logger.ErrorContext(ctx, "failed to load parties for failsafe",
			"principal_id", principal.ID,
			"error", err,
		)
		return
	}

	daysLocked := 0
	if request.PinsIssuedAt != nil {
		daysLocked = int(now.Sub(*request.PinsIssuedAt) / (24 * time.Hour))
	}

	var results []dispatchlog.RecipientResult
	for _, party := range parties {
		if !party.CanExecute() && party.Role != directory.RoleTrustedContact {
			continue
		}
		result := dispatchlog.RecipientResult{
			Recipient: party.Email,
			Template:  string(notify.TemplateFailsafeAlert),
		}
		receipt, err := g.notifier.Send(ctx, notify.Message{
			Recipient:     party.Email,
			RecipientName: party.Name,
			Template:      notify.TemplateFailsafeAlert,
			Urgency:       notify.UrgencySevere,
			Context: map[string]string{
				"principal_name": principal.Name,
				"days_locked":    strconv.Itoa(daysLocked),
			},
		})
		if err != nil {
			result.Error = err.Error()
		} else {
			result.MessageID = receipt.MessageID
		}
		results = append(results, result)
	}

	entry := dispatchlog.Entry{
		PrincipalID: principal.ID,
		Action:      dispatchlog.ActionFailsafeSent,
		Urgency:     string(notify.UrgencySevere),
		Recipients:  len(results),
		Detail:      results,
		CreatedAt:   now,
	}
	for _, r := range results {
		if r.Error == "" {
			entry.Delivered++
		} else {
			entry.Failed++
		}
	}
	if err := g.dispatch.Append(ctx, entry); err != nil {
		g.logger.ErrorContext(ctx, "failed to append failsafe dispatch entry",
			"principal_id", principal.ID,
			"error", err,
		)
	}

	g.metrics.IncrementFailsafe()
	g.auditor.Emit(ctx, audit.Event{
		PrincipalID: principal.ID,
		Actor:       "scheduler",
		Action:      audit.EventFailsafeEscalated,
		Subject:     request.ID,
		Reason:      fmt.Sprintf("locked %d days after credential issuance", daysLocked),
	})
}
