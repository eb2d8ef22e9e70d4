package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/directory"
	"custodia/internal/notify"
	"custodia/internal/notify/dispatchlog"
	"custodia/internal/payload"
	"custodia/internal/unlock/models"
	unlockstore "custodia/internal/unlock/store"
	verificationmodels "custodia/internal/verification/models"
	verificationstore "custodia/internal/verification/store"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/audit"
)

// =============================================================================
// Unlock Gate Test Suite
// =============================================================================
// Justification for unit tests: the gate's rule evaluation (all-of-N PINs,
// overrides, idempotent re-unlock) and its no-state-change-on-failure
// guarantee are the engine's security core and need exact assertions on
// stored credential state.

type GateSuite struct {
	suite.Suite
	dir         *directory.InMemoryDirectory
	requests    *verificationstore.InMemoryRequestStore
	credentials *verificationstore.InMemoryCredentialStore
	releases    *unlockstore.InMemoryReleaseStore
	payloads    *payload.InMemoryStore
	notifier    *notify.InMemoryNotifier
	dispatch    *dispatchlog.InMemoryStore
	gate        *Gate
	clock       time.Time

	principal directory.Principal
	request   verificationmodels.Request
	pins      map[string]string // party id -> plaintext PIN
}

func TestGateSuite(t *testing.T) {
	suite.Run(t, new(GateSuite))
}

func (s *GateSuite) SetupTest() {
	s.dir = directory.NewInMemory()
	s.requests = verificationstore.NewInMemoryRequestStore()
	s.credentials = verificationstore.NewInMemoryCredentialStore()
	s.releases = unlockstore.NewInMemoryReleaseStore()
	s.payloads = payload.NewInMemoryStore()
	s.notifier = notify.NewInMemory()
	s.dispatch = dispatchlog.NewInMemory()
	s.clock = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	s.pins = map[string]string{}

	s.principal = directory.Principal{
		ID:             "alice",
		Name:           "Alice",
		CheckInEnabled: true,
		Unlock: directory.UnlockMechanisms{
			PINSystem:        true,
			ExecutorOverride: true,
			Failsafe:         true,
		},
	}
	s.dir.PutPrincipal(s.principal)
	s.dir.PutParty(directory.Party{
		ID: "exec-1", PrincipalID: "alice", Role: directory.RoleExecutor,
		Name: "Erin", Email: "erin@example.com", IsPrimaryExecutor: true,
	})
	s.dir.PutParty(directory.Party{
		ID: "ben-1", PrincipalID: "alice", Role: directory.RoleBeneficiary,
		Name: "Ben", Email: "ben@example.com",
	})
	s.dir.PutParty(directory.Party{
		ID: "tc-1", PrincipalID: "alice", Role: directory.RoleTrustedContact,
		Name: "Tara", Email: "tara@example.com",
	})

	s.payloads.Seal("alice", "sealed-package")

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.gate = New(
		s.dir, s.dir, s.requests, s.credentials, s.releases, s.payloads,
		s.notifier, s.dispatch, audit.NewPublisher(64, logger), logger,
		60*24*time.Hour,
		WithClock(func() time.Time { return s.clock }),
	)
}

// seedDeceased installs a deceased-resolved request with credentials for
// the given parties and remembers their plaintext PINs.
func (s *GateSuite) seedDeceased(partyIDs ...string) {
	ctx := context.Background()
	request := verificationmodels.NewRequest(uuid.NewString(), "alice", s.clock.Add(-72*time.Hour), 48*time.Hour)
	s.Require().NoError(s.requests.CreatePending(ctx, request))
	resolved, err := s.requests.Resolve(ctx, request.ID, verificationmodels.ResultConfirmedDeceased, partyIDs[0], s.clock.Add(-48*time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.requests.MarkPinsIssued(ctx, resolved.ID, s.clock.Add(-48*time.Hour)))
	s.request = resolved

	roles := map[string]directory.Role{
		"exec-1": directory.RoleExecutor,
		"ben-1":  directory.RoleBeneficiary,
		"tc-1":   directory.RoleTrustedContact,
	}
	var batch []verificationmodels.Credential
	for _, partyID := range partyIDs {
		pin, err := verificationmodels.GeneratePIN()
		s.Require().NoError(err)
		hash, err := verificationmodels.HashPIN(pin)
		s.Require().NoError(err)
		s.pins[partyID] = pin
		batch = append(batch, verificationmodels.Credential{
			ID:        uuid.NewString(),
			RequestID: resolved.ID,
			PartyID:   partyID,
			PartyRole: roles[partyID],
			PINHash:   hash,
			CreatedAt: s.clock.Add(-48 * time.Hour),
		})
	}
	s.Require().NoError(s.credentials.CreateBatch(ctx, batch))
}

func (s *GateSuite) submission(partyID string) models.Submission {
	return models.Submission{PartyID: partyID, PIN: s.pins[partyID]}
}

func (s *GateSuite) assertStillLocked() {
	ctx := context.Background()
	stored, err := s.requests.Get(ctx, s.request.ID)
	s.Require().NoError(err)
	s.Equal(verificationmodels.UnlockLocked, stored.UnlockStatus)

	credentials, err := s.credentials.ListByRequest(ctx, s.request.ID)
	s.Require().NoError(err)
	for _, c := range credentials {
		s.False(c.Used, "credential for %s must stay unused", c.PartyID)
	}
	s.False(s.payloads.Released(s.request.ID))
}

// =============================================================================
// Full PIN Rule Tests
// =============================================================================

func (s *GateSuite) TestFullPINRule() {
	ctx := context.Background()
	s.seedDeceased("exec-1", "ben-1")

	s.Run("one of two PINs does not open the gate", func() {
		_, err := s.gate.Unlock(ctx, "alice", []models.Submission{s.submission("ben-1")})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.assertStillLocked()
	})

	s.Run("a wrong PIN fails the whole attempt without burning anything", func() {
		_, err := s.gate.Unlock(ctx, "alice", []models.Submission{
			s.submission("exec-1"),
			{PartyID: "ben-1", PIN: "00000000"},
		})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
		s.assertStillLocked()
	})

	s.Run("all PINs together release the payload", func() {
		result, err := s.gate.Unlock(ctx, "alice", []models.Submission{
			s.submission("exec-1"),
			s.submission("ben-1"),
		})
		s.Require().NoError(err)
		s.Equal(models.RuleFullPIN, result.Rule)
		s.False(result.AlreadyUnlocked)
		s.NotEmpty(result.PayloadRef)
		s.True(s.payloads.Released(s.request.ID))

		credentials, err := s.credentials.ListByRequest(ctx, s.request.ID)
		s.Require().NoError(err)
		for _, c := range credentials {
			s.True(c.Used)
		}
	})

	s.Run("repeating the unlock is idempotent", func() {
		result, err := s.gate.Unlock(ctx, "alice", []models.Submission{s.submission("exec-1")})
		s.Require().NoError(err)
		s.True(result.AlreadyUnlocked)
		s.Equal(models.RuleFullPIN, result.Rule)
	})
}

// =============================================================================
// Override Rule Tests
// =============================================================================

func (s *GateSuite) TestExecutorOverride() {
	ctx := context.Background()
	s.seedDeceased("exec-1", "ben-1", "tc-1")

	// Ben's credential is lost; the primary executor unlocks alone.
	result, err := s.gate.Unlock(ctx, "alice", []models.Submission{s.submission("exec-1")})
	s.Require().NoError(err)
	s.Equal(models.RuleExecutorOverride, result.Rule)

	s.Run("only the executor's credential is consumed", func() {
		credentials, err := s.credentials.ListByRequest(ctx, s.request.ID)
		s.Require().NoError(err)
		for _, c := range credentials {
			s.Equal(c.PartyID == "exec-1", c.Used)
		}
	})
}

func (s *GateSuite) TestExecutorOverrideDisabled() {
	ctx := context.Background()
	s.principal.Unlock = directory.UnlockMechanisms{PINSystem: true}
	s.dir.PutPrincipal(s.principal)
	s.seedDeceased("exec-1", "ben-1")

	_, err := s.gate.Unlock(ctx, "alice", []models.Submission{s.submission("exec-1")})
	s.Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	s.assertStillLocked()
}

func (s *GateSuite) TestTrustedContactOverride() {
	ctx := context.Background()
	s.principal.Unlock = directory.UnlockMechanisms{
		PINSystem:              true,
		TrustedContactOverride: true,
	}
	s.dir.PutPrincipal(s.principal)
	s.seedDeceased("exec-1", "ben-1", "tc-1")

	result, err := s.gate.Unlock(ctx, "alice", []models.Submission{s.submission("tc-1")})
	s.Require().NoError(err)
	s.Equal(models.RuleTrustedContactOverride, result.Rule)
}

// =============================================================================
// Precondition Tests
// =============================================================================

func (s *GateSuite) TestPreconditions() {
	ctx := context.Background()

	s.Run("no deceased resolution means no unlock", func() {
		_, err := s.gate.Unlock(ctx, "alice", []models.Submission{{PartyID: "exec-1", PIN: "12345678"}})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("empty submissions are rejected up front", func() {
		_, err := s.gate.Unlock(ctx, "alice", nil)
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("a PIN from an uninvolved party is unauthorized", func() {
		s.seedDeceased("exec-1", "ben-1")
		_, err := s.gate.Unlock(ctx, "alice", []models.Submission{{PartyID: "stranger", PIN: "12345678"}})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	})
}

// =============================================================================
// Failsafe Sweep Tests
// =============================================================================

func (s *GateSuite) TestFailsafeSweep() {
	ctx := context.Background()
	s.seedDeceased("exec-1", "ben-1", "tc-1")

	s.Run("nothing fires before the failsafe period", func() {
		sent, err := s.gate.FailsafeSweep(ctx)
		s.Require().NoError(err)
		s.Zero(sent)
	})

	s.Run("a long-locked request alerts executors and trusted contacts once", func() {
		s.clock = s.clock.Add(61 * 24 * time.Hour)
		sent, err := s.gate.FailsafeSweep(ctx)
		s.Require().NoError(err)
		s.Equal(1, sent)

		var recipients []string
		for _, msg := range s.notifier.Sent() {
			s.Equal(notify.TemplateFailsafeAlert, msg.Template)
			recipients = append(recipients, msg.Recipient)
		}
		s.ElementsMatch([]string{"erin@example.com", "tara@example.com"}, recipients)

		entry, err := s.dispatch.LastOfAction(ctx, "alice", dispatchlog.ActionFailsafeSent)
		s.Require().NoError(err)
		s.Equal(2, entry.Delivered)
	})

	s.Run("the notice never repeats", func() {
		before := len(s.notifier.Sent())
		sent, err := s.gate.FailsafeSweep(ctx)
		s.Require().NoError(err)
		s.Zero(sent)
		s.Len(s.notifier.Sent(), before)
	})

	s.Run("the gate still requires a satisfied rule afterwards", func() {
		_, err := s.gate.Unlock(ctx, "alice", []models.Submission{s.submission("ben-1")})
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})
}
