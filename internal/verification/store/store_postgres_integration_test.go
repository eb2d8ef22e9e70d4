//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"custodia/internal/directory"
	"custodia/internal/verification/models"
	"custodia/internal/verification/store"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/testutil/containers"
)

type PostgresRequestStoreSuite struct {
	suite.Suite
	postgres    *containers.PostgresContainer
	requests    *store.PostgresRequestStore
	credentials *store.PostgresCredentialStore
	principalID string
}

func TestPostgresRequestStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresRequestStoreSuite))
}

func (s *PostgresRequestStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.requests = store.NewPostgresRequestStore(s.postgres.DB)
	s.credentials = store.NewPostgresCredentialStore(s.postgres.DB)
}

func (s *PostgresRequestStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"payload_releases", "unlock_credentials", "verification_requests", "parties", "principals")
	s.Require().NoError(err)

	s.principalID = uuid.NewString()
	_, err = s.postgres.DB.ExecContext(ctx, `
		INSERT INTO principals (id, name, email, check_in_enabled, check_in_interval_days, grace_period_days, verification_window_hours)
		VALUES ($1, 'Alice', 'alice@example.com', TRUE, 7, 3, 48)
	`, s.principalID)
	s.Require().NoError(err)
}

func (s *PostgresRequestStoreSuite) newPending(now time.Time) models.Request {
	request := models.NewRequest(uuid.NewString(), s.principalID, now, 48*time.Hour)
	s.Require().NoError(s.requests.CreatePending(context.Background(), request))
	return request
}

func (s *PostgresRequestStoreSuite) TestSinglePendingInvariant() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	s.newPending(now)

	s.Run("the partial unique index rejects a second pending request", func() {
		err := s.requests.CreatePending(ctx, models.NewRequest(uuid.NewString(), s.principalID, now, 48*time.Hour))
		s.ErrorIs(err, sentinel.ErrConflict)
	})
}

func (s *PostgresRequestStoreSuite) TestResolveCAS() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	request := s.newPending(now)
	partyID := uuid.NewString()

	resolved, err := s.requests.Resolve(ctx, request.ID, models.ResultConfirmedDeceased, partyID, now.Add(time.Hour))
	s.Require().NoError(err)
	s.Equal(models.StatusCompleted, resolved.Status)
	s.Equal(partyID, resolved.ResolvedBy)

	s.Run("the second writer loses", func() {
		_, err := s.requests.Resolve(ctx, request.ID, models.ResultConfirmedAlive, uuid.NewString(), now.Add(time.Hour))
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("the deceased request is visible to the unlock gate", func() {
		latest, err := s.requests.LatestDeceased(ctx, s.principalID)
		s.Require().NoError(err)
		s.Equal(request.ID, latest.ID)
	})
}

func (s *PostgresRequestStoreSuite) TestResolveEnforcesExpiry() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	request := s.newPending(now)

	_, err := s.requests.Resolve(ctx, request.ID, models.ResultConfirmedAlive, uuid.NewString(), request.ExpiresAt.Add(time.Minute))
	s.ErrorIs(err, sentinel.ErrExpired)
}

func (s *PostgresRequestStoreSuite) TestCredentialLifecycle() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	request := s.newPending(now)
	_, err := s.requests.Resolve(ctx, request.ID, models.ResultConfirmedDeceased, uuid.NewString(), now.Add(time.Hour))
	s.Require().NoError(err)

	execID, benID := uuid.NewString(), uuid.NewString()
	batch := []models.Credential{
		{ID: uuid.NewString(), RequestID: request.ID, PartyID: execID, PartyRole: directory.RoleExecutor, PINHash: "h1", CreatedAt: now},
		{ID: uuid.NewString(), RequestID: request.ID, PartyID: benID, PartyRole: directory.RoleBeneficiary, PINHash: "h2", CreatedAt: now},
	}
	s.Require().NoError(s.credentials.CreateBatch(ctx, batch))

	s.Run("consuming the batch is all or nothing", func() {
		s.Require().NoError(s.credentials.MarkUsedBatch(ctx, request.ID, []string{batch[0].ID}, now))

		err := s.credentials.MarkUsedBatch(ctx, request.ID, []string{batch[0].ID, batch[1].ID}, now)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("invalidation removes the remaining credentials", func() {
		s.Require().NoError(s.credentials.InvalidateByRequest(ctx, request.ID))

		remaining, err := s.credentials.ListByRequest(ctx, request.ID)
		s.Require().NoError(err)
		s.Empty(remaining)
	})
}

func (s *PostgresRequestStoreSuite) TestFailsafeDue() {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	request := s.newPending(now.Add(-100 * 24 * time.Hour))
	_, err := s.requests.Resolve(ctx, request.ID, models.ResultConfirmedDeceased, uuid.NewString(), request.ExpiresAt.Add(-time.Hour))
	s.Require().NoError(err)
	s.Require().NoError(s.requests.MarkPinsIssued(ctx, request.ID, now.Add(-70*24*time.Hour)))

	s.Run("locked requests past the cutoff are due exactly once", func() {
		due, err := s.requests.ListFailsafeDue(ctx, now.Add(-60*24*time.Hour))
		s.Require().NoError(err)
		s.Require().Len(due, 1)

		s.Require().NoError(s.requests.MarkFailsafeSent(ctx, due[0].ID))
		s.ErrorIs(s.requests.MarkFailsafeSent(ctx, due[0].ID), sentinel.ErrInvalidState)

		due, err = s.requests.ListFailsafeDue(ctx, now.Add(-60*24*time.Hour))
		s.Require().NoError(err)
		s.Empty(due)
	})
}
