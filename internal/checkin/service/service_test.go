package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/checkin/models"
	"custodia/internal/checkin/store"
	"custodia/internal/directory"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/audit"
)

// =============================================================================
// Check-in Tracker Test Suite
// =============================================================================

type recordingCanceller struct {
	calls []string
	err   error
}

func (c *recordingCanceller) CancelPendingOnCheckin(_ context.Context, principalID string, _ time.Time) error {
	c.calls = append(c.calls, principalID)
	return c.err
}

type TrackerSuite struct {
	suite.Suite
	store     *store.InMemoryStore
	dir       *directory.InMemoryDirectory
	canceller *recordingCanceller
	tracker   *Tracker
	clock     time.Time
}

func TestTrackerSuite(t *testing.T) {
	suite.Run(t, new(TrackerSuite))
}

func (s *TrackerSuite) SetupTest() {
	s.store = store.NewInMemory()
	s.dir = directory.NewInMemory()
	s.canceller = &recordingCanceller{}
	s.clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	s.dir.PutPrincipal(directory.Principal{
		ID:                  "alice",
		Name:                "Alice",
		Email:               "alice@example.com",
		CheckInEnabled:      true,
		CheckInIntervalDays: 7,
		GracePeriodDays:     3,
	})
	s.dir.PutPrincipal(directory.Principal{
		ID:             "bob",
		Name:           "Bob",
		CheckInEnabled: false,
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.tracker = New(s.store, s.dir, audit.NewPublisher(64, logger), logger,
		WithCanceller(s.canceller),
		WithClock(func() time.Time { return s.clock }),
	)
}

// =============================================================================
// RecordCheckin Tests
// =============================================================================

func (s *TrackerSuite) TestRecordCheckin() {
	ctx := context.Background()

	s.Run("derives next deadline from interval", func() {
		record, err := s.tracker.RecordCheckin(ctx, "alice")
		s.Require().NoError(err)
		s.Equal("alice", record.PrincipalID)
		s.Equal(s.clock, record.CheckedInAt)
		s.Equal(s.clock.Add(7*24*time.Hour), record.NextCheckIn)
		s.Equal(models.StatusAlive, record.Status)
	})

	s.Run("each check-in resets the deadline, last write wins", func() {
		first, err := s.tracker.RecordCheckin(ctx, "alice")
		s.Require().NoError(err)

		s.clock = s.clock.Add(48 * time.Hour)
		second, err := s.tracker.RecordCheckin(ctx, "alice")
		s.Require().NoError(err)
		s.True(second.NextCheckIn.After(first.NextCheckIn))

		current, err := s.tracker.Current(ctx, "alice")
		s.Require().NoError(err)
		s.Equal(second.ID, current.ID)
	})

	s.Run("cancels a pending verification request", func() {
		s.canceller.calls = nil
		_, err := s.tracker.RecordCheckin(ctx, "alice")
		s.Require().NoError(err)
		s.Equal([]string{"alice"}, s.canceller.calls)
	})

	s.Run("cancellation failure does not fail the check-in", func() {
		s.canceller.err = context.DeadlineExceeded
		defer func() { s.canceller.err = nil }()

		_, err := s.tracker.RecordCheckin(ctx, "alice")
		s.NoError(err)
	})

	s.Run("check-ins disabled returns conflict", func() {
		_, err := s.tracker.RecordCheckin(ctx, "bob")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown principal returns not found", func() {
		_, err := s.tracker.RecordCheckin(ctx, "nobody")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

// =============================================================================
// Current and History Tests
// =============================================================================

func (s *TrackerSuite) TestCurrent() {
	ctx := context.Background()

	s.Run("no check-in recorded returns not found", func() {
		_, err := s.tracker.Current(ctx, "alice")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *TrackerSuite) TestHistory() {
	ctx := context.Background()

	for range 3 {
		_, err := s.tracker.RecordCheckin(ctx, "alice")
		s.Require().NoError(err)
		s.clock = s.clock.Add(24 * time.Hour)
	}

	s.Run("returns records newest first", func() {
		records, err := s.tracker.History(ctx, "alice", 0)
		s.Require().NoError(err)
		s.Require().Len(records, 3)
		s.True(records[0].CheckedInAt.After(records[1].CheckedInAt))
		s.True(records[1].CheckedInAt.After(records[2].CheckedInAt))
	})

	s.Run("respects the limit", func() {
		records, err := s.tracker.History(ctx, "alice", 2)
		s.Require().NoError(err)
		s.Len(records, 2)
	})
}

// =============================================================================
// Reset Tests
// =============================================================================

func (s *TrackerSuite) TestReset() {
	ctx := context.Background()

	_, err := s.tracker.RecordCheckin(ctx, "alice")
	s.Require().NoError(err)

	s.Run("clears the current pointer but keeps history", func() {
		s.Require().NoError(s.tracker.Reset(ctx, "alice"))

		_, err := s.tracker.Current(ctx, "alice")
		s.Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		records, err := s.tracker.History(ctx, "alice", 0)
		s.Require().NoError(err)
		s.NotEmpty(records)
	})
}
