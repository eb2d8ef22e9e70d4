package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	checkinmodels "custodia/internal/checkin/models"
	checkinstore "custodia/internal/checkin/store"
	"custodia/internal/directory"
	"custodia/internal/notify"
	"custodia/internal/notify/dispatchlog"
	"custodia/pkg/platform/audit"
)

// =============================================================================
// Escalation Scheduler Test Suite
// =============================================================================

type recordingVerifier struct {
	triggered []string
	expired   int
}

func (v *recordingVerifier) Trigger(_ context.Context, principal directory.Principal, _ checkinmodels.Record) error {
	v.triggered = append(v.triggered, principal.ID)
	return nil
}

func (v *recordingVerifier) ExpireSweep(context.Context) (int, error) {
	v.expired++
	return 0, nil
}

type recordingFailsafe struct {
	sweeps int
}

func (f *recordingFailsafe) FailsafeSweep(context.Context) (int, error) {
	f.sweeps++
	return 0, nil
}

type SchedulerSuite struct {
	suite.Suite
	checkins  *checkinstore.InMemoryStore
	dir       *directory.InMemoryDirectory
	notifier  *notify.InMemoryNotifier
	dispatch  *dispatchlog.InMemoryStore
	verifier  *recordingVerifier
	failsafe  *recordingFailsafe
	scheduler *Scheduler
	clock     time.Time
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.checkins = checkinstore.NewInMemory()
	s.dir = directory.NewInMemory()
	s.notifier = notify.NewInMemory()
	s.dispatch = dispatchlog.NewInMemory()
	s.verifier = &recordingVerifier{}
	s.failsafe = &recordingFailsafe{}
	s.clock = time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	s.dir.PutPrincipal(directory.Principal{
		ID:                  "alice",
		Name:                "Alice",
		Email:               "alice@example.com",
		CheckInEnabled:      true,
		CheckInIntervalDays: 7,
		GracePeriodDays:     3,
		Notifications:       directory.NotificationPrefs{Email: true},
	})
	s.dir.PutParty(directory.Party{
		ID: "exec-1", PrincipalID: "alice", Role: directory.RoleExecutor,
		Name: "Erin", Email: "erin@example.com",
	})
	s.dir.PutParty(directory.Party{
		ID: "ben-1", PrincipalID: "alice", Role: directory.RoleBeneficiary,
		Name: "Ben", Email: "ben@example.com",
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.scheduler = New(
		s.dir, s.dir, s.checkins, s.verifier, s.failsafe,
		s.notifier, s.dispatch, audit.NewPublisher(64, logger), logger,
		time.Minute, 24*time.Hour,
		WithClock(func() time.Time { return s.clock }),
	)
}

// seedCheckin installs a current record checked in `ago` before the clock.
func (s *SchedulerSuite) seedCheckin(ago time.Duration) {
	record := checkinmodels.NewRecord("rec-1", "alice", s.clock.Add(-ago), 7*24*time.Hour)
	s.Require().NoError(s.checkins.Append(context.Background(), record))
}

func (s *SchedulerSuite) sentTemplates() map[notify.Template]int {
	counts := map[notify.Template]int{}
	for _, msg := range s.notifier.Sent() {
		counts[msg.Template]++
	}
	return counts
}

// =============================================================================
// Scan Selection Tests
// =============================================================================

func (s *SchedulerSuite) TestScanSelection() {
	ctx := context.Background()

	s.Run("never-checked-in principals are skipped", func() {
		s.scheduler.Scan(ctx)
		s.Empty(s.notifier.Sent())
		s.Empty(s.verifier.triggered)
	})

	s.Run("inside the deadline nothing happens", func() {
		s.seedCheckin(3 * 24 * time.Hour)
		s.scheduler.Scan(ctx)
		s.Empty(s.notifier.Sent())
	})

	s.Run("every scan runs the expiry and failsafe sweeps", func() {
		s.Positive(s.verifier.expired)
		s.Positive(s.failsafe.sweeps)
	})
}

// =============================================================================
// Escalation Tier Tests
// =============================================================================

func (s *SchedulerSuite) TestEscalationTiers() {
	ctx := context.Background()

	s.Run("one day overdue: mild reminder to the principal only", func() {
		s.seedCheckin(8 * 24 * time.Hour)
		s.scheduler.Scan(ctx)

		sent := s.notifier.Sent()
		s.Require().Len(sent, 1)
		s.Equal(notify.TemplateCheckinReminder, sent[0].Template)
		s.Equal(notify.UrgencyMild, sent[0].Urgency)
		s.Equal("alice@example.com", sent[0].Recipient)
		s.Empty(s.verifier.triggered)
	})

	s.Run("past grace: party alerts join and verification triggers", func() {
		s.SetupTest()
		s.seedCheckin(12 * 24 * time.Hour) // 5 days overdue, grace is 3
		s.scheduler.Scan(ctx)

		counts := s.sentTemplates()
		s.Equal(1, counts[notify.TemplateCheckinReminder])
		s.Equal(2, counts[notify.TemplatePartyAlert])
		s.Equal([]string{"alice"}, s.verifier.triggered)

		entry, err := s.dispatch.LastOfAction(ctx, "alice", dispatchlog.ActionEscalationSent)
		s.Require().NoError(err)
		s.Equal(string(notify.UrgencyModerate), entry.Urgency)
		s.Equal(3, entry.Recipients)
	})

	s.Run("long overdue escalates to severe", func() {
		s.SetupTest()
		s.seedCheckin(17 * 24 * time.Hour) // 10 days overdue
		s.scheduler.Scan(ctx)

		entry, err := s.dispatch.LastOfAction(ctx, "alice", dispatchlog.ActionEscalationSent)
		s.Require().NoError(err)
		s.Equal(string(notify.UrgencySevere), entry.Urgency)
	})
}

// =============================================================================
// Dedup Window Tests
// =============================================================================

func (s *SchedulerSuite) TestDedupWindow() {
	ctx := context.Background()
	s.seedCheckin(12 * 24 * time.Hour)

	s.scheduler.Scan(ctx)
	first := len(s.notifier.Sent())
	s.Require().Positive(first)

	s.Run("a rerun inside the window sends nothing new", func() {
		s.clock = s.clock.Add(6 * time.Hour)
		s.scheduler.Scan(ctx)
		s.Len(s.notifier.Sent(), first)
	})

	s.Run("verification still triggers while notifications are suppressed", func() {
		s.GreaterOrEqual(len(s.verifier.triggered), 2)
	})

	s.Run("after the window a fresh batch goes out", func() {
		s.clock = s.clock.Add(20 * time.Hour) // 26h after the first batch
		s.scheduler.Scan(ctx)
		s.Greater(len(s.notifier.Sent()), first)
	})
}

// =============================================================================
// Failure Isolation Tests
// =============================================================================

func (s *SchedulerSuite) TestRecipientFailureIsolation() {
	ctx := context.Background()
	s.seedCheckin(12 * 24 * time.Hour)
	s.notifier.FailFor("erin@example.com", errors.New("mailbox unavailable"))

	s.scheduler.Scan(ctx)

	entry, err := s.dispatch.LastOfAction(ctx, "alice", dispatchlog.ActionEscalationSent)
	s.Require().NoError(err)
	s.Equal(3, entry.Recipients)
	s.Equal(2, entry.Delivered)
	s.Equal(1, entry.Failed)

	var failed []string
	for _, r := range entry.Detail {
		if r.Error != "" {
			failed = append(failed, r.Recipient)
		}
	}
	s.Equal([]string{"erin@example.com"}, failed)
}
