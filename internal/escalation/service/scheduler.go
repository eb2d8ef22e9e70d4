// Package service runs the escalation scheduler: the periodic scan that
// turns missed check-in deadlines into reminders, party alerts, and
// eventually verification requests.
package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	checkinmodels "custodia/internal/checkin/models"
	checkinstore "custodia/internal/checkin/store"
	"custodia/internal/directory"
	"custodia/internal/escalation/metrics"
	"custodia/internal/notify"
	"custodia/internal/notify/dispatchlog"
	"custodia/pkg/platform/audit"
	"custodia/pkg/platform/sentinel"
)

// sendConcurrency bounds parallel notification sends per batch.
const sendConcurrency = 4

// VerificationTrigger opens verification requests and expires stale ones.
type VerificationTrigger interface {
	Trigger(ctx context.Context, principal directory.Principal, record checkinmodels.Record) error
	ExpireSweep(ctx context.Context) (int, error)
}

// FailsafeSweeper sends overdue-unlock failsafe notices.
type FailsafeSweeper interface {
	FailsafeSweep(ctx context.Context) (int, error)
}

// Scheduler scans check-in state on a fixed interval. Escalation
// notifications are urgency-tiered by days overdue and deduplicated to one
// batch per principal per window; verification triggers once the grace
// period runs out. Missing a scan never loses an escalation, only delays
// it: every cycle re-derives state from the stores.
type Scheduler struct {
	principals directory.PrincipalDirectory
	parties    directory.PartyDirectory
	checkins   checkinstore.Store
	verifier   VerificationTrigger
	failsafe   FailsafeSweeper
	notifier   notify.Notifier
	dispatch   dispatchlog.Store
	cache      *dispatchlog.LastSentCache
	auditor    *audit.Publisher
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	interval    time.Duration
	dedupWindow time.Duration
	now         func() time.Time
}

// Option configures the Scheduler.
type Option func(*Scheduler)

// WithCache wires the Redis last-sent cache. Nil disables it; dedup then
// relies on dispatch-log queries alone.
func WithCache(cache *dispatchlog.LastSentCache) Option {
	return func(s *Scheduler) { s.cache = cache }
}

// WithMetrics wires scheduler metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// New constructs the scheduler.
func New(
	principals directory.PrincipalDirectory,
	parties directory.PartyDirectory,
	checkins checkinstore.Store,
	verifier VerificationTrigger,
	failsafe FailsafeSweeper,
	notifier notify.Notifier,
	dispatch dispatchlog.Store,
	auditor *audit.Publisher,
	logger *slog.Logger,
	interval, dedupWindow time.Duration,
	opts ...Option,
) *Scheduler {
	s := &Scheduler{
		principals:  principals,
		parties:     parties,
		checkins:    checkins,
		verifier:    verifier,
		failsafe:    failsafe,
		notifier:    notifier,
		dispatch:    dispatch,
		auditor:     auditor,
		logger:      logger,
		tracer:      otel.Tracer("custodia/escalation"),
		interval:    interval,
		dedupWindow: dedupWindow,
		now:         time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Run scans immediately, then on every tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.InfoContext(ctx, "escalation scheduler started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Scan(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "escalation scheduler stopped")
			return
		case <-ticker.C:
			s.Scan(ctx)
		}
	}
}

// Scan runs one full cycle: per-principal escalation, then the expiry and
// failsafe sweeps.
func (s *Scheduler) Scan(ctx context.Context) {
	ctx, span := s.tracer.Start(ctx, "escalation.scan")
	defer span.End()
	started := s.now()

	principals, err := s.principals.ListCheckInEnabled(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list principals", "error", err)
		return
	}
	span.SetAttributes(attribute.Int("principals", len(principals)))
	s.metrics.AddScanned(len(principals))

	for _, principal := range principals {
		if ctx.Err() != nil {
			return
		}
		s.scanPrincipal(ctx, principal)
	}

	if expired, err := s.verifier.ExpireSweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
	} else if expired > 0 {
		s.logger.InfoContext(ctx, "expired unanswered verification requests", "count", expired)
	}

	if sent, err := s.failsafe.FailsafeSweep(ctx); err != nil {
		s.logger.ErrorContext(ctx, "failsafe sweep failed", "error", err)
	} else if sent > 0 {
		s.logger.InfoContext(ctx, "sent failsafe notices", "count", sent)
	}

	s.metrics.ObserveScan(s.now().Sub(started))
}

func (s *Scheduler) scanPrincipal(ctx context.Context, principal directory.Principal) {
	ctx, span := s.tracer.Start(ctx, "escalation.principal",
		trace.WithAttributes(attribute.String("principal_id", principal.ID)))
	defer span.End()

	now := s.now()
	record, err := s.checkins.Current(ctx, principal.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			// The deadline clock starts at the first check-in.
			return
		}
		s.logger.ErrorContext(ctx, "failed to load current check-in",
			"principal_id", principal.ID,
			"error", err,
		)
		return
	}
	if !record.IsPastDeadline(now) {
		return
	}

	pastGrace := record.IsOverdue(principal.GracePeriod(), now)
	s.escalate(ctx, principal, record, pastGrace, now)

	if pastGrace {
		if err := s.verifier.Trigger(ctx, principal, record); err != nil {
			s.logger.ErrorContext(ctx, "failed to trigger verification",
				"principal_id", principal.ID,
				"error", err,
			)
			return
		}
		s.metrics.IncrementTriggered()
	}
}

// escalate sends one urgency-tiered batch: a reminder to the principal,
// plus party alerts once the grace period has run out. At most one batch
// per principal leaves within the dedup window no matter how often the
// scan runs.
func (s *Scheduler) escalate(ctx context.Context, principal directory.Principal, record checkinmodels.Record, pastGrace bool, now time.Time) {
	if s.withinDedupWindow(ctx, principal.ID, now) {
		s.metrics.IncrementDeduplicated()
		return
	}

	daysOverdue := record.DaysOverdue(now)
	urgency := notify.ClassifyUrgency(daysOverdue)
	templateCtx := map[string]string{
		"principal_name": principal.Name,
		"days_overdue":   strconv.Itoa(daysOverdue),
	}

	type target struct {
		recipient string
		name      string
		template  notify.Template
	}
	var targets []target
	if principal.Notifications.Email {
		targets = append(targets, target{principal.Email, principal.Name, notify.TemplateCheckinReminder})
	}
	if pastGrace {
		parties, err := s.parties.ListByPrincipal(ctx, principal.ID)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to list parties",
				"principal_id", principal.ID,
				"error", err,
			)
		}
		for _, party := range parties {
			targets = append(targets, target{party.Email, party.Name, notify.TemplatePartyAlert})
		}
	}
	if len(targets) == 0 {
		return
	}

	results := make([]dispatchlog.RecipientResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sendConcurrency)
	for i, t := range targets {
		g.Go(func() error {
			result := dispatchlog.RecipientResult{
				Recipient: t.recipient,
				Template:  string(t.template),
			}
			receipt, err := s.notifier.Send(gctx, notify.Message{
				Recipient:     t.recipient,
				RecipientName: t.name,
				Template:      t.template,
				Urgency:       urgency,
				Context:       templateCtx,
			})
			if err != nil {
				// One failed recipient never blocks the rest of the batch.
				result.Error = err.Error()
				s.metrics.IncrementSend(string(t.template), "failed")
			} else {
				result.MessageID = receipt.MessageID
				s.metrics.IncrementSend(string(t.template), "delivered")
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait() // workers record failures instead of returning them

	entry := dispatchlog.Entry{
		PrincipalID: principal.ID,
		Action:      dispatchlog.ActionEscalationSent,
		Urgency:     string(urgency),
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
	if err := s.dispatch.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append dispatch log entry",
			"principal_id", principal.ID,
			"error", err,
		)
	}
	if err := s.cache.Set(ctx, principal.ID, dispatchlog.ActionEscalationSent, now, s.dedupWindow); err != nil {
		s.logger.WarnContext(ctx, "failed to cache last-sent time",
			"principal_id", principal.ID,
			"error", err,
		)
	}

	s.auditor.Emit(ctx, audit.Event{
		PrincipalID: principal.ID,
		Actor:       "scheduler",
		Action:      audit.EventEscalationDispatched,
		Subject:     record.ID,
		Decision:    string(urgency),
		Reason:      strconv.Itoa(daysOverdue) + " days overdue",
	})
}

// withinDedupWindow consults the cache first, the dispatch log on a miss.
func (s *Scheduler) withinDedupWindow(ctx context.Context, principalID string, now time.Time) bool {
	if last, ok := s.cache.Get(ctx, principalID, dispatchlog.ActionEscalationSent); ok {
		return now.Sub(last) < s.dedupWindow
	}

	entry, err := s.dispatch.LastOfAction(ctx, principalID, dispatchlog.ActionEscalationSent)
	if err != nil {
		if !errors.Is(err, sentinel.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to query dispatch log",
				"principal_id", principalID,
				"error", err,
			)
		}
		return false
	}
	return now.Sub(entry.CreatedAt) < s.dedupWindow
}
