package models

import "time"

// Status of the current check-in record.
type Status string

const (
	// StatusAlive means the principal is inside their deadline or grace window.
	StatusAlive Status = "alive"
	// StatusVerificationTriggered means an overdue scan has opened a
	// verification request against this record.
	StatusVerificationTriggered Status = "verification_triggered"
)

// Record is one check-in event. History is append-only; exactly one record
// per principal is current at any time, tracked by an explicit pointer in
// the store rather than an order-by-timestamp query.
type Record struct {
	ID          string
	PrincipalID string
	CheckedInAt time.Time
	NextCheckIn time.Time
	Status      Status
	CreatedAt   time.Time
}

// NewRecord derives the next deadline deterministically from the check-in
// instant and the principal's interval. The deadline is never extended
// without a new check-in event.
func NewRecord(id, principalID string, checkedInAt time.Time, interval time.Duration) Record {
	return Record{
		ID:          id,
		PrincipalID: principalID,
		CheckedInAt: checkedInAt,
		NextCheckIn: checkedInAt.Add(interval),
		Status:      StatusAlive,
		CreatedAt:   checkedInAt,
	}
}

// IsOverdue reports whether now is past the deadline plus grace period.
func (r Record) IsOverdue(grace time.Duration, now time.Time) bool {
	return now.After(r.NextCheckIn.Add(grace))
}

// IsPastDeadline reports whether now is past the nominal deadline. The
// scheduler selects on this so mildly late principals already receive
// reminders before the grace period runs out.
func (r Record) IsPastDeadline(now time.Time) bool {
	return now.After(r.NextCheckIn)
}

// DaysOverdue returns whole days elapsed since the nominal deadline,
// never negative.
func (r Record) DaysOverdue(now time.Time) int {
	if !now.After(r.NextCheckIn) {
		return 0
	}
	return int(now.Sub(r.NextCheckIn) / (24 * time.Hour))
}
