// Package dispatchlog is the append-only audit of outbound notification
// batches. Its only query shape is "most recent entry of this action for
// this principal", which enforces the escalation dedup window.
package dispatchlog

import (
	"context"
	"time"
)

// Action distinguishes dedup scopes. Each action carries its own window.
type Action string

const (
	// ActionEscalationSent covers principal reminders and party alerts
	// batched in one scan cycle.
	ActionEscalationSent Action = "escalation_sent"
	// ActionVerificationRequested covers the party report-link batch.
	ActionVerificationRequested Action = "verification_requested"
	// ActionFailsafeSent covers the failsafe out-of-band notice.
	ActionFailsafeSent Action = "failsafe_sent"
)

// RecipientResult records one send inside a batch.
type RecipientResult struct {
	Recipient string `json:"recipient"`
	Template  string `json:"template"`
	MessageID string `json:"message_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Entry summarizes one dispatched batch: success and failure per recipient,
// never mutated after append.
type Entry struct {
	PrincipalID string
	Action      Action
	Urgency     string
	Recipients  int
	Delivered   int
	Failed      int
	Detail      []RecipientResult
	CreatedAt   time.Time
}

// Store persists dispatch entries.
//
// Error Contract:
// - LastOfAction returns sentinel.ErrNotFound when no entry exists
// - Append never overwrites; the log is append-only
type Store interface {
	Append(ctx context.Context, entry Entry) error
	LastOfAction(ctx context.Context, principalID string, action Action) (Entry, error)
}
