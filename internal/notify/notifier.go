// Package notify is the outbound notification channel boundary. The engine
// only needs send-with-receipt semantics; delivery infrastructure stays
// behind the Notifier interface.
package notify

import "context"

// Template identifies the message rendered for a send.
type Template string

const (
	// TemplateCheckinReminder nudges the principal past their deadline.
	TemplateCheckinReminder Template = "checkin_reminder"
	// TemplatePartyAlert warns designated parties the principal is overdue.
	TemplatePartyAlert Template = "party_alert"
	// TemplateVerificationRequest asks a party to confirm the principal's
	// status via a signed report link.
	TemplateVerificationRequest Template = "verification_request"
	// TemplateUnlockCredential delivers a party their single-use PIN after
	// a deceased resolution. The plaintext PIN exists only in this send.
	TemplateUnlockCredential Template = "unlock_credential"
	// TemplateFailsafeAlert is the out-of-band executor/trusted-contact
	// notice after a prolonged locked period.
	TemplateFailsafeAlert Template = "failsafe_alert"
)

// Urgency tiers control message tone only; they never gate the unlock
// process.
type Urgency string

const (
	UrgencyMild     Urgency = "mild"
	UrgencyModerate Urgency = "moderate"
	UrgencySevere   Urgency = "severe"
)

// ClassifyUrgency maps whole days overdue onto a tier.
func ClassifyUrgency(daysOverdue int) Urgency {
	switch {
	case daysOverdue <= 3:
		return UrgencyMild
	case daysOverdue <= 7:
		return UrgencyModerate
	default:
		return UrgencySevere
	}
}

// Message is one outbound send.
type Message struct {
	Recipient     string // contact channel address
	RecipientName string
	Template      Template
	Urgency       Urgency
	// Context carries template variables: principal name, days overdue,
	// report link, and similar.
	Context map[string]string
}

// Receipt is the channel's acknowledgment of an accepted send.
type Receipt struct {
	MessageID string
}

// Notifier sends one message and reports the channel-assigned id.
// Implementations must respect ctx deadlines; the dispatch cycle bounds
// each send so one slow recipient cannot stall a scan.
type Notifier interface {
	Send(ctx context.Context, msg Message) (Receipt, error)
}
