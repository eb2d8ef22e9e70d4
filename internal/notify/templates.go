package notify

import "fmt"

// Render produces the subject and body for a message. Tone scales with
// urgency for reminder and alert templates.
func Render(msg Message) (subject, body string) {
	principal := msg.Context["principal_name"]
	days := msg.Context["days_overdue"]

	switch msg.Template {
	case TemplateCheckinReminder:
		switch msg.Urgency {
		case UrgencySevere:
			subject = "Urgent: please check in now"
			body = fmt.Sprintf("Hello %s,\n\nYou are %s days past your scheduled check-in. If we do not hear from you, your designated contacts will be asked to verify your status.\n", msg.RecipientName, days)
		case UrgencyModerate:
			subject = "Reminder: your check-in is overdue"
			body = fmt.Sprintf("Hello %s,\n\nYour check-in is %s days overdue. Please check in at your earliest convenience.\n", msg.RecipientName, days)
		default:
			subject = "Friendly reminder: time to check in"
			body = fmt.Sprintf("Hello %s,\n\nJust a reminder that your scheduled check-in has passed. Checking in takes only a moment.\n", msg.RecipientName)
		}
	case TemplatePartyAlert:
		subject = fmt.Sprintf("%s has missed their check-in", principal)
		body = fmt.Sprintf("Hello %s,\n\n%s has not checked in for %s days. You are receiving this because you are one of their designated contacts.\n", msg.RecipientName, principal, days)
	case TemplateVerificationRequest:
		subject = fmt.Sprintf("Please confirm the status of %s", principal)
		body = fmt.Sprintf("Hello %s,\n\n%s has been unreachable past their grace period. Please confirm their status using this link:\n\n%s\n\nThis link expires at %s.\n", msg.RecipientName, principal, msg.Context["report_link"], msg.Context["expires_at"])
	case TemplateUnlockCredential:
		subject = fmt.Sprintf("Your unlock credential for %s", principal)
		body = fmt.Sprintf("Hello %s,\n\nThe status of %s has been confirmed. Your single-use unlock PIN is:\n\n%s\n\nKeep it private. It is consumed the moment the package unlocks.\n", msg.RecipientName, principal, msg.Context["pin"])
	case TemplateFailsafeAlert:
		subject = fmt.Sprintf("Action needed: protected package for %s remains locked", principal)
		body = fmt.Sprintf("Hello %s,\n\nThe protected package for %s has remained locked for %s days after unlock credentials were issued. Please contact the other designated parties or support to proceed.\n", msg.RecipientName, principal, msg.Context["days_locked"])
	default:
		subject = "Notification"
		body = fmt.Sprintf("Hello %s,\n", msg.RecipientName)
	}
	return subject, body
}
