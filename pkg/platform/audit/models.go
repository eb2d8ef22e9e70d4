package audit

import "time"

// Event is emitted from domain logic to capture key engine actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp   time.Time `json:"ts"`
	PrincipalID string    `json:"principal_id,omitempty"`
	// Actor identifies who caused the action: "principal", "scheduler",
	// a party id, or "admin".
	Actor     string `json:"actor,omitempty"`
	Action    Action `json:"action"`
	Subject   string `json:"subject,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Action names a state-changing engine operation.
type Action string

const (
	// Check-in events
	EventCheckinRecorded     Action = "checkin_recorded"
	EventAdministrativeReset Action = "administrative_reset"

	// Escalation events
	EventEscalationDispatched Action = "escalation_dispatched"

	// Verification events
	EventVerificationTriggered        Action = "verification_triggered"
	EventVerificationResolvedAlive    Action = "verification_resolved_alive"
	EventVerificationResolvedDeceased Action = "verification_resolved_deceased"
	EventVerificationExpired          Action = "verification_expired"
	EventPinsIssued                   Action = "pins_issued"

	// Unlock events
	EventUnlockAttempted   Action = "unlock_attempted"
	EventUnlockReleased    Action = "unlock_released"
	EventFailsafeEscalated Action = "failsafe_escalated"
)
