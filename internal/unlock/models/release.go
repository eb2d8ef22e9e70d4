package models

import "time"

// Rule names the unlock rule that opened the gate.
type Rule string

const (
	// RuleFullPIN means every issued credential was presented and matched.
	RuleFullPIN Rule = "full_pin"
	// RuleExecutorOverride means a single executor credential sufficed.
	RuleExecutorOverride Rule = "executor_override"
	// RuleTrustedContactOverride means a single trusted-contact credential
	// sufficed.
	RuleTrustedContactOverride Rule = "trusted_contact_override"
)

// Submission is one party's PIN entry inside an unlock attempt.
type Submission struct {
	PartyID string `json:"party_id"`
	PIN     string `json:"pin"`
}

// Release records the exactly-once payload release for one verification
// request.
type Release struct {
	RequestID   string
	PrincipalID string
	PayloadRef  string
	Rule        Rule
	ReleasedAt  time.Time
}

// Result is the outcome of a successful (or idempotently repeated) unlock.
type Result struct {
	RequestID       string    `json:"request_id"`
	Rule            Rule      `json:"rule"`
	PayloadRef      string    `json:"payload_ref"`
	ReleasedAt      time.Time `json:"released_at"`
	AlreadyUnlocked bool      `json:"already_unlocked"`
}
