package models

import "time"

// RequestStatus is the persisted lifecycle state of a verification request.
type RequestStatus string

const (
	// StatusPending means parties have been asked and none has responded.
	StatusPending RequestStatus = "pending"
	// StatusCompleted means a party (or the principal, by checking in)
	// resolved the request before expiry.
	StatusCompleted RequestStatus = "completed"
	// StatusExpired means no response arrived before the window closed.
	// Terminal: expiry never auto-confirms death; resolution requires a
	// fresh overdue cycle or administrative action.
	StatusExpired RequestStatus = "expired"
)

// Result records how a completed request resolved.
type Result string

const (
	ResultUnset             Result = ""
	ResultConfirmedAlive    Result = "confirmed_alive"
	ResultConfirmedDeceased Result = "confirmed_deceased"
)

// UnlockStatus tracks the derived unlock state of a deceased-resolved request.
type UnlockStatus string

const (
	UnlockLocked   UnlockStatus = "locked"
	UnlockUnlocked UnlockStatus = "unlocked"
)

// Request is the bounded-time process asking parties to confirm the
// principal's status. At most one pending request exists per principal;
// all transitions out of pending are single compare-and-set operations,
// so racing reports resolve first-writer-wins.
type Request struct {
	ID           string
	PrincipalID  string
	Status       RequestStatus
	Result       Result
	InitiatedAt  time.Time
	ExpiresAt    time.Time
	ResolvedAt   *time.Time
	ResolvedBy   string // party id, or "principal" for a check-in cancellation
	PinsIssuedAt *time.Time
	UnlockStatus UnlockStatus
	UnlockedAt   *time.Time
	FailsafeSent bool
}

// NewRequest opens a pending request whose expiry derives from the
// principal's verification window.
func NewRequest(id, principalID string, now time.Time, window time.Duration) Request {
	return Request{
		ID:           id,
		PrincipalID:  principalID,
		Status:       StatusPending,
		InitiatedAt:  now,
		ExpiresAt:    now.Add(window),
		UnlockStatus: UnlockLocked,
	}
}

// IsExpired reports whether the response window has closed.
func (r Request) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Deceased reports whether the request resolved to confirmed deceased.
func (r Request) Deceased() bool {
	return r.Status == StatusCompleted && r.Result == ResultConfirmedDeceased
}
