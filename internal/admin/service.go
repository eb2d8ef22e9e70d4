// Package admin holds operator-facing orchestration that spans engine
// modules.
package admin

import "context"

// CheckinResetter clears check-in state for a principal.
type CheckinResetter interface {
	Reset(ctx context.Context, principalID string) error
}

// VerificationResetter cancels verification state and destroys credentials.
type VerificationResetter interface {
	Reset(ctx context.Context, principalID string) error
}

// Resetter is the administrative reset: it returns a principal to a clean
// monitored state after a false alarm. Check-in history and the audit
// trail survive the reset.
type Resetter struct {
	checkins     CheckinResetter
	verification VerificationResetter
}

func NewResetter(checkins CheckinResetter, verification VerificationResetter) *Resetter {
	return &Resetter{checkins: checkins, verification: verification}
}

// Reset cancels any pending verification request, invalidates outstanding
// unlock credentials, and clears the current check-in pointer. The next
// check-in restarts the deadline cycle from scratch.
func (r *Resetter) Reset(ctx context.Context, principalID string) error {
	if err := r.verification.Reset(ctx, principalID); err != nil {
		return err
	}
	return r.checkins.Reset(ctx, principalID)
}
