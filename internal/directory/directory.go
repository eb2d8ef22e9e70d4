// Package directory exposes the principal and party directories consumed by
// the engine. The engine only reads these records; ownership and mutation
// belong to the account-management surface outside this service.
package directory

import (
	"context"
	"time"
)

// Role identifies how a party participates in verification.
type Role string

const (
	RoleExecutor       Role = "executor"
	RoleBeneficiary    Role = "beneficiary"
	RoleTrustedContact Role = "trusted_contact"
)

// UnlockMechanisms captures which unlock rules the principal has enabled.
type UnlockMechanisms struct {
	PINSystem              bool
	ExecutorOverride       bool
	TrustedContactOverride bool
	Failsafe               bool
}

// NotificationPrefs captures the principal's channel preferences.
type NotificationPrefs struct {
	Email bool
	Push  bool
}

// Principal is the protected user whose continued-life status is monitored.
type Principal struct {
	ID                      string
	Name                    string
	Email                   string
	CheckInEnabled          bool
	CheckInIntervalDays     int
	GracePeriodDays         int
	VerificationWindowHours int
	Notifications           NotificationPrefs
	Unlock                  UnlockMechanisms
	CreatedAt               time.Time
}

// Interval returns the check-in interval as a duration.
func (p Principal) Interval() time.Duration {
	return time.Duration(p.CheckInIntervalDays) * 24 * time.Hour
}

// GracePeriod returns the grace period as a duration.
func (p Principal) GracePeriod() time.Duration {
	return time.Duration(p.GracePeriodDays) * 24 * time.Hour
}

// VerificationWindow returns the party response window as a duration.
func (p Principal) VerificationWindow() time.Duration {
	return time.Duration(p.VerificationWindowHours) * time.Hour
}

// Party is an executor, beneficiary, or trusted contact eligible to
// participate in verification and unlock.
type Party struct {
	ID                string
	PrincipalID       string
	Role              Role
	Name              string
	Email             string
	IsPrimaryExecutor bool
	// IsExecutor marks a trusted contact that doubles as an executor.
	IsExecutor bool
	CreatedAt  time.Time
}

// CanExecute reports whether the party may exercise the executor override.
func (p Party) CanExecute() bool {
	return p.Role == RoleExecutor || p.IsExecutor
}

// PrincipalDirectory reads protected principals and their engine settings.
type PrincipalDirectory interface {
	Get(ctx context.Context, id string) (Principal, error)
	// ListCheckInEnabled returns every principal with check-ins enabled;
	// the escalation scheduler scans this set each cycle.
	ListCheckInEnabled(ctx context.Context) ([]Principal, error)
}

// PartyDirectory reads the parties designated by a principal.
type PartyDirectory interface {
	ListByPrincipal(ctx context.Context, principalID string) ([]Party, error)
	GetParty(ctx context.Context, id string) (Party, error)
}
