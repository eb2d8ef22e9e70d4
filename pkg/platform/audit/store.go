package audit

import "context"

// Store is the append-only persistence boundary for audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByPrincipal(ctx context.Context, principalID string) ([]Event, error)
}

// Sink receives events fanned out by the worker alongside persistence.
// Sinks are best-effort: a sink failure is logged, never propagated into
// the emitting operation.
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
