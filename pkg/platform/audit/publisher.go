package audit

import (
	"context"
	"log/slog"
	"time"
)

// Publisher captures structured audit events. Emission is asynchronous:
// events go to a buffered inbox drained by the Worker, so audit latency
// never sits on the scheduler or request path. A full inbox drops the
// event with a log line rather than blocking the caller.
type Publisher struct {
	inbox  chan Event
	logger *slog.Logger
}

// NewPublisher constructs a publisher with the given inbox capacity.
func NewPublisher(capacity int, logger *slog.Logger) *Publisher {
	if capacity <= 0 {
		capacity = 256
	}
	return &Publisher{
		inbox:  make(chan Event, capacity),
		logger: logger,
	}
}

// Inbox exposes the event channel for the Worker.
func (p *Publisher) Inbox() <-chan Event { return p.inbox }

// Emit records an audit event. Never blocks and never fails the caller.
func (p *Publisher) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case p.inbox <- event:
	default:
		p.logger.WarnContext(ctx, "audit inbox full, event dropped",
			"action", event.Action,
			"principal_id", event.PrincipalID,
		)
	}
}
