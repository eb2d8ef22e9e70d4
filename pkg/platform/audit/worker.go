package audit

import (
	"context"
	"log/slog"
)

// Worker consumes audit events from the publisher inbox, persists them, and
// fans them out to optional sinks. Persistence failures are logged and the
// worker keeps draining; the audit trail is best-effort by design while the
// authoritative state lives in the domain stores.
type Worker struct {
	store  Store
	sinks  []Sink
	inbox  <-chan Event
	logger *slog.Logger
}

func NewWorker(store Store, inbox <-chan Event, logger *slog.Logger, sinks ...Sink) *Worker {
	return &Worker{store: store, sinks: sinks, inbox: inbox, logger: logger}
}

func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-w.inbox:
			if err := w.store.Append(ctx, event); err != nil {
				w.logger.ErrorContext(ctx, "audit append failed",
					"action", event.Action,
					"principal_id", event.PrincipalID,
					"error", err,
				)
			}
			for _, sink := range w.sinks {
				if err := sink.Publish(ctx, event); err != nil {
					w.logger.WarnContext(ctx, "audit sink publish failed",
						"action", event.Action,
						"error", err,
					)
				}
			}
		}
	}
}
