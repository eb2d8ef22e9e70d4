package notify

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryingNotifier wraps a Notifier with bounded exponential backoff.
// Retries stay inside the per-send budget; anything still failing after
// that is reported to the dispatch cycle, which records the failure and
// relies on the next scan for the real retry.
type RetryingNotifier struct {
	next       Notifier
	maxElapsed time.Duration
}

// NewRetrying wraps next with at most maxElapsed of retrying.
func NewRetrying(next Notifier, maxElapsed time.Duration) *RetryingNotifier {
	if maxElapsed <= 0 {
		maxElapsed = 5 * time.Second
	}
	return &RetryingNotifier{next: next, maxElapsed: maxElapsed}
}

func (r *RetryingNotifier) Send(ctx context.Context, msg Message) (Receipt, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 200 * time.Millisecond
	policy.MaxElapsedTime = r.maxElapsed

	var receipt Receipt
	operation := func() error {
		var err error
		receipt, err = r.next.Send(ctx, msg)
		return err
	}
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}
