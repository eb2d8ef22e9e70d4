package store

import (
	"context"

	"custodia/internal/unlock/models"
)

// ReleaseStore records payload releases keyed by verification request id.
// The request id key makes release exactly-once: a second writer observes
// created=false and reads the first writer's record.
//
// Error Contract:
// - Get returns sentinel.ErrNotFound when no release exists
type ReleaseStore interface {
	// Create inserts the release if none exists for the request. Reports
	// whether this call created it.
	Create(ctx context.Context, release models.Release) (bool, error)
	Get(ctx context.Context, requestID string) (models.Release, error)
}
