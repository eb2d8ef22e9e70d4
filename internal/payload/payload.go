// Package payload abstracts the protected-package object store. The engine
// never reads payload contents; it only moves a sealed object into its
// released location once the unlock gate opens.
package payload

import "context"

// Store releases a principal's sealed payload for one unlock.
//
// Error Contract:
// - Return sentinel.ErrNotFound when the principal has no sealed payload
// Release must be idempotent per request id: repeating a release returns
// the same reference without duplicating the payload.
type Store interface {
	// Release makes the sealed payload retrievable and returns an opaque
	// reference to the released copy.
	Release(ctx context.Context, principalID, requestID string) (string, error)
}
