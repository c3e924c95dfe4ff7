package idempotency

import (
	"context"
	"encoding/json"
	"time"
)

// Store is the durable fingerprint → outcome cache. Implementations must make
// Begin atomic: when two callers race on the same fingerprint, exactly one
// observes created=true.
type Store interface {
	// Begin creates an in-flight record for the fingerprint if none exists
	// (expired records count as absent). When a live record already exists,
	// created is false and the existing record is returned.
	Begin(ctx context.Context, fingerprint string, ttl time.Duration) (created bool, existing *Record, err error)

	// Get returns the live record for the fingerprint, or
	// sentinel.ErrNotFound when absent or expired.
	Get(ctx context.Context, fingerprint string) (*Record, error)

	// Complete transitions the record to completed and attaches the cached
	// result. The record keeps its original expiry.
	Complete(ctx context.Context, fingerprint string, result json.RawMessage) error

	// Fail removes the in-flight record so a later retry can re-execute
	// immediately. Failed outcomes are never cached.
	Fail(ctx context.Context, fingerprint string) error
}
