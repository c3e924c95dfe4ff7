// Package idempotency implements the idempotent write guard: deterministic
// request fingerprints, a TTL'd fingerprint store with atomic first-writer
// wins semantics, and the guard that wraps every deduplicated mutating
// operation.
package idempotency

import (
	"encoding/json"
	"time"
)

// State tracks the lifecycle of a fingerprint record. A record moves from
// in-flight to completed exactly once; failed attempts are removed instead of
// cached so an immediate retry can re-execute.
type State string

const (
	StateInFlight  State = "in-flight"
	StateCompleted State = "completed"
)

// Record is the stored outcome of a guarded submission, keyed by fingerprint.
type Record struct {
	Fingerprint string          `json:"fingerprint"`
	State       State           `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ExpiresAt   time.Time       `json:"expires_at"`
}

// Expired reports whether the record's TTL window has elapsed. An expired
// fingerprint is treated as absent: idempotency holds per TTL window, not
// forever.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}
