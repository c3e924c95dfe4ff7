// Package audit keeps a permanent record of every duplicate-group merge:
// which records were absorbed, which record survived, and under which rule.
// Remediation hard-deletes losers, so this trail is the only place the
// absorbed ids remain visible.
package audit

import (
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
)

// Entry records one applied merge. Append-only.
type Entry struct {
	ID          uuid.UUID
	Kind        domain.Kind
	Rule        string
	KeyValue    string
	WinnerID    uuid.UUID
	AbsorbedIDs []uuid.UUID
	MergedAt    time.Time
}
