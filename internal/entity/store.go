// Package entity provides storage for the five audited record collections.
// Stores are interface-driven so the scanner and remediation engine can run
// against in-memory storage in tests and PostgreSQL in production without
// rewiring.
package entity

import (
	"context"
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
)

// Snapshot is a consistent read view of every collection: all groups derived
// from one snapshot reflect a single point in time, never a mix of states
// from before and after a concurrent write.
type Snapshot struct {
	TakenAt  time.Time
	Versions map[domain.Kind]int64
	Entities map[domain.Kind][]*domain.Entity
}

// MergePlan describes one group merge: every reference held toward an
// absorbed entity is repointed to the winner, then the absorbed entities are
// deleted. Applied atomically or not at all.
type MergePlan struct {
	Kind        domain.Kind
	WinnerID    uuid.UUID
	AbsorbedIDs []uuid.UUID
}

// Store is the entity store contract. Merge is the only path that deletes or
// re-parents entities; ordinary CRUD traffic serializes against it through
// the implementation's transactional isolation.
type Store interface {
	// Create inserts a new entity and bumps its collection version.
	Create(ctx context.Context, e *domain.Entity) error

	// Get returns one entity, or sentinel.ErrNotFound.
	Get(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Entity, error)

	// ListByKind returns a fresh consistent read of one collection together
	// with its current version.
	ListByKind(ctx context.Context, kind domain.Kind) ([]*domain.Entity, int64, error)

	// Snapshot returns a consistent view across all collections.
	Snapshot(ctx context.Context) (*Snapshot, error)

	// Merge applies the plan in a single transaction: repoint inbound
	// references from absorbed entities to the winner, delete the absorbed
	// entities, bump affected collection versions. Any failure rolls the
	// whole plan back.
	Merge(ctx context.Context, plan MergePlan) error
}
