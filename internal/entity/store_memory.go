package entity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"registrar/internal/domain"
	"registrar/pkg/platform/sentinel"
)

// InMemoryStore implements Store with mutex-guarded maps and per-kind logical
// version counters. Every mutation of a collection bumps its version; that
// counter is what duplicate groups carry as their snapshot version.
type InMemoryStore struct {
	mu       sync.RWMutex
	entities map[domain.Kind]map[uuid.UUID]*domain.Entity
	versions map[domain.Kind]int64

	// beforeCommit runs inside Merge after the staged state is built but
	// before it replaces the live state. Tests inject failures here to prove
	// merge atomicity.
	beforeCommit func() error
}

// NewInMemoryStore creates an empty in-memory entity store.
func NewInMemoryStore() *InMemoryStore {
	entities := make(map[domain.Kind]map[uuid.UUID]*domain.Entity, len(domain.Kinds()))
	versions := make(map[domain.Kind]int64, len(domain.Kinds()))
	for _, kind := range domain.Kinds() {
		entities[kind] = make(map[uuid.UUID]*domain.Entity)
		versions[kind] = 0
	}
	return &InMemoryStore{entities: entities, versions: versions}
}

// SetCommitHook installs a function that runs right before a merge commits.
// Test-only: returning an error aborts the merge with the live state intact.
func (s *InMemoryStore) SetCommitHook(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeCommit = fn
}

func (s *InMemoryStore) Create(ctx context.Context, e *domain.Entity) error {
	if e == nil || !e.Kind.Valid() {
		return fmt.Errorf("invalid entity: %w", sentinel.ErrInvalidState)
	}
	if e.ID == uuid.Nil {
		return fmt.Errorf("entity id is required: %w", sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entities[e.Kind][e.ID]; exists {
		return sentinel.ErrConflict
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	s.entities[e.Kind][e.ID] = e.Clone()
	s.versions[e.Kind]++
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, kind domain.Kind, id uuid.UUID) (*domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[kind][id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *InMemoryStore) ListByKind(ctx context.Context, kind domain.Kind) ([]*domain.Entity, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !kind.Valid() {
		return nil, 0, sentinel.ErrNotFound
	}
	list := make([]*domain.Entity, 0, len(s.entities[kind]))
	for _, e := range s.entities[kind] {
		list = append(list, e.Clone())
	}
	return list, s.versions[kind], nil
}

// Snapshot copies every collection under one read lock, so the returned view
// reflects a single point in time.
func (s *InMemoryStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		TakenAt:  time.Now(),
		Versions: make(map[domain.Kind]int64, len(s.versions)),
		Entities: make(map[domain.Kind][]*domain.Entity, len(s.entities)),
	}
	for _, kind := range domain.Kinds() {
		snap.Versions[kind] = s.versions[kind]
		list := make([]*domain.Entity, 0, len(s.entities[kind]))
		for _, e := range s.entities[kind] {
			list = append(list, e.Clone())
		}
		snap.Entities[kind] = list
	}
	return snap, nil
}

// Merge stages the post-merge state first and swaps it in as the commit
// point; a failure before the swap leaves the live state untouched.
func (s *InMemoryStore) Merge(ctx context.Context, plan MergePlan) error {
	if !plan.Kind.Valid() || plan.WinnerID == uuid.Nil || len(plan.AbsorbedIDs) == 0 {
		return fmt.Errorf("invalid merge plan: %w", sentinel.ErrInvalidState)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[plan.Kind][plan.WinnerID]; !ok {
		return fmt.Errorf("merge winner %s: %w", plan.WinnerID, sentinel.ErrNotFound)
	}
	absorbed := make(map[uuid.UUID]struct{}, len(plan.AbsorbedIDs))
	for _, id := range plan.AbsorbedIDs {
		if id == plan.WinnerID {
			return fmt.Errorf("winner listed as absorbed: %w", sentinel.ErrInvalidState)
		}
		if _, ok := s.entities[plan.Kind][id]; !ok {
			return fmt.Errorf("absorbed entity %s: %w", id, sentinel.ErrNotFound)
		}
		absorbed[id] = struct{}{}
	}

	// Stage: clone affected collections, repoint references held toward
	// absorbed entities, drop the absorbed entities themselves.
	staged := make(map[domain.Kind]map[uuid.UUID]*domain.Entity, len(s.entities))
	touched := map[domain.Kind]bool{plan.Kind: true}
	for kind, collection := range s.entities {
		stagedKind := make(map[uuid.UUID]*domain.Entity, len(collection))
		for id, e := range collection {
			if kind == plan.Kind {
				if _, gone := absorbed[id]; gone {
					continue
				}
			}
			repointed := e
			for refName, target := range e.Refs {
				if _, gone := absorbed[target]; gone {
					if repointed == e {
						repointed = e.Clone()
					}
					repointed.Refs[refName] = plan.WinnerID
					touched[kind] = true
				}
			}
			stagedKind[id] = repointed
		}
		staged[kind] = stagedKind
	}

	if s.beforeCommit != nil {
		if err := s.beforeCommit(); err != nil {
			return fmt.Errorf("merge aborted: %w", err)
		}
	}

	s.entities = staged
	for kind := range touched {
		s.versions[kind]++
	}
	return nil
}
