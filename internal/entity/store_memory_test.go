package entity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"registrar/internal/domain"
	"registrar/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
	ctx   context.Context
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ctx = context.Background()
}

func (s *InMemoryStoreSuite) account(email string, createdAt time.Time) *domain.Entity {
	return &domain.Entity{
		ID:        uuid.New(),
		Kind:      domain.KindAccount,
		CreatedAt: createdAt,
		Fields:    map[string]string{domain.FieldEmail: email},
	}
}

func (s *InMemoryStoreSuite) student(guardian uuid.UUID) *domain.Entity {
	return &domain.Entity{
		ID:        uuid.New(),
		Kind:      domain.KindStudent,
		CreatedAt: time.Now(),
		Fields:    map[string]string{domain.FieldEmail: uuid.NewString() + "@school.example"},
		Refs:      map[string]uuid.UUID{domain.RefGuardian: guardian},
	}
}

func (s *InMemoryStoreSuite) TestCreate() {
	s.Run("create bumps the collection version", func() {
		_, before, err := s.store.ListByKind(s.ctx, domain.KindAccount)
		s.Require().NoError(err)

		s.Require().NoError(s.store.Create(s.ctx, s.account("a@x.example", time.Now())))

		list, after, err := s.store.ListByKind(s.ctx, domain.KindAccount)
		s.Require().NoError(err)
		s.Len(list, 1)
		s.Equal(before+1, after)
	})

	s.Run("duplicate id rejected", func() {
		e := s.account("b@x.example", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, e))
		err := s.store.Create(s.ctx, e)
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("invalid kind rejected", func() {
		err := s.store.Create(s.ctx, &domain.Entity{ID: uuid.New(), Kind: "invoice"})
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}

func (s *InMemoryStoreSuite) TestSnapshot() {
	s.Run("snapshot is isolated from later writes", func() {
		s.Require().NoError(s.store.Create(s.ctx, s.account("snap@x.example", time.Now())))

		snap, err := s.store.Snapshot(s.ctx)
		s.Require().NoError(err)
		s.Len(snap.Entities[domain.KindAccount], 1)

		s.Require().NoError(s.store.Create(s.ctx, s.account("later@x.example", time.Now())))
		s.Len(snap.Entities[domain.KindAccount], 1)
	})

	s.Run("snapshot carries per-kind versions", func() {
		snap, err := s.store.Snapshot(s.ctx)
		s.Require().NoError(err)
		for _, kind := range domain.Kinds() {
			_, ok := snap.Versions[kind]
			s.True(ok, "missing version for %s", kind)
		}
	})
}

func (s *InMemoryStoreSuite) TestMerge() {
	s.Run("merge repoints references and deletes absorbed", func() {
		winner := s.account("dup@x.example", time.Now().Add(-time.Hour))
		loser := s.account("dup@x.example", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, winner))
		s.Require().NoError(s.store.Create(s.ctx, loser))

		child := s.student(loser.ID)
		s.Require().NoError(s.store.Create(s.ctx, child))

		err := s.store.Merge(s.ctx, MergePlan{
			Kind:        domain.KindAccount,
			WinnerID:    winner.ID,
			AbsorbedIDs: []uuid.UUID{loser.ID},
		})
		s.Require().NoError(err)

		_, err = s.store.Get(s.ctx, domain.KindAccount, loser.ID)
		s.ErrorIs(err, sentinel.ErrNotFound)

		got, err := s.store.Get(s.ctx, domain.KindStudent, child.ID)
		s.Require().NoError(err)
		s.Equal(winner.ID, got.Refs[domain.RefGuardian])
	})

	s.Run("failure before commit leaves the store unchanged", func() {
		winner := s.account("atomic@x.example", time.Now().Add(-time.Hour))
		loser := s.account("atomic@x.example", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, winner))
		s.Require().NoError(s.store.Create(s.ctx, loser))
		child := s.student(loser.ID)
		s.Require().NoError(s.store.Create(s.ctx, child))

		_, versionBefore, err := s.store.ListByKind(s.ctx, domain.KindAccount)
		s.Require().NoError(err)

		s.store.beforeCommit = func() error { return errors.New("injected failure") }
		defer func() { s.store.beforeCommit = nil }()

		err = s.store.Merge(s.ctx, MergePlan{
			Kind:        domain.KindAccount,
			WinnerID:    winner.ID,
			AbsorbedIDs: []uuid.UUID{loser.ID},
		})
		s.Error(err)

		// All members still present, no partial re-pointing.
		_, err = s.store.Get(s.ctx, domain.KindAccount, loser.ID)
		s.NoError(err)
		got, err := s.store.Get(s.ctx, domain.KindStudent, child.ID)
		s.Require().NoError(err)
		s.Equal(loser.ID, got.Refs[domain.RefGuardian])

		_, versionAfter, err := s.store.ListByKind(s.ctx, domain.KindAccount)
		s.Require().NoError(err)
		s.Equal(versionBefore, versionAfter)
	})

	s.Run("missing absorbed entity rejected", func() {
		winner := s.account("missing@x.example", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, winner))

		err := s.store.Merge(s.ctx, MergePlan{
			Kind:        domain.KindAccount,
			WinnerID:    winner.ID,
			AbsorbedIDs: []uuid.UUID{uuid.New()},
		})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("winner listed as absorbed rejected", func() {
		winner := s.account("self@x.example", time.Now())
		s.Require().NoError(s.store.Create(s.ctx, winner))

		err := s.store.Merge(s.ctx, MergePlan{
			Kind:        domain.KindAccount,
			WinnerID:    winner.ID,
			AbsorbedIDs: []uuid.UUID{winner.ID},
		})
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})
}
