package dedup

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"registrar/internal/audit"
	"registrar/internal/dedup/remediation"
	"registrar/internal/dedup/rules"
	"registrar/internal/dedup/scanner"
	"registrar/internal/domain"
	"registrar/internal/entity"
	"registrar/pkg/platform/sentinel"
)

type ServiceSuite struct {
	suite.Suite

	store   *entity.InMemoryStore
	trail   *audit.InMemoryStore
	service *Service
	ctx     context.Context
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

type directRecorder struct {
	store audit.Store
}

func (r directRecorder) Emit(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	return r.store.Append(ctx, entry)
}

func (s *ServiceSuite) SetupTest() {
	s.store = entity.NewInMemoryStore()
	s.trail = audit.NewInMemoryStore()
	s.ctx = context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	sc, err := scanner.New(s.store, rules.Default(), logger, nil)
	s.Require().NoError(err)
	engine, err := remediation.New(s.store, rules.Default(), logger,
		remediation.WithRecorder(directRecorder{store: s.trail}))
	s.Require().NoError(err)
	svc, err := NewService(sc, engine, logger, 0)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) create(kind domain.Kind, createdAt time.Time, fields map[string]string, refs map[string]uuid.UUID) *domain.Entity {
	e := &domain.Entity{ID: uuid.New(), Kind: kind, CreatedAt: createdAt, Fields: fields, Refs: refs}
	s.Require().NoError(s.store.Create(s.ctx, e))
	return e
}

func (s *ServiceSuite) TestFullAuditCycle() {
	base := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

	a1 := s.create(domain.KindAccount, base,
		map[string]string{domain.FieldEmail: "guardian@families.example", domain.FieldUsername: "g1"}, nil)
	a2 := s.create(domain.KindAccount, base.Add(time.Hour),
		map[string]string{domain.FieldEmail: "guardian@families.example", domain.FieldUsername: "g2"}, nil)
	a3 := s.create(domain.KindAccount, base.Add(2*time.Hour),
		map[string]string{domain.FieldEmail: "guardian@families.example", domain.FieldUsername: "g3"}, nil)

	child1 := s.create(domain.KindStudent, base,
		map[string]string{domain.FieldEmail: "c1@families.example"},
		map[string]uuid.UUID{domain.RefGuardian: a2.ID})
	child2 := s.create(domain.KindStudent, base,
		map[string]string{domain.FieldEmail: "c2@families.example"},
		map[string]uuid.UUID{domain.RefGuardian: a3.ID})

	before, err := s.service.Analyze(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, before.TotalDuplicates)
	s.Equal(1, before.CriticalCount)
	s.Equal(1, before.AutoFixableCount)

	remediated, err := s.service.AutoFix(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, remediated.Fixed)
	s.Zero(remediated.Failed)

	// Earliest account survives, the rest are absorbed.
	_, err = s.store.Get(s.ctx, domain.KindAccount, a1.ID)
	s.Require().NoError(err)
	for _, absorbed := range []uuid.UUID{a2.ID, a3.ID} {
		_, err = s.store.Get(s.ctx, domain.KindAccount, absorbed)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	}

	// Guardianship repointed to the survivor.
	for _, childID := range []uuid.UUID{child1.ID, child2.ID} {
		child, err := s.store.Get(s.ctx, domain.KindStudent, childID)
		s.Require().NoError(err)
		s.Equal(a1.ID, child.Refs[domain.RefGuardian])
	}

	// The refreshed report shows a clean state.
	after, err := s.service.Latest(s.ctx)
	s.Require().NoError(err)
	s.Zero(after.TotalDuplicates)
	s.Zero(after.CriticalCount)

	// The merge left a trail.
	entries, err := s.trail.List(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(a1.ID, entries[0].WinnerID)
	s.ElementsMatch([]uuid.UUID{a2.ID, a3.ID}, entries[0].AbsorbedIDs)
}

func (s *ServiceSuite) TestLatestScansWhenCold() {
	report, err := s.service.Latest(s.ctx)
	s.Require().NoError(err)
	s.Zero(report.TotalDuplicates)
	s.Len(report.PerKind, len(domain.Kinds()))
}

func (s *ServiceSuite) TestExportIncludesVerdicts() {
	base := time.Now().UTC()
	s.create(domain.KindAccount, base,
		map[string]string{domain.FieldEmail: "dup@families.example", domain.FieldUsername: "d1"}, nil)
	s.create(domain.KindAccount, base.Add(time.Minute),
		map[string]string{domain.FieldEmail: "dup@families.example", domain.FieldUsername: "d2"}, nil)

	_, err := s.service.AutoFix(s.ctx)
	s.Require().NoError(err)

	text, err := s.service.Export(s.ctx)
	s.Require().NoError(err)
	s.Contains(text, "no duplicates found", "post-fix rescan shows a clean state")

	// A cold service exports after scanning on demand.
	s.create(domain.KindAccount, base,
		map[string]string{domain.FieldEmail: "other@families.example", domain.FieldUsername: "o1"}, nil)
	s.create(domain.KindAccount, base,
		map[string]string{domain.FieldEmail: "other@families.example", domain.FieldUsername: "o2"}, nil)
	_, err = s.service.Analyze(s.ctx)
	s.Require().NoError(err)
	text, err = s.service.Export(s.ctx)
	s.Require().NoError(err)
	s.Contains(text, "kind=account rule=email")
}

func (s *ServiceSuite) TestInformationalGroupsSurviveAutoFix() {
	base := time.Now().UTC()
	account := uuid.New()
	s.create(domain.KindStaff, base, map[string]string{domain.FieldEmployeeID: "T-1"},
		map[string]uuid.UUID{domain.RefAccount: account, domain.RefOrganization: uuid.New()})
	s.create(domain.KindStaff, base, map[string]string{domain.FieldEmployeeID: "T-2"},
		map[string]uuid.UUID{domain.RefAccount: account, domain.RefOrganization: uuid.New()})

	remediated, err := s.service.AutoFix(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, remediated.Manual)
	s.Zero(remediated.Fixed)

	after, err := s.service.Latest(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, after.TotalDuplicates)
	s.Zero(after.CriticalCount)
}
