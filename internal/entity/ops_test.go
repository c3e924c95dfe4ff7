package entity

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"registrar/internal/domain"
	dErrors "registrar/pkg/domain-errors"
)

type OperationsSuite struct {
	suite.Suite
	store *InMemoryStore
	ops   map[string]OperationFunc
	ctx   context.Context
}

func TestOperationsSuite(t *testing.T) {
	suite.Run(t, new(OperationsSuite))
}

func (s *OperationsSuite) SetupTest() {
	s.store = NewInMemoryStore()
	s.ops = Operations(s.store)
	s.ctx = context.Background()
}

func (s *OperationsSuite) created(raw json.RawMessage) *domain.Entity {
	var out struct {
		ID   string `json:"id"`
		Kind string `json:"kind"`
	}
	s.Require().NoError(json.Unmarshal(raw, &out))
	id, err := uuid.Parse(out.ID)
	s.Require().NoError(err)
	e, err := s.store.Get(s.ctx, domain.Kind(out.Kind), id)
	s.Require().NoError(err)
	return e
}

func (s *OperationsSuite) TestCreateStoresIdentityFields() {
	raw, err := s.ops["create_account"](s.ctx, map[string]any{
		domain.FieldEmail:    "amina@families.example",
		domain.FieldUsername: "amina",
	})
	s.Require().NoError(err)

	e := s.created(raw)
	s.Equal("amina@families.example", e.Field(domain.FieldEmail))
	s.Equal("amina", e.Field(domain.FieldUsername))
}

// Handlers decode request bodies with UseNumber, so a numeric roll number
// arrives as json.Number. Its JSON text must end up on the stored record,
// not be dropped.
func (s *OperationsSuite) TestNumericRollNumberIsStored() {
	raw, err := s.ops["create_student"](s.ctx, map[string]any{
		domain.FieldEmail:      "kofi@school.example",
		domain.FieldRollNumber: json.Number("12"),
	})
	s.Require().NoError(err)

	e := s.created(raw)
	s.Equal("12", e.Field(domain.FieldRollNumber))
}

func (s *OperationsSuite) TestStructuredIdentityFieldRejected() {
	s.Run("array value", func() {
		_, err := s.ops["create_account"](s.ctx, map[string]any{
			domain.FieldEmail: []any{"a@x.example"},
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
	})

	s.Run("boolean value", func() {
		_, err := s.ops["create_student"](s.ctx, map[string]any{
			domain.FieldEmail:      "kofi@school.example",
			domain.FieldRollNumber: true,
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))

		list, _, listErr := s.store.ListByKind(s.ctx, domain.KindStudent)
		s.Require().NoError(listErr)
		s.Empty(list, "rejected payload must not create a record")
	})
}

func (s *OperationsSuite) TestMalformedReferenceRejected() {
	_, err := s.ops["create_class"](s.ctx, map[string]any{
		domain.FieldName:       "CM2-A",
		domain.FieldLevel:      "cm2",
		domain.RefOrganization: "not-a-uuid",
	})
	s.Require().Error(err)
	s.Equal(dErrors.CodeBadRequest, dErrors.CodeOf(err))
}
