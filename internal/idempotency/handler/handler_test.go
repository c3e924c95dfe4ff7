package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"registrar/internal/entity"
	"registrar/internal/idempotency"
	"registrar/internal/platform/config"
	"registrar/internal/platform/middleware"
)

type fakeValidator struct{}

func (fakeValidator) ValidateToken(token string) (*middleware.JWTClaims, error) {
	if token == "clerk-token" {
		return &middleware.JWTClaims{ActorID: "clerk-1", Role: "registrar"}, nil
	}
	return nil, fmt.Errorf("bad token")
}

type WritesSuite struct {
	suite.Suite

	store  *entity.InMemoryStore
	server *httptest.Server
}

func TestWritesSuite(t *testing.T) {
	suite.Run(t, new(WritesSuite))
}

func (s *WritesSuite) SetupTest() {
	s.store = entity.NewInMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	engine := idempotency.NewEngine()
	for name, fields := range entity.FingerprintFields() {
		s.Require().NoError(engine.RegisterOperation(name, fields...))
	}
	guard, err := idempotency.NewGuard(engine, idempotency.NewInMemoryStore(), logger, nil, config.IdempotencyConfig{
		TTL:          24 * time.Hour,
		WaitTimeout:  time.Second,
		PollInterval: 10 * time.Millisecond,
	})
	s.Require().NoError(err)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	New(guard, entity.Operations(s.store), logger, fakeValidator{}).Register(r)
	s.server = httptest.NewServer(r)
}

func (s *WritesSuite) TearDownTest() {
	s.server.Close()
}

func (s *WritesSuite) submit(token string, body map[string]any) *http.Response {
	raw, err := json.Marshal(body)
	s.Require().NoError(err)
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/writes/", bytes.NewReader(raw))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *WritesSuite) createAccountRequest(email string) map[string]any {
	return map[string]any{
		"operation": "create_account",
		"payload": map[string]any{
			"email":    email,
			"username": "mbarga",
		},
	}
}

func (s *WritesSuite) TestCreateThenReplay() {
	first := s.submit("clerk-token", s.createAccountRequest("m@families.example"))
	defer first.Body.Close()
	s.Require().Equal(http.StatusCreated, first.StatusCode)

	var firstBody struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	s.Require().NoError(json.NewDecoder(first.Body).Decode(&firstBody))
	s.Equal("completed", firstBody.Status)

	second := s.submit("clerk-token", s.createAccountRequest("m@families.example"))
	defer second.Body.Close()
	s.Require().Equal(http.StatusOK, second.StatusCode)

	var secondBody struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
	}
	s.Require().NoError(json.NewDecoder(second.Body).Decode(&secondBody))
	s.Equal("replayed", secondBody.Status)
	s.JSONEq(string(firstBody.Result), string(secondBody.Result))

	// Exactly one account exists.
	accounts, _, err := s.store.ListByKind(s.T().Context(), "account")
	s.Require().NoError(err)
	s.Len(accounts, 1)
}

func (s *WritesSuite) TestDistinctPayloadsBothExecute() {
	first := s.submit("clerk-token", s.createAccountRequest("a@families.example"))
	first.Body.Close()
	second := s.submit("clerk-token", s.createAccountRequest("b@families.example"))
	second.Body.Close()
	s.Equal(http.StatusCreated, first.StatusCode)
	s.Equal(http.StatusCreated, second.StatusCode)

	accounts, _, err := s.store.ListByKind(s.T().Context(), "account")
	s.Require().NoError(err)
	s.Len(accounts, 2)
}

func (s *WritesSuite) TestUnknownOperation() {
	resp := s.submit("clerk-token", map[string]any{"operation": "delete_everything", "payload": map[string]any{}})
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *WritesSuite) TestMalformedBody() {
	req, err := http.NewRequest(http.MethodPost, s.server.URL+"/writes/", bytes.NewReader([]byte("{not json")))
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer clerk-token")
	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)
}

func (s *WritesSuite) TestRequiresAuth() {
	resp := s.submit("", s.createAccountRequest("x@families.example"))
	defer resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *WritesSuite) TestFailedOperationNotCachedAndRetryable() {
	body := map[string]any{
		"operation": "create_student",
		"payload": map[string]any{
			"email":    "child@families.example",
			"class_id": "not-a-uuid",
		},
	}
	first := s.submit("clerk-token", body)
	defer first.Body.Close()
	s.Equal(http.StatusBadRequest, first.StatusCode)

	// The fingerprint was released; a corrected retry executes.
	body["payload"].(map[string]any)["class_id"] = "11111111-1111-1111-1111-111111111111"
	second := s.submit("clerk-token", body)
	defer second.Body.Close()
	s.Equal(http.StatusCreated, second.StatusCode)
}
